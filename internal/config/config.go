// Package config loads settings.yaml, checks it against the embedded schema and applies
// LIFELINE_* environment overrides.
package config

import (
	_ "embed"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/cockroachdb/errors"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

const EnvPrefix = "LIFELINE_"

var ErrInvalid = errors.New("invalid settings")

//go:embed settings.schema.json
var schemaJSON string

var schema = jsonschema.MustCompileString("settings.schema.json", schemaJSON)

type Config struct {
	DeathLimit       int    `yaml:"death_limit" env:"DEATH_LIMIT"`
	RevivalTimeHours int    `yaml:"revival_time_hours" env:"REVIVAL_TIME_HOURS"`
	SpawnRange       int    `yaml:"spawn_range" env:"SPAWN_RANGE"`
	HomeWorld        string `yaml:"home_world" env:"HOME_WORLD"`

	MaxAttempts  int           `yaml:"max_attempts" env:"MAX_ATTEMPTS"`
	WelcomeDelay time.Duration `yaml:"welcome_delay" env:"WELCOME_DELAY"`

	SweepInterval    time.Duration `yaml:"sweep_interval" env:"SWEEP_INTERVAL"`
	AnnounceInterval time.Duration `yaml:"announce_interval" env:"ANNOUNCE_INTERVAL"`
	ResetPeriod      time.Duration `yaml:"reset_period" env:"RESET_PERIOD"`

	DataDir          string        `yaml:"data_dir" env:"DATA_DIR"`
	ListenAddr       string        `yaml:"listen_addr" env:"LISTEN_ADDR"`
	WorldSeed        int64         `yaml:"world_seed" env:"WORLD_SEED"`
	ChunkLoadLatency time.Duration `yaml:"chunk_load_latency" env:"CHUNK_LOAD_LATENCY"`
	AffinityWorkers  int           `yaml:"affinity_workers" env:"AFFINITY_WORKERS"`

	// IndexBackend is "sqlite" or "none".
	IndexBackend string `yaml:"index_backend" env:"INDEX_BACKEND"`
	AdminHTTP    bool   `yaml:"admin_http" env:"ADMIN_HTTP"`
	PprofHTTP    bool   `yaml:"pprof_http" env:"PPROF_HTTP"`

	LogLevel  string `yaml:"log_level" env:"LOG_LEVEL"`
	LogFormat string `yaml:"log_format" env:"LOG_FORMAT"`
}

func Defaults() Config {
	return Config{
		DeathLimit:       3,
		RevivalTimeHours: 1,
		SpawnRange:       10000,
		HomeWorld:        "world",
		MaxAttempts:      10,
		WelcomeDelay:     2 * time.Second,
		SweepInterval:    time.Second,
		AnnounceInterval: time.Minute,
		ResetPeriod:      7 * 24 * time.Hour,
		DataDir:          "data",
		ListenAddr:       ":8080",
		WorldSeed:        1337,
		AffinityWorkers:  64,
		IndexBackend:     "sqlite",
		AdminHTTP:        true,
		LogLevel:         "info",
		LogFormat:        "json",
	}
}

// Load reads path over the defaults. A missing file leaves the defaults in place; environment
// overrides apply either way.
func Load(path string) (Config, error) {
	cfg := Defaults()
	if strings.TrimSpace(path) != "" {
		b, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
		case err != nil:
			return cfg, errors.Wrapf(err, "read %s", path)
		default:
			if err := decode(b, &cfg); err != nil {
				return cfg, errors.Wrapf(err, "%s", filepath.Base(path))
			}
		}
	}
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return cfg, errors.Wrap(err, "parse env")
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func decode(b []byte, cfg *Config) error {
	var raw any
	if err := yaml.Unmarshal(b, &raw); err != nil {
		return errors.Wrap(err, "parse yaml")
	}
	if raw == nil {
		return nil
	}
	// The schema validator wants JSON-shaped values.
	j, err := json.Marshal(raw)
	if err != nil {
		return errors.Wrap(err, "convert to json")
	}
	var doc any
	if err := json.Unmarshal(j, &doc); err != nil {
		return errors.Wrap(err, "convert to json")
	}
	if err := schema.Validate(doc); err != nil {
		return errors.Mark(errors.Wrap(err, "schema"), ErrInvalid)
	}
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return errors.Wrap(err, "decode settings")
	}
	return nil
}

func (c *Config) Normalize() {
	if c == nil {
		return
	}
	c.HomeWorld = strings.TrimSpace(c.HomeWorld)
	if c.HomeWorld == "" {
		c.HomeWorld = "world"
	}
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	c.LogFormat = strings.ToLower(strings.TrimSpace(c.LogFormat))
	c.IndexBackend = strings.ToLower(strings.TrimSpace(c.IndexBackend))
	switch c.IndexBackend {
	case "", "off", "disabled":
		c.IndexBackend = "none"
	}
	if c.DataDir == "" {
		c.DataDir = "data"
	}
	if c.SpawnRange < 0 {
		c.SpawnRange = 0
	}
	if c.ChunkLoadLatency < 0 {
		c.ChunkLoadLatency = 0
	}
}

func (c Config) Validate() error {
	switch {
	case c.DeathLimit < 0:
		return errors.Wrapf(ErrInvalid, "death_limit must be >= 0, got %d", c.DeathLimit)
	case c.RevivalTimeHours < 1:
		return errors.Wrapf(ErrInvalid, "revival_time_hours must be >= 1, got %d", c.RevivalTimeHours)
	case c.MaxAttempts < 1:
		return errors.Wrapf(ErrInvalid, "max_attempts must be >= 1, got %d", c.MaxAttempts)
	case c.SweepInterval <= 0:
		return errors.Wrapf(ErrInvalid, "sweep_interval must be positive")
	case c.AnnounceInterval <= 0:
		return errors.Wrapf(ErrInvalid, "announce_interval must be positive")
	case c.ResetPeriod < time.Hour:
		return errors.Wrapf(ErrInvalid, "reset_period must be at least 1h, got %s", c.ResetPeriod)
	case c.WelcomeDelay < 0:
		return errors.Wrapf(ErrInvalid, "welcome_delay must be >= 0")
	case c.AffinityWorkers < 1:
		return errors.Wrapf(ErrInvalid, "affinity_workers must be >= 1, got %d", c.AffinityWorkers)
	}
	switch c.LogFormat {
	case "json", "console":
	default:
		return errors.Wrapf(ErrInvalid, "log_format %q", c.LogFormat)
	}
	switch c.IndexBackend {
	case "sqlite", "none":
	default:
		return errors.Wrapf(ErrInvalid, "index_backend %q", c.IndexBackend)
	}
	return nil
}

func (c Config) RevivalTime() time.Duration {
	return time.Duration(c.RevivalTimeHours) * time.Hour
}

func (c Config) LedgerPath() string  { return filepath.Join(c.DataDir, "livedata.yaml") }
func (c Config) AuditDir() string    { return filepath.Join(c.DataDir, "audit") }
func (c Config) IndexPath() string   { return filepath.Join(c.DataDir, "index", "events.sqlite") }
func (c Config) ArchiveRoot() string { return filepath.Join(c.DataDir, "archives") }
