package ledger

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// fileV1 is the on-disk layout of livedata.yaml. Timestamps are epoch milliseconds.
type fileV1 struct {
	NextResetTime     int64            `yaml:"nextResetTime"`
	Lives             map[string]int   `yaml:"lives"`
	RevivalTimestamps map[string]int64 `yaml:"revivalTimestamps"`
}

// rawFileV1 defers decoding of each value so one bad entry does not spoil the rest.
type rawFileV1 struct {
	NextResetTime     yaml.Node            `yaml:"nextResetTime"`
	Lives             map[string]yaml.Node `yaml:"lives"`
	RevivalTimestamps map[string]yaml.Node `yaml:"revivalTimestamps"`
}

// Load replaces the in-memory state with the persisted file. A missing or unreadable file
// leaves an empty ledger, and an undecodable one is renamed aside first; bad entries are
// skipped with a warning.
func (l *Ledger) Load() {
	now := l.now()

	lives := map[uuid.UUID]int{}
	locks := map[uuid.UUID]time.Time{}
	var next time.Time

	raw, err := l.read()
	switch {
	case err != nil && os.IsNotExist(err):
		l.log.Info("no ledger file yet", zap.String("path", l.path))
	case errors.Is(err, errCorrupt):
		// Keep the operator's file; the next save would overwrite it.
		aside := l.setAside(now)
		l.log.Error("unreadable ledger moved aside; starting empty",
			zap.String("path", l.path),
			zap.String("moved_to", aside),
			zap.Error(err),
		)
	case err != nil:
		l.log.Error("read ledger", zap.String("path", l.path), zap.Error(err))
	default:
		if raw.NextResetTime.Kind != 0 {
			var ms int64
			if err := raw.NextResetTime.Decode(&ms); err != nil {
				l.log.Warn("bad nextResetTime in ledger", zap.Error(err))
			} else if ms > 0 {
				next = time.UnixMilli(ms)
			}
		}
		for key, node := range raw.Lives {
			id, err := uuid.Parse(key)
			if err != nil {
				l.log.Warn("invalid participant id in ledger", zap.String("section", "lives"), zap.String("id", key))
				continue
			}
			var n int
			if err := node.Decode(&n); err != nil {
				l.log.Warn("invalid lives value in ledger", zap.String("id", key), zap.Error(err))
				continue
			}
			lives[id] = clamp(n)
		}
		for key, node := range raw.RevivalTimestamps {
			id, err := uuid.Parse(key)
			if err != nil {
				l.log.Warn("invalid participant id in ledger", zap.String("section", "revivalTimestamps"), zap.String("id", key))
				continue
			}
			var ms int64
			if err := node.Decode(&ms); err != nil {
				l.log.Warn("invalid revival timestamp in ledger", zap.String("id", key), zap.Error(err))
				continue
			}
			locks[id] = time.UnixMilli(ms)
		}
	}

	// A stale reset instant restarts the cadence from now rather than firing at once.
	if !next.After(now) {
		next = now.Add(l.period)
	}

	l.mu.Lock()
	l.lives = lives
	l.locks = locks
	l.nextReset = next
	l.marks = map[string]struct{}{}
	l.mu.Unlock()

	l.log.Info("ledger loaded",
		zap.Int("participants", len(lives)),
		zap.Int("locked", len(locks)),
		zap.Time("next_reset", next),
	)
}

func (l *Ledger) read() (rawFileV1, error) {
	var raw rawFileV1
	if l.path == "" {
		return raw, os.ErrNotExist
	}
	b, err := os.ReadFile(l.path)
	if err != nil {
		return raw, err
	}
	if err := yaml.Unmarshal(b, &raw); err != nil {
		return raw, errors.Mark(errors.Wrapf(err, "decode %s", filepath.Base(l.path)), errCorrupt)
	}
	return raw, nil
}

var errCorrupt = errors.New("corrupt ledger file")

// setAside renames the ledger file to <path>.corrupt-<unix ms> and returns the new name, or ""
// when the rename failed.
func (l *Ledger) setAside(now time.Time) string {
	aside := l.path + ".corrupt-" + strconv.FormatInt(now.UnixMilli(), 10)
	if err := os.Rename(l.path, aside); err != nil {
		l.log.Error("move unreadable ledger aside", zap.String("path", l.path), zap.Error(err))
		return ""
	}
	return aside
}

// Save rewrites the whole file through a temp file and rename.
func (l *Ledger) Save() error {
	if l.path == "" {
		return nil
	}
	l.saveMu.Lock()
	defer l.saveMu.Unlock()

	doc := l.snapshot()
	b, err := yaml.Marshal(&doc)
	if err != nil {
		return errors.Wrap(err, "encode ledger")
	}
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return errors.Wrap(err, "create ledger dir")
	}
	tmp := l.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return errors.Wrap(err, "write ledger")
	}
	if err := os.Rename(tmp, l.path); err != nil {
		return errors.Wrap(err, "replace ledger")
	}
	return nil
}

func (l *Ledger) snapshot() fileV1 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	doc := fileV1{
		NextResetTime:     l.nextReset.UnixMilli(),
		Lives:             make(map[string]int, len(l.lives)),
		RevivalTimestamps: make(map[string]int64, len(l.locks)),
	}
	for id, n := range l.lives {
		doc.Lives[id.String()] = n
	}
	for id, ts := range l.locks {
		doc.RevivalTimestamps[id.String()] = ts.UnixMilli()
	}
	return doc
}
