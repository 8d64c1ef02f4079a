package main

import (
	"context"
	"flag"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/joho/godotenv"
	"github.com/sourcegraph/conc"
	"go.uber.org/zap"

	"lifeline.ai/internal/affinity"
	"lifeline.ai/internal/command"
	"lifeline.ai/internal/config"
	"lifeline.ai/internal/events"
	"lifeline.ai/internal/ledger"
	"lifeline.ai/internal/lifecycle"
	"lifeline.ai/internal/logging"
	"lifeline.ai/internal/persistence/archive"
	persistlog "lifeline.ai/internal/persistence/log"
	"lifeline.ai/internal/placement"
	"lifeline.ai/internal/protocol"
	"lifeline.ai/internal/scheduler"
	"lifeline.ai/internal/sim/roster"
	"lifeline.ai/internal/sim/terrain"
	"lifeline.ai/internal/transport/ws"
)

func main() {
	var (
		configPath = flag.String("config", "./configs/settings.yaml", "settings file (missing file means defaults)")
		envFile    = flag.String("env", ".env", "dotenv file loaded before settings (optional)")
	)
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		_, _ = os.Stderr.WriteString("load " + *envFile + ": " + err.Error() + "\n")
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		_, _ = os.Stderr.WriteString("load settings: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger := logging.New(cfg.LogLevel, cfg.LogFormat)
	defer func() { _ = logger.Sync() }()

	ctx, cancel := signalContext()
	defer cancel()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}

// runtime holds everything the HTTP surface reports on.
type runtime struct {
	cfg    config.Config
	ledger *ledger.Ledger
	index  indexBackend
	ws     *ws.Server
	land   *terrain.Terrain
	roster *roster.Roster
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	led := ledger.New(ledger.Options{
		Path:         cfg.LedgerPath(),
		DefaultLives: cfg.DeathLimit,
		ResetPeriod:  cfg.ResetPeriod,
		Logger:       logger.Named("ledger"),
	})
	led.Load()
	defer func() {
		if err := led.Save(); err != nil {
			logger.Error("final ledger save", zap.Error(err))
		}
	}()

	audit := persistlog.NewAuditLogger(cfg.AuditDir())
	defer audit.Close()

	idx, err := openIndex(cfg)
	if err != nil {
		return errors.Wrap(err, "open index backend")
	}
	defer idx.Close()
	sinks := events.Multi{audit, idx}

	lanes, err := affinity.New(cfg.AffinityWorkers, logger.Named("affinity"))
	if err != nil {
		return err
	}
	defer lanes.Close()

	land := terrain.New(terrain.Config{
		Name:        cfg.HomeWorld,
		Seed:        cfg.WorldSeed,
		LoadLatency: cfg.ChunkLoadLatency,
		MaxLoaded:   4096,
	})
	host := roster.New(land, logger)

	placer := placement.NewOrchestrator(placement.Options{
		Host:   host,
		Finder: placement.NewFinder(time.Now().UnixNano()),
		Lanes:  lanes,
		Config: placement.Config{
			Radius:       cfg.SpawnRange,
			MaxAttempts:  cfg.MaxAttempts,
			WelcomeDelay: cfg.WelcomeDelay,
		},
		Logger: logger.Named("placement"),
		Events: sinks,
	})

	arch := archive.New(cfg.ArchiveRoot(), func(meta archive.WeekArchiveMeta, dir string) {
		idx.RecordWeek(weekRow(meta, dir))
		logger.Info("week archived", zap.String("week", meta.Week), zap.String("dir", dir))
	})

	machine := lifecycle.New(lifecycle.Options{
		Ledger:   led,
		Host:     host,
		Placer:   placer,
		Lanes:    lanes,
		Events:   sinks,
		Archiver: arch,
		Config:   lifecycle.Config{RevivalTime: cfg.RevivalTime()},
		Logger:   logger.Named("lifecycle"),
	})

	sched := scheduler.New(scheduler.Options{
		Ledger:    led,
		Lifecycle: machine,
		Messenger: host,
		Config: scheduler.Config{
			SweepInterval:    cfg.SweepInterval,
			AnnounceInterval: cfg.AnnounceInterval,
		},
		Logger: logger.Named("scheduler"),
	})

	cmds := command.NewDispatcher(machine, host, roster.IDFor, logger.Named("command"))
	wsSrv := ws.NewServer(host, machine, cmds, protocol.WorldParams{
		Name:        cfg.HomeWorld,
		Seed:        cfg.WorldSeed,
		SpawnRange:  cfg.SpawnRange,
		DeathLimit:  cfg.DeathLimit,
		RevivalSecs: int64(cfg.RevivalTime() / time.Second),
	}, logger)

	rt := &runtime{cfg: cfg, ledger: led, index: idx, ws: wsSrv, land: land, roster: host}
	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           rt.mux(logger),
		ReadHeaderTimeout: 5 * time.Second,
	}

	var wg conc.WaitGroup
	wg.Go(func() {
		if err := sched.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("scheduler stopped", zap.Error(err))
		}
	})
	wg.Go(func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	})

	logger.Info("listening",
		zap.String("addr", cfg.ListenAddr),
		zap.String("world", cfg.HomeWorld),
		zap.Time("next_reset", led.NextReset()),
	)
	serveErr := srv.ListenAndServe()
	if errors.Is(serveErr, http.ErrServerClosed) {
		serveErr = nil
	}
	// Stop the scheduler and the shutdown watcher even when Listen failed.
	cancel()
	wg.Wait()
	return serveErr
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}
