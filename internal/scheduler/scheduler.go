// Package scheduler drives the weekly reset, the reset countdown and the lock sweep from one
// goroutine.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/sourcegraph/conc/panics"
	"go.uber.org/zap"

	"lifeline.ai/internal/ledger"
	"lifeline.ai/internal/logging"
	"lifeline.ai/internal/world"
)

const (
	DefaultSweepInterval    = time.Second
	DefaultAnnounceInterval = time.Minute
)

// Minute marks announced in the final hour.
var minuteMarks = []int64{30, 15, 5, 1}

type Lifecycle interface {
	OnWeeklyReset(now time.Time) (ledger.Reset, bool)
	OnLockSweep(now time.Time) int
}

type Config struct {
	SweepInterval    time.Duration
	AnnounceInterval time.Duration
}

type Options struct {
	Ledger    *ledger.Ledger
	Lifecycle Lifecycle
	Messenger world.Messenger
	Config    Config
	Logger    *zap.Logger
	Now       func() time.Time
}

type Scheduler struct {
	ledger *ledger.Ledger
	lc     Lifecycle
	msg    world.Messenger
	cfg    Config
	log    *zap.Logger
	now    func() time.Time
}

func New(opts Options) *Scheduler {
	cfg := opts.Config
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultSweepInterval
	}
	if cfg.AnnounceInterval <= 0 {
		cfg.AnnounceInterval = DefaultAnnounceInterval
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Scheduler{
		ledger: opts.Ledger,
		lc:     opts.Lifecycle,
		msg:    opts.Messenger,
		cfg:    cfg,
		log:    logging.OrNop(opts.Logger),
		now:    opts.Now,
	}
}

// Run blocks until ctx is done. The reset timer is always re-armed from the ledger's persisted
// next reset time, never from the previous firing.
func (s *Scheduler) Run(ctx context.Context) error {
	reset := time.NewTimer(s.untilReset())
	defer reset.Stop()
	sweep := time.NewTicker(s.cfg.SweepInterval)
	defer sweep.Stop()
	announce := time.NewTicker(s.cfg.AnnounceInterval)
	defer announce.Stop()

	s.log.Info("scheduler started",
		zap.Time("next_reset", s.ledger.NextReset()),
		zap.Duration("sweep", s.cfg.SweepInterval),
		zap.Duration("announce", s.cfg.AnnounceInterval),
	)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-reset.C:
			s.guard("reset", func() { s.Reset(s.now()) })
			reset.Reset(s.untilReset())
		case <-sweep.C:
			s.guard("sweep", func() { s.Sweep(s.now()) })
		case <-announce.C:
			s.guard("announce", func() { s.Announce(s.now()) })
		}
	}
}

func (s *Scheduler) Reset(now time.Time) bool {
	_, ok := s.lc.OnWeeklyReset(now)
	return ok
}

func (s *Scheduler) Sweep(now time.Time) int {
	return s.lc.OnLockSweep(now)
}

// Announce broadcasts the countdown to the next reset. Above an hour it speaks once per
// distinct (day, hour); inside the last hour only at the minute marks. It reports whether
// anything was said.
func (s *Scheduler) Announce(now time.Time) bool {
	remaining := s.ledger.NextReset().Sub(now)
	if remaining <= 0 {
		return false
	}
	minutes := int64(remaining / time.Minute)

	if minutes > 60 {
		days := int64(remaining / (24 * time.Hour))
		hours := int64(remaining/time.Hour) % 24
		if !s.ledger.MarkAnnounced(fmt.Sprintf("dh:%d:%d", days, hours)) {
			return false
		}
		s.msg.Broadcast(fmt.Sprintf("ライフリセットまで残り %d日 %d時間 です！ /checklives で現在のライフを確認できます。", days, hours))
		s.msg.Broadcast(reviveHint)
		return true
	}

	for _, mark := range minuteMarks {
		if minutes != mark {
			continue
		}
		if !s.ledger.MarkAnnounced(fmt.Sprintf("m:%d", mark)) {
			return false
		}
		s.msg.Broadcast(fmt.Sprintf("ライフリセットまで残り %d分 です！", mark))
		s.msg.Broadcast(reviveHint)
		return true
	}
	return false
}

const reviveHint = "(ライフ0の方は「/checkrevive」で復活までの時間を確認できます！)"

func (s *Scheduler) untilReset() time.Duration {
	d := s.ledger.NextReset().Sub(s.now())
	if d < 0 {
		return 0
	}
	return d
}

// guard keeps one failing tick from stopping the timeline.
func (s *Scheduler) guard(task string, f func()) {
	var pc panics.Catcher
	pc.Try(f)
	if r := pc.Recovered(); r != nil {
		s.log.Error("scheduler task panicked", zap.String("task", task), zap.Error(r.AsError()))
	}
}
