// Package lifecycle moves participants between the active and locked states: deaths spend
// lives, an exhausted participant observes until the lock expires, and the weekly reset restores
// everyone.
package lifecycle

import (
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"lifeline.ai/internal/affinity"
	"lifeline.ai/internal/events"
	"lifeline.ai/internal/ledger"
	"lifeline.ai/internal/logging"
	"lifeline.ai/internal/placement"
	"lifeline.ai/internal/world"
)

// Archiver keeps a copy of the ledger file as it stood before a weekly reset.
type Archiver interface {
	ArchiveWeek(ledgerPath string, at time.Time, s ledger.Stats) error
}

type Config struct {
	// RevivalTime is how long an exhausted participant stays locked.
	RevivalTime time.Duration
}

type Options struct {
	Ledger   *ledger.Ledger
	Host     world.Host
	Placer   *placement.Orchestrator
	Lanes    *affinity.Queue
	Events   events.Sink
	Archiver Archiver
	Config   Config
	Logger   *zap.Logger
	Now      func() time.Time
}

type Machine struct {
	ledger   *ledger.Ledger
	host     world.Host
	placer   *placement.Orchestrator
	lanes    *affinity.Queue
	sink     events.Sink
	archiver Archiver
	cfg      Config
	log      *zap.Logger
	now      func() time.Time
}

func New(opts Options) *Machine {
	if opts.Events == nil {
		opts.Events = events.Discard{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Config.RevivalTime <= 0 {
		opts.Config.RevivalTime = time.Hour
	}
	return &Machine{
		ledger:   opts.Ledger,
		host:     opts.Host,
		placer:   opts.Placer,
		lanes:    opts.Lanes,
		sink:     opts.Events,
		archiver: opts.Archiver,
		cfg:      opts.Config,
		log:      logging.OrNop(opts.Logger),
		now:      opts.Now,
	}
}

func (m *Machine) Ledger() *ledger.Ledger { return m.ledger }

// OnJoin handles a login. A first sighting gets default lives and a random first placement;
// a returning participant is respawned if needed and has its lock state reconciled.
func (m *Machine) OnJoin(id uuid.UUID) {
	now := m.now()
	name := m.host.Name(id)
	lives, created := m.ledger.Touch(id)
	m.record(events.Event{Kind: events.KindJoin, Participant: id.String(), Name: name, Lives: lives})

	if created {
		m.log.Info("first join", zap.Stringer("participant", id), zap.String("name", name))
		m.placer.Relocate(id, placement.FirstJoin{})
		return
	}

	if m.host.IsDead(id) {
		m.log.Info("joined while dead; respawning", zap.Stringer("participant", id), zap.String("name", name))
		m.onLane(id, func() { m.host.Respawn(id) })
		m.placer.Relocate(id, placement.Respawn{})
	}

	if lives > 0 {
		// Lives were restored while the participant was away.
		if mode, ok := m.host.Mode(id); ok && mode == world.ModeSpectator {
			m.ledger.ClearLockExpiry(id)
			m.release(id, name, "login")
		}
		return
	}

	if m.ledger.ReleaseIfExpired(id, now) {
		m.release(id, name, "login")
		return
	}
	if expiry := now.Add(m.cfg.RevivalTime); m.ledger.ArmLock(id, expiry) {
		m.log.Warn("exhausted participant had no lock; arming one", zap.Stringer("participant", id))
		m.record(events.Event{
			Kind:        events.KindLock,
			Participant: id.String(),
			Name:        name,
			Detail:      expiry.UTC().Format(time.RFC3339),
		})
	}
	m.onLane(id, func() {
		if mode, ok := m.host.Mode(id); ok && mode != world.ModeSpectator {
			m.observe(id)
			m.host.Send(id, msgStillLocked)
			m.host.Send(id, msgStillLockedTip)
		}
	})
}

// OnDeath spends one life, locks the participant when none remain and respawns them at a random
// point of the home world.
func (m *Machine) OnDeath(id uuid.UUID) ledger.Death {
	now := m.now()
	name := m.host.Name(id)
	d := m.ledger.RecordDeath(id, now, m.cfg.RevivalTime)

	m.host.Broadcast(deathMessage(name, d.Lives))
	m.record(events.Event{Kind: events.KindDeath, Participant: id.String(), Name: name, Lives: d.Lives})
	m.log.Info("death", zap.Stringer("participant", id), zap.String("name", name), zap.Int("lives", d.Lives))

	if d.Locked {
		m.record(events.Event{
			Kind:        events.KindLock,
			Participant: id.String(),
			Name:        name,
			Detail:      d.Expiry.UTC().Format(time.RFC3339),
		})
	}
	m.onLane(id, func() {
		if d.Locked {
			m.observe(id)
			m.host.Send(id, msgExhausted)
			m.host.Send(id, msgReviveHint)
		}
		if m.host.IsDead(id) {
			m.host.Respawn(id)
		}
	})
	m.placer.Relocate(id, placement.Respawn{})
	return d
}

// OnAdminAdjust resets target to the default lives when delta is nil and adds delta otherwise.
// A positive result ends any lock at once; a result of zero locks the target unless a lock is
// already pending.
func (m *Machine) OnAdminAdjust(target uuid.UUID, delta *int) ledger.Adjustment {
	now := m.now()
	name := m.host.Name(target)
	a := m.ledger.Adjust(target, delta, now, m.cfg.RevivalTime)

	detail := "reset"
	if delta != nil {
		detail = "delta"
	}
	m.record(events.Event{Kind: events.KindAdjust, Participant: target.String(), Name: name, Lives: a.After, Detail: detail})
	m.log.Info("lives adjusted",
		zap.Stringer("participant", target),
		zap.Int("before", a.Before),
		zap.Int("after", a.After),
	)

	_, online := m.host.Mode(target)
	switch {
	case a.Unlocked && online:
		m.release(target, name, "adjust")
	case a.Armed:
		m.record(events.Event{
			Kind:        events.KindLock,
			Participant: target.String(),
			Name:        name,
			Detail:      a.Expiry.UTC().Format(time.RFC3339),
		})
		if online {
			m.onLane(target, func() {
				m.observe(target)
				m.host.Send(target, msgExhausted)
				m.host.Send(target, msgReviveHint)
			})
		}
	}
	return a
}

// OnWeeklyReset restores every participant and releases online participants whose lock it
// cleared. It reports false when
// the reset is not due yet, which makes a repeated call at the same instant a no-op.
func (m *Machine) OnWeeklyReset(now time.Time) (ledger.Reset, bool) {
	if !m.ledger.Due(now) {
		return ledger.Reset{}, false
	}
	if m.archiver != nil {
		if err := m.archiver.ArchiveWeek(m.ledger.Path(), now, m.ledger.Stats()); err != nil {
			m.log.Error("archive week", zap.Error(err))
		}
	}
	r, ok := m.ledger.ResetWeek(now)
	if !ok {
		return r, false
	}

	m.host.Broadcast(msgWeeklyReset)
	m.log.Info("weekly reset",
		zap.Int("participants", r.Participants),
		zap.Int("unlocked", len(r.Unlocked)),
		zap.Time("next", r.Next),
	)
	m.record(events.Event{Kind: events.KindReset, Lives: m.ledger.DefaultLives(), Detail: r.Next.UTC().Format(time.RFC3339)})

	// Only locks this reset cleared; offline ones are reconciled at login.
	for _, id := range r.Unlocked {
		if _, online := m.host.Mode(id); online {
			m.release(id, m.host.Name(id), "reset")
		}
	}
	return r, true
}

// OnLockSweep releases online observers whose lock expired at or before now. Offline
// participants keep their lock until they log in.
func (m *Machine) OnLockSweep(now time.Time) int {
	released := 0
	for _, id := range m.ledger.ExpiredLocks(now) {
		mode, online := m.host.Mode(id)
		if !online {
			continue
		}
		if !m.ledger.ReleaseIfExpired(id, now) {
			continue
		}
		name := m.host.Name(id)
		if mode != world.ModeSpectator {
			// Lives restored without a move; the participant is already playing.
			m.record(events.Event{Kind: events.KindRelease, Participant: id.String(), Name: name, Lives: m.ledger.Lives(id), Detail: "sweep"})
			continue
		}
		m.release(id, name, "sweep")
		released++
	}
	return released
}

type ReviveState int

const (
	ReviveNotExhausted ReviveState = iota
	ReviveNotObserving
	ReviveReleased
	ReviveWaiting
)

type Revive struct {
	State     ReviveState
	Remaining time.Duration
}

// CheckRevive reports how long the participant stays locked. A participant whose lock has
// already expired is released on the spot.
func (m *Machine) CheckRevive(id uuid.UUID) Revive {
	now := m.now()
	if m.ledger.Lives(id) > 0 {
		return Revive{State: ReviveNotExhausted}
	}
	if mode, ok := m.host.Mode(id); !ok || mode != world.ModeSpectator {
		return Revive{State: ReviveNotObserving}
	}
	if exp, ok := m.ledger.LockExpiry(id); ok && exp.After(now) {
		return Revive{State: ReviveWaiting, Remaining: exp.Sub(now)}
	}
	if !m.ledger.ReleaseIfDue(id, now) {
		// A sweep or an adjustment got there first and owns the relocation.
		return Revive{State: ReviveNotExhausted}
	}
	m.release(id, m.host.Name(id), "checkrevive")
	return Revive{State: ReviveReleased}
}

// release relocates a participant whose lives are already restored in the ledger.
func (m *Machine) release(id uuid.UUID, name, via string) {
	m.record(events.Event{Kind: events.KindRelease, Participant: id.String(), Name: name, Lives: m.ledger.Lives(id), Detail: via})
	m.placer.Relocate(id, placement.LockRelease{})
}

func (m *Machine) observe(id uuid.UUID) {
	if err := m.host.SetMode(id, world.ModeSpectator); err != nil {
		m.log.Error("enter observation mode", zap.Stringer("participant", id), zap.Error(err))
	}
}

func (m *Machine) onLane(id uuid.UUID, f func()) {
	if err := m.lanes.Submit(id.String(), f); err != nil {
		m.log.Error("queue participant task", zap.Stringer("participant", id), zap.Error(err))
	}
}

func (m *Machine) record(e events.Event) {
	if e.Time.IsZero() {
		e.Time = m.now()
	}
	if err := m.sink.WriteEvent(e); err != nil {
		m.log.Warn("write lifecycle event", zap.String("kind", string(e.Kind)), zap.Error(err))
	}
}
