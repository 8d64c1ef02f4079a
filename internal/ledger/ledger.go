package ledger

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"lifeline.ai/internal/logging"
)

const Week = 7 * 24 * time.Hour

// resetSlack tolerates a reset timer that fires a hair before the persisted instant.
const resetSlack = time.Second

type Options struct {
	Path         string
	DefaultLives int
	ResetPeriod  time.Duration
	Now          func() time.Time
	Logger       *zap.Logger
}

// Ledger owns every participant record and the global reset schedule. All methods are safe for
// concurrent use, and every compound transition is a single call.
type Ledger struct {
	path         string
	defaultLives int
	period       time.Duration
	now          func() time.Time
	log          *zap.Logger

	mu        sync.RWMutex
	lives     map[uuid.UUID]int
	locks     map[uuid.UUID]time.Time
	nextReset time.Time
	marks     map[string]struct{}

	saveMu sync.Mutex
}

type Death struct {
	Before int
	Lives  int
	Locked bool
	Expiry time.Time
}

type Adjustment struct {
	Before   int
	After    int
	Unlocked bool
	Armed    bool
	Expiry   time.Time
}

type Reset struct {
	At           time.Time
	Next         time.Time
	Participants int
	Unlocked     []uuid.UUID
}

type Stats struct {
	Participants int
	Locked       int
	NextReset    time.Time
}

func New(opts Options) *Ledger {
	if opts.DefaultLives < 0 {
		opts.DefaultLives = 0
	}
	if opts.ResetPeriod <= 0 {
		opts.ResetPeriod = Week
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	l := &Ledger{
		path:         opts.Path,
		defaultLives: opts.DefaultLives,
		period:       opts.ResetPeriod,
		now:          opts.Now,
		log:          logging.OrNop(opts.Logger),
		lives:        map[uuid.UUID]int{},
		locks:        map[uuid.UUID]time.Time{},
		marks:        map[string]struct{}{},
	}
	l.nextReset = l.now().Add(l.period)
	return l
}

func (l *Ledger) Path() string      { return l.path }
func (l *Ledger) DefaultLives() int { return l.defaultLives }

// Lives returns the participant's remaining lives, or the default for an unknown participant.
func (l *Ledger) Lives(id uuid.UUID) int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if n, ok := l.lives[id]; ok {
		return n
	}
	return l.defaultLives
}

func (l *Ledger) Known(id uuid.UUID) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.lives[id]
	return ok
}

// Touch creates the record on first sighting. created is true only for that first call.
func (l *Ledger) Touch(id uuid.UUID) (lives int, created bool) {
	l.mu.Lock()
	n, ok := l.lives[id]
	if !ok {
		n = l.defaultLives
		l.lives[id] = n
	}
	l.mu.Unlock()
	if !ok {
		l.persist()
	}
	return n, !ok
}

func (l *Ledger) SetLives(id uuid.UUID, v int) int {
	v = clamp(v)
	l.mu.Lock()
	l.lives[id] = v
	l.mu.Unlock()
	l.persist()
	return v
}

func (l *Ledger) AdjustLives(id uuid.UUID, delta int) (before, after int) {
	l.mu.Lock()
	before, ok := l.lives[id]
	if !ok {
		before = l.defaultLives
	}
	after = clamp(before + delta)
	l.lives[id] = after
	l.mu.Unlock()
	l.persist()
	return before, after
}

func (l *Ledger) LockExpiry(id uuid.UUID) (time.Time, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	ts, ok := l.locks[id]
	return ts, ok
}

func (l *Ledger) SetLockExpiry(id uuid.UUID, ts time.Time) {
	l.mu.Lock()
	l.locks[id] = ts
	l.mu.Unlock()
	l.persist()
}

// ClearLockExpiry reports whether a lock was pending.
func (l *Ledger) ClearLockExpiry(id uuid.UUID) bool {
	l.mu.Lock()
	_, ok := l.locks[id]
	delete(l.locks, id)
	l.mu.Unlock()
	if ok {
		l.persist()
	}
	return ok
}

// ArmLock sets a lock expiry unless one is already pending.
func (l *Ledger) ArmLock(id uuid.UUID, expiry time.Time) bool {
	l.mu.Lock()
	_, pending := l.locks[id]
	if !pending {
		l.locks[id] = expiry
	}
	l.mu.Unlock()
	if !pending {
		l.persist()
	}
	return !pending
}

// RecordDeath spends one life. When none remain the lock expiry is set to now+lockFor.
func (l *Ledger) RecordDeath(id uuid.UUID, now time.Time, lockFor time.Duration) Death {
	l.mu.Lock()
	before, ok := l.lives[id]
	if !ok {
		before = l.defaultLives
	}
	d := Death{Before: before, Lives: clamp(before - 1)}
	l.lives[id] = d.Lives
	if d.Lives == 0 {
		d.Locked = true
		d.Expiry = now.Add(lockFor)
		l.locks[id] = d.Expiry
	}
	l.mu.Unlock()
	l.persist()
	return d
}

// Adjust sets lives to the default when delta is nil and adds delta otherwise. Lives above zero
// drop any pending lock; lives at zero arm one unless a lock is already pending.
func (l *Ledger) Adjust(id uuid.UUID, delta *int, now time.Time, lockFor time.Duration) Adjustment {
	l.mu.Lock()
	before, ok := l.lives[id]
	if !ok {
		before = l.defaultLives
	}
	a := Adjustment{Before: before, After: l.defaultLives}
	if delta != nil {
		a.After = clamp(before + *delta)
	}
	l.lives[id] = a.After
	_, pending := l.locks[id]
	switch {
	case a.After > 0 && pending:
		delete(l.locks, id)
		a.Unlocked = true
	case a.After == 0 && !pending:
		a.Armed = true
		a.Expiry = now.Add(lockFor)
		l.locks[id] = a.Expiry
	}
	l.mu.Unlock()
	l.persist()
	return a
}

// ReleaseIfExpired restores the participant only if their lock expired at or before now.
func (l *Ledger) ReleaseIfExpired(id uuid.UUID, now time.Time) bool {
	l.mu.Lock()
	ts, ok := l.locks[id]
	released := ok && !ts.After(now)
	if released {
		delete(l.locks, id)
		l.lives[id] = l.defaultLives
	}
	l.mu.Unlock()
	if released {
		l.persist()
	}
	return released
}

// ReleaseIfDue restores an exhausted participant whose lock expired at or before now, or who
// has no lock at all. It reports false when someone else already restored them.
func (l *Ledger) ReleaseIfDue(id uuid.UUID, now time.Time) bool {
	l.mu.Lock()
	lives, known := l.lives[id]
	if !known {
		lives = l.defaultLives
	}
	ts, locked := l.locks[id]
	due := lives == 0 && (!locked || !ts.After(now))
	if due {
		delete(l.locks, id)
		l.lives[id] = l.defaultLives
	}
	l.mu.Unlock()
	if due {
		l.persist()
	}
	return due
}

func (l *Ledger) ExpiredLocks(now time.Time) []uuid.UUID {
	l.mu.RLock()
	out := make([]uuid.UUID, 0, len(l.locks))
	for id, ts := range l.locks {
		if !ts.After(now) {
			out = append(out, id)
		}
	}
	l.mu.RUnlock()
	sortIDs(out)
	return out
}

func (l *Ledger) Participants() []uuid.UUID {
	l.mu.RLock()
	out := make([]uuid.UUID, 0, len(l.lives))
	for id := range l.lives {
		out = append(out, id)
	}
	l.mu.RUnlock()
	sortIDs(out)
	return out
}

func (l *Ledger) NextReset() time.Time {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.nextReset
}

func (l *Ledger) Stats() Stats {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return Stats{Participants: len(l.lives), Locked: len(l.locks), NextReset: l.nextReset}
}

// Due reports whether the weekly reset should run at now.
func (l *Ledger) Due(now time.Time) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return !now.Add(resetSlack).Before(l.nextReset)
}

// ResetWeek restores every participant, clears all locks and countdown marks and moves the
// next reset one period past now. It does nothing when the reset is not due yet, so a second
// call at the same instant is a no-op.
func (l *Ledger) ResetWeek(now time.Time) (Reset, bool) {
	l.mu.Lock()
	if now.Add(resetSlack).Before(l.nextReset) {
		l.mu.Unlock()
		return Reset{}, false
	}
	r := Reset{At: now, Participants: len(l.lives)}
	for id := range l.lives {
		l.lives[id] = l.defaultLives
	}
	for id := range l.locks {
		r.Unlocked = append(r.Unlocked, id)
	}
	l.locks = map[uuid.UUID]time.Time{}
	l.marks = map[string]struct{}{}
	l.nextReset = now.Add(l.period)
	r.Next = l.nextReset
	l.mu.Unlock()

	sortIDs(r.Unlocked)
	l.persist()
	return r, true
}

// MarkAnnounced records a countdown key and reports whether it was new.
func (l *Ledger) MarkAnnounced(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.marks[key]; ok {
		return false
	}
	l.marks[key] = struct{}{}
	return true
}

func (l *Ledger) Announced(key string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.marks[key]
	return ok
}

func (l *Ledger) persist() {
	if err := l.Save(); err != nil {
		l.log.Error("save ledger", zap.String("path", l.path), zap.Error(err))
	}
}

func clamp(v int) int {
	if v < 0 {
		return 0
	}
	return v
}

func sortIDs(ids []uuid.UUID) {
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
}
