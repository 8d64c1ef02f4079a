package lifecycle

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"lifeline.ai/internal/affinity"
	"lifeline.ai/internal/ledger"
	"lifeline.ai/internal/placement"
	"lifeline.ai/internal/world"
	"lifeline.ai/internal/worldtest"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	now    time.Time
	host   *worldtest.Host
	ledger *ledger.Ledger
	lanes  *affinity.Queue
	m      *Machine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{now: t0, host: worldtest.New()}
	clock := func() time.Time { return f.now }

	lanes, err := affinity.New(4, nil)
	if err != nil {
		t.Fatalf("lanes: %v", err)
	}
	t.Cleanup(lanes.Close)
	f.lanes = lanes

	f.ledger = ledger.New(ledger.Options{DefaultLives: 3, Now: clock})
	placer := placement.NewOrchestrator(placement.Options{
		Host:   f.host,
		Finder: placement.NewFinder(7),
		Lanes:  lanes,
		Config: placement.Config{Radius: 500},
		Now:    clock,
	})
	f.m = New(Options{
		Ledger: f.ledger,
		Host:   f.host,
		Placer: placer,
		Lanes:  lanes,
		Config: Config{RevivalTime: time.Hour},
		Now:    clock,
	})
	return f
}

// returning joins a participant who already has a ledger record.
func (f *fixture) returning(name string) uuid.UUID {
	id := f.host.Join(name)
	f.ledger.Touch(id)
	return id
}

func (f *fixture) mode(t *testing.T, id uuid.UUID) world.Mode {
	t.Helper()
	f.lanes.Wait()
	m, ok := f.host.Mode(id)
	if !ok {
		t.Fatalf("participant %s offline", id)
	}
	return m
}

func TestOnDeath_ThreeDeathsLockOnThird(t *testing.T) {
	f := newFixture(t)
	id := f.returning("steve")

	for i, want := range []int{2, 1, 0} {
		d := f.m.OnDeath(id)
		if d.Lives != want {
			t.Fatalf("death %d: lives=%d want %d", i+1, d.Lives, want)
		}
	}
	f.lanes.Wait()

	exp, ok := f.ledger.LockExpiry(id)
	if !ok || !exp.Equal(t0.Add(time.Hour)) {
		t.Fatalf("lock expiry=%v ok=%v", exp, ok)
	}
	if m := f.mode(t, id); m != world.ModeSpectator {
		t.Fatalf("mode=%s want spectator", m)
	}
	if n := len(f.host.Ops("teleport")); n != 3 {
		t.Fatalf("respawn teleports=%d want 3", n)
	}
	b := f.host.Broadcasts()
	if !contains(b, "steve died [残りライフ: 0]") {
		t.Fatalf("broadcasts=%v", b)
	}
	if !f.host.HasMessage(id, "ライフが0になりました") {
		t.Fatalf("no exhaustion notice")
	}
}

func TestOnDeath_ModeChangeBeforeRespawnTeleport(t *testing.T) {
	f := newFixture(t)
	id := f.returning("ana")
	f.ledger.SetLives(id, 1)

	f.m.OnDeath(id)
	f.lanes.Wait()

	ops := f.host.Ops("mode", "teleport")
	if len(ops) != 2 || ops[0].Kind != "mode" || ops[1].Kind != "teleport" {
		t.Fatalf("ops=%+v", ops)
	}
}

func TestOnAdminAdjust_PositiveReleasesLockedParticipant(t *testing.T) {
	f := newFixture(t)
	id := f.returning("mira")
	f.ledger.SetLives(id, 1)
	f.m.OnDeath(id)
	f.lanes.Wait()
	f.host.ResetOps()

	five := 5
	a := f.m.OnAdminAdjust(id, &five)
	if a.After != 5 || !a.Unlocked {
		t.Fatalf("adjust=%+v", a)
	}
	if _, ok := f.ledger.LockExpiry(id); ok {
		t.Fatalf("lock not cleared")
	}
	if m := f.mode(t, id); m != world.ModeSurvival {
		t.Fatalf("mode=%s want survival", m)
	}
	if !f.host.HasMessage(id, "観戦モードが解除され") {
		t.Fatalf("no release confirmation")
	}
}

func TestOnAdminAdjust_NegativeToZeroLocksOnce(t *testing.T) {
	f := newFixture(t)
	id := f.returning("ren")

	minus := -10
	a := f.m.OnAdminAdjust(id, &minus)
	if a.After != 0 || !a.Armed {
		t.Fatalf("adjust=%+v", a)
	}
	if m := f.mode(t, id); m != world.ModeSpectator {
		t.Fatalf("mode=%s", m)
	}

	f.now = f.now.Add(10 * time.Minute)
	if a := f.m.OnAdminAdjust(id, &minus); a.Armed {
		t.Fatalf("pending lock re-armed")
	}
	if exp, _ := f.ledger.LockExpiry(id); !exp.Equal(t0.Add(time.Hour)) {
		t.Fatalf("expiry=%v", exp)
	}
}

func TestOnAdminAdjust_NilResetsOfflineTarget(t *testing.T) {
	f := newFixture(t)
	id := f.returning("kai")
	f.ledger.SetLives(id, 0)
	f.ledger.SetLockExpiry(id, t0.Add(time.Hour))
	f.host.ForceMode(id, world.ModeSpectator)
	f.host.Leave(id)

	a := f.m.OnAdminAdjust(id, nil)
	if a.After != 3 || !a.Unlocked {
		t.Fatalf("adjust=%+v", a)
	}
	f.lanes.Wait()
	if n := len(f.host.Ops("teleport")); n != 0 {
		t.Fatalf("offline target relocated")
	}

	// Lives came back while away: the next login releases.
	f.host.Join("kai")
	f.m.OnJoin(id)
	if m := f.mode(t, id); m != world.ModeSurvival {
		t.Fatalf("mode after login=%s", m)
	}
}

func TestOnLockSweep(t *testing.T) {
	f := newFixture(t)
	expired := f.returning("a")
	pending := f.returning("b")
	away := f.returning("c")
	for _, id := range []uuid.UUID{expired, pending, away} {
		f.ledger.SetLives(id, 0)
		f.host.ForceMode(id, world.ModeSpectator)
	}
	f.ledger.SetLockExpiry(expired, t0.Add(-time.Second))
	f.ledger.SetLockExpiry(pending, t0.Add(time.Minute))
	f.ledger.SetLockExpiry(away, t0.Add(-time.Minute))
	f.host.Leave(away)

	if n := f.m.OnLockSweep(t0); n != 1 {
		t.Fatalf("released=%d want 1", n)
	}
	if f.mode(t, expired) != world.ModeSurvival || f.ledger.Lives(expired) != 3 {
		t.Fatalf("expired participant not released")
	}
	if f.mode(t, pending) != world.ModeSpectator || f.ledger.Lives(pending) != 0 {
		t.Fatalf("pending participant released early")
	}
	if _, ok := f.ledger.LockExpiry(away); !ok {
		t.Fatalf("offline participant lost their lock")
	}

	if n := f.m.OnLockSweep(t0); n != 0 {
		t.Fatalf("second sweep released %d", n)
	}
}

func TestOnWeeklyReset_ReleasesObserversOnce(t *testing.T) {
	f := newFixture(t)
	locked := f.returning("x")
	alive := f.returning("y")
	f.ledger.SetLives(locked, 0)
	f.ledger.SetLockExpiry(locked, t0.Add(time.Hour))
	f.host.ForceMode(locked, world.ModeSpectator)
	f.ledger.SetLives(alive, 1)
	arch := &fakeArchiver{ledger: f.ledger}
	f.m.archiver = arch

	at := f.ledger.NextReset()
	f.ledger.MarkAnnounced("m:5")
	r, ok := f.m.OnWeeklyReset(at)
	if !ok || !r.Next.Equal(at.Add(ledger.Week)) {
		t.Fatalf("reset=%+v ok=%v", r, ok)
	}
	if _, ok := f.m.OnWeeklyReset(at); ok {
		t.Fatalf("second reset applied")
	}
	if !f.ledger.NextReset().Equal(at.Add(ledger.Week)) {
		t.Fatalf("next reset advanced twice")
	}
	if f.ledger.Announced("m:5") {
		t.Fatalf("marks not cleared")
	}
	for _, id := range []uuid.UUID{locked, alive} {
		if n := f.ledger.Lives(id); n != 3 {
			t.Fatalf("lives=%d", n)
		}
	}
	if m := f.mode(t, locked); m != world.ModeSurvival {
		t.Fatalf("observer not released: %s", m)
	}
	if !contains(f.host.Broadcasts(), msgWeeklyReset) {
		t.Fatalf("no reset broadcast")
	}
	if arch.calls != 1 || arch.lockedBefore != 1 {
		t.Fatalf("archiver calls=%d locked=%d", arch.calls, arch.lockedBefore)
	}
}

// hold blocks the participant's lane until the returned func is called, so relocations queued
// meanwhile are still pending when the next transition runs.
func (f *fixture) hold(t *testing.T, id uuid.UUID) func() {
	t.Helper()
	gate := make(chan struct{})
	if err := f.lanes.Submit(id.String(), func() { <-gate }); err != nil {
		t.Fatalf("submit gate: %v", err)
	}
	return func() { close(gate) }
}

func (f *fixture) exhausted(t *testing.T, name string) uuid.UUID {
	t.Helper()
	id := f.returning(name)
	f.ledger.SetLives(id, 1)
	f.m.OnDeath(id)
	if m := f.mode(t, id); m != world.ModeSpectator {
		t.Fatalf("mode=%s want spectator", m)
	}
	return id
}

func TestSweptParticipant_ReleasedOnce(t *testing.T) {
	t.Run("then adjusted", func(t *testing.T) {
		f := newFixture(t)
		id := f.exhausted(t, "lena")
		open := f.hold(t, id)

		f.now = t0.Add(2 * time.Hour)
		if n := f.m.OnLockSweep(f.now); n != 1 {
			t.Fatalf("released=%d want 1", n)
		}
		plus := 1
		a := f.m.OnAdminAdjust(id, &plus)
		if a.After != 4 || a.Unlocked {
			t.Fatalf("adjust=%+v", a)
		}
		open()

		if m := f.mode(t, id); m != world.ModeSurvival {
			t.Fatalf("mode=%s", m)
		}
		if n := countMessages(f.host.Messages(id), "観戦モードが解除され"); n != 1 {
			t.Fatalf("release confirmations=%d want 1", n)
		}
	})

	t.Run("then weekly reset", func(t *testing.T) {
		f := newFixture(t)
		id := f.exhausted(t, "otto")
		open := f.hold(t, id)

		f.now = t0.Add(2 * time.Hour)
		if n := f.m.OnLockSweep(f.now); n != 1 {
			t.Fatalf("released=%d want 1", n)
		}
		r, ok := f.m.OnWeeklyReset(f.ledger.NextReset())
		if !ok || len(r.Unlocked) != 0 {
			t.Fatalf("reset=%+v ok=%v", r, ok)
		}
		open()

		if m := f.mode(t, id); m != world.ModeSurvival {
			t.Fatalf("mode=%s", m)
		}
		if n := countMessages(f.host.Messages(id), "観戦モードが解除され"); n != 1 {
			t.Fatalf("release confirmations=%d want 1", n)
		}
	})
}

func TestCheckRevive_ExhaustedWithoutLockReleasesOnce(t *testing.T) {
	f := newFixture(t)
	id := f.returning("zed")
	f.ledger.SetLives(id, 0)
	f.host.ForceMode(id, world.ModeSpectator)
	open := f.hold(t, id)

	if r := f.m.CheckRevive(id); r.State != ReviveReleased {
		t.Fatalf("state=%v", r.State)
	}
	// Still observing while the relocation waits on the lane.
	if r := f.m.CheckRevive(id); r.State != ReviveNotExhausted {
		t.Fatalf("second check state=%v", r.State)
	}
	open()

	if f.ledger.Lives(id) != 3 {
		t.Fatalf("lives=%d", f.ledger.Lives(id))
	}
	if n := countMessages(f.host.Messages(id), "観戦モードが解除され"); n != 1 {
		t.Fatalf("release confirmations=%d want 1", n)
	}
}

func TestOnJoin(t *testing.T) {
	t.Run("first", func(t *testing.T) {
		f := newFixture(t)
		id := f.host.Join("newbie")
		f.m.OnJoin(id)
		f.lanes.Wait()
		if f.ledger.Lives(id) != 3 || !f.ledger.Known(id) {
			t.Fatalf("record not created")
		}
		b := f.host.Broadcasts()
		if len(b) != 1 || !strings.HasPrefix(b[0], "初参加のプレイヤー newbie") {
			t.Fatalf("broadcasts=%v", b)
		}
		if !f.host.HasMessage(id, "初参加なのでランダムスポーン地点") {
			t.Fatalf("no welcome")
		}
	})

	t.Run("expired lock releases", func(t *testing.T) {
		f := newFixture(t)
		id := f.returning("old")
		f.ledger.SetLives(id, 0)
		f.ledger.SetLockExpiry(id, t0.Add(-time.Minute))
		f.host.ForceMode(id, world.ModeSpectator)

		f.m.OnJoin(id)
		if f.ledger.Lives(id) != 3 {
			t.Fatalf("lives=%d", f.ledger.Lives(id))
		}
		if m := f.mode(t, id); m != world.ModeSurvival {
			t.Fatalf("mode=%s", m)
		}
	})

	t.Run("pending lock forces observation", func(t *testing.T) {
		f := newFixture(t)
		id := f.returning("early")
		f.ledger.SetLives(id, 0)
		f.ledger.SetLockExpiry(id, t0.Add(time.Minute))

		f.m.OnJoin(id)
		if m := f.mode(t, id); m != world.ModeSpectator {
			t.Fatalf("mode=%s", m)
		}
		if !f.host.HasMessage(id, msgStillLocked) {
			t.Fatalf("no reminder")
		}
	})

	t.Run("dead respawns", func(t *testing.T) {
		f := newFixture(t)
		id := f.returning("ghost")
		f.host.Kill(id)
		f.m.OnJoin(id)
		f.lanes.Wait()
		if f.host.IsDead(id) {
			t.Fatalf("still dead")
		}
		if n := len(f.host.Ops("teleport")); n != 1 {
			t.Fatalf("teleports=%d", n)
		}
	})
}

func TestCheckRevive(t *testing.T) {
	f := newFixture(t)
	id := f.returning("p")

	if r := f.m.CheckRevive(id); r.State != ReviveNotExhausted {
		t.Fatalf("state=%v", r.State)
	}
	f.ledger.SetLives(id, 0)
	f.ledger.SetLockExpiry(id, t0.Add(90*time.Second))
	if r := f.m.CheckRevive(id); r.State != ReviveNotObserving {
		t.Fatalf("state=%v", r.State)
	}
	f.host.ForceMode(id, world.ModeSpectator)
	r := f.m.CheckRevive(id)
	if r.State != ReviveWaiting || r.Remaining != 90*time.Second {
		t.Fatalf("revive=%+v", r)
	}
	if got := FormatRemaining(r.Remaining); got != "1分 30秒" {
		t.Fatalf("formatted=%q", got)
	}

	f.now = t0.Add(2 * time.Minute)
	if r := f.m.CheckRevive(id); r.State != ReviveReleased {
		t.Fatalf("state=%v", r.State)
	}
	if f.ledger.Lives(id) != 3 {
		t.Fatalf("lives not restored")
	}
	if m := f.mode(t, id); m != world.ModeSurvival {
		t.Fatalf("mode=%s", m)
	}
}

func TestFormatRemaining(t *testing.T) {
	cases := []struct {
		d    time.Duration
		want string
	}{
		{90 * time.Second, "1分 30秒"},
		{500 * time.Millisecond, "数秒以内"},
		{0, "数秒以内"},
		{-time.Minute, "数秒以内"},
		{time.Hour, "1時間"},
		{26*time.Hour + 3*time.Minute + 4*time.Second, "1日 2時間 3分 4秒"},
		{48*time.Hour + 5*time.Second, "2日 5秒"},
	}
	for _, c := range cases {
		if got := FormatRemaining(c.d); got != c.want {
			t.Fatalf("FormatRemaining(%v)=%q want %q", c.d, got, c.want)
		}
	}
}

type fakeArchiver struct {
	ledger       *ledger.Ledger
	calls        int
	lockedBefore int
}

func (a *fakeArchiver) ArchiveWeek(string, time.Time, ledger.Stats) error {
	a.calls++
	a.lockedBefore = a.ledger.Stats().Locked
	return nil
}

func contains(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}

func countMessages(ss []string, substr string) int {
	n := 0
	for _, v := range ss {
		if strings.Contains(v, substr) {
			n++
		}
	}
	return n
}
