package placement

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"lifeline.ai/internal/affinity"
	"lifeline.ai/internal/events"
	"lifeline.ai/internal/logging"
	"lifeline.ai/internal/world"
)

const DefaultMaxAttempts = 10

type Config struct {
	Radius       int
	MaxAttempts  int
	WelcomeDelay time.Duration
}

type Result struct {
	Location world.Location
	Attempts int
	Fallback bool
	Err      error
}

// Orchestrator places participants at safe random surface points of the home world, falling
// back to the world spawn once the attempt budget is spent. Placements for one participant run
// on that participant's lane and never interleave.
type Orchestrator struct {
	host   world.Host
	finder *Finder
	lanes  *affinity.Queue
	cfg    Config
	log    *zap.Logger
	sink   events.Sink
	now    func() time.Time

	// later runs f after d; replaced in tests.
	later func(d time.Duration, f func())
}

type Options struct {
	Host   world.Host
	Finder *Finder
	Lanes  *affinity.Queue
	Config Config
	Logger *zap.Logger
	Events events.Sink
	Now    func() time.Time
}

func NewOrchestrator(opts Options) *Orchestrator {
	cfg := opts.Config
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.Radius < 0 {
		cfg.Radius = 0
	}
	if opts.Finder == nil {
		opts.Finder = NewFinder(time.Now().UnixNano())
	}
	if opts.Events == nil {
		opts.Events = events.Discard{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Orchestrator{
		host:   opts.Host,
		finder: opts.Finder,
		lanes:  opts.Lanes,
		cfg:    cfg,
		log:    logging.OrNop(opts.Logger),
		sink:   opts.Events,
		now:    opts.Now,
		later: func(d time.Duration, f func()) {
			if d <= 0 {
				f()
				return
			}
			time.AfterFunc(d, f)
		},
	}
}

// Relocate queues a placement on the participant's lane. The channel receives exactly one
// Result once the participant has been placed, at a safe point or at spawn.
func (o *Orchestrator) Relocate(id uuid.UUID, reason Reason) <-chan Result {
	done := make(chan Result, 1)
	err := o.lanes.Submit(id.String(), func() {
		done <- o.Place(id, reason)
	})
	if err != nil {
		o.log.Error("queue placement", zap.Stringer("participant", id), zap.Stringer("reason", reason), zap.Error(err))
		done <- Result{Err: err}
	}
	return done
}

// Place runs a placement on the calling goroutine. Callers outside the participant's lane
// should use Relocate.
func (o *Orchestrator) Place(id uuid.UUID, reason Reason) Result {
	ctx := context.Background()
	terrain := o.host.HomeWorld()
	name := o.host.Name(id)
	log := o.log.With(zap.Stringer("participant", id), zap.String("name", name), zap.Stringer("reason", reason))

	attempts := 0
	for attempts < o.cfg.MaxAttempts {
		attempts++
		left := o.cfg.MaxAttempts - attempts

		out, err := o.finder.Find(ctx, terrain, o.cfg.Radius)
		if err != nil {
			log.Info("placement lookup failed; retrying", zap.Int("left", left), zap.Error(err))
			continue
		}
		if !out.Accepted() {
			log.Info("unsafe placement candidate; retrying",
				zap.String("hazard", string(out.Hazard)),
				zap.Stringer("pos", out.Location.Block()),
				zap.Int("left", left),
			)
			continue
		}
		if err := o.host.Teleport(ctx, id, out.Location); err != nil {
			log.Info("teleport failed; retrying", zap.Int("left", left), zap.Error(err))
			continue
		}

		o.record(events.KindPlacement, id, name, reason, out.Location, attempts)
		reason.followUp(o, arrival{ID: id, Name: name, At: out.Location})
		return Result{Location: out.Location, Attempts: attempts}
	}

	spawn := terrain.SpawnLocation()
	log.Warn("no safe location found; sending to spawn", zap.Int("attempts", attempts))
	o.host.Send(id, "安全なテレポート先が見つかりませんでした。ワールドのスポーン地点に移動します。")
	res := Result{Location: spawn, Attempts: attempts, Fallback: true}
	if err := o.host.Teleport(ctx, id, spawn); err != nil {
		log.Error("teleport to spawn", zap.Error(err))
		res.Err = err
	}
	o.record(events.KindFallback, id, name, reason, spawn, attempts)
	reason.followUp(o, arrival{ID: id, Name: name, At: spawn, Fallback: true})
	return res
}

func (o *Orchestrator) record(kind events.Kind, id uuid.UUID, name string, reason Reason, at world.Location, attempts int) {
	p := at.Block()
	err := o.sink.WriteEvent(events.Event{
		Time:        o.now(),
		Kind:        kind,
		Participant: id.String(),
		Name:        name,
		Reason:      reason.String(),
		Pos:         [3]int{p.X, p.Y, p.Z},
		Attempts:    attempts,
	})
	if err != nil {
		o.log.Warn("write placement event", zap.Error(err))
	}
}
