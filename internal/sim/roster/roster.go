// Package roster tracks who is connected to the reference runtime and implements world.Host
// on top of the procedural terrain. Mode, position and the dead flag survive a disconnect so
// a returning participant finds themselves where they left.
package roster

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"lifeline.ai/internal/logging"
	"lifeline.ai/internal/protocol"
	"lifeline.ai/internal/world"
)

var (
	ErrNameTaken = errors.New("name already online")
	ErrOffline   = errors.New("participant offline")
)

// Sink receives the EVENT messages addressed to one session. Deliver must not block.
type Sink interface {
	Deliver(protocol.EventMsg)
}

type member struct {
	name string
	sink Sink // nil while offline
	mode world.Mode
	dead bool
	loc  world.Location
}

type Roster struct {
	terrain world.Terrain
	log     *zap.Logger

	mu      sync.RWMutex
	members map[uuid.UUID]*member
	byName  map[string]uuid.UUID
}

var _ world.Host = (*Roster)(nil)

func New(terrain world.Terrain, logger *zap.Logger) *Roster {
	return &Roster{
		terrain: terrain,
		log:     logging.OrNop(logger).Named("roster"),
		members: map[uuid.UUID]*member{},
		byName:  map[string]uuid.UUID{},
	}
}

// IDFor derives a stable participant id from a name, the way offline-mode servers do.
func IDFor(name string) uuid.UUID {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte("participant:"+strings.ToLower(name)))
}

// Connect brings name online with sink as its session. A first-time participant starts in
// survival at the world spawn.
func (r *Roster) Connect(name string, sink Sink) (uuid.UUID, error) {
	id := IDFor(name)
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.members[id]
	if ok && m.sink != nil {
		return uuid.Nil, errors.Wrapf(ErrNameTaken, "%s", name)
	}
	if !ok {
		m = &member{mode: world.ModeSurvival, loc: r.terrain.SpawnLocation()}
		r.members[id] = m
	}
	m.name = name
	m.sink = sink
	r.byName[strings.ToLower(name)] = id
	r.log.Info("connected", zap.String("name", name), zap.Stringer("id", id))
	return id, nil
}

func (r *Roster) Disconnect(id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.members[id]; ok && m.sink != nil {
		m.sink = nil
		r.log.Info("disconnected", zap.String("name", m.name), zap.Stringer("id", id))
	}
}

// Kill marks an online participant dead. It reports false when they are offline or already dead.
func (r *Roster) Kill(id uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.members[id]
	if !ok || m.sink == nil || m.dead {
		return false
	}
	m.dead = true
	return true
}

func (r *Roster) Location(id uuid.UUID) (world.Location, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.members[id]
	if !ok {
		return world.Location{}, false
	}
	return m.loc, true
}

func (r *Roster) HomeWorld() world.Terrain { return r.terrain }

func (r *Roster) Teleport(ctx context.Context, id uuid.UUID, to world.Location) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	m, err := r.onlineLocked(id)
	if err != nil {
		r.mu.Unlock()
		return err
	}
	m.loc = to
	sink := m.sink
	r.mu.Unlock()

	ev := protocol.NewEvent(protocol.EventTeleport, "")
	ev.World = to.World
	ev.Pos = [3]float64{to.X, to.Y, to.Z}
	sink.Deliver(ev)
	return nil
}

func (r *Roster) SetMode(id uuid.UUID, mode world.Mode) error {
	r.mu.Lock()
	m, err := r.onlineLocked(id)
	if err != nil {
		r.mu.Unlock()
		return err
	}
	m.mode = mode
	sink := m.sink
	r.mu.Unlock()

	ev := protocol.NewEvent(protocol.EventMode, "")
	ev.Mode = string(mode)
	sink.Deliver(ev)
	return nil
}

func (r *Roster) Mode(id uuid.UUID) (world.Mode, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.members[id]
	if !ok || m.sink == nil {
		return "", false
	}
	return m.mode, true
}

func (r *Roster) IsDead(id uuid.UUID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.members[id]
	return ok && m.dead
}

func (r *Roster) Respawn(id uuid.UUID) {
	r.mu.Lock()
	m, ok := r.members[id]
	if !ok || !m.dead {
		r.mu.Unlock()
		return
	}
	m.dead = false
	m.loc = r.terrain.SpawnLocation()
	sink := m.sink
	r.mu.Unlock()

	if sink != nil {
		sink.Deliver(protocol.NewEvent(protocol.EventRespawn, ""))
	}
}

func (r *Roster) Online() []uuid.UUID {
	r.mu.RLock()
	out := make([]uuid.UUID, 0, len(r.members))
	for id, m := range r.members {
		if m.sink != nil {
			out = append(out, id)
		}
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

func (r *Roster) Name(id uuid.UUID) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if m, ok := r.members[id]; ok {
		return m.name
	}
	return id.String()
}

// Lookup finds anyone who has connected at least once, online or not.
func (r *Roster) Lookup(name string) (uuid.UUID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byName[strings.ToLower(strings.TrimSpace(name))]
	return id, ok
}

func (r *Roster) Broadcast(msg string) {
	r.mu.RLock()
	sinks := make([]Sink, 0, len(r.members))
	for _, m := range r.members {
		if m.sink != nil {
			sinks = append(sinks, m.sink)
		}
	}
	r.mu.RUnlock()

	ev := protocol.NewEvent(protocol.EventChat, msg)
	for _, s := range sinks {
		s.Deliver(ev)
	}
}

func (r *Roster) Send(id uuid.UUID, msg string) {
	r.mu.RLock()
	var sink Sink
	if m, ok := r.members[id]; ok {
		sink = m.sink
	}
	r.mu.RUnlock()
	if sink != nil {
		sink.Deliver(protocol.NewEvent(protocol.EventDirect, msg))
	}
}

func (r *Roster) onlineLocked(id uuid.UUID) (*member, error) {
	m, ok := r.members[id]
	if !ok || m.sink == nil {
		return nil, errors.Wrapf(ErrOffline, "%s", id)
	}
	return m, nil
}
