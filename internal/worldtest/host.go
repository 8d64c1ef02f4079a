// Package worldtest provides a scriptable in-memory world for driving the lives service in
// tests. It records every teleport, mode change and message in call order.
package worldtest

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"lifeline.ai/internal/world"
)

// Column is one scripted answer to a surface lookup.
type Column struct {
	Y        int
	Material world.Material
	Err      error
}

type Op struct {
	Kind   string // teleport, mode, broadcast, send, respawn
	ID     uuid.UUID
	Detail string
	Loc    world.Location
}

type player struct {
	name   string
	online bool
	mode   world.Mode
	dead   bool
	loc    world.Location
}

type Host struct {
	mu sync.Mutex

	worldName string
	spawn     world.Location
	script    []Column
	fallback  Column
	lookups   int

	lastMaterial world.Material

	players map[uuid.UUID]*player
	ops     []Op

	// TeleportErr, when set, can fail individual teleports.
	TeleportErr func(id uuid.UUID, to world.Location) error
}

func New() *Host {
	return &Host{
		worldName: "world",
		spawn:     world.Location{World: "world", X: 0.5, Y: 65, Z: 0.5},
		fallback:  Column{Y: 63, Material: world.MaterialGrass},
		players:   map[uuid.UUID]*player{},
	}
}

// Script queues surface answers; once exhausted every lookup returns the fallback column.
func (h *Host) Script(cols ...Column) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.script = append(h.script, cols...)
}

// Always makes every lookup beyond the script return c.
func (h *Host) Always(c Column) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.fallback = c
}

func (h *Host) Lookups() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lookups
}

// Join registers a participant as online in survival mode.
func (h *Host) Join(name string) uuid.UUID {
	id := uuid.NewSHA1(uuid.NameSpaceOID, []byte(name))
	h.mu.Lock()
	defer h.mu.Unlock()
	p, ok := h.players[id]
	if !ok {
		p = &player{name: name, mode: world.ModeSurvival}
		h.players[id] = p
	}
	p.online = true
	return id
}

func (h *Host) Leave(id uuid.UUID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if p, ok := h.players[id]; ok {
		p.online = false
	}
}

func (h *Host) Kill(id uuid.UUID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if p, ok := h.players[id]; ok {
		p.dead = true
	}
}

// ForceMode changes a mode without recording an op, as a restart of the game server would.
func (h *Host) ForceMode(id uuid.UUID, m world.Mode) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if p, ok := h.players[id]; ok {
		p.mode = m
	}
}

func (h *Host) Location(id uuid.UUID) world.Location {
	h.mu.Lock()
	defer h.mu.Unlock()
	if p, ok := h.players[id]; ok {
		return p.loc
	}
	return world.Location{}
}

// Ops returns a copy of the recorded operations, optionally filtered by kind.
func (h *Host) Ops(kinds ...string) []Op {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Op, 0, len(h.ops))
	for _, op := range h.ops {
		if len(kinds) == 0 || contains(kinds, op.Kind) {
			out = append(out, op)
		}
	}
	return out
}

func (h *Host) Broadcasts() []string {
	var out []string
	for _, op := range h.Ops("broadcast") {
		out = append(out, op.Detail)
	}
	return out
}

func (h *Host) Messages(id uuid.UUID) []string {
	var out []string
	for _, op := range h.Ops("send") {
		if op.ID == id {
			out = append(out, op.Detail)
		}
	}
	return out
}

// HasMessage reports whether id received a direct message containing substr.
func (h *Host) HasMessage(id uuid.UUID, substr string) bool {
	for _, m := range h.Messages(id) {
		if strings.Contains(m, substr) {
			return true
		}
	}
	return false
}

func (h *Host) ResetOps() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ops = nil
}

// world.Terrain

func (h *Host) HomeWorld() world.Terrain { return terrain{h} }

type terrain struct{ h *Host }

func (t terrain) Name() string { return t.h.worldName }

func (t terrain) HighestBlockAt(ctx context.Context, x, z int) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	c := t.h.next(x, z)
	return c.Y, c.Err
}

func (t terrain) BlockAt(x, y, z int) world.Material {
	t.h.mu.Lock()
	defer t.h.mu.Unlock()
	return t.h.lastMaterial
}

func (t terrain) SpawnLocation() world.Location { return t.h.spawn }

func (h *Host) next(x, z int) Column {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lookups++
	c := h.fallback
	if len(h.script) > 0 {
		c = h.script[0]
		h.script = h.script[1:]
	}
	h.lastMaterial = c.Material
	return c
}

// world.Participants

func (h *Host) Teleport(ctx context.Context, id uuid.UUID, to world.Location) error {
	if h.TeleportErr != nil {
		if err := h.TeleportErr(id, to); err != nil {
			return err
		}
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	p, ok := h.players[id]
	if !ok || !p.online {
		return errors.Newf("participant %s offline", id)
	}
	p.loc = to
	h.ops = append(h.ops, Op{Kind: "teleport", ID: id, Loc: to, Detail: to.Block().String()})
	return nil
}

func (h *Host) SetMode(id uuid.UUID, m world.Mode) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	p, ok := h.players[id]
	if !ok || !p.online {
		return errors.Newf("participant %s offline", id)
	}
	p.mode = m
	h.ops = append(h.ops, Op{Kind: "mode", ID: id, Detail: string(m)})
	return nil
}

func (h *Host) Mode(id uuid.UUID) (world.Mode, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	p, ok := h.players[id]
	if !ok || !p.online {
		return "", false
	}
	return p.mode, true
}

func (h *Host) IsDead(id uuid.UUID) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	p, ok := h.players[id]
	return ok && p.dead
}

func (h *Host) Respawn(id uuid.UUID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if p, ok := h.players[id]; ok {
		p.dead = false
		h.ops = append(h.ops, Op{Kind: "respawn", ID: id})
	}
}

func (h *Host) Online() []uuid.UUID {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []uuid.UUID
	for id, p := range h.players {
		if p.online {
			out = append(out, id)
		}
	}
	return out
}

func (h *Host) Name(id uuid.UUID) string {
	h.mu.Lock()
	defer h.mu.Unlock()
	if p, ok := h.players[id]; ok {
		return p.name
	}
	return id.String()
}

func (h *Host) Lookup(name string) (uuid.UUID, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, p := range h.players {
		if strings.EqualFold(p.name, name) {
			return id, true
		}
	}
	return uuid.Nil, false
}

// world.Messenger

func (h *Host) Broadcast(msg string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ops = append(h.ops, Op{Kind: "broadcast", Detail: msg})
}

func (h *Host) Send(id uuid.UUID, msg string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ops = append(h.ops, Op{Kind: "send", ID: id, Detail: msg})
}

func (h *Host) String() string {
	return fmt.Sprintf("worldtest.Host(%d players)", len(h.Online()))
}

func contains(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}
