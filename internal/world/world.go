// Package world describes what the lives service needs from the game world it runs inside.
// Implementations live outside the core: the reference runtime in internal/sim and the
// scriptable fake in internal/worldtest.
package world

import (
	"context"
	"fmt"
	"math"

	"github.com/google/uuid"
)

type Material string

const (
	MaterialAir        Material = "air"
	MaterialGrass      Material = "grass_block"
	MaterialDirt       Material = "dirt"
	MaterialSand       Material = "sand"
	MaterialStone      Material = "stone"
	MaterialSnow       Material = "snow_block"
	MaterialGravel     Material = "gravel"
	MaterialWater      Material = "water"
	MaterialLava       Material = "lava"
	MaterialPowderSnow Material = "powder_snow"
)

// Hazardous reports whether standing on m is unsafe for a freshly placed participant.
func (m Material) Hazardous() bool {
	switch m {
	case MaterialWater, MaterialLava, MaterialPowderSnow:
		return true
	}
	return false
}

type Mode string

const (
	ModeSurvival  Mode = "survival"
	ModeSpectator Mode = "spectator"
)

type BlockPos struct {
	X, Y, Z int
}

func (p BlockPos) String() string {
	return fmt.Sprintf("[x: %d, y: %d, z: %d]", p.X, p.Y, p.Z)
}

type Location struct {
	World   string
	X, Y, Z float64
}

func (l Location) Block() BlockPos {
	return BlockPos{
		X: int(math.Floor(l.X)),
		Y: int(math.Floor(l.Y)),
		Z: int(math.Floor(l.Z)),
	}
}

// Terrain is the home world's surface.
type Terrain interface {
	Name() string
	// HighestBlockAt resolves the topmost solid block at (x, z). It may block while the chunk
	// holding the column is loaded.
	HighestBlockAt(ctx context.Context, x, z int) (int, error)
	BlockAt(x, y, z int) Material
	SpawnLocation() Location
}

type Participants interface {
	Teleport(ctx context.Context, id uuid.UUID, to Location) error
	SetMode(id uuid.UUID, m Mode) error
	// Mode returns the participant's current mode; ok is false when they are offline.
	Mode(id uuid.UUID) (m Mode, ok bool)
	IsDead(id uuid.UUID) bool
	Respawn(id uuid.UUID)
	Online() []uuid.UUID
	Name(id uuid.UUID) string
	Lookup(name string) (uuid.UUID, bool)
}

type Messenger interface {
	Broadcast(msg string)
	Send(id uuid.UUID, msg string)
}

type Host interface {
	Participants
	Messenger
	HomeWorld() Terrain
}
