package placement

import (
	"context"
	"math/rand"
	"sync"

	"github.com/cockroachdb/errors"

	"lifeline.ai/internal/world"
)

// Outcome is one validated candidate. A non-empty Hazard means the candidate was rejected.
type Outcome struct {
	Location world.Location
	Hazard   world.Material
}

func (o Outcome) Accepted() bool { return o.Hazard == "" }

// Finder draws random surface coordinates and screens them for hazards. It never retries.
type Finder struct {
	mu  sync.Mutex
	rng *rand.Rand
}

func NewFinder(seed int64) *Finder {
	return &Finder{rng: rand.New(rand.NewSource(seed))}
}

// Find proposes one coordinate with x and z in [-radius, radius). The surface lookup may block
// while the terrain loads; an error from it is returned as-is for the caller to count.
func (f *Finder) Find(ctx context.Context, t world.Terrain, radius int) (Outcome, error) {
	x, z := f.draw(radius)

	y, err := t.HighestBlockAt(ctx, x, z)
	if err != nil {
		return Outcome{}, errors.Wrapf(err, "surface at %d,%d", x, z)
	}

	loc := world.Location{
		World: t.Name(),
		X:     float64(x) + 0.5,
		Y:     float64(y) + 1.0,
		Z:     float64(z) + 0.5,
	}
	if m := t.BlockAt(x, y, z); m.Hazardous() {
		return Outcome{Location: loc, Hazard: m}, nil
	}
	return Outcome{Location: loc}, nil
}

func (f *Finder) draw(radius int) (x, z int) {
	if radius <= 0 {
		return 0, 0
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	x = f.rng.Intn(radius*2) - radius
	z = f.rng.Intn(radius*2) - radius
	return x, z
}
