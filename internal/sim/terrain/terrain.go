// Package terrain generates the reference runtime's home world. Columns are derived from a
// seed with a stateless hash, grouped in 16x16 chunks that load asynchronously on first use.
package terrain

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	"lifeline.ai/internal/world"
)

type Config struct {
	Name string
	Seed int64
	// LoadLatency simulates chunk generation time for columns that have never been read.
	LoadLatency time.Duration
	// MaxLoaded bounds the chunk cache. Zero means unbounded.
	MaxLoaded int
}

type chunkKey struct{ cx, cz int }

type chunk struct {
	ready chan struct{}
	cols  [chunkSize * chunkSize]column
}

type Terrain struct {
	cfg Config

	mu     sync.Mutex
	chunks map[chunkKey]*chunk
	order  []chunkKey
	loads  int
}

var _ world.Terrain = (*Terrain)(nil)

func New(cfg Config) *Terrain {
	if cfg.Name == "" {
		cfg.Name = "world"
	}
	return &Terrain{cfg: cfg, chunks: make(map[chunkKey]*chunk)}
}

func (t *Terrain) Name() string { return t.cfg.Name }

func (t *Terrain) SpawnLocation() world.Location {
	return world.Location{World: t.cfg.Name, X: 0.5, Y: float64(seaLevel + 2), Z: 0.5}
}

// HighestBlockAt returns the surface height at (x, z), waiting for the chunk to load if needed.
func (t *Terrain) HighestBlockAt(ctx context.Context, x, z int) (int, error) {
	c := t.chunkFor(x, z)
	select {
	case <-c.ready:
	case <-ctx.Done():
		return 0, errors.Wrapf(ctx.Err(), "load chunk at %d,%d", floorDiv(x, chunkSize), floorDiv(z, chunkSize))
	}
	return c.cols[colIndex(x, z)].height, nil
}

// BlockAt reports the material at a block. Columns in unloaded chunks are generated directly.
func (t *Terrain) BlockAt(x, y, z int) world.Material {
	col := t.column(x, z)
	switch {
	case y > col.height:
		return world.MaterialAir
	case y == col.height:
		return col.material
	default:
		return world.MaterialStone
	}
}

// Loads returns how many chunks have been generated, including evicted ones.
func (t *Terrain) Loads() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.loads
}

func (t *Terrain) column(x, z int) column {
	key := chunkKey{floorDiv(x, chunkSize), floorDiv(z, chunkSize)}
	t.mu.Lock()
	c := t.chunks[key]
	t.mu.Unlock()
	if c != nil {
		select {
		case <-c.ready:
			return c.cols[colIndex(x, z)]
		default:
		}
	}
	return generate(t.cfg.Seed, x, z)
}

func (t *Terrain) chunkFor(x, z int) *chunk {
	key := chunkKey{floorDiv(x, chunkSize), floorDiv(z, chunkSize)}

	t.mu.Lock()
	defer t.mu.Unlock()
	if c, ok := t.chunks[key]; ok {
		return c
	}
	c := &chunk{ready: make(chan struct{})}
	t.chunks[key] = c
	t.order = append(t.order, key)
	t.loads++
	if t.cfg.MaxLoaded > 0 && len(t.order) > t.cfg.MaxLoaded {
		old := t.order[0]
		t.order = t.order[1:]
		delete(t.chunks, old)
	}
	go t.load(key, c)
	return c
}

func (t *Terrain) load(key chunkKey, c *chunk) {
	if t.cfg.LoadLatency > 0 {
		time.Sleep(t.cfg.LoadLatency)
	}
	baseX := key.cx * chunkSize
	baseZ := key.cz * chunkSize
	for dz := 0; dz < chunkSize; dz++ {
		for dx := 0; dx < chunkSize; dx++ {
			c.cols[dz*chunkSize+dx] = generate(t.cfg.Seed, baseX+dx, baseZ+dz)
		}
	}
	close(c.ready)
}

func colIndex(x, z int) int {
	return mod(z, chunkSize)*chunkSize + mod(x, chunkSize)
}
