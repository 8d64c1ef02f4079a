package placement

import (
	"context"
	"errors"
	"testing"

	"lifeline.ai/internal/world"
	"lifeline.ai/internal/worldtest"
)

func TestFind_AcceptsSolidSurfaceAboveBlockCentre(t *testing.T) {
	h := worldtest.New()
	h.Script(worldtest.Column{Y: 70, Material: world.MaterialStone})

	out, err := NewFinder(1).Find(context.Background(), h.HomeWorld(), 100)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if !out.Accepted() {
		t.Fatalf("stone rejected: %+v", out)
	}
	loc := out.Location
	if loc.Y != 71 {
		t.Fatalf("y=%v want 71", loc.Y)
	}
	for _, v := range []float64{loc.X, loc.Z} {
		frac := v - float64(int(v))
		if v < 0 {
			frac = -frac
		}
		if frac != 0.5 {
			t.Fatalf("coordinate %v not block-centred", v)
		}
		if v < -100 || v >= 100.5 {
			t.Fatalf("coordinate %v outside radius", v)
		}
	}
	if loc.World != "world" {
		t.Fatalf("world=%q", loc.World)
	}
}

func TestFind_RejectsHazards(t *testing.T) {
	for _, m := range []world.Material{world.MaterialWater, world.MaterialLava, world.MaterialPowderSnow} {
		h := worldtest.New()
		h.Script(worldtest.Column{Y: 62, Material: m})
		out, err := NewFinder(2).Find(context.Background(), h.HomeWorld(), 50)
		if err != nil {
			t.Fatalf("%s: %v", m, err)
		}
		if out.Accepted() || out.Hazard != m {
			t.Fatalf("%s accepted: %+v", m, out)
		}
	}
}

func TestFind_LookupErrorIsReturned(t *testing.T) {
	h := worldtest.New()
	boom := errors.New("chunk load failed")
	h.Script(worldtest.Column{Err: boom})
	if _, err := NewFinder(3).Find(context.Background(), h.HomeWorld(), 10); !errors.Is(err, boom) {
		t.Fatalf("err=%v want wrapped %v", err, boom)
	}
	if h.Lookups() != 1 {
		t.Fatalf("finder retried on its own: %d lookups", h.Lookups())
	}
}

func TestFind_ZeroRadiusUsesOrigin(t *testing.T) {
	h := worldtest.New()
	out, err := NewFinder(4).Find(context.Background(), h.HomeWorld(), 0)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if out.Location.X != 0.5 || out.Location.Z != 0.5 {
		t.Fatalf("location=%+v", out.Location)
	}
}
