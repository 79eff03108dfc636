package metrics

import (
	"math"
	"testing"

	"github.com/mkruse/treefmm/internal/geom"
	"github.com/mkruse/treefmm/internal/tree"
)

func twoBody() []*tree.Particle {
	return []*tree.Particle{
		{ID: 0, Pos: geom.Vec3{0, 0, 0}, Vel: geom.Vec3{0, 1, 0}, Mass: 2, Local: true},
		{ID: 1, Pos: geom.Vec3{2, 0, 0}, Vel: geom.Vec3{0, -1, 0}, Mass: 1, Local: true},
	}
}

func TestTotalEnergy(t *testing.T) {
	parts := twoBody()

	// KE = 0.5*2*1 + 0.5*1*1 = 1.5; PE = -2*1/2 = -1.
	want := 0.5
	got := TotalEnergy(parts)
	if math.Abs(got-want) > 1e-12 {
		t.Errorf("energy: got %f, expected %f", got, want)
	}
}

func TestTotalEnergySkipsCoincident(t *testing.T) {
	parts := []*tree.Particle{
		{Pos: geom.Vec3{1, 1, 1}, Mass: 1},
		{Pos: geom.Vec3{1, 1, 1}, Mass: 1},
	}
	if got := TotalEnergy(parts); math.IsInf(got, 0) || math.IsNaN(got) {
		t.Errorf("coincident pair should not blow up, got %f", got)
	}
}

func TestEnergyDrift(t *testing.T) {
	m := NewEnergyDrift()
	parts := twoBody()

	m.Observe(parts, 0)
	if m.Value() != 0 {
		t.Errorf("no drift after first observation, got %f", m.Value())
	}

	// Doubling a velocity changes the energy; drift becomes positive.
	parts[0].Vel = geom.Vec3{0, 2, 0}
	m.Observe(parts, 1)
	if m.Value() <= 0 {
		t.Error("expected positive drift after perturbation")
	}

	// Drift is a running maximum: restoring the state does not lower it.
	high := m.Value()
	parts[0].Vel = geom.Vec3{0, 1, 0}
	m.Observe(parts, 2)
	if m.Value() != high {
		t.Errorf("drift should hold its maximum, got %f, expected %f", m.Value(), high)
	}

	m.Reset()
	if m.Value() != 0 {
		t.Error("expected zero drift after reset")
	}
}

func TestMomentum(t *testing.T) {
	m := NewMomentum()
	m.Observe(twoBody(), 0)

	// p = 2*(0,1,0) + 1*(0,-1,0) = (0,1,0).
	if math.Abs(m.Value()-1) > 1e-12 {
		t.Errorf("momentum: got %f, expected 1", m.Value())
	}

	m.Reset()
	if m.Value() != 0 {
		t.Error("expected zero after reset")
	}
}

func TestForceResidual(t *testing.T) {
	f := NewForceResidual()

	// Equal and opposite m·a: residual zero.
	parts := []*tree.Particle{
		{Acc: geom.Vec3{1, 0, 0}, Mass: 1},
		{Acc: geom.Vec3{-0.5, 0, 0}, Mass: 2},
	}
	f.Observe(parts, 0)
	if f.Value() != 0 {
		t.Errorf("balanced forces: got %f", f.Value())
	}

	parts[0].Acc = geom.Vec3{2, 0, 0}
	f.Observe(parts, 1)
	if math.Abs(f.Value()-1) > 1e-12 {
		t.Errorf("residual: got %f, expected 1", f.Value())
	}

	// Running maximum.
	parts[0].Acc = geom.Vec3{1, 0, 0}
	f.Observe(parts, 2)
	if math.Abs(f.Value()-1) > 1e-12 {
		t.Errorf("residual should hold its maximum, got %f", f.Value())
	}
}
