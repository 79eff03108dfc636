package metrics

import (
	"github.com/mkruse/treefmm/internal/geom"
	"github.com/mkruse/treefmm/internal/tree"
)

// Momentum reports the magnitude of total linear momentum at the last
// observation. For an isolated system it should stay near its initial
// value.
type Momentum struct {
	name string
	last float64
}

func NewMomentum() *Momentum {
	return &Momentum{name: "momentum"}
}

func (m *Momentum) Name() string { return m.name }

func (m *Momentum) Observe(parts []*tree.Particle, t float64) {
	var p geom.Vec3
	for _, b := range parts {
		p = p.Add(b.Vel.Scale(b.Mass))
	}
	m.last = p.Norm()
}

func (m *Momentum) Value() float64 { return m.last }
func (m *Momentum) Reset()         { m.last = 0 }

// ForceResidual reports |Σ m·a| over the particle set at the last
// observation. Exact pairwise gravity cancels by Newton's third law; the
// residual measures the asymmetry the multipole approximation introduces.
type ForceResidual struct {
	name string
	max  float64
}

func NewForceResidual() *ForceResidual {
	return &ForceResidual{name: "force_residual"}
}

func (f *ForceResidual) Name() string { return f.name }

func (f *ForceResidual) Observe(parts []*tree.Particle, t float64) {
	var sum geom.Vec3
	for _, b := range parts {
		sum = sum.Add(b.Acc.Scale(b.Mass))
	}
	if n := sum.Norm(); n > f.max {
		f.max = n
	}
}

func (f *ForceResidual) Value() float64 { return f.max }
func (f *ForceResidual) Reset()         { f.max = 0 }
