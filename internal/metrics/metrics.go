// Package metrics provides diagnostics observed over a particle set during
// a simulation run.
package metrics

import (
	"github.com/mkruse/treefmm/internal/tree"
)

// Metric observes the particle set after every step.
type Metric interface {
	Name() string
	Observe(parts []*tree.Particle, t float64)
	Value() float64
	Reset()
}

// TotalEnergy returns kinetic plus pairwise potential energy (G = 1) of the
// given particles. The potential sum is O(n²); it is a diagnostic, not part
// of the force computation.
func TotalEnergy(parts []*tree.Particle) float64 {
	ke := 0.0
	pe := 0.0
	for i, p := range parts {
		ke += 0.5 * p.Mass * p.Vel.Dot(p.Vel)
		for _, q := range parts[i+1:] {
			r := p.Pos.Dist(q.Pos)
			if r > 0 {
				pe -= p.Mass * q.Mass / r
			}
		}
	}
	return ke + pe
}
