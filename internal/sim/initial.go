package sim

import (
	"fmt"
	"math"
	"math/rand"
	"sort"

	"github.com/mkruse/treefmm/internal/geom"
	"github.com/mkruse/treefmm/internal/tree"
)

// MakeBodies generates n unit-total-mass particles in one of the named
// initial shapes. All generated particles are marked locally owned;
// Partition reassigns them for multi-rank runs.
func MakeBodies(shape string, n int, seed int64) ([]*tree.Particle, error) {
	switch shape {
	case "sphere":
		return Sphere(n, seed), nil
	case "disk":
		return Disk(n, seed), nil
	case "ring":
		return Ring(n), nil
	default:
		return nil, fmt.Errorf("sim: unknown initial shape %q", shape)
	}
}

// Sphere draws n bodies uniformly from a unit ball, velocities sampled for
// rough virial balance around the collective center.
func Sphere(n int, seed int64) []*tree.Particle {
	rng := rand.New(rand.NewSource(seed))
	parts := make([]*tree.Particle, n)
	m := 1.0 / float64(n)
	for i := range parts {
		var pos geom.Vec3
		for {
			pos = geom.Vec3{rng.Float64()*2 - 1, rng.Float64()*2 - 1, rng.Float64()*2 - 1}
			if pos.Dot(pos) <= 1 {
				break
			}
		}
		r := pos.Norm()
		// Circular speed for the mass enclosed at radius r, direction
		// perpendicular to the radius in the xy plane.
		vc := math.Sqrt(math.Min(1, r*r*r) / math.Max(r, 1e-3))
		vel := geom.Vec3{-pos[1], pos[0], 0}
		if vn := vel.Norm(); vn > 0 {
			vel = vel.Scale(vc / vn)
		}
		parts[i] = &tree.Particle{
			ID:    uint64(i),
			Pos:   pos,
			Vel:   vel,
			Mass:  m,
			Local: true,
		}
	}
	return parts
}

// Disk places n bodies on a thin rotating disk of unit radius.
func Disk(n int, seed int64) []*tree.Particle {
	rng := rand.New(rand.NewSource(seed))
	parts := make([]*tree.Particle, n)
	m := 1.0 / float64(n)
	for i := range parts {
		r := math.Sqrt(rng.Float64())
		phi := rng.Float64() * 2 * math.Pi
		pos := geom.Vec3{r * math.Cos(phi), r * math.Sin(phi), (rng.Float64() - 0.5) * 0.05}
		vc := math.Sqrt(math.Min(1, r*r) / math.Max(r, 1e-3))
		vel := geom.Vec3{-math.Sin(phi), math.Cos(phi), 0}.Scale(vc)
		parts[i] = &tree.Particle{
			ID:    uint64(i),
			Pos:   pos,
			Vel:   vel,
			Mass:  m,
			Local: true,
		}
	}
	return parts
}

// Ring places n-1 equal masses evenly on a unit circle around one body at
// the center. By symmetry the center body should feel almost no net force.
func Ring(n int) []*tree.Particle {
	if n < 2 {
		n = 2
	}
	parts := make([]*tree.Particle, n)
	m := 1.0 / float64(n)
	parts[0] = &tree.Particle{ID: 0, Mass: m, Local: true}
	for i := 1; i < n; i++ {
		angle := 2 * math.Pi * float64(i-1) / float64(n-1)
		parts[i] = &tree.Particle{
			ID:    uint64(i),
			Pos:   geom.Vec3{math.Cos(angle), math.Sin(angle), 0},
			Mass:  m,
			Local: true,
		}
	}
	return parts
}

// Partition splits bodies into contiguous slabs along the x axis, one per
// rank. Every particle lands in exactly one slab.
func Partition(parts []*tree.Particle, ranks int) [][]*tree.Particle {
	sorted := make([]*tree.Particle, len(parts))
	copy(sorted, parts)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Pos[0] < sorted[j].Pos[0] })

	out := make([][]*tree.Particle, ranks)
	for r := 0; r < ranks; r++ {
		lo := len(sorted) * r / ranks
		hi := len(sorted) * (r + 1) / ranks
		out[r] = sorted[lo:hi:hi]
	}
	return out
}
