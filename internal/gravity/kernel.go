package gravity

import (
	"math"

	"github.com/mkruse/treefmm/internal/geom"
)

// Expansion is the accumulated far-field contribution at a sink reference
// point: the force per unit mass and its first and second derivatives with
// respect to sink position. It is a plain value; workers each own their
// cell's expansion, so the parallel contribution pass needs no locks.
type Expansion struct {
	Force    geom.Vec3
	Jacobian geom.Mat3
	Hessian  geom.Tensor3
}

// Accumulate adds the contribution of a point source of mass m at sourcePos
// to the expansion about sinkPos:
//
//	F_i       = -m d_i / r³                       (d = sink - source)
//	J_ij      = -m/r³ (δ_ij - 3 d_i d_j / r²)
//	H_ijk     = 3m/r⁵ (δ_ij d_k + δ_ik d_j + δ_jk d_i - 5 d_i d_j d_k / r²)
//
// Zero separation is a contract violation, not a recoverable case.
func (e *Expansion) Accumulate(sinkPos, sourcePos geom.Vec3, m float64) error {
	d := sinkPos.Sub(sourcePos)
	r2 := d.Dot(d)
	if r2 == 0 {
		return ErrZeroSeparation
	}
	r := math.Sqrt(r2)
	r3 := r * r2

	jc := -m / r3
	e.Force = e.Force.Add(d.Scale(jc))

	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			v := -3 * d[i] * d[j] / r2
			if i == j {
				v++
			}
			e.Jacobian[i*3+j] += jc * v
		}
	}

	hc := 3 * m / (r3 * r2)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			for k := 0; k < 3; k++ {
				v := -5 * d[i] * d[j] * d[k] / r2
				if i == j {
					v += d[k]
				}
				if i == k {
					v += d[j]
				}
				if j == k {
					v += d[i]
				}
				e.Hessian[i*9+j*3+k] += hc * v
			}
		}
	}
	return nil
}

// Add accumulates another expansion componentwise.
func (e *Expansion) Add(o *Expansion) {
	e.Force = e.Force.Add(o.Force)
	e.Jacobian.Accum(&o.Jacobian)
	e.Hessian.Accum(&o.Hessian)
}

// Evaluate computes the second-order Taylor value of the expansion at
// offset dr from the sink reference point: F + J·dr + ½·(H·dr)·dr.
func (e *Expansion) Evaluate(dr geom.Vec3) geom.Vec3 {
	a := e.Force.Add(e.Jacobian.MulVec(dr))
	hd := e.Hessian.Contract(dr)
	return a.Add(hd.MulVec(dr).Scale(0.5))
}

// MaxAbs returns the largest absolute component across all accumulators,
// used for the overflow integrity check.
func (e *Expansion) MaxAbs() float64 {
	m := 0.0
	for _, v := range e.Force {
		m = math.Max(m, math.Abs(v))
	}
	for _, v := range e.Jacobian {
		m = math.Max(m, math.Abs(v))
	}
	for _, v := range e.Hessian {
		m = math.Max(m, math.Abs(v))
	}
	return m
}

// IsValid reports whether all accumulators are finite.
func (e *Expansion) IsValid() bool {
	return !math.IsNaN(e.MaxAbs()) && !math.IsInf(e.MaxAbs(), 0)
}

// Accepts is the multipole acceptance criterion: a source cell may stand in
// for its particles when its extent-to-distance ratio is under theta.
// Smaller theta forces deeper recursion. theta = 0 never accepts, which
// degenerates to exact per-particle summation.
func Accepts(sinkPos geom.Vec3, sourceBox geom.Box, sourcePos geom.Vec3, theta float64) bool {
	dist := sinkPos.Dist(sourcePos)
	if dist == 0 {
		return false
	}
	return sourceBox.Diagonal()/dist < theta
}

// PairwiseAcceleration is the direct Newtonian acceleration induced on a
// body at pos by a source of mass m at sourcePos, -m/r³·Δr.
func PairwiseAcceleration(pos, sourcePos geom.Vec3, m float64) geom.Vec3 {
	d := pos.Sub(sourcePos)
	r2 := d.Dot(d)
	if r2 == 0 {
		return geom.Vec3{}
	}
	r := math.Sqrt(r2)
	return d.Scale(-m / (r * r2))
}
