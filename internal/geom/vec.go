package geom

import "math"

// Vec3 is a 3-component vector of float64.
type Vec3 [3]float64

func (v Vec3) Add(o Vec3) Vec3 {
	return Vec3{v[0] + o[0], v[1] + o[1], v[2] + o[2]}
}

func (v Vec3) Sub(o Vec3) Vec3 {
	return Vec3{v[0] - o[0], v[1] - o[1], v[2] - o[2]}
}

func (v Vec3) Scale(s float64) Vec3 {
	return Vec3{v[0] * s, v[1] * s, v[2] * s}
}

func (v Vec3) Dot(o Vec3) float64 {
	return v[0]*o[0] + v[1]*o[1] + v[2]*o[2]
}

func (v Vec3) Norm() float64 {
	return math.Sqrt(v.Dot(v))
}

func (v Vec3) Dist(o Vec3) float64 {
	return v.Sub(o).Norm()
}

func (v Vec3) IsValid() bool {
	for _, c := range v {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return false
		}
	}
	return true
}

// Mat3 is a 3x3 matrix stored row-major.
type Mat3 [9]float64

func (m *Mat3) Accum(o *Mat3) {
	for i := range m {
		m[i] += o[i]
	}
}

// MulVec returns m * v.
func (m *Mat3) MulVec(v Vec3) Vec3 {
	var r Vec3
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			r[i] += m[i*3+j] * v[j]
		}
	}
	return r
}

// Tensor3 is a 3x3x3 tensor stored flat, index [i*9 + j*3 + k].
type Tensor3 [27]float64

func (t *Tensor3) Accum(o *Tensor3) {
	for i := range t {
		t[i] += o[i]
	}
}

// Contract returns the matrix t·v with entries sum_k t[i][j][k] * v[k].
func (t *Tensor3) Contract(v Vec3) Mat3 {
	var m Mat3
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			for k := 0; k < 3; k++ {
				m[i*3+j] += t[i*9+j*3+k] * v[k]
			}
		}
	}
	return m
}
