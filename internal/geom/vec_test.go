package geom

import (
	"math"
	"testing"
)

func TestVecOps(t *testing.T) {
	a := Vec3{1, 2, 3}
	b := Vec3{4, -5, 6}

	if got := a.Add(b); got != (Vec3{5, -3, 9}) {
		t.Errorf("add: got %v", got)
	}
	if got := a.Sub(b); got != (Vec3{-3, 7, -3}) {
		t.Errorf("sub: got %v", got)
	}
	if got := a.Scale(2); got != (Vec3{2, 4, 6}) {
		t.Errorf("scale: got %v", got)
	}
	if got := a.Dot(b); got != 12 {
		t.Errorf("dot: got %f", got)
	}
	if got := (Vec3{3, 4, 0}).Norm(); got != 5 {
		t.Errorf("norm: got %f", got)
	}
	if got := a.Dist(a); got != 0 {
		t.Errorf("self distance: got %f", got)
	}
}

func TestVecIsValid(t *testing.T) {
	if !(Vec3{1, 2, 3}).IsValid() {
		t.Error("finite vector should be valid")
	}
	if (Vec3{math.NaN(), 0, 0}).IsValid() {
		t.Error("NaN component should be invalid")
	}
	if (Vec3{0, math.Inf(1), 0}).IsValid() {
		t.Error("Inf component should be invalid")
	}
}

func TestMat3MulVec(t *testing.T) {
	// Row-major identity plus a known off-diagonal entry.
	m := Mat3{
		1, 0, 2,
		0, 1, 0,
		0, 0, 1,
	}
	got := m.MulVec(Vec3{1, 2, 3})
	if got != (Vec3{7, 2, 3}) {
		t.Errorf("mulvec: got %v", got)
	}
}

func TestMat3Accum(t *testing.T) {
	a := Mat3{1, 1, 1, 1, 1, 1, 1, 1, 1}
	b := Mat3{1, 2, 3, 4, 5, 6, 7, 8, 9}
	a.Accum(&b)
	if a[0] != 2 || a[8] != 10 {
		t.Errorf("accum: got %v", a)
	}
}

func TestTensor3Contract(t *testing.T) {
	// t[i][j][k] = 1 only at (0,1,2); contracting with v picks out v[2].
	var tn Tensor3
	tn[0*9+1*3+2] = 1
	m := tn.Contract(Vec3{5, 6, 7})
	if m[0*3+1] != 7 {
		t.Errorf("contract: got %v", m)
	}
	for i, v := range m {
		if i != 1 && v != 0 {
			t.Errorf("contract: unexpected entry %d = %f", i, v)
		}
	}
}
