package geom

import (
	"math"
	"testing"
)

func TestNewBox(t *testing.T) {
	b := NewBox(Vec3{1, 5, -2}, Vec3{-1, 2, 4}, Vec3{0, 0, 0})
	if b.Min != (Vec3{-1, 0, -2}) {
		t.Errorf("min: got %v", b.Min)
	}
	if b.Max != (Vec3{1, 5, 4}) {
		t.Errorf("max: got %v", b.Max)
	}

	if got := NewBox(); !got.Equal(Box{}) {
		t.Errorf("empty point set: got %v", got)
	}
}

func TestBoxCenterDiagonal(t *testing.T) {
	b := Box{Min: Vec3{0, 0, 0}, Max: Vec3{2, 2, 2}}
	if b.Center() != (Vec3{1, 1, 1}) {
		t.Errorf("center: got %v", b.Center())
	}
	want := 2 * math.Sqrt(3)
	if math.Abs(b.Diagonal()-want) > 1e-12 {
		t.Errorf("diagonal: got %f, expected %f", b.Diagonal(), want)
	}
}

func TestBoxIntersects(t *testing.T) {
	a := Box{Min: Vec3{0, 0, 0}, Max: Vec3{1, 1, 1}}
	b := Box{Min: Vec3{0.5, 0.5, 0.5}, Max: Vec3{2, 2, 2}}
	c := Box{Min: Vec3{1, 0, 0}, Max: Vec3{2, 1, 1}}
	d := Box{Min: Vec3{3, 3, 3}, Max: Vec3{4, 4, 4}}

	if !a.Intersects(b) {
		t.Error("overlapping boxes should intersect")
	}
	if !a.Intersects(c) {
		t.Error("touching faces should count as intersecting")
	}
	if a.Intersects(d) {
		t.Error("disjoint boxes should not intersect")
	}
}

func TestBoxContainsStrict(t *testing.T) {
	b := Box{Min: Vec3{0, 0, 0}, Max: Vec3{1, 1, 1}}

	if !b.ContainsStrict(Vec3{0.5, 0.5, 0.5}) {
		t.Error("interior point should be contained")
	}
	if b.ContainsStrict(Vec3{0, 0.5, 0.5}) {
		t.Error("boundary point should not be strictly contained")
	}
	if b.ContainsStrict(Vec3{2, 0.5, 0.5}) {
		t.Error("exterior point should not be contained")
	}
}

func TestBoxContainsBoxStrict(t *testing.T) {
	outer := Box{Min: Vec3{0, 0, 0}, Max: Vec3{4, 4, 4}}
	inner := Box{Min: Vec3{1, 1, 1}, Max: Vec3{2, 2, 2}}
	flush := Box{Min: Vec3{0, 1, 1}, Max: Vec3{2, 2, 2}}

	if !outer.ContainsBoxStrict(inner) {
		t.Error("nested box should be strictly contained")
	}
	if outer.ContainsBoxStrict(flush) {
		t.Error("box sharing a face should not be strictly contained")
	}
	if outer.ContainsBoxStrict(outer) {
		t.Error("a box never strictly contains itself")
	}
}

func TestBoxOctants(t *testing.T) {
	b := Box{Min: Vec3{0, 0, 0}, Max: Vec3{2, 2, 2}}

	// Child boxes partition the parent: each point maps to the octant that
	// actually contains it.
	points := []Vec3{
		{0.5, 0.5, 0.5},
		{1.5, 0.5, 0.5},
		{0.5, 1.5, 0.5},
		{1.5, 1.5, 1.5},
	}
	for _, p := range points {
		oct := b.OctantOf(p)
		child := b.Octant(oct)
		if !child.ContainsStrict(p) {
			t.Errorf("point %v: octant %d box %v does not contain it", p, oct, child)
		}
	}

	// Center goes to the all-upper octant by the >= convention.
	if got := b.OctantOf(Vec3{1, 1, 1}); got != 7 {
		t.Errorf("center octant: got %d, expected 7", got)
	}
}
