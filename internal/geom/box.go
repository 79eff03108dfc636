package geom

// Box is an axis-aligned bounding box given by its min and max corners.
type Box struct {
	Min Vec3
	Max Vec3
}

// NewBox returns the smallest box enclosing all points. The zero Box is
// returned for an empty point set.
func NewBox(points ...Vec3) Box {
	if len(points) == 0 {
		return Box{}
	}
	b := Box{Min: points[0], Max: points[0]}
	for _, p := range points[1:] {
		b = b.Extend(p)
	}
	return b
}

// Extend grows the box to enclose p.
func (b Box) Extend(p Vec3) Box {
	for i := 0; i < 3; i++ {
		if p[i] < b.Min[i] {
			b.Min[i] = p[i]
		}
		if p[i] > b.Max[i] {
			b.Max[i] = p[i]
		}
	}
	return b
}

func (b Box) Center() Vec3 {
	return b.Min.Add(b.Max).Scale(0.5)
}

// Diagonal is the length of the box diagonal, the extent used by the
// multipole acceptance test.
func (b Box) Diagonal() float64 {
	return b.Max.Dist(b.Min)
}

// Intersects reports per-axis range overlap. Touching faces count as
// intersecting.
func (b Box) Intersects(o Box) bool {
	for i := 0; i < 3; i++ {
		if b.Min[i] > o.Max[i] || b.Max[i] < o.Min[i] {
			return false
		}
	}
	return true
}

// ContainsStrict reports whether p lies strictly inside the box on every
// axis. Points on the boundary are outside.
func (b Box) ContainsStrict(p Vec3) bool {
	for i := 0; i < 3; i++ {
		if p[i] <= b.Min[i] || p[i] >= b.Max[i] {
			return false
		}
	}
	return true
}

// ContainsBoxStrict reports whether o is strictly nested inside b on every
// axis.
func (b Box) ContainsBoxStrict(o Box) bool {
	for i := 0; i < 3; i++ {
		if o.Min[i] <= b.Min[i] || o.Max[i] >= b.Max[i] {
			return false
		}
	}
	return true
}

func (b Box) Equal(o Box) bool {
	return b.Min == o.Min && b.Max == o.Max
}

// Octant returns the child box for octant i (bit 0 selects the upper x
// half, bit 1 the upper y half, bit 2 the upper z half).
func (b Box) Octant(i int) Box {
	c := b.Center()
	child := b
	for axis := 0; axis < 3; axis++ {
		if i&(1<<axis) != 0 {
			child.Min[axis] = c[axis]
		} else {
			child.Max[axis] = c[axis]
		}
	}
	return child
}

// OctantOf returns the octant index of p relative to the box center.
func (b Box) OctantOf(p Vec3) int {
	c := b.Center()
	i := 0
	for axis := 0; axis < 3; axis++ {
		if p[axis] >= c[axis] {
			i |= 1 << axis
		}
	}
	return i
}
