// Package tree builds the per-rank octree the gravity engine traverses.
//
// Branches live in a flat arena and are addressed by index; every branch
// also carries a BranchID derived from its octant path, stable for a given
// root box regardless of insertion order. The gravity engine consumes the
// tree read-only, except for additive writes to particle accelerations.
package tree

import (
	"fmt"

	"github.com/mkruse/treefmm/internal/geom"
)

// BranchID is a path-derived branch key: the root is 1, and descending into
// octant o appends three bits (id<<3 | o). Identical for a given geometry on
// every rank, which is what lets a reduced communication cell be looked up
// again on its owning rank.
type BranchID uint64

// RootID is the BranchID of the root branch.
const RootID BranchID = 1

// maxDepth caps subdivision so co-located particles cannot recurse forever
// and so path keys fit in 64 bits (1 + 21*3 = 64).
const maxDepth = 20

// DefaultLeafCap is the default number of particles a leaf may hold before
// it splits.
const DefaultLeafCap = 8

type node struct {
	id       BranchID
	box      geom.Box // tight bounds of all particles beneath, local and ghost
	cell     geom.Box // octant cell used for splitting
	com      geom.Vec3
	mass     float64 // locally-owned mass only
	leaf     bool
	depth    int
	children [8]int32
	parts    []*Particle
}

// Tree is an arena octree over a set of particles.
type Tree struct {
	nodes []node
	index map[BranchID]int32
}

// Build constructs an octree over parts with at most leafCap particles per
// leaf. An error is returned for an empty particle set or a non-positive
// leaf capacity.
func Build(parts []*Particle, leafCap int) (*Tree, error) {
	if len(parts) == 0 {
		return nil, fmt.Errorf("tree: no particles to build from")
	}
	if leafCap <= 0 {
		return nil, fmt.Errorf("tree: leaf capacity must be positive, got %d", leafCap)
	}

	points := make([]geom.Vec3, len(parts))
	for i, p := range parts {
		points[i] = p.Pos
	}
	rootCell := pad(geom.NewBox(points...))

	t := &Tree{index: make(map[BranchID]int32)}
	t.newNode(RootID, rootCell, 0)
	for _, p := range parts {
		t.insert(0, p, leafCap)
	}
	t.aggregate(0)
	return t, nil
}

// pad grows the root cell slightly so boundary particles are strictly
// inside and a degenerate (single-point) cloud still has volume.
func pad(b geom.Box) geom.Box {
	const eps = 1e-9
	for i := 0; i < 3; i++ {
		w := b.Max[i] - b.Min[i]
		if w < eps {
			w = eps
		}
		b.Min[i] -= w * 1e-3
		b.Max[i] += w * 1e-3
	}
	return b
}

func (t *Tree) newNode(id BranchID, cell geom.Box, depth int) int32 {
	idx := int32(len(t.nodes))
	n := node{id: id, cell: cell, leaf: true, depth: depth}
	for i := range n.children {
		n.children[i] = -1
	}
	t.nodes = append(t.nodes, n)
	t.index[id] = idx
	return idx
}

func (t *Tree) insert(idx int32, p *Particle, leafCap int) {
	n := &t.nodes[idx]
	if n.leaf {
		n.parts = append(n.parts, p)
		if len(n.parts) > leafCap && n.depth < maxDepth {
			t.split(idx, leafCap)
		}
		return
	}
	t.insertChild(idx, p, leafCap)
}

func (t *Tree) split(idx int32, leafCap int) {
	parts := t.nodes[idx].parts
	t.nodes[idx].parts = nil
	t.nodes[idx].leaf = false
	for _, p := range parts {
		t.insertChild(idx, p, leafCap)
	}
}

func (t *Tree) insertChild(idx int32, p *Particle, leafCap int) {
	// The arena may reallocate while descending, so re-read the node after
	// any append.
	oct := t.nodes[idx].cell.OctantOf(p.Pos)
	child := t.nodes[idx].children[oct]
	if child < 0 {
		id := t.nodes[idx].id<<3 | BranchID(oct)
		cell := t.nodes[idx].cell.Octant(oct)
		depth := t.nodes[idx].depth + 1
		child = t.newNode(id, cell, depth)
		t.nodes[idx].children[oct] = child
	}
	t.insert(child, p, leafCap)
}

// aggregate fills mass, center of mass, and tight bounds bottom-up. Mass and
// center of mass come from locally-owned particles only; a branch holding
// nothing local has zero mass and its center of mass falls back to the
// geometric center of its bounds.
func (t *Tree) aggregate(idx int32) {
	n := &t.nodes[idx]
	if n.leaf {
		n.box = geom.NewBox(n.parts[0].Pos)
		var weighted geom.Vec3
		for _, p := range n.parts {
			n.box = n.box.Extend(p.Pos)
			if p.Local {
				n.mass += p.Mass
				weighted = weighted.Add(p.Pos.Scale(p.Mass))
			}
		}
		if n.mass > 0 {
			n.com = weighted.Scale(1 / n.mass)
		} else {
			n.com = n.box.Center()
		}
		return
	}

	first := true
	var weighted geom.Vec3
	for _, c := range n.children {
		if c < 0 {
			continue
		}
		t.aggregate(c)
		child := &t.nodes[c]
		if first {
			n.box = child.box
			first = false
		} else {
			n.box = n.box.Extend(child.box.Min).Extend(child.box.Max)
		}
		n.mass += child.mass
		weighted = weighted.Add(child.com.Scale(child.mass))
	}
	if n.mass > 0 {
		n.com = weighted.Scale(1 / n.mass)
	} else {
		n.com = n.box.Center()
	}
}

// Root returns the arena index of the root branch.
func (t *Tree) Root() int32 { return 0 }

// Len returns the number of branches in the arena.
func (t *Tree) Len() int { return len(t.nodes) }

// Children appends the arena indexes of idx's existing children to dst and
// returns it. Absent octants are skipped.
func (t *Tree) Children(idx int32, dst []int32) []int32 {
	for _, c := range t.nodes[idx].children {
		if c >= 0 {
			dst = append(dst, c)
		}
	}
	return dst
}

func (t *Tree) IsLeaf(idx int32) bool { return t.nodes[idx].leaf }

// Mass returns the locally-owned mass aggregated beneath the branch.
func (t *Tree) Mass(idx int32) float64 { return t.nodes[idx].mass }

// Position returns the branch center of mass.
func (t *Tree) Position(idx int32) geom.Vec3 { return t.nodes[idx].com }

// Bounds returns the tight bounding box of all particles beneath the branch.
func (t *Tree) Bounds(idx int32) geom.Box { return t.nodes[idx].box }

// ID returns the stable path key of the branch.
func (t *Tree) ID(idx int32) BranchID { return t.nodes[idx].id }

// Lookup resolves a branch by its path key.
func (t *Tree) Lookup(id BranchID) (int32, bool) {
	idx, ok := t.index[id]
	return idx, ok
}

// Particles returns the particles held by a leaf branch. It is nil for
// interior branches.
func (t *Tree) Particles(idx int32) []*Particle { return t.nodes[idx].parts }
