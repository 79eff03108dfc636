package gravity

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/mkruse/treefmm/internal/geom"
	"github.com/mkruse/treefmm/internal/tree"
)

// Cell is the flat summary of one tree branch exchanged between ranks:
// the branch position and bounds, its identifier, and the force, Jacobian,
// and Hessian accumulator slots filled by the contribution pass. Rank and
// Seq tag the record with its origin so the positional matching of the
// reduction step is checkable rather than implicit.
//
// Cells are created fresh for every pass and discarded after application.
type Cell struct {
	Pos  geom.Vec3
	Exp  Expansion
	Box  geom.Box
	ID   tree.BranchID
	Rank int32
	Seq  int32
}

// CellSize is the encoded size of one Cell: 48 float64 words, the branch
// identifier, and the two origin tags.
const CellSize = 48*8 + 8 + 4 + 4

// SelectCells walks the tree depth-first and returns this rank's
// communication cells: branches that are leaves or whose locally-owned mass
// is under maxMass are selected and not descended; zero-mass branches are
// pruned. The union of selected subtrees covers every locally-owned
// particle exactly once, and the depth-first order is the positional
// contract the later reduction relies on.
func SelectCells(t *tree.Tree, maxMass float64, rank int) []Cell {
	var cells []Cell
	var walk func(idx int32)
	walk = func(idx int32) {
		if t.Mass(idx) == 0 {
			return
		}
		if t.IsLeaf(idx) || t.Mass(idx) < maxMass {
			cells = append(cells, Cell{
				Pos:  t.Position(idx),
				Box:  t.Bounds(idx),
				ID:   t.ID(idx),
				Rank: int32(rank),
				Seq:  int32(len(cells)),
			})
			return
		}
		for _, c := range t.Children(idx, nil) {
			walk(c)
		}
	}
	walk(t.Root())
	return cells
}

// EncodeCells packs cells into the flat little-endian wire layout used by
// the bulk collectives.
func EncodeCells(cells []Cell) []byte {
	buf := make([]byte, len(cells)*CellSize)
	for i := range cells {
		cells[i].marshal(buf[i*CellSize:])
	}
	return buf
}

// DecodeCells unpacks a buffer produced by EncodeCells.
func DecodeCells(buf []byte) ([]Cell, error) {
	if len(buf)%CellSize != 0 {
		return nil, fmt.Errorf("gravity: cell buffer of %d bytes is not a multiple of %d", len(buf), CellSize)
	}
	cells := make([]Cell, len(buf)/CellSize)
	for i := range cells {
		cells[i].unmarshal(buf[i*CellSize:])
	}
	return cells, nil
}

func (c *Cell) marshal(b []byte) {
	off := 0
	put := func(v float64) {
		binary.LittleEndian.PutUint64(b[off:], math.Float64bits(v))
		off += 8
	}
	for _, v := range c.Pos {
		put(v)
	}
	for _, v := range c.Exp.Force {
		put(v)
	}
	for _, v := range c.Exp.Jacobian {
		put(v)
	}
	for _, v := range c.Exp.Hessian {
		put(v)
	}
	for _, v := range c.Box.Min {
		put(v)
	}
	for _, v := range c.Box.Max {
		put(v)
	}
	binary.LittleEndian.PutUint64(b[off:], uint64(c.ID))
	off += 8
	binary.LittleEndian.PutUint32(b[off:], uint32(c.Rank))
	off += 4
	binary.LittleEndian.PutUint32(b[off:], uint32(c.Seq))
}

func (c *Cell) unmarshal(b []byte) {
	off := 0
	get := func() float64 {
		v := math.Float64frombits(binary.LittleEndian.Uint64(b[off:]))
		off += 8
		return v
	}
	for i := range c.Pos {
		c.Pos[i] = get()
	}
	for i := range c.Exp.Force {
		c.Exp.Force[i] = get()
	}
	for i := range c.Exp.Jacobian {
		c.Exp.Jacobian[i] = get()
	}
	for i := range c.Exp.Hessian {
		c.Exp.Hessian[i] = get()
	}
	for i := range c.Box.Min {
		c.Box.Min[i] = get()
	}
	for i := range c.Box.Max {
		c.Box.Max[i] = get()
	}
	c.ID = tree.BranchID(binary.LittleEndian.Uint64(b[off:]))
	off += 8
	c.Rank = int32(binary.LittleEndian.Uint32(b[off:]))
	off += 4
	c.Seq = int32(binary.LittleEndian.Uint32(b[off:]))
}

// sameOrigin reports whether two records describe the same originating
// cell, the consistency check behind the positional reduction.
func sameOrigin(a, b *Cell) bool {
	return a.ID == b.ID && a.Pos == b.Pos && a.Rank == b.Rank && a.Seq == b.Seq
}
