package gravity

import (
	"fmt"

	"github.com/mkruse/treefmm/internal/geom"
	"github.com/mkruse/treefmm/internal/tree"
)

// sinkRegion is the fixed sink of one cell-to-cell traversal, rebuilt from
// a communication cell. It deliberately carries no branch handle: the sink
// usually belongs to another rank's tree.
type sinkRegion struct {
	pos geom.Vec3
	box geom.Box
}

// cellToCell descends the local tree from src and accumulates into exp the
// far-field contribution seen by the sink. Skip rules, in priority order:
//
//  1. zero aggregate mass: nothing locally owned below src
//  2. identical bounds: the sink's own cell, covered by the near-field pass
//  3. src strictly nested in the sink's box: near-field content, deferred
//     to the exact pairwise correction
//
// Otherwise the source is either accepted whole as a point mass, expanded
// particle by particle at a leaf (excluding particles inside the sink's
// box), or recursed into its children. Boxes that partially overlap the
// sink are always recursed.
func cellToCell(t *tree.Tree, sink sinkRegion, src int32, theta float64, exp *Expansion) error {
	if t.Mass(src) == 0 {
		return nil
	}
	srcBox := t.Bounds(src)
	if sink.box.Equal(srcBox) {
		return nil
	}
	if sink.box.ContainsBoxStrict(srcBox) {
		return nil
	}

	if Accepts(sink.pos, srcBox, t.Position(src), theta) {
		if err := exp.Accumulate(sink.pos, t.Position(src), t.Mass(src)); err != nil {
			return fmt.Errorf("branch %d: %w", t.ID(src), err)
		}
		return nil
	}

	if t.IsLeaf(src) {
		for _, p := range t.Particles(src) {
			if !p.Local {
				continue
			}
			if sink.box.ContainsStrict(p.Pos) {
				continue
			}
			if err := exp.Accumulate(sink.pos, p.Pos, p.Mass); err != nil {
				return fmt.Errorf("particle %d: %w", p.ID, err)
			}
		}
		return nil
	}

	for _, c := range t.Children(src, nil) {
		if err := cellToCell(t, sink, c, theta, exp); err != nil {
			return err
		}
	}
	return nil
}

// applyExpansion pushes a reduced expansion down the sink's own subtree,
// evaluating the second-order Taylor expansion about sinkPos at every
// locally-owned particle and adding the result into its acceleration. The
// touched particles are collected for the near-field pass.
func applyExpansion(t *tree.Tree, idx int32, sinkPos geom.Vec3, exp *Expansion, touched []*tree.Particle) []*tree.Particle {
	if t.Mass(idx) <= 0 {
		return touched
	}
	if !t.IsLeaf(idx) {
		for _, c := range t.Children(idx, nil) {
			touched = applyExpansion(t, c, sinkPos, exp, touched)
		}
		return touched
	}
	for _, p := range t.Particles(idx) {
		if !p.Local {
			continue
		}
		dr := p.Pos.Sub(sinkPos)
		p.Acc = p.Acc.Add(exp.Evaluate(dr))
		touched = append(touched, p)
	}
	return touched
}

// nearFieldCorrection adds the exact pairwise Newtonian acceleration among
// the particles of one sink cell, repairing the opening-angle error for
// close neighbors. Self-pairs and co-located pairs contribute nothing.
func nearFieldCorrection(parts []*tree.Particle) {
	for _, pi := range parts {
		var grav geom.Vec3
		for _, pj := range parts {
			grav = grav.Add(PairwiseAcceleration(pi.Pos, pj.Pos, pj.Mass))
		}
		pi.Acc = pi.Acc.Add(grav)
	}
}
