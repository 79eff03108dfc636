// Package gravity computes long-range gravitational accelerations with a
// distributed multipole method. Each rank selects coarse cells from its
// local tree, all ranks exchange cell lists, every rank contributes a
// force/Jacobian/Hessian expansion to every cell from its own tree, the
// contributions are exchanged back and summed, and each owning rank pushes
// the reduced expansion into its particles with an exact near-field
// correction.
package gravity

import (
	"context"
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/mkruse/treefmm/internal/cluster"
	"github.com/mkruse/treefmm/internal/tree"
)

// Phase identifies where a pass currently is. Phases never overlap: each
// one's output is fully materialized before the next begins, because the
// reduction needs a complete, globally consistent contribution set.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseSelecting
	PhaseExchangingCells
	PhaseContributing
	PhaseExchangingContributions
	PhaseReducing
	PhaseApplying
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseSelecting:
		return "selecting"
	case PhaseExchangingCells:
		return "exchanging cells"
	case PhaseContributing:
		return "contributing"
	case PhaseExchangingContributions:
		return "exchanging contributions"
	case PhaseReducing:
		return "reducing"
	case PhaseApplying:
		return "applying"
	}
	return "unknown"
}

// DefaultMaxAccumulator bounds accumulator magnitudes before the reduction
// flags a near-singular configuration. Hessian terms grow like m/r⁵, so
// dense but healthy clusters reach 1e9 and beyond; the default only has to
// catch runaway values on the way to overflow.
const DefaultMaxAccumulator = 1e15

// Params are the tunables of one evaluation pass. Theta trades accuracy for
// cost; MaxMass decides how coarse the exchanged cells are.
type Params struct {
	// Theta is the opening angle of the multipole acceptance criterion.
	// Zero forces exact enumeration.
	Theta float64

	// MaxMass is the selection threshold: branches below it become
	// communication cells.
	MaxMass float64

	// Workers bounds the parallel contribution pass. Zero means NumCPU.
	Workers int

	// MaxAccumulator is the overflow bound on reduced accumulators. Zero
	// means DefaultMaxAccumulator.
	MaxAccumulator float64
}

// Observer is notified at every phase transition of a pass.
type Observer interface {
	OnPhase(phase Phase, rank int)
}

// Pass runs distributed gravity evaluations over a communicator. A Pass is
// reusable across steps but not safe for concurrent Runs.
type Pass struct {
	comm      cluster.Communicator
	observers []Observer
}

func NewPass(comm cluster.Communicator) *Pass {
	return &Pass{comm: comm}
}

func (p *Pass) AddObserver(o Observer) { p.observers = append(p.observers, o) }

func (p *Pass) phase(ph Phase) {
	for _, o := range p.observers {
		o.OnPhase(ph, p.comm.Rank())
	}
}

// Run executes one full evaluation pass against the local tree, leaving
// updated accelerations on all locally-owned particles. Every rank of the
// group must call Run with the same parameters; the collectives inside
// block until all ranks arrive. Accelerations are added, never overwritten.
func (p *Pass) Run(ctx context.Context, t *tree.Tree, params Params) error {
	if err := params.validate(); err != nil {
		return err
	}
	rank := p.comm.Rank()
	defer p.phase(PhaseIdle)

	p.phase(PhaseSelecting)
	local := SelectCells(t, params.MaxMass, rank)

	p.phase(PhaseExchangingCells)
	if err := ctx.Err(); err != nil {
		return err
	}
	counts, global, err := p.exchangeCells(local)
	if err != nil {
		return &PassError{Phase: PhaseExchangingCells, Rank: rank, Wrapped: err}
	}

	p.phase(PhaseContributing)
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := p.contribute(ctx, t, params, global); err != nil {
		return &PassError{Phase: PhaseContributing, Rank: rank, Wrapped: err}
	}

	p.phase(PhaseExchangingContributions)
	if err := ctx.Err(); err != nil {
		return err
	}
	contribs, err := p.exchangeContributions(global, counts, len(local))
	if err != nil {
		return &PassError{Phase: PhaseExchangingContributions, Rank: rank, Wrapped: err}
	}

	p.phase(PhaseReducing)
	reduced, err := reduce(contribs, local, params.maxAccumulator())
	if err != nil {
		return &PassError{Phase: PhaseReducing, Rank: rank, Wrapped: err}
	}

	p.phase(PhaseApplying)
	if err := ctx.Err(); err != nil {
		return err
	}
	for i := range reduced {
		cell := &reduced[i]
		idx, ok := t.Lookup(cell.ID)
		if !ok {
			return &PassError{Phase: PhaseApplying, Rank: rank, Cell: cell.ID, Wrapped: ErrCellNotFound}
		}
		touched := applyExpansion(t, idx, cell.Pos, &cell.Exp, nil)
		nearFieldCorrection(touched)
	}
	return nil
}

func (p *Params) validate() error {
	if p.Theta < 0 {
		return fmt.Errorf("gravity: theta must be non-negative, got %f", p.Theta)
	}
	if p.MaxMass <= 0 {
		return fmt.Errorf("gravity: mass threshold must be positive, got %f", p.MaxMass)
	}
	return nil
}

func (p *Params) workers() int {
	if p.Workers > 0 {
		return p.Workers
	}
	return runtime.NumCPU()
}

func (p *Params) maxAccumulator() float64 {
	if p.MaxAccumulator > 0 {
		return p.MaxAccumulator
	}
	return DefaultMaxAccumulator
}

// exchangeCells publishes the local cell list and returns every rank's cell
// count plus the concatenated, rank-ordered global list. The slots this
// rank gets back for itself must match what it sent; a disagreement means
// the ranks' trees were built against different partitions.
func (p *Pass) exchangeCells(local []Cell) ([]int, []Cell, error) {
	counts, err := p.comm.AllGatherInts(len(local))
	if err != nil {
		return nil, nil, err
	}
	blobs, err := p.comm.AllGatherBytes(EncodeCells(local))
	if err != nil {
		return nil, nil, err
	}

	var global []Cell
	for r, blob := range blobs {
		cells, err := DecodeCells(blob)
		if err != nil {
			return nil, nil, fmt.Errorf("from rank %d: %w", r, err)
		}
		if len(cells) != counts[r] {
			return nil, nil, fmt.Errorf("%w: rank %d announced %d cells, sent %d",
				ErrExchangeMismatch, r, counts[r], len(cells))
		}
		if r == p.comm.Rank() {
			for i := range cells {
				if !sameOrigin(&cells[i], &local[i]) {
					return nil, nil, fmt.Errorf("%w: own cell %d came back altered", ErrExchangeMismatch, i)
				}
			}
		}
		global = append(global, cells...)
	}
	return counts, global, nil
}

// contribute fills every global cell's accumulators from the local tree.
// Cells are independent and each is written by exactly one worker, so the
// loop runs lock-free.
func (p *Pass) contribute(ctx context.Context, t *tree.Tree, params Params, global []Cell) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(params.workers())
	for i := range global {
		cell := &global[i]
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			sink := sinkRegion{pos: cell.Pos, box: cell.Box}
			return cellToCell(t, sink, t.Root(), params.Theta, &cell.Exp)
		})
	}
	return g.Wait()
}

// exchangeContributions routes each filled cell back to its owning rank.
// The global list is already grouped by owner in rank order, so the
// per-destination byte counts fall out of the cell counts.
func (p *Pass) exchangeContributions(global []Cell, counts []int, nLocal int) ([][]Cell, error) {
	sendCounts := make([]int, len(counts))
	for r, c := range counts {
		sendCounts[r] = c * CellSize
	}
	blocks, err := p.comm.AllToAll(EncodeCells(global), sendCounts)
	if err != nil {
		return nil, err
	}

	contribs := make([][]Cell, len(blocks))
	for s, block := range blocks {
		cells, err := DecodeCells(block)
		if err != nil {
			return nil, fmt.Errorf("from rank %d: %w", s, err)
		}
		if len(cells) != nLocal {
			return nil, fmt.Errorf("%w: rank %d returned %d contributions for %d local cells",
				ErrExchangeMismatch, s, len(cells), nLocal)
		}
		contribs[s] = cells
	}
	return contribs, nil
}

// reduce sums the per-rank contributions for this rank's cells, in
// ascending rank order so every run adds in the same floating-point order.
// Records are matched positionally; origin equality is the consistency
// check, and the summed accumulators must stay under the overflow bound.
func reduce(contribs [][]Cell, local []Cell, maxAccumulator float64) ([]Cell, error) {
	reduced := make([]Cell, len(local))
	copy(reduced, contribs[0])
	for s := 1; s < len(contribs); s++ {
		for j := range reduced {
			c := &contribs[s][j]
			if !sameOrigin(c, &reduced[j]) {
				return nil, fmt.Errorf("%w: slot %d from rank %d (cell %d vs %d)",
					ErrExchangeMismatch, j, s, c.ID, reduced[j].ID)
			}
			reduced[j].Exp.Add(&c.Exp)
		}
	}
	for j := range reduced {
		if !sameOrigin(&reduced[j], &local[j]) {
			return nil, fmt.Errorf("%w: reduced slot %d does not match local cell", ErrExchangeMismatch, j)
		}
		if !reduced[j].Exp.IsValid() {
			return nil, fmt.Errorf("cell %d: %w: accumulator is not finite", reduced[j].ID, ErrAccumulatorOverflow)
		}
		if m := reduced[j].Exp.MaxAbs(); m > maxAccumulator {
			return nil, fmt.Errorf("cell %d: %w: |%g| > %g", reduced[j].ID, ErrAccumulatorOverflow, m, maxAccumulator)
		}
	}
	return reduced, nil
}
