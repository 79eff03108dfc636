package gravity

import (
	"errors"
	"fmt"

	"github.com/mkruse/treefmm/internal/tree"
)

// Domain errors for a gravity pass.
var (
	// ErrZeroSeparation indicates a sink and source at the same position.
	// Callers must exclude self-interaction before accumulating.
	ErrZeroSeparation = errors.New("gravity: zero separation between sink and source")

	// ErrExchangeMismatch indicates that a cell received from the exchange
	// disagrees (position or identifier) with the local record for the same
	// slot, meaning the ranks' trees were built inconsistently.
	ErrExchangeMismatch = errors.New("gravity: exchanged cell disagrees with local record")

	// ErrAccumulatorOverflow indicates second-derivative terms beyond the
	// configured magnitude bound, a near-singular configuration.
	ErrAccumulatorOverflow = errors.New("gravity: expansion accumulator exceeded magnitude bound")

	// ErrCellNotFound indicates a reduced cell whose identifier is missing
	// from the owning rank's tree.
	ErrCellNotFound = errors.New("gravity: reduced cell not present in local tree")
)

// PassError wraps an error with the phase, rank, and cell it occurred on.
type PassError struct {
	Phase   Phase
	Rank    int
	Cell    tree.BranchID
	Wrapped error
}

func (e *PassError) Error() string {
	if e.Cell != 0 {
		return fmt.Sprintf("pass %s on rank %d (cell %d): %v", e.Phase, e.Rank, e.Cell, e.Wrapped)
	}
	return fmt.Sprintf("pass %s on rank %d: %v", e.Phase, e.Rank, e.Wrapped)
}

func (e *PassError) Unwrap() error {
	return e.Wrapped
}
