// Package cluster provides the synchronous collective operations the
// gravity pass runs on: an all-gather of counts, a variable-length
// all-gather, and a variable-length all-to-all. Every rank must enter every
// collective in the same order; a rank that never arrives blocks the whole
// group. There is no partial-failure tolerance: this is a batch model, not
// a service.
package cluster

import (
	"errors"
	"fmt"
)

// Domain errors for collective operations.
var (
	// ErrBadCounts indicates per-destination counts that do not match the
	// payload or the group size.
	ErrBadCounts = errors.New("cluster: send counts inconsistent with payload")

	// ErrClosed indicates a collective attempted on a closed communicator.
	ErrClosed = errors.New("cluster: communicator closed")
)

// Communicator is a fixed-size group of cooperating ranks. Collectives are
// blocking and must be entered by all ranks in the same order.
type Communicator interface {
	// Rank is this member's index, 0 <= Rank() < Size().
	Rank() int

	// Size is the number of ranks in the group.
	Size() int

	// AllGatherInts gathers one integer from every rank, ordered by rank.
	AllGatherInts(v int) ([]int, error)

	// AllGatherBytes gathers a variable-length payload from every rank.
	// Element i of the result is rank i's payload.
	AllGatherBytes(payload []byte) ([][]byte, error)

	// AllToAll scatters payload, which holds one contiguous block per
	// destination rank with sendCounts[d] bytes for destination d, and
	// returns the blocks addressed to this rank, ordered by sender.
	AllToAll(payload []byte, sendCounts []int) ([][]byte, error)
}

// Single returns a degenerate communicator of size one: every collective is
// the identity. It is the fallback when no group is configured, in the same
// spirit as running an MPI binary on one rank.
func Single() Communicator { return single{} }

type single struct{}

func (single) Rank() int { return 0 }
func (single) Size() int { return 1 }

func (single) AllGatherInts(v int) ([]int, error) { return []int{v}, nil }

func (single) AllGatherBytes(payload []byte) ([][]byte, error) {
	return [][]byte{payload}, nil
}

func (single) AllToAll(payload []byte, sendCounts []int) ([][]byte, error) {
	if err := checkCounts(sendCounts, 1, len(payload)); err != nil {
		return nil, err
	}
	return [][]byte{payload}, nil
}

func checkCounts(sendCounts []int, size, payloadLen int) error {
	if len(sendCounts) != size {
		return fmt.Errorf("%w: %d counts for %d ranks", ErrBadCounts, len(sendCounts), size)
	}
	total := 0
	for _, c := range sendCounts {
		if c < 0 {
			return fmt.Errorf("%w: negative count", ErrBadCounts)
		}
		total += c
	}
	if total != payloadLen {
		return fmt.Errorf("%w: counts sum to %d, payload is %d bytes", ErrBadCounts, total, payloadLen)
	}
	return nil
}

// packet is the unit deposited into a collective round: one rank's payload
// plus, for all-to-all, its per-destination counts.
type packet struct {
	Int    int
	Counts []int
	Data   []byte
}

// extractAllToAll slices out of each sender's packet the block addressed to
// rank, using that sender's own counts for the offsets.
func extractAllToAll(packets []packet, rank int) ([][]byte, error) {
	out := make([][]byte, len(packets))
	for s, p := range packets {
		if err := checkCounts(p.Counts, len(packets), len(p.Data)); err != nil {
			return nil, fmt.Errorf("sender %d: %w", s, err)
		}
		off := 0
		for d := 0; d < rank; d++ {
			off += p.Counts[d]
		}
		out[s] = p.Data[off : off+p.Counts[rank]]
	}
	return out, nil
}
