package sim

import (
	"context"
	"errors"
	"sync"

	"github.com/mkruse/treefmm/internal/cluster"
	"github.com/mkruse/treefmm/internal/tree"
)

// RunGroup drives one Driver per rank of an in-process group, each over its
// own particle slab, all in lockstep through the pass collectives. setup,
// when non-nil, customizes each rank's driver before the run (metrics,
// observers). Results are returned in rank order; the first rank error
// wins.
func RunGroup(ctx context.Context, slabs [][]*tree.Particle, cfg Config, setup func(rank int, d *Driver)) ([]*Result, error) {
	comms := cluster.NewGroup(len(slabs))
	results := make([]*Result, len(slabs))
	errs := make([]error, len(slabs))

	var wg sync.WaitGroup
	for r := range slabs {
		wg.Add(1)
		go func(rank int) {
			defer wg.Done()
			d := New(comms[rank])
			if setup != nil {
				setup(rank, d)
			}
			results[rank], errs[rank] = d.Run(ctx, slabs[rank], cfg)
			if errs[rank] != nil {
				// Unblock siblings waiting in a collective this rank will
				// never reach.
				if a, ok := comms[rank].(cluster.Aborter); ok {
					a.Abort()
				}
			}
		}(r)
	}
	wg.Wait()

	// Prefer the root cause over the ErrClosed fallout on sibling ranks.
	var first error
	for _, err := range errs {
		if err == nil {
			continue
		}
		if first == nil || (errors.Is(first, cluster.ErrClosed) && !errors.Is(err, cluster.ErrClosed)) {
			first = err
		}
	}
	if first != nil {
		return results, first
	}
	return results, nil
}
