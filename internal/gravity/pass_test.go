package gravity_test

import (
	"context"
	"math/rand"
	"sort"
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/mkruse/treefmm/internal/cluster"
	"github.com/mkruse/treefmm/internal/geom"
	"github.com/mkruse/treefmm/internal/gravity"
	"github.com/mkruse/treefmm/internal/tree"
)

func makeCloud(n int, seed int64) []*tree.Particle {
	rng := rand.New(rand.NewSource(seed))
	parts := make([]*tree.Particle, n)
	for i := range parts {
		parts[i] = &tree.Particle{
			ID:    uint64(i),
			Pos:   geom.Vec3{rng.Float64()*2 - 1, rng.Float64()*2 - 1, rng.Float64()*2 - 1},
			Mass:  1.0 / float64(n),
			Local: true,
		}
	}
	return parts
}

// splitSlabs deals the cloud into rank slabs along x, keeping particle
// identity so accelerations can be compared across runs.
func splitSlabs(parts []*tree.Particle, ranks int) [][]*tree.Particle {
	sorted := make([]*tree.Particle, len(parts))
	copy(sorted, parts)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Pos[0] < sorted[j].Pos[0] })
	slabs := make([][]*tree.Particle, ranks)
	for r := 0; r < ranks; r++ {
		lo := len(sorted) * r / ranks
		hi := len(sorted) * (r + 1) / ranks
		slabs[r] = sorted[lo:hi:hi]
	}
	return slabs
}

// runGroupPass evaluates one pass per rank over its slab, all in lockstep.
func runGroupPass(slabs [][]*tree.Particle, params gravity.Params) []error {
	comms := cluster.NewGroup(len(slabs))
	errs := make([]error, len(slabs))
	var wg sync.WaitGroup
	for r := range slabs {
		wg.Add(1)
		go func(rank int) {
			defer wg.Done()
			for _, p := range slabs[rank] {
				p.Acc = geom.Vec3{}
			}
			tr, err := tree.Build(slabs[rank], 1)
			if err != nil {
				errs[rank] = err
				comms[rank].(cluster.Aborter).Abort()
				return
			}
			errs[rank] = gravity.NewPass(comms[rank]).Run(context.Background(), tr, params)
			if errs[rank] != nil {
				comms[rank].(cluster.Aborter).Abort()
			}
		}(r)
	}
	wg.Wait()
	return errs
}

func directField(parts []*tree.Particle) map[uint64]geom.Vec3 {
	acc := make(map[uint64]geom.Vec3, len(parts))
	for _, p := range parts {
		var a geom.Vec3
		for _, q := range parts {
			if p == q {
				continue
			}
			a = a.Add(gravity.PairwiseAcceleration(p.Pos, q.Pos, q.Mass))
		}
		acc[p.ID] = a
	}
	return acc
}

var _ = Describe("distributed pass", func() {
	// Single-particle cells and theta 0 make the whole pipeline exact, so
	// the distributed result can be held against the direct sum.
	exact := gravity.Params{Theta: 0, MaxMass: 1e-4}

	It("matches the direct sum across two ranks", func() {
		parts := makeCloud(120, 7)
		ref := directField(parts)

		for _, err := range runGroupPass(splitSlabs(parts, 2), exact) {
			Expect(err).NotTo(HaveOccurred())
		}

		for _, p := range parts {
			Expect(p.Acc.Sub(ref[p.ID]).Norm()).To(BeNumerically("<", 1e-9*(1+ref[p.ID].Norm())))
		}
	})

	It("gives the same field on one rank and on four", func() {
		partsA := makeCloud(160, 11)
		partsB := makeCloud(160, 11)

		for _, err := range runGroupPass(splitSlabs(partsA, 1), exact) {
			Expect(err).NotTo(HaveOccurred())
		}
		for _, err := range runGroupPass(splitSlabs(partsB, 4), exact) {
			Expect(err).NotTo(HaveOccurred())
		}

		accB := make(map[uint64]geom.Vec3, len(partsB))
		for _, p := range partsB {
			accB[p.ID] = p.Acc
		}
		for _, p := range partsA {
			Expect(p.Acc.Sub(accB[p.ID]).Norm()).To(BeNumerically("<", 1e-9*(1+p.Acc.Norm())))
		}
	})

	It("reduces deterministically across repeated runs", func() {
		params := gravity.Params{Theta: 0.5, MaxMass: 0.05}
		first := makeCloud(200, 13)
		second := makeCloud(200, 13)

		for _, err := range runGroupPass(splitSlabs(first, 3), params) {
			Expect(err).NotTo(HaveOccurred())
		}
		for _, err := range runGroupPass(splitSlabs(second, 3), params) {
			Expect(err).NotTo(HaveOccurred())
		}

		ref := make(map[uint64]geom.Vec3, len(first))
		for _, p := range first {
			ref[p.ID] = p.Acc
		}
		for _, p := range second {
			// Rank-ordered reduction: bitwise identical, not merely close.
			Expect(p.Acc).To(Equal(ref[p.ID]))
		}
	})

	It("walks the phases in order", func() {
		parts := makeCloud(50, 3)
		tr, err := tree.Build(parts, 8)
		Expect(err).NotTo(HaveOccurred())

		rec := &phaseRecorder{}
		pass := gravity.NewPass(cluster.Single())
		pass.AddObserver(rec)
		Expect(pass.Run(context.Background(), tr, gravity.Params{Theta: 0.5, MaxMass: 0.05})).To(Succeed())

		Expect(rec.phases).To(Equal([]gravity.Phase{
			gravity.PhaseSelecting,
			gravity.PhaseExchangingCells,
			gravity.PhaseContributing,
			gravity.PhaseExchangingContributions,
			gravity.PhaseReducing,
			gravity.PhaseApplying,
			gravity.PhaseIdle,
		}))
	})

	It("rejects invalid parameters", func() {
		parts := makeCloud(10, 1)
		tr, err := tree.Build(parts, 8)
		Expect(err).NotTo(HaveOccurred())
		pass := gravity.NewPass(cluster.Single())

		Expect(pass.Run(context.Background(), tr, gravity.Params{Theta: -1, MaxMass: 0.1})).To(HaveOccurred())
		Expect(pass.Run(context.Background(), tr, gravity.Params{Theta: 0.5, MaxMass: 0})).To(HaveOccurred())
	})

	It("honors context cancellation", func() {
		parts := makeCloud(10, 2)
		tr, err := tree.Build(parts, 8)
		Expect(err).NotTo(HaveOccurred())

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err = gravity.NewPass(cluster.Single()).Run(ctx, tr, gravity.Params{Theta: 0.5, MaxMass: 0.1})
		Expect(err).To(MatchError(context.Canceled))
	})

	It("flags accumulator overflow on near-singular configurations", func() {
		// Two clusters separated by a hair: the Hessian scales like 1/r⁵.
		parts := []*tree.Particle{
			{ID: 0, Pos: geom.Vec3{0, 0, 0}, Mass: 1, Local: true},
			{ID: 1, Pos: geom.Vec3{1e-7, 0, 0}, Mass: 1, Local: true},
		}
		tr, err := tree.Build(parts, 1)
		Expect(err).NotTo(HaveOccurred())

		err = gravity.NewPass(cluster.Single()).Run(context.Background(), tr,
			gravity.Params{Theta: 0, MaxMass: 1e-3, MaxAccumulator: 1e6})
		Expect(err).To(MatchError(gravity.ErrAccumulatorOverflow))

		var passErr *gravity.PassError
		Expect(err).To(BeAssignableToTypeOf(passErr))
	})
})

type phaseRecorder struct {
	phases []gravity.Phase
}

func (r *phaseRecorder) OnPhase(phase gravity.Phase, rank int) {
	r.phases = append(r.phases, phase)
}
