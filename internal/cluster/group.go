package cluster

import "sync"

// NewGroup returns n communicators sharing one in-process rendezvous, one
// per rank. Each communicator must be driven from its own goroutine; a
// collective completes when all n ranks have entered it. This is the group
// used by tests and by the CLI's multi-rank mode.
//
// A rank that fails outside a collective would leave its siblings blocked
// forever, so every member also implements Aborter; aborting wakes all
// waiters with ErrClosed.
func NewGroup(n int) []Communicator {
	h := &hub{n: n, in: make([]packet, n)}
	h.cond = sync.NewCond(&h.mu)
	comms := make([]Communicator, n)
	for i := range comms {
		comms[i] = &member{hub: h, rank: i}
	}
	return comms
}

// Aborter tears down a group so blocked collectives return ErrClosed.
type Aborter interface {
	Abort()
}

// hub is a reusable n-way barrier carrying one packet per rank per round.
type hub struct {
	n       int
	mu      sync.Mutex
	cond    *sync.Cond
	arrived int
	gen     uint64
	aborted bool
	in      []packet
	out     []packet
}

// exchange deposits this rank's packet and returns the full rank-ordered
// round once every rank has deposited. The returned slice is a snapshot:
// ranks racing ahead into the next round cannot disturb it, because the
// next round cannot complete until every waiter here has returned and
// re-entered.
func (h *hub) exchange(rank int, p packet) ([]packet, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.aborted {
		return nil, ErrClosed
	}

	h.in[rank] = p
	h.arrived++
	if h.arrived == h.n {
		h.out = make([]packet, h.n)
		copy(h.out, h.in)
		h.arrived = 0
		h.gen++
		h.cond.Broadcast()
		return h.out, nil
	}

	gen := h.gen
	for gen == h.gen && !h.aborted {
		h.cond.Wait()
	}
	if h.aborted {
		return nil, ErrClosed
	}
	return h.out, nil
}

func (h *hub) abort() {
	h.mu.Lock()
	h.aborted = true
	h.cond.Broadcast()
	h.mu.Unlock()
}

type member struct {
	hub  *hub
	rank int
}

func (m *member) Rank() int { return m.rank }
func (m *member) Size() int { return m.hub.n }

// Abort permanently tears down the whole group.
func (m *member) Abort() { m.hub.abort() }

func (m *member) AllGatherInts(v int) ([]int, error) {
	round, err := m.hub.exchange(m.rank, packet{Int: v})
	if err != nil {
		return nil, err
	}
	out := make([]int, len(round))
	for i, p := range round {
		out[i] = p.Int
	}
	return out, nil
}

func (m *member) AllGatherBytes(payload []byte) ([][]byte, error) {
	// Copy: the caller may reuse its buffer while other ranks still read
	// the round.
	data := make([]byte, len(payload))
	copy(data, payload)

	round, err := m.hub.exchange(m.rank, packet{Data: data})
	if err != nil {
		return nil, err
	}
	out := make([][]byte, len(round))
	for i, p := range round {
		out[i] = p.Data
	}
	return out, nil
}

func (m *member) AllToAll(payload []byte, sendCounts []int) ([][]byte, error) {
	if err := checkCounts(sendCounts, m.hub.n, len(payload)); err != nil {
		return nil, err
	}
	data := make([]byte, len(payload))
	copy(data, payload)
	counts := make([]int, len(sendCounts))
	copy(counts, sendCounts)

	round, err := m.hub.exchange(m.rank, packet{Counts: counts, Data: data})
	if err != nil {
		return nil, err
	}
	return extractAllToAll(round, m.rank)
}
