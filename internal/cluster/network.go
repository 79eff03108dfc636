package cluster

import (
	"encoding/gob"
	"fmt"
	"net"
)

// Network runs the collectives over TCP so ranks can be separate OS
// processes. Rank 0 listens and acts as the hub: it gathers every rank's
// packet, rebroadcasts the full round, and each rank extracts its share
// locally, exactly like the in-process group. Built on the standard net
// package; the topology is hub-and-spoke rather than a full mesh.
type Network struct {
	rank   int
	size   int
	closed bool

	// hub side (rank 0): one stream per dialing rank, indexed rank-1.
	peers []*stream

	// spoke side (rank > 0): the connection to the hub.
	hub *stream
}

type stream struct {
	conn net.Conn
	enc  *gob.Encoder
	dec  *gob.Decoder
}

func newStream(conn net.Conn) *stream {
	return &stream{conn: conn, enc: gob.NewEncoder(conn), dec: gob.NewDecoder(conn)}
}

type hello struct {
	Rank int
	Size int
}

// Listen makes this process rank 0 of a group of size ranks, accepting the
// other size-1 ranks on addr. Ranks are assigned in connection order.
func Listen(addr string, size int) (*Network, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return Serve(ln, size)
}

// Serve is Listen over an existing listener, which is closed once all ranks
// have joined.
func Serve(ln net.Listener, size int) (*Network, error) {
	defer ln.Close()
	if size < 1 {
		return nil, fmt.Errorf("cluster: group size must be at least 1, got %d", size)
	}

	n := &Network{rank: 0, size: size, peers: make([]*stream, size-1)}
	for i := 0; i < size-1; i++ {
		conn, err := ln.Accept()
		if err != nil {
			n.Close()
			return nil, err
		}
		s := newStream(conn)
		if err := s.enc.Encode(hello{Rank: i + 1, Size: size}); err != nil {
			n.Close()
			return nil, err
		}
		n.peers[i] = s
	}
	return n, nil
}

// Dial joins the group whose hub listens on addr. The assigned rank comes
// back in the handshake.
func Dial(addr string) (*Network, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, err
	}
	s := newStream(conn)
	var h hello
	if err := s.dec.Decode(&h); err != nil {
		conn.Close()
		return nil, err
	}
	return &Network{rank: h.Rank, size: h.Size, hub: s}, nil
}

func (n *Network) Rank() int { return n.rank }
func (n *Network) Size() int { return n.size }

// Close tears down the group's connections. Collectives after Close fail.
func (n *Network) Close() error {
	n.closed = true
	if n.hub != nil {
		return n.hub.conn.Close()
	}
	var first error
	for _, p := range n.peers {
		if p == nil {
			continue
		}
		if err := p.conn.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// exchange runs one collective round: deposit this rank's packet, receive
// the full rank-ordered round.
func (n *Network) exchange(p packet) ([]packet, error) {
	if n.closed {
		return nil, ErrClosed
	}
	if n.size == 1 {
		return []packet{p}, nil
	}

	if n.rank == 0 {
		round := make([]packet, n.size)
		round[0] = p
		for i, peer := range n.peers {
			if err := peer.dec.Decode(&round[i+1]); err != nil {
				return nil, fmt.Errorf("cluster: gather from rank %d: %w", i+1, err)
			}
		}
		for i, peer := range n.peers {
			if err := peer.enc.Encode(round); err != nil {
				return nil, fmt.Errorf("cluster: broadcast to rank %d: %w", i+1, err)
			}
		}
		return round, nil
	}

	if err := n.hub.enc.Encode(p); err != nil {
		return nil, fmt.Errorf("cluster: send to hub: %w", err)
	}
	var round []packet
	if err := n.hub.dec.Decode(&round); err != nil {
		return nil, fmt.Errorf("cluster: receive round: %w", err)
	}
	if len(round) != n.size {
		return nil, fmt.Errorf("cluster: round has %d entries for group of %d", len(round), n.size)
	}
	return round, nil
}

func (n *Network) AllGatherInts(v int) ([]int, error) {
	round, err := n.exchange(packet{Int: v})
	if err != nil {
		return nil, err
	}
	out := make([]int, len(round))
	for i, p := range round {
		out[i] = p.Int
	}
	return out, nil
}

func (n *Network) AllGatherBytes(payload []byte) ([][]byte, error) {
	round, err := n.exchange(packet{Data: payload})
	if err != nil {
		return nil, err
	}
	out := make([][]byte, len(round))
	for i, p := range round {
		out[i] = p.Data
	}
	return out, nil
}

func (n *Network) AllToAll(payload []byte, sendCounts []int) ([][]byte, error) {
	if err := checkCounts(sendCounts, n.size, len(payload)); err != nil {
		return nil, err
	}
	round, err := n.exchange(packet{Counts: sendCounts, Data: payload})
	if err != nil {
		return nil, err
	}
	return extractAllToAll(round, n.rank)
}
