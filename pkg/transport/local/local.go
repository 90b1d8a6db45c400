// Package local implements an in-memory raft.Transport for tests and the
// in-process harness, with fault injection (latency, disconnect,
// partition) built on top of it.
package local

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/lattice-run/raftactor/pkg/cluster"
	"github.com/lattice-run/raftactor/pkg/raft"
)

// ErrUnreachable is returned for a target that is unregistered, or whose
// link from the caller is currently disconnected.
var ErrUnreachable = errors.New("local: target unreachable")

// Network is a shared in-memory switchboard: every actor in a test cluster
// registers its raft.Server under its NodeID, and every actor's Transport
// comes from For on the same switchboard. Disconnect/Partition/Heal
// let tests simulate network faults deterministically.
type Network struct {
	mu       sync.RWMutex
	servers  map[raft.NodeID]raft.Server
	disabled map[raft.NodeID]map[raft.NodeID]bool
	latency  time.Duration
}

// NewNetwork creates an empty switchboard.
func NewNetwork() *Network {
	return &Network{
		servers:  make(map[raft.NodeID]raft.Server),
		disabled: make(map[raft.NodeID]map[raft.NodeID]bool),
	}
}

// Register makes server reachable as id.
func (n *Network) Register(id cluster.NodeID, server raft.Server) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.servers[id] = server
}

// SetLatency applies artificial delay to every RPC the switchboard carries.
func (n *Network) SetLatency(d time.Duration) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.latency = d
}

// Disconnect cuts the one-directional link from -> to.
func (n *Network) Disconnect(from, to cluster.NodeID) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.disabled[from] == nil {
		n.disabled[from] = make(map[raft.NodeID]bool)
	}
	n.disabled[from][to] = true
}

// Connect restores a link previously cut with Disconnect.
func (n *Network) Connect(from, to cluster.NodeID) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.disabled[from] != nil {
		delete(n.disabled[from], to)
	}
}

// Partition cuts every link to and from id.
func (n *Network) Partition(id cluster.NodeID) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for other := range n.servers {
		if other == id {
			continue
		}
		n.cutLocked(id, other)
		n.cutLocked(other, id)
	}
}

func (n *Network) cutLocked(from, to raft.NodeID) {
	if n.disabled[from] == nil {
		n.disabled[from] = make(map[raft.NodeID]bool)
	}
	n.disabled[from][to] = true
}

// Heal restores every link to and from id.
func (n *Network) Heal(id cluster.NodeID) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.disabled[id] = make(map[raft.NodeID]bool)
	for other := range n.disabled {
		delete(n.disabled[other], id)
	}
}

// HealAll clears every fault injected so far.
func (n *Network) HealAll() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.disabled = make(map[raft.NodeID]map[raft.NodeID]bool)
}

func (n *Network) connected(from, to raft.NodeID) bool {
	if n.disabled[from] == nil {
		return true
	}
	return !n.disabled[from][to]
}

// For returns a raft.Transport that dispatches as if sent from self.
// Disconnect/Partition are directional and keyed on the caller's identity.
func (n *Network) For(self cluster.NodeID) raft.Transport {
	return &boundTransport{network: n, self: self}
}

type boundTransport struct {
	network *Network
	self    raft.NodeID
}

func (t *boundTransport) resolve(target raft.NodeID) (raft.Server, time.Duration, error) {
	t.network.mu.RLock()
	defer t.network.mu.RUnlock()
	server, ok := t.network.servers[target]
	if !ok || !t.network.connected(t.self, target) {
		return nil, 0, ErrUnreachable
	}
	return server, t.network.latency, nil
}

func (t *boundTransport) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *boundTransport) AppendEntries(ctx context.Context, target raft.NodeID, req *raft.AppendEntriesRequest) (*raft.AppendEntriesResponse, error) {
	server, latency, err := t.resolve(target)
	if err != nil {
		return nil, err
	}
	if err := t.sleep(ctx, latency); err != nil {
		return nil, err
	}
	return server.AppendEntries(ctx, req)
}

func (t *boundTransport) InstallSnapshot(ctx context.Context, target raft.NodeID, req *raft.InstallSnapshotRequest) (*raft.InstallSnapshotResponse, error) {
	server, latency, err := t.resolve(target)
	if err != nil {
		return nil, err
	}
	if err := t.sleep(ctx, latency); err != nil {
		return nil, err
	}
	return server.InstallSnapshot(ctx, req)
}

func (t *boundTransport) RequestVote(ctx context.Context, target raft.NodeID, req *raft.RequestVoteRequest) (*raft.RequestVoteResponse, error) {
	server, latency, err := t.resolve(target)
	if err != nil {
		return nil, err
	}
	if err := t.sleep(ctx, latency); err != nil {
		return nil, err
	}
	return server.RequestVote(ctx, req)
}
