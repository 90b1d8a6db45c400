// Package harness builds in-process raftactor clusters wired on the local
// in-memory transport, for tests that drive multiple nodes through
// elections, replication and partitions without a network. It is named
// harness rather than testing to stay out of the way of Go's own testing
// package.
package harness

import (
	"fmt"
	"time"

	"github.com/lattice-run/raftactor/pkg/cluster"
	"github.com/lattice-run/raftactor/pkg/raft"
	"github.com/lattice-run/raftactor/pkg/reactor"
	"github.com/lattice-run/raftactor/pkg/statemachine/kv"
	"github.com/lattice-run/raftactor/pkg/transport/local"
	"github.com/lattice-run/raftactor/pkg/walstore"
)

// Cluster is a fixed-size set of in-process raftactor nodes sharing one
// in-memory Network, each with its own reactor loop, MemStore and kv.Store.
type Cluster struct {
	Network *local.Network
	Actors  []*raft.Actor
	Stores  []*kv.Store
	loops   []*reactor.Loop
	Options raft.Options
}

// NewCluster builds a size-node cluster with ids node-0..node-(size-1) and
// aggressive test timeouts (short enough for fast tests, with enough margin
// between election and heartbeat that spurious elections are rare).
func NewCluster(size int) *Cluster {
	network := local.NewNetwork()
	ids := make([]cluster.NodeID, size)
	for i := range ids {
		ids[i] = cluster.NodeID(fmt.Sprintf("node-%d", i))
	}

	options := raft.DefaultOptions()
	options.ElectionTimeout = 75 * time.Millisecond
	options.HeartbeatTimeout = 15 * time.Millisecond
	options.SnapshotThreshold = 50

	c := &Cluster{Network: network, Options: options}
	for i, id := range ids {
		peers := make([]cluster.NodeID, 0, size-1)
		for j, other := range ids {
			if j != i {
				peers = append(peers, other)
			}
		}
		roster := cluster.NewRoster(id, peers)
		store := kv.New()
		loop := reactor.NewLoop()
		actor := raft.NewActor(id, roster, walstore.NewMemStore(), network.For(id), store, loop, options)

		network.Register(id, actor)
		c.Actors = append(c.Actors, actor)
		c.Stores = append(c.Stores, store)
		c.loops = append(c.loops, loop)
	}
	return c
}

// Start arms every actor's election timer.
func (c *Cluster) Start() {
	for _, a := range c.Actors {
		a.Run()
	}
}

// Stop stops every actor and closes its reactor loop.
func (c *Cluster) Stop() {
	for _, a := range c.Actors {
		a.Stop()
	}
	for _, l := range c.loops {
		l.Close()
	}
}

// Leader returns the first actor that currently believes itself leader, or
// nil. Ambiguous during an election; callers should poll via WaitForLeader.
func (c *Cluster) Leader() *raft.Actor {
	for _, a := range c.Actors {
		if a.Status().Role == raft.Leader {
			return a
		}
	}
	return nil
}

// WaitForLeader polls until some actor reports itself leader or timeout
// elapses.
func (c *Cluster) WaitForLeader(timeout time.Duration) (*raft.Actor, error) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if l := c.Leader(); l != nil {
			return l, nil
		}
		time.Sleep(5 * time.Millisecond)
	}
	return nil, fmt.Errorf("harness: no leader elected within %s", timeout)
}

// Partition isolates id from the rest of the cluster.
func (c *Cluster) Partition(id cluster.NodeID) {
	c.Network.Partition(id)
}

// Heal restores every link to and from id.
func (c *Cluster) Heal(id cluster.NodeID) {
	c.Network.Heal(id)
}

// Propose routes command through the current leader, retrying against a new
// leader if one steps down mid-flight, up to timeout.
func (c *Cluster) Propose(command []byte, timeout time.Duration) (uint64, error) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		leader := c.Leader()
		if leader == nil {
			time.Sleep(10 * time.Millisecond)
			continue
		}
		index, err := leader.Propose(command, nil)
		if err == nil {
			return index, nil
		}
		if err == raft.ErrNotLeader {
			time.Sleep(10 * time.Millisecond)
			continue
		}
		return 0, err
	}
	return 0, fmt.Errorf("harness: timed out proposing command")
}
