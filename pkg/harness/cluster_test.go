package harness

import (
	"testing"
	"time"

	"github.com/lattice-run/raftactor/pkg/raft"
	"github.com/lattice-run/raftactor/pkg/statemachine/kv"
)

func TestClusterElectsLeader(t *testing.T) {
	c := NewCluster(3)
	defer c.Stop()
	c.Start()

	leader, err := c.WaitForLeader(2 * time.Second)
	if err != nil {
		t.Fatalf("failed to elect leader: %v", err)
	}
	if leader.Status().Role != raft.Leader {
		t.Fatalf("leader %s reports role %s", leader.Self(), leader.Status().Role)
	}
}

func TestProposeReplicatesToAllStores(t *testing.T) {
	c := NewCluster(3)
	defer c.Stop()
	c.Start()

	if _, err := c.WaitForLeader(2 * time.Second); err != nil {
		t.Fatalf("failed to elect leader: %v", err)
	}

	command, err := kv.EncodeCommand(kv.CommandSet, "key", []byte("value"), "client-1", 1)
	if err != nil {
		t.Fatalf("encode command: %v", err)
	}

	if _, err := c.Propose(command, 2*time.Second); err != nil {
		t.Fatalf("propose: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		allCaughtUp := true
		for _, store := range c.Stores {
			if v, ok := store.Get("key"); !ok || string(v) != "value" {
				allCaughtUp = false
				break
			}
		}
		if allCaughtUp {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("not every store converged on the proposed value")
}

func TestLeaderPartitionTriggersReelection(t *testing.T) {
	c := NewCluster(3)
	defer c.Stop()
	c.Start()

	first, err := c.WaitForLeader(2 * time.Second)
	if err != nil {
		t.Fatalf("failed to elect initial leader: %v", err)
	}

	c.Partition(first.Self())
	defer c.Heal(first.Self())

	deadline := time.Now().Add(2 * time.Second)
	// The partitioned old leader still believes itself leader, so every
	// actor is checked rather than only the first one Leader() finds.
	for time.Now().Before(deadline) {
		for _, a := range c.Actors {
			if a.Self() != first.Self() && a.Status().Role == raft.Leader {
				return
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("no new leader was elected after partitioning the old one")
}

func TestInvariantCheckerFlagsDivergentCommits(t *testing.T) {
	ic := NewInvariantChecker()
	ic.Record("node-0", 1, 1, []byte("a"))
	ic.Record("node-1", 1, 1, []byte("b"))

	violations := ic.Check()
	if len(violations) == 0 {
		t.Fatal("expected a log-matching violation for divergent commits at the same index")
	}
}

func TestInvariantCheckerAcceptsAgreeingCommits(t *testing.T) {
	ic := NewInvariantChecker()
	ic.Record("node-0", 1, 1, []byte("a"))
	ic.Record("node-1", 1, 1, []byte("a"))
	ic.Record("node-0", 2, 1, []byte("b"))

	if violations := ic.Check(); len(violations) != 0 {
		t.Fatalf("expected no violations, got %v", violations)
	}
}
