package raft_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lattice-run/raftactor/pkg/cluster"
	"github.com/lattice-run/raftactor/pkg/raft"
	"github.com/lattice-run/raftactor/pkg/reactor"
	"github.com/lattice-run/raftactor/pkg/statemachine/kv"
	"github.com/lattice-run/raftactor/pkg/transport/local"
	"github.com/lattice-run/raftactor/pkg/walstore"
)

type testNode struct {
	actor *raft.Actor
	store *kv.Store
	loop  *reactor.Loop
}

func buildCluster(t *testing.T, size int, opts raft.Options) (*local.Network, []*testNode) {
	t.Helper()
	network := local.NewNetwork()
	ids := make([]cluster.NodeID, size)
	for i := range ids {
		ids[i] = cluster.NodeID(string(rune('a' + i)))
	}

	nodes := make([]*testNode, size)
	for i, id := range ids {
		var peers []cluster.NodeID
		for j, other := range ids {
			if j != i {
				peers = append(peers, other)
			}
		}
		roster := cluster.NewRoster(id, peers)
		store := kv.New()
		loop := reactor.NewLoop()
		actor := raft.NewActor(id, roster, walstore.NewMemStore(), network.For(id), store, loop, opts)
		network.Register(id, actor)
		nodes[i] = &testNode{actor: actor, store: store, loop: loop}
	}
	return network, nodes
}

func testOptions() raft.Options {
	opts := raft.DefaultOptions()
	opts.ElectionTimeout = 40 * time.Millisecond
	opts.HeartbeatTimeout = 8 * time.Millisecond
	return opts
}

func waitForLeader(t *testing.T, nodes []*testNode, timeout time.Duration) *testNode {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		for _, n := range nodes {
			if n.actor.Status().Role == raft.Leader {
				return n
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("no leader elected before timeout")
	return nil
}

func stopAll(nodes []*testNode) {
	for _, n := range nodes {
		n.actor.Stop()
		n.loop.Close()
	}
}

// T1: a 3-node cluster always converges on exactly one leader per term.
func TestElectsExactlyOneLeader(t *testing.T) {
	_, nodes := buildCluster(t, 3, testOptions())
	defer stopAll(nodes)
	for _, n := range nodes {
		n.actor.Run()
	}

	leader := waitForLeader(t, nodes, 2*time.Second)
	term := leader.actor.Status().Term

	leaders := 0
	for _, n := range nodes {
		status := n.actor.Status()
		if status.Role == raft.Leader && status.Term == term {
			leaders++
		}
	}
	if leaders != 1 {
		t.Fatalf("expected exactly one leader in term %d, found %d", term, leaders)
	}
}

// T2/R1: a committed command is eventually applied on every replica with
// the same resulting state.
func TestCommittedCommandReplicates(t *testing.T) {
	_, nodes := buildCluster(t, 3, testOptions())
	defer stopAll(nodes)
	for _, n := range nodes {
		n.actor.Run()
	}
	leader := waitForLeader(t, nodes, 2*time.Second)

	command, err := kv.EncodeCommand(kv.CommandSet, "k", []byte("v"), "client", 1)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	done := make(chan raft.CommitOutcome, 1)
	if _, err := leader.actor.Propose(command, func(o raft.CommitOutcome) { done <- o }); err != nil {
		t.Fatalf("propose: %v", err)
	}

	select {
	case outcome := <-done:
		if !outcome.Committed {
			t.Fatal("expected the proposal to commit")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("proposal never completed")
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		ok := true
		for _, n := range nodes {
			v, found := n.store.Get("k")
			if !found || string(v) != "v" {
				ok = false
			}
		}
		if ok {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("not all replicas converged on the committed value")
}

// T3: Propose on a non-leader returns ErrNotLeader without mutating the log.
func TestProposeOnFollowerIsRejected(t *testing.T) {
	_, nodes := buildCluster(t, 3, testOptions())
	defer stopAll(nodes)
	for _, n := range nodes {
		n.actor.Run()
	}
	leader := waitForLeader(t, nodes, 2*time.Second)

	var follower *testNode
	for _, n := range nodes {
		if n.actor.Self() != leader.actor.Self() {
			follower = n
			break
		}
	}

	before := follower.actor.Status().LastIndex
	if _, err := follower.actor.Propose([]byte("x"), nil); err != raft.ErrNotLeader {
		t.Fatalf("expected ErrNotLeader, got %v", err)
	}
	if after := follower.actor.Status().LastIndex; after != before {
		t.Fatalf("follower's log grew from a rejected proposal: %d -> %d", before, after)
	}
}

// T4: losing leadership before commit fails the pending completion instead
// of hanging forever.
func TestLosingLeadershipFailsPendingProposal(t *testing.T) {
	network, nodes := buildCluster(t, 3, testOptions())
	defer stopAll(nodes)
	for _, n := range nodes {
		n.actor.Run()
	}
	leader := waitForLeader(t, nodes, 2*time.Second)

	// Partition the leader from the rest of the cluster so its proposal can
	// never reach a majority on its own.
	network.Partition(leader.actor.Self())
	defer network.HealAll()

	done := make(chan raft.CommitOutcome, 1)
	if _, err := leader.actor.Propose([]byte("stranded"), func(o raft.CommitOutcome) { done <- o }); err != nil {
		t.Fatalf("propose: %v", err)
	}

	// Force a higher-term AppendEntries at the leader directly, simulating
	// another leader having since been elected elsewhere in the cluster.
	currentTerm := leader.actor.Status().Term
	_, err := leader.actor.AppendEntries(context.Background(), &raft.AppendEntriesRequest{
		Term:         currentTerm + 1,
		Leader:       cluster.NodeID("z"),
		PrevIndex:    leader.actor.Status().LastIndex,
		PrevTerm:     currentTerm,
		LeaderCommit: leader.actor.Status().CommitIndex,
	})
	if err != nil {
		t.Fatalf("append entries: %v", err)
	}

	select {
	case outcome := <-done:
		if outcome.Committed {
			t.Fatal("expected the stranded proposal to fail, not commit")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("stranded proposal's completion never fired")
	}
}

// T2: a leader never truncates or rewrites its own log, only appends.
func TestLeaderLogIsAppendOnly(t *testing.T) {
	_, nodes := buildCluster(t, 3, testOptions())
	defer stopAll(nodes)
	for _, n := range nodes {
		n.actor.Run()
	}
	leader := waitForLeader(t, nodes, 2*time.Second)

	var before []uint64
	for i := 0; i < 3; i++ {
		command, err := kv.EncodeCommand(kv.CommandSet, "k", []byte("x"), "client", uint64(i+1))
		if err != nil {
			t.Fatalf("encode %d: %v", i, err)
		}
		done := make(chan raft.CommitOutcome, 1)
		if _, err := leader.actor.Propose(command, func(o raft.CommitOutcome) { done <- o }); err != nil {
			t.Fatalf("propose %d: %v", i, err)
		}
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatalf("proposal %d never completed", i)
		}
		before = append(before, leader.actor.Status().LastIndex)
	}

	for i := 1; i < len(before); i++ {
		if before[i] <= before[i-1] {
			t.Fatalf("leader's LastIndex must strictly increase across successive commits: %v", before)
		}
	}
}

// T7: Post callbacks queued on the same reactor never run concurrently with
// one another, even when submitted from multiple goroutines.
func TestReactorSerializesPostedWork(t *testing.T) {
	loop := reactor.NewLoop()
	defer loop.Close()

	const n = 50
	var active int32
	var sawOverlap bool
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			loop.Post(func() {
				if atomic.AddInt32(&active, 1) != 1 {
					sawOverlap = true
				}
				time.Sleep(time.Millisecond)
				atomic.AddInt32(&active, -1)
			})
		}()
	}
	wg.Wait()
	time.Sleep(100 * time.Millisecond)

	if sawOverlap {
		t.Fatal("two posted callbacks ran concurrently on the same reactor")
	}
}

// R2: installing a snapshot whose (index, term) matches one already applied
// leaves the replica's observable state unchanged.
func TestInstallSnapshotAtSameIndexIsNoOp(t *testing.T) {
	_, nodes := buildCluster(t, 1, testOptions())
	defer stopAll(nodes)
	node := nodes[0]
	node.actor.Run()
	waitForLeader(t, nodes, 2*time.Second)

	command, err := kv.EncodeCommand(kv.CommandSet, "k", []byte("v"), "client", 1)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	done := make(chan raft.CommitOutcome, 1)
	if _, err := node.actor.Propose(command, func(o raft.CommitOutcome) { done <- o }); err != nil {
		t.Fatalf("propose: %v", err)
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("proposal never completed")
	}

	status := node.actor.Status()
	_, err = node.actor.InstallSnapshot(context.Background(), &raft.InstallSnapshotRequest{
		Term:         status.Term,
		Leader:       node.actor.Self(),
		SnapIndex:    status.LastApplied,
		SnapTerm:     status.Term,
		Payload:      []byte("irrelevant"),
		LeaderCommit: status.CommitIndex,
	})
	if err != nil {
		t.Fatalf("install snapshot: %v", err)
	}

	v, ok := node.store.Get("k")
	if !ok || string(v) != "v" {
		t.Fatalf("state diverged after a same-index snapshot install: got %q, %v", v, ok)
	}
}

// R1: replaying an identical AppendEntries is a no-op after the first
// success, same reply, same resulting log.
func TestAppendEntriesReplayIsIdempotent(t *testing.T) {
	_, nodes := buildCluster(t, 3, testOptions())
	defer stopAll(nodes)
	for _, n := range nodes {
		n.actor.Run()
	}
	leader := waitForLeader(t, nodes, 2*time.Second)

	var follower *testNode
	for _, n := range nodes {
		if n.actor.Self() != leader.actor.Self() {
			follower = n
			break
		}
	}

	// The request's prev position is the leader's last entry, so the
	// follower must hold that entry before the first call can succeed.
	status := leader.actor.Status()
	deadline := time.Now().Add(2 * time.Second)
	for follower.actor.Status().LastIndex < status.LastIndex && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	req := &raft.AppendEntriesRequest{
		Term:         status.Term,
		Leader:       leader.actor.Self(),
		PrevIndex:    status.LastIndex,
		PrevTerm:     status.Term,
		Entries:      []raft.LogEntry{{Index: status.LastIndex + 1, Term: status.Term, Kind: raft.PayloadCommand, Command: []byte("dup")}},
		LeaderCommit: status.CommitIndex,
	}

	first, err := follower.actor.AppendEntries(context.Background(), req)
	if err != nil || !first.Success {
		t.Fatalf("first AppendEntries: %+v, %v", first, err)
	}
	firstIndex := follower.actor.Status().LastIndex

	second, err := follower.actor.AppendEntries(context.Background(), req)
	if err != nil || !second.Success {
		t.Fatalf("replayed AppendEntries: %+v, %v", second, err)
	}
	if got := follower.actor.Status().LastIndex; got != firstIndex {
		t.Fatalf("replaying the same AppendEntries changed LastIndex: %d -> %d", firstIndex, got)
	}
}
