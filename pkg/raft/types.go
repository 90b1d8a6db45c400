// Package raft implements the consensus actor: the leader/candidate/
// follower state machine, log replication, snapshot installation, election,
// and the cooperative applier that feeds a user state machine. Every
// mutation here is serialised on a reactor.Reactor, so nothing in this
// package takes a mutex: Actor's exported methods may be called from any
// goroutine and hand their work to the reactor, and everything else runs
// only on the reactor goroutine.
package raft

import (
	"time"

	"github.com/lattice-run/raftactor/pkg/cluster"
	"github.com/lattice-run/raftactor/pkg/walstore"
)

// NodeID identifies a cluster member.
type NodeID = cluster.NodeID

// Role is the actor's current position in the Raft state machine.
type Role int

const (
	Follower Role = iota
	Candidate
	Leader
)

func (r Role) String() string {
	switch r {
	case Follower:
		return "follower"
	case Candidate:
		return "candidate"
	case Leader:
		return "leader"
	default:
		return "unknown"
	}
}

// PayloadKind distinguishes an opaque client command from a leader no-op.
type PayloadKind = walstore.EntryKind

const (
	PayloadCommand = walstore.EntryCommand
	PayloadNoOp    = walstore.EntryNoOp
)

// LogEntry is the externally visible view of one log position: term, index
// and payload. It does not carry a completion callback, those are bound
// and looked up separately via Log.BindCompletion / Log.TakeCompletion, so
// that LogEntry stays a plain, copyable value.
type LogEntry struct {
	Index   uint64
	Term    uint64
	Kind    PayloadKind
	Command []byte
}

// CommitOutcome is delivered to a proposal's completion callback exactly
// once. Committed=false means this actor lost leadership, or was stopped,
// before its commit index reached the entry; the entry may still be
// committed later under another leader.
type CommitOutcome struct {
	Index     uint64
	Committed bool
}

// Completion is a proposal's one-shot callback, bound at Propose time.
type Completion func(CommitOutcome)

// InvokeFailurePolicy selects what the applier should do when the state
// machine's Invoke returns an error.
type InvokeFailurePolicy int

const (
	// RetryIndefinitely leaves last_applied unchanged and retries the same
	// entry on the next applier tick, the default: a permanently failing
	// command is treated as an application bug, not something the core can
	// recover from on its own.
	RetryIndefinitely InvokeFailurePolicy = iota
	// StepDown steps the actor down to follower, on the theory that a
	// leader whose own state machine is failing should stop acting as
	// leader rather than silently stall.
	StepDown
	// SkipEntry advances last_applied past the failing entry after logging
	// it. This trades safety (that entry's effect is permanently lost on
	// this replica) for liveness and should only be used when the
	// application has independent reasons to believe invoke failures are
	// always safe to skip.
	SkipEntry
)

// Options configures timers and batch sizes.
type Options struct {
	// ElectionTimeout is the lower bound T of the randomised [T, 2T]
	// election timeout range.
	ElectionTimeout time.Duration
	// HeartbeatTimeout is the interval at which a leader re-sends empty
	// AppendEntries to an idle peer.
	HeartbeatTimeout time.Duration
	// MessageSize caps how many entries the applier feeds the state
	// machine per tick.
	MessageSize int
	// SnapshotThreshold is how many applied entries accumulate past the
	// current snapshot before the applier captures a new one.
	SnapshotThreshold uint64
	// BatchMax caps how many entries a single AppendEntries carries.
	BatchMax int
	// OnInvokeFailure selects the policy in effect when the state
	// machine's Invoke returns an error. Defaults to RetryIndefinitely.
	OnInvokeFailure InvokeFailurePolicy
}

// DefaultOptions returns sane defaults for a LAN-latency cluster.
func DefaultOptions() Options {
	return Options{
		ElectionTimeout:   150 * time.Millisecond,
		HeartbeatTimeout:  50 * time.Millisecond,
		MessageSize:       64,
		SnapshotThreshold: 1000,
		BatchMax:          256,
		OnInvokeFailure:   RetryIndefinitely,
	}
}
