package raft

import "context"

// AppendEntriesRequest carries a batch of entries (possibly empty, for a
// heartbeat) to replicate starting after (PrevIndex, PrevTerm).
type AppendEntriesRequest struct {
	Term         uint64
	Leader       NodeID
	PrevIndex    uint64
	PrevTerm     uint64
	Entries      []LogEntry
	LeaderCommit uint64
}

// AppendEntriesResponse is the reply to AppendEntries. Success=false means
// the consistency check failed; the leader backs next_index off and
// retries.
type AppendEntriesResponse struct {
	Term    uint64
	Success bool
}

// InstallSnapshotRequest carries a compacted log prefix to a follower that
// has fallen too far behind to catch up via AppendEntries alone.
type InstallSnapshotRequest struct {
	Term         uint64
	Leader       NodeID
	SnapIndex    uint64
	SnapTerm     uint64
	Payload      []byte
	LeaderCommit uint64
}

// InstallSnapshotResponse is the reply to InstallSnapshot.
type InstallSnapshotResponse struct {
	Term uint64
}

// RequestVoteRequest is a candidate's bid for votes in a new term.
type RequestVoteRequest struct {
	Term         uint64
	Candidate    NodeID
	LastLogIndex uint64
	LastLogTerm  uint64
}

// RequestVoteResponse is the reply to RequestVote.
type RequestVoteResponse struct {
	Term    uint64
	Granted bool
}

// Transport dispatches the three RPCs to a named peer. A nil error with a
// non-nil response is a normal protocol reply (including a rejecting one);
// a non-nil error means the RPC never got a reply at all, a transport
// failure rather than a protocol-level rejection.
type Transport interface {
	AppendEntries(ctx context.Context, target NodeID, req *AppendEntriesRequest) (*AppendEntriesResponse, error)
	InstallSnapshot(ctx context.Context, target NodeID, req *InstallSnapshotRequest) (*InstallSnapshotResponse, error)
	RequestVote(ctx context.Context, target NodeID, req *RequestVoteRequest) (*RequestVoteResponse, error)
}

// Server is the inbound side of the three RPCs: whatever a transport adapter
// (gRPC, in-process) hands requests to. *Actor implements it; adapters
// depend on this interface rather than the concrete type.
type Server interface {
	AppendEntries(ctx context.Context, req *AppendEntriesRequest) (*AppendEntriesResponse, error)
	InstallSnapshot(ctx context.Context, req *InstallSnapshotRequest) (*InstallSnapshotResponse, error)
	RequestVote(ctx context.Context, req *RequestVoteRequest) (*RequestVoteResponse, error)
}
