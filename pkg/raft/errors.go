package raft

import "errors"

var (
	// ErrNotLeader is returned by Propose when the actor is not currently
	// leader.
	ErrNotLeader = errors.New("raft: not the leader")
	// ErrStopped is returned by Propose once the actor has been stopped.
	// Completions still pending at Stop receive Committed=false instead.
	ErrStopped = errors.New("raft: actor has been stopped")
)
