package raft

// StateMachine is the contract the core depends on. Invoke applies a
// committed command and may fail transiently; the applier's
// retry behaviour on failure is governed by Options.OnInvokeFailure. The
// state machine must be deterministic with respect to the sequence of
// invoked commands: every replica that applies the same commands in the
// same order must end up in the same state.
type StateMachine interface {
	// Invoke applies a committed command to the state machine.
	Invoke(command []byte) error
	// Snapshot captures a point-in-time image. It must be safe to call
	// between Invoke calls.
	Snapshot() ([]byte, error)
	// Consume restores the state machine from a snapshot payload installed
	// by the leader (or captured locally by the applier).
	Consume(payload []byte) error
}
