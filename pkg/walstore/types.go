// Package walstore is the crash-durable backing store for a raft log and
// its persistent configuration: current_term, voted_for, commit_index,
// last_applied, the log entries themselves, and the compacted snapshot
// prefix. The byte layout is not prescribed by the consensus core; this
// package is one concrete choice, a CRC-framed gob encoding.
package walstore

import "fmt"

// EntryKind distinguishes an opaque client command from a leader no-op.
type EntryKind int

const (
	EntryCommand EntryKind = iota
	EntryNoOp
)

func (k EntryKind) String() string {
	switch k {
	case EntryCommand:
		return "command"
	case EntryNoOp:
		return "noop"
	default:
		return fmt.Sprintf("EntryKind(%d)", int(k))
	}
}

// Entry is a single durable log entry. Index is 1-based. Completion
// callbacks are deliberately not part of this type: they cannot survive a
// gob round-trip and are not durable state, so raft.Log keeps them in an
// in-memory side table instead (see raft/log.go).
type Entry struct {
	Index   uint64
	Term    uint64
	Kind    EntryKind
	Command []byte
}

// Snapshot is the compacted prefix of the log: a state-machine image plus
// the (index, term) of the last entry it represents.
type Snapshot struct {
	Index   uint64
	Term    uint64
	Payload []byte
}

// Store is the persistence contract the raft core depends on. FileStore and
// MemStore are the two implementations in this package; neither takes a
// lock, and in this module only the actor's own reactor goroutine ever
// calls them.
type Store interface {
	CurrentTerm() uint64
	SetCurrentTerm(term uint64) error

	VotedFor() string
	SetVotedFor(candidate string) error

	CommitIndex() uint64
	SetCommitIndex(index uint64) error

	LastApplied() uint64
	SetLastApplied(index uint64) error

	// Append adds entries whose indices must be LastIndex()+1, LastIndex()+2, ...
	Append(entries []Entry) error
	// TruncateFrom discards every entry with Index >= from.
	TruncateFrom(from uint64) error
	// At returns the entry at index, or ok=false if index is outside
	// (SnapshotIndex(), LastIndex()].
	At(index uint64) (Entry, bool)
	LastIndex() uint64
	LastTerm() uint64

	SnapshotIndex() uint64
	SnapshotTerm() uint64
	SnapshotPayload() []byte
	// SetSnapshot installs a new snapshot and discards every entry with
	// Index <= index.
	SetSnapshot(index, term uint64, payload []byte) error

	Close() error
}
