package raft

import (
	"fmt"
	"sort"

	"github.com/lattice-run/raftactor/pkg/walstore"
)

// Log is the append-only ordered sequence of entries plus the persistent
// configuration fields, wrapping a walstore.Store for durability and
// adding the one piece of state that must NOT survive a crash or a gob
// round-trip: pending completion callbacks, keyed by index.
type Log struct {
	store       walstore.Store
	completions map[uint64]Completion
}

// NewLog wraps store as it is. Nothing seeds an empty store, neither here
// nor in NewActor: no entry is written at index 0 and no initial snapshot is
// captured from the state machine. An empty store reads as an empty
// snapshot at index 0, term 0, with a nil payload.
func NewLog(store walstore.Store) *Log {
	return &Log{store: store, completions: make(map[uint64]Completion)}
}

func (l *Log) CurrentTerm() uint64 { return l.store.CurrentTerm() }

func (l *Log) SetCurrentTerm(term uint64) {
	mustPersist(l.store.SetCurrentTerm(term))
}

func (l *Log) VotedFor() string { return l.store.VotedFor() }

func (l *Log) SetVotedFor(candidate string) {
	mustPersist(l.store.SetVotedFor(candidate))
}

func (l *Log) CommitIndex() uint64 { return l.store.CommitIndex() }

func (l *Log) LastApplied() uint64 { return l.store.LastApplied() }

func (l *Log) SetLastApplied(index uint64) {
	mustPersist(l.store.SetLastApplied(index))
}

// setCommitIndexField persists the commit index directly; callers go
// through Actor.setCommitIndex for the full commit-advancement rule, this
// is the narrow persistence step it calls at the end.
func (l *Log) setCommitIndexField(index uint64) {
	mustPersist(l.store.SetCommitIndex(index))
}

func (l *Log) LastIndex() uint64 { return l.store.LastIndex() }
func (l *Log) LastTerm() uint64  { return l.store.LastTerm() }

func (l *Log) SnapshotIndex() uint64   { return l.store.SnapshotIndex() }
func (l *Log) SnapshotTerm() uint64    { return l.store.SnapshotTerm() }
func (l *Log) SnapshotPayload() []byte { return l.store.SnapshotPayload() }

// At returns the entry at index, defined for SnapshotIndex() < index <=
// LastIndex().
func (l *Log) At(index uint64) (LogEntry, bool) {
	e, ok := l.store.At(index)
	if !ok {
		return LogEntry{}, false
	}
	return LogEntry{Index: e.Index, Term: e.Term, Kind: e.Kind, Command: e.Command}, true
}

// Append adds a single new entry at LastIndex()+1 and term, returning its
// index.
func (l *Log) Append(term uint64, kind PayloadKind, command []byte) uint64 {
	index := l.LastIndex() + 1
	mustPersist(l.store.Append([]walstore.Entry{{Index: index, Term: term, Kind: kind, Command: command}}))
	return index
}

// AppendEntry appends a caller-constructed entry as-is (used by
// AppendEntries handling, which already knows the index/term to use).
func (l *Log) AppendEntry(e LogEntry) {
	mustPersist(l.store.Append([]walstore.Entry{{Index: e.Index, Term: e.Term, Kind: e.Kind, Command: e.Command}}))
}

// Truncate discards fromIndex..LastIndex(). Completions bound to truncated
// indices are dropped without firing: any completion that needed to fire
// negatively already did so when this actor lost leadership; a completion
// surviving past that point belongs to an entry this node never led, so it
// was never bound here in the first place.
func (l *Log) Truncate(fromIndex uint64) {
	mustPersist(l.store.TruncateFrom(fromIndex))
	for index := range l.completions {
		if index >= fromIndex {
			delete(l.completions, index)
		}
	}
}

// SetSnapshot installs a new snapshot prefix, discarding all entries with
// Index <= index.
func (l *Log) SetSnapshot(index, term uint64, payload []byte) {
	mustPersist(l.store.SetSnapshot(index, term, payload))
	for i := range l.completions {
		if i <= index {
			delete(l.completions, i)
		}
	}
}

// BindCompletion attaches a one-shot completion to index, to be taken out
// and invoked exactly once by TakeCompletion.
func (l *Log) BindCompletion(index uint64, c Completion) {
	if c == nil {
		return
	}
	l.completions[index] = c
}

// TakeCompletion removes and returns the completion bound to index, if any.
// Taking it out before invoking guarantees at-most-once even if the caller
// is re-entered.
func (l *Log) TakeCompletion(index uint64) (Completion, bool) {
	c, ok := l.completions[index]
	if ok {
		delete(l.completions, index)
	}
	return c, ok
}

// PendingIndices returns every index with a bound completion strictly above
// floor, in ascending order. Used when leadership is lost to negatively
// complete every still-uncommitted proposal.
func (l *Log) PendingIndices(floor uint64) []uint64 {
	var out []uint64
	for index := range l.completions {
		if index > floor {
			out = append(out, index)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func mustPersist(err error) {
	if err != nil {
		// The persistence surface is crash-durable storage the actor
		// depends on for every safety invariant; a write failure here
		// means the process can no longer honour its durability
		// barriers, so there is nothing safe left to do but stop hard.
		panic(fmt.Sprintf("raft: persistence failure: %v", err))
	}
}
