package walstore_test

import (
	"os"
	"testing"

	"github.com/lattice-run/raftactor/pkg/walstore"
)

func TestFileStorePersistsAcrossReopen(t *testing.T) {
	dir, err := os.MkdirTemp("", "walstore-test-*")
	if err != nil {
		t.Fatalf("mkdtemp: %v", err)
	}
	defer os.RemoveAll(dir)

	store, err := walstore.NewFileStore(dir)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	if err := store.SetCurrentTerm(5); err != nil {
		t.Fatalf("set term: %v", err)
	}
	if err := store.SetVotedFor("node-a"); err != nil {
		t.Fatalf("set voted for: %v", err)
	}
	if err := store.Append([]walstore.Entry{
		{Index: 1, Term: 5, Kind: walstore.EntryCommand, Command: []byte("hello")},
		{Index: 2, Term: 5, Kind: walstore.EntryNoOp},
	}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := store.SetCommitIndex(2); err != nil {
		t.Fatalf("set commit index: %v", err)
	}
	store.Close()

	reopened, err := walstore.NewFileStore(dir)
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	defer reopened.Close()

	if got := reopened.CurrentTerm(); got != 5 {
		t.Errorf("CurrentTerm() = %d, want 5", got)
	}
	if got := reopened.VotedFor(); got != "node-a" {
		t.Errorf("VotedFor() = %q, want node-a", got)
	}
	if got := reopened.CommitIndex(); got != 2 {
		t.Errorf("CommitIndex() = %d, want 2", got)
	}
	entry, ok := reopened.At(1)
	if !ok || string(entry.Command) != "hello" {
		t.Errorf("At(1) = %+v, %v; want command hello", entry, ok)
	}
}

func TestFileStoreSnapshotDiscardsCompactedEntries(t *testing.T) {
	dir, err := os.MkdirTemp("", "walstore-test-*")
	if err != nil {
		t.Fatalf("mkdtemp: %v", err)
	}
	defer os.RemoveAll(dir)

	store, err := walstore.NewFileStore(dir)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()

	for i := uint64(1); i <= 5; i++ {
		if err := store.Append([]walstore.Entry{{Index: i, Term: 1, Kind: walstore.EntryCommand}}); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	if err := store.SetSnapshot(3, 1, []byte("snap")); err != nil {
		t.Fatalf("set snapshot: %v", err)
	}

	if _, ok := store.At(2); ok {
		t.Error("At(2) should be gone after compaction to index 3")
	}
	if _, ok := store.At(4); !ok {
		t.Error("At(4) should survive compaction to index 3")
	}
	if got := store.SnapshotIndex(); got != 3 {
		t.Errorf("SnapshotIndex() = %d, want 3", got)
	}
	if got := string(store.SnapshotPayload()); got != "snap" {
		t.Errorf("SnapshotPayload() = %q, want snap", got)
	}
}
