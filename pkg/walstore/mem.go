package walstore

// MemStore is an in-memory Store, used by the harness and by unit tests that
// want to exercise the log without touching disk. It keeps the same
// snapshot-prefix bookkeeping as FileStore, just without the durability
// barrier, so the backing medium can be swapped without touching callers.
type MemStore struct {
	currentTerm uint64
	votedFor    string
	commitIndex uint64
	lastApplied uint64

	snapIndex uint64
	snapTerm  uint64
	snapData  []byte

	// entries holds only indices > snapIndex, in order.
	entries []Entry
}

// NewMemStore returns an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{}
}

func (m *MemStore) CurrentTerm() uint64 { return m.currentTerm }

func (m *MemStore) SetCurrentTerm(term uint64) error {
	m.currentTerm = term
	return nil
}

func (m *MemStore) VotedFor() string { return m.votedFor }

func (m *MemStore) SetVotedFor(candidate string) error {
	m.votedFor = candidate
	return nil
}

func (m *MemStore) CommitIndex() uint64 { return m.commitIndex }

func (m *MemStore) SetCommitIndex(index uint64) error {
	m.commitIndex = index
	return nil
}

func (m *MemStore) LastApplied() uint64 { return m.lastApplied }

func (m *MemStore) SetLastApplied(index uint64) error {
	m.lastApplied = index
	return nil
}

func (m *MemStore) Append(entries []Entry) error {
	m.entries = append(m.entries, entries...)
	return nil
}

func (m *MemStore) TruncateFrom(from uint64) error {
	if from <= m.snapIndex {
		m.entries = nil
		return nil
	}
	keep := from - m.snapIndex - 1
	if keep > uint64(len(m.entries)) {
		keep = uint64(len(m.entries))
	}
	m.entries = m.entries[:keep]
	return nil
}

func (m *MemStore) At(index uint64) (Entry, bool) {
	if index <= m.snapIndex || index > m.LastIndex() {
		return Entry{}, false
	}
	return m.entries[index-m.snapIndex-1], true
}

func (m *MemStore) LastIndex() uint64 {
	return m.snapIndex + uint64(len(m.entries))
}

func (m *MemStore) LastTerm() uint64 {
	if len(m.entries) == 0 {
		return m.snapTerm
	}
	return m.entries[len(m.entries)-1].Term
}

func (m *MemStore) SnapshotIndex() uint64 { return m.snapIndex }
func (m *MemStore) SnapshotTerm() uint64  { return m.snapTerm }
func (m *MemStore) SnapshotPayload() []byte {
	return m.snapData
}

func (m *MemStore) SetSnapshot(index, term uint64, payload []byte) error {
	if index > m.snapIndex {
		var kept []Entry
		for _, e := range m.entries {
			if e.Index > index {
				kept = append(kept, e)
			}
		}
		m.entries = kept
	}
	m.snapIndex = index
	m.snapTerm = term
	m.snapData = payload
	return nil
}

func (m *MemStore) Close() error { return nil }
