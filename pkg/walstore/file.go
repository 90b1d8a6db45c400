package walstore

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
)

const (
	stateFileName    = "raft.state"
	snapshotFileName = "snapshot.dat"
	recordHeaderSize = 8 // 4 bytes CRC + 4 bytes length
)

// persistentFields is the gob-encoded record written to stateFileName on
// every durability barrier. It carries everything needed to survive a crash
// except the snapshot itself, which is framed separately so a large
// snapshot payload doesn't have to be rewritten on every log append.
type persistentFields struct {
	CurrentTerm uint64
	VotedFor    string
	CommitIndex uint64
	LastApplied uint64
	Entries     []Entry
	SnapIndex   uint64
	SnapTerm    uint64
}

// FileStore is a crash-durable Store: a single state file holding term,
// vote, commit/apply watermarks and the log tail, plus a separate snapshot
// file. Every mutator re-serialises the whole state file and fsyncs it,
// which is adequate for the log sizes a snapshot-compacted raft log is
// expected to hold.
type FileStore struct {
	dir  string
	file *os.File

	fields persistentFields
	// snapData is cached in memory alongside the on-disk copy so reads don't
	// need to touch the snapshot file.
	snapData []byte
}

// NewFileStore opens (or creates) a durable store rooted at dir.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("walstore: create dir: %w", err)
	}

	s := &FileStore{dir: dir}
	if err := s.recover(); err != nil {
		return nil, fmt.Errorf("walstore: recover: %w", err)
	}
	return s, nil
}

func (s *FileStore) recover() error {
	if err := s.loadSnapshot(); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("load snapshot: %w", err)
	}

	statePath := filepath.Join(s.dir, stateFileName)
	file, err := os.OpenFile(statePath, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("open state file: %w", err)
	}
	s.file = file

	if err := s.readFields(); err != nil && err != io.EOF {
		return fmt.Errorf("read state: %w", err)
	}
	return nil
}

func (s *FileStore) readFields() error {
	header := make([]byte, recordHeaderSize)
	if _, err := io.ReadFull(s.file, header); err != nil {
		if err == io.EOF {
			return nil
		}
		return err
	}

	crc := binary.LittleEndian.Uint32(header[:4])
	length := binary.LittleEndian.Uint32(header[4:8])

	data := make([]byte, length)
	if _, err := io.ReadFull(s.file, data); err != nil {
		return err
	}
	if crc32.ChecksumIEEE(data) != crc {
		return fmt.Errorf("CRC mismatch in state file")
	}

	var fields persistentFields
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&fields); err != nil {
		return fmt.Errorf("decode state: %w", err)
	}
	s.fields = fields
	return nil
}

func (s *FileStore) persist() error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(s.fields); err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	data := buf.Bytes()
	crc := crc32.ChecksumIEEE(data)

	header := make([]byte, recordHeaderSize)
	binary.LittleEndian.PutUint32(header[:4], crc)
	binary.LittleEndian.PutUint32(header[4:8], uint32(len(data)))

	if _, err := s.file.Seek(0, 0); err != nil {
		return fmt.Errorf("seek state file: %w", err)
	}
	if err := s.file.Truncate(0); err != nil {
		return fmt.Errorf("truncate state file: %w", err)
	}
	if _, err := s.file.Write(header); err != nil {
		return fmt.Errorf("write state header: %w", err)
	}
	if _, err := s.file.Write(data); err != nil {
		return fmt.Errorf("write state data: %w", err)
	}
	return s.file.Sync()
}

func (s *FileStore) CurrentTerm() uint64 { return s.fields.CurrentTerm }

func (s *FileStore) SetCurrentTerm(term uint64) error {
	s.fields.CurrentTerm = term
	return s.persist()
}

func (s *FileStore) VotedFor() string { return s.fields.VotedFor }

func (s *FileStore) SetVotedFor(candidate string) error {
	s.fields.VotedFor = candidate
	return s.persist()
}

func (s *FileStore) CommitIndex() uint64 { return s.fields.CommitIndex }

func (s *FileStore) SetCommitIndex(index uint64) error {
	s.fields.CommitIndex = index
	return s.persist()
}

func (s *FileStore) LastApplied() uint64 { return s.fields.LastApplied }

func (s *FileStore) SetLastApplied(index uint64) error {
	s.fields.LastApplied = index
	return s.persist()
}

func (s *FileStore) Append(entries []Entry) error {
	s.fields.Entries = append(s.fields.Entries, entries...)
	return s.persist()
}

func (s *FileStore) TruncateFrom(from uint64) error {
	if from <= s.fields.SnapIndex {
		s.fields.Entries = nil
		return s.persist()
	}
	keep := from - s.fields.SnapIndex - 1
	if keep > uint64(len(s.fields.Entries)) {
		keep = uint64(len(s.fields.Entries))
	}
	s.fields.Entries = s.fields.Entries[:keep]
	return s.persist()
}

func (s *FileStore) At(index uint64) (Entry, bool) {
	if index <= s.fields.SnapIndex || index > s.LastIndex() {
		return Entry{}, false
	}
	return s.fields.Entries[index-s.fields.SnapIndex-1], true
}

func (s *FileStore) LastIndex() uint64 {
	return s.fields.SnapIndex + uint64(len(s.fields.Entries))
}

func (s *FileStore) LastTerm() uint64 {
	if len(s.fields.Entries) == 0 {
		return s.fields.SnapTerm
	}
	return s.fields.Entries[len(s.fields.Entries)-1].Term
}

func (s *FileStore) SnapshotIndex() uint64   { return s.fields.SnapIndex }
func (s *FileStore) SnapshotTerm() uint64    { return s.fields.SnapTerm }
func (s *FileStore) SnapshotPayload() []byte { return s.snapData }

func (s *FileStore) SetSnapshot(index, term uint64, payload []byte) error {
	if index > s.fields.SnapIndex {
		var kept []Entry
		for _, e := range s.fields.Entries {
			if e.Index > index {
				kept = append(kept, e)
			}
		}
		s.fields.Entries = kept
	}
	s.fields.SnapIndex = index
	s.fields.SnapTerm = term
	s.snapData = payload

	if err := s.saveSnapshotFile(index, term, payload); err != nil {
		return err
	}
	return s.persist()
}

func (s *FileStore) saveSnapshotFile(index, term uint64, payload []byte) error {
	snapshotPath := filepath.Join(s.dir, snapshotFileName)

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(Snapshot{Index: index, Term: term, Payload: payload}); err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	data := buf.Bytes()
	crc := crc32.ChecksumIEEE(data)

	header := make([]byte, recordHeaderSize)
	binary.LittleEndian.PutUint32(header[:4], crc)
	binary.LittleEndian.PutUint32(header[4:8], uint32(len(data)))

	file, err := os.Create(snapshotPath)
	if err != nil {
		return fmt.Errorf("create snapshot file: %w", err)
	}
	defer file.Close()

	if _, err := file.Write(header); err != nil {
		return fmt.Errorf("write snapshot header: %w", err)
	}
	if _, err := file.Write(data); err != nil {
		return fmt.Errorf("write snapshot data: %w", err)
	}
	return file.Sync()
}

func (s *FileStore) loadSnapshot() error {
	snapshotPath := filepath.Join(s.dir, snapshotFileName)
	file, err := os.Open(snapshotPath)
	if err != nil {
		return err
	}
	defer file.Close()

	header := make([]byte, recordHeaderSize)
	if _, err := io.ReadFull(file, header); err != nil {
		return fmt.Errorf("read snapshot header: %w", err)
	}
	crc := binary.LittleEndian.Uint32(header[:4])
	length := binary.LittleEndian.Uint32(header[4:8])

	data := make([]byte, length)
	if _, err := io.ReadFull(file, data); err != nil {
		return fmt.Errorf("read snapshot data: %w", err)
	}
	if crc32.ChecksumIEEE(data) != crc {
		return fmt.Errorf("CRC mismatch in snapshot file")
	}

	var snap Snapshot
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&snap); err != nil {
		return fmt.Errorf("decode snapshot: %w", err)
	}
	s.fields.SnapIndex = snap.Index
	s.fields.SnapTerm = snap.Term
	s.snapData = snap.Payload
	return nil
}

func (s *FileStore) Close() error {
	if s.file != nil {
		return s.file.Close()
	}
	return nil
}
