package memory

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"

	audit "kinguard/pkg/platform/audit"
)

// GenesisHash is the PrevHash of the first entry in a new log.
const GenesisHash = "sha256:0000000000000000000000000000000000000000000000000000000000000000"

// InMemoryStore is the append-only audit log kept by every instance.
// Each entry's PrevHash is the hash of the previous entry, forming a
// tamper-evident chain that Verify can walk.
//
// With a retention cap the oldest entries are evicted once the cap is
// reached; the durable copy lives in the external sinks. Verify then starts
// from the hash of the last evicted entry.
type InMemoryStore struct {
	mu        sync.RWMutex
	entries   []audit.Entry
	bySubject map[string][]int // absolute sequence numbers
	evicted   int
	anchor    string
	prevHash  string
	retention int
}

type Option func(*InMemoryStore)

// WithRetention caps the number of retained entries. Non-positive values
// keep every entry.
func WithRetention(n int) Option {
	return func(s *InMemoryStore) {
		if n > 0 {
			s.retention = n
		}
	}
}

func NewInMemoryStore(opts ...Option) *InMemoryStore {
	s := &InMemoryStore{
		bySubject: make(map[string][]int),
		anchor:    GenesisHash,
		prevHash:  GenesisHash,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Append chains and stores an entry. Entries are never mutated afterwards.
func (s *InMemoryStore) Append(_ context.Context, entry audit.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry.PrevHash = s.prevHash
	entry.Hash = ""
	hash, err := HashEntry(entry)
	if err != nil {
		return err
	}
	entry.Hash = hash

	s.entries = append(s.entries, entry)
	if entry.SubjectID != "" {
		s.bySubject[entry.SubjectID] = append(s.bySubject[entry.SubjectID], s.evicted+len(s.entries)-1)
	}
	s.prevHash = hash
	if s.retention > 0 && len(s.entries) > s.retention {
		s.evictOldest()
	}
	return nil
}

// evictOldest drops the first entry. Callers hold s.mu.
func (s *InMemoryStore) evictOldest() {
	oldest := s.entries[0]
	s.entries[0] = audit.Entry{}
	s.entries = s.entries[1:]
	s.anchor = oldest.Hash
	s.evicted++

	if oldest.SubjectID == "" {
		return
	}
	idx := s.bySubject[oldest.SubjectID][1:]
	if len(idx) == 0 {
		delete(s.bySubject, oldest.SubjectID)
		return
	}
	s.bySubject[oldest.SubjectID] = idx
}

// ListBySubject returns a subject's entries in append order.
func (s *InMemoryStore) ListBySubject(_ context.Context, subjectID string) ([]audit.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	idx := s.bySubject[subjectID]
	out := make([]audit.Entry, 0, len(idx))
	for _, seq := range idx {
		out = append(out, s.entries[seq-s.evicted])
	}
	return out, nil
}

// ListRecent returns up to limit of the most recent entries, oldest first.
func (s *InMemoryStore) ListRecent(_ context.Context, limit int) ([]audit.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	start := 0
	if limit > 0 && len(s.entries) > limit {
		start = len(s.entries) - limit
	}
	return append([]audit.Entry{}, s.entries[start:]...), nil
}

// Len returns the number of stored entries.
func (s *InMemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Evicted returns how many entries the retention cap has dropped.
func (s *InMemoryStore) Evicted() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.evicted
}

// Verify walks the retained chain and returns the index of the first broken
// link.
func (s *InMemoryStore) Verify() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	prev := s.anchor
	for i, e := range s.entries {
		if e.PrevHash != prev {
			return i, fmt.Errorf("audit: entry %d prev_hash mismatch", i)
		}
		want := e.Hash
		e.Hash = ""
		got, err := HashEntry(e)
		if err != nil {
			return i, err
		}
		if got != want {
			return i, fmt.Errorf("audit: entry %d hash mismatch", i)
		}
		prev = want
	}
	return -1, nil
}

// HashEntry returns "sha256:<hex>" of the entry's JSON encoding with Hash unset.
// Entry is a struct, so field order and therefore the hash are deterministic.
func HashEntry(entry audit.Entry) (string, error) {
	entry.Hash = ""
	line, err := json.Marshal(entry)
	if err != nil {
		return "", fmt.Errorf("audit: marshal entry: %w", err)
	}
	h := sha256.Sum256(line)
	return "sha256:" + hex.EncodeToString(h[:]), nil
}
