// Package store persists decisions in memory or in Redis.
package store

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"kinguard/internal/decision"
	"kinguard/pkg/platform/ring"
	"kinguard/pkg/platform/sentinel"
)

// DefaultHistorySize bounds per-subject decision history.
const DefaultHistorySize = 100

// InMemory implements decision.Store. Per-subject history is a bounded ring
// of ids; ids whose decision was purged are skipped when listing.
type InMemory struct {
	mu          sync.RWMutex
	decisions   map[string]*decision.Decision
	history     map[string]*ring.Buffer[string]
	historySize int
}

type InMemoryOption func(*InMemory)

func WithHistorySize(n int) InMemoryOption {
	return func(s *InMemory) {
		if n > 0 {
			s.historySize = n
		}
	}
}

func NewInMemory(opts ...InMemoryOption) *InMemory {
	s := &InMemory{
		decisions:   make(map[string]*decision.Decision),
		history:     make(map[string]*ring.Buffer[string]),
		historySize: DefaultHistorySize,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// clone deep-copies through JSON so the snapshot map is not shared.
func clone(d *decision.Decision) (*decision.Decision, error) {
	data, err := json.Marshal(d)
	if err != nil {
		return nil, err
	}
	var out decision.Decision
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *InMemory) Save(ctx context.Context, d *decision.Decision) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c, err := clone(d)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.decisions[d.ID] = c
	h, ok := s.history[d.SubjectID]
	if !ok {
		h = ring.New[string](s.historySize)
		s.history[d.SubjectID] = h
	}
	h.Push(d.ID)
	return nil
}

func (s *InMemory) Find(_ context.Context, id string) (*decision.Decision, error) {
	s.mu.RLock()
	d, ok := s.decisions[id]
	s.mu.RUnlock()
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return clone(d)
}

func (s *InMemory) ListBySubject(_ context.Context, subjectID string, limit int) ([]*decision.Decision, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	h, ok := s.history[subjectID]
	if !ok {
		return []*decision.Decision{}, nil
	}
	ids := h.Items()
	out := make([]*decision.Decision, 0, min(limit, len(ids)))
	for i := len(ids) - 1; i >= 0 && len(out) < limit; i-- {
		d, ok := s.decisions[ids[i]]
		if !ok {
			continue
		}
		c, err := clone(d)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

func (s *InMemory) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	touched := make(map[string]struct{})
	for id, d := range s.decisions {
		if d.Expired(now) {
			delete(s.decisions, id)
			touched[d.SubjectID] = struct{}{}
			n++
		}
	}
	for subjectID := range touched {
		s.dropEmptyHistory(subjectID)
	}
	return n, nil
}

// dropEmptyHistory forgets a subject's history once none of its decisions
// remain. Callers hold s.mu.
func (s *InMemory) dropEmptyHistory(subjectID string) {
	h, ok := s.history[subjectID]
	if !ok {
		return
	}
	for _, id := range h.Items() {
		if _, live := s.decisions[id]; live {
			return
		}
	}
	delete(s.history, subjectID)
}

// Subjects returns the number of subjects with a retained history.
func (s *InMemory) Subjects() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.history)
}
