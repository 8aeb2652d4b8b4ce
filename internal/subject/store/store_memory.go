package store

import (
	"context"
	"sync"

	"kinguard/internal/subject"
	"kinguard/pkg/platform/sentinel"
)

// InMemory implements subject.Store.
type InMemory struct {
	mu       sync.RWMutex
	subjects map[string]subject.Subject
}

func NewInMemory() *InMemory {
	return &InMemory{subjects: make(map[string]subject.Subject)}
}

// Create stores s or returns sentinel.ErrConflict when the id is taken.
func (m *InMemory) Create(ctx context.Context, s *subject.Subject) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.subjects[s.ID]; ok {
		return sentinel.ErrConflict
	}
	m.subjects[s.ID] = *s
	return nil
}

func (m *InMemory) Find(_ context.Context, id string) (*subject.Subject, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.subjects[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return &s, nil
}
