// Package store holds risk profiles in memory with a mutex per subject.
package store

import (
	"context"
	"sync"

	"kinguard/internal/risk"
	"kinguard/pkg/platform/sentinel"
)

type entry struct {
	mu      sync.Mutex
	profile *risk.Profile
}

// InMemory implements risk.Store.
type InMemory struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

func NewInMemory() *InMemory {
	return &InMemory{entries: make(map[string]*entry)}
}

func (s *InMemory) lookup(userID string, create bool) *entry {
	s.mu.RLock()
	e, ok := s.entries[userID]
	s.mu.RUnlock()
	if ok || !create {
		return e
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok = s.entries[userID]; !ok {
		e = &entry{}
		s.entries[userID] = e
	}
	return e
}

func (s *InMemory) Find(_ context.Context, userID string) (*risk.Profile, error) {
	e := s.lookup(userID, false)
	if e == nil {
		return nil, sentinel.ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.profile == nil {
		return nil, sentinel.ErrNotFound
	}
	return e.profile.Clone(), nil
}

// Update runs fn under the subject's lock; see trust/store.InMemory.Update.
func (s *InMemory) Update(ctx context.Context, userID string, fn func(current *risk.Profile) (*risk.Profile, error)) (*risk.Profile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e := s.lookup(userID, true)
	e.mu.Lock()
	defer e.mu.Unlock()

	next, err := fn(e.profile.Clone())
	if err != nil {
		return nil, err
	}
	e.profile = next.Clone()
	return next, nil
}
