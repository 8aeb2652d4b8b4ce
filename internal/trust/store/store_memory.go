// Package store holds trust profiles in memory. Each subject has its own
// entry mutex so updates for one subject are linearizable without blocking
// other subjects.
package store

import (
	"context"
	"sync"

	"kinguard/internal/trust"
	"kinguard/pkg/platform/sentinel"
)

type entry struct {
	mu      sync.Mutex
	profile *trust.Profile
}

// InMemory implements trust.Store.
type InMemory struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

func NewInMemory() *InMemory {
	return &InMemory{entries: make(map[string]*entry)}
}

func (s *InMemory) entryFor(userID string) *entry {
	s.mu.RLock()
	e, ok := s.entries[userID]
	s.mu.RUnlock()
	if ok {
		return e
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[userID]; ok {
		return e
	}
	e = &entry{}
	s.entries[userID] = e
	return e
}

// Find returns a copy of the stored profile or sentinel.ErrNotFound.
func (s *InMemory) Find(_ context.Context, userID string) (*trust.Profile, error) {
	s.mu.RLock()
	e, ok := s.entries[userID]
	s.mu.RUnlock()
	if !ok {
		return nil, sentinel.ErrNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.profile == nil {
		return nil, sentinel.ErrNotFound
	}
	return e.profile.Clone(), nil
}

// Update runs fn under the subject's lock. fn receives a copy of the current
// profile (nil when absent) and returns the profile to store. An error from fn
// leaves the stored profile untouched.
func (s *InMemory) Update(ctx context.Context, userID string, fn func(current *trust.Profile) (*trust.Profile, error)) (*trust.Profile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e := s.entryFor(userID)

	e.mu.Lock()
	defer e.mu.Unlock()

	next, err := fn(e.profile.Clone())
	if err != nil {
		return nil, err
	}
	e.profile = next.Clone()
	return next, nil
}

// Count returns the number of stored profiles.
func (s *InMemory) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, e := range s.entries {
		e.mu.Lock()
		if e.profile != nil {
			n++
		}
		e.mu.Unlock()
	}
	return n, nil
}
