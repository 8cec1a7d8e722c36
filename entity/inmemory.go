package entity

import (
	"context"
	"sync"
)

// InMemoryStore implements Store using an in-memory map. Thread-safe with
// RWMutex. Used by tests and by deployments where the calendar service is
// wired in-process.
type InMemoryStore struct {
	events map[string]*Event
	mu     sync.RWMutex
}

// NewInMemoryStore creates an empty in-memory event store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		events: make(map[string]*Event),
	}
}

// Put inserts or replaces an event.
func (s *InMemoryStore) Put(e *Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[e.ID] = e.Clone()
}

// Delete removes an event if present.
func (s *InMemoryStore) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.events, id)
}

// Get returns a copy of the stored event.
func (s *InMemoryStore) Get(_ context.Context, id string) (*Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, exists := s.events[id]
	if !exists {
		return nil, ErrNotFound
	}
	return e.Clone(), nil
}

// Apply merges the non-nil fields of change into the stored event.
func (s *InMemoryStore) Apply(_ context.Context, id string, change Change) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, exists := s.events[id]
	if !exists {
		return ErrNotFound
	}

	if change.Color != nil {
		e.Color = *change.Color
	}
	if change.Status != nil {
		e.Status = *change.Status
	}
	if change.Notes != nil {
		e.Notes = *change.Notes
	}
	if change.CalendarID != nil {
		e.CalendarID = *change.CalendarID
	}
	if change.CalendarName != nil {
		e.CalendarName = *change.CalendarName
	}
	return nil
}

// ListOwned returns copies of the owner's events with a start time inside
// the window.
func (s *InMemoryStore) ListOwned(_ context.Context, ownerID string, window Window) ([]*Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var owned []*Event
	for _, e := range s.events {
		if e.OwnerID != ownerID {
			continue
		}
		if !window.Contains(e.Start) {
			continue
		}
		owned = append(owned, e.Clone())
	}
	return owned, nil
}
