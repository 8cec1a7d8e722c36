package rule

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrNotFound is returned when a rule ID does not exist.
var ErrNotFound = errors.New("rule not found")

// Store manages rule persistence and retrieval. The engine only reads
// enabled rules through it; rule CRUD is driven by the management surface.
type Store interface {
	// Add a new rule.
	Add(r *Rule) error

	// Get a rule by ID.
	Get(id string) (*Rule, error)

	// ListEnabledByOwner returns all enabled rules owned by ownerID.
	ListEnabledByOwner(ownerID string) ([]*Rule, error)

	// ListEnabled returns all enabled rules across owners. Only the
	// scheduler uses this, to discover due time-based triggers.
	ListEnabled() ([]*Rule, error)

	// ListByOwner returns all of an owner's rules, enabled or not.
	ListByOwner(ownerID string) ([]*Rule, error)

	// Update an existing rule.
	Update(r *Rule) error

	// Delete a rule.
	Delete(id string) error

	// Touch records a dispatch against the rule's last-evaluated timestamp,
	// and the last-executed timestamp when actions ran.
	Touch(id string, at time.Time, executed bool) error
}

// InMemoryStore implements Store using an in-memory map, thread-safe with
// RWMutex.
type InMemoryStore struct {
	rules map[string]*Rule
	mu    sync.RWMutex
}

// NewInMemoryStore creates a new in-memory rule store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		rules: make(map[string]*Rule),
	}
}

// Add adds a new rule, enforcing unique IDs and setting timestamps.
func (s *InMemoryStore) Add(r *Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.rules[r.ID]; exists {
		return fmt.Errorf("rule with ID %s already exists", r.ID)
	}

	now := time.Now()
	r.CreatedAt = now
	r.UpdatedAt = now
	s.rules[r.ID] = r.Clone()
	return nil
}

// Get retrieves a rule by ID.
func (s *InMemoryStore) Get(id string) (*Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, exists := s.rules[id]
	if !exists {
		return nil, fmt.Errorf("rule %s: %w", id, ErrNotFound)
	}
	return r.Clone(), nil
}

// ListEnabledByOwner returns the owner's enabled rules.
func (s *InMemoryStore) ListEnabledByOwner(ownerID string) ([]*Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var enabled []*Rule
	for _, r := range s.rules {
		if r.OwnerID == ownerID && r.Enabled {
			enabled = append(enabled, r.Clone())
		}
	}
	return enabled, nil
}

// ListEnabled returns all enabled rules.
func (s *InMemoryStore) ListEnabled() ([]*Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var enabled []*Rule
	for _, r := range s.rules {
		if r.Enabled {
			enabled = append(enabled, r.Clone())
		}
	}
	return enabled, nil
}

// ListByOwner returns all of the owner's rules.
func (s *InMemoryStore) ListByOwner(ownerID string) ([]*Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var owned []*Rule
	for _, r := range s.rules {
		if r.OwnerID == ownerID {
			owned = append(owned, r.Clone())
		}
	}
	return owned, nil
}

// Update updates an existing rule, preserving CreatedAt.
func (s *InMemoryStore) Update(r *Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.rules[r.ID]
	if !exists {
		return fmt.Errorf("rule %s: %w", r.ID, ErrNotFound)
	}

	r.CreatedAt = existing.CreatedAt
	r.UpdatedAt = time.Now()
	s.rules[r.ID] = r.Clone()
	return nil
}

// Delete removes a rule.
func (s *InMemoryStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.rules[id]; !exists {
		return fmt.Errorf("rule %s: %w", id, ErrNotFound)
	}
	delete(s.rules, id)
	return nil
}

// Touch records the dispatch timestamps.
func (s *InMemoryStore) Touch(id string, at time.Time, executed bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, exists := s.rules[id]
	if !exists {
		return fmt.Errorf("rule %s: %w", id, ErrNotFound)
	}

	t := at
	r.LastEvaluatedAt = &t
	if executed {
		r.LastExecutedAt = &t
	}
	return nil
}
