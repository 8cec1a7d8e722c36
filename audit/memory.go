package audit

import (
	"fmt"
	"sync"
)

// DefaultCap is the default per-rule entry cap. Deployments override it
// through configuration.
const DefaultCap = 1000

// ring is a fixed-capacity circular buffer of entries for one rule. Oldest
// entries are overwritten once the buffer is full, so a rule's audit
// footprint is bounded regardless of activity volume.
type ring struct {
	mu      sync.Mutex
	entries []Entry
	head    int // index of the oldest entry
	count   int
}

func newRing(capacity int) *ring {
	return &ring{entries: make([]Entry, capacity)}
}

func (r *ring) append(e Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.count < len(r.entries) {
		r.entries[(r.head+r.count)%len(r.entries)] = e
		r.count++
		return
	}
	// Full: overwrite the oldest slot and advance.
	r.entries[r.head] = e
	r.head = (r.head + 1) % len(r.entries)
}

// snapshotNewestFirst copies the ring's contents newest first.
func (r *ring) snapshotNewestFirst() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Entry, r.count)
	for i := 0; i < r.count; i++ {
		out[i] = r.entries[(r.head+r.count-1-i)%len(r.entries)]
	}
	return out
}

// MemoryLog implements Log with one ring per rule. The outer map lock is
// held only to locate a ring; appends to different rules proceed on
// independent ring locks and never contend.
type MemoryLog struct {
	rings    map[string]*ring
	capacity int
	mu       sync.RWMutex
}

// NewMemoryLog creates an in-memory audit log with the given per-rule cap.
// Non-positive caps fall back to DefaultCap.
func NewMemoryLog(capacity int) *MemoryLog {
	if capacity <= 0 {
		capacity = DefaultCap
	}
	return &MemoryLog{
		rings:    make(map[string]*ring),
		capacity: capacity,
	}
}

func (l *MemoryLog) ringFor(ruleID string) *ring {
	l.mu.RLock()
	r, exists := l.rings[ruleID]
	l.mu.RUnlock()
	if exists {
		return r
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if r, exists = l.rings[ruleID]; exists {
		return r
	}
	r = newRing(l.capacity)
	l.rings[ruleID] = r
	return r
}

// Append records an entry in the rule's ring.
func (l *MemoryLog) Append(e Entry) error {
	l.ringFor(e.RuleID).append(e)
	return nil
}

// List returns a page of the rule's entries, newest first.
func (l *MemoryLog) List(ruleID string, page, perPage int) ([]Entry, int, error) {
	if page < 1 {
		return nil, 0, fmt.Errorf("page must be >= 1, got %d", page)
	}
	if perPage < 1 {
		return nil, 0, fmt.Errorf("perPage must be >= 1, got %d", perPage)
	}

	l.mu.RLock()
	r, exists := l.rings[ruleID]
	l.mu.RUnlock()
	if !exists {
		return nil, 0, nil
	}

	all := r.snapshotNewestFirst()
	total := len(all)

	start := (page - 1) * perPage
	if start >= total {
		return nil, total, nil
	}
	end := start + perPage
	if end > total {
		end = total
	}
	return all[start:end], total, nil
}

// Get returns one entry of a rule by entry ID.
func (l *MemoryLog) Get(ruleID, entryID string) (Entry, error) {
	l.mu.RLock()
	r, exists := l.rings[ruleID]
	l.mu.RUnlock()
	if !exists {
		return Entry{}, fmt.Errorf("rule %s entry %s: %w", ruleID, entryID, ErrEntryNotFound)
	}

	for _, e := range r.snapshotNewestFirst() {
		if e.ID == entryID {
			return e, nil
		}
	}
	return Entry{}, fmt.Errorf("rule %s entry %s: %w", ruleID, entryID, ErrEntryNotFound)
}

// DropRule discards the rule's ring.
func (l *MemoryLog) DropRule(ruleID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.rings, ruleID)
	return nil
}
