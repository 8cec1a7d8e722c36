package rule

import (
	"errors"
	"testing"
	"time"
)

func storedRule(id, ownerID string, enabled bool) *Rule {
	return &Rule{
		ID:      id,
		OwnerID: ownerID,
		Name:    "rule " + id,
		Trigger: Trigger{Type: TriggerEventCreated},
		Actions: []Action{{Type: "set_color", Params: map[string]any{"color": "blue"}}},
		Enabled: enabled,
	}
}

func TestInMemoryStore_AddAndGet(t *testing.T) {
	s := NewInMemoryStore()
	r := storedRule("rule-1", "user-1", true)

	if err := s.Add(r); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if r.CreatedAt.IsZero() || r.UpdatedAt.IsZero() {
		t.Error("Expected Add to set timestamps")
	}

	got, err := s.Get("rule-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Name != r.Name || got.OwnerID != r.OwnerID {
		t.Errorf("Got mismatched rule: %+v", got)
	}

	// The store hands out clones; mutating the result must not leak back.
	got.Name = "mutated"
	again, _ := s.Get("rule-1")
	if again.Name == "mutated" {
		t.Error("Expected Get to return an isolated copy")
	}
}

func TestInMemoryStore_AddDuplicate(t *testing.T) {
	s := NewInMemoryStore()
	_ = s.Add(storedRule("rule-1", "user-1", true))

	err := s.Add(storedRule("rule-1", "user-2", true))
	if err == nil {
		t.Error("Expected error for duplicate ID, got nil")
	}
}

func TestInMemoryStore_GetMissing(t *testing.T) {
	s := NewInMemoryStore()
	_, err := s.Get("nope")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got: %v", err)
	}
}

func TestInMemoryStore_Listing(t *testing.T) {
	s := NewInMemoryStore()
	_ = s.Add(storedRule("a", "user-1", true))
	_ = s.Add(storedRule("b", "user-1", false))
	_ = s.Add(storedRule("c", "user-2", true))

	enabled, err := s.ListEnabledByOwner("user-1")
	if err != nil {
		t.Fatalf("ListEnabledByOwner failed: %v", err)
	}
	if len(enabled) != 1 || enabled[0].ID != "a" {
		t.Errorf("Expected only rule a enabled for user-1, got %d rules", len(enabled))
	}

	owned, _ := s.ListByOwner("user-1")
	if len(owned) != 2 {
		t.Errorf("Expected 2 rules for user-1, got %d", len(owned))
	}

	all, _ := s.ListEnabled()
	if len(all) != 2 {
		t.Errorf("Expected 2 enabled rules overall, got %d", len(all))
	}
}

func TestInMemoryStore_Update(t *testing.T) {
	s := NewInMemoryStore()
	r := storedRule("rule-1", "user-1", true)
	_ = s.Add(r)
	created := r.CreatedAt

	updated := storedRule("rule-1", "user-1", false)
	updated.Name = "renamed"
	if err := s.Update(updated); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	got, _ := s.Get("rule-1")
	if got.Name != "renamed" || got.Enabled {
		t.Errorf("Expected updated rule, got %+v", got)
	}
	if !got.CreatedAt.Equal(created) {
		t.Error("Expected Update to preserve CreatedAt")
	}

	if err := s.Update(storedRule("missing", "user-1", true)); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound for missing rule, got: %v", err)
	}
}

func TestInMemoryStore_Delete(t *testing.T) {
	s := NewInMemoryStore()
	_ = s.Add(storedRule("rule-1", "user-1", true))

	if err := s.Delete("rule-1"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := s.Get("rule-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected rule gone after delete, got: %v", err)
	}
	if err := s.Delete("rule-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound on second delete, got: %v", err)
	}
}

func TestInMemoryStore_Touch(t *testing.T) {
	s := NewInMemoryStore()
	_ = s.Add(storedRule("rule-1", "user-1", true))
	at := time.Now()

	if err := s.Touch("rule-1", at, false); err != nil {
		t.Fatalf("Touch failed: %v", err)
	}
	got, _ := s.Get("rule-1")
	if got.LastEvaluatedAt == nil || !got.LastEvaluatedAt.Equal(at) {
		t.Error("Expected LastEvaluatedAt to be set")
	}
	if got.LastExecutedAt != nil {
		t.Error("Expected LastExecutedAt to stay nil without execution")
	}

	later := at.Add(time.Minute)
	_ = s.Touch("rule-1", later, true)
	got, _ = s.Get("rule-1")
	if got.LastExecutedAt == nil || !got.LastExecutedAt.Equal(later) {
		t.Error("Expected LastExecutedAt to be set after execution")
	}
}
