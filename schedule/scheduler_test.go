package schedule

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/kalendo/automation/rule"
)

type firing struct {
	ruleID     string
	eventID    string
	occurrence time.Time
}

// recordingSink captures fired triggers.
type recordingSink struct {
	mu        sync.Mutex
	offsets   []firing
	schedules []firing
}

func (s *recordingSink) ScheduleDue(_ context.Context, ruleID string, occurrence time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.schedules = append(s.schedules, firing{ruleID: ruleID, occurrence: occurrence})
}

func (s *recordingSink) OffsetDue(_ context.Context, ruleID, eventID string, occurrence time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.offsets = append(s.offsets, firing{ruleID: ruleID, eventID: eventID, occurrence: occurrence})
}

func offsetRule(id string, minutes int) *rule.Rule {
	return &rule.Rule{
		ID:      id,
		OwnerID: "user-1",
		Name:    "offset " + id,
		Trigger: rule.Trigger{Type: rule.TriggerEventStartsIn, OffsetMinutes: minutes},
		Actions: []rule.Action{{Type: "set_color"}},
		Enabled: true,
	}
}

func scheduleRule(id, spec string) *rule.Rule {
	return &rule.Rule{
		ID:      id,
		OwnerID: "user-1",
		Name:    "cron " + id,
		Trigger: rule.Trigger{Type: rule.TriggerSchedule, Schedule: spec},
		Actions: []rule.Action{{Type: "set_color"}},
		Enabled: true,
	}
}

func TestRegisterOffset_FiresInWindow(t *testing.T) {
	store := rule.NewInMemoryStore()
	sink := &recordingSink{}
	s := New(store, sink, time.Minute)

	now := time.Date(2026, 3, 9, 8, 0, 0, 0, time.UTC)
	start := now.Add(15 * time.Minute) // due at 08:05 with a 10 minute offset
	s.RegisterOffset(offsetRule("r1", 10), "event-1", start, now)

	// Ticks before the due time fire nothing.
	s.Tick(context.Background(), now.Add(4*time.Minute))
	if len(sink.offsets) != 0 {
		t.Fatalf("Expected no firing before due time, got %d", len(sink.offsets))
	}

	// The tick whose window contains 08:05 fires exactly once.
	s.Tick(context.Background(), now.Add(5*time.Minute))
	if len(sink.offsets) != 1 {
		t.Fatalf("Expected 1 firing, got %d", len(sink.offsets))
	}
	got := sink.offsets[0]
	if got.ruleID != "r1" || got.eventID != "event-1" || !got.occurrence.Equal(start) {
		t.Errorf("Unexpected firing: %+v", got)
	}
}

// TestRegisterOffset_IdempotentAcrossOverlappingTicks verifies a due time
// covered by two tick windows fires once.
func TestRegisterOffset_IdempotentAcrossOverlappingTicks(t *testing.T) {
	store := rule.NewInMemoryStore()
	sink := &recordingSink{}
	s := New(store, sink, time.Minute)

	now := time.Date(2026, 3, 9, 8, 0, 0, 0, time.UTC)
	start := now.Add(10 * time.Minute)
	r := offsetRule("r1", 10) // due exactly now

	s.RegisterOffset(r, "event-1", start, now)
	s.Tick(context.Background(), now)

	// Re-register (an update notification) and tick an overlapping window.
	s.RegisterOffset(r, "event-1", start, now)
	s.Tick(context.Background(), now.Add(30*time.Second))

	if len(sink.offsets) != 1 {
		t.Errorf("Expected exactly 1 firing across overlapping ticks, got %d", len(sink.offsets))
	}
}

// TestRegisterOffset_ElapsedWindowDropped verifies registrations whose window
// already passed are never fired retroactively.
func TestRegisterOffset_ElapsedWindowDropped(t *testing.T) {
	store := rule.NewInMemoryStore()
	sink := &recordingSink{}
	s := New(store, sink, time.Minute)

	now := time.Date(2026, 3, 9, 8, 0, 0, 0, time.UTC)
	start := now.Add(-30 * time.Minute) // event started half an hour ago
	s.RegisterOffset(offsetRule("r1", 10), "event-1", start, now)

	s.Tick(context.Background(), now)
	if len(sink.offsets) != 0 {
		t.Errorf("Expected elapsed window never to fire, got %d firings", len(sink.offsets))
	}
}

// TestTick_MissedWindowDropped verifies a due registration whose window
// elapsed between ticks (downtime) is dropped, not retro-fired.
func TestTick_MissedWindowDropped(t *testing.T) {
	store := rule.NewInMemoryStore()
	sink := &recordingSink{}
	s := New(store, sink, time.Minute)

	now := time.Date(2026, 3, 9, 8, 0, 0, 0, time.UTC)
	start := now.Add(12 * time.Minute) // due at 08:02
	s.RegisterOffset(offsetRule("r1", 10), "event-1", start, now)

	// Next tick only happens at 08:10; the 08:02 window was never observed.
	s.Tick(context.Background(), now.Add(10*time.Minute))
	if len(sink.offsets) != 0 {
		t.Errorf("Expected missed window to be dropped, got %d firings", len(sink.offsets))
	}
}

func TestRegisterOffset_UpdateReplacesRegistration(t *testing.T) {
	store := rule.NewInMemoryStore()
	sink := &recordingSink{}
	s := New(store, sink, time.Minute)

	now := time.Date(2026, 3, 9, 8, 0, 0, 0, time.UTC)
	r := offsetRule("r1", 10)
	s.RegisterOffset(r, "event-1", now.Add(15*time.Minute), now)
	// The event got rescheduled; the new registration replaces the old.
	moved := now.Add(45 * time.Minute)
	s.RegisterOffset(r, "event-1", moved, now)

	s.Tick(context.Background(), now.Add(5*time.Minute))
	if len(sink.offsets) != 0 {
		t.Fatalf("Expected old due time to be gone, got %d firings", len(sink.offsets))
	}

	s.Tick(context.Background(), now.Add(35*time.Minute))
	if len(sink.offsets) != 1 || !sink.offsets[0].occurrence.Equal(moved) {
		t.Fatalf("Expected firing for rescheduled occurrence, got %+v", sink.offsets)
	}
}

func TestDropOffsets(t *testing.T) {
	store := rule.NewInMemoryStore()
	sink := &recordingSink{}
	s := New(store, sink, time.Minute)

	now := time.Date(2026, 3, 9, 8, 0, 0, 0, time.UTC)
	s.RegisterOffset(offsetRule("r1", 10), "event-1", now.Add(15*time.Minute), now)
	s.DropOffsets("event-1")

	s.Tick(context.Background(), now.Add(5*time.Minute))
	if len(sink.offsets) != 0 {
		t.Errorf("Expected no firing after DropOffsets, got %d", len(sink.offsets))
	}
}

func TestRegisterOffset_IgnoresDisabledAndWrongType(t *testing.T) {
	store := rule.NewInMemoryStore()
	sink := &recordingSink{}
	s := New(store, sink, time.Minute)
	now := time.Date(2026, 3, 9, 8, 0, 0, 0, time.UTC)

	disabled := offsetRule("r1", 10)
	disabled.Enabled = false
	s.RegisterOffset(disabled, "event-1", now.Add(15*time.Minute), now)

	lifecycle := offsetRule("r2", 10)
	lifecycle.Trigger = rule.Trigger{Type: rule.TriggerEventCreated}
	s.RegisterOffset(lifecycle, "event-1", now.Add(15*time.Minute), now)

	s.Tick(context.Background(), now.Add(5*time.Minute))
	if len(sink.offsets) != 0 {
		t.Errorf("Expected no registrations accepted, got %d firings", len(sink.offsets))
	}
}

func TestTick_FiresDueCronSchedules(t *testing.T) {
	store := rule.NewInMemoryStore()
	if err := store.Add(scheduleRule("r1", "0 9 * * *")); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	sink := &recordingSink{}
	s := New(store, sink, time.Minute)

	// 09:00 falls inside the (08:59:30, 09:00:30] window.
	at := time.Date(2026, 3, 9, 9, 0, 30, 0, time.UTC)
	s.Tick(context.Background(), at)

	if len(sink.schedules) != 1 {
		t.Fatalf("Expected 1 cron firing, got %d", len(sink.schedules))
	}
	want := time.Date(2026, 3, 9, 9, 0, 0, 0, time.UTC)
	if sink.schedules[0].ruleID != "r1" || !sink.schedules[0].occurrence.Equal(want) {
		t.Errorf("Unexpected cron firing: %+v", sink.schedules[0])
	}

	// The same occurrence never fires twice, even if the next tick's window
	// still covers it.
	s.Tick(context.Background(), at.Add(30*time.Second))
	if len(sink.schedules) != 1 {
		t.Errorf("Expected occurrence to fire once, got %d firings", len(sink.schedules))
	}
}

func TestTick_SkipsOffScheduleTicks(t *testing.T) {
	store := rule.NewInMemoryStore()
	_ = store.Add(scheduleRule("r1", "0 9 * * *"))
	sink := &recordingSink{}
	s := New(store, sink, time.Minute)

	s.Tick(context.Background(), time.Date(2026, 3, 9, 14, 30, 0, 0, time.UTC))
	if len(sink.schedules) != 0 {
		t.Errorf("Expected no firing off schedule, got %d", len(sink.schedules))
	}
}

func TestTick_IgnoresDisabledScheduleRules(t *testing.T) {
	store := rule.NewInMemoryStore()
	r := scheduleRule("r1", "0 9 * * *")
	r.Enabled = false
	_ = store.Add(r)
	sink := &recordingSink{}
	s := New(store, sink, time.Minute)

	s.Tick(context.Background(), time.Date(2026, 3, 9, 9, 0, 30, 0, time.UTC))
	if len(sink.schedules) != 0 {
		t.Errorf("Expected disabled rule not to fire, got %d firings", len(sink.schedules))
	}
}

func TestTick_UnparseableScheduleIsSkipped(t *testing.T) {
	store := rule.NewInMemoryStore()
	r := scheduleRule("r1", "0 9 * * *")
	_ = store.Add(r)
	// Corrupt the stored spec past validation, as a migration bug would.
	r.Trigger.Schedule = "garbage"
	_ = store.Update(r)
	sink := &recordingSink{}
	s := New(store, sink, time.Minute)

	s.Tick(context.Background(), time.Date(2026, 3, 9, 9, 0, 30, 0, time.UTC))
	if len(sink.schedules) != 0 {
		t.Errorf("Expected unparseable schedule to be skipped, got %d firings", len(sink.schedules))
	}
}
