// Package schedule implements the periodic clock source of the automation
// engine: it decides which time-based triggers are due on each tick and
// feeds them into the dispatch pipeline. Triggers are pure data (a cron
// spec, or an offset anchored to an event's start); this package owns the
// "is it due in this tick's window" decision and the per-occurrence
// idempotency markers.
package schedule

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/kalendo/automation/internal/logger"
	"github.com/kalendo/automation/rule"
)

// DefaultInterval is the default tick interval.
const DefaultInterval = time.Minute

// Sink receives due triggers. The engine implements it; firing enters the
// same evaluate-act-audit pipeline as lifecycle events.
type Sink interface {
	// ScheduleDue fires a fixed-schedule trigger for its occurrence time.
	ScheduleDue(ctx context.Context, ruleID string, occurrence time.Time)

	// OffsetDue fires a relative-offset trigger for the registered event
	// occurrence.
	OffsetDue(ctx context.Context, ruleID, eventID string, occurrence time.Time)
}

// registration is a pending relative-offset trigger: rule/event pair plus
// the computed due time.
type registration struct {
	ruleID     string
	eventID    string
	occurrence time.Time // the anchored event's start; identifies the occurrence
	dueAt      time.Time
}

// Scheduler computes due time-based triggers once per tick. Fixed-schedule
// triggers are discovered from the rule store; relative-offset triggers are
// registered by the dispatcher when it sees lifecycle events for anchored
// entities. Ticking never blocks lifecycle dispatch: the only shared state
// is the sink's pipeline.
type Scheduler struct {
	rules    rule.Store
	sink     Sink
	interval time.Duration

	mu      sync.Mutex
	pending map[string]registration // key: ruleID|eventID
	fired   map[string]time.Time    // occurrence key -> fire time
	crons   map[string]cron.Schedule
}

// New creates a scheduler. A non-positive interval falls back to
// DefaultInterval.
func New(rules rule.Store, sink Sink, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Scheduler{
		rules:    rules,
		sink:     sink,
		interval: interval,
		pending:  make(map[string]registration),
		fired:    make(map[string]time.Time),
		crons:    make(map[string]cron.Schedule),
	}
}

// Interval returns the tick interval.
func (s *Scheduler) Interval() time.Duration { return s.interval }

// Run ticks at the configured interval until the context is canceled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	logger.Info("scheduler started", "interval", s.interval.String())
	for {
		select {
		case <-ctx.Done():
			logger.Info("scheduler stopped")
			return
		case now := <-ticker.C:
			s.Tick(ctx, now)
		}
	}
}

// RegisterOffset registers (or refreshes) a relative-offset trigger for a
// rule/event pair. The due time is the event's start minus the rule's
// offset. A registration whose window has already fully elapsed is dropped
// on the spot: the scheduler never retro-fires missed windows.
func (s *Scheduler) RegisterOffset(r *rule.Rule, eventID string, eventStart time.Time, now time.Time) {
	if r.Trigger.Type != rule.TriggerEventStartsIn || !r.Enabled {
		return
	}

	dueAt := eventStart.Add(-time.Duration(r.Trigger.OffsetMinutes) * time.Minute)
	if dueAt.Add(s.interval).Before(now) {
		logger.Info("relative-offset trigger window already elapsed, not registering",
			"rule_id", r.ID, "event_id", eventID, "due_at", dueAt)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// Keyed by rule/event so an updated event replaces its registration
	// with the recomputed due time.
	s.pending[r.ID+"|"+eventID] = registration{
		ruleID:     r.ID,
		eventID:    eventID,
		occurrence: eventStart,
		dueAt:      dueAt,
	}
}

// DropOffsets removes pending registrations for an event, used when the
// event is deleted.
func (s *Scheduler) DropOffsets(eventID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, reg := range s.pending {
		if reg.eventID == eventID {
			delete(s.pending, key)
		}
	}
}

// Tick computes and fires every trigger due in the window (now-interval,
// now]. Window matching rather than exact-instant matching means a tick
// interval can never silently skip a trigger; the fired markers keep an
// overlap across two ticks from double-firing.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) {
	s.fireOffsets(ctx, now)
	s.fireSchedules(ctx, now)
	s.pruneFired(now)
}

func (s *Scheduler) fireOffsets(ctx context.Context, now time.Time) {
	windowStart := now.Add(-s.interval)

	s.mu.Lock()
	var due []registration
	for key, reg := range s.pending {
		if reg.dueAt.After(now) {
			continue // not yet due
		}
		delete(s.pending, key)
		if reg.dueAt.Before(windowStart) {
			// Window fully elapsed without a tick observing it, e.g.
			// process downtime. Known, accepted gap.
			logger.Info("relative-offset trigger window missed",
				"rule_id", reg.ruleID, "event_id", reg.eventID, "due_at", reg.dueAt)
			continue
		}
		firedKey := offsetFiredKey(reg)
		if _, already := s.fired[firedKey]; already {
			continue
		}
		s.fired[firedKey] = now
		due = append(due, reg)
	}
	s.mu.Unlock()

	// Fire outside the lock: the sink runs the full pipeline.
	for _, reg := range due {
		s.sink.OffsetDue(ctx, reg.ruleID, reg.eventID, reg.occurrence)
	}
}

func (s *Scheduler) fireSchedules(ctx context.Context, now time.Time) {
	enabled, err := s.rules.ListEnabled()
	if err != nil {
		logger.Error("scheduler failed to list enabled rules", "error", err)
		return
	}

	windowStart := now.Add(-s.interval)

	type fire struct {
		ruleID     string
		occurrence time.Time
	}
	var due []fire

	s.mu.Lock()
	for _, r := range enabled {
		if r.Trigger.Type != rule.TriggerSchedule {
			continue
		}
		sched, err := s.cronSchedule(r.Trigger.Schedule)
		if err != nil {
			logger.Warn("rule has unparseable schedule", "rule_id", r.ID, "schedule", r.Trigger.Schedule, "error", err)
			continue
		}
		// Is this tick within the trigger's fire window? The next firing
		// strictly after windowStart must land at or before now.
		occurrence := sched.Next(windowStart)
		if occurrence.IsZero() || occurrence.After(now) {
			continue
		}
		firedKey := scheduleFiredKey(r.ID, occurrence)
		if _, already := s.fired[firedKey]; already {
			continue
		}
		s.fired[firedKey] = now
		due = append(due, fire{ruleID: r.ID, occurrence: occurrence})
	}
	s.mu.Unlock()

	for _, f := range due {
		s.sink.ScheduleDue(ctx, f.ruleID, f.occurrence)
	}
}

// cronSchedule parses a standard 5-field cron spec, caching parsed results.
// Callers hold s.mu.
func (s *Scheduler) cronSchedule(spec string) (cron.Schedule, error) {
	if sched, cached := s.crons[spec]; cached {
		return sched, nil
	}
	sched, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, err
	}
	s.crons[spec] = sched
	return sched, nil
}

// pruneFired drops idempotency markers older than a day so the map stays
// bounded. A marker only matters while its fire window can still overlap a
// tick.
func (s *Scheduler) pruneFired(now time.Time) {
	cutoff := now.Add(-24 * time.Hour)

	s.mu.Lock()
	defer s.mu.Unlock()
	for key, at := range s.fired {
		if at.Before(cutoff) {
			delete(s.fired, key)
		}
	}
}

func offsetFiredKey(reg registration) string {
	return fmt.Sprintf("offset|%s|%s|%d", reg.ruleID, reg.eventID, reg.occurrence.Unix())
}

func scheduleFiredKey(ruleID string, occurrence time.Time) string {
	return fmt.Sprintf("cron|%s|%d", ruleID, occurrence.Unix())
}
