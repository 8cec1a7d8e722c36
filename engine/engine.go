// Package engine wires the automation pipeline together: it receives
// lifecycle and clock triggers, selects the owner's enabled rules, and
// drives each matching rule through evaluate, act, audit. Rules dispatch
// concurrently and in isolation; a failure inside one rule's dispatch never
// affects sibling rules, and nothing in here ever propagates back to the
// CRUD operation that produced the notification.
package engine

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kalendo/automation/action"
	"github.com/kalendo/automation/audit"
	"github.com/kalendo/automation/condition"
	"github.com/kalendo/automation/entity"
	"github.com/kalendo/automation/internal/logger"
	"github.com/kalendo/automation/rule"
	"github.com/kalendo/automation/schedule"
)

// DefaultRetroCooldown is the default minimum spacing between retroactive
// runs of one rule.
const DefaultRetroCooldown = time.Minute

// scheduleSweepHorizon bounds which events a fired fixed-schedule trigger
// sweeps: the owner's events starting within this horizon of the occurrence.
const scheduleSweepHorizon = 24 * time.Hour

// Config carries the engine's collaborators and policy knobs.
type Config struct {
	Rules    rule.Store
	Cache    rule.Cache // nil disables rule caching
	Entities entity.Store
	Actions  *action.Registry
	Audit    audit.Log
	Metrics  *Metrics // nil disables instrumentation

	// RetroCooldown is the per-rule retroactive-run cooldown; zero means
	// DefaultRetroCooldown.
	RetroCooldown time.Duration

	// TickInterval is the scheduler tick; zero means schedule.DefaultInterval.
	TickInterval time.Duration
}

// Engine is the trigger dispatcher and pipeline driver.
type Engine struct {
	rules     rule.Store
	cache     rule.Cache
	entities  entity.Store
	actions   *action.Registry
	evaluator *condition.Evaluator
	auditLog  audit.Log
	scheduler *schedule.Scheduler
	metrics   *Metrics

	cooldown   time.Duration
	limiters   map[string]*limiterEntry
	limitersMu sync.Mutex
}

// New creates an engine and its scheduler. Call Scheduler().Run to start
// ticking; lifecycle events can be delivered immediately.
func New(cfg Config) *Engine {
	cooldown := cfg.RetroCooldown
	if cooldown <= 0 {
		cooldown = DefaultRetroCooldown
	}

	e := &Engine{
		rules:     cfg.Rules,
		cache:     cfg.Cache,
		entities:  cfg.Entities,
		actions:   cfg.Actions,
		evaluator: condition.NewEvaluator(),
		auditLog:  cfg.Audit,
		metrics:   cfg.Metrics,
		cooldown:  cooldown,
		limiters:  make(map[string]*limiterEntry),
	}
	e.scheduler = schedule.New(cfg.Rules, e, cfg.TickInterval)
	return e
}

// Scheduler returns the engine's clock source.
func (e *Engine) Scheduler() *schedule.Scheduler {
	return e.scheduler
}

// InvalidateRuleCache drops the cached rule lists. The management surface
// calls it after any rule mutation.
func (e *Engine) InvalidateRuleCache() {
	if e.cache != nil {
		e.cache.Invalidate()
	}
}

// triggerContext is the immutable snapshot handed to one dispatch. The
// evaluator and executors never mutate it; entity mutations go through the
// entity store.
type triggerContext struct {
	kind       audit.TriggerKind
	transition entity.Transition // lifecycle only
	event      *entity.Event
	at         time.Time
}

func (tc triggerContext) summary() audit.TriggerSummary {
	s := audit.TriggerSummary{
		Kind: tc.kind,
		At:   tc.at,
	}
	if tc.transition != "" {
		s.Transition = string(tc.transition)
	}
	if tc.event != nil {
		s.EntityID = tc.event.ID
		s.Title = tc.event.Title
	}
	return s
}

// OnLifecycleEvent is the inbound hook called by the calendar service after
// its own persistence commit. It selects the owner's enabled rules, fires
// the ones whose trigger matches the transition concurrently, and hands
// relative-offset triggers to the scheduler. It never returns an error and
// never panics across the boundary: the originating CRUD operation has
// already committed and must not be affected.
func (e *Engine) OnLifecycleEvent(ctx context.Context, ev *entity.Event, transition entity.Transition, at time.Time) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("panic in lifecycle dispatch", "panic", r, "entity_id", ev.ID)
		}
	}()

	ownerRules := e.enabledRules(ev.OwnerID)

	if transition == entity.TransitionDeleted {
		e.scheduler.DropOffsets(ev.ID)
	}

	var wg sync.WaitGroup
	for _, r := range ownerRules {
		switch {
		case r.MatchesTransition(transition):
			wg.Add(1)
			go func(r *rule.Rule) {
				defer wg.Done()
				defer func() {
					if p := recover(); p != nil {
						logger.Error("panic in rule dispatch", "panic", p, "rule_id", r.ID)
					}
				}()
				e.dispatch(ctx, r, triggerContext{
					kind:       audit.TriggerLifecycle,
					transition: transition,
					event:      ev,
					at:         at,
				})
			}(r)

		case r.Trigger.Type == rule.TriggerEventStartsIn && transition != entity.TransitionDeleted:
			// Not fired now: registered for evaluation at the computed due
			// time. Updates re-register and replace the pending entry.
			e.scheduler.RegisterOffset(r, ev.ID, ev.Start, at)
			e.metrics.observeOffsetRegistered()
		}
	}
	wg.Wait()
}

// enabledRules returns the owner's enabled rules, via the cache when one is
// configured.
func (e *Engine) enabledRules(ownerID string) []*rule.Rule {
	if e.cache != nil {
		if cached := e.cache.Get(ownerID); cached != nil {
			return cached
		}
	}

	rules, err := e.rules.ListEnabledByOwner(ownerID)
	if err != nil {
		logger.Error("failed to list enabled rules", "owner_id", ownerID, "error", err)
		return nil
	}
	if e.cache != nil {
		e.cache.Set(ownerID, rules)
	}
	return rules
}

// dispatch runs one rule through the pipeline: evaluate, act (if matched),
// audit. It returns the terminal entry for callers that aggregate (the
// retroactive runner); the entry has already been appended exactly once.
func (e *Engine) dispatch(ctx context.Context, r *rule.Rule, tc triggerContext) audit.Entry {
	start := time.Now()

	snapshot := tc.event.Snapshot()
	matched, trace := e.evaluator.Evaluate(r.Conditions, snapshot)

	entry := audit.Entry{
		ID:         uuid.NewString(),
		RuleID:     r.ID,
		Trigger:    tc.summary(),
		Matched:    matched,
		Conditions: trace,
		CreatedAt:  time.Now(),
	}

	if !matched {
		entry.Outcome = audit.OutcomeSkipped
	} else {
		entry.Actions = e.runActions(ctx, r, tc.event)
		entry.Outcome = classify(entry.Actions)
	}
	entry.Duration = time.Since(start)

	if err := e.auditLog.Append(entry); err != nil {
		logger.Error("failed to append audit entry", "rule_id", r.ID, "error", err)
	}

	executed := entry.Outcome != audit.OutcomeSkipped
	if err := e.rules.Touch(r.ID, tc.at, executed); err != nil {
		logger.Warn("failed to touch rule timestamps", "rule_id", r.ID, "error", err)
	}

	e.metrics.observeDispatch(tc.kind, entry.Outcome, entry.Duration)
	logger.Debug("rule dispatched",
		"rule_id", r.ID, "trigger", string(tc.kind), "outcome", string(entry.Outcome),
		"duration", entry.Duration.String())

	return entry
}

// runActions executes the rule's actions in declared order. Every action is
// attempted regardless of earlier failures; a cooperative cancellation
// point sits between actions, never inside one.
func (e *Engine) runActions(ctx context.Context, r *rule.Rule, target *entity.Event) []action.Result {
	results := make([]action.Result, 0, len(r.Actions))
	for i, a := range r.Actions {
		if i > 0 && ctx.Err() != nil {
			// Canceled between actions: remaining actions never start.
			for _, rest := range r.Actions[i:] {
				results = append(results, action.Result{
					Type:    rest.Type,
					Applied: false,
					Message: "canceled before execution",
				})
			}
			break
		}

		result := e.runAction(ctx, a, target)
		e.metrics.observeAction(a.Type, result.Applied)
		results = append(results, result)
	}
	return results
}

// runAction executes one action, converting a panicking executor into a
// failed result so the remaining actions still run.
func (e *Engine) runAction(ctx context.Context, a rule.Action, target *entity.Event) (result action.Result) {
	defer func() {
		if p := recover(); p != nil {
			logger.Error("panic in action executor", "action_type", a.Type, "panic", p)
			result = action.Result{
				Type:    a.Type,
				Applied: false,
				Message: "action executor panicked",
			}
		}
	}()
	return e.actions.Execute(ctx, a.Type, a.Params, target)
}

// classify maps per-action results to the dispatch outcome.
func classify(results []action.Result) audit.Outcome {
	applied, failed := 0, 0
	for _, r := range results {
		if r.Applied {
			applied++
		} else {
			failed++
		}
	}
	switch {
	case failed == 0:
		return audit.OutcomeSuccess
	case applied == 0:
		return audit.OutcomeFailure
	default:
		return audit.OutcomePartialSuccess
	}
}

// ScheduleDue fires a fixed-schedule trigger: the rule is evaluated against
// each of the owner's events starting within the sweep horizon of the
// occurrence. Implements schedule.Sink.
func (e *Engine) ScheduleDue(ctx context.Context, ruleID string, occurrence time.Time) {
	r, err := e.rules.Get(ruleID)
	if err != nil {
		logger.Warn("scheduled rule vanished before firing", "rule_id", ruleID, "error", err)
		return
	}
	if !r.Enabled {
		return
	}

	events, err := e.entities.ListOwned(ctx, r.OwnerID, entity.Window{
		From: occurrence,
		To:   occurrence.Add(scheduleSweepHorizon),
	})
	if err != nil {
		logger.Error("schedule sweep failed to list events", "rule_id", ruleID, "error", err)
		return
	}

	for _, ev := range events {
		e.dispatch(ctx, r, triggerContext{
			kind:  audit.TriggerScheduled,
			event: ev,
			at:    occurrence,
		})
	}
}

// OffsetDue fires a relative-offset trigger for a registered event
// occurrence. Implements schedule.Sink.
func (e *Engine) OffsetDue(ctx context.Context, ruleID, eventID string, occurrence time.Time) {
	r, err := e.rules.Get(ruleID)
	if err != nil {
		logger.Warn("offset rule vanished before firing", "rule_id", ruleID, "error", err)
		return
	}
	if !r.Enabled {
		return
	}

	ev, err := e.entities.Get(ctx, eventID)
	if err != nil {
		// The anchored event is gone; there is nothing to evaluate against.
		logger.Info("offset trigger target no longer exists", "rule_id", ruleID, "event_id", eventID)
		return
	}

	e.dispatch(ctx, r, triggerContext{
		kind:  audit.TriggerScheduled,
		event: ev,
		at:    occurrence,
	})
}
