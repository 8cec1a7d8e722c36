package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/kalendo/automation/audit"
	"github.com/kalendo/automation/entity"
	"github.com/kalendo/automation/internal/logger"
)

// limiterEntry holds one rule's retroactive-run limiter. rate.Limiter's
// Allow is the atomic check-and-consume the cooldown needs: two concurrent
// requests can never both pass.
type limiterEntry struct {
	limiter *rate.Limiter
}

// Summary aggregates a retroactive run. Executed counts dispatches where at
// least one action applied (success or partial_success); Failed counts
// dispatches where every action failed.
type Summary struct {
	Evaluated int `json:"evaluated"`
	Matched   int `json:"matched"`
	Executed  int `json:"executed"`
	Failed    int `json:"failed"`
}

// retroLimiter returns the rule's limiter, creating it on first use. One
// token refilled per cooldown period, burst of one: the first call passes,
// the next passes only after the cooldown elapses.
func (e *Engine) retroLimiter(ruleID string) *rate.Limiter {
	e.limitersMu.Lock()
	defer e.limitersMu.Unlock()

	entry, exists := e.limiters[ruleID]
	if !exists {
		entry = &limiterEntry{
			limiter: rate.NewLimiter(rate.Every(e.cooldown), 1),
		}
		e.limiters[ruleID] = entry
	}
	return entry.limiter
}

// RunNow re-evaluates one rule against every event in the owner's scope
// whose start time falls inside the window, as if each were a freshly
// matching lifecycle event, through the same pipeline. A rule retroactively
// run within the cooldown period rejects with ErrRateLimited rather than
// queuing; the rejection itself is audited.
func (e *Engine) RunNow(ctx context.Context, ruleID string, window entity.Window) (Summary, error) {
	r, err := e.rules.Get(ruleID)
	if err != nil {
		return Summary{}, fmt.Errorf("retroactive run: %w", err)
	}
	if !r.Enabled {
		return Summary{}, fmt.Errorf("retroactive run of rule %s: %w", ruleID, ErrRuleDisabled)
	}

	now := time.Now()
	if !e.retroLimiter(ruleID).Allow() {
		e.metrics.observeRetroRejected()
		rejection := audit.Entry{
			ID:     uuid.NewString(),
			RuleID: ruleID,
			Trigger: audit.TriggerSummary{
				Kind: audit.TriggerRetroactive,
				At:   now,
			},
			Outcome:   audit.OutcomeRateLimited,
			CreatedAt: now,
		}
		if err := e.auditLog.Append(rejection); err != nil {
			logger.Error("failed to audit rate-limited retroactive run", "rule_id", ruleID, "error", err)
		}
		return Summary{}, fmt.Errorf("retroactive run of rule %s within cooldown %s: %w",
			ruleID, e.cooldown, ErrRateLimited)
	}

	events, err := e.entities.ListOwned(ctx, r.OwnerID, window)
	if err != nil {
		return Summary{}, fmt.Errorf("retroactive run: failed to list events: %w", err)
	}

	logger.Info("retroactive run started", "rule_id", ruleID, "candidates", len(events))

	var summary Summary
	for _, ev := range events {
		entry := e.dispatch(ctx, r, triggerContext{
			kind:  audit.TriggerRetroactive,
			event: ev,
			at:    now,
		})

		summary.Evaluated++
		if entry.Matched {
			summary.Matched++
		}
		switch entry.Outcome {
		case audit.OutcomeSuccess, audit.OutcomePartialSuccess:
			summary.Executed++
			if entry.Outcome == audit.OutcomePartialSuccess {
				summary.Failed++
			}
		case audit.OutcomeFailure:
			summary.Failed++
		}
	}

	logger.Info("retroactive run finished",
		"rule_id", ruleID,
		"evaluated", summary.Evaluated, "matched", summary.Matched,
		"executed", summary.Executed, "failed", summary.Failed)
	return summary, nil
}
