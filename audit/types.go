// Package audit records the outcome of every rule dispatch attempt in an
// append-only, size-bounded log keyed per rule.
package audit

import (
	"errors"
	"time"

	"github.com/kalendo/automation/action"
	"github.com/kalendo/automation/condition"
)

// ErrEntryNotFound is returned when an audit entry does not exist.
var ErrEntryNotFound = errors.New("audit entry not found")

// Outcome classifies how a dispatch attempt terminated.
type Outcome string

const (
	// OutcomeSuccess: conditions matched and every action applied.
	OutcomeSuccess Outcome = "success"
	// OutcomePartialSuccess: at least one action applied and at least one failed.
	OutcomePartialSuccess Outcome = "partial_success"
	// OutcomeFailure: conditions matched but every action failed.
	OutcomeFailure Outcome = "failure"
	// OutcomeSkipped: conditions did not match; no action ran.
	OutcomeSkipped Outcome = "skipped"
	// OutcomeRateLimited: a retroactive run was rejected inside the cooldown.
	OutcomeRateLimited Outcome = "rate_limited"
)

// TriggerKind summarizes what entered the pipeline.
type TriggerKind string

const (
	TriggerLifecycle   TriggerKind = "lifecycle"
	TriggerScheduled   TriggerKind = "scheduled"
	TriggerRetroactive TriggerKind = "retroactive"
)

// TriggerSummary is the trigger-context portion of an entry: enough to tell
// what fired without holding the full snapshot.
type TriggerSummary struct {
	Kind       TriggerKind `json:"kind"`
	Transition string      `json:"transition,omitempty"`
	EntityID   string      `json:"entity_id,omitempty"`
	Title      string      `json:"title,omitempty"`
	At         time.Time   `json:"at"`
}

// Entry is one dispatch attempt's durable record. Exactly one entry is
// appended per terminal pipeline state.
type Entry struct {
	ID         string                 `json:"id"`
	RuleID     string                 `json:"rule_id"`
	Trigger    TriggerSummary         `json:"trigger"`
	Matched    bool                   `json:"matched"`
	Outcome    Outcome                `json:"outcome"`
	Conditions []condition.LeafResult `json:"conditions,omitempty"`
	Actions    []action.Result        `json:"actions,omitempty"`
	Duration   time.Duration          `json:"duration"`
	CreatedAt  time.Time              `json:"created_at"`
}

// Log is the audit sink and read API. Implementations bound storage per
// rule: once a rule's entry count exceeds the cap, the oldest entries are
// evicted. Appends for different rules never contend.
type Log interface {
	// Append records an entry. Append and eviction for one rule are atomic
	// with respect to each other.
	Append(e Entry) error

	// List returns a page of the rule's entries, newest first, plus the
	// total entry count. Page numbers start at 1.
	List(ruleID string, page, perPage int) ([]Entry, int, error)

	// Get returns one entry of a rule by entry ID.
	Get(ruleID, entryID string) (Entry, error)

	// DropRule discards all entries for a deleted rule.
	DropRule(ruleID string) error
}
