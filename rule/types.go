// Package rule defines automation rules and their persistence contracts.
// A rule is exclusively owned by its creating user: selection, execution and
// audit never cross the owner boundary.
package rule

import (
	"time"

	"github.com/kalendo/automation/condition"
	"github.com/kalendo/automation/entity"
)

// TriggerType names what causes a rule to be considered for evaluation.
type TriggerType string

const (
	// Lifecycle triggers fire on calendar-item transitions.
	TriggerEventCreated TriggerType = "event_created"
	TriggerEventUpdated TriggerType = "event_updated"
	TriggerEventDeleted TriggerType = "event_deleted"

	// TriggerEventStartsIn is a relative-offset trigger: it fires N minutes
	// before the anchored event's start time.
	TriggerEventStartsIn TriggerType = "event_starts_in"

	// TriggerSchedule is a fixed cron-style schedule.
	TriggerSchedule TriggerType = "schedule"
)

// Trigger is the trigger specification of a rule: a type plus the
// type-specific parameters. It is pure data; the scheduler interprets it.
type Trigger struct {
	Type TriggerType `json:"type"`

	// OffsetMinutes applies to event_starts_in: minutes before event start.
	OffsetMinutes int `json:"offset_minutes,omitempty"`

	// Schedule applies to schedule triggers: a standard 5-field cron spec.
	Schedule string `json:"schedule,omitempty"`
}

// Action is a type tag from the registry's closed set plus its parameter
// payload. Actions execute in declared order.
type Action struct {
	Type   string         `json:"type"`
	Params map[string]any `json:"params,omitempty"`
}

// Rule is a user-defined automation rule.
type Rule struct {
	ID         string          `json:"id"`
	OwnerID    string          `json:"owner_id"`
	Name       string          `json:"name"`
	Trigger    Trigger         `json:"trigger"`
	Conditions *condition.Node `json:"conditions,omitempty"`
	Actions    []Action        `json:"actions"`
	Enabled    bool            `json:"enabled"`

	LastEvaluatedAt *time.Time `json:"last_evaluated_at,omitempty"`
	LastExecutedAt  *time.Time `json:"last_executed_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// MatchesTransition reports whether the rule's trigger fires directly on the
// given lifecycle transition. Relative-offset and schedule triggers never
// match here; they go through the scheduler.
func (r *Rule) MatchesTransition(t entity.Transition) bool {
	switch r.Trigger.Type {
	case TriggerEventCreated:
		return t == entity.TransitionCreated
	case TriggerEventUpdated:
		return t == entity.TransitionUpdated
	case TriggerEventDeleted:
		return t == entity.TransitionDeleted
	default:
		return false
	}
}

// Clone returns a deep-enough copy for handing to concurrent dispatches:
// the condition tree and action params are shared but treated as immutable
// once stored.
func (r *Rule) Clone() *Rule {
	c := *r
	if r.LastEvaluatedAt != nil {
		t := *r.LastEvaluatedAt
		c.LastEvaluatedAt = &t
	}
	if r.LastExecutedAt != nil {
		t := *r.LastExecutedAt
		c.LastExecutedAt = &t
	}
	c.Actions = make([]Action, len(r.Actions))
	copy(c.Actions, r.Actions)
	return &c
}
