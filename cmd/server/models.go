package main

import (
	"time"

	"github.com/kalendo/automation/condition"
	"github.com/kalendo/automation/rule"
)

// API request and response models. The management surface maps 1:1 onto
// pipeline and store operations; no business logic lives here.

// CreateRuleRequest is the body for creating a rule.
type CreateRuleRequest struct {
	Name       string          `json:"name"`
	Trigger    rule.Trigger    `json:"trigger"`
	Conditions *condition.Node `json:"conditions,omitempty"`
	Actions    []rule.Action   `json:"actions"`
	Enabled    *bool           `json:"enabled,omitempty"`
}

// UpdateRuleRequest is the body for updating a rule.
type UpdateRuleRequest struct {
	Name       string          `json:"name"`
	Trigger    rule.Trigger    `json:"trigger"`
	Conditions *condition.Node `json:"conditions,omitempty"`
	Actions    []rule.Action   `json:"actions"`
	Enabled    *bool           `json:"enabled,omitempty"`
}

// RuleResponse is a rule in API responses.
type RuleResponse struct {
	ID              string          `json:"id"`
	OwnerID         string          `json:"owner_id"`
	Name            string          `json:"name"`
	Trigger         rule.Trigger    `json:"trigger"`
	Conditions      *condition.Node `json:"conditions,omitempty"`
	Actions         []rule.Action   `json:"actions"`
	Enabled         bool            `json:"enabled"`
	LastEvaluatedAt *time.Time      `json:"last_evaluated_at,omitempty"`
	LastExecutedAt  *time.Time      `json:"last_executed_at,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

func toRuleResponse(r *rule.Rule) RuleResponse {
	return RuleResponse{
		ID:              r.ID,
		OwnerID:         r.OwnerID,
		Name:            r.Name,
		Trigger:         r.Trigger,
		Conditions:      r.Conditions,
		Actions:         r.Actions,
		Enabled:         r.Enabled,
		LastEvaluatedAt: r.LastEvaluatedAt,
		LastExecutedAt:  r.LastExecutedAt,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	}
}

// LifecycleHookRequest is the inbound notification from the calendar CRUD
// service, delivered after its own persistence commit.
type LifecycleHookRequest struct {
	Transition string    `json:"transition"`
	Timestamp  time.Time `json:"timestamp"`
	Event      EventBody `json:"event"`
}

// EventBody mirrors the calendar event snapshot on the wire.
type EventBody struct {
	ID           string    `json:"id"`
	OwnerID      string    `json:"owner_id"`
	CalendarID   string    `json:"calendar_id"`
	CalendarName string    `json:"calendar_name"`
	Title        string    `json:"title"`
	Description  string    `json:"description,omitempty"`
	Location     string    `json:"location,omitempty"`
	Notes        string    `json:"notes,omitempty"`
	Color        string    `json:"color,omitempty"`
	Status       string    `json:"status,omitempty"`
	AllDay       bool      `json:"all_day"`
	Start        time.Time `json:"start"`
	End          time.Time `json:"end"`
}

// RunNowRequest optionally bounds a retroactive run by event start time.
type RunNowRequest struct {
	From *time.Time `json:"from,omitempty"`
	To   *time.Time `json:"to,omitempty"`
}

// ErrorResponse is the error envelope for all failures.
type ErrorResponse struct {
	Error string `json:"error"`
}
