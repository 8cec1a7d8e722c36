package entity

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when the referenced event no longer exists.
var ErrNotFound = errors.New("event not found")

// Change is the closed set of mutations an action may apply to an event.
// Nil fields are left untouched.
type Change struct {
	Color        *string
	Status       *string
	Notes        *string
	CalendarID   *string
	CalendarName *string
}

// Window bounds a retroactive scan by event start time. Zero bounds are open.
type Window struct {
	From time.Time
	To   time.Time
}

// Contains reports whether t falls inside the window.
func (w Window) Contains(t time.Time) bool {
	if !w.From.IsZero() && t.Before(w.From) {
		return false
	}
	if !w.To.IsZero() && t.After(w.To) {
		return false
	}
	return true
}

// Store is the event CRUD collaborator as seen from the automation engine:
// read a current snapshot, apply a closed-set mutation, and enumerate an
// owner's events for retroactive runs. Persistence belongs to the
// implementation, not the engine.
type Store interface {
	// Get returns a fresh snapshot of the event, or ErrNotFound.
	Get(ctx context.Context, id string) (*Event, error)

	// Apply merges the non-nil fields of change into the stored event.
	Apply(ctx context.Context, id string, change Change) error

	// ListOwned returns snapshots of the owner's events whose start time
	// falls inside the window.
	ListOwned(ctx context.Context, ownerID string, window Window) ([]*Event, error)
}
