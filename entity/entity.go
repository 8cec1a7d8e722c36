// Package entity defines the calendar-event snapshot the automation engine
// evaluates against, plus the store collaborator that owns persistence of
// those events. The engine only ever holds transient, immutable snapshots;
// every mutation goes through the Store.
package entity

import "time"

// Transition identifies the lifecycle change that produced a notification.
type Transition string

const (
	TransitionCreated Transition = "created"
	TransitionUpdated Transition = "updated"
	TransitionDeleted Transition = "deleted"
)

// Event is an immutable snapshot of a calendar event at notification time.
type Event struct {
	ID           string
	OwnerID      string
	CalendarID   string
	CalendarName string
	Title        string
	Description  string
	Location     string
	Notes        string
	Color        string
	Status       string
	AllDay       bool
	Start        time.Time
	End          time.Time
}

// DurationMinutes returns the computed event duration in whole minutes.
func (e *Event) DurationMinutes() float64 {
	if e.End.Before(e.Start) {
		return 0
	}
	return e.End.Sub(e.Start).Minutes()
}

// Snapshot flattens the event into the field vocabulary used by condition
// evaluation. The returned map is a fresh copy; callers may not reach back
// into the event through it.
func (e *Event) Snapshot() map[string]any {
	return map[string]any{
		FieldTitle:        e.Title,
		FieldDescription:  e.Description,
		FieldLocation:     e.Location,
		FieldNotes:        e.Notes,
		FieldColor:        e.Color,
		FieldStatus:       e.Status,
		FieldCalendarID:   e.CalendarID,
		FieldCalendarName: e.CalendarName,
		FieldAllDay:       e.AllDay,
		FieldDuration:     e.DurationMinutes(),
	}
}

// Clone returns a deep copy of the event.
func (e *Event) Clone() *Event {
	c := *e
	return &c
}
