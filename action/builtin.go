package action

import (
	"context"
	"fmt"

	"github.com/kalendo/automation/entity"
)

// Built-in action type tags. This is the closed, versioned set the product
// exposes; the rule builder UI enumerates exactly these.
const (
	TypeSetColor       = "set_color"
	TypeSetStatus      = "set_status"
	TypeAppendNotes    = "append_notes"
	TypeMoveToCalendar = "move_to_calendar"
)

// RegisterBuiltins registers every built-in executor against the registry.
// Called once at process start.
func RegisterBuiltins(r *Registry, store entity.Store) error {
	executors := []Executor{
		&setColorExecutor{store: store},
		&setStatusExecutor{store: store},
		&appendNotesExecutor{store: store},
		&moveToCalendarExecutor{store: store},
	}
	for _, e := range executors {
		if err := r.Register(e); err != nil {
			return fmt.Errorf("failed to register built-in action: %w", err)
		}
	}
	return nil
}

// stringParam extracts a required string parameter from an action payload.
func stringParam(params map[string]any, key string) (string, error) {
	v, present := params[key]
	if !present {
		return "", fmt.Errorf("configuration error: missing parameter %q", key)
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", fmt.Errorf("configuration error: parameter %q must be a non-empty string", key)
	}
	return s, nil
}

func failure(actionType string, err error) Result {
	return Result{Type: actionType, Applied: false, Message: err.Error()}
}

func success(actionType, message string) Result {
	return Result{Type: actionType, Applied: true, Message: message}
}

// setColorExecutor sets the event's display color.
type setColorExecutor struct {
	store entity.Store
}

func (e *setColorExecutor) Type() string { return TypeSetColor }

func (e *setColorExecutor) Execute(ctx context.Context, params map[string]any, target *entity.Event) Result {
	color, err := stringParam(params, "color")
	if err != nil {
		return failure(e.Type(), err)
	}
	if err := e.store.Apply(ctx, target.ID, entity.Change{Color: &color}); err != nil {
		return failure(e.Type(), fmt.Errorf("failed to set color: %w", err))
	}
	return success(e.Type(), fmt.Sprintf("color set to %s", color))
}

// setStatusExecutor sets the event's status.
type setStatusExecutor struct {
	store entity.Store
}

func (e *setStatusExecutor) Type() string { return TypeSetStatus }

func (e *setStatusExecutor) Execute(ctx context.Context, params map[string]any, target *entity.Event) Result {
	status, err := stringParam(params, "status")
	if err != nil {
		return failure(e.Type(), err)
	}
	if err := e.store.Apply(ctx, target.ID, entity.Change{Status: &status}); err != nil {
		return failure(e.Type(), fmt.Errorf("failed to set status: %w", err))
	}
	return success(e.Type(), fmt.Sprintf("status set to %s", status))
}

// appendNotesExecutor appends a line to the event's notes. It re-reads the
// event before writing so it observes notes left by earlier actions in the
// same rule.
type appendNotesExecutor struct {
	store entity.Store
}

func (e *appendNotesExecutor) Type() string { return TypeAppendNotes }

func (e *appendNotesExecutor) Execute(ctx context.Context, params map[string]any, target *entity.Event) Result {
	text, err := stringParam(params, "text")
	if err != nil {
		return failure(e.Type(), err)
	}

	current, err := e.store.Get(ctx, target.ID)
	if err != nil {
		return failure(e.Type(), fmt.Errorf("failed to re-read event: %w", err))
	}

	notes := text
	if current.Notes != "" {
		notes = current.Notes + "\n" + text
	}
	if err := e.store.Apply(ctx, target.ID, entity.Change{Notes: &notes}); err != nil {
		return failure(e.Type(), fmt.Errorf("failed to append notes: %w", err))
	}
	return success(e.Type(), "notes appended")
}

// moveToCalendarExecutor moves the event to another calendar owned by the
// same user.
type moveToCalendarExecutor struct {
	store entity.Store
}

func (e *moveToCalendarExecutor) Type() string { return TypeMoveToCalendar }

func (e *moveToCalendarExecutor) Execute(ctx context.Context, params map[string]any, target *entity.Event) Result {
	calendarID, err := stringParam(params, "calendar_id")
	if err != nil {
		return failure(e.Type(), err)
	}

	change := entity.Change{CalendarID: &calendarID}
	if name, present := params["calendar_name"]; present {
		if s, ok := name.(string); ok {
			change.CalendarName = &s
		}
	}
	if err := e.store.Apply(ctx, target.ID, change); err != nil {
		return failure(e.Type(), fmt.Errorf("failed to move event: %w", err))
	}
	return success(e.Type(), fmt.Sprintf("moved to calendar %s", calendarID))
}
