package rule

import (
	"fmt"

	"github.com/robfig/cron/v3"

	"github.com/kalendo/automation/condition"
)

// maxActions caps the action list length accepted at write time.
const maxActions = 20

// Validate checks a rule definition before it reaches the store. knownAction
// reports whether an action type tag has a registered executor; the action
// registry supplies it so this package does not depend on registration
// order. Evaluation-time checks still degrade gracefully, but a rule that
// fails here never gets persisted.
func Validate(r *Rule, knownAction func(actionType string) bool) error {
	if r.Name == "" {
		return fmt.Errorf("rule name cannot be empty")
	}
	if r.OwnerID == "" {
		return fmt.Errorf("rule owner cannot be empty")
	}

	if err := validateTrigger(r.Trigger); err != nil {
		return fmt.Errorf("invalid trigger: %w", err)
	}

	if err := condition.Validate(r.Conditions); err != nil {
		return fmt.Errorf("invalid conditions: %w", err)
	}

	if len(r.Actions) == 0 {
		return fmt.Errorf("rule must declare at least one action")
	}
	if len(r.Actions) > maxActions {
		return fmt.Errorf("rule declares %d actions, maximum allowed is %d", len(r.Actions), maxActions)
	}
	for i, a := range r.Actions {
		if a.Type == "" {
			return fmt.Errorf("action %d has no type", i)
		}
		if knownAction != nil && !knownAction(a.Type) {
			return fmt.Errorf("action %d has unknown type %q", i, a.Type)
		}
	}

	return nil
}

func validateTrigger(t Trigger) error {
	switch t.Type {
	case TriggerEventCreated, TriggerEventUpdated, TriggerEventDeleted:
		if t.OffsetMinutes != 0 || t.Schedule != "" {
			return fmt.Errorf("lifecycle trigger %q takes no parameters", t.Type)
		}
		return nil

	case TriggerEventStartsIn:
		if t.OffsetMinutes <= 0 {
			return fmt.Errorf("trigger %q requires a positive offset, got %d", t.Type, t.OffsetMinutes)
		}
		return nil

	case TriggerSchedule:
		if t.Schedule == "" {
			return fmt.Errorf("trigger %q requires a schedule expression", t.Type)
		}
		if _, err := cron.ParseStandard(t.Schedule); err != nil {
			return fmt.Errorf("invalid schedule %q: %w", t.Schedule, err)
		}
		return nil

	default:
		return fmt.Errorf("unknown trigger type %q", t.Type)
	}
}
