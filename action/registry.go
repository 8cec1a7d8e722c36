// Package action provides the closed-world registry of side-effecting
// operations a rule may apply to its triggering event. New action types are
// added by registering a new Executor at process start; the dispatcher
// never changes.
package action

import (
	"context"
	"fmt"
	"sync"

	"github.com/kalendo/automation/entity"
)

// Result is the outcome of executing one action.
type Result struct {
	Type    string `json:"type"`
	Applied bool   `json:"applied"`
	Message string `json:"message,omitempty"`
}

// Executor applies one configured change to a target event. Implementations
// go through the entity store for every mutation; the snapshot they receive
// is read-only.
type Executor interface {
	// Type is the registry tag the executor handles.
	Type() string

	// Execute applies the action. A failed apply is reported through the
	// Result, not a panic; the pipeline continues with the next action.
	Execute(ctx context.Context, params map[string]any, target *entity.Event) Result
}

// Registry maps action type tags to executors.
type Registry struct {
	executors map[string]Executor
	mu        sync.RWMutex
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		executors: make(map[string]Executor),
	}
}

// Register adds an executor. Duplicate registration for a type is a
// programming error.
func (r *Registry) Register(e Executor) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.executors[e.Type()]; exists {
		return fmt.Errorf("action type %q already registered", e.Type())
	}
	r.executors[e.Type()] = e
	return nil
}

// Known reports whether an action type has a registered executor.
func (r *Registry) Known(actionType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.executors[actionType]
	return exists
}

// Types returns the registered action type tags in no particular order.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.executors))
	for t := range r.executors {
		types = append(types, t)
	}
	return types
}

// Execute runs the executor for actionType against the target. An unknown
// type is a configuration error recorded as a failed action, so the caller
// can continue with the remaining actions in the rule.
func (r *Registry) Execute(ctx context.Context, actionType string, params map[string]any, target *entity.Event) Result {
	r.mu.RLock()
	executor, exists := r.executors[actionType]
	r.mu.RUnlock()

	if !exists {
		return Result{
			Type:    actionType,
			Applied: false,
			Message: fmt.Sprintf("configuration error: unknown action type %q", actionType),
		}
	}

	return executor.Execute(ctx, params, target)
}
