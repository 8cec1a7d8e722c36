package condition

import (
	"reflect"
	"strings"
	"testing"

	"github.com/kalendo/automation/entity"
)

func snapshot() map[string]any {
	return map[string]any{
		entity.FieldTitle:           "Team Standup",
		entity.FieldDescription:     "Daily sync",
		entity.FieldLocation:        "Room 4",
		entity.FieldNotes:           "",
		entity.FieldColor:           "blue",
		entity.FieldStatus:          "confirmed",
		entity.FieldCalendarID:      "cal-1",
		entity.FieldCalendarName:    "Work",
		entity.FieldAllDay:          false,
		entity.FieldDuration: float64(30),
	}
}

// TestEvaluate_NilTree verifies a rule with no conditions matches everything.
func TestEvaluate_NilTree(t *testing.T) {
	matched, trace := NewEvaluator().Evaluate(nil, snapshot())
	if !matched {
		t.Error("Expected nil tree to match, got false")
	}
	if len(trace) != 0 {
		t.Errorf("Expected empty trace for nil tree, got %d entries", len(trace))
	}
}

// TestEvaluate_EmptyGroup verifies a group with no children evaluates to true.
func TestEvaluate_EmptyGroup(t *testing.T) {
	matched, _ := NewEvaluator().Evaluate(&Node{Logic: LogicAnd}, snapshot())
	if !matched {
		t.Error("Expected empty group to match, got false")
	}

	matched, _ = NewEvaluator().Evaluate(&Node{Logic: LogicAnd, Not: true}, snapshot())
	if matched {
		t.Error("Expected negated empty group not to match, got true")
	}
}

func TestEvaluate_StringOperators(t *testing.T) {
	tests := []struct {
		name string
		node *Node
		want bool
	}{
		{"equals match", Leaf(entity.FieldColor, OpEquals, "blue"), true},
		{"equals mismatch", Leaf(entity.FieldColor, OpEquals, "red"), false},
		{"equals is case sensitive", Leaf(entity.FieldColor, OpEquals, "Blue"), false},
		{"equals_ignore_case", Leaf(entity.FieldColor, OpEqualsIgnoreCase, "BLUE"), true},
		{"contains", Leaf(entity.FieldTitle, OpContains, "Standup"), true},
		{"contains is case sensitive", Leaf(entity.FieldTitle, OpContains, "standup"), false},
		{"contains_ignore_case", Leaf(entity.FieldTitle, OpContainsIgnoreCase, "standup"), true},
		{"starts_with", Leaf(entity.FieldTitle, OpStartsWith, "Team"), true},
		{"ends_with", Leaf(entity.FieldTitle, OpEndsWith, "Standup"), true},
		{"matches_regex", Leaf(entity.FieldTitle, OpMatchesRegex, `^Team\s+\w+$`), true},
		{"matches_regex mismatch", Leaf(entity.FieldTitle, OpMatchesRegex, `^\d+$`), false},
		{"contains on empty field", Leaf(entity.FieldNotes, OpContains, "x"), false},
	}
	e := NewEvaluator()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			matched, trace := e.Evaluate(tt.node, snapshot())
			if matched != tt.want {
				t.Errorf("Expected %v, got %v", tt.want, matched)
			}
			if len(trace) != 1 {
				t.Fatalf("Expected 1 trace entry, got %d", len(trace))
			}
			if trace[0].Error != "" {
				t.Errorf("Expected no leaf error, got %q", trace[0].Error)
			}
		})
	}
}

func TestEvaluate_NumericOperators(t *testing.T) {
	tests := []struct {
		op    Operator
		value any
		want  bool
	}{
		{OpEq, 30, true},
		{OpEq, 31, false},
		{OpGt, 29, true},
		{OpGt, 30, false},
		{OpLt, 31, true},
		{OpGte, 30, true},
		{OpLte, 30, true},
		{OpLte, 29, false},
	}
	e := NewEvaluator()
	for _, tt := range tests {
		node := Leaf(entity.FieldDuration, tt.op, tt.value)
		matched, _ := e.Evaluate(node, snapshot())
		if matched != tt.want {
			t.Errorf("%s %v: expected %v, got %v", tt.op, tt.value, tt.want, matched)
		}
	}
}

func TestEvaluate_BoolAndSetOperators(t *testing.T) {
	e := NewEvaluator()

	if matched, _ := e.Evaluate(Leaf(entity.FieldAllDay, OpIsFalse, nil), snapshot()); !matched {
		t.Error("Expected is_false to match all_day=false")
	}
	if matched, _ := e.Evaluate(Leaf(entity.FieldAllDay, OpIsTrue, nil), snapshot()); matched {
		t.Error("Expected is_true not to match all_day=false")
	}

	in := Leaf(entity.FieldStatus, OpIn, []any{"tentative", "confirmed"})
	if matched, _ := e.Evaluate(in, snapshot()); !matched {
		t.Error("Expected in to match status=confirmed")
	}
	notIn := Leaf(entity.FieldStatus, OpNotIn, []string{"cancelled"})
	if matched, _ := e.Evaluate(notIn, snapshot()); !matched {
		t.Error("Expected not_in to match status=confirmed against [cancelled]")
	}
}

// TestEvaluate_Negation verifies Not inverts leaves and groups.
func TestEvaluate_Negation(t *testing.T) {
	e := NewEvaluator()

	leaf := Leaf(entity.FieldColor, OpEquals, "red")
	leaf.Not = true
	if matched, _ := e.Evaluate(leaf, snapshot()); !matched {
		t.Error("Expected negated non-matching leaf to match")
	}

	group := Group(LogicAnd,
		Leaf(entity.FieldColor, OpEquals, "blue"),
		Leaf(entity.FieldStatus, OpEquals, "confirmed"),
	)
	group.Not = true
	if matched, _ := e.Evaluate(group, snapshot()); matched {
		t.Error("Expected negated matching group not to match")
	}
}

// TestEvaluate_ShortCircuit verifies AND stops at the first false child and
// OR at the first true child, and that the trace records only visited leaves.
func TestEvaluate_ShortCircuit(t *testing.T) {
	e := NewEvaluator()

	and := Group(LogicAnd,
		Leaf(entity.FieldColor, OpEquals, "red"),
		Leaf(entity.FieldStatus, OpEquals, "confirmed"),
	)
	matched, trace := e.Evaluate(and, snapshot())
	if matched {
		t.Error("Expected AND group not to match")
	}
	if len(trace) != 1 {
		t.Errorf("Expected AND to short-circuit after 1 leaf, trace has %d", len(trace))
	}

	or := Group(LogicOr,
		Leaf(entity.FieldColor, OpEquals, "blue"),
		Leaf(entity.FieldStatus, OpEquals, "cancelled"),
	)
	matched, trace = e.Evaluate(or, snapshot())
	if !matched {
		t.Error("Expected OR group to match")
	}
	if len(trace) != 1 {
		t.Errorf("Expected OR to short-circuit after 1 leaf, trace has %d", len(trace))
	}
}

// TestEvaluate_UnspecifiedLogicDefaultsToAnd verifies a group without an
// explicit logic operator combines children with AND.
func TestEvaluate_UnspecifiedLogicDefaultsToAnd(t *testing.T) {
	group := &Node{Children: []*Node{
		Leaf(entity.FieldColor, OpEquals, "blue"),
		Leaf(entity.FieldStatus, OpEquals, "cancelled"),
	}}
	matched, _ := NewEvaluator().Evaluate(group, snapshot())
	if matched {
		t.Error("Expected implicit AND group not to match when one child fails")
	}
}

// TestEvaluate_ConfigErrors verifies malformed leaves evaluate to false with
// a recorded error and never abort sibling evaluation.
func TestEvaluate_ConfigErrors(t *testing.T) {
	tests := []struct {
		name    string
		node    *Node
		wantErr string
	}{
		{"unknown field", Leaf("attendee_count", OpGt, 3), "unknown field"},
		{"unknown operator", Leaf(entity.FieldTitle, Operator("fuzzy_match"), "x"), "unknown operator"},
		{"kind mismatch", Leaf(entity.FieldTitle, OpGt, 3), "applies to number fields"},
		{"bad comparison value", Leaf(entity.FieldTitle, OpEquals, 42), "not a string"},
		{"bad set value", Leaf(entity.FieldStatus, OpIn, "confirmed"), "must be a list"},
		{"invalid regex", Leaf(entity.FieldTitle, OpMatchesRegex, "("), "error parsing regexp"},
	}
	e := NewEvaluator()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			matched, trace := e.Evaluate(tt.node, snapshot())
			if matched {
				t.Error("Expected malformed leaf not to match")
			}
			if len(trace) != 1 {
				t.Fatalf("Expected 1 trace entry, got %d", len(trace))
			}
			if !strings.Contains(trace[0].Error, tt.wantErr) {
				t.Errorf("Expected error containing %q, got %q", tt.wantErr, trace[0].Error)
			}
		})
	}
}

// TestEvaluate_ConfigErrorIgnoresNegation verifies negation is not applied to
// a malformed leaf, so a broken condition can never cause actions to run.
func TestEvaluate_ConfigErrorIgnoresNegation(t *testing.T) {
	leaf := Leaf("attendee_count", OpGt, 3)
	leaf.Not = true
	matched, trace := NewEvaluator().Evaluate(leaf, snapshot())
	if matched {
		t.Error("Expected negated malformed leaf to stay false")
	}
	if trace[0].Error == "" {
		t.Error("Expected leaf error to be recorded")
	}
}

// TestEvaluate_NonNumericSnapshotValue verifies a snapshot value of the wrong
// type degrades to a failed leaf rather than a panic.
func TestEvaluate_NonNumericSnapshotValue(t *testing.T) {
	snap := snapshot()
	snap[entity.FieldDuration] = "not-a-number"

	matched, trace := NewEvaluator().Evaluate(Leaf(entity.FieldDuration, OpGt, 10), snap)
	if matched {
		t.Error("Expected leaf on non-numeric value not to match")
	}
	if !strings.Contains(trace[0].Error, "not numeric") {
		t.Errorf("Expected non-numeric error, got %q", trace[0].Error)
	}
}

// TestEvaluate_ConfigErrorDoesNotAbortSiblings verifies an OR group still
// matches when a malformed sibling precedes the matching one.
func TestEvaluate_ConfigErrorDoesNotAbortSiblings(t *testing.T) {
	group := Group(LogicOr,
		Leaf("bogus_field", OpEquals, "x"),
		Leaf(entity.FieldColor, OpEquals, "blue"),
	)
	matched, trace := NewEvaluator().Evaluate(group, snapshot())
	if !matched {
		t.Error("Expected OR group to match despite malformed first leaf")
	}
	if len(trace) != 2 {
		t.Fatalf("Expected 2 trace entries, got %d", len(trace))
	}
	if trace[0].Error == "" {
		t.Error("Expected first trace entry to carry the configuration error")
	}
	if !trace[1].Matched {
		t.Error("Expected second trace entry to be matched")
	}
}

// TestEvaluate_Deterministic verifies the same tree against the same snapshot
// reproduces the exact trace.
func TestEvaluate_Deterministic(t *testing.T) {
	tree := Group(LogicAnd,
		Leaf(entity.FieldTitle, OpContainsIgnoreCase, "standup"),
		Group(LogicOr,
			Leaf(entity.FieldColor, OpEquals, "red"),
			Leaf(entity.FieldDuration, OpLte, 30),
		),
	)
	e := NewEvaluator()
	snap := snapshot()

	m1, t1 := e.Evaluate(tree, snap)
	m2, t2 := e.Evaluate(tree, snap)
	if m1 != m2 {
		t.Errorf("Expected identical results, got %v and %v", m1, m2)
	}
	if !reflect.DeepEqual(t1, t2) {
		t.Errorf("Expected identical traces, got %v and %v", t1, t2)
	}
}

// TestEvaluate_NestedGroups exercises a two-level tree end to end.
func TestEvaluate_NestedGroups(t *testing.T) {
	tree := Group(LogicAnd,
		Leaf(entity.FieldCalendarName, OpEquals, "Work"),
		Group(LogicOr,
			Leaf(entity.FieldTitle, OpContains, "Standup"),
			Leaf(entity.FieldTitle, OpContains, "Retro"),
		),
	)
	matched, _ := NewEvaluator().Evaluate(tree, snapshot())
	if !matched {
		t.Error("Expected nested tree to match")
	}
}
