package condition

import (
	"strings"
	"testing"

	"github.com/kalendo/automation/entity"
)

func TestValidate_NilTree(t *testing.T) {
	if err := Validate(nil); err != nil {
		t.Errorf("Expected nil tree to be valid, got: %v", err)
	}
}

func TestValidate_ValidTree(t *testing.T) {
	tree := Group(LogicAnd,
		Leaf(entity.FieldTitle, OpContainsIgnoreCase, "standup"),
		Group(LogicOr,
			Leaf(entity.FieldDuration, OpLte, 30),
			Leaf(entity.FieldAllDay, OpIsTrue, nil),
		),
	)
	if err := Validate(tree); err != nil {
		t.Errorf("Expected tree to be valid, got: %v", err)
	}
}

func TestValidate_RejectsBadLeaves(t *testing.T) {
	tests := []struct {
		name    string
		node    *Node
		wantErr string
	}{
		{"unknown field", Leaf("attendees", OpEquals, "x"), "unknown field"},
		{"unknown operator", Leaf(entity.FieldTitle, Operator("like"), "x"), "unknown operator"},
		{"kind mismatch", Leaf(entity.FieldAllDay, OpEquals, "true"), "applies to string fields"},
		{"bad regex", Leaf(entity.FieldTitle, OpMatchesRegex, "["), "error parsing regexp"},
		{"non-string regex", Leaf(entity.FieldTitle, OpMatchesRegex, 7), "must be a string"},
		{"bad set", Leaf(entity.FieldStatus, OpIn, 7), "must be a list"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.node)
			if err == nil {
				t.Fatal("Expected validation error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Expected error containing %q, got: %v", tt.wantErr, err)
			}
		})
	}
}

func TestValidate_RejectsUnknownLogic(t *testing.T) {
	tree := &Node{Logic: Logic("xor"), Children: []*Node{
		Leaf(entity.FieldTitle, OpEquals, "x"),
	}}
	err := Validate(tree)
	if err == nil || !strings.Contains(err.Error(), "unknown logic") {
		t.Errorf("Expected unknown logic error, got: %v", err)
	}
}

func TestValidate_RejectsMixedNode(t *testing.T) {
	tree := &Node{
		Field:    entity.FieldTitle,
		Operator: OpEquals,
		Children: []*Node{Leaf(entity.FieldColor, OpEquals, "blue")},
	}
	err := Validate(tree)
	if err == nil || !strings.Contains(err.Error(), "mixes leaf fields") {
		t.Errorf("Expected mixed node error, got: %v", err)
	}
}

func TestValidate_RejectsOversizedTree(t *testing.T) {
	children := make([]*Node, 0, maxNodes+1)
	for i := 0; i <= maxNodes; i++ {
		children = append(children, Leaf(entity.FieldTitle, OpEquals, "x"))
	}
	err := Validate(Group(LogicOr, children...))
	if err == nil || !strings.Contains(err.Error(), "maximum of") {
		t.Errorf("Expected node count error, got: %v", err)
	}
}

func TestValidate_RejectsOverlongRegex(t *testing.T) {
	err := Validate(Leaf(entity.FieldTitle, OpMatchesRegex, strings.Repeat("a", 501)))
	if err == nil {
		t.Error("Expected error for overlong regex pattern, got nil")
	}
}
