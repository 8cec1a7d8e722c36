package condition

import (
	"fmt"

	"github.com/kalendo/automation/entity"
)

// maxNodes caps the total size of a condition tree accepted at write time.
const maxNodes = 100

var validatorCatalog = NewEvaluator().operators

// Validate checks a condition tree at rule-write time: every leaf must
// reference a vocabulary field with an operator of the matching kind, every
// group must use a known logic combinator, and the tree must be finite.
// Evaluation still degrades gracefully on mismatch, but rejecting bad trees
// here keeps misconfigured rules out of the store in the first place.
// A nil tree is valid (an unconditional rule).
func Validate(root *Node) error {
	if root == nil {
		return nil
	}
	count := 0
	return validateNode(root, 0, &count)
}

func validateNode(n *Node, depth int, count *int) error {
	if depth > maxDepth {
		return fmt.Errorf("condition tree exceeds maximum depth %d", maxDepth)
	}
	*count++
	if *count > maxNodes {
		return fmt.Errorf("condition tree exceeds maximum of %d nodes", maxNodes)
	}

	if n.IsLeaf() {
		return validateLeaf(n)
	}

	if n.Field != "" || n.Operator != "" {
		return fmt.Errorf("node mixes leaf fields with children")
	}

	switch n.Logic {
	case LogicAnd, LogicOr, "":
	default:
		return fmt.Errorf("unknown logic operator %q", n.Logic)
	}

	for _, child := range n.Children {
		if child == nil {
			return fmt.Errorf("condition tree contains a nil node")
		}
		if err := validateNode(child, depth+1, count); err != nil {
			return err
		}
	}
	return nil
}

func validateLeaf(n *Node) error {
	kind, known := entity.FieldKind(n.Field)
	if !known {
		return fmt.Errorf("unknown field %q", n.Field)
	}

	spec, exists := validatorCatalog[n.Operator]
	if !exists {
		return fmt.Errorf("unknown operator %q", n.Operator)
	}
	if spec.kind != kind {
		return fmt.Errorf("operator %q applies to %s fields, %q is %s", n.Operator, spec.kind, n.Field, kind)
	}

	// Regex patterns and set members can be checked statically.
	switch n.Operator {
	case OpMatchesRegex:
		pattern, ok := n.Value.(string)
		if !ok {
			return fmt.Errorf("regex pattern must be a string")
		}
		if _, err := compileRegex(pattern); err != nil {
			return err
		}
	case OpIn, OpNotIn:
		if _, err := toStringSet(n.Value); err != nil {
			return err
		}
	}
	return nil
}
