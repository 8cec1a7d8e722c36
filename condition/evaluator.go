package condition

import (
	"fmt"
	"strings"

	"github.com/kalendo/automation/entity"
)

// maxDepth bounds tree recursion so a malformed (cyclic) tree terminates
// with a configuration error instead of overflowing the stack.
const maxDepth = 64

type operatorFunc func(fieldValue, compareValue any) (bool, error)

type operatorSpec struct {
	kind  entity.Kind
	apply operatorFunc
}

// Evaluator evaluates condition trees against event snapshots. It is pure:
// no I/O, no mutation of the snapshot, and identical inputs always produce
// an identical result and trace. Safe for concurrent use.
type Evaluator struct {
	operators map[Operator]operatorSpec
}

// NewEvaluator creates an evaluator with the full operator catalog.
func NewEvaluator() *Evaluator {
	e := &Evaluator{operators: make(map[Operator]operatorSpec)}

	// String operators
	e.operators[OpEquals] = operatorSpec{entity.KindString, opEquals}
	e.operators[OpEqualsIgnoreCase] = operatorSpec{entity.KindString, opEqualsIgnoreCase}
	e.operators[OpContains] = operatorSpec{entity.KindString, opContains}
	e.operators[OpContainsIgnoreCase] = operatorSpec{entity.KindString, opContainsIgnoreCase}
	e.operators[OpStartsWith] = operatorSpec{entity.KindString, opStartsWith}
	e.operators[OpEndsWith] = operatorSpec{entity.KindString, opEndsWith}
	e.operators[OpMatchesRegex] = operatorSpec{entity.KindString, opMatchesRegex}

	// Numeric operators
	e.operators[OpEq] = operatorSpec{entity.KindNumber, numericOp(func(c int) bool { return c == 0 })}
	e.operators[OpGt] = operatorSpec{entity.KindNumber, numericOp(func(c int) bool { return c > 0 })}
	e.operators[OpLt] = operatorSpec{entity.KindNumber, numericOp(func(c int) bool { return c < 0 })}
	e.operators[OpGte] = operatorSpec{entity.KindNumber, numericOp(func(c int) bool { return c >= 0 })}
	e.operators[OpLte] = operatorSpec{entity.KindNumber, numericOp(func(c int) bool { return c <= 0 })}

	// Boolean operators
	e.operators[OpIsTrue] = operatorSpec{entity.KindBool, opIsTrue}
	e.operators[OpIsFalse] = operatorSpec{entity.KindBool, opIsFalse}

	// Set operators
	e.operators[OpIn] = operatorSpec{entity.KindString, opIn}
	e.operators[OpNotIn] = operatorSpec{entity.KindString, opNotIn}

	return e
}

// Evaluate walks the tree against the snapshot and returns the overall
// match plus the trace of every leaf actually visited. A malformed leaf
// (unknown field or operator, kind mismatch, bad comparison value) evaluates
// to false and is recorded with its error; it never aborts siblings.
// Negation is not applied to malformed leaves, so a configuration error can
// never cause actions to run.
func (e *Evaluator) Evaluate(root *Node, snapshot map[string]any) (bool, []LeafResult) {
	trace := make([]LeafResult, 0, 4)
	matched := e.eval(root, snapshot, &trace, 0)
	return matched, trace
}

func (e *Evaluator) eval(n *Node, snapshot map[string]any, trace *[]LeafResult, depth int) bool {
	// Empty tree passes: a rule with no conditions is unconditional.
	if n == nil {
		return true
	}

	if depth > maxDepth {
		*trace = append(*trace, LeafResult{
			Field:   n.Field,
			Matched: false,
			Error:   fmt.Sprintf("configuration error: condition tree exceeds maximum depth %d", maxDepth),
		})
		return false
	}

	if n.IsLeaf() {
		return e.evalLeaf(n, snapshot, trace)
	}

	if len(n.Children) == 0 {
		// Group with no children behaves like an empty tree: true, inverted
		// if the group is negated.
		return !n.Not
	}

	result := e.evalGroup(n, snapshot, trace, depth)
	if n.Not {
		return !result
	}
	return result
}

func (e *Evaluator) evalGroup(n *Node, snapshot map[string]any, trace *[]LeafResult, depth int) bool {
	switch n.Logic {
	case LogicOr:
		for _, child := range n.Children {
			if e.eval(child, snapshot, trace, depth+1) {
				return true
			}
		}
		return false
	case LogicAnd, "":
		// Unspecified logic defaults to AND.
		for _, child := range n.Children {
			if !e.eval(child, snapshot, trace, depth+1) {
				return false
			}
		}
		return true
	default:
		*trace = append(*trace, LeafResult{
			Matched: false,
			Error:   fmt.Sprintf("configuration error: unknown logic operator %q", n.Logic),
		})
		return false
	}
}

func (e *Evaluator) evalLeaf(n *Node, snapshot map[string]any, trace *[]LeafResult) bool {
	fail := func(msg string) bool {
		*trace = append(*trace, LeafResult{
			Field:    n.Field,
			Operator: n.Operator,
			Value:    n.Value,
			Matched:  false,
			Error:    msg,
		})
		return false
	}

	kind, known := entity.FieldKind(n.Field)
	if !known {
		return fail(fmt.Sprintf("configuration error: unknown field %q", n.Field))
	}

	spec, exists := e.operators[n.Operator]
	if !exists {
		return fail(fmt.Sprintf("configuration error: unknown operator %q", n.Operator))
	}
	if spec.kind != kind {
		return fail(fmt.Sprintf("configuration error: operator %q applies to %s fields, %q is %s",
			n.Operator, spec.kind, n.Field, kind))
	}

	fieldValue, present := snapshot[n.Field]
	if !present {
		return fail(fmt.Sprintf("configuration error: field %q missing from snapshot", n.Field))
	}

	// The snapshot value must actually carry the field's declared kind; a
	// placeholder of the wrong type degrades to "not matched", never a crash.
	if err := checkValueKind(fieldValue, kind); err != nil {
		return fail(fmt.Sprintf("configuration error: %v", err))
	}

	result, err := spec.apply(fieldValue, n.Value)
	if err != nil {
		return fail(fmt.Sprintf("configuration error: %v", err))
	}

	if n.Not {
		result = !result
	}
	*trace = append(*trace, LeafResult{
		Field:    n.Field,
		Operator: n.Operator,
		Value:    n.Value,
		Matched:  result,
	})
	return result
}

func checkValueKind(v any, kind entity.Kind) error {
	switch kind {
	case entity.KindString:
		if _, ok := v.(string); !ok {
			return fmt.Errorf("field value %v (%T) is not a string", v, v)
		}
	case entity.KindNumber:
		if _, ok := toFloat64(v); !ok {
			return fmt.Errorf("field value %v (%T) is not numeric", v, v)
		}
	case entity.KindBool:
		if _, ok := v.(bool); !ok {
			return fmt.Errorf("field value %v (%T) is not a boolean", v, v)
		}
	}
	return nil
}

// Operator implementations

func opEquals(fieldValue, compareValue any) (bool, error) {
	f, c, err := stringPair(fieldValue, compareValue)
	if err != nil {
		return false, err
	}
	return f == c, nil
}

func opEqualsIgnoreCase(fieldValue, compareValue any) (bool, error) {
	f, c, err := stringPair(fieldValue, compareValue)
	if err != nil {
		return false, err
	}
	return strings.EqualFold(f, c), nil
}

func opContains(fieldValue, compareValue any) (bool, error) {
	f, c, err := stringPair(fieldValue, compareValue)
	if err != nil {
		return false, err
	}
	return strings.Contains(f, c), nil
}

func opContainsIgnoreCase(fieldValue, compareValue any) (bool, error) {
	f, c, err := stringPair(fieldValue, compareValue)
	if err != nil {
		return false, err
	}
	return strings.Contains(strings.ToLower(f), strings.ToLower(c)), nil
}

func opStartsWith(fieldValue, compareValue any) (bool, error) {
	f, c, err := stringPair(fieldValue, compareValue)
	if err != nil {
		return false, err
	}
	return strings.HasPrefix(f, c), nil
}

func opEndsWith(fieldValue, compareValue any) (bool, error) {
	f, c, err := stringPair(fieldValue, compareValue)
	if err != nil {
		return false, err
	}
	return strings.HasSuffix(f, c), nil
}

func opMatchesRegex(fieldValue, compareValue any) (bool, error) {
	f, ok := fieldValue.(string)
	if !ok {
		return false, fmt.Errorf("field value %v is not a string", fieldValue)
	}
	pattern, ok := compareValue.(string)
	if !ok {
		return false, fmt.Errorf("regex pattern must be a string, got %T", compareValue)
	}
	re, err := compileRegex(pattern)
	if err != nil {
		return false, err
	}
	return re.MatchString(f), nil
}

func numericOp(accept func(cmp int) bool) operatorFunc {
	return func(fieldValue, compareValue any) (bool, error) {
		f, ok := toFloat64(fieldValue)
		if !ok {
			return false, fmt.Errorf("field value %v (%T) is not numeric", fieldValue, fieldValue)
		}
		c, ok := toFloat64(compareValue)
		if !ok {
			return false, fmt.Errorf("comparison value %v (%T) is not numeric", compareValue, compareValue)
		}
		switch {
		case f < c:
			return accept(-1), nil
		case f > c:
			return accept(1), nil
		default:
			return accept(0), nil
		}
	}
}

func opIsTrue(fieldValue, _ any) (bool, error) {
	b, ok := fieldValue.(bool)
	if !ok {
		return false, fmt.Errorf("field value %v (%T) is not a boolean", fieldValue, fieldValue)
	}
	return b, nil
}

func opIsFalse(fieldValue, _ any) (bool, error) {
	b, ok := fieldValue.(bool)
	if !ok {
		return false, fmt.Errorf("field value %v (%T) is not a boolean", fieldValue, fieldValue)
	}
	return !b, nil
}

func opIn(fieldValue, compareValue any) (bool, error) {
	f, ok := fieldValue.(string)
	if !ok {
		return false, fmt.Errorf("field value %v is not a string", fieldValue)
	}
	set, err := toStringSet(compareValue)
	if err != nil {
		return false, err
	}
	for _, member := range set {
		if member == f {
			return true, nil
		}
	}
	return false, nil
}

func opNotIn(fieldValue, compareValue any) (bool, error) {
	in, err := opIn(fieldValue, compareValue)
	if err != nil {
		return false, err
	}
	return !in, nil
}

// Coercion helpers

func stringPair(fieldValue, compareValue any) (string, string, error) {
	f, ok := fieldValue.(string)
	if !ok {
		return "", "", fmt.Errorf("field value %v (%T) is not a string", fieldValue, fieldValue)
	}
	c, ok := compareValue.(string)
	if !ok {
		return "", "", fmt.Errorf("comparison value %v (%T) is not a string", compareValue, compareValue)
	}
	return f, c, nil
}

func toFloat64(v any) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case float32:
		return float64(val), true
	case int:
		return float64(val), true
	case int32:
		return float64(val), true
	case int64:
		return float64(val), true
	case uint:
		return float64(val), true
	case uint32:
		return float64(val), true
	case uint64:
		return float64(val), true
	default:
		return 0, false
	}
}

func toStringSet(v any) ([]string, error) {
	switch set := v.(type) {
	case []string:
		return set, nil
	case []any:
		members := make([]string, 0, len(set))
		for _, m := range set {
			s, ok := m.(string)
			if !ok {
				return nil, fmt.Errorf("set member %v (%T) is not a string", m, m)
			}
			members = append(members, s)
		}
		return members, nil
	default:
		return nil, fmt.Errorf("comparison value for set operator must be a list, got %T", v)
	}
}
