// Package condition implements the boolean condition trees attached to
// automation rules and their pure, side-effect-free evaluation against an
// event snapshot.
package condition

// Operator names the comparison applied by a leaf. The catalog is closed and
// segmented by the semantic kind of the referenced field; applying an
// operator to a field of an incompatible kind is a configuration error, not
// a crash.
type Operator string

// String operators.
const (
	OpEquals             Operator = "equals"
	OpEqualsIgnoreCase   Operator = "equals_ignore_case"
	OpContains           Operator = "contains"
	OpContainsIgnoreCase Operator = "contains_ignore_case"
	OpStartsWith         Operator = "starts_with"
	OpEndsWith           Operator = "ends_with"
	OpMatchesRegex       Operator = "matches_regex"
)

// Numeric operators.
const (
	OpEq  Operator = "eq"
	OpGt  Operator = "gt"
	OpLt  Operator = "lt"
	OpGte Operator = "gte"
	OpLte Operator = "lte"
)

// Boolean operators.
const (
	OpIsTrue  Operator = "is_true"
	OpIsFalse Operator = "is_false"
)

// Set operators. The comparison value is a list; the field value is tested
// for membership.
const (
	OpIn    Operator = "in"
	OpNotIn Operator = "not_in"
)

// Logic combines the children of a group node.
type Logic string

const (
	LogicAnd Logic = "and"
	LogicOr  Logic = "or"
)

// Node is one node of a condition tree: either a leaf (Field/Operator/Value
// set, no children) or a group (Logic over Children). Not negates the node's
// result. A nil tree, or a group with no children, evaluates to true: a rule
// with no conditions is unconditional.
type Node struct {
	Field    string   `json:"field,omitempty"`
	Operator Operator `json:"operator,omitempty"`
	Value    any      `json:"value,omitempty"`

	Logic    Logic   `json:"logic,omitempty"`
	Children []*Node `json:"children,omitempty"`

	Not bool `json:"not,omitempty"`
}

// IsLeaf reports whether the node is a leaf comparison.
func (n *Node) IsLeaf() bool {
	return len(n.Children) == 0 && n.Field != ""
}

// Leaf builds a leaf node.
func Leaf(field string, op Operator, value any) *Node {
	return &Node{Field: field, Operator: op, Value: value}
}

// Group builds a group node.
func Group(logic Logic, children ...*Node) *Node {
	return &Node{Logic: logic, Children: children}
}

// LeafResult records the outcome of one evaluated leaf, in evaluation order.
// Short-circuited leaves never appear; the trace is exactly the leaves that
// were visited, which makes re-evaluation of the same tree against the same
// snapshot reproduce the trace byte for byte.
type LeafResult struct {
	Field    string   `json:"field"`
	Operator Operator `json:"operator"`
	Value    any      `json:"value,omitempty"`
	Matched  bool     `json:"matched"`
	Error    string   `json:"error,omitempty"`
}
