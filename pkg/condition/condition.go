// Package condition evaluates boolean expression trees against flat
// entity attribute snapshots. It is shared by trigger filters and the
// condition action kind.
package condition

// Operator compares a snapshot field against a clause value.
type Operator string

const (
	OperatorEquals      Operator = "equals"
	OperatorNotEquals   Operator = "not_equals"
	OperatorContains    Operator = "contains"
	OperatorGreaterThan Operator = "greater_than"
	OperatorLessThan    Operator = "less_than"
)

// IsValid reports whether the operator is one of the supported comparisons.
func (o Operator) IsValid() bool {
	switch o {
	case OperatorEquals, OperatorNotEquals, OperatorContains,
		OperatorGreaterThan, OperatorLessThan:
		return true
	default:
		return false
	}
}

// Combinator joins the clauses and groups of one expression level.
type Combinator string

const (
	CombinatorAnd Combinator = "and"
	CombinatorOr  Combinator = "or"
)

// Clause is a single (field, operator, value) comparison. Field may be a
// dotted path such as "address.city".
type Clause struct {
	Field    string   `json:"field"    validate:"required"`
	Operator Operator `json:"operator" validate:"required"`
	Value    any      `json:"value"`
}

// Expression is one level of the tree: leaf clauses plus nested groups,
// combined with a single combinator. A nil or empty expression is true.
type Expression struct {
	Combinator Combinator    `json:"combinator,omitempty"`
	Clauses    []Clause      `json:"clauses,omitempty"`
	Groups     []*Expression `json:"groups,omitempty"`
}

// Result carries the boolean outcome and any non-fatal evaluation notes,
// such as type mismatches that forced a clause to false.
type Result struct {
	Match bool
	Notes []string
}
