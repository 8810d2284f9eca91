package condition

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEvaluate_NilExpression(t *testing.T) {
	result := Evaluate(nil, map[string]any{"plan": "pro"})

	assert.True(t, result.Match)
	assert.Empty(t, result.Notes)
}

func TestEvaluate_EmptyExpression(t *testing.T) {
	result := Evaluate(&Expression{}, nil)

	assert.True(t, result.Match)
}

func TestEvaluate_Operators(t *testing.T) {
	snapshot := map[string]any{
		"plan":         "pro",
		"score":        42.0,
		"tags":         []any{"vip", "beta"},
		"address.city": "Lisbon",
	}

	tests := []struct {
		name   string
		clause Clause
		want   bool
	}{
		{"equals match", Clause{Field: "plan", Operator: OperatorEquals, Value: "pro"}, true},
		{"equals mismatch", Clause{Field: "plan", Operator: OperatorEquals, Value: "free"}, false},
		{"equals numeric coercion", Clause{Field: "score", Operator: OperatorEquals, Value: 42}, true},
		{"not_equals mismatch", Clause{Field: "plan", Operator: OperatorNotEquals, Value: "free"}, true},
		{"not_equals match", Clause{Field: "plan", Operator: OperatorNotEquals, Value: "pro"}, false},
		{"contains string", Clause{Field: "plan", Operator: OperatorContains, Value: "pr"}, true},
		{"contains slice", Clause{Field: "tags", Operator: OperatorContains, Value: "vip"}, true},
		{"contains slice miss", Clause{Field: "tags", Operator: OperatorContains, Value: "churned"}, false},
		{"greater_than", Clause{Field: "score", Operator: OperatorGreaterThan, Value: 40}, true},
		{"less_than", Clause{Field: "score", Operator: OperatorLessThan, Value: 40}, false},
		{"dotted path", Clause{Field: "address.city", Operator: OperatorEquals, Value: "Lisbon"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := Evaluate(&Expression{Clauses: []Clause{tt.clause}}, snapshot)
			assert.Equal(t, tt.want, result.Match)
		})
	}
}

func TestEvaluate_MissingField(t *testing.T) {
	snapshot := map[string]any{"plan": "pro"}

	equals := Evaluate(&Expression{Clauses: []Clause{
		{Field: "missing", Operator: OperatorEquals, Value: "x"},
	}}, snapshot)
	assert.False(t, equals.Match)

	notEquals := Evaluate(&Expression{Clauses: []Clause{
		{Field: "missing", Operator: OperatorNotEquals, Value: "x"},
	}}, snapshot)
	assert.True(t, notEquals.Match)

	contains := Evaluate(&Expression{Clauses: []Clause{
		{Field: "missing", Operator: OperatorContains, Value: "x"},
	}}, snapshot)
	assert.False(t, contains.Match)

	greater := Evaluate(&Expression{Clauses: []Clause{
		{Field: "missing", Operator: OperatorGreaterThan, Value: 1},
	}}, snapshot)
	assert.False(t, greater.Match)
}

func TestEvaluate_TypeMismatchDoesNotPanic(t *testing.T) {
	snapshot := map[string]any{"plan": "pro"}

	result := Evaluate(&Expression{Clauses: []Clause{
		{Field: "plan", Operator: OperatorGreaterThan, Value: 10},
	}}, snapshot)

	assert.False(t, result.Match)
	assert.Len(t, result.Notes, 1)
	assert.Contains(t, result.Notes[0], "cannot compare")
}

func TestEvaluate_Combinators(t *testing.T) {
	snapshot := map[string]any{"plan": "pro", "score": 10.0}

	and := &Expression{
		Combinator: CombinatorAnd,
		Clauses: []Clause{
			{Field: "plan", Operator: OperatorEquals, Value: "pro"},
			{Field: "score", Operator: OperatorGreaterThan, Value: 100},
		},
	}
	assert.False(t, Evaluate(and, snapshot).Match)

	or := &Expression{
		Combinator: CombinatorOr,
		Clauses: []Clause{
			{Field: "plan", Operator: OperatorEquals, Value: "pro"},
			{Field: "score", Operator: OperatorGreaterThan, Value: 100},
		},
	}
	assert.True(t, Evaluate(or, snapshot).Match)
}

func TestEvaluate_NestedGroups(t *testing.T) {
	snapshot := map[string]any{"plan": "free", "score": 80.0, "country": "PT"}

	// plan == pro OR (score > 50 AND country == PT)
	expr := &Expression{
		Combinator: CombinatorOr,
		Clauses: []Clause{
			{Field: "plan", Operator: OperatorEquals, Value: "pro"},
		},
		Groups: []*Expression{
			{
				Combinator: CombinatorAnd,
				Clauses: []Clause{
					{Field: "score", Operator: OperatorGreaterThan, Value: 50},
					{Field: "country", Operator: OperatorEquals, Value: "PT"},
				},
			},
		},
	}

	assert.True(t, Evaluate(expr, snapshot).Match)
}
