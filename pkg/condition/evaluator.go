package condition

import (
	"fmt"
	"strconv"
	"strings"
)

// Evaluate walks the expression tree against the snapshot and returns a
// boolean result. It never panics: missing fields make equals/contains
// false and not_equals true, and type mismatches evaluate to false with a
// note attached to the result.
func Evaluate(expr *Expression, snapshot map[string]any) Result {
	result := Result{Match: true}
	if expr == nil {
		return result
	}

	result.Match = evaluateGroup(expr, snapshot, &result.Notes)

	return result
}

func evaluateGroup(expr *Expression, snapshot map[string]any, notes *[]string) bool {
	if len(expr.Clauses) == 0 && len(expr.Groups) == 0 {
		return true
	}

	combinator := expr.Combinator
	if combinator == "" {
		combinator = CombinatorAnd
	}

	outcomes := make([]bool, 0, len(expr.Clauses)+len(expr.Groups))

	for _, clause := range expr.Clauses {
		outcomes = append(outcomes, evaluateClause(clause, snapshot, notes))
	}

	for _, group := range expr.Groups {
		if group == nil {
			continue
		}

		outcomes = append(outcomes, evaluateGroup(group, snapshot, notes))
	}

	if combinator == CombinatorOr {
		for _, ok := range outcomes {
			if ok {
				return true
			}
		}

		return false
	}

	for _, ok := range outcomes {
		if !ok {
			return false
		}
	}

	return true
}

func evaluateClause(clause Clause, snapshot map[string]any, notes *[]string) bool {
	actual, found := lookupField(snapshot, clause.Field)

	switch clause.Operator {
	case OperatorEquals:
		return found && valuesEqual(actual, clause.Value)
	case OperatorNotEquals:
		// Absence is not a match, but it is a mismatch.
		return !found || !valuesEqual(actual, clause.Value)
	case OperatorContains:
		return found && contains(actual, clause.Value)
	case OperatorGreaterThan, OperatorLessThan:
		if !found {
			return false
		}

		left, leftOK := toNumber(actual)
		right, rightOK := toNumber(clause.Value)

		if !leftOK || !rightOK {
			*notes = append(*notes, fmt.Sprintf(
				"field %q: cannot compare %T with %T using %s",
				clause.Field, actual, clause.Value, clause.Operator))

			return false
		}

		if clause.Operator == OperatorGreaterThan {
			return left > right
		}

		return left < right
	default:
		*notes = append(*notes, fmt.Sprintf(
			"field %q: unknown operator %q", clause.Field, clause.Operator))

		return false
	}
}

// lookupField resolves a field against the snapshot. The snapshot is a flat
// key-value view, so the dotted path is tried as a literal key first; nested
// maps are walked as a fallback.
func lookupField(snapshot map[string]any, field string) (any, bool) {
	if snapshot == nil || field == "" {
		return nil, false
	}

	if value, ok := snapshot[field]; ok {
		return value, true
	}

	parts := strings.Split(field, ".")
	if len(parts) == 1 {
		return nil, false
	}

	var current any = snapshot

	for _, part := range parts {
		asMap, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}

		current, ok = asMap[part]
		if !ok {
			return nil, false
		}
	}

	return current, true
}

func valuesEqual(actual, expected any) bool {
	if actual == nil || expected == nil {
		return actual == expected
	}

	leftNum, leftOK := toNumber(actual)
	rightNum, rightOK := toNumber(expected)

	if leftOK && rightOK {
		return leftNum == rightNum
	}

	return fmt.Sprintf("%v", actual) == fmt.Sprintf("%v", expected)
}

func contains(actual, expected any) bool {
	switch v := actual.(type) {
	case string:
		return strings.Contains(v, fmt.Sprintf("%v", expected))
	case []any:
		for _, item := range v {
			if valuesEqual(item, expected) {
				return true
			}
		}

		return false
	case []string:
		needle := fmt.Sprintf("%v", expected)
		for _, item := range v {
			if item == needle {
				return true
			}
		}

		return false
	default:
		return false
	}
}

func toNumber(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case string:
		parsed, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, false
		}

		return parsed, true
	default:
		return 0, false
	}
}
