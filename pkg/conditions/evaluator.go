// Package conditions evaluates field/operator/value predicates against
// subject attribute snapshots. Evaluation is pure and never fails hard: a
// malformed condition counts as not met rather than aborting the caller.
package conditions

import (
	"strconv"
	"strings"

	"github.com/bloomcrm/journey/pkg/models"
)

// Evaluate reports whether every condition in the list holds for the
// snapshot. Conditions combine with AND; an empty list is always true.
// A missing field resolves to a type-appropriate zero value.
func Evaluate(conds []models.Condition, snapshot models.AttributeMap) bool {
	for _, cond := range conds {
		if !evaluateOne(cond, snapshot) {
			return false
		}
	}

	return true
}

func evaluateOne(cond models.Condition, snapshot models.AttributeMap) bool {
	actual := snapshot[cond.Field]

	switch cond.Operator {
	case models.OperatorEquals:
		return equal(actual, cond.Value)
	case models.OperatorNotEquals:
		return !equal(actual, cond.Value)
	case models.OperatorGreaterThan:
		return compareNumeric(actual, cond.Value, func(a, b float64) bool { return a > b })
	case models.OperatorLessThan:
		return compareNumeric(actual, cond.Value, func(a, b float64) bool { return a < b })
	case models.OperatorContains:
		return contains(actual, cond.Value)
	default:
		// Unsupported operator fails safe to "not met".
		return false
	}
}

func equal(actual, expected any) bool {
	if a, aok := toFloat(actual); aok {
		if b, bok := toFloat(expected); bok {
			return a == b
		}
	}

	return asString(actual) == asString(expected)
}

func compareNumeric(actual, expected any, cmp func(a, b float64) bool) bool {
	a, aok := toFloat(actual)
	b, bok := toFloat(expected)

	if !aok || !bok {
		return false
	}

	return cmp(a, b)
}

func contains(actual, expected any) bool {
	needle := asString(expected)

	switch v := actual.(type) {
	case string:
		return strings.Contains(v, needle)
	case []any:
		for _, item := range v {
			if asString(item) == needle {
				return true
			}
		}

		return false
	case []string:
		for _, item := range v {
			if item == needle {
				return true
			}
		}

		return false
	case nil:
		return false
	default:
		return strings.Contains(asString(actual), needle)
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0, false
		}

		return f, true
	case nil:
		// Missing numeric fields resolve to zero.
		return 0, true
	default:
		return 0, false
	}
}

func asString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case nil:
		return ""
	case bool:
		return strconv.FormatBool(s)
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	case int:
		return strconv.Itoa(s)
	case int64:
		return strconv.FormatInt(s, 10)
	default:
		return ""
	}
}
