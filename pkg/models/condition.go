package models

import "errors"

// Operator is a comparison operator usable in a condition.
type Operator string

const (
	OperatorEquals      Operator = "equals"
	OperatorNotEquals   Operator = "not_equals"
	OperatorGreaterThan Operator = "greater_than"
	OperatorLessThan    Operator = "less_than"
	OperatorContains    Operator = "contains"
)

// ErrInvalidOperator indicates a condition with an unsupported operator.
var ErrInvalidOperator = errors.New("unsupported condition operator")

// IsValid reports whether the operator is one of the supported set.
func (o Operator) IsValid() bool {
	switch o {
	case OperatorEquals, OperatorNotEquals, OperatorGreaterThan, OperatorLessThan, OperatorContains:
		return true
	default:
		return false
	}
}

// Condition is a single field/operator/value predicate evaluated against a
// subject attribute snapshot. Conditions in a list combine with AND.
type Condition struct {
	Field    string   `json:"field"    validate:"required"`
	Operator Operator `json:"operator" validate:"required"`
	Value    any      `json:"value"`
}

// AttributeMap is a snapshot of a subject's profile attributes.
type AttributeMap map[string]any
