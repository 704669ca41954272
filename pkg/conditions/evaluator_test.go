package conditions

import (
	"testing"

	"github.com/bloomcrm/journey/pkg/models"
	"github.com/stretchr/testify/assert"
)

func TestEvaluate_EmptyListIsTrue(t *testing.T) {
	assert.True(t, Evaluate(nil, models.AttributeMap{}))
	assert.True(t, Evaluate([]models.Condition{}, nil))
}

func TestEvaluate_Operators(t *testing.T) {
	snapshot := models.AttributeMap{
		"plan":         "pro",
		"total_spend":  250.0,
		"order_count":  3,
		"tags":         []any{"vip", "newsletter"},
		"email_domain": "example.com",
	}

	tests := []struct {
		name string
		cond models.Condition
		want bool
	}{
		{"equals string", models.Condition{Field: "plan", Operator: models.OperatorEquals, Value: "pro"}, true},
		{"equals mismatch", models.Condition{Field: "plan", Operator: models.OperatorEquals, Value: "free"}, false},
		{"equals numeric coercion", models.Condition{Field: "order_count", Operator: models.OperatorEquals, Value: 3.0}, true},
		{"not equals", models.Condition{Field: "plan", Operator: models.OperatorNotEquals, Value: "free"}, true},
		{"greater than", models.Condition{Field: "total_spend", Operator: models.OperatorGreaterThan, Value: 100}, true},
		{"greater than false", models.Condition{Field: "total_spend", Operator: models.OperatorGreaterThan, Value: 500}, false},
		{"less than", models.Condition{Field: "order_count", Operator: models.OperatorLessThan, Value: 10}, true},
		{"greater than string number", models.Condition{Field: "total_spend", Operator: models.OperatorGreaterThan, Value: "100"}, true},
		{"contains substring", models.Condition{Field: "email_domain", Operator: models.OperatorContains, Value: "example"}, true},
		{"contains list member", models.Condition{Field: "tags", Operator: models.OperatorContains, Value: "vip"}, true},
		{"contains missing member", models.Condition{Field: "tags", Operator: models.OperatorContains, Value: "churned"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Evaluate([]models.Condition{tt.cond}, snapshot))
		})
	}
}

func TestEvaluate_MissingFieldResolvesToZero(t *testing.T) {
	snapshot := models.AttributeMap{}

	// Missing numeric field behaves as 0.
	assert.True(t, Evaluate([]models.Condition{
		{Field: "total_spend", Operator: models.OperatorLessThan, Value: 10},
	}, snapshot))

	// Missing string field behaves as "".
	assert.True(t, Evaluate([]models.Condition{
		{Field: "plan", Operator: models.OperatorEquals, Value: ""},
	}, snapshot))

	// Contains on a missing field is never true.
	assert.False(t, Evaluate([]models.Condition{
		{Field: "tags", Operator: models.OperatorContains, Value: "vip"},
	}, snapshot))
}

func TestEvaluate_AllMustHold(t *testing.T) {
	snapshot := models.AttributeMap{"plan": "pro", "total_spend": 50.0}

	conds := []models.Condition{
		{Field: "plan", Operator: models.OperatorEquals, Value: "pro"},
		{Field: "total_spend", Operator: models.OperatorGreaterThan, Value: 100},
	}

	assert.False(t, Evaluate(conds, snapshot))
}

func TestEvaluate_UnsupportedOperatorFailsSafe(t *testing.T) {
	snapshot := models.AttributeMap{"plan": "pro"}

	conds := []models.Condition{
		{Field: "plan", Operator: "regex", Value: ".*"},
	}

	assert.False(t, Evaluate(conds, snapshot))
}
