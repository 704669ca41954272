package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validDefinition() *WorkflowDefinition {
	return &WorkflowDefinition{
		ID:       "wf-1",
		TenantID: "tenant-1",
		Version:  1,
		Name:     "Abandoned cart recovery",
		Status:   WorkflowStatusDraft,
		Trigger:  Trigger{Type: TriggerCartAbandoned},
		Stages: []*Stage{
			{
				ID:    "stage-0",
				Order: 0,
				Actions: []ActionSpec{
					{Action: &SendMessage{Channel: "email", Template: "cart-reminder"}},
				},
			},
			{
				ID:    "stage-1",
				Order: 1,
				Delay: Duration(48 * time.Hour),
				Actions: []ActionSpec{
					{Action: &ApplyDiscount{DiscountKind: "percentage", Value: 10}},
				},
			},
		},
	}
}

func TestWorkflowDefinition_Validate(t *testing.T) {
	require.NoError(t, validDefinition().Validate())
}

func TestWorkflowDefinition_Validate_NoStages(t *testing.T) {
	def := validDefinition()
	def.Stages = nil

	assert.ErrorIs(t, def.Validate(), ErrNoStages)
}

func TestWorkflowDefinition_Validate_NonContiguousOrder(t *testing.T) {
	def := validDefinition()
	def.Stages[1].Order = 3

	assert.ErrorIs(t, def.Validate(), ErrStageOrder)
}

func TestWorkflowDefinition_Validate_MissingTrigger(t *testing.T) {
	def := validDefinition()
	def.Trigger.Type = ""

	assert.ErrorIs(t, def.Validate(), ErrMissingTrigger)
}

func TestWorkflowDefinition_Validate_NegativeDelay(t *testing.T) {
	def := validDefinition()
	def.Stages[1].Delay = Duration(-time.Hour)

	assert.ErrorIs(t, def.Validate(), ErrNegativeDelay)
}

func TestWorkflowDefinition_Validate_BadOperator(t *testing.T) {
	def := validDefinition()
	def.EntryConditions = []Condition{{Field: "plan", Operator: "matches", Value: "pro"}}

	assert.ErrorIs(t, def.Validate(), ErrInvalidOperator)
}

func TestStage_EffectiveDelay_StageZeroImmediate(t *testing.T) {
	stage := &Stage{Order: 0, Delay: Duration(24 * time.Hour)}

	assert.Equal(t, time.Duration(0), stage.EffectiveDelay())
}

func TestStage_EffectiveDelay_LaterStages(t *testing.T) {
	stage := &Stage{Order: 2, Delay: Duration(30 * time.Minute)}

	assert.Equal(t, 30*time.Minute, stage.EffectiveDelay())
}

func TestWorkflowDefinition_NewVersion(t *testing.T) {
	def := validDefinition()
	def.Status = WorkflowStatusActive
	def.Analytics = WorkflowAnalytics{Triggered: 10, Completed: 4}

	next := def.NewVersion()

	assert.Equal(t, def.Version+1, next.Version)
	assert.Equal(t, WorkflowStatusDraft, next.Status)
	assert.Zero(t, next.Analytics.Triggered)
	assert.Nil(t, next.ActivatedAt)

	// The clone must not alias the original's stages.
	next.Stages[0].Actions[0] = ActionSpec{Action: &AddTag{Tag: "changed"}}
	assert.IsType(t, &SendMessage{}, def.Stages[0].Actions[0].Action)
}

func TestWorkflowDefinition_StageAt(t *testing.T) {
	def := validDefinition()

	assert.Equal(t, "stage-1", def.StageAt(1).ID)
	assert.Nil(t, def.StageAt(2))
	assert.Nil(t, def.StageAt(-1))
}
