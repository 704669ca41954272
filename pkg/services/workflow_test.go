package services_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bloomcrm/journey/pkg/cache"
	"github.com/bloomcrm/journey/pkg/models"
	"github.com/bloomcrm/journey/pkg/persistence/file"
	"github.com/bloomcrm/journey/pkg/services"
)

func draftDefinition() *models.WorkflowDefinition {
	return &models.WorkflowDefinition{
		TenantID: "tenant-1",
		Name:     "Welcome series",
		Trigger:  models.Trigger{Type: models.TriggerSubjectCreated},
		Stages: []*models.Stage{
			{ID: "s0", Order: 0, Actions: []models.ActionSpec{
				{Action: &models.SendMessage{Channel: "email", Template: "welcome"}},
			}},
			{ID: "s1", Order: 1, Delay: models.Duration(48 * time.Hour), Actions: []models.ActionSpec{
				{Action: &models.AddTag{Tag: "nurtured"}},
			}},
		},
	}
}

func workflowService(t *testing.T) (*services.Workflow, *file.Persistence) {
	t.Helper()

	store := file.NewPersistence(t.TempDir())
	svc := services.NewWorkflow(store, cache.NewMemoryCache(store.Workflows(), time.Minute))

	return svc, store
}

func TestWorkflow_CreateStartsAsDraftVersionOne(t *testing.T) {
	svc, store := workflowService(t)

	created, err := svc.Create(t.Context(), draftDefinition())
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, 1, created.Version)
	assert.Equal(t, models.WorkflowStatusDraft, created.Status)
	assert.Nil(t, created.ActivatedAt)

	fetched, err := store.Workflows().GetByID(t.Context(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.Name, fetched.Name)
}

func TestWorkflow_CreateRejectsInvalidDefinition(t *testing.T) {
	svc, _ := workflowService(t)

	def := draftDefinition()
	def.Trigger.Type = ""

	_, err := svc.Create(t.Context(), def)
	require.Error(t, err)
	assert.True(t, services.IsValidationError(err))
}

func TestWorkflow_CreateRejectsMisorderedStages(t *testing.T) {
	svc, _ := workflowService(t)

	def := draftDefinition()
	def.Stages[1].Order = 5

	_, err := svc.Create(t.Context(), def)
	require.Error(t, err)
	assert.True(t, services.IsValidationError(err))
	assert.ErrorIs(t, err, models.ErrStageOrder)
}

func TestWorkflow_UpdateEditsDraft(t *testing.T) {
	svc, _ := workflowService(t)

	created, err := svc.Create(t.Context(), draftDefinition())
	require.NoError(t, err)

	edit := draftDefinition()
	edit.Name = "Welcome series v2 copy"

	updated, err := svc.Update(t.Context(), created.ID, edit)
	require.NoError(t, err)
	assert.Equal(t, "Welcome series v2 copy", updated.Name)
	assert.Equal(t, 1, updated.Version)
}

func TestWorkflow_UpdateRejectsActivatedVersion(t *testing.T) {
	svc, _ := workflowService(t)

	created, err := svc.Create(t.Context(), draftDefinition())
	require.NoError(t, err)

	_, err = svc.Activate(t.Context(), created.ID, 1)
	require.NoError(t, err)

	_, err = svc.Update(t.Context(), created.ID, draftDefinition())
	require.Error(t, err)
	assert.ErrorIs(t, err, services.ErrDefinitionFrozen)
	assert.True(t, services.IsConflictError(err))
}

func TestWorkflow_ActivateFreezesAndStamps(t *testing.T) {
	svc, _ := workflowService(t)

	created, err := svc.Create(t.Context(), draftDefinition())
	require.NoError(t, err)

	activated, err := svc.Activate(t.Context(), created.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowStatusActive, activated.Status)
	require.NotNil(t, activated.ActivatedAt)

	// Activating an already active version is a no-op.
	again, err := svc.Activate(t.Context(), created.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowStatusActive, again.Status)
}

func TestWorkflow_ActivateDemotesPriorActiveVersion(t *testing.T) {
	svc, store := workflowService(t)

	created, err := svc.Create(t.Context(), draftDefinition())
	require.NoError(t, err)

	_, err = svc.Activate(t.Context(), created.ID, 1)
	require.NoError(t, err)

	clone, err := svc.NewVersion(t.Context(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, clone.Version)
	assert.Equal(t, models.WorkflowStatusDraft, clone.Status)

	_, err = svc.Activate(t.Context(), created.ID, 2)
	require.NoError(t, err)

	v1, err := store.Workflows().GetVersion(t.Context(), created.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowStatusInactive, v1.Status)

	v2, err := store.Workflows().GetVersion(t.Context(), created.ID, 2)
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowStatusActive, v2.Status)
}

func TestWorkflow_ActivateRequiresDraft(t *testing.T) {
	svc, _ := workflowService(t)

	created, err := svc.Create(t.Context(), draftDefinition())
	require.NoError(t, err)

	_, err = svc.Activate(t.Context(), created.ID, 1)
	require.NoError(t, err)

	_, err = svc.Deactivate(t.Context(), created.ID, 1)
	require.NoError(t, err)

	_, err = svc.Activate(t.Context(), created.ID, 1)
	require.Error(t, err)
	assert.ErrorIs(t, err, services.ErrNotDraft)
	assert.True(t, services.IsConflictError(err))
}

func TestWorkflow_DeactivateRequiresActive(t *testing.T) {
	svc, _ := workflowService(t)

	created, err := svc.Create(t.Context(), draftDefinition())
	require.NoError(t, err)

	_, err = svc.Deactivate(t.Context(), created.ID, 1)
	require.Error(t, err)
	assert.ErrorIs(t, err, services.ErrNotActive)
}

func TestWorkflow_NewVersionResetsAnalytics(t *testing.T) {
	svc, store := workflowService(t)

	created, err := svc.Create(t.Context(), draftDefinition())
	require.NoError(t, err)

	_, err = svc.Activate(t.Context(), created.ID, 1)
	require.NoError(t, err)

	require.NoError(t, store.Workflows().IncrementAnalytics(
		t.Context(), created.ID, 1, models.AnalyticsDelta{Triggered: 4, Completed: 2, Revenue: 120},
	))

	clone, err := svc.NewVersion(t.Context(), created.ID)
	require.NoError(t, err)
	assert.Zero(t, clone.Analytics.Triggered)
	assert.Zero(t, clone.Analytics.Revenue)

	analytics, err := svc.Analytics(t.Context(), created.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(4), analytics.Triggered)
	assert.InDelta(t, 0.5, analytics.ConversionRate, 0.001)
}

func TestWorkflow_ListFiltersByStatus(t *testing.T) {
	svc, _ := workflowService(t)

	first, err := svc.Create(t.Context(), draftDefinition())
	require.NoError(t, err)

	second := draftDefinition()
	second.Name = "Winback"
	_, err = svc.Create(t.Context(), second)
	require.NoError(t, err)

	_, err = svc.Activate(t.Context(), first.ID, 1)
	require.NoError(t, err)

	active := models.WorkflowStatusActive
	defs, err := svc.List(t.Context(), services.ListWorkflowsRequest{TenantID: "tenant-1", Status: &active})
	require.NoError(t, err)
	require.Len(t, defs, 1)
	assert.Equal(t, first.ID, defs[0].ID)

	bogus := models.WorkflowStatus("published")
	_, err = svc.List(t.Context(), services.ListWorkflowsRequest{Status: &bogus})
	require.Error(t, err)
	assert.ErrorIs(t, err, services.ErrInvalidStatus)
}

func TestWorkflow_FetchVersionReturnsPinnedCopy(t *testing.T) {
	svc, _ := workflowService(t)

	created, err := svc.Create(t.Context(), draftDefinition())
	require.NoError(t, err)

	_, err = svc.Activate(t.Context(), created.ID, 1)
	require.NoError(t, err)

	clone, err := svc.NewVersion(t.Context(), created.ID)
	require.NoError(t, err)

	edit := draftDefinition()
	edit.Name = "Welcome series reworked"
	_, err = svc.Update(t.Context(), created.ID, edit)
	require.NoError(t, err)

	pinned, err := svc.FetchVersion(t.Context(), created.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, "Welcome series", pinned.Name)

	latest, err := svc.FetchByID(t.Context(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, clone.Version, latest.Version)
	assert.Equal(t, "Welcome series reworked", latest.Name)
}
