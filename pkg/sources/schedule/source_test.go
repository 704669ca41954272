package schedule_test

import (
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/bloomcrm/journey/pkg/mocks"
	"github.com/bloomcrm/journey/pkg/models"
	"github.com/bloomcrm/journey/pkg/persistence/file"
	"github.com/bloomcrm/journey/pkg/sources/schedule"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func scheduledDefinition(id, cronExpr string) *models.WorkflowDefinition {
	return &models.WorkflowDefinition{
		ID:       id,
		TenantID: "tenant-1",
		Version:  1,
		Name:     "Weekly digest",
		Status:   models.WorkflowStatusActive,
		Trigger: models.Trigger{
			Type:     models.TriggerScheduleElapsed,
			Schedule: cronExpr,
		},
		Stages: []*models.Stage{
			{ID: "s0", Order: 0, Actions: []models.ActionSpec{
				{Action: &models.SendMessage{Channel: "email", Template: "digest"}},
			}},
		},
	}
}

func setup(t *testing.T, defs ...*models.WorkflowDefinition) (*schedule.Source, *file.Persistence, *mocks.MockEventBus, *mocks.MockSubjectDirectory) {
	t.Helper()

	store := file.NewPersistence(t.TempDir())
	for _, def := range defs {
		require.NoError(t, store.Workflows().Save(t.Context(), def))
	}

	bus := &mocks.MockEventBus{}
	directory := &mocks.MockSubjectDirectory{}

	return schedule.NewSource(testLogger(), store.Workflows(), directory, bus), store, bus, directory
}

func TestSource_RegistersJobsForScheduledDefinitions(t *testing.T) {
	src, _, _, _ := setup(t,
		scheduledDefinition("wf-1", "0 9 * * 1"),
		scheduledDefinition("wf-2", "30 8 * * *"),
	)

	require.NoError(t, src.Start(t.Context()))
	defer func() { _ = src.Stop(t.Context()) }()

	assert.Equal(t, 2, src.Jobs())
}

func TestSource_SkipsDefinitionsWithoutSchedule(t *testing.T) {
	def := scheduledDefinition("wf-1", "")
	src, _, _, _ := setup(t, def)

	require.NoError(t, src.Start(t.Context()))
	defer func() { _ = src.Stop(t.Context()) }()

	assert.Zero(t, src.Jobs())
}

func TestSource_RejectsInvalidCronExpression(t *testing.T) {
	src, _, _, _ := setup(t, scheduledDefinition("wf-1", "not a cron"))

	require.NoError(t, src.Start(t.Context()))
	defer func() { _ = src.Stop(t.Context()) }()

	// The bad definition is logged and skipped, not fatal.
	assert.Zero(t, src.Jobs())
}

func TestSource_RefreshDropsDeactivatedDefinitions(t *testing.T) {
	def := scheduledDefinition("wf-1", "0 9 * * 1")
	src, store, _, _ := setup(t, def)

	require.NoError(t, src.Start(t.Context()))
	defer func() { _ = src.Stop(t.Context()) }()

	require.Equal(t, 1, src.Jobs())

	def.Status = models.WorkflowStatusInactive
	require.NoError(t, store.Workflows().Save(t.Context(), def))

	require.NoError(t, src.Refresh(t.Context()))
	assert.Zero(t, src.Jobs())
}

func TestSource_EmitFansOutToEverySubject(t *testing.T) {
	def := scheduledDefinition("wf-1", "0 9 * * 1")
	src, _, bus, directory := setup(t, def)

	directory.On("ListSubjects", mock.Anything, "tenant-1").
		Return([]string{"subj-1", "subj-2", "subj-3"}, nil)
	bus.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	src.Emit(t.Context(), def)

	bus.AssertNumberOfCalls(t, "Publish", 3)
	bus.AssertCalled(t, "Publish", mock.Anything, "subj-2", mock.Anything)
}

func TestSource_EmitToleratesDirectoryFailure(t *testing.T) {
	def := scheduledDefinition("wf-1", "0 9 * * 1")
	src, _, bus, directory := setup(t, def)

	directory.On("ListSubjects", mock.Anything, "tenant-1").
		Return(nil, assert.AnError)

	src.Emit(t.Context(), def)

	bus.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything)
}
