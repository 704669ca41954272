package executor_test

import (
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/bloomcrm/journey/pkg/executor"
	"github.com/bloomcrm/journey/pkg/mocks"
	"github.com/bloomcrm/journey/pkg/models"
	"github.com/bloomcrm/journey/pkg/protocol"
)

func newTestExecutor(t *testing.T, collaborators protocol.Collaborators, opts ...executor.Option) *executor.Executor {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	tracer := noop.NewTracerProvider().Tracer("test")

	return executor.NewExecutor(logger, tracer, collaborators, opts...)
}

func testEnrollment() *models.Enrollment {
	return &models.Enrollment{
		ID:        "enr-1",
		TenantID:  "tenant-1",
		SubjectID: "subj-1",
		Status:    models.EnrollmentStatusActive,
	}
}

func TestExecuteStage_AllActionsSucceed(t *testing.T) {
	collaborators, _, _, messenger, _, _, tags := mocks.NewMockCollaborators()

	messenger.On("Send", mock.Anything, "tenant-1", "subj-1", protocol.Message{
		Channel:  "email",
		Template: "welcome",
	}).Return(protocol.MessageReceipt{Delivered: true, MessageID: "msg-1"}, nil)
	tags.On("AddTag", mock.Anything, "tenant-1", "subj-1", "welcomed").Return(nil)

	exec := newTestExecutor(t, collaborators)

	stage := &models.Stage{
		ID: "s0",
		Actions: []models.ActionSpec{
			{Action: &models.SendMessage{Channel: "email", Template: "welcome"}},
			{Action: &models.AddTag{Tag: "welcomed"}},
		},
	}

	outcomes := exec.ExecuteStage(t.Context(), testEnrollment(), stage)

	require.Len(t, outcomes, 2)
	assert.True(t, outcomes[0].Success)
	assert.Equal(t, models.ActionTypeSendMessage, outcomes[0].Type)
	assert.Equal(t, "msg-1", outcomes[0].Detail)
	assert.True(t, outcomes[1].Success)
	assert.Equal(t, 1, outcomes[1].Attempts)

	messenger.AssertExpectations(t)
	tags.AssertExpectations(t)
}

func TestExecuteStage_FailureDoesNotStopSiblings(t *testing.T) {
	collaborators, _, _, messenger, _, _, tags := mocks.NewMockCollaborators()

	messenger.On("Send", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(protocol.MessageReceipt{}, errors.New("smtp unavailable"))
	tags.On("AddTag", mock.Anything, "tenant-1", "subj-1", "nudged").Return(nil)

	exec := newTestExecutor(t, collaborators, executor.WithMaxAttempts(1))

	stage := &models.Stage{
		ID: "s1",
		Actions: []models.ActionSpec{
			{Action: &models.SendMessage{Channel: "email", Body: "hi"}},
			{Action: &models.AddTag{Tag: "nudged"}},
		},
	}

	outcomes := exec.ExecuteStage(t.Context(), testEnrollment(), stage)

	require.Len(t, outcomes, 2)
	assert.False(t, outcomes[0].Success)
	assert.Contains(t, outcomes[0].Error, "smtp unavailable")
	assert.True(t, outcomes[1].Success, "second action must still run")

	tags.AssertExpectations(t)
}

func TestExecuteStage_RetriesTransientFailures(t *testing.T) {
	collaborators, _, _, messenger, _, _, _ := mocks.NewMockCollaborators()

	messenger.On("Send", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(protocol.MessageReceipt{}, errors.New("timeout")).Once()
	messenger.On("Send", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(protocol.MessageReceipt{Delivered: true, MessageID: "msg-2"}, nil).Once()

	exec := newTestExecutor(t, collaborators)

	stage := &models.Stage{
		ID: "s0",
		Actions: []models.ActionSpec{
			{Action: &models.SendMessage{Channel: "sms", Body: "code 1234"}},
		},
	}

	outcomes := exec.ExecuteStage(t.Context(), testEnrollment(), stage)

	require.Len(t, outcomes, 1)
	assert.True(t, outcomes[0].Success)
	assert.Equal(t, 2, outcomes[0].Attempts)

	messenger.AssertExpectations(t)
}

func TestExecuteStage_ExhaustedRetriesRecordFailure(t *testing.T) {
	collaborators, _, _, _, rewards, _, _ := mocks.NewMockCollaborators()

	rewards.On("IssueDiscount", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(errors.New("ledger down"))

	exec := newTestExecutor(t, collaborators, executor.WithMaxAttempts(3))

	stage := &models.Stage{
		ID: "s2",
		Actions: []models.ActionSpec{
			{Action: &models.ApplyDiscount{DiscountKind: "percentage", Value: 15}},
		},
	}

	outcomes := exec.ExecuteStage(t.Context(), testEnrollment(), stage)

	require.Len(t, outcomes, 1)
	assert.False(t, outcomes[0].Success)
	assert.Equal(t, 3, outcomes[0].Attempts)

	rewards.AssertNumberOfCalls(t, "IssueDiscount", 3)
}

func TestExecuteStage_ZeroMaxAttemptsMeansOneAttempt(t *testing.T) {
	collaborators, _, _, messenger, _, _, _ := mocks.NewMockCollaborators()

	messenger.On("Send", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(protocol.MessageReceipt{}, errors.New("smtp unavailable"))

	exec := newTestExecutor(t, collaborators, executor.WithMaxAttempts(0))

	stage := &models.Stage{
		ID: "s0",
		Actions: []models.ActionSpec{
			{Action: &models.SendMessage{Channel: "email", Body: "hi"}},
		},
	}

	outcomes := exec.ExecuteStage(t.Context(), testEnrollment(), stage)

	require.Len(t, outcomes, 1)
	assert.False(t, outcomes[0].Success)
	assert.Equal(t, 1, outcomes[0].Attempts)

	messenger.AssertNumberOfCalls(t, "Send", 1)
}

func TestExecuteStage_RewardIdempotencyKey(t *testing.T) {
	collaborators, _, _, _, rewards, _, _ := mocks.NewMockCollaborators()

	rewards.On("IssueGift", mock.Anything, "tenant-1", "subj-1", "enr-1:s3:0", mock.Anything).Return(nil)

	exec := newTestExecutor(t, collaborators)

	stage := &models.Stage{
		ID: "s3",
		Actions: []models.ActionSpec{
			{Action: &models.IssueGift{GiftKind: "sample", Description: "travel size"}},
		},
	}

	outcomes := exec.ExecuteStage(t.Context(), testEnrollment(), stage)

	require.Len(t, outcomes, 1)
	assert.True(t, outcomes[0].Success)

	rewards.AssertExpectations(t)
}

func TestExecuteStage_UpdateSubjectAndCreateTask(t *testing.T) {
	collaborators, _, updater, _, _, tasks, _ := mocks.NewMockCollaborators()

	fields := map[string]any{"lifecycle_stage": "vip"}
	updater.On("UpdateAttributes", mock.Anything, "tenant-1", "subj-1", fields).Return(nil)
	tasks.On("CreateTask", mock.Anything, "tenant-1", "subj-1", protocol.TaskRequest{
		Title:    "Call VIP customer",
		Priority: "high",
	}).Return(nil)

	exec := newTestExecutor(t, collaborators)

	stage := &models.Stage{
		ID: "s4",
		Actions: []models.ActionSpec{
			{Action: &models.UpdateSubject{Fields: fields}},
			{Action: &models.CreateTask{Title: "Call VIP customer", Priority: "high"}},
		},
	}

	outcomes := exec.ExecuteStage(t.Context(), testEnrollment(), stage)

	require.Len(t, outcomes, 2)
	assert.True(t, outcomes[0].Success)
	assert.True(t, outcomes[1].Success)

	updater.AssertExpectations(t)
	tasks.AssertExpectations(t)
}

func TestExecuteStage_OutcomeTiming(t *testing.T) {
	collaborators, _, _, _, _, _, tags := mocks.NewMockCollaborators()

	tags.On("AddTag", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)

	exec := newTestExecutor(t, collaborators)

	stage := &models.Stage{
		ID:      "s0",
		Actions: []models.ActionSpec{{Action: &models.AddTag{Tag: "t"}}},
	}

	before := time.Now().UTC()
	outcomes := exec.ExecuteStage(t.Context(), testEnrollment(), stage)

	require.Len(t, outcomes, 1)
	assert.False(t, outcomes[0].AttemptedAt.Before(before))
	assert.GreaterOrEqual(t, time.Duration(outcomes[0].Duration), time.Duration(0))
}
