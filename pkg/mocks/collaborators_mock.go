package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/bloomcrm/journey/pkg/models"
	"github.com/bloomcrm/journey/pkg/protocol"
)

// MockProfileProvider is a mock implementation of protocol.ProfileProvider.
type MockProfileProvider struct {
	mock.Mock
}

func (m *MockProfileProvider) GetAttributes(ctx context.Context, tenantID, subjectID string) (models.AttributeMap, error) {
	args := m.Called(ctx, tenantID, subjectID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(models.AttributeMap), args.Error(1)
}

// MockProfileUpdater is a mock implementation of protocol.ProfileUpdater.
type MockProfileUpdater struct {
	mock.Mock
}

func (m *MockProfileUpdater) UpdateAttributes(ctx context.Context, tenantID, subjectID string, fields map[string]any) error {
	args := m.Called(ctx, tenantID, subjectID, fields)

	return args.Error(0)
}

// MockMessenger is a mock implementation of protocol.Messenger.
type MockMessenger struct {
	mock.Mock
}

func (m *MockMessenger) Send(ctx context.Context, tenantID, subjectID string, msg protocol.Message) (protocol.MessageReceipt, error) {
	args := m.Called(ctx, tenantID, subjectID, msg)

	return args.Get(0).(protocol.MessageReceipt), args.Error(1)
}

// MockRewardLedger is a mock implementation of protocol.RewardLedger.
type MockRewardLedger struct {
	mock.Mock
}

func (m *MockRewardLedger) IssueDiscount(ctx context.Context, tenantID, subjectID, idempotencyKey string, grant protocol.DiscountGrant) error {
	args := m.Called(ctx, tenantID, subjectID, idempotencyKey, grant)

	return args.Error(0)
}

func (m *MockRewardLedger) IssueGift(ctx context.Context, tenantID, subjectID, idempotencyKey string, grant protocol.GiftGrant) error {
	args := m.Called(ctx, tenantID, subjectID, idempotencyKey, grant)

	return args.Error(0)
}

// MockTaskStore is a mock implementation of protocol.TaskStore.
type MockTaskStore struct {
	mock.Mock
}

func (m *MockTaskStore) CreateTask(ctx context.Context, tenantID, subjectID string, task protocol.TaskRequest) error {
	args := m.Called(ctx, tenantID, subjectID, task)

	return args.Error(0)
}

// MockTagStore is a mock implementation of protocol.TagStore.
type MockTagStore struct {
	mock.Mock
}

func (m *MockTagStore) AddTag(ctx context.Context, tenantID, subjectID, tag string) error {
	args := m.Called(ctx, tenantID, subjectID, tag)

	return args.Error(0)
}

// MockSubjectDirectory is a mock implementation of protocol.SubjectDirectory.
type MockSubjectDirectory struct {
	mock.Mock
}

func (m *MockSubjectDirectory) ListSubjects(ctx context.Context, tenantID string) ([]string, error) {
	args := m.Called(ctx, tenantID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]string), args.Error(1)
}

// NewMockCollaborators bundles fresh collaborator mocks.
func NewMockCollaborators() (protocol.Collaborators, *MockProfileProvider, *MockProfileUpdater, *MockMessenger, *MockRewardLedger, *MockTaskStore, *MockTagStore) {
	profiles := &MockProfileProvider{}
	updater := &MockProfileUpdater{}
	messenger := &MockMessenger{}
	rewards := &MockRewardLedger{}
	tasks := &MockTaskStore{}
	tags := &MockTagStore{}

	collaborators := protocol.Collaborators{
		Profiles:  profiles,
		Updater:   updater,
		Messenger: messenger,
		Rewards:   rewards,
		Tasks:     tasks,
		Tags:      tags,
	}

	return collaborators, profiles, updater, messenger, rewards, tasks, tags
}
