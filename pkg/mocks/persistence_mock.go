package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/bloomcrm/journey/pkg/models"
	"github.com/bloomcrm/journey/pkg/persistence"
)

// MockWorkflowRepository is a mock implementation of
// persistence.WorkflowRepository.
type MockWorkflowRepository struct {
	mock.Mock
}

func (m *MockWorkflowRepository) Save(ctx context.Context, def *models.WorkflowDefinition) error {
	args := m.Called(ctx, def)

	return args.Error(0)
}

func (m *MockWorkflowRepository) GetByID(ctx context.Context, id string) (*models.WorkflowDefinition, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.WorkflowDefinition), args.Error(1)
}

func (m *MockWorkflowRepository) GetVersion(ctx context.Context, id string, version int) (*models.WorkflowDefinition, error) {
	args := m.Called(ctx, id, version)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.WorkflowDefinition), args.Error(1)
}

func (m *MockWorkflowRepository) List(ctx context.Context, opts persistence.ListWorkflowsOptions) ([]*models.WorkflowDefinition, error) {
	args := m.Called(ctx, opts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.WorkflowDefinition), args.Error(1)
}

func (m *MockWorkflowRepository) ActiveByTriggerType(ctx context.Context, tenantID, triggerType string) ([]*models.WorkflowDefinition, error) {
	args := m.Called(ctx, tenantID, triggerType)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.WorkflowDefinition), args.Error(1)
}

func (m *MockWorkflowRepository) Scheduled(ctx context.Context) ([]*models.WorkflowDefinition, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.WorkflowDefinition), args.Error(1)
}

func (m *MockWorkflowRepository) IncrementAnalytics(ctx context.Context, id string, version int, delta models.AnalyticsDelta) error {
	args := m.Called(ctx, id, version, delta)

	return args.Error(0)
}

// MockEnrollmentRepository is a mock implementation of
// persistence.EnrollmentRepository.
type MockEnrollmentRepository struct {
	mock.Mock
}

func (m *MockEnrollmentRepository) Create(ctx context.Context, enrollment *models.Enrollment) error {
	args := m.Called(ctx, enrollment)

	return args.Error(0)
}

func (m *MockEnrollmentRepository) CreateWithAnalytics(ctx context.Context, enrollment *models.Enrollment, delta models.AnalyticsDelta) error {
	args := m.Called(ctx, enrollment, delta)

	return args.Error(0)
}

func (m *MockEnrollmentRepository) Update(ctx context.Context, enrollment *models.Enrollment) error {
	args := m.Called(ctx, enrollment)

	return args.Error(0)
}

func (m *MockEnrollmentRepository) UpdateWithAnalytics(ctx context.Context, enrollment *models.Enrollment, delta models.AnalyticsDelta) error {
	args := m.Called(ctx, enrollment, delta)

	return args.Error(0)
}

func (m *MockEnrollmentRepository) GetByID(ctx context.Context, id string) (*models.Enrollment, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.Enrollment), args.Error(1)
}

func (m *MockEnrollmentRepository) ActiveBySubject(ctx context.Context, tenantID, workflowID, subjectID string) (*models.Enrollment, error) {
	args := m.Called(ctx, tenantID, workflowID, subjectID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.Enrollment), args.Error(1)
}

func (m *MockEnrollmentRepository) HasBySubject(ctx context.Context, tenantID, workflowID, subjectID string) (bool, error) {
	args := m.Called(ctx, tenantID, workflowID, subjectID)

	return args.Bool(0), args.Error(1)
}

func (m *MockEnrollmentRepository) ListByWorkflow(ctx context.Context, workflowID string) ([]*models.Enrollment, error) {
	args := m.Called(ctx, workflowID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.Enrollment), args.Error(1)
}

func (m *MockEnrollmentRepository) ClaimDue(ctx context.Context, workerID string, now time.Time, limit int, leaseTTL time.Duration) ([]*models.Enrollment, error) {
	args := m.Called(ctx, workerID, now, limit, leaseTTL)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.Enrollment), args.Error(1)
}

func (m *MockEnrollmentRepository) Release(ctx context.Context, enrollmentID, workerID string) error {
	args := m.Called(ctx, enrollmentID, workerID)

	return args.Error(0)
}

// MockPersistence is a mock implementation of persistence.Persistence.
type MockPersistence struct {
	mock.Mock

	WorkflowRepo   *MockWorkflowRepository
	EnrollmentRepo *MockEnrollmentRepository
}

func NewMockPersistence() *MockPersistence {
	return &MockPersistence{
		WorkflowRepo:   &MockWorkflowRepository{},
		EnrollmentRepo: &MockEnrollmentRepository{},
	}
}

func (m *MockPersistence) Workflows() persistence.WorkflowRepository {
	return m.WorkflowRepo
}

func (m *MockPersistence) Enrollments() persistence.EnrollmentRepository {
	return m.EnrollmentRepo
}

func (m *MockPersistence) HealthCheck(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}

func (m *MockPersistence) Close(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}
