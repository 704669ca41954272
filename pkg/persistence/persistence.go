// Package persistence provides the storage abstraction for workflow
// definitions, enrollments and the due-time index.
package persistence

import (
	"context"
	"time"

	"github.com/bloomcrm/journey/pkg/models"
)

// Persistence is the root storage interface. Implementations: file (dev and
// tests) and postgresql.
type Persistence interface {
	Workflows() WorkflowRepository
	Enrollments() EnrollmentRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// ListWorkflowsOptions filters workflow listings.
type ListWorkflowsOptions struct {
	TenantID string
	Status   *models.WorkflowStatus
	Limit    int
	Offset   int
}

// WorkflowRepository stores versioned workflow definitions and their
// analytics counters. Rows are keyed by (id, version).
type WorkflowRepository interface {
	// Save upserts one definition version. Freezing of active versions is
	// enforced by the service layer, not here.
	Save(ctx context.Context, def *models.WorkflowDefinition) error

	// GetByID returns the highest version of a definition.
	GetByID(ctx context.Context, id string) (*models.WorkflowDefinition, error)

	// GetVersion returns one pinned definition version, as stored at
	// enrollment time.
	GetVersion(ctx context.Context, id string, version int) (*models.WorkflowDefinition, error)

	List(ctx context.Context, opts ListWorkflowsOptions) ([]*models.WorkflowDefinition, error)

	// ActiveByTriggerType returns every active definition version for the
	// tenant whose trigger type matches.
	ActiveByTriggerType(ctx context.Context, tenantID, triggerType string) ([]*models.WorkflowDefinition, error)

	// Scheduled returns every active definition that carries a cron
	// schedule, across tenants. Used by the schedule trigger source.
	Scheduled(ctx context.Context) ([]*models.WorkflowDefinition, error)

	// IncrementAnalytics atomically applies a counter delta to one
	// definition version.
	IncrementAnalytics(ctx context.Context, id string, version int, delta models.AnalyticsDelta) error
}

// EnrollmentRepository stores enrollments and serves the due-time index.
type EnrollmentRepository interface {
	// Create inserts a new enrollment. It fails with ErrEnrollmentExists
	// when the subject already has an Active enrollment on the same
	// workflow.
	Create(ctx context.Context, enrollment *models.Enrollment) error

	// CreateWithAnalytics inserts a new enrollment and applies the
	// analytics delta to its workflow in one atomic step, so a stored
	// enrollment always carries its triggered count. Duplicates fail with
	// ErrEnrollmentExists like Create.
	CreateWithAnalytics(ctx context.Context, enrollment *models.Enrollment, delta models.AnalyticsDelta) error

	Update(ctx context.Context, enrollment *models.Enrollment) error

	// UpdateWithAnalytics persists the enrollment and applies the
	// analytics delta to its workflow in one atomic step, so counters
	// cannot drift from enrollment state under partial failures.
	UpdateWithAnalytics(ctx context.Context, enrollment *models.Enrollment, delta models.AnalyticsDelta) error

	GetByID(ctx context.Context, id string) (*models.Enrollment, error)

	// ActiveBySubject returns the subject's Active enrollment on the
	// workflow, or ErrEnrollmentNotFound.
	ActiveBySubject(ctx context.Context, tenantID, workflowID, subjectID string) (*models.Enrollment, error)

	// HasBySubject reports whether the subject has ever been enrolled on
	// the workflow, in any status. The dispatcher uses it for re-entry
	// checks.
	HasBySubject(ctx context.Context, tenantID, workflowID, subjectID string) (bool, error)

	ListByWorkflow(ctx context.Context, workflowID string) ([]*models.Enrollment, error)

	// ClaimDue atomically claims up to limit Active enrollments whose
	// DueAt is at or before now and whose lease is free or expired. A
	// claimed enrollment is invisible to other workers until the lease
	// expires or Release is called, which is what serializes stage
	// execution per enrollment.
	ClaimDue(ctx context.Context, workerID string, now time.Time, limit int, leaseTTL time.Duration) ([]*models.Enrollment, error)

	// Release drops the worker's lease. It is idempotent and ignores
	// leases held by other workers.
	Release(ctx context.Context, enrollmentID, workerID string) error
}
