package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bloomcrm/journey/pkg/eventbus"
	"github.com/bloomcrm/journey/pkg/events"
	"github.com/bloomcrm/journey/pkg/models"
	"github.com/bloomcrm/journey/pkg/persistence"
)

// ErrEnrollmentNotFound is returned when an enrollment is not found.
var ErrEnrollmentNotFound = persistence.ErrEnrollmentNotFound

// Enrollment exposes operator-facing enrollment operations: inspection,
// pausing and resuming. Stage advancement stays with the scheduler.
type Enrollment struct {
	persistence persistence.Persistence
	publisher   eventbus.EventPublisher
	logger      *slog.Logger
}

// NewEnrollment creates a new enrollment service.
func NewEnrollment(logger *slog.Logger, persistence persistence.Persistence, publisher eventbus.EventPublisher) *Enrollment {
	return &Enrollment{
		persistence: persistence,
		publisher:   publisher,
		logger:      logger.With("module", "services"),
	}
}

// Get retrieves an enrollment by its ID.
func (s *Enrollment) Get(ctx context.Context, id string) (*models.Enrollment, error) {
	enrollment, err := s.persistence.Enrollments().GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if enrollment == nil {
		return nil, ErrEnrollmentNotFound
	}

	return enrollment, nil
}

// ListByWorkflow retrieves every enrollment of a workflow across versions.
func (s *Enrollment) ListByWorkflow(ctx context.Context, workflowID string) ([]*models.Enrollment, error) {
	enrollments, err := s.persistence.Enrollments().ListByWorkflow(ctx, workflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to list enrollments: %w", err)
	}

	return enrollments, nil
}

// Pause parks an active enrollment. The scheduler stops claiming it until
// an operator resumes it.
func (s *Enrollment) Pause(ctx context.Context, id, reason string) (*models.Enrollment, error) {
	enrollment, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := enrollment.Transition(models.EnrollmentStatusPaused); err != nil {
		return nil, &ServiceError{
			Op:      "Pause",
			Code:    "NOT_ACTIVE",
			Message: fmt.Sprintf("enrollment is %s", enrollment.Status),
			Err:     ErrNotActive,
		}
	}

	enrollment.PauseReason = reason
	enrollment.UpdatedAt = time.Now().UTC()

	if err := s.persistence.Enrollments().Update(ctx, enrollment); err != nil {
		return nil, fmt.Errorf("failed to pause enrollment: %w", err)
	}

	s.publish(ctx, enrollment.ID, events.EnrollmentPaused{
		BaseEvent:    events.NewBaseEvent(events.EnrollmentPausedEvent, enrollment.TenantID, enrollment.WorkflowID),
		EnrollmentID: enrollment.ID,
		SubjectID:    enrollment.SubjectID,
		Reason:       reason,
	})

	return enrollment, nil
}

// Resume moves a paused enrollment back to active at its current stage.
// The due time is reset to now so the scheduler picks it up on the next
// pass, and the failure counter starts over.
func (s *Enrollment) Resume(ctx context.Context, id, resumedBy string) (*models.Enrollment, error) {
	enrollment, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if enrollment.Status != models.EnrollmentStatusPaused {
		return nil, &ServiceError{
			Op:      "Resume",
			Code:    "NOT_PAUSED",
			Message: fmt.Sprintf("enrollment is %s", enrollment.Status),
			Err:     ErrNotPaused,
		}
	}

	if err := enrollment.Transition(models.EnrollmentStatusActive); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	enrollment.PauseReason = ""
	enrollment.Failures = 0
	enrollment.DueAt = now
	enrollment.UpdatedAt = now

	if err := s.persistence.Enrollments().Update(ctx, enrollment); err != nil {
		return nil, fmt.Errorf("failed to resume enrollment: %w", err)
	}

	s.publish(ctx, enrollment.ID, events.EnrollmentResumed{
		BaseEvent:    events.NewBaseEvent(events.EnrollmentResumedEvent, enrollment.TenantID, enrollment.WorkflowID),
		EnrollmentID: enrollment.ID,
		SubjectID:    enrollment.SubjectID,
		ResumedBy:    resumedBy,
	})

	return enrollment, nil
}

func (s *Enrollment) publish(ctx context.Context, key string, event eventbus.Event) {
	if s.publisher == nil {
		return
	}

	if err := s.publisher.Publish(ctx, key, event); err != nil {
		s.logger.WarnContext(ctx, "Failed to publish enrollment event", "error", err)
	}
}
