// Package scheduler advances due enrollments through their workflow
// stages. Workers claim batches from the due-time index under a lease, so
// each enrollment has exactly one writer at a time and survives process
// restarts without losing pending advances.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/bloomcrm/journey/pkg/cache"
	"github.com/bloomcrm/journey/pkg/conditions"
	"github.com/bloomcrm/journey/pkg/eventbus"
	"github.com/bloomcrm/journey/pkg/events"
	"github.com/bloomcrm/journey/pkg/models"
	"github.com/bloomcrm/journey/pkg/otelhelper"
	"github.com/bloomcrm/journey/pkg/persistence"
	"github.com/bloomcrm/journey/pkg/protocol"
)

const (
	defaultPollInterval     = 5 * time.Second
	defaultLeaseTTL         = time.Minute
	defaultBatchSize        = 25
	defaultWorkers          = 4
	defaultMaxSkips         = 32
	defaultFailureThreshold = 5
)

// StageExecutor runs the actions of one stage. Satisfied by
// executor.Executor.
type StageExecutor interface {
	ExecuteStage(ctx context.Context, enrollment *models.Enrollment, stage *models.Stage) []models.ActionOutcome
}

// Scheduler is a pool of workers polling the due-time index.
type Scheduler struct {
	workerID    string
	persistence persistence.Persistence
	definitions cache.DefinitionCache
	profiles    protocol.ProfileProvider
	executor    StageExecutor
	publisher   eventbus.EventPublisher
	logger      *slog.Logger
	tracer      trace.Tracer

	pollInterval     time.Duration
	leaseTTL         time.Duration
	batchSize        int
	workers          int
	maxSkips         int
	failureThreshold int
}

type Option func(*Scheduler)

func WithPollInterval(d time.Duration) Option {
	return func(s *Scheduler) { s.pollInterval = d }
}

func WithLeaseTTL(d time.Duration) Option {
	return func(s *Scheduler) { s.leaseTTL = d }
}

func WithBatchSize(n int) Option {
	return func(s *Scheduler) { s.batchSize = n }
}

func WithWorkers(n int) Option {
	return func(s *Scheduler) { s.workers = n }
}

func WithMaxSkips(n int) Option {
	return func(s *Scheduler) { s.maxSkips = n }
}

func WithFailureThreshold(n int) Option {
	return func(s *Scheduler) { s.failureThreshold = n }
}

func NewScheduler(
	workerID string,
	logger *slog.Logger,
	tracer trace.Tracer,
	p persistence.Persistence,
	definitions cache.DefinitionCache,
	profiles protocol.ProfileProvider,
	exec StageExecutor,
	publisher eventbus.EventPublisher,
	opts ...Option,
) *Scheduler {
	s := &Scheduler{
		workerID:         workerID,
		persistence:      p,
		definitions:      definitions,
		profiles:         profiles,
		executor:         exec,
		publisher:        publisher,
		logger:           logger.With("module", "scheduler", "worker_id", workerID),
		tracer:           tracer,
		pollInterval:     defaultPollInterval,
		leaseTTL:         defaultLeaseTTL,
		batchSize:        defaultBatchSize,
		workers:          defaultWorkers,
		maxSkips:         defaultMaxSkips,
		failureThreshold: defaultFailureThreshold,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Start runs the worker pool until the context is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	s.logger.InfoContext(ctx, "Starting scheduler",
		"workers", s.workers,
		"poll_interval", s.pollInterval,
		"batch_size", s.batchSize,
	)

	var wg sync.WaitGroup

	for i := 0; i < s.workers; i++ {
		wg.Add(1)

		workerID := fmt.Sprintf("%s-%d", s.workerID, i)

		go func() {
			defer wg.Done()
			s.runWorker(ctx, workerID)
		}()
	}

	wg.Wait()

	return ctx.Err()
}

func (s *Scheduler) runWorker(ctx context.Context, workerID string) {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		if _, err := s.runPass(ctx, workerID); err != nil {
			s.logger.ErrorContext(ctx, "Scheduling pass failed", "error", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RunOnce claims and processes one batch of due enrollments. It returns
// the number of enrollments processed.
func (s *Scheduler) RunOnce(ctx context.Context) (int, error) {
	return s.runPass(ctx, s.workerID)
}

func (s *Scheduler) runPass(ctx context.Context, workerID string) (int, error) {
	now := time.Now().UTC()

	claimed, err := s.persistence.Enrollments().ClaimDue(ctx, workerID, now, s.batchSize, s.leaseTTL)
	if err != nil {
		return 0, fmt.Errorf("failed to claim due enrollments: %w", err)
	}

	for _, enrollment := range claimed {
		s.process(ctx, workerID, enrollment)
	}

	return len(claimed), nil
}

// process advances one claimed enrollment and always releases the lease.
func (s *Scheduler) process(ctx context.Context, workerID string, enrollment *models.Enrollment) {
	ctx, span := otelhelper.StartSpan(ctx, s.tracer, "scheduler.advance",
		attribute.String(otelhelper.EnrollmentIDKey, enrollment.ID),
		attribute.String(otelhelper.WorkflowIDKey, enrollment.WorkflowID),
		attribute.String(otelhelper.WorkerIDKey, workerID),
	)
	defer span.End()

	defer func() {
		if err := s.persistence.Enrollments().Release(ctx, enrollment.ID, workerID); err != nil {
			s.logger.ErrorContext(ctx, "Failed to release lease",
				"enrollment_id", enrollment.ID, "error", err)
		}
	}()

	if err := s.advance(ctx, enrollment); err != nil {
		otelhelper.SetError(span, err)
		s.recordFailure(ctx, enrollment, err)

		return
	}
}

// advance runs the state machine for one due enrollment: skip loop, action
// execution, terminal transitions and the atomic analytics write.
func (s *Scheduler) advance(ctx context.Context, enrollment *models.Enrollment) error {
	def, err := s.definitions.GetVersion(ctx, enrollment.WorkflowID, enrollment.WorkflowVersion)
	if err != nil {
		return fmt.Errorf("failed to load definition %s v%d: %w",
			enrollment.WorkflowID, enrollment.WorkflowVersion, err)
	}

	// A deactivated definition halts stage advances. The enrollment stays
	// Active with its dueAt untouched and resumes if reactivated.
	if !def.IsActive() {
		s.logger.DebugContext(ctx, "Definition inactive, holding enrollment",
			"enrollment_id", enrollment.ID, "workflow_id", def.ID)

		return nil
	}

	snapshot, err := s.profiles.GetAttributes(ctx, enrollment.TenantID, enrollment.SubjectID)
	if err != nil {
		return fmt.Errorf("failed to fetch attribute snapshot for %s: %w", enrollment.SubjectID, err)
	}

	now := time.Now().UTC()
	delta := models.AnalyticsDelta{}

	for skips := 0; ; skips++ {
		if skips >= s.maxSkips {
			s.pause(enrollment, fmt.Sprintf("exceeded %d consecutive stage skips", s.maxSkips))
			s.publish(ctx, events.EnrollmentPaused{
				BaseEvent:    events.NewBaseEvent(events.EnrollmentPausedEvent, enrollment.TenantID, enrollment.WorkflowID),
				EnrollmentID: enrollment.ID,
				SubjectID:    enrollment.SubjectID,
				Reason:       enrollment.PauseReason,
			})

			break
		}

		stage := def.StageAt(enrollment.CurrentStage)
		if stage == nil {
			return fmt.Errorf("definition %s v%d has no stage %d",
				def.ID, def.Version, enrollment.CurrentStage)
		}

		if len(stage.ExitConditions) > 0 && conditions.Evaluate(stage.ExitConditions, snapshot) {
			s.exit(ctx, enrollment, stage, now)
			delta.Exited = 1

			break
		}

		if len(stage.ContinueConditions) > 0 && !conditions.Evaluate(stage.ContinueConditions, snapshot) {
			last := s.skip(ctx, enrollment, def, stage, now)
			if last {
				delta.Completed = 1
				delta.Revenue = enrollment.Metrics.Revenue

				break
			}

			// Zero-delay successor stages run in the same pass.
			if enrollment.DueAt.After(now) {
				break
			}

			continue
		}

		outcomes := s.executor.ExecuteStage(ctx, enrollment, stage)
		completedAt := time.Now().UTC()

		enrollment.RecordStage(models.StageRecord{
			StageID:     stage.ID,
			StageOrder:  stage.Order,
			EnteredAt:   now,
			CompletedAt: &completedAt,
			Outcomes:    outcomes,
		})

		s.publish(ctx, events.StageCompleted{
			BaseEvent:    events.NewBaseEvent(events.StageCompletedEvent, enrollment.TenantID, enrollment.WorkflowID),
			EnrollmentID: enrollment.ID,
			SubjectID:    enrollment.SubjectID,
			StageID:      stage.ID,
			StageOrder:   stage.Order,
			Outcomes:     outcomes,
			Duration:     completedAt.Sub(now),
		})

		if enrollment.CurrentStage >= len(def.Stages)-1 {
			s.complete(ctx, enrollment, completedAt)
			delta.Completed = 1
			delta.Revenue = enrollment.Metrics.Revenue
		} else {
			next := def.Stages[enrollment.CurrentStage+1]
			if err := enrollment.AdvanceStage(next.Order, completedAt.Add(time.Duration(next.EffectiveDelay()))); err != nil {
				return fmt.Errorf("failed to advance enrollment %s: %w", enrollment.ID, err)
			}
		}

		break
	}

	enrollment.Failures = 0

	if err := s.persistence.Enrollments().UpdateWithAnalytics(ctx, enrollment, delta); err != nil {
		return fmt.Errorf("failed to persist enrollment %s: %w", enrollment.ID, err)
	}

	return nil
}

// skip moves past a stage whose continue conditions are not met. It
// reports whether the skipped stage was the last one.
func (s *Scheduler) skip(ctx context.Context, enrollment *models.Enrollment, def *models.WorkflowDefinition, stage *models.Stage, now time.Time) bool {
	enrollment.RecordStage(models.StageRecord{
		StageID:    stage.ID,
		StageOrder: stage.Order,
		EnteredAt:  now,
		Skipped:    true,
	})

	s.publish(ctx, events.StageSkipped{
		BaseEvent:    events.NewBaseEvent(events.StageSkippedEvent, enrollment.TenantID, enrollment.WorkflowID),
		EnrollmentID: enrollment.ID,
		SubjectID:    enrollment.SubjectID,
		StageID:      stage.ID,
		StageOrder:   stage.Order,
	})

	if enrollment.CurrentStage >= len(def.Stages)-1 {
		s.complete(ctx, enrollment, now)

		return true
	}

	next := def.Stages[enrollment.CurrentStage+1]
	_ = enrollment.AdvanceStage(next.Order, now.Add(time.Duration(next.EffectiveDelay())))

	return false
}

func (s *Scheduler) complete(ctx context.Context, enrollment *models.Enrollment, at time.Time) {
	_ = enrollment.Transition(models.EnrollmentStatusCompleted)
	enrollment.CompletedAt = &at

	s.publish(ctx, events.EnrollmentCompleted{
		BaseEvent:    events.NewBaseEvent(events.EnrollmentCompletedEvent, enrollment.TenantID, enrollment.WorkflowID),
		EnrollmentID: enrollment.ID,
		SubjectID:    enrollment.SubjectID,
		Revenue:      enrollment.Metrics.Revenue,
	})

	s.logger.InfoContext(ctx, "Enrollment completed",
		"enrollment_id", enrollment.ID, "workflow_id", enrollment.WorkflowID)
}

func (s *Scheduler) exit(ctx context.Context, enrollment *models.Enrollment, stage *models.Stage, at time.Time) {
	_ = enrollment.Transition(models.EnrollmentStatusExited)
	enrollment.CompletedAt = &at

	s.publish(ctx, events.EnrollmentExited{
		BaseEvent:    events.NewBaseEvent(events.EnrollmentExitedEvent, enrollment.TenantID, enrollment.WorkflowID),
		EnrollmentID: enrollment.ID,
		SubjectID:    enrollment.SubjectID,
		StageOrder:   stage.Order,
		Reason:       "exit conditions met",
	})

	s.logger.InfoContext(ctx, "Enrollment exited",
		"enrollment_id", enrollment.ID,
		"workflow_id", enrollment.WorkflowID,
		"stage_id", stage.ID,
	)
}

func (s *Scheduler) pause(enrollment *models.Enrollment, reason string) {
	_ = enrollment.Transition(models.EnrollmentStatusPaused)
	enrollment.PauseReason = reason
}

// recordFailure counts a scheduling failure and parks the enrollment in
// Paused once the threshold is crossed, so it surfaces to operators
// instead of hot-looping. The in-memory enrollment may carry a
// half-applied advance whose persist failed, so the counter is written to
// a fresh copy of the stored row; the next pass retries the advance
// whole.
func (s *Scheduler) recordFailure(ctx context.Context, enrollment *models.Enrollment, cause error) {
	stored, err := s.persistence.Enrollments().GetByID(ctx, enrollment.ID)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to reload enrollment for failure accounting",
			"enrollment_id", enrollment.ID, "error", err)

		return
	}

	stored.Failures++

	s.logger.ErrorContext(ctx, "Failed to advance enrollment",
		"enrollment_id", stored.ID,
		"failures", stored.Failures,
		"error", cause,
	)

	if stored.Failures < s.failureThreshold {
		// Leave dueAt untouched; the next pass retries.
		if err := s.persistence.Enrollments().Update(ctx, stored); err != nil {
			s.logger.ErrorContext(ctx, "Failed to persist failure count",
				"enrollment_id", stored.ID, "error", err)
		}

		return
	}

	s.pause(stored, fmt.Sprintf("scheduling failed %d times: %v", stored.Failures, cause))

	if err := s.persistence.Enrollments().Update(ctx, stored); err != nil {
		s.logger.ErrorContext(ctx, "Failed to pause enrollment",
			"enrollment_id", stored.ID, "error", err)

		return
	}

	s.publish(ctx, events.EnrollmentPaused{
		BaseEvent:    events.NewBaseEvent(events.EnrollmentPausedEvent, stored.TenantID, stored.WorkflowID),
		EnrollmentID: stored.ID,
		SubjectID:    stored.SubjectID,
		Reason:       stored.PauseReason,
	})
}

func (s *Scheduler) publish(ctx context.Context, event eventbus.Event) {
	if s.publisher == nil {
		return
	}

	if err := s.publisher.Publish(ctx, s.workerID, event); err != nil {
		s.logger.ErrorContext(ctx, "Failed to publish event",
			"event_type", event.GetType(), "error", err)
	}
}
