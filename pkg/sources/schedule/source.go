// Package schedule provides the cron-based trigger source. Active workflow
// definitions that carry a cron expression get a job registered here; when
// the job fires, one trigger event per subject is handed to the dispatcher.
package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/bloomcrm/journey/pkg/eventbus"
	"github.com/bloomcrm/journey/pkg/events"
	"github.com/bloomcrm/journey/pkg/models"
	"github.com/bloomcrm/journey/pkg/persistence"
	"github.com/bloomcrm/journey/pkg/protocol"
)

const defaultRefreshInterval = time.Minute

type job struct {
	entryID  cron.EntryID
	cronExpr string
}

// Source watches the definition store for active scheduled workflows and
// keeps one cron job per (workflow, version) registered. Definitions are
// re-read periodically so activations and deactivations take effect
// without a restart.
type Source struct {
	workflows persistence.WorkflowRepository
	directory protocol.SubjectDirectory
	publisher eventbus.EventPublisher
	logger    *slog.Logger

	refreshInterval time.Duration

	cron  *cron.Cron
	mu    sync.Mutex
	jobs  map[string]job
	close chan struct{}
}

func NewSource(
	logger *slog.Logger,
	workflows persistence.WorkflowRepository,
	directory protocol.SubjectDirectory,
	publisher eventbus.EventPublisher,
) *Source {
	return &Source{
		workflows:       workflows,
		directory:       directory,
		publisher:       publisher,
		logger:          logger.With("module", "schedule_source"),
		refreshInterval: defaultRefreshInterval,
		jobs:            make(map[string]job),
		close:           make(chan struct{}),
	}
}

// Start registers jobs for the current set of scheduled definitions and
// begins the refresh loop. It returns after startup; jobs fire on their
// own goroutines until Stop or context cancellation.
func (s *Source) Start(ctx context.Context) error {
	s.cron = cron.New(cron.WithChain(
		cron.SkipIfStillRunning(cron.DefaultLogger),
		cron.Recover(cron.DefaultLogger),
	))

	if err := s.Refresh(ctx); err != nil {
		return err
	}

	s.cron.Start()
	s.logger.InfoContext(ctx, "Schedule source started", "jobs", len(s.jobs))

	go s.refreshLoop(ctx)

	return nil
}

func (s *Source) refreshLoop(ctx context.Context) {
	ticker := time.NewTicker(s.refreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.close:
			return
		case <-ticker.C:
			if err := s.Refresh(ctx); err != nil {
				s.logger.ErrorContext(ctx, "Failed to refresh scheduled definitions", "error", err)
			}
		}
	}
}

// Refresh reconciles the registered cron jobs against the active scheduled
// definitions in the store.
func (s *Source) Refresh(ctx context.Context) error {
	defs, err := s.workflows.Scheduled(ctx)
	if err != nil {
		return fmt.Errorf("failed to load scheduled definitions: %w", err)
	}

	wanted := make(map[string]*models.WorkflowDefinition, len(defs))
	for _, def := range defs {
		wanted[jobKey(def)] = def
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for key, j := range s.jobs {
		def, ok := wanted[key]
		if ok && def.Trigger.Schedule == j.cronExpr {
			continue
		}

		s.cron.Remove(j.entryID)
		delete(s.jobs, key)
		s.logger.InfoContext(ctx, "Removed schedule job", "key", key)
	}

	for key, def := range wanted {
		if _, ok := s.jobs[key]; ok {
			continue
		}

		if err := s.register(ctx, key, def); err != nil {
			s.logger.ErrorContext(ctx, "Failed to register schedule job",
				"workflow_id", def.ID, "cron", def.Trigger.Schedule, "error", err)
		}
	}

	return nil
}

func (s *Source) register(ctx context.Context, key string, def *models.WorkflowDefinition) error {
	if _, err := cron.ParseStandard(def.Trigger.Schedule); err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", def.Trigger.Schedule, err)
	}

	// Capture the pinned definition; the job outlives this refresh pass.
	fire := func() {
		s.Emit(context.Background(), def)
	}

	entryID, err := s.cron.AddFunc(def.Trigger.Schedule, fire)
	if err != nil {
		return fmt.Errorf("failed to add cron job: %w", err)
	}

	s.jobs[key] = job{entryID: entryID, cronExpr: def.Trigger.Schedule}
	s.logger.InfoContext(ctx, "Registered schedule job",
		"workflow_id", def.ID, "version", def.Version, "cron", def.Trigger.Schedule)

	return nil
}

// Emit publishes one trigger event per subject of the definition's tenant.
// The events go through the regular dispatch path, so entry conditions and
// re-entry rules still apply.
func (s *Source) Emit(ctx context.Context, def *models.WorkflowDefinition) {
	subjects, err := s.directory.ListSubjects(ctx, def.TenantID)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to list subjects for scheduled trigger",
			"workflow_id", def.ID, "tenant_id", def.TenantID, "error", err)

		return
	}

	now := time.Now().UTC()

	for _, subjectID := range subjects {
		event := models.TriggerEvent{
			ID:        uuid.New().String(),
			Type:      def.Trigger.Type,
			TenantID:  def.TenantID,
			SubjectID: subjectID,
			Payload: map[string]any{
				"schedule":    def.Trigger.Schedule,
				"workflow_id": def.ID,
			},
			OccurredAt: now,
		}

		submitted := events.TriggerSubmitted{
			BaseEvent: events.NewBaseEvent(events.TriggerSubmittedEvent, def.TenantID, def.ID),
			Event:     event,
		}

		if err := s.publisher.Publish(ctx, subjectID, submitted); err != nil {
			s.logger.ErrorContext(ctx, "Failed to publish scheduled trigger",
				"workflow_id", def.ID, "subject_id", subjectID, "error", err)
		}
	}

	s.logger.DebugContext(ctx, "Emitted scheduled triggers",
		"workflow_id", def.ID, "subjects", len(subjects))
}

// Jobs returns the number of registered cron jobs.
func (s *Source) Jobs() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.jobs)
}

// Stop halts the cron scheduler and the refresh loop.
func (s *Source) Stop(ctx context.Context) error {
	select {
	case <-s.close:
	default:
		close(s.close)
	}

	if s.cron != nil {
		<-s.cron.Stop().Done()
	}

	s.logger.InfoContext(ctx, "Schedule source stopped")

	return nil
}

func jobKey(def *models.WorkflowDefinition) string {
	return fmt.Sprintf("%s:v%d", def.ID, def.Version)
}
