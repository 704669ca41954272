// Package dispatcher matches trigger events to active workflow definitions
// and creates enrollments.
package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/xeipuuv/gojsonschema"

	"github.com/bloomcrm/journey/pkg/conditions"
	"github.com/bloomcrm/journey/pkg/eventbus"
	"github.com/bloomcrm/journey/pkg/events"
	"github.com/bloomcrm/journey/pkg/models"
	"github.com/bloomcrm/journey/pkg/persistence"
	"github.com/bloomcrm/journey/pkg/protocol"
)

// ErrProfileUnavailable wraps profile lookup failures. The event was not
// enrolled; the caller is expected to redeliver it.
var ErrProfileUnavailable = errors.New("subject profile unavailable")

// Result summarizes what one trigger event did.
type Result struct {
	EventID string `json:"event_id"`
	// Matched counts active definitions whose trigger type matched.
	Matched int `json:"matched"`
	// EnrollmentIDs lists enrollments created by this event.
	EnrollmentIDs []string `json:"enrollment_ids,omitempty"`
	// Skipped maps workflow IDs to the reason no enrollment was created.
	Skipped map[string]string `json:"skipped,omitempty"`
}

// Dispatcher turns trigger events into enrollments.
type Dispatcher struct {
	persistence persistence.Persistence
	profiles    protocol.ProfileProvider
	publisher   eventbus.EventPublisher
	validator   *validator.Validate
	logger      *slog.Logger
}

func NewDispatcher(
	logger *slog.Logger,
	persistence persistence.Persistence,
	profiles protocol.ProfileProvider,
	publisher eventbus.EventPublisher,
) *Dispatcher {
	return &Dispatcher{
		persistence: persistence,
		profiles:    profiles,
		publisher:   publisher,
		validator:   validator.New(),
		logger:      logger.With("module", "dispatcher"),
	}
}

// Dispatch processes one trigger event against every matching active
// definition. An unknown trigger type is a no-op, not an error. A profile
// lookup failure aborts the whole event with ErrProfileUnavailable so the
// caller can retry; nothing was enrolled in that case.
func (d *Dispatcher) Dispatch(ctx context.Context, event models.TriggerEvent) (*Result, error) {
	if err := d.validator.Struct(event); err != nil {
		return nil, fmt.Errorf("invalid trigger event: %w", err)
	}

	if event.ID == "" {
		event.ID = uuid.New().String()
	}

	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}

	result := &Result{
		EventID: event.ID,
		Skipped: make(map[string]string),
	}

	definitions, err := d.persistence.Workflows().ActiveByTriggerType(ctx, event.TenantID, event.Type)
	if err != nil {
		return nil, fmt.Errorf("failed to load definitions for trigger %q: %w", event.Type, err)
	}

	result.Matched = len(definitions)

	if len(definitions) == 0 {
		d.logger.DebugContext(ctx, "No active definition for trigger type",
			"trigger_type", event.Type, "tenant_id", event.TenantID)

		return result, nil
	}

	// One snapshot per event; every matching definition sees the same
	// attribute values.
	snapshot, err := d.profiles.GetAttributes(ctx, event.TenantID, event.SubjectID)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrProfileUnavailable, event.SubjectID, err)
	}

	for _, def := range definitions {
		enrollmentID, reason, err := d.enroll(ctx, def, event, snapshot)
		if err != nil {
			return nil, err
		}

		if enrollmentID != "" {
			result.EnrollmentIDs = append(result.EnrollmentIDs, enrollmentID)
		} else {
			result.Skipped[def.ID] = reason
		}
	}

	d.publishReceived(ctx, event, result)

	return result, nil
}

// enroll runs one definition through the entry checks. It returns the new
// enrollment ID, or an empty ID with a reason when the definition was
// skipped.
func (d *Dispatcher) enroll(ctx context.Context, def *models.WorkflowDefinition, event models.TriggerEvent, snapshot models.AttributeMap) (string, string, error) {
	if reason := matchesTrigger(def.Trigger, event); reason != "" {
		return "", reason, nil
	}

	if !conditions.Evaluate(def.EntryConditions, snapshot) {
		return "", "entry conditions not met", nil
	}

	enrollments := d.persistence.Enrollments()

	if !def.Trigger.AllowReentry {
		enrolled, err := enrollments.HasBySubject(ctx, event.TenantID, def.ID, event.SubjectID)
		if err != nil {
			return "", "", fmt.Errorf("failed to check prior enrollment: %w", err)
		}

		if enrolled {
			return "", "subject already enrolled and re-entry is disabled", nil
		}
	}

	now := time.Now().UTC()
	enrollment := &models.Enrollment{
		ID:              uuid.New().String(),
		TenantID:        event.TenantID,
		SubjectID:       event.SubjectID,
		WorkflowID:      def.ID,
		WorkflowVersion: def.Version,
		CurrentStage:    0,
		Status:          models.EnrollmentStatusActive,
		DueAt:           now,
	}

	// The insert and the triggered counter move together, so an enrollment
	// can never exist on a workflow that did not count it.
	err := enrollments.CreateWithAnalytics(ctx, enrollment, models.AnalyticsDelta{Triggered: 1})
	if err != nil {
		// A concurrent or repeated event already enrolled the subject.
		if persistence.IsEnrollmentExists(err) {
			return "", "subject has an active enrollment", nil
		}

		return "", "", fmt.Errorf("failed to create enrollment: %w", err)
	}

	d.logger.InfoContext(ctx, "Enrollment created",
		"enrollment_id", enrollment.ID,
		"workflow_id", def.ID,
		"workflow_version", def.Version,
		"subject_id", event.SubjectID,
		"trigger_type", event.Type,
	)

	if d.publisher != nil {
		created := events.EnrollmentCreated{
			BaseEvent:       events.NewBaseEvent(events.EnrollmentCreatedEvent, event.TenantID, def.ID),
			EnrollmentID:    enrollment.ID,
			SubjectID:       event.SubjectID,
			WorkflowVersion: def.Version,
			TriggerType:     event.Type,
		}
		if err := d.publisher.Publish(ctx, def.ID, created); err != nil {
			d.logger.ErrorContext(ctx, "Failed to publish enrollment created event", "error", err)
		}
	}

	return enrollment.ID, "", nil
}

// matchesTrigger applies the trigger's own constraints to the event. An
// empty return means match.
func matchesTrigger(trigger models.Trigger, event models.TriggerEvent) string {
	if trigger.Threshold > 0 {
		value, ok := payloadValue(event.Payload)
		if !ok || value < trigger.Threshold {
			return fmt.Sprintf("payload value below threshold %g", trigger.Threshold)
		}
	}

	if len(trigger.PayloadSchema) > 0 {
		schema := gojsonschema.NewGoLoader(trigger.PayloadSchema)
		payload := gojsonschema.NewGoLoader(event.Payload)

		validation, err := gojsonschema.Validate(schema, payload)
		if err != nil {
			return fmt.Sprintf("payload schema unusable: %v", err)
		}

		if !validation.Valid() {
			return fmt.Sprintf("payload does not satisfy schema: %v", validation.Errors())
		}
	}

	return ""
}

// payloadValue extracts the numeric value a threshold applies to.
func payloadValue(payload map[string]any) (float64, bool) {
	for _, key := range []string{"value", "total", "amount"} {
		raw, ok := payload[key]
		if !ok {
			continue
		}

		switch v := raw.(type) {
		case float64:
			return v, true
		case int:
			return float64(v), true
		case int64:
			return float64(v), true
		case json.Number:
			f, err := v.Float64()
			if err == nil {
				return f, true
			}
		}
	}

	return 0, false
}

func (d *Dispatcher) publishReceived(ctx context.Context, event models.TriggerEvent, result *Result) {
	if d.publisher == nil {
		return
	}

	received := events.TriggerReceived{
		BaseEvent:      events.NewBaseEvent(events.TriggerReceivedEvent, event.TenantID, ""),
		TriggerEventID: event.ID,
		TriggerType:    event.Type,
		SubjectID:      event.SubjectID,
		Enrolled:       len(result.EnrollmentIDs) > 0,
	}

	if err := d.publisher.Publish(ctx, event.SubjectID, received); err != nil {
		d.logger.ErrorContext(ctx, "Failed to publish trigger received event", "error", err)
	}
}
