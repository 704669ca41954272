// Package events defines the enrollment lifecycle events published on the
// event bus.
package events

import (
	"time"

	"github.com/google/uuid"

	"github.com/bloomcrm/journey/pkg/models"
)

type EventType string

// Topic is the single bus topic; events are routed by their type metadata.
const Topic = "journey.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	TriggerSubmittedEvent    EventType = "trigger.submitted"
	TriggerReceivedEvent     EventType = "trigger.received"
	EnrollmentCreatedEvent   EventType = "enrollment.created"
	EnrollmentCompletedEvent EventType = "enrollment.completed"
	EnrollmentExitedEvent    EventType = "enrollment.exited"
	EnrollmentPausedEvent    EventType = "enrollment.paused"
	EnrollmentResumedEvent   EventType = "enrollment.resumed"
	StageCompletedEvent      EventType = "stage.completed"
	StageSkippedEvent        EventType = "stage.skipped"
)

type BaseEvent struct {
	ID         string         `json:"id"`
	Type       EventType      `json:"type"`
	Timestamp  time.Time      `json:"timestamp"`
	TenantID   string         `json:"tenant_id"`
	WorkflowID string         `json:"workflow_id"`
	WorkerID   string         `json:"worker_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

func NewBaseEvent(eventType EventType, tenantID, workflowID string) BaseEvent {
	return BaseEvent{
		ID:         uuid.New().String(),
		Type:       eventType,
		Timestamp:  time.Now().UTC(),
		TenantID:   tenantID,
		WorkflowID: workflowID,
		Metadata:   make(map[string]any),
	}
}

// TriggerSubmitted carries an inbound trigger event from the ingestion API
// to the dispatcher worker.
type TriggerSubmitted struct {
	BaseEvent

	Event models.TriggerEvent `json:"event"`
}

func (e TriggerSubmitted) GetType() EventType {
	return TriggerSubmittedEvent
}

// TriggerReceived is published for every accepted trigger event, whether or
// not it enrolled anyone.
type TriggerReceived struct {
	BaseEvent

	TriggerEventID string `json:"trigger_event_id"`
	TriggerType    string `json:"trigger_type"`
	SubjectID      string `json:"subject_id"`
	Enrolled       bool   `json:"enrolled"`
	Reason         string `json:"reason,omitempty"`
}

func (e TriggerReceived) GetType() EventType {
	return TriggerReceivedEvent
}

type EnrollmentCreated struct {
	BaseEvent

	EnrollmentID    string `json:"enrollment_id"`
	SubjectID       string `json:"subject_id"`
	WorkflowVersion int    `json:"workflow_version"`
	TriggerType     string `json:"trigger_type"`
}

func (e EnrollmentCreated) GetType() EventType {
	return EnrollmentCreatedEvent
}

type StageCompleted struct {
	BaseEvent

	EnrollmentID string                 `json:"enrollment_id"`
	SubjectID    string                 `json:"subject_id"`
	StageID      string                 `json:"stage_id"`
	StageOrder   int                    `json:"stage_order"`
	Outcomes     []models.ActionOutcome `json:"outcomes,omitempty"`
	Duration     time.Duration          `json:"duration"`
}

func (e StageCompleted) GetType() EventType {
	return StageCompletedEvent
}

type StageSkipped struct {
	BaseEvent

	EnrollmentID string `json:"enrollment_id"`
	SubjectID    string `json:"subject_id"`
	StageID      string `json:"stage_id"`
	StageOrder   int    `json:"stage_order"`
}

func (e StageSkipped) GetType() EventType {
	return StageSkippedEvent
}

type EnrollmentCompleted struct {
	BaseEvent

	EnrollmentID string  `json:"enrollment_id"`
	SubjectID    string  `json:"subject_id"`
	Revenue      float64 `json:"revenue"`
}

func (e EnrollmentCompleted) GetType() EventType {
	return EnrollmentCompletedEvent
}

type EnrollmentExited struct {
	BaseEvent

	EnrollmentID string `json:"enrollment_id"`
	SubjectID    string `json:"subject_id"`
	StageOrder   int    `json:"stage_order"`
	Reason       string `json:"reason,omitempty"`
}

func (e EnrollmentExited) GetType() EventType {
	return EnrollmentExitedEvent
}

type EnrollmentPaused struct {
	BaseEvent

	EnrollmentID string `json:"enrollment_id"`
	SubjectID    string `json:"subject_id"`
	Reason       string `json:"reason"`
}

func (e EnrollmentPaused) GetType() EventType {
	return EnrollmentPausedEvent
}

type EnrollmentResumed struct {
	BaseEvent

	EnrollmentID string `json:"enrollment_id"`
	SubjectID    string `json:"subject_id"`
	ResumedBy    string `json:"resumed_by,omitempty"`
}

func (e EnrollmentResumed) GetType() EventType {
	return EnrollmentResumedEvent
}
