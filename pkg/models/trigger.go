package models

import "time"

// Well-known trigger types. The set is open: tenants may define their own
// event types, and a trigger type with no matching definition is a no-op.
const (
	TriggerCartAbandoned   = "cart_abandoned"
	TriggerPurchaseMade    = "purchase_made"
	TriggerSubjectCreated  = "subject_created"
	TriggerBirthday        = "birthday"
	TriggerInactivity      = "inactivity"
	TriggerScheduleElapsed = "schedule_elapsed"
)

// Trigger declares which external events start a workflow and under what
// constraints.
type Trigger struct {
	Type string `json:"type" validate:"required"`

	// Timeframe scopes time-window triggers such as inactivity
	// ("no purchase within Timeframe").
	Timeframe Duration `json:"timeframe,omitempty"`

	// Threshold scopes value triggers such as purchase_made
	// ("order total above Threshold").
	Threshold float64 `json:"threshold,omitempty"`

	// AllowReentry lets a subject whose previous enrollment completed or
	// exited be enrolled again. A subject with an Active enrollment is
	// never enrolled twice.
	AllowReentry bool `json:"allow_reentry,omitempty"`

	// Schedule is an optional cron expression; the schedule source emits
	// schedule_elapsed events for definitions that carry one.
	Schedule string `json:"schedule,omitempty"`

	// PayloadSchema is an optional JSON schema that trigger event payloads
	// must satisfy before entry conditions are evaluated.
	PayloadSchema map[string]any `json:"payload_schema,omitempty"`
}

// TriggerEvent is one external event submitted for dispatch.
type TriggerEvent struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"       validate:"required"`
	TenantID   string         `json:"tenant_id"  validate:"required"`
	SubjectID  string         `json:"subject_id" validate:"required"`
	Payload    map[string]any `json:"payload,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}
