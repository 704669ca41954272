package models

import (
	"errors"
	"fmt"
	"time"
)

// EnrollmentStatus is the lifecycle state of an enrollment.
type EnrollmentStatus string

const (
	EnrollmentStatusActive    EnrollmentStatus = "active"
	EnrollmentStatusPaused    EnrollmentStatus = "paused"
	EnrollmentStatusCompleted EnrollmentStatus = "completed"
	EnrollmentStatusExited    EnrollmentStatus = "exited"
)

var (
	// ErrInvalidTransition indicates a status change outside the state machine.
	ErrInvalidTransition = errors.New("invalid enrollment status transition")

	// ErrStageRegression indicates an attempt to move an enrollment backwards.
	ErrStageRegression = errors.New("current stage must not decrease")
)

// Enrollment is one subject's live execution of a workflow definition.
// The definition version is pinned at creation time so in-flight journeys
// are unaffected by new versions.
type Enrollment struct {
	ID              string            `json:"id"`
	TenantID        string            `json:"tenant_id"`
	SubjectID       string            `json:"subject_id"`
	WorkflowID      string            `json:"workflow_id"`
	WorkflowVersion int               `json:"workflow_version"`
	CurrentStage    int               `json:"current_stage"`
	Status          EnrollmentStatus  `json:"status"`
	DueAt           time.Time         `json:"due_at"`
	StageHistory    []StageRecord     `json:"stage_history,omitempty"`
	Metrics         EnrollmentMetrics `json:"metrics"`

	// Failures counts consecutive scheduling failures; past a threshold
	// the scheduler parks the enrollment in Paused instead of retrying.
	Failures    int    `json:"failures,omitempty"`
	PauseReason string `json:"pause_reason,omitempty"`

	// ClaimedBy and ClaimExpiresAt implement the lease on the due-time
	// index: a claimed enrollment is invisible to other scheduler workers
	// until the lease expires or is released.
	ClaimedBy      string     `json:"claimed_by,omitempty"`
	ClaimExpiresAt *time.Time `json:"claim_expires_at,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// StageRecord is one append-only entry in an enrollment's stage history.
type StageRecord struct {
	StageID     string          `json:"stage_id"`
	StageOrder  int             `json:"stage_order"`
	EnteredAt   time.Time       `json:"entered_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	Skipped     bool            `json:"skipped,omitempty"`
	Outcomes    []ActionOutcome `json:"outcomes,omitempty"`
}

// EnrollmentMetrics accumulates engagement attributed to the enrollment.
type EnrollmentMetrics struct {
	Opens       int64   `json:"opens"`
	Clicks      int64   `json:"clicks"`
	Conversions int64   `json:"conversions"`
	Revenue     float64 `json:"revenue"`
}

// CanTransitionTo reports whether the state machine allows moving from s
// to next. Completed and Exited are terminal; Paused only resumes to
// Active.
func (s EnrollmentStatus) CanTransitionTo(next EnrollmentStatus) bool {
	switch s {
	case EnrollmentStatusActive:
		return next == EnrollmentStatusPaused ||
			next == EnrollmentStatusCompleted ||
			next == EnrollmentStatusExited
	case EnrollmentStatusPaused:
		return next == EnrollmentStatusActive
	default:
		return false
	}
}

// IsTerminal reports whether no further transitions are possible without
// operator intervention.
func (s EnrollmentStatus) IsTerminal() bool {
	return s == EnrollmentStatusCompleted || s == EnrollmentStatusExited
}

// Transition moves the enrollment to the next status, enforcing the state
// machine.
func (e *Enrollment) Transition(next EnrollmentStatus) error {
	if !e.Status.CanTransitionTo(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, e.Status, next)
	}

	e.Status = next

	return nil
}

// AdvanceStage moves the enrollment to the given stage with the given due
// time. The current stage is monotonically non-decreasing for the life of
// the enrollment.
func (e *Enrollment) AdvanceStage(stage int, dueAt time.Time) error {
	if stage < e.CurrentStage {
		return fmt.Errorf("%w: %d -> %d", ErrStageRegression, e.CurrentStage, stage)
	}

	e.CurrentStage = stage
	e.DueAt = dueAt

	return nil
}

// RecordStage appends a stage record to the history.
func (e *Enrollment) RecordStage(record StageRecord) {
	e.StageHistory = append(e.StageHistory, record)
}

// Claimed reports whether the enrollment currently holds an unexpired lease.
func (e *Enrollment) Claimed(now time.Time) bool {
	return e.ClaimedBy != "" && e.ClaimExpiresAt != nil && e.ClaimExpiresAt.After(now)
}
