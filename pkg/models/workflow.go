// Package models defines the core domain models for the journey automation engine.
package models

import (
	"errors"
	"fmt"
	"time"
)

// WorkflowStatus represents the lifecycle state of a workflow definition.
type WorkflowStatus string

const (
	WorkflowStatusDraft    WorkflowStatus = "draft"    // Editable, not matching triggers
	WorkflowStatusActive   WorkflowStatus = "active"   // Frozen, matching triggers
	WorkflowStatusInactive WorkflowStatus = "inactive" // Frozen, no new enrollments
)

var (
	// ErrNoStages indicates a workflow definition without stages.
	ErrNoStages = errors.New("workflow must have at least one stage")

	// ErrStageOrder indicates stage order values are not contiguous from zero.
	ErrStageOrder = errors.New("stage order values must be contiguous from 0")

	// ErrNegativeDelay indicates a stage with a negative delay.
	ErrNegativeDelay = errors.New("stage delay must not be negative")

	// ErrMissingTrigger indicates a workflow definition without a trigger type.
	ErrMissingTrigger = errors.New("workflow trigger type is required")
)

// WorkflowDefinition is the reusable template of stages, actions and
// conditions that subjects are enrolled into when its trigger fires.
//
// Once activated a definition is frozen: existing enrollments pin the
// (ID, Version) pair they started with, and edits go into a new version.
type WorkflowDefinition struct {
	ID              string             `json:"id"`
	TenantID        string             `json:"tenant_id"        validate:"required"`
	Version         int                `json:"version"`
	Name            string             `json:"name"             validate:"required,min=3"`
	Description     string             `json:"description"`
	Status          WorkflowStatus     `json:"status"`
	Trigger         Trigger            `json:"trigger"`
	EntryConditions []Condition        `json:"entry_conditions,omitempty"`
	Stages          []*Stage           `json:"stages"`
	Analytics       WorkflowAnalytics  `json:"analytics"`
	CreatedAt       time.Time          `json:"created_at"`
	UpdatedAt       time.Time          `json:"updated_at"`
	ActivatedAt     *time.Time         `json:"activated_at,omitempty"`
}

// Stage is one ordered step of a workflow, executed after Delay has elapsed
// since the previous stage completed. Stage 0 always runs immediately.
type Stage struct {
	ID                 string       `json:"id"`
	Order              int          `json:"order"`
	Delay              Duration     `json:"delay"`
	Actions            []ActionSpec `json:"actions"`
	ContinueConditions []Condition  `json:"continue_conditions,omitempty"`
	ExitConditions     []Condition  `json:"exit_conditions,omitempty"`
}

// EffectiveDelay returns the delay to apply before this stage runs.
// Stage 0 is always immediate regardless of the stored delay.
func (s *Stage) EffectiveDelay() time.Duration {
	if s.Order == 0 {
		return 0
	}

	return time.Duration(s.Delay)
}

// Validate checks the structural invariants of a workflow definition.
// A definition that fails validation is rejected at creation time and
// never reaches an enrollment.
func (w *WorkflowDefinition) Validate() error {
	if w.Trigger.Type == "" {
		return ErrMissingTrigger
	}

	if len(w.Stages) == 0 {
		return ErrNoStages
	}

	for i, stage := range w.Stages {
		if stage.Order != i {
			return fmt.Errorf("stage %q has order %d, expected %d: %w", stage.ID, stage.Order, i, ErrStageOrder)
		}

		if stage.Delay < 0 {
			return fmt.Errorf("stage %q: %w", stage.ID, ErrNegativeDelay)
		}

		for j, spec := range stage.Actions {
			if spec.Action == nil {
				return fmt.Errorf("stage %q action %d is empty: %w", stage.ID, j, ErrUnknownActionType)
			}

			if err := spec.Action.Validate(); err != nil {
				return fmt.Errorf("stage %q action %d: %w", stage.ID, j, err)
			}
		}

		for _, cond := range append(stage.ContinueConditions, stage.ExitConditions...) {
			if !cond.Operator.IsValid() {
				return fmt.Errorf("stage %q: %w: %q", stage.ID, ErrInvalidOperator, cond.Operator)
			}
		}
	}

	for _, cond := range w.EntryConditions {
		if !cond.Operator.IsValid() {
			return fmt.Errorf("entry condition: %w: %q", ErrInvalidOperator, cond.Operator)
		}
	}

	return nil
}

// StageAt returns the stage at the given order, or nil when out of range.
func (w *WorkflowDefinition) StageAt(order int) *Stage {
	if order < 0 || order >= len(w.Stages) {
		return nil
	}

	return w.Stages[order]
}

// IsActive reports whether the definition accepts new enrollments and
// stage advances.
func (w *WorkflowDefinition) IsActive() bool {
	return w.Status == WorkflowStatusActive
}

// NewVersion clones the definition into a fresh draft with Version+1.
// Analytics counters start at zero; the clone shares no mutable state
// with the original.
func (w *WorkflowDefinition) NewVersion() *WorkflowDefinition {
	clone := *w
	clone.Version = w.Version + 1
	clone.Status = WorkflowStatusDraft
	clone.Analytics = WorkflowAnalytics{}
	clone.ActivatedAt = nil

	clone.EntryConditions = append([]Condition(nil), w.EntryConditions...)

	clone.Stages = make([]*Stage, len(w.Stages))
	for i, stage := range w.Stages {
		s := *stage
		s.Actions = append([]ActionSpec(nil), stage.Actions...)
		s.ContinueConditions = append([]Condition(nil), stage.ContinueConditions...)
		s.ExitConditions = append([]Condition(nil), stage.ExitConditions...)
		clone.Stages[i] = &s
	}

	return &clone
}
