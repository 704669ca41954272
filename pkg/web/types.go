// Package web provides HTTP request and response types for the journey API.
package web

import "github.com/bloomcrm/journey/pkg/models"

// CreateWorkflowRequest represents the request body for creating a new
// workflow definition. The definition starts as version 1 in draft status.
type CreateWorkflowRequest struct {
	TenantID        string             `json:"tenant_id"   validate:"required"`
	Name            string             `json:"name"        validate:"required,min=3"`
	Description     string             `json:"description"`
	Trigger         models.Trigger     `json:"trigger"     validate:"required"`
	EntryConditions []models.Condition `json:"entry_conditions,omitempty"`
	Stages          []*models.Stage    `json:"stages"      validate:"required,min=1"`
}

// UpdateWorkflowRequest represents the request body for editing a draft
// version. All fields are optional to support partial updates.
type UpdateWorkflowRequest struct {
	Name            *string            `json:"name,omitempty"        validate:"omitempty,min=3"`
	Description     *string            `json:"description,omitempty"`
	Trigger         *models.Trigger    `json:"trigger,omitempty"`
	EntryConditions []models.Condition `json:"entry_conditions,omitempty"`
	Stages          []*models.Stage    `json:"stages,omitempty"`
}

// SubmitTriggerResponse acknowledges an accepted trigger event before
// dispatch happens.
type SubmitTriggerResponse struct {
	EventID string `json:"event_id"`
	Status  string `json:"status"`
}

// ResumeEnrollmentRequest represents the request body for resuming a
// paused enrollment.
type ResumeEnrollmentRequest struct {
	ResumedBy string `json:"resumed_by,omitempty"`
}

// PauseEnrollmentRequest represents the request body for pausing an
// active enrollment.
type PauseEnrollmentRequest struct {
	Reason string `json:"reason,omitempty"`
}

// Definition applies a create request onto a fresh workflow definition.
func (r CreateWorkflowRequest) Definition() *models.WorkflowDefinition {
	return &models.WorkflowDefinition{
		TenantID:        r.TenantID,
		Name:            r.Name,
		Description:     r.Description,
		Trigger:         r.Trigger,
		EntryConditions: r.EntryConditions,
		Stages:          r.Stages,
	}
}

// Apply merges a partial update onto an existing draft definition.
func (r UpdateWorkflowRequest) Apply(def *models.WorkflowDefinition) {
	if r.Name != nil {
		def.Name = *r.Name
	}

	if r.Description != nil {
		def.Description = *r.Description
	}

	if r.Trigger != nil {
		def.Trigger = *r.Trigger
	}

	if r.EntryConditions != nil {
		def.EntryConditions = r.EntryConditions
	}

	if r.Stages != nil {
		def.Stages = r.Stages
	}
}
