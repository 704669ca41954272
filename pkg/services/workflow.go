package services

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/bloomcrm/journey/pkg/cache"
	"github.com/bloomcrm/journey/pkg/models"
	"github.com/bloomcrm/journey/pkg/persistence"
)

var (
	// ErrWorkflowNotFound is returned when a workflow definition is not found.
	ErrWorkflowNotFound = persistence.ErrWorkflowNotFound

	// ErrWorkflowVersionNotFound is returned when a pinned version is missing.
	ErrWorkflowVersionNotFound = persistence.ErrWorkflowVersionNotFound
)

// Workflow manages the lifecycle of versioned workflow definitions. Draft
// versions are editable; activation freezes a version and further edits go
// through NewVersion.
type Workflow struct {
	persistence persistence.Persistence
	definitions cache.DefinitionCache
	validator   *validator.Validate
}

// NewWorkflow creates a new workflow service. The definition cache may be
// nil when no caching layer is configured.
func NewWorkflow(persistence persistence.Persistence, definitions cache.DefinitionCache) *Workflow {
	return &Workflow{
		persistence: persistence,
		definitions: definitions,
		validator:   validator.New(),
	}
}

// HealthCheck checks the health of the persistence layer.
func (w *Workflow) HealthCheck(ctx context.Context) (string, bool) {
	if w.persistence == nil {
		return "Persistence layer not initialized", false
	}

	err := w.persistence.HealthCheck(ctx)
	if err != nil {
		return "Persistence layer is unhealthy: " + err.Error(), false
	}

	return "Persistence layer is healthy", true
}

// ListWorkflowsRequest contains options for listing workflow definitions.
type ListWorkflowsRequest struct {
	TenantID string
	Status   *models.WorkflowStatus

	Limit  int `validate:"min=0,max=100"`
	Offset int `validate:"min=0"`
}

// List retrieves the latest version of each definition matching the request.
func (w *Workflow) List(ctx context.Context, req ListWorkflowsRequest) ([]*models.WorkflowDefinition, error) {
	if err := w.validateListRequest(&req); err != nil {
		return nil, err
	}

	defs, err := w.persistence.Workflows().List(ctx, persistence.ListWorkflowsOptions{
		TenantID: req.TenantID,
		Status:   req.Status,
		Limit:    req.Limit,
		Offset:   req.Offset,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list workflows: %w", err)
	}

	return defs, nil
}

func (w *Workflow) validateListRequest(req *ListWorkflowsRequest) error {
	if req.Limit <= 0 {
		req.Limit = 20
	}

	if req.Limit > 100 {
		req.Limit = 100
	}

	if req.Offset < 0 {
		req.Offset = 0
	}

	if req.Status != nil {
		allowed := []models.WorkflowStatus{
			models.WorkflowStatusDraft,
			models.WorkflowStatusActive,
			models.WorkflowStatusInactive,
		}

		if !slices.Contains(allowed, *req.Status) {
			return NewValidationError(
				"validateListRequest",
				"INVALID_STATUS",
				fmt.Sprintf("invalid status '%s'", *req.Status),
				ErrInvalidStatus,
			)
		}
	}

	return nil
}

// FetchByID retrieves the latest version of a workflow definition.
func (w *Workflow) FetchByID(ctx context.Context, id string) (*models.WorkflowDefinition, error) {
	def, err := w.persistence.Workflows().GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if def == nil {
		return nil, ErrWorkflowNotFound
	}

	return def, nil
}

// FetchVersion retrieves one pinned version of a workflow definition.
func (w *Workflow) FetchVersion(ctx context.Context, id string, version int) (*models.WorkflowDefinition, error) {
	def, err := w.persistence.Workflows().GetVersion(ctx, id, version)
	if err != nil {
		return nil, err
	}

	if def == nil {
		return nil, ErrWorkflowVersionNotFound
	}

	return def, nil
}

// Create adds a new workflow definition as version 1 in draft status.
func (w *Workflow) Create(ctx context.Context, def *models.WorkflowDefinition) (*models.WorkflowDefinition, error) {
	now := time.Now().UTC()
	def.ID = uuid.New().String()
	def.Version = 1
	def.Status = models.WorkflowStatusDraft
	def.Analytics = models.WorkflowAnalytics{}
	def.ActivatedAt = nil
	def.CreatedAt = now
	def.UpdatedAt = now

	if err := w.validateDefinition("Create", def); err != nil {
		return nil, err
	}

	if err := w.persistence.Workflows().Save(ctx, def); err != nil {
		return nil, fmt.Errorf("failed to create workflow: %w", err)
	}

	return def, nil
}

// Update modifies the latest version of a definition. Only draft versions
// are editable; an activated version is frozen and must be cloned with
// NewVersion first.
func (w *Workflow) Update(
	ctx context.Context,
	workflowID string,
	def *models.WorkflowDefinition,
) (*models.WorkflowDefinition, error) {
	existing, err := w.persistence.Workflows().GetByID(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	if existing.Status != models.WorkflowStatusDraft {
		return nil, &ServiceError{
			Op:      "Update",
			Code:    "DEFINITION_FROZEN",
			Message: fmt.Sprintf("version %d is %s, clone it with a new version to edit", existing.Version, existing.Status),
			Err:     ErrDefinitionFrozen,
		}
	}

	def.ID = workflowID
	def.TenantID = existing.TenantID
	def.Version = existing.Version
	def.Status = existing.Status
	def.Analytics = existing.Analytics
	def.ActivatedAt = nil
	def.CreatedAt = existing.CreatedAt
	def.UpdatedAt = time.Now().UTC()

	if err := w.validateDefinition("Update", def); err != nil {
		return nil, err
	}

	if err := w.persistence.Workflows().Save(ctx, def); err != nil {
		return nil, fmt.Errorf("failed to update workflow: %w", err)
	}

	return def, nil
}

// NewVersion clones the latest version of a definition into a fresh
// editable draft with the next version number.
func (w *Workflow) NewVersion(ctx context.Context, workflowID string) (*models.WorkflowDefinition, error) {
	existing, err := w.persistence.Workflows().GetByID(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	clone := existing.NewVersion()
	now := time.Now().UTC()
	clone.CreatedAt = now
	clone.UpdatedAt = now

	if err := w.persistence.Workflows().Save(ctx, clone); err != nil {
		return nil, fmt.Errorf("failed to save new version: %w", err)
	}

	return clone, nil
}

// Activate freezes a draft version and starts matching its trigger. Any
// other active version of the same definition is deactivated so triggers
// enroll against exactly one version.
func (w *Workflow) Activate(ctx context.Context, workflowID string, version int) (*models.WorkflowDefinition, error) {
	def, err := w.persistence.Workflows().GetVersion(ctx, workflowID, version)
	if err != nil {
		return nil, err
	}

	if def.Status == models.WorkflowStatusActive {
		return def, nil
	}

	if def.Status != models.WorkflowStatusDraft {
		return nil, &ServiceError{
			Op:      "Activate",
			Code:    "NOT_DRAFT",
			Message: fmt.Sprintf("version %d is %s", version, def.Status),
			Err:     ErrNotDraft,
		}
	}

	if err := w.validateDefinition("Activate", def); err != nil {
		return nil, err
	}

	latest, err := w.persistence.Workflows().GetByID(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	// Demote whichever older version is currently live. Versions are
	// small contiguous integers so the walk stays cheap.
	for v := latest.Version; v >= 1; v-- {
		if v == version {
			continue
		}

		prior, err := w.persistence.Workflows().GetVersion(ctx, workflowID, v)
		if err != nil {
			return nil, err
		}

		if prior.Status != models.WorkflowStatusActive {
			continue
		}

		prior.Status = models.WorkflowStatusInactive
		prior.UpdatedAt = time.Now().UTC()

		if err := w.persistence.Workflows().Save(ctx, prior); err != nil {
			return nil, fmt.Errorf("failed to deactivate version %d: %w", v, err)
		}
	}

	now := time.Now().UTC()
	def.Status = models.WorkflowStatusActive
	def.ActivatedAt = &now
	def.UpdatedAt = now

	if err := w.persistence.Workflows().Save(ctx, def); err != nil {
		return nil, fmt.Errorf("failed to activate workflow: %w", err)
	}

	w.invalidate(ctx, workflowID)

	return def, nil
}

// Deactivate stops an active version from matching triggers. In-flight
// enrollments pinned to it are held by the scheduler until reactivation.
func (w *Workflow) Deactivate(ctx context.Context, workflowID string, version int) (*models.WorkflowDefinition, error) {
	def, err := w.persistence.Workflows().GetVersion(ctx, workflowID, version)
	if err != nil {
		return nil, err
	}

	if def.Status != models.WorkflowStatusActive {
		return nil, &ServiceError{
			Op:      "Deactivate",
			Code:    "NOT_ACTIVE",
			Message: fmt.Sprintf("version %d is %s", version, def.Status),
			Err:     ErrNotActive,
		}
	}

	def.Status = models.WorkflowStatusInactive
	def.UpdatedAt = time.Now().UTC()

	if err := w.persistence.Workflows().Save(ctx, def); err != nil {
		return nil, fmt.Errorf("failed to deactivate workflow: %w", err)
	}

	w.invalidate(ctx, workflowID)

	return def, nil
}

// Analytics returns the aggregate counters of one definition version.
func (w *Workflow) Analytics(ctx context.Context, workflowID string, version int) (*models.WorkflowAnalytics, error) {
	def, err := w.persistence.Workflows().GetVersion(ctx, workflowID, version)
	if err != nil {
		return nil, err
	}

	return &def.Analytics, nil
}

func (w *Workflow) validateDefinition(op string, def *models.WorkflowDefinition) error {
	if err := w.validator.Struct(def); err != nil {
		return NewValidationError(op, "INVALID_DEFINITION", err.Error(), ErrInvalidRequest)
	}

	if err := def.Validate(); err != nil {
		return NewValidationError(op, "INVALID_DEFINITION", err.Error(), ErrInvalidRequest)
	}

	return nil
}

func (w *Workflow) invalidate(ctx context.Context, workflowID string) {
	if w.definitions == nil {
		return
	}

	// Invalidation failure is not fatal, cached entries expire by TTL.
	_ = w.definitions.Invalidate(ctx, workflowID)
}
