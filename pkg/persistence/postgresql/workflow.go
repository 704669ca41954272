package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bloomcrm/journey/pkg/models"
	"github.com/bloomcrm/journey/pkg/persistence"
)

// WorkflowRepository handles workflow definition rows, keyed by
// (id, version). Stages, trigger and conditions are stored as JSONB;
// analytics counters as plain columns so they can be incremented in SQL.
type WorkflowRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

const workflowColumns = `
	id
  , version
  , tenant_id
  , name
  , description
  , status
  , trigger
  , entry_conditions
  , stages
  , triggered
  , completed
  , exited
  , revenue
  , created_at
  , updated_at
  , activated_at
`

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *WorkflowRepository) scanWorkflow(row rowScanner) (*models.WorkflowDefinition, error) {
	var (
		def            models.WorkflowDefinition
		triggerJSON    []byte
		conditionsJSON []byte
		stagesJSON     []byte
	)

	err := row.Scan(
		&def.ID,
		&def.Version,
		&def.TenantID,
		&def.Name,
		&def.Description,
		&def.Status,
		&triggerJSON,
		&conditionsJSON,
		&stagesJSON,
		&def.Analytics.Triggered,
		&def.Analytics.Completed,
		&def.Analytics.Exited,
		&def.Analytics.Revenue,
		&def.CreatedAt,
		&def.UpdatedAt,
		&def.ActivatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(triggerJSON, &def.Trigger); err != nil {
		return nil, fmt.Errorf("failed to unmarshal trigger: %w", err)
	}

	if conditionsJSON != nil {
		if err := json.Unmarshal(conditionsJSON, &def.EntryConditions); err != nil {
			return nil, fmt.Errorf("failed to unmarshal entry conditions: %w", err)
		}
	}

	if err := json.Unmarshal(stagesJSON, &def.Stages); err != nil {
		return nil, fmt.Errorf("failed to unmarshal stages: %w", err)
	}

	if def.Analytics.Triggered > 0 {
		def.Analytics.ConversionRate = float64(def.Analytics.Completed) / float64(def.Analytics.Triggered)
	}

	return &def, nil
}

// Save upserts one definition version.
func (r *WorkflowRepository) Save(ctx context.Context, def *models.WorkflowDefinition) error {
	now := time.Now().UTC()

	if def.CreatedAt.IsZero() {
		def.CreatedAt = now
	}

	def.UpdatedAt = now

	triggerJSON, err := json.Marshal(def.Trigger)
	if err != nil {
		return persistence.NewWorkflowError("Save", def.ID, err)
	}

	conditionsJSON, err := json.Marshal(def.EntryConditions)
	if err != nil {
		return persistence.NewWorkflowError("Save", def.ID, err)
	}

	stagesJSON, err := json.Marshal(def.Stages)
	if err != nil {
		return persistence.NewWorkflowError("Save", def.ID, err)
	}

	query := `
		INSERT INTO workflows (id, version, tenant_id, name, description, status,
			trigger, entry_conditions, stages, triggered, completed, exited, revenue,
			created_at, updated_at, activated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (id, version) DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			status = EXCLUDED.status,
			trigger = EXCLUDED.trigger,
			entry_conditions = EXCLUDED.entry_conditions,
			stages = EXCLUDED.stages,
			updated_at = EXCLUDED.updated_at,
			activated_at = EXCLUDED.activated_at
	`

	_, err = r.db.ExecContext(ctx, query,
		def.ID,
		def.Version,
		def.TenantID,
		def.Name,
		def.Description,
		def.Status,
		triggerJSON,
		conditionsJSON,
		stagesJSON,
		def.Analytics.Triggered,
		def.Analytics.Completed,
		def.Analytics.Exited,
		def.Analytics.Revenue,
		def.CreatedAt,
		def.UpdatedAt,
		def.ActivatedAt,
	)
	if err != nil {
		return persistence.NewWorkflowError("Save", def.ID, err)
	}

	return nil
}

// GetByID returns the highest version of the definition.
func (r *WorkflowRepository) GetByID(ctx context.Context, id string) (*models.WorkflowDefinition, error) {
	query := `SELECT ` + workflowColumns + ` FROM workflows WHERE id = $1 ORDER BY version DESC LIMIT 1`

	def, err := r.scanWorkflow(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewWorkflowError("GetByID", id, persistence.ErrWorkflowNotFound)
		}

		return nil, persistence.NewWorkflowError("GetByID", id, err)
	}

	return def, nil
}

// GetVersion returns one pinned definition version.
func (r *WorkflowRepository) GetVersion(ctx context.Context, id string, version int) (*models.WorkflowDefinition, error) {
	query := `SELECT ` + workflowColumns + ` FROM workflows WHERE id = $1 AND version = $2`

	def, err := r.scanWorkflow(r.db.QueryRowContext(ctx, query, id, version))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewWorkflowError("GetVersion", id, persistence.ErrWorkflowVersionNotFound)
		}

		return nil, persistence.NewWorkflowError("GetVersion", id, err)
	}

	return def, nil
}

func (r *WorkflowRepository) queryWorkflows(ctx context.Context, query string, args ...any) ([]*models.WorkflowDefinition, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query workflows: %w", err)
	}

	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.Error("failed to close rows", "error", err)
		}
	}()

	defs := make([]*models.WorkflowDefinition, 0)

	for rows.Next() {
		def, err := r.scanWorkflow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan workflow: %w", err)
		}

		defs = append(defs, def)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating workflows: %w", err)
	}

	return defs, nil
}

// List returns definitions filtered and paginated.
func (r *WorkflowRepository) List(ctx context.Context, opts persistence.ListWorkflowsOptions) ([]*models.WorkflowDefinition, error) {
	if opts.Limit <= 0 || opts.Limit > 100 {
		opts.Limit = 20
	}

	query := `SELECT ` + workflowColumns + `
		FROM workflows
		WHERE ($1 = '' OR tenant_id = $1)
		  AND ($2 = '' OR status = $2)
		ORDER BY created_at DESC, version DESC
		LIMIT $3 OFFSET $4`

	status := ""
	if opts.Status != nil {
		status = string(*opts.Status)
	}

	return r.queryWorkflows(ctx, query, opts.TenantID, status, opts.Limit, opts.Offset)
}

// ActiveByTriggerType returns active definitions matching the trigger type.
func (r *WorkflowRepository) ActiveByTriggerType(ctx context.Context, tenantID, triggerType string) ([]*models.WorkflowDefinition, error) {
	query := `SELECT ` + workflowColumns + `
		FROM workflows
		WHERE tenant_id = $1
		  AND status = 'active'
		  AND trigger->>'type' = $2
		ORDER BY created_at`

	return r.queryWorkflows(ctx, query, tenantID, triggerType)
}

// Scheduled returns active definitions carrying a cron schedule.
func (r *WorkflowRepository) Scheduled(ctx context.Context) ([]*models.WorkflowDefinition, error) {
	query := `SELECT ` + workflowColumns + `
		FROM workflows
		WHERE status = 'active'
		  AND COALESCE(trigger->>'schedule', '') <> ''
		ORDER BY created_at`

	return r.queryWorkflows(ctx, query)
}

// IncrementAnalytics applies a counter delta in a single statement.
func (r *WorkflowRepository) IncrementAnalytics(ctx context.Context, id string, version int, delta models.AnalyticsDelta) error {
	query := `
		UPDATE workflows SET
			triggered = triggered + $3,
			completed = completed + $4,
			exited = exited + $5,
			revenue = revenue + $6,
			updated_at = NOW()
		WHERE id = $1 AND version = $2
	`

	result, err := r.db.ExecContext(ctx, query, id, version, delta.Triggered, delta.Completed, delta.Exited, delta.Revenue)
	if err != nil {
		return persistence.NewWorkflowError("IncrementAnalytics", id, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return persistence.NewWorkflowError("IncrementAnalytics", id, err)
	}

	if affected == 0 {
		return persistence.NewWorkflowError("IncrementAnalytics", id, persistence.ErrWorkflowVersionNotFound)
	}

	return nil
}
