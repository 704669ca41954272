package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"

	"github.com/bloomcrm/journey/pkg/models"
	"github.com/bloomcrm/journey/pkg/persistence"
)

// EnrollmentRepository handles enrollment rows. The same table serves as
// the due-time index; ClaimDue relies on FOR UPDATE SKIP LOCKED so
// concurrent workers never claim the same row.
type EnrollmentRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

const uniqueViolation = "23505"

const enrollmentColumns = `
	id
  , tenant_id
  , subject_id
  , workflow_id
  , workflow_version
  , current_stage
  , status
  , due_at
  , stage_history
  , metrics
  , failures
  , pause_reason
  , claimed_by
  , claim_expires_at
  , created_at
  , updated_at
  , completed_at
`

func scanEnrollment(row rowScanner) (*models.Enrollment, error) {
	var (
		enrollment  models.Enrollment
		historyJSON []byte
		metricsJSON []byte
		claimedBy   sql.NullString
	)

	err := row.Scan(
		&enrollment.ID,
		&enrollment.TenantID,
		&enrollment.SubjectID,
		&enrollment.WorkflowID,
		&enrollment.WorkflowVersion,
		&enrollment.CurrentStage,
		&enrollment.Status,
		&enrollment.DueAt,
		&historyJSON,
		&metricsJSON,
		&enrollment.Failures,
		&enrollment.PauseReason,
		&claimedBy,
		&enrollment.ClaimExpiresAt,
		&enrollment.CreatedAt,
		&enrollment.UpdatedAt,
		&enrollment.CompletedAt,
	)
	if err != nil {
		return nil, err
	}

	enrollment.ClaimedBy = claimedBy.String

	if historyJSON != nil {
		if err := json.Unmarshal(historyJSON, &enrollment.StageHistory); err != nil {
			return nil, fmt.Errorf("failed to unmarshal stage history: %w", err)
		}
	}

	if metricsJSON != nil {
		if err := json.Unmarshal(metricsJSON, &enrollment.Metrics); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metrics: %w", err)
		}
	}

	return &enrollment, nil
}

// Create inserts the enrollment. The partial unique index on active rows
// turns a duplicate active enrollment into ErrEnrollmentExists.
func (r *EnrollmentRepository) Create(ctx context.Context, enrollment *models.Enrollment) error {
	if err := r.insert(ctx, r.db, enrollment); err != nil {
		return persistence.NewEnrollmentError("Create", enrollment.ID, err)
	}

	return nil
}

// CreateWithAnalytics inserts the enrollment and applies the workflow
// analytics delta in a single transaction.
func (r *EnrollmentRepository) CreateWithAnalytics(ctx context.Context, enrollment *models.Enrollment, delta models.AnalyticsDelta) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return persistence.NewEnrollmentError("CreateWithAnalytics", enrollment.ID, err)
	}

	defer func() {
		_ = tx.Rollback()
	}()

	if err := r.insert(ctx, tx, enrollment); err != nil {
		return persistence.NewEnrollmentError("CreateWithAnalytics", enrollment.ID, err)
	}

	if err := applyAnalyticsDelta(ctx, tx, enrollment.WorkflowID, enrollment.WorkflowVersion, delta); err != nil {
		return persistence.NewEnrollmentError("CreateWithAnalytics", enrollment.ID, err)
	}

	if err := tx.Commit(); err != nil {
		return persistence.NewEnrollmentError("CreateWithAnalytics", enrollment.ID, err)
	}

	return nil
}

func (r *EnrollmentRepository) insert(ctx context.Context, db execer, enrollment *models.Enrollment) error {
	now := time.Now().UTC()

	if enrollment.CreatedAt.IsZero() {
		enrollment.CreatedAt = now
	}

	enrollment.UpdatedAt = now

	historyJSON, metricsJSON, err := marshalEnrollmentJSON(enrollment)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO enrollments (id, tenant_id, subject_id, workflow_id,
			workflow_version, current_stage, status, due_at, stage_history,
			metrics, failures, pause_reason, claimed_by, claim_expires_at,
			created_at, updated_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`

	_, err = db.ExecContext(ctx, query,
		enrollment.ID,
		enrollment.TenantID,
		enrollment.SubjectID,
		enrollment.WorkflowID,
		enrollment.WorkflowVersion,
		enrollment.CurrentStage,
		enrollment.Status,
		enrollment.DueAt,
		historyJSON,
		metricsJSON,
		enrollment.Failures,
		enrollment.PauseReason,
		nullString(enrollment.ClaimedBy),
		enrollment.ClaimExpiresAt,
		enrollment.CreatedAt,
		enrollment.UpdatedAt,
		enrollment.CompletedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation {
			return persistence.ErrEnrollmentExists
		}

		return err
	}

	return nil
}

// Update persists the enrollment's mutable fields.
func (r *EnrollmentRepository) Update(ctx context.Context, enrollment *models.Enrollment) error {
	if err := r.update(ctx, r.db, enrollment); err != nil {
		return persistence.NewEnrollmentError("Update", enrollment.ID, err)
	}

	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (r *EnrollmentRepository) update(ctx context.Context, db execer, enrollment *models.Enrollment) error {
	enrollment.UpdatedAt = time.Now().UTC()

	historyJSON, metricsJSON, err := marshalEnrollmentJSON(enrollment)
	if err != nil {
		return err
	}

	query := `
		UPDATE enrollments SET
			current_stage = $2,
			status = $3,
			due_at = $4,
			stage_history = $5,
			metrics = $6,
			failures = $7,
			pause_reason = $8,
			claimed_by = $9,
			claim_expires_at = $10,
			updated_at = $11,
			completed_at = $12
		WHERE id = $1
	`

	result, err := db.ExecContext(ctx, query,
		enrollment.ID,
		enrollment.CurrentStage,
		enrollment.Status,
		enrollment.DueAt,
		historyJSON,
		metricsJSON,
		enrollment.Failures,
		enrollment.PauseReason,
		nullString(enrollment.ClaimedBy),
		enrollment.ClaimExpiresAt,
		enrollment.UpdatedAt,
		enrollment.CompletedAt,
	)
	if err != nil {
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if affected == 0 {
		return persistence.ErrEnrollmentNotFound
	}

	return nil
}

// UpdateWithAnalytics writes the enrollment and applies the workflow
// analytics delta in a single transaction.
func (r *EnrollmentRepository) UpdateWithAnalytics(ctx context.Context, enrollment *models.Enrollment, delta models.AnalyticsDelta) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return persistence.NewEnrollmentError("UpdateWithAnalytics", enrollment.ID, err)
	}

	defer func() {
		_ = tx.Rollback()
	}()

	if err := r.update(ctx, tx, enrollment); err != nil {
		return persistence.NewEnrollmentError("UpdateWithAnalytics", enrollment.ID, err)
	}

	if err := applyAnalyticsDelta(ctx, tx, enrollment.WorkflowID, enrollment.WorkflowVersion, delta); err != nil {
		return persistence.NewEnrollmentError("UpdateWithAnalytics", enrollment.ID, err)
	}

	if err := tx.Commit(); err != nil {
		return persistence.NewEnrollmentError("UpdateWithAnalytics", enrollment.ID, err)
	}

	return nil
}

// applyAnalyticsDelta adds the counter delta to one workflow version within
// the caller's transaction.
func applyAnalyticsDelta(ctx context.Context, db execer, workflowID string, version int, delta models.AnalyticsDelta) error {
	if delta.IsZero() {
		return nil
	}

	query := `
		UPDATE workflows SET
			triggered = triggered + $3,
			completed = completed + $4,
			exited = exited + $5,
			revenue = revenue + $6,
			updated_at = NOW()
		WHERE id = $1 AND version = $2
	`

	result, err := db.ExecContext(ctx, query,
		workflowID,
		version,
		delta.Triggered,
		delta.Completed,
		delta.Exited,
		delta.Revenue,
	)
	if err != nil {
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if affected == 0 {
		return persistence.ErrWorkflowVersionNotFound
	}

	return nil
}

// GetByID returns one enrollment.
func (r *EnrollmentRepository) GetByID(ctx context.Context, id string) (*models.Enrollment, error) {
	query := `SELECT ` + enrollmentColumns + ` FROM enrollments WHERE id = $1`

	enrollment, err := scanEnrollment(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewEnrollmentError("GetByID", id, persistence.ErrEnrollmentNotFound)
		}

		return nil, persistence.NewEnrollmentError("GetByID", id, err)
	}

	return enrollment, nil
}

// ActiveBySubject returns the subject's active enrollment on the workflow.
func (r *EnrollmentRepository) ActiveBySubject(ctx context.Context, tenantID, workflowID, subjectID string) (*models.Enrollment, error) {
	query := `SELECT ` + enrollmentColumns + `
		FROM enrollments
		WHERE tenant_id = $1 AND workflow_id = $2 AND subject_id = $3 AND status = 'active'`

	enrollment, err := scanEnrollment(r.db.QueryRowContext(ctx, query, tenantID, workflowID, subjectID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewEnrollmentError("ActiveBySubject", subjectID, persistence.ErrEnrollmentNotFound)
		}

		return nil, persistence.NewEnrollmentError("ActiveBySubject", subjectID, err)
	}

	return enrollment, nil
}

// HasBySubject reports whether the subject was ever enrolled on the
// workflow, in any status.
func (r *EnrollmentRepository) HasBySubject(ctx context.Context, tenantID, workflowID, subjectID string) (bool, error) {
	query := `SELECT EXISTS (
		SELECT 1 FROM enrollments
		WHERE tenant_id = $1 AND workflow_id = $2 AND subject_id = $3
	)`

	var exists bool
	if err := r.db.QueryRowContext(ctx, query, tenantID, workflowID, subjectID).Scan(&exists); err != nil {
		return false, persistence.NewEnrollmentError("HasBySubject", subjectID, err)
	}

	return exists, nil
}

// ListByWorkflow returns every enrollment on the workflow, newest first.
func (r *EnrollmentRepository) ListByWorkflow(ctx context.Context, workflowID string) ([]*models.Enrollment, error) {
	query := `SELECT ` + enrollmentColumns + `
		FROM enrollments
		WHERE workflow_id = $1
		ORDER BY created_at DESC`

	return r.queryEnrollments(ctx, query, workflowID)
}

// ClaimDue claims up to limit due enrollments for the worker. SKIP LOCKED
// keeps concurrent workers from blocking on or double-claiming rows.
func (r *EnrollmentRepository) ClaimDue(ctx context.Context, workerID string, now time.Time, limit int, leaseTTL time.Duration) ([]*models.Enrollment, error) {
	if limit <= 0 {
		limit = 10
	}

	query := `
		UPDATE enrollments SET
			claimed_by = $1,
			claim_expires_at = $2,
			updated_at = $2
		WHERE id IN (
			SELECT id FROM enrollments
			WHERE status = 'active'
			  AND due_at <= $3
			  AND (claimed_by IS NULL OR claim_expires_at <= $3 OR claimed_by = $1)
			ORDER BY due_at
			LIMIT $4
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + enrollmentColumns

	expiresAt := now.Add(leaseTTL)

	rows, err := r.db.QueryContext(ctx, query, workerID, expiresAt, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to claim due enrollments: %w", err)
	}

	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.Error("failed to close rows", "error", err)
		}
	}()

	return collectEnrollments(rows)
}

// Release drops the worker's lease on the enrollment.
func (r *EnrollmentRepository) Release(ctx context.Context, enrollmentID, workerID string) error {
	query := `
		UPDATE enrollments SET
			claimed_by = NULL,
			claim_expires_at = NULL,
			updated_at = NOW()
		WHERE id = $1 AND claimed_by = $2
	`

	if _, err := r.db.ExecContext(ctx, query, enrollmentID, workerID); err != nil {
		return persistence.NewEnrollmentError("Release", enrollmentID, err)
	}

	return nil
}

func (r *EnrollmentRepository) queryEnrollments(ctx context.Context, query string, args ...any) ([]*models.Enrollment, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query enrollments: %w", err)
	}

	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.Error("failed to close rows", "error", err)
		}
	}()

	return collectEnrollments(rows)
}

func collectEnrollments(rows *sql.Rows) ([]*models.Enrollment, error) {
	enrollments := make([]*models.Enrollment, 0)

	for rows.Next() {
		enrollment, err := scanEnrollment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan enrollment: %w", err)
		}

		enrollments = append(enrollments, enrollment)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating enrollments: %w", err)
	}

	return enrollments, nil
}

func marshalEnrollmentJSON(enrollment *models.Enrollment) (historyJSON, metricsJSON []byte, err error) {
	historyJSON, err = json.Marshal(enrollment.StageHistory)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal stage history: %w", err)
	}

	metricsJSON, err = json.Marshal(enrollment.Metrics)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal metrics: %w", err)
	}

	return historyJSON, metricsJSON, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
