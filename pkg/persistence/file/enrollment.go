package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/bloomcrm/journey/pkg/models"
	"github.com/bloomcrm/journey/pkg/persistence"
)

// EnrollmentRepository stores one JSON file per enrollment under
// <root>/enrollments. The shared store mutex makes Create, ClaimDue and
// the WithAnalytics writes atomic within the process.
type EnrollmentRepository struct {
	root      string
	mu        *sync.Mutex
	workflows *WorkflowRepository
}

func (r *EnrollmentRepository) dir() string {
	return filepath.Join(r.root, "enrollments")
}

func (r *EnrollmentRepository) path(id string) string {
	return filepath.Join(r.dir(), id+".json")
}

func (r *EnrollmentRepository) write(enrollment *models.Enrollment) error {
	if err := os.MkdirAll(r.dir(), 0o755); err != nil {
		return persistence.NewEnrollmentError("Save", enrollment.ID, err)
	}

	data, err := json.MarshalIndent(enrollment, "", "  ")
	if err != nil {
		return persistence.NewEnrollmentError("Save", enrollment.ID, err)
	}

	if err := os.WriteFile(r.path(enrollment.ID), data, 0o600); err != nil {
		return persistence.NewEnrollmentError("Save", enrollment.ID, err)
	}

	return nil
}

func (r *EnrollmentRepository) read(path string) (*models.Enrollment, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, persistence.ErrEnrollmentNotFound
		}

		return nil, fmt.Errorf("failed to read enrollment file: %w", err)
	}

	var enrollment models.Enrollment
	if err := json.Unmarshal(data, &enrollment); err != nil {
		return nil, fmt.Errorf("failed to decode enrollment file %s: %w", path, err)
	}

	return &enrollment, nil
}

func (r *EnrollmentRepository) all() ([]*models.Enrollment, error) {
	root := os.DirFS(r.dir())

	files, err := fs.Glob(root, "*.json")
	if err != nil {
		return nil, fmt.Errorf("failed to list enrollment files: %w", err)
	}

	enrollments := make([]*models.Enrollment, 0, len(files))

	for _, file := range files {
		enrollment, err := r.read(filepath.Join(r.dir(), file))
		if err != nil {
			return nil, err
		}

		enrollments = append(enrollments, enrollment)
	}

	return enrollments, nil
}

// Create inserts a new enrollment, rejecting duplicates for the same
// (subject, workflow) while an Active enrollment exists.
func (r *EnrollmentRepository) Create(_ context.Context, enrollment *models.Enrollment) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.createLocked(enrollment)
}

// CreateWithAnalytics inserts the enrollment and applies the workflow
// counter delta under the same lock.
func (r *EnrollmentRepository) CreateWithAnalytics(ctx context.Context, enrollment *models.Enrollment, delta models.AnalyticsDelta) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.createLocked(enrollment); err != nil {
		return err
	}

	if delta.IsZero() {
		return nil
	}

	return r.workflows.incrementLocked(ctx, enrollment.WorkflowID, enrollment.WorkflowVersion, delta)
}

func (r *EnrollmentRepository) createLocked(enrollment *models.Enrollment) error {
	existing, err := r.activeBySubjectLocked(enrollment.TenantID, enrollment.WorkflowID, enrollment.SubjectID)
	if err != nil {
		return err
	}

	if existing != nil {
		return persistence.NewEnrollmentError("Create", enrollment.ID, persistence.ErrEnrollmentExists)
	}

	now := time.Now().UTC()
	if enrollment.CreatedAt.IsZero() {
		enrollment.CreatedAt = now
	}

	enrollment.UpdatedAt = now

	return r.write(enrollment)
}

// Update persists enrollment state.
func (r *EnrollmentRepository) Update(_ context.Context, enrollment *models.Enrollment) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	enrollment.UpdatedAt = time.Now().UTC()

	return r.write(enrollment)
}

// UpdateWithAnalytics persists the enrollment and applies the workflow
// counter delta under the same lock.
func (r *EnrollmentRepository) UpdateWithAnalytics(ctx context.Context, enrollment *models.Enrollment, delta models.AnalyticsDelta) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	enrollment.UpdatedAt = time.Now().UTC()

	if err := r.write(enrollment); err != nil {
		return err
	}

	if delta.IsZero() {
		return nil
	}

	return r.workflows.incrementLocked(ctx, enrollment.WorkflowID, enrollment.WorkflowVersion, delta)
}

// GetByID returns one enrollment.
func (r *EnrollmentRepository) GetByID(_ context.Context, id string) (*models.Enrollment, error) {
	enrollment, err := r.read(r.path(id))
	if err != nil {
		if errors.Is(err, persistence.ErrEnrollmentNotFound) {
			return nil, persistence.NewEnrollmentError("GetByID", id, persistence.ErrEnrollmentNotFound)
		}

		return nil, err
	}

	return enrollment, nil
}

func (r *EnrollmentRepository) activeBySubjectLocked(tenantID, workflowID, subjectID string) (*models.Enrollment, error) {
	enrollments, err := r.all()
	if err != nil {
		return nil, err
	}

	for _, enrollment := range enrollments {
		if enrollment.TenantID == tenantID &&
			enrollment.WorkflowID == workflowID &&
			enrollment.SubjectID == subjectID &&
			enrollment.Status == models.EnrollmentStatusActive {
			return enrollment, nil
		}
	}

	return nil, nil
}

// ActiveBySubject returns the Active enrollment for the subject on the
// workflow, or ErrEnrollmentNotFound.
func (r *EnrollmentRepository) ActiveBySubject(_ context.Context, tenantID, workflowID, subjectID string) (*models.Enrollment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	enrollment, err := r.activeBySubjectLocked(tenantID, workflowID, subjectID)
	if err != nil {
		return nil, err
	}

	if enrollment == nil {
		return nil, persistence.ErrEnrollmentNotFound
	}

	return enrollment, nil
}

// HasBySubject reports whether the subject was ever enrolled on the
// workflow, in any status.
func (r *EnrollmentRepository) HasBySubject(_ context.Context, tenantID, workflowID, subjectID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	enrollments, err := r.all()
	if err != nil {
		return false, err
	}

	for _, enrollment := range enrollments {
		if enrollment.TenantID == tenantID &&
			enrollment.WorkflowID == workflowID &&
			enrollment.SubjectID == subjectID {
			return true, nil
		}
	}

	return false, nil
}

// ListByWorkflow returns every enrollment of a workflow.
func (r *EnrollmentRepository) ListByWorkflow(_ context.Context, workflowID string) ([]*models.Enrollment, error) {
	enrollments, err := r.all()
	if err != nil {
		return nil, err
	}

	matches := make([]*models.Enrollment, 0)

	for _, enrollment := range enrollments {
		if enrollment.WorkflowID == workflowID {
			matches = append(matches, enrollment)
		}
	}

	sort.Slice(matches, func(i, j int) bool {
		return matches[i].CreatedAt.Before(matches[j].CreatedAt)
	})

	return matches, nil
}

// ClaimDue claims up to limit due Active enrollments for the worker.
func (r *EnrollmentRepository) ClaimDue(_ context.Context, workerID string, now time.Time, limit int, leaseTTL time.Duration) ([]*models.Enrollment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	enrollments, err := r.all()
	if err != nil {
		return nil, err
	}

	due := make([]*models.Enrollment, 0)

	for _, enrollment := range enrollments {
		if enrollment.Status != models.EnrollmentStatusActive {
			continue
		}

		if enrollment.DueAt.After(now) {
			continue
		}

		if enrollment.Claimed(now) && enrollment.ClaimedBy != workerID {
			continue
		}

		due = append(due, enrollment)
	}

	sort.Slice(due, func(i, j int) bool {
		return due[i].DueAt.Before(due[j].DueAt)
	})

	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}

	expires := now.Add(leaseTTL)

	for _, enrollment := range due {
		enrollment.ClaimedBy = workerID
		enrollment.ClaimExpiresAt = &expires

		if err := r.write(enrollment); err != nil {
			return nil, err
		}
	}

	return due, nil
}

// Release drops the worker's lease on one enrollment.
func (r *EnrollmentRepository) Release(ctx context.Context, enrollmentID, workerID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	enrollment, err := r.read(r.path(enrollmentID))
	if err != nil {
		if errors.Is(err, persistence.ErrEnrollmentNotFound) {
			return nil
		}

		return err
	}

	if enrollment.ClaimedBy != workerID {
		return nil
	}

	enrollment.ClaimedBy = ""
	enrollment.ClaimExpiresAt = nil

	return r.write(enrollment)
}
