// Package persistence provides standardized error types for storage
// operations.
package persistence

import (
	"errors"
	"fmt"
)

var (
	// ErrWorkflowNotFound indicates no definition exists for the identifier.
	ErrWorkflowNotFound = errors.New("workflow not found")

	// ErrWorkflowVersionNotFound indicates the pinned version is missing.
	ErrWorkflowVersionNotFound = errors.New("workflow version not found")

	// ErrEnrollmentNotFound indicates no enrollment exists for the identifier.
	ErrEnrollmentNotFound = errors.New("enrollment not found")

	// ErrEnrollmentExists indicates the subject already has an Active
	// enrollment on the workflow.
	ErrEnrollmentExists = errors.New("active enrollment already exists")

	// ErrLeaseHeld indicates the enrollment is claimed by another worker.
	ErrLeaseHeld = errors.New("enrollment lease held by another worker")
)

// WorkflowError wraps definition storage errors with operation context.
type WorkflowError struct {
	Op         string
	WorkflowID string
	Version    int
	Err        error
}

func (e *WorkflowError) Error() string {
	if e.Version > 0 {
		return fmt.Sprintf("%s failed for workflow %s v%d: %v", e.Op, e.WorkflowID, e.Version, e.Err)
	}

	return fmt.Sprintf("%s failed for workflow %s: %v", e.Op, e.WorkflowID, e.Err)
}

func (e *WorkflowError) Unwrap() error { return e.Err }

func (e *WorkflowError) Is(target error) bool { return errors.Is(e.Err, target) }

// NewWorkflowError creates a workflow error with context.
func NewWorkflowError(op, workflowID string, err error) *WorkflowError {
	return &WorkflowError{Op: op, WorkflowID: workflowID, Err: err}
}

// EnrollmentError wraps enrollment storage errors with operation context.
type EnrollmentError struct {
	Op           string
	EnrollmentID string
	Err          error
}

func (e *EnrollmentError) Error() string {
	return fmt.Sprintf("%s failed for enrollment %s: %v", e.Op, e.EnrollmentID, e.Err)
}

func (e *EnrollmentError) Unwrap() error { return e.Err }

func (e *EnrollmentError) Is(target error) bool { return errors.Is(e.Err, target) }

// NewEnrollmentError creates an enrollment error with context.
func NewEnrollmentError(op, enrollmentID string, err error) *EnrollmentError {
	return &EnrollmentError{Op: op, EnrollmentID: enrollmentID, Err: err}
}

// IsWorkflowNotFound checks if an error indicates a missing definition.
func IsWorkflowNotFound(err error) bool {
	return errors.Is(err, ErrWorkflowNotFound) || errors.Is(err, ErrWorkflowVersionNotFound)
}

// IsEnrollmentNotFound checks if an error indicates a missing enrollment.
func IsEnrollmentNotFound(err error) bool {
	return errors.Is(err, ErrEnrollmentNotFound)
}

// IsEnrollmentExists checks if an error indicates a duplicate Active
// enrollment.
func IsEnrollmentExists(err error) bool {
	return errors.Is(err, ErrEnrollmentExists)
}
