// Package file provides file-based persistence for development and tests.
// Records are stored as JSON documents under the root directory; a single
// process-wide mutex stands in for the transactional guarantees the
// postgresql implementation gets from the database.
package file

import (
	"context"
	"os"
	"strings"
	"sync"

	"github.com/bloomcrm/journey/pkg/persistence"
)

// Persistence implements persistence.Persistence on the local file system.
type Persistence struct {
	root        string
	mu          sync.Mutex
	workflows   *WorkflowRepository
	enrollments *EnrollmentRepository
}

// NewPersistence creates a file-backed store rooted at the given directory.
// A "file://" prefix is accepted and stripped.
func NewPersistence(root string) *Persistence {
	cleanRoot := strings.TrimPrefix(root, "file://")

	p := &Persistence{root: cleanRoot}
	p.workflows = &WorkflowRepository{root: cleanRoot, mu: &p.mu}
	p.enrollments = &EnrollmentRepository{root: cleanRoot, mu: &p.mu, workflows: p.workflows}

	return p
}

func (p *Persistence) Workflows() persistence.WorkflowRepository {
	return p.workflows
}

func (p *Persistence) Enrollments() persistence.EnrollmentRepository {
	return p.enrollments
}

// HealthCheck verifies the root directory exists.
func (p *Persistence) HealthCheck(_ context.Context) error {
	if _, err := os.Stat(p.root); os.IsNotExist(err) {
		return os.ErrNotExist
	}

	return nil
}

// Close is a no-op for file persistence.
func (p *Persistence) Close(_ context.Context) error {
	return nil
}
