// Package postgresql provides the PostgreSQL persistence implementation.
// The enrollments table doubles as the due-time index: scheduler workers
// claim due rows with FOR UPDATE SKIP LOCKED plus a lease column, which
// serializes stage execution per enrollment across processes.
package postgresql

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	_ "github.com/lib/pq" // postgres driver

	"github.com/bloomcrm/journey/pkg/persistence"
	"github.com/bloomcrm/journey/pkg/persistence/sqlbase"
)

// Persistence implements persistence.Persistence for PostgreSQL.
type Persistence struct {
	db          *sql.DB
	logger      *slog.Logger
	workflows   *WorkflowRepository
	enrollments *EnrollmentRepository
}

// NewPersistence opens the database, runs migrations and wires the
// repositories.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (*Persistence, error) {
	database, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL database: %w", err)
	}

	if err := database.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	migrationManager := sqlbase.NewMigrationManager(logger, database, migrations())
	if err := migrationManager.RunMigrations(ctx); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	p := &Persistence{
		db:     database,
		logger: logger,
	}
	p.workflows = &WorkflowRepository{db: database, logger: logger}
	p.enrollments = &EnrollmentRepository{db: database, logger: logger}

	return p, nil
}

func (p *Persistence) Workflows() persistence.WorkflowRepository {
	return p.workflows
}

func (p *Persistence) Enrollments() persistence.EnrollmentRepository {
	return p.enrollments
}

// HealthCheck verifies the database connection is healthy.
func (p *Persistence) HealthCheck(ctx context.Context) error {
	if err := p.db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	return nil
}

// Close closes the database connection.
func (p *Persistence) Close(_ context.Context) error {
	if p.db != nil {
		if err := p.db.Close(); err != nil {
			return fmt.Errorf("failed to close database connection: %w", err)
		}
	}

	return nil
}
