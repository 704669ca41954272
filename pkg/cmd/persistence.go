// Package cmd provides common initialization functions for command-line applications.
package cmd

import (
	"context"
	"log/slog"
	"strings"

	"github.com/bloomcrm/journey/pkg/persistence"
	"github.com/bloomcrm/journey/pkg/persistence/file"
	"github.com/bloomcrm/journey/pkg/persistence/postgresql"
)

// NewPersistence creates the storage layer from a database URL. The scheme
// selects the backend: postgres:// for PostgreSQL, anything else is treated
// as a file path for the development store.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) persistence.Persistence {
	switch {
	case strings.HasPrefix(databaseURL, "postgres://"), strings.HasPrefix(databaseURL, "postgresql://"):
		p, err := postgresql.NewPersistence(ctx, logger, databaseURL)
		if err != nil {
			panic(err)
		}

		return p
	default:
		return file.NewPersistence(databaseURL)
	}
}
