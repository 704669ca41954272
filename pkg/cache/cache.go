// Package cache provides read-through caches for workflow definitions.
// Definition versions are frozen once active, so cached copies only go
// stale with respect to Status; the TTL bounds how long a deactivation
// takes to reach scheduler workers.
package cache

import (
	"context"

	"github.com/bloomcrm/journey/pkg/models"
)

// DefinitionCache serves pinned workflow definition versions to scheduler
// workers without hitting the store on every stage advance.
type DefinitionCache interface {
	// GetVersion returns one definition version, from cache when fresh.
	GetVersion(ctx context.Context, id string, version int) (*models.WorkflowDefinition, error)

	// Invalidate drops every cached version of a definition. Called on
	// activate/deactivate so status changes propagate within a TTL at
	// worst, immediately at best.
	Invalidate(ctx context.Context, id string) error
}
