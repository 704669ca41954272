package cmd

import (
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/bloomcrm/journey/pkg/cache"
	"github.com/bloomcrm/journey/pkg/collaborators/local"
	"github.com/bloomcrm/journey/pkg/persistence"
	"github.com/bloomcrm/journey/pkg/protocol"
)

// NewCollaborators wires the in-process collaborator backends. Production
// deployments swap these for real channel and CRM integrations behind the
// same protocol interfaces.
func NewCollaborators(logger *slog.Logger) (protocol.Collaborators, *local.Store) {
	store := local.NewStore(logger)

	return store.Collaborators(), store
}

// NewDefinitionCache creates the workflow definition cache. A redis URL
// selects the shared cache; an empty URL falls back to the in-process one.
func NewDefinitionCache(logger *slog.Logger, redisURL string, repo persistence.WorkflowRepository, ttl time.Duration) cache.DefinitionCache {
	if redisURL == "" {
		return cache.NewMemoryCache(repo, ttl)
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		panic(err)
	}

	return cache.NewRedisCache(logger, redis.NewClient(opts), repo, ttl)
}
