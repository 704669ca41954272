package cache

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bloomcrm/journey/pkg/models"
	"github.com/bloomcrm/journey/pkg/persistence"
)

type memoryEntry struct {
	def       *models.WorkflowDefinition
	expiresAt time.Time
}

// MemoryCache is an in-process read-through cache over the workflow
// repository. Suitable for single-instance deployments and tests.
type MemoryCache struct {
	repo persistence.WorkflowRepository
	ttl  time.Duration

	mu      sync.RWMutex
	entries map[string]memoryEntry
}

func NewMemoryCache(repo persistence.WorkflowRepository, ttl time.Duration) *MemoryCache {
	return &MemoryCache{
		repo:    repo,
		ttl:     ttl,
		entries: make(map[string]memoryEntry),
	}
}

func cacheKey(id string, version int) string {
	return id + ":" + strconv.Itoa(version)
}

func (c *MemoryCache) GetVersion(ctx context.Context, id string, version int) (*models.WorkflowDefinition, error) {
	key := cacheKey(id, version)
	now := time.Now()

	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()

	if ok && entry.expiresAt.After(now) {
		return entry.def, nil
	}

	def, err := c.repo.GetVersion(ctx, id, version)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.entries[key] = memoryEntry{def: def, expiresAt: now.Add(c.ttl)}
	c.mu.Unlock()

	return def, nil
}

func (c *MemoryCache) Invalidate(_ context.Context, id string) error {
	prefix := id + ":"

	c.mu.Lock()
	defer c.mu.Unlock()

	for key := range c.entries {
		if strings.HasPrefix(key, prefix) {
			delete(c.entries, key)
		}
	}

	return nil
}
