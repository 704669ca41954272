package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/bloomcrm/journey/pkg/models"
	"github.com/bloomcrm/journey/pkg/persistence"
)

const redisKeyPrefix = "journey:wfdef:"

// RedisCache is a read-through definition cache shared by every scheduler
// worker in a deployment. Store errors fall through to the repository so a
// cache outage degrades to direct reads instead of failing stage advances.
type RedisCache struct {
	client *redis.Client
	repo   persistence.WorkflowRepository
	ttl    time.Duration
	logger *slog.Logger
}

func NewRedisCache(logger *slog.Logger, client *redis.Client, repo persistence.WorkflowRepository, ttl time.Duration) *RedisCache {
	return &RedisCache{
		client: client,
		repo:   repo,
		ttl:    ttl,
		logger: logger.With("module", "cache"),
	}
}

func redisKey(id string, version int) string {
	return fmt.Sprintf("%s%s:v%d", redisKeyPrefix, id, version)
}

func (c *RedisCache) GetVersion(ctx context.Context, id string, version int) (*models.WorkflowDefinition, error) {
	key := redisKey(id, version)

	data, err := c.client.Get(ctx, key).Bytes()
	if err == nil {
		var def models.WorkflowDefinition
		if err := json.Unmarshal(data, &def); err == nil {
			return &def, nil
		}

		c.logger.WarnContext(ctx, "Dropping undecodable cache entry", "key", key)
		c.client.Del(ctx, key)
	} else if err != redis.Nil {
		c.logger.WarnContext(ctx, "Cache read failed, falling back to store", "key", key, "error", err)
	}

	def, err := c.repo.GetVersion(ctx, id, version)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(def); err == nil {
		if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
			c.logger.WarnContext(ctx, "Cache write failed", "key", key, "error", err)
		}
	}

	return def, nil
}

func (c *RedisCache) Invalidate(ctx context.Context, id string) error {
	pattern := redisKeyPrefix + id + ":v*"

	iter := c.client.Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		if err := c.client.Del(ctx, iter.Val()).Err(); err != nil {
			return fmt.Errorf("failed to invalidate cache key %s: %w", iter.Val(), err)
		}
	}

	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to scan cache keys for %s: %w", id, err)
	}

	return nil
}
