package rediscache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kirillkom/rag-query-engine/internal/core/domain"
	"github.com/kirillkom/rag-query-engine/internal/core/ports"
)

// notFoundMarker caches the absence of a config so missing rows do not hit
// the database on every request.
const notFoundMarker = "__not_found__"

// Cache is a read-through layer in front of a ConfigurationStore. Redis
// failures degrade to the inner store: the cache is never on the request's
// critical failure path.
type Cache struct {
	inner  ports.ConfigurationStore
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

func New(inner ports.ConfigurationStore, client *redis.Client, ttl time.Duration, logger *slog.Logger) *Cache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{inner: inner, client: client, ttl: ttl, logger: logger}
}

func (c *Cache) GetPipelineConfig(ctx context.Context, userID, collectionID string) (*domain.PipelineConfig, error) {
	key := fmt.Sprintf("ragcfg:pipeline:%s:%s", userID, collectionID)

	cached, err := c.client.Get(ctx, key).Result()
	switch {
	case err == nil:
		if cached == notFoundMarker {
			return nil, domain.WrapError(domain.ErrNotFound, "get pipeline config",
				fmt.Errorf("no config for collection %s", collectionID))
		}
		var cfg domain.PipelineConfig
		if unmarshalErr := json.Unmarshal([]byte(cached), &cfg); unmarshalErr == nil {
			return &cfg, nil
		}
		// Corrupt entry: fall through to the store and overwrite below.
	case !errors.Is(err, redis.Nil):
		c.logger.Warn("config_cache_read_failed", "key", key, "error", err)
	}

	cfg, err := c.inner.GetPipelineConfig(ctx, userID, collectionID)
	if err != nil {
		if domain.IsKind(err, domain.ErrNotFound) {
			c.set(ctx, key, notFoundMarker)
		}
		return nil, err
	}

	if raw, marshalErr := json.Marshal(cfg); marshalErr == nil {
		c.set(ctx, key, string(raw))
	}
	return cfg, nil
}

func (c *Cache) CollectionExists(ctx context.Context, collectionID string) (bool, error) {
	key := "ragcfg:collection:" + collectionID

	cached, err := c.client.Get(ctx, key).Result()
	switch {
	case err == nil:
		return cached == "1", nil
	case !errors.Is(err, redis.Nil):
		c.logger.Warn("config_cache_read_failed", "key", key, "error", err)
	}

	exists, err := c.inner.CollectionExists(ctx, collectionID)
	if err != nil {
		return false, err
	}

	value := "0"
	if exists {
		value = "1"
	}
	c.set(ctx, key, value)
	return exists, nil
}

// Invalidate drops the cached entries after a config write.
func (c *Cache) Invalidate(ctx context.Context, userID, collectionID string) {
	keys := []string{
		fmt.Sprintf("ragcfg:pipeline:%s:%s", userID, collectionID),
		"ragcfg:collection:" + collectionID,
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		c.logger.Warn("config_cache_invalidate_failed", "collection_id", collectionID, "error", err)
	}
}

func (c *Cache) set(ctx context.Context, key, value string) {
	if err := c.client.Set(ctx, key, value, c.ttl).Err(); err != nil {
		c.logger.Warn("config_cache_write_failed", "key", key, "error", err)
	}
}
