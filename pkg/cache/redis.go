package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/overseer-labs/warden/pkg/contracts"
)

// RedisCache is a DecisionCache backed by Redis, for deployments where many
// worker processes share one decision cache. Errors are logged and treated
// as misses; the cache never becomes a gate.
type RedisCache struct {
	client *redis.Client
	logger *slog.Logger
}

// NewRedisCache creates a cache backed by Redis.
func NewRedisCache(addr, password string, db int) *RedisCache {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &RedisCache{
		client: rdb,
		logger: slog.Default().With("component", "decision_cache"),
	}
}

// NewRedisCacheWithClient wraps an existing client, for tests and shared
// connection pools.
func NewRedisCacheWithClient(client *redis.Client) *RedisCache {
	return &RedisCache{
		client: client,
		logger: slog.Default().With("component", "decision_cache"),
	}
}

func (c *RedisCache) Get(ctx context.Context, agentID, actionType string) (contracts.Decision, bool) {
	raw, err := c.client.Get(ctx, Key(agentID, actionType)).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.WarnContext(ctx, "cache read failed, falling through", "error", err)
		}
		return contracts.Decision{}, false
	}
	var d contracts.Decision
	if err := json.Unmarshal(raw, &d); err != nil {
		c.logger.WarnContext(ctx, "cache entry corrupt, falling through", "error", err)
		return contracts.Decision{}, false
	}
	return d, true
}

func (c *RedisCache) Set(ctx context.Context, agentID, actionType string, d contracts.Decision, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	raw, err := json.Marshal(d)
	if err != nil {
		c.logger.WarnContext(ctx, "cache encode failed", "error", err)
		return
	}
	if err := c.client.Set(ctx, Key(agentID, actionType), raw, ttl).Err(); err != nil {
		c.logger.WarnContext(ctx, "cache write failed", "error", err)
	}
}
