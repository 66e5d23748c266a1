package data

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/openparcel/jobcore/internal/domain/model"
)

const resultCacheKeyPrefix = "jobcore:result:"

// RedisResultCache caches terminal job snapshots in Redis. Terminal rows
// never change, so a cached copy can serve status and result reads without
// touching Postgres. Every cache failure is treated as a miss; the caller
// falls through to the database.
type RedisResultCache struct {
	client redis.UniversalClient
	ttl    time.Duration
	logger *slog.Logger
}

// NewRedisResultCache creates a RedisResultCache. A nil client yields a
// cache that always misses.
func NewRedisResultCache(client redis.UniversalClient, ttl time.Duration, logger *slog.Logger) *RedisResultCache {
	return &RedisResultCache{client: client, ttl: ttl, logger: logger}
}

func resultCacheKey(tenantID, jobID string) string {
	return resultCacheKeyPrefix + tenantID + ":" + jobID
}

// Get returns a cached terminal job snapshot, or false on any miss or error.
func (c *RedisResultCache) Get(ctx context.Context, tenantID, jobID string) (*model.Job, bool) {
	if c == nil || c.client == nil {
		return nil, false
	}

	raw, err := c.client.Get(ctx, resultCacheKey(tenantID, jobID)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) && c.logger != nil {
			c.logger.WarnContext(ctx, "result cache get failed", "job_id", jobID, "error", err)
		}
		return nil, false
	}

	var job model.Job
	if err := json.Unmarshal(raw, &job); err != nil {
		if c.logger != nil {
			c.logger.WarnContext(ctx, "result cache decode failed", "job_id", jobID, "error", err)
		}
		return nil, false
	}
	if !job.Status.Terminal() {
		// A non-terminal snapshot should never be cached; drop it.
		return nil, false
	}
	return &job, true
}

// Put stores a terminal job snapshot. Non-terminal jobs are ignored because
// their rows are still mutating. Put is best effort and never returns an
// error; a failed write just means the next read hits Postgres.
func (c *RedisResultCache) Put(ctx context.Context, job *model.Job) {
	if c == nil || c.client == nil || job == nil || !job.Status.Terminal() {
		return
	}

	raw, err := json.Marshal(job)
	if err != nil {
		if c.logger != nil {
			c.logger.WarnContext(ctx, "result cache encode failed", "job_id", job.ID, "error", err)
		}
		return
	}

	if err := c.client.Set(ctx, resultCacheKey(job.TenantID, job.ID), raw, c.ttl).Err(); err != nil {
		if c.logger != nil {
			c.logger.WarnContext(ctx, "result cache set failed", "job_id", job.ID, "error", err)
		}
	}
}

// Health checks the health of the Redis connection.
func (c *RedisResultCache) Health(ctx context.Context) error {
	if c == nil || c.client == nil {
		return errors.New("redis client is not configured")
	}
	return c.client.Ping(ctx).Err()
}

// RedisConfig holds configuration for Redis connection.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// NewRedisClient creates a new Redis client with the given configuration.
func NewRedisClient(cfg RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}
