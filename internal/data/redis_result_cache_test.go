package data

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openparcel/jobcore/internal/domain/model"
	"github.com/openparcel/jobcore/internal/testutil"
)

func terminalJob(status model.JobStatus) *model.Job {
	now := time.Now().UTC()
	job := &model.Job{
		ID:        "j1",
		TenantID:  "COUNTY01",
		Type:      "demo_job",
		Status:    status,
		Params:    []byte(`{"x": 1}`),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if status == model.JobStatusCompleted {
		job.Result = []byte(`{"doubled": 2}`)
		job.CompletedAt = &now
	}
	return job
}

func TestRedisResultCacheNilClient(t *testing.T) {
	var cache *RedisResultCache

	_, ok := cache.Get(context.Background(), "COUNTY01", "j1")
	assert.False(t, ok)
	cache.Put(context.Background(), terminalJob(model.JobStatusCompleted))
	assert.Error(t, cache.Health(context.Background()))

	cache = NewRedisResultCache(nil, time.Hour, nil)
	_, ok = cache.Get(context.Background(), "COUNTY01", "j1")
	assert.False(t, ok)
}

func TestRedisResultCacheRoundTrip(t *testing.T) {
	client := testutil.SetupTestRedis(t)
	cache := NewRedisResultCache(client, time.Hour, nil)
	ctx := context.Background()

	// Miss before any write.
	_, ok := cache.Get(ctx, "COUNTY01", "j1")
	assert.False(t, ok)

	cache.Put(ctx, terminalJob(model.JobStatusCompleted))

	got, ok := cache.Get(ctx, "COUNTY01", "j1")
	require.True(t, ok)
	assert.Equal(t, model.JobStatusCompleted, got.Status)
	assert.JSONEq(t, `{"doubled": 2}`, string(got.Result))

	// Other tenants never see the entry.
	_, ok = cache.Get(ctx, "COUNTY02", "j1")
	assert.False(t, ok)
}

func TestRedisResultCacheIgnoresNonTerminal(t *testing.T) {
	client := testutil.SetupTestRedis(t)
	cache := NewRedisResultCache(client, time.Hour, nil)
	ctx := context.Background()

	cache.Put(ctx, terminalJob(model.JobStatusRunning))

	_, ok := cache.Get(ctx, "COUNTY01", "j1")
	assert.False(t, ok)
}
