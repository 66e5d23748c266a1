package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openparcel/jobcore/config"
	"github.com/openparcel/jobcore/internal/core"
	"github.com/openparcel/jobcore/internal/observability/metrics"
)

func newTestReconciler(t *testing.T, repo *fakeReconcilerRepo, sink *fakeSink) *Reconciler {
	t.Helper()
	r, err := NewReconciler(ReconcilerOptions{
		Repo: repo,
		Config: config.ReconcilerConfig{
			Interval:   time.Minute,
			JobTimeout: 30 * time.Minute,
			BatchSize:  1000,
		},
		Metrics: sink,
	})
	require.NoError(t, err)
	return r
}

func TestReconcilerSweepDrainsBatches(t *testing.T) {
	repo := &fakeReconcilerRepo{batches: [][]core.StaleJobGroup{
		{
			{TenantID: "COUNTY01", JobType: "parcel_valuation", Count: 600},
			{TenantID: "COUNTY02", JobType: "parcel_valuation", Count: 400},
		},
		{{TenantID: "COUNTY01", JobType: "parcel_valuation", Count: 1000}},
		{{TenantID: "COUNTY02", JobType: "deed_transfer", Count: 250}},
	}}
	sink := newFakeSink()
	r := newTestReconciler(t, repo, sink)

	require.NoError(t, r.runSweep(context.Background()))

	// Three full batches plus the empty batch that ends the loop.
	assert.Len(t, repo.calls, 4)
	for _, call := range repo.calls {
		assert.Equal(t, 30*time.Minute, call.Timeout)
		assert.Equal(t, 1000, call.BatchSize)
	}

	assert.Equal(t, int64(2250), sink.count(metrics.MetricJobsReconciled))
	assert.Equal(t, int64(1), sink.count(metrics.MetricReconcilerSweep))
	assert.Equal(t, 1, sink.timings[metrics.MetricReconcilerSweepTimer])
}

func TestReconcilerSweepCountsPerTenantAndType(t *testing.T) {
	repo := &fakeReconcilerRepo{batches: [][]core.StaleJobGroup{
		{
			{TenantID: "COUNTY01", JobType: "parcel_valuation", Count: 3},
			{TenantID: "COUNTY02", JobType: "deed_transfer", Count: 2},
		},
		{{TenantID: "COUNTY01", JobType: "parcel_valuation", Count: 1}},
	}}
	sink := newFakeSink()
	r := newTestReconciler(t, repo, sink)

	require.NoError(t, r.runSweep(context.Background()))

	assert.Equal(t, int64(4), sink.taggedCount(metrics.MetricJobsReconciled, map[string]string{
		"tenant_id":      "COUNTY01",
		"job_type":       "parcel_valuation",
		"failure_reason": metrics.FailureReasonTimeout,
	}))
	assert.Equal(t, int64(2), sink.taggedCount(metrics.MetricJobsReconciled, map[string]string{
		"tenant_id":      "COUNTY02",
		"job_type":       "deed_transfer",
		"failure_reason": metrics.FailureReasonTimeout,
	}))
	// Every reconciled increment carries both attribution tags.
	for _, tags := range sink.tags[metrics.MetricJobsReconciled] {
		assert.NotEmpty(t, tags["tenant_id"])
		assert.NotEmpty(t, tags["job_type"])
	}
}

func TestReconcilerSweepNoStaleJobs(t *testing.T) {
	repo := &fakeReconcilerRepo{}
	sink := newFakeSink()
	r := newTestReconciler(t, repo, sink)

	require.NoError(t, r.runSweep(context.Background()))

	assert.Len(t, repo.calls, 1)
	assert.Equal(t, int64(0), sink.count(metrics.MetricJobsReconciled))
	assert.Equal(t, int64(1), sink.count(metrics.MetricReconcilerSweep))
}

func TestReconcilerSweepPropagatesError(t *testing.T) {
	repo := &fakeReconcilerRepo{err: errors.New("database is unreachable")}
	sink := newFakeSink()
	r := newTestReconciler(t, repo, sink)

	err := r.runSweep(context.Background())
	require.Error(t, err)
	// A failed sweep still records its operational metrics, with the error
	// counted under its class.
	assert.Equal(t, int64(1), sink.count(metrics.MetricReconcilerSweep))
	assert.Equal(t, int64(1), sink.count(metrics.MetricReconcilerSweepErrors))
	assert.NotEmpty(t, sink.lastTags(metrics.MetricReconcilerSweepErrors)["error_class"])
}

func TestReconcilerRunStopsOnCancel(t *testing.T) {
	repo := &fakeReconcilerRepo{}
	sink := newFakeSink()
	r := newTestReconciler(t, repo, sink)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("reconciler did not stop after cancel")
	}
}
