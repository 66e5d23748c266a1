package service

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/openparcel/jobcore/internal/core"
	"github.com/openparcel/jobcore/internal/domain/model"
	apperrors "github.com/openparcel/jobcore/internal/errors"
)

// fakeJobRepo is an in-memory JobRepository enforcing the same conditional
// transition semantics as the Postgres implementation.
type fakeJobRepo struct {
	mu   sync.Mutex
	jobs map[string]*model.Job

	createErr error
	getErr    error
	failErrs  []error // popped per Fail call; nil entry means success
	compErrs  []error // popped per Complete call; nil entry means success
}

func newFakeJobRepo() *fakeJobRepo {
	return &fakeJobRepo{jobs: map[string]*model.Job{}}
}

func repoKey(tenantID, jobID string) string {
	return tenantID + "/" + jobID
}

func (f *fakeJobRepo) Create(_ context.Context, params core.CreateJobParams) (*model.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.createErr != nil {
		return nil, f.createErr
	}

	now := time.Now().UTC()
	job := &model.Job{
		ID:        params.ID,
		TenantID:  params.TenantID,
		Type:      params.Type,
		Status:    model.JobStatusPending,
		Params:    append(json.RawMessage(nil), params.Params...),
		CreatedAt: now,
		UpdatedAt: now,
	}
	f.jobs[repoKey(params.TenantID, params.ID)] = job
	cp := *job
	return &cp, nil
}

func (f *fakeJobRepo) GetByID(_ context.Context, tenantID, jobID string) (*model.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.getErr != nil {
		return nil, f.getErr
	}

	job, ok := f.jobs[repoKey(tenantID, jobID)]
	if !ok {
		return nil, apperrors.NotFoundf("job %s not found", jobID)
	}
	cp := *job
	return &cp, nil
}

func (f *fakeJobRepo) MarkRunning(_ context.Context, tenantID, jobID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	job, ok := f.jobs[repoKey(tenantID, jobID)]
	if !ok || job.Status != model.JobStatusPending {
		return false, nil
	}
	now := time.Now().UTC()
	job.Status = model.JobStatusRunning
	job.StartedAt = &now
	job.UpdatedAt = now
	return true, nil
}

func (f *fakeJobRepo) Complete(_ context.Context, params core.CompleteJobParams) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.compErrs) > 0 {
		err := f.compErrs[0]
		f.compErrs = f.compErrs[1:]
		if err != nil {
			return false, err
		}
	}

	job, ok := f.jobs[repoKey(params.TenantID, params.JobID)]
	if !ok || job.Status != model.JobStatusRunning {
		return false, nil
	}
	now := time.Now().UTC()
	job.Status = model.JobStatusCompleted
	job.Result = append(json.RawMessage(nil), params.Result...)
	job.Message = ""
	job.CompletedAt = &now
	job.UpdatedAt = now
	return true, nil
}

func (f *fakeJobRepo) Fail(_ context.Context, params core.FailJobParams) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.failErrs) > 0 {
		err := f.failErrs[0]
		f.failErrs = f.failErrs[1:]
		if err != nil {
			return false, err
		}
	}

	job, ok := f.jobs[repoKey(params.TenantID, params.JobID)]
	if !ok || job.Status.Terminal() {
		return false, nil
	}
	now := time.Now().UTC()
	job.Status = model.JobStatusFailed
	job.Message = model.TruncateMessage(params.Message)
	job.CompletedAt = &now
	job.UpdatedAt = now
	return true, nil
}

func (f *fakeJobRepo) Stats(_ context.Context, tenantID string) (*model.JobStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var s model.JobStats
	for _, job := range f.jobs {
		if job.TenantID != tenantID {
			continue
		}
		switch job.Status {
		case model.JobStatusPending:
			s.Pending++
		case model.JobStatusRunning:
			s.Running++
		case model.JobStatusCompleted:
			s.Completed++
		case model.JobStatusFailed:
			s.Failed++
		}
	}
	return &s, nil
}

func (f *fakeJobRepo) get(tenantID, jobID string) *model.Job {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[repoKey(tenantID, jobID)]
	if !ok {
		return nil
	}
	cp := *job
	return &cp
}

// fakeReconcilerRepo returns scripted sweep batches.
type fakeReconcilerRepo struct {
	mu      sync.Mutex
	batches [][]core.StaleJobGroup
	calls   []core.FailStaleJobsParams
	err     error
}

func (f *fakeReconcilerRepo) FailStaleJobs(_ context.Context, params core.FailStaleJobsParams) ([]core.StaleJobGroup, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, params)
	if f.err != nil {
		return nil, f.err
	}
	if len(f.batches) == 0 {
		return nil, nil
	}
	batch := f.batches[0]
	f.batches = f.batches[1:]
	return batch, nil
}

// fakeSink records emitted metrics for assertions.
type fakeSink struct {
	mu      sync.Mutex
	counts  map[string]int64
	values  map[string][]int64
	tags    map[string][]map[string]string
	timings map[string]int
}

func newFakeSink() *fakeSink {
	return &fakeSink{
		counts:  map[string]int64{},
		values:  map[string][]int64{},
		tags:    map[string][]map[string]string{},
		timings: map[string]int{},
	}
}

func (f *fakeSink) Count(name string, value int64, tags map[string]string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.counts[name] += value
	f.values[name] = append(f.values[name], value)
	f.tags[name] = append(f.tags[name], tags)
}

func (f *fakeSink) Gauge(string, float64, map[string]string) {}

func (f *fakeSink) Timing(name string, _ time.Duration, _ map[string]string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.timings[name]++
}

func (f *fakeSink) count(name string) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.counts[name]
}

func (f *fakeSink) lastTags(name string) map[string]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	all := f.tags[name]
	if len(all) == 0 {
		return nil
	}
	return all[len(all)-1]
}

// taggedCount sums the values of every Count call whose tags include all of
// the given key-value pairs.
func (f *fakeSink) taggedCount(name string, want map[string]string) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()

	var total int64
	for i, tags := range f.tags[name] {
		matched := true
		for k, v := range want {
			if tags[k] != v {
				matched = false
				break
			}
		}
		if matched {
			total += f.values[name][i]
		}
	}
	return total
}

// fakeDispatchRecorder records Dispatch calls without executing anything.
type fakeDispatchRecorder struct {
	mu    sync.Mutex
	calls []string
}

func (f *fakeDispatchRecorder) Dispatch(_, jobID, _ string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, jobID)
}

func (f *fakeDispatchRecorder) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// fakeResultCache is an in-memory core.ResultCache.
type fakeResultCache struct {
	mu      sync.Mutex
	entries map[string]*model.Job
	puts    int
	hits    int
}

func newFakeResultCache() *fakeResultCache {
	return &fakeResultCache{entries: map[string]*model.Job{}}
}

func (f *fakeResultCache) Get(_ context.Context, tenantID, jobID string) (*model.Job, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.entries[repoKey(tenantID, jobID)]
	if !ok {
		return nil, false
	}
	f.hits++
	cp := *job
	return &cp, true
}

func (f *fakeResultCache) Put(_ context.Context, job *model.Job) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.puts++
	cp := *job
	f.entries[repoKey(job.TenantID, job.ID)] = &cp
}
