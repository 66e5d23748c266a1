package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openparcel/jobcore/internal/core"
	"github.com/openparcel/jobcore/internal/domain/model"
	apperrors "github.com/openparcel/jobcore/internal/errors"
	"github.com/openparcel/jobcore/internal/registry"
	"github.com/openparcel/jobcore/internal/service"
)

// memJobRepo is an in-memory core.JobRepository for handler tests.
type memJobRepo struct {
	mu        sync.Mutex
	jobs      map[string]*model.Job
	createErr error
}

func newMemJobRepo() *memJobRepo {
	return &memJobRepo{jobs: make(map[string]*model.Job)}
}

func memKey(tenantID, jobID string) string { return tenantID + "/" + jobID }

func (r *memJobRepo) Create(_ context.Context, params core.CreateJobParams) (*model.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return nil, r.createErr
	}
	now := time.Now().UTC()
	job := &model.Job{
		ID:        params.ID,
		TenantID:  params.TenantID,
		Type:      params.Type,
		Status:    model.JobStatusPending,
		Params:    params.Params,
		CreatedAt: now,
		UpdatedAt: now,
	}
	r.jobs[memKey(params.TenantID, params.ID)] = job
	clone := *job
	return &clone, nil
}

func (r *memJobRepo) GetByID(_ context.Context, tenantID, jobID string) (*model.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[memKey(tenantID, jobID)]
	if !ok {
		return nil, apperrors.NotFoundf("job %s not found", jobID)
	}
	clone := *job
	return &clone, nil
}

func (r *memJobRepo) MarkRunning(_ context.Context, tenantID, jobID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[memKey(tenantID, jobID)]
	if !ok || job.Status != model.JobStatusPending {
		return false, nil
	}
	now := time.Now().UTC()
	job.Status = model.JobStatusRunning
	job.StartedAt = &now
	job.UpdatedAt = now
	return true, nil
}

func (r *memJobRepo) Complete(_ context.Context, params core.CompleteJobParams) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[memKey(params.TenantID, params.JobID)]
	if !ok || job.Status != model.JobStatusRunning {
		return false, nil
	}
	now := time.Now().UTC()
	job.Status = model.JobStatusCompleted
	job.Result = params.Result
	job.CompletedAt = &now
	job.UpdatedAt = now
	return true, nil
}

func (r *memJobRepo) Fail(_ context.Context, params core.FailJobParams) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[memKey(params.TenantID, params.JobID)]
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

func (r *memJobRepo) Stats(_ context.Context, tenantID string) (*model.JobStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stats := &model.JobStats{}
	for _, job := range r.jobs {
		if job.TenantID != tenantID {
			continue
		}
		switch job.Status {
		case model.JobStatusPending:
			stats.Pending++
		case model.JobStatusRunning:
			stats.Running++
		case model.JobStatusCompleted:
			stats.Completed++
		case model.JobStatusFailed:
			stats.Failed++
		}
	}
	return stats, nil
}

// noopDispatcher satisfies core.JobDispatcher without running anything.
type noopDispatcher struct{}

func (noopDispatcher) Dispatch(_, _, _ string) {}

func testRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	r := registry.New()
	require.NoError(t, r.Register("parcel_valuation", registry.Handler{
		Validate: func(params json.RawMessage) error {
			var body struct {
				ParcelID string `json:"parcel_id"`
			}
			if err := json.Unmarshal(params, &body); err != nil {
				return err
			}
			if body.ParcelID == "" {
				return errors.New("parcel_id is required")
			}
			return nil
		},
		Execute: func(_ context.Context, params json.RawMessage) (json.RawMessage, error) {
			return params, nil
		},
	}))
	return r
}

func newTestRouter(t *testing.T, repo *memJobRepo) http.Handler {
	t.Helper()
	d, err := service.NewDispatcher(service.DispatcherOptions{
		Repo:     repo,
		Registry: testRegistry(t),
		Executor: &noopDispatcher{},
	})
	require.NoError(t, err)

	reader, err := service.NewReader(service.ReaderOptions{Repo: repo})
	require.NoError(t, err)

	return NewRouter(RouterServices{Dispatcher: d, Reader: reader})
}

func doRequest(router http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestSubmitJobAccepted(t *testing.T) {
	repo := newMemJobRepo()
	router := newTestRouter(t, repo)

	rec := doRequest(router, http.MethodPost, "/api/tenants/COUNTY01/jobs",
		`{"type":"parcel_valuation","params":{"parcel_id":"P-100"}}`)

	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var job model.Job
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &job))
	assert.Equal(t, model.JobStatusPending, job.Status)
	assert.Equal(t, "COUNTY01", job.TenantID)
	assert.NotEmpty(t, job.ID)

	stored, err := repo.GetByID(context.Background(), "COUNTY01", job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusPending, stored.Status)
}

func TestSubmitJobValidationErrors(t *testing.T) {
	repo := newMemJobRepo()
	router := newTestRouter(t, repo)

	tests := []struct {
		name    string
		body    string
		errCode string
	}{
		{
			name:    "malformed json",
			body:    `{"type":`,
			errCode: "invalid_json",
		},
		{
			name:    "unknown field",
			body:    `{"type":"parcel_valuation","params":{},"priority":9}`,
			errCode: "invalid_json",
		},
		{
			name:    "missing params",
			body:    `{"type":"parcel_valuation"}`,
			errCode: "validation",
		},
		{
			name:    "validator rejects params",
			body:    `{"type":"parcel_valuation","params":{"parcel_id":""}}`,
			errCode: "validation",
		},
		{
			name:    "unregistered type",
			body:    `{"type":"nope","params":{"parcel_id":"P-1"}}`,
			errCode: "unknown_job_type",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doRequest(router, http.MethodPost, "/api/tenants/COUNTY01/jobs", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)

			var resp map[string]string
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, tt.errCode, resp["error"])
		})
	}
}

func TestSubmitJobPersistenceUnavailable(t *testing.T) {
	repo := newMemJobRepo()
	repo.createErr = apperrors.Unavailable("database is unreachable")
	router := newTestRouter(t, repo)

	rec := doRequest(router, http.MethodPost, "/api/tenants/COUNTY01/jobs",
		`{"type":"parcel_valuation","params":{"parcel_id":"P-100"}}`)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestGetStatus(t *testing.T) {
	repo := newMemJobRepo()
	router := newTestRouter(t, repo)

	job, err := repo.Create(context.Background(), core.CreateJobParams{
		ID:       "j1",
		TenantID: "COUNTY01",
		Type:     "parcel_valuation",
		Params:   []byte(`{"parcel_id":"P-100"}`),
	})
	require.NoError(t, err)

	rec := doRequest(router, http.MethodGet, "/api/tenants/COUNTY01/jobs/"+job.ID+"/status", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var view model.JobStatusView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, job.ID, view.ID)
	assert.Equal(t, model.JobStatusPending, view.Status)
}

func TestGetStatusNotFound(t *testing.T) {
	repo := newMemJobRepo()
	router := newTestRouter(t, repo)

	rec := doRequest(router, http.MethodGet, "/api/tenants/COUNTY01/jobs/missing/status", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetStatusCrossTenantNotFound(t *testing.T) {
	repo := newMemJobRepo()
	router := newTestRouter(t, repo)

	job, err := repo.Create(context.Background(), core.CreateJobParams{
		ID:       "j1",
		TenantID: "COUNTY01",
		Type:     "parcel_valuation",
		Params:   []byte(`{"parcel_id":"P-100"}`),
	})
	require.NoError(t, err)

	// Another tenant probing the same id gets the same response as a
	// missing job.
	rec := doRequest(router, http.MethodGet, "/api/tenants/COUNTY02/jobs/"+job.ID+"/status", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetResultLifecycle(t *testing.T) {
	repo := newMemJobRepo()
	router := newTestRouter(t, repo)
	ctx := context.Background()

	job, err := repo.Create(ctx, core.CreateJobParams{
		ID:       "j1",
		TenantID: "COUNTY01",
		Type:     "parcel_valuation",
		Params:   []byte(`{"parcel_id":"P-100"}`),
	})
	require.NoError(t, err)

	// Pending: 200 with a null result.
	rec := doRequest(router, http.MethodGet, "/api/tenants/COUNTY01/jobs/"+job.ID+"/result", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var view model.JobResultView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Nil(t, view.Result)

	claimed, err := repo.MarkRunning(ctx, "COUNTY01", job.ID)
	require.NoError(t, err)
	require.True(t, claimed)
	done, err := repo.Complete(ctx, core.CompleteJobParams{
		TenantID: "COUNTY01",
		JobID:    job.ID,
		Result:   []byte(`{"value": 125000}`),
	})
	require.NoError(t, err)
	require.True(t, done)

	rec = doRequest(router, http.MethodGet, "/api/tenants/COUNTY01/jobs/"+job.ID+"/result", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, model.JobStatusCompleted, view.Status)
	assert.JSONEq(t, `{"value": 125000}`, string(view.Result))
}

func TestGetResultFailedJob(t *testing.T) {
	repo := newMemJobRepo()
	router := newTestRouter(t, repo)
	ctx := context.Background()

	job, err := repo.Create(ctx, core.CreateJobParams{
		ID:       "j1",
		TenantID: "COUNTY01",
		Type:     "parcel_valuation",
		Params:   []byte(`{"parcel_id":"P-100"}`),
	})
	require.NoError(t, err)

	_, err = repo.MarkRunning(ctx, "COUNTY01", job.ID)
	require.NoError(t, err)
	_, err = repo.Fail(ctx, core.FailJobParams{
		TenantID: "COUNTY01",
		JobID:    job.ID,
		Message:  "upstream valuation feed rejected the parcel",
	})
	require.NoError(t, err)

	rec := doRequest(router, http.MethodGet, "/api/tenants/COUNTY01/jobs/"+job.ID+"/result", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var view model.JobResultView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, model.JobStatusFailed, view.Status)
	assert.Nil(t, view.Result)
	assert.Contains(t, view.Message, "rejected")
}

func TestStats(t *testing.T) {
	repo := newMemJobRepo()
	router := newTestRouter(t, repo)
	ctx := context.Background()

	for i, id := range []string{"a", "b", "c"} {
		_, err := repo.Create(ctx, core.CreateJobParams{
			ID:       id,
			TenantID: "COUNTY01",
			Type:     "parcel_valuation",
			Params:   []byte(`{"parcel_id":"P-100"}`),
		})
		require.NoError(t, err)
		if i == 0 {
			_, err = repo.MarkRunning(ctx, "COUNTY01", id)
			require.NoError(t, err)
		}
	}

	rec := doRequest(router, http.MethodGet, "/api/tenants/COUNTY01/jobs/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var stats model.JobStats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, 2, stats.Pending)
	assert.Equal(t, 1, stats.Running)
}

func TestHealthz(t *testing.T) {
	repo := newMemJobRepo()
	router := newTestRouter(t, repo)

	rec := doRequest(router, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","service":"jobcore"}`, rec.Body.String())

	rec = doRequest(router, http.MethodHead, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Body.String())
}
