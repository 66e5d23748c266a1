package core

import (
	"context"
	"time"

	"github.com/openparcel/jobcore/internal/domain/model"
)

// This file contains repository interface definitions (ports in hexagonal architecture).
// These interfaces define the contracts between the service layer and data layer.
// Service implementations should depend on these interfaces, not concrete implementations.

// CreateJobParams groups parameters for JobRepository.Create.
type CreateJobParams struct {
	ID       string
	TenantID string
	Type     string
	Params   []byte
}

// CompleteJobParams groups parameters for JobRepository.Complete.
type CompleteJobParams struct {
	TenantID string
	JobID    string
	Result   []byte
}

// FailJobParams groups parameters for JobRepository.Fail.
type FailJobParams struct {
	TenantID string
	JobID    string
	Message  string
}

// JobRepository defines the interface for job data operations. Every method
// is tenant scoped; a job id from another tenant behaves as if it does not
// exist.
type JobRepository interface {
	// Create inserts a new job in pending status and returns the stored row.
	Create(ctx context.Context, params CreateJobParams) (*model.Job, error)

	// GetByID returns the job or a not_found error.
	GetByID(ctx context.Context, tenantID, jobID string) (*model.Job, error)

	// MarkRunning transitions pending → running and stamps started_at.
	// Returns false with no error when the job is no longer pending, so
	// racing executors can tell a lost claim from a failure.
	MarkRunning(ctx context.Context, tenantID, jobID string) (bool, error)

	// Complete transitions running → completed with the result payload.
	// Returns false when the job is not in running status.
	Complete(ctx context.Context, params CompleteJobParams) (bool, error)

	// Fail transitions a non-terminal job to failed with an error message.
	// Returns false when the job is already terminal.
	Fail(ctx context.Context, params FailJobParams) (bool, error)

	// Stats returns per-status counts for a tenant.
	Stats(ctx context.Context, tenantID string) (*model.JobStats, error)
}

// FailStaleJobsParams groups parameters for ReconcilerRepository.FailStaleJobs.
type FailStaleJobsParams struct {
	Timeout   time.Duration
	BatchSize int
}

// StaleJobGroup counts the jobs force-failed in one batch for a single
// tenant and job type, so callers can attribute sweep activity per tenant.
type StaleJobGroup struct {
	TenantID string
	JobType  string
	Count    int64
}

// ReconcilerRepository defines the interface for stale-job cleanup operations.
type ReconcilerRepository interface {
	// FailStaleJobs force-fails non-terminal jobs whose updated_at is older
	// than the timeout. Processes up to BatchSize jobs per call to prevent
	// long locks. Returns the failed jobs grouped by tenant and type; an
	// empty slice means nothing was stale.
	FailStaleJobs(ctx context.Context, params FailStaleJobsParams) ([]StaleJobGroup, error)
}

// ResultCache caches immutable terminal job snapshots. Implementations must
// never return an error that should fail a read; callers treat every cache
// miss or cache error as a plain miss.
type ResultCache interface {
	Get(ctx context.Context, tenantID, jobID string) (*model.Job, bool)
	Put(ctx context.Context, job *model.Job)
}

// JobDispatcher hands a freshly persisted job to the execution runtime.
type JobDispatcher interface {
	Dispatch(tenantID, jobID, jobType string)
}
