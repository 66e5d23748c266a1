// Package service implements the job-orchestration business logic.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/openparcel/jobcore/internal/core"
	"github.com/openparcel/jobcore/internal/domain/model"
	apperrors "github.com/openparcel/jobcore/internal/errors"
	"github.com/openparcel/jobcore/internal/observability/metrics"
	"github.com/openparcel/jobcore/internal/observability/statsd"
	"github.com/openparcel/jobcore/internal/registry"
)

// DispatcherOptions groups dependencies for Dispatcher.
type DispatcherOptions struct {
	Repo     core.JobRepository // Required: job repository
	Registry *registry.Registry // Required: job type registry
	Executor core.JobDispatcher // Required: execution runtime
	Logger   *slog.Logger       // Optional: structured logger
	Metrics  statsd.Sink        // Optional: metrics sink (StatsD-compatible)
}

// Dispatcher accepts job submissions. It validates the request, persists a
// pending row, and hands the job to the execution runtime. Submit returns as
// soon as the row is durable; execution happens on its own goroutine.
type Dispatcher struct {
	repo     core.JobRepository
	registry *registry.Registry
	executor core.JobDispatcher
	logger   *slog.Logger
	metrics  statsd.Sink
}

// NewDispatcher constructs a new Dispatcher.
func NewDispatcher(opts DispatcherOptions) (*Dispatcher, error) {
	if opts.Repo == nil {
		return nil, errors.New("JobRepository is required")
	}
	if opts.Registry == nil {
		return nil, errors.New("Registry is required")
	}
	if opts.Executor == nil {
		return nil, errors.New("Executor is required")
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "dispatcher")
	}

	return &Dispatcher{
		repo:     opts.Repo,
		registry: opts.Registry,
		executor: opts.Executor,
		logger:   logger,
		metrics:  opts.Metrics,
	}, nil
}

// Submit validates and persists a new job, then schedules it for execution.
// On validation or unknown-type errors nothing is written and no job id
// exists. A non-nil return means the pending row committed; even if the
// process dies before execution starts, the reconciler will eventually
// resolve the job.
func (s *Dispatcher) Submit(ctx context.Context, req model.SubmitJobRequest) (*model.Job, error) {
	if err := req.Validate(); err != nil {
		return nil, apperrors.Validation(err.Error())
	}

	handler, err := s.registry.Lookup(req.Type)
	if err != nil {
		return nil, err
	}
	if handler.Validate != nil {
		if err := handler.Validate(req.Params); err != nil {
			return nil, apperrors.Validationf("invalid params for job type %s: %v", req.Type, err)
		}
	}

	job, err := s.repo.Create(ctx, core.CreateJobParams{
		ID:       uuid.NewString(),
		TenantID: req.TenantID,
		Type:     req.Type,
		Params:   req.Params,
	})
	if err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}

	metrics.EmitJobSubmitted(s.metrics, metrics.JobTags{
		TenantID: job.TenantID,
		JobType:  job.Type,
	})

	if s.logger != nil {
		s.logger.InfoContext(ctx, "job submitted",
			"job_id", job.ID,
			"tenant_id", job.TenantID,
			"job_type", job.Type,
		)
	}

	s.executor.Dispatch(job.TenantID, job.ID, job.Type)

	return job, nil
}
