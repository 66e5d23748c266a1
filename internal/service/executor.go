package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/openparcel/jobcore/config"
	"github.com/openparcel/jobcore/internal/core"
	apperrors "github.com/openparcel/jobcore/internal/errors"
	obserrors "github.com/openparcel/jobcore/internal/observability/errors"
	"github.com/openparcel/jobcore/internal/observability/metrics"
	"github.com/openparcel/jobcore/internal/observability/statsd"
	"github.com/openparcel/jobcore/internal/registry"
)

// ExecutorOptions groups dependencies for Executor.
type ExecutorOptions struct {
	Repo     core.JobRepository    // Required: job repository
	Registry *registry.Registry    // Required: job type registry
	Config   config.ExecutorConfig // Required: executor configuration
	Logger   *slog.Logger          // Optional: structured logger
	Metrics  statsd.Sink           // Optional: metrics sink (StatsD-compatible)
}

// Executor runs submitted jobs on background goroutines, decoupled from the
// submission path. Each execution claims its job with a conditional
// pending → running update, so racing executors resolve to exactly one
// winner regardless of how many Dispatch calls target the same id.
type Executor struct {
	repo     core.JobRepository
	registry *registry.Registry
	config   config.ExecutorConfig
	logger   *slog.Logger
	metrics  statsd.Sink

	// baseCtx outlives any request context; cancelled only on shutdown.
	baseCtx    context.Context
	cancelBase context.CancelFunc
	slots      chan struct{}
	wg         sync.WaitGroup
}

var _ core.JobDispatcher = (*Executor)(nil)

// NewExecutor constructs a new Executor.
func NewExecutor(opts ExecutorOptions) (*Executor, error) {
	if opts.Repo == nil {
		return nil, errors.New("JobRepository is required")
	}
	if opts.Registry == nil {
		return nil, errors.New("Registry is required")
	}

	cfg := opts.Config
	cfg.Sanitize()

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "executor")
	}

	baseCtx, cancel := context.WithCancel(context.Background())

	return &Executor{
		repo:       opts.Repo,
		registry:   opts.Registry,
		config:     cfg,
		logger:     logger,
		metrics:    opts.Metrics,
		baseCtx:    baseCtx,
		cancelBase: cancel,
		slots:      make(chan struct{}, cfg.MaxConcurrent),
	}, nil
}

// Dispatch schedules a job for background execution and returns immediately.
// The execution context derives from the executor's base context, never from
// the caller's request context, so an aborted HTTP request cannot cancel a
// running job.
func (e *Executor) Dispatch(tenantID, jobID, jobType string) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()

		select {
		case e.slots <- struct{}{}:
			defer func() { <-e.slots }()
		case <-e.baseCtx.Done():
			return
		}

		e.Execute(e.baseCtx, tenantID, jobID, jobType)
	}()
}

// Run blocks until ctx is cancelled, then drains in-flight executions.
// Jobs interrupted mid-flight stay in running status and are resolved by
// the reconciler after the timeout.
func (e *Executor) Run(ctx context.Context) error {
	if e.logger != nil {
		e.logger.InfoContext(ctx, "executor runtime started",
			"max_concurrent", e.config.MaxConcurrent,
			"job_timeout", e.config.JobTimeout,
		)
	}

	<-ctx.Done()
	e.cancelBase()
	e.wg.Wait()

	if e.logger != nil {
		e.logger.Info("executor runtime stopped")
	}
	return nil
}

// Execute runs a single job to a terminal state. Safe to call concurrently
// for the same job id: the conditional claim guarantees at most one caller
// proceeds past the pending → running transition.
func (e *Executor) Execute(ctx context.Context, tenantID, jobID, jobType string) {
	tags := metrics.JobTags{TenantID: tenantID, JobType: jobType}

	// Wall-clock time for the whole attempt, including load, claim, handler
	// and terminal write. Recorded even when the attempt exits early.
	start := time.Now()
	defer func() {
		metrics.EmitJobDuration(e.metrics, tags, time.Since(start))
	}()

	job, err := e.repo.GetByID(ctx, tenantID, jobID)
	if err != nil {
		if apperrors.IsNotFound(err) {
			// The row committed before Dispatch, so this indicates external
			// interference with the store rather than a normal race.
			if e.logger != nil {
				e.logger.ErrorContext(ctx, "job missing at execution time", "job_id", jobID)
			}
			metrics.EmitJobFailed(e.metrics, tags, metrics.FailureReasonNotFound)
			return
		}
		if e.logger != nil {
			e.logger.ErrorContext(ctx, "load job for execution failed", "job_id", jobID, "error", err)
		}
		return
	}

	claimed, err := e.repo.MarkRunning(ctx, tenantID, jobID)
	if err != nil {
		if e.logger != nil {
			e.logger.ErrorContext(ctx, "claim job failed", "job_id", jobID, "error", err)
		}
		return
	}
	if !claimed {
		// Another executor won the claim, or the reconciler already resolved
		// the job. Abort with no side effects.
		if e.logger != nil {
			e.logger.DebugContext(ctx, "job already claimed", "job_id", jobID)
		}
		return
	}

	result, execErr := e.invoke(ctx, job.Type, job.Params)
	if execErr != nil {
		e.finishFailed(ctx, tags, jobID, execErr)
		return
	}
	e.finishCompleted(ctx, tags, jobID, result)
}

// invoke looks up the handler and runs it under the configured timeout,
// converting panics into errors.
func (e *Executor) invoke(ctx context.Context, jobType string, params json.RawMessage) (result json.RawMessage, err error) {
	handler, lookupErr := e.registry.Lookup(jobType)
	if lookupErr != nil {
		return nil, lookupErr
	}

	execCtx, cancel := context.WithTimeout(ctx, e.config.JobTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			err = &panicError{value: r}
		}
	}()

	return handler.Execute(execCtx, params)
}

// panicError marks a failure caused by a recovered handler panic.
type panicError struct {
	value any
}

func (p *panicError) Error() string {
	return fmt.Sprintf("job handler panicked: %v", p.value)
}

func (e *Executor) finishCompleted(ctx context.Context, tags metrics.JobTags, jobID string, result json.RawMessage) {
	ok, err := e.writeTerminal(ctx, func(ctx context.Context) (bool, error) {
		return e.repo.Complete(ctx, core.CompleteJobParams{
			TenantID: tags.TenantID,
			JobID:    jobID,
			Result:   result,
		})
	})
	if err != nil {
		if e.logger != nil {
			e.logger.ErrorContext(ctx, "record job completion failed; leaving for reconciler",
				"job_id", jobID, "error", err, "error_class", obserrors.Classify(err))
		}
		return
	}
	if !ok {
		// The reconciler force-failed the job while it was running.
		if e.logger != nil {
			e.logger.WarnContext(ctx, "job no longer running at completion time", "job_id", jobID)
		}
		return
	}

	metrics.EmitJobCompleted(e.metrics, tags)
	if e.logger != nil {
		e.logger.InfoContext(ctx, "job completed", "job_id", jobID, "tenant_id", tags.TenantID)
	}
}

func (e *Executor) finishFailed(ctx context.Context, tags metrics.JobTags, jobID string, execErr error) {
	reason := failureReason(execErr)

	ok, err := e.writeTerminal(ctx, func(ctx context.Context) (bool, error) {
		return e.repo.Fail(ctx, core.FailJobParams{
			TenantID: tags.TenantID,
			JobID:    jobID,
			Message:  execErr.Error(),
		})
	})
	if err != nil {
		if e.logger != nil {
			e.logger.ErrorContext(ctx, "record job failure failed; leaving for reconciler",
				"job_id", jobID, "error", err, "error_class", obserrors.Classify(err))
		}
		return
	}
	if !ok {
		if e.logger != nil {
			e.logger.WarnContext(ctx, "job no longer running at failure time", "job_id", jobID)
		}
		return
	}

	metrics.EmitJobFailed(e.metrics, tags, reason)
	if e.logger != nil {
		e.logger.ErrorContext(ctx, "job failed",
			"job_id", jobID,
			"tenant_id", tags.TenantID,
			"failure_reason", reason,
			"error", execErr,
		)
	}
}

// writeTerminal performs a terminal-state write, retrying once on error.
// The executor's base context may already be cancelled during shutdown, so
// the retry runs on a short detached timeout.
func (e *Executor) writeTerminal(ctx context.Context, write func(context.Context) (bool, error)) (bool, error) {
	ok, err := write(ctx)
	if err == nil {
		return ok, nil
	}

	retryCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ok, retryErr := write(retryCtx)
	if retryErr != nil {
		return false, errors.Join(err, retryErr)
	}
	return ok, nil
}

func failureReason(err error) string {
	var pErr *panicError
	switch {
	case errors.As(err, &pErr):
		return metrics.FailureReasonPanic
	case apperrors.IsUnknownJobType(err):
		return "unknown_job_type"
	default:
		return metrics.FailureReasonExecutorError
	}
}
