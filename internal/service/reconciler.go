package service

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"log/slog"
	"time"

	"github.com/openparcel/jobcore/config"
	"github.com/openparcel/jobcore/internal/core"
	obserrors "github.com/openparcel/jobcore/internal/observability/errors"
	"github.com/openparcel/jobcore/internal/observability/metrics"
	"github.com/openparcel/jobcore/internal/observability/statsd"
)

// ReconcilerOptions groups dependencies for Reconciler.
type ReconcilerOptions struct {
	Repo    core.ReconcilerRepository // Required: reconciler repository
	Config  config.ReconcilerConfig   // Required: reconciler configuration
	Logger  *slog.Logger              // Optional: structured logger
	Metrics statsd.Sink               // Optional: metrics sink (StatsD-compatible)
}

// Reconciler is the crash-detection safety net: it force-fails jobs stuck in
// a non-terminal status past the configured timeout, so a process that died
// mid-execution cannot strand work in running forever.
type Reconciler struct {
	repo    core.ReconcilerRepository
	config  config.ReconcilerConfig
	logger  *slog.Logger
	metrics statsd.Sink
}

// NewReconciler constructs a new Reconciler.
func NewReconciler(opts ReconcilerOptions) (*Reconciler, error) {
	if opts.Repo == nil {
		return nil, errors.New("ReconcilerRepository is required")
	}

	cfg := opts.Config
	cfg.Sanitize()

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "reconciler")
		logger.Debug("Reconciler initialized",
			"interval", cfg.Interval,
			"job_timeout", cfg.JobTimeout,
			"batch_size", cfg.BatchSize,
		)
	}

	return &Reconciler{
		repo:    opts.Repo,
		config:  cfg,
		logger:  logger,
		metrics: opts.Metrics,
	}, nil
}

// Run starts the reconciler loop and runs until the context is cancelled.
// Returns nil on graceful shutdown (context.Canceled), error otherwise.
func (s *Reconciler) Run(ctx context.Context) error {
	if s.logger != nil {
		s.logger.InfoContext(ctx, "starting reconciler", "interval", s.config.Interval)
	}

	// Add jitter to prevent thundering herd if multiple instances start together
	s.waitWithJitter(ctx)

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	// Run a sweep immediately after jitter
	if err := s.runSweep(ctx); err != nil {
		s.logSweepError(err)
	}

	for {
		select {
		case <-ctx.Done():
			if s.logger != nil {
				s.logger.InfoContext(ctx, "reconciler stopping", "reason", ctx.Err())
			}
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()

		case <-ticker.C:
			if err := s.runSweep(ctx); err != nil {
				s.logSweepError(err)
				// Continue running despite errors
			}
		}
	}
}

// waitWithJitter adds a random delay up to 10% of the interval to prevent thundering herd.
func (s *Reconciler) waitWithJitter(ctx context.Context) {
	maxJitter := int64(s.config.Interval / 10)
	if maxJitter <= 0 {
		return
	}

	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		// If crypto/rand fails, skip jitter rather than failing startup
		if s.logger != nil {
			s.logger.WarnContext(ctx, "failed to generate jitter, skipping", "error", err)
		}
		return
	}

	jitter := time.Duration(int64(binary.BigEndian.Uint64(buf[:]) % uint64(maxJitter)))

	select {
	case <-time.After(jitter):
	case <-ctx.Done():
	}
}

// runSweep force-fails stale jobs in batches until no more rows are affected.
// Reconciled counters are attributed per tenant and job type.
func (s *Reconciler) runSweep(ctx context.Context) error {
	start := time.Now()
	totals := map[metrics.JobTags]int64{}
	var total int64

	emit := func() {
		metrics.EmitReconcilerSweep(s.metrics, time.Since(start))
		for tags, count := range totals {
			metrics.EmitJobsReconciled(s.metrics, tags, count)
		}
	}

	for {
		groups, err := s.repo.FailStaleJobs(ctx, core.FailStaleJobsParams{
			Timeout:   s.config.JobTimeout,
			BatchSize: s.config.BatchSize,
		})
		var count int64
		for _, g := range groups {
			count += g.Count
			totals[metrics.JobTags{TenantID: g.TenantID, JobType: g.JobType}] += g.Count
		}
		total += count
		if err != nil {
			emit()
			metrics.EmitReconcilerSweepError(s.metrics, obserrors.Classify(err))
			return err
		}
		if count == 0 {
			break
		}
		// Check context between batches
		if ctx.Err() != nil {
			emit()
			return ctx.Err()
		}
	}

	emit()

	if total > 0 && s.logger != nil {
		s.logger.InfoContext(ctx, "force-failed stale jobs",
			"count", total,
			"job_timeout", s.config.JobTimeout,
		)
	}

	return nil
}

func (s *Reconciler) logSweepError(err error) {
	if err == nil || s.logger == nil {
		return
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		s.logger.Debug("reconciler sweep cancelled by context", "error", err)
		return
	}
	s.logger.Error("reconciler sweep failed",
		"error", err,
		"error_class", obserrors.Classify(err),
	)
}
