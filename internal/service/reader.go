package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/openparcel/jobcore/internal/core"
	"github.com/openparcel/jobcore/internal/domain/model"
)

// ReaderOptions groups dependencies for Reader.
type ReaderOptions struct {
	Repo   core.JobRepository // Required: job repository
	Cache  core.ResultCache   // Optional: terminal snapshot cache
	Logger *slog.Logger       // Optional: structured logger
}

// Reader serves status and result polling. Reads never mutate job rows.
// Terminal snapshots are immutable, so they are served from the cache when
// present; everything else reads Postgres directly.
type Reader struct {
	repo   core.JobRepository
	cache  core.ResultCache
	logger *slog.Logger
}

// NewReader constructs a new Reader.
func NewReader(opts ReaderOptions) (*Reader, error) {
	if opts.Repo == nil {
		return nil, errors.New("JobRepository is required")
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "reader")
	}

	return &Reader{
		repo:   opts.Repo,
		cache:  opts.Cache,
		logger: logger,
	}, nil
}

// GetStatus returns the status view of a job. Missing and cross-tenant ids
// both yield not_found.
func (s *Reader) GetStatus(ctx context.Context, tenantID, jobID string) (*model.JobStatusView, error) {
	job, err := s.load(ctx, tenantID, jobID)
	if err != nil {
		return nil, err
	}
	view := job.StatusView()
	return &view, nil
}

// GetResult returns the result view of a job. The result field is nil for
// any non-completed status; polling before completion is not an error.
func (s *Reader) GetResult(ctx context.Context, tenantID, jobID string) (*model.JobResultView, error) {
	job, err := s.load(ctx, tenantID, jobID)
	if err != nil {
		return nil, err
	}
	view := job.ResultView()
	return &view, nil
}

// Stats returns per-status job counts for a tenant.
func (s *Reader) Stats(ctx context.Context, tenantID string) (*model.JobStats, error) {
	stats, err := s.repo.Stats(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("job stats for tenant %s: %w", tenantID, err)
	}
	return stats, nil
}

func (s *Reader) load(ctx context.Context, tenantID, jobID string) (*model.Job, error) {
	if s.cache != nil {
		if job, ok := s.cache.Get(ctx, tenantID, jobID); ok {
			return job, nil
		}
	}

	job, err := s.repo.GetByID(ctx, tenantID, jobID)
	if err != nil {
		return nil, err
	}

	if s.cache != nil && job.Status.Terminal() {
		s.cache.Put(ctx, job)
	}
	return job, nil
}
