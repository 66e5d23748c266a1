package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/openparcel/jobcore/internal/core"
	"github.com/openparcel/jobcore/internal/domain/model"
	apperrors "github.com/openparcel/jobcore/internal/errors"
)

// Create inserts a new job row in pending status and returns the stored row.
func (r *JobRepo) Create(ctx context.Context, params core.CreateJobParams) (*model.Job, error) {
	if params.ID == "" || params.TenantID == "" || params.Type == "" {
		return nil, errors.New("job id, tenant id, and type are required")
	}
	if len(params.Params) == 0 {
		params.Params = []byte(`{}`)
	}

	now := r.timeProvider.Now().UTC()
	row := r.DB.QueryRowContext(ctx, `
		INSERT INTO jobs (id, tenant_id, type, status, params, created_at, updated_at)
		VALUES ($1, $2, $3, 'pending', $4, $5, $5)
		RETURNING `+jobColumns, params.ID, params.TenantID, params.Type, params.Params, now)

	job, err := scanJobFromRow(row)
	if err != nil {
		return nil, apperrors.MapDBError(fmt.Errorf("insert job: %w", err))
	}
	return job, nil
}

// GetByID retrieves a job by id within a tenant. A job belonging to another
// tenant is indistinguishable from a missing one.
func (r *JobRepo) GetByID(ctx context.Context, tenantID, jobID string) (*model.Job, error) {
	row := r.DB.QueryRowContext(ctx, `
		SELECT `+jobColumns+`
		FROM jobs
		WHERE tenant_id = $1 AND id = $2
	`, tenantID, jobID)

	job, err := scanJobFromRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFoundf("job %s not found", jobID)
	}
	if err != nil {
		return nil, apperrors.MapDBError(fmt.Errorf("get job: %w", err))
	}
	return job, nil
}

// MarkRunning transitions a pending job to running and stamps started_at.
// The status predicate makes the claim atomic: of any number of racing
// callers exactly one sees rowsAffected == 1.
func (r *JobRepo) MarkRunning(ctx context.Context, tenantID, jobID string) (bool, error) {
	now := r.timeProvider.Now().UTC()
	res, err := r.DB.ExecContext(ctx, `
		UPDATE jobs
		SET status = 'running',
		    started_at = $3,
		    updated_at = $3
		WHERE tenant_id = $1 AND id = $2 AND status = 'pending'
	`, tenantID, jobID, now)
	if err != nil {
		return false, apperrors.MapDBError(fmt.Errorf("mark job running: %w", err))
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark running rows affected: %w", err)
	}
	return rowsAffected == 1, nil
}

// Complete transitions a running job to completed with its result payload.
func (r *JobRepo) Complete(ctx context.Context, params core.CompleteJobParams) (bool, error) {
	result := params.Result
	if len(result) == 0 {
		result = []byte(`{}`)
	}

	now := r.timeProvider.Now().UTC()
	res, err := r.DB.ExecContext(ctx, `
		UPDATE jobs
		SET status = 'completed',
		    result = $3,
		    message = '',
		    completed_at = $4,
		    updated_at = $4
		WHERE tenant_id = $1 AND id = $2 AND status = 'running'
	`, params.TenantID, params.JobID, result, now)
	if err != nil {
		return false, apperrors.MapDBError(fmt.Errorf("complete job: %w", err))
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("complete rows affected: %w", err)
	}
	return rowsAffected == 1, nil
}

// Fail transitions a non-terminal job to failed with an error message.
// Pending jobs are included so submission-time crashes can still be failed.
func (r *JobRepo) Fail(ctx context.Context, params core.FailJobParams) (bool, error) {
	now := r.timeProvider.Now().UTC()
	res, err := r.DB.ExecContext(ctx, `
		UPDATE jobs
		SET status = 'failed',
		    message = $3,
		    completed_at = $4,
		    updated_at = $4
		WHERE tenant_id = $1 AND id = $2 AND status IN ('pending', 'running')
	`, params.TenantID, params.JobID, model.TruncateMessage(params.Message), now)
	if err != nil {
		return false, apperrors.MapDBError(fmt.Errorf("fail job: %w", err))
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("fail rows affected: %w", err)
	}
	return rowsAffected == 1, nil
}

// Stats returns per-status counts of a tenant's jobs.
func (r *JobRepo) Stats(ctx context.Context, tenantID string) (*model.JobStats, error) {
	var s model.JobStats
	err := r.DB.QueryRowContext(ctx, `
  SELECT
    count(*) FILTER (WHERE status = 'pending')   AS pending,
    count(*) FILTER (WHERE status = 'running')   AS running,
    count(*) FILTER (WHERE status = 'completed') AS completed,
    count(*) FILTER (WHERE status = 'failed')    AS failed
  FROM jobs
  WHERE tenant_id = $1
  `, tenantID).Scan(
		&s.Pending,
		&s.Running,
		&s.Completed,
		&s.Failed,
	)
	if err != nil {
		return nil, apperrors.MapDBError(fmt.Errorf("job stats: %w", err))
	}
	return &s, nil
}

type jobRowScanner interface {
	Scan(dest ...any) error
}

func scanJobFromRow(scanner jobRowScanner) (*model.Job, error) {
	job := &model.Job{}
	var (
		params, result         []byte
		message                sql.NullString
		startedAt, completedAt sql.NullTime
	)

	if err := scanner.Scan(
		&job.ID,
		&job.TenantID,
		&job.Type,
		&job.Status,
		&params,
		&result,
		&message,
		&startedAt,
		&completedAt,
		&job.CreatedAt,
		&job.UpdatedAt,
	); err != nil {
		return nil, err
	}

	job.Params = cloneJSON(params)
	if len(result) > 0 {
		job.Result = append(json.RawMessage(nil), result...)
	}
	if message.Valid {
		job.Message = message.String
	}
	job.StartedAt = cloneNullableTime(startedAt)
	job.CompletedAt = cloneNullableTime(completedAt)
	return job, nil
}

func cloneJSON(raw []byte) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage(`{}`)
	}
	return append(json.RawMessage(nil), raw...)
}

func cloneNullableTime(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time.UTC()
	return &t
}
