package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/openparcel/jobcore/internal/core"
	"github.com/openparcel/jobcore/internal/data/pgxutil"
)

// Advisory lock namespace for reconciler operations.
// Using two-arg pg_try_advisory_xact_lock(major, minor) for proper namespacing.
// Major key 2000 is reserved for jobcore reconciler operations.
const (
	advisoryLockReconcilerMajor     = 2000
	advisoryLockReconcilerFailStale = 1 // minor key for FailStaleJobs
)

// FailStaleJobs force-fails non-terminal jobs whose updated_at is older than
// the timeout. Processes up to BatchSize jobs per call to prevent long locks
// and I/O spikes. Uses advisory locks so overlapping sweeps from concurrent
// reconciler instances do not conflict. The status predicate on the outer
// UPDATE means an executor finishing between the SELECT and the UPDATE wins;
// the reconciler never overwrites a terminal row.
// Returns the failed jobs grouped by tenant and type.
func (r *JobRepo) FailStaleJobs(ctx context.Context, params core.FailStaleJobsParams) ([]core.StaleJobGroup, error) {
	if params.Timeout <= 0 {
		return nil, errors.New("timeout must be greater than zero")
	}
	if params.BatchSize <= 0 {
		return nil, errors.New("batch size must be greater than zero")
	}

	var groups []core.StaleJobGroup
	err := pgxutil.WithSQLTx(ctx, r.DB, pgxutil.SQLTxConfig{
		Fn: func(tx *sql.Tx) error {
			var locked bool
			if err := tx.QueryRowContext(ctx, "SELECT pg_try_advisory_xact_lock($1, $2)", advisoryLockReconcilerMajor, advisoryLockReconcilerFailStale).Scan(&locked); err != nil {
				return fmt.Errorf("acquire advisory lock: %w", err)
			}
			if !locked {
				return nil
			}

			currentTime := r.timeProvider.Now()
			cutoffTime := currentTime.Add(-params.Timeout)

			rows, err := tx.QueryContext(ctx, `
				UPDATE jobs
				SET status = 'failed',
					message = 'job timed out after ' || $1 || ' in ' || status || ' status',
					completed_at = $2,
					updated_at = $2
				WHERE id IN (
					SELECT id FROM jobs
					WHERE status IN ('pending', 'running')
					  AND updated_at < $3
					ORDER BY updated_at
					LIMIT $4
					FOR UPDATE SKIP LOCKED
				)
				  AND status IN ('pending', 'running')
				RETURNING tenant_id, type
			`, params.Timeout.String(), currentTime.UTC(), cutoffTime.UTC(), params.BatchSize)
			if err != nil {
				return fmt.Errorf("fail stale jobs: %w", err)
			}
			defer rows.Close()

			index := map[[2]string]int{}
			for rows.Next() {
				var tenantID, jobType string
				if err = rows.Scan(&tenantID, &jobType); err != nil {
					return fmt.Errorf("scan failed job: %w", err)
				}
				key := [2]string{tenantID, jobType}
				if i, ok := index[key]; ok {
					groups[i].Count++
					continue
				}
				index[key] = len(groups)
				groups = append(groups, core.StaleJobGroup{TenantID: tenantID, JobType: jobType, Count: 1})
			}
			if err = rows.Err(); err != nil {
				return fmt.Errorf("iterate failed jobs: %w", err)
			}
			return nil
		},
	})
	if err != nil {
		return nil, err
	}
	return groups, nil
}
