package db

import (
	"context"
	"time"

	"seopulse/internal/types"
)

// JobLockRepository provides distributed locks via the job_locks table. The
// scheduler takes one per task window ("sync_search:2026-03-01T03") so that
// overlapping cron firings and manual triggers run a task once, and the SQS
// job store uses it to hold dedupe keys.
type JobLockRepository struct {
	db DBTX
}

// NewJobLockRepository creates a JobLockRepository.
func NewJobLockRepository(db DBTX) *JobLockRepository {
	return &JobLockRepository{db: db}
}

// Acquire inserts or reclaims the lock row. It reports false when another
// holder's lock has not yet expired.
//
// expires_at is computed in Go because Go duration strings ("15m0s") are not
// valid PostgreSQL intervals.
func (r *JobLockRepository) Acquire(ctx context.Context, lockID, holder string, ttl time.Duration) (bool, error) {
	now := nowFunc()
	tag, err := r.db.Exec(ctx,
		`INSERT INTO job_locks (id, worker_id, locked_at, expires_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (id) DO UPDATE
		   SET worker_id = EXCLUDED.worker_id,
		       locked_at = EXCLUDED.locked_at,
		       expires_at = EXCLUDED.expires_at
		   WHERE job_locks.expires_at < $3`,
		lockID, holder, now, now.Add(ttl),
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to acquire job lock", err)
	}
	return tag.RowsAffected() > 0, nil
}

// Holder returns the current holder of an unexpired lock, or "" when the lock
// is free.
func (r *JobLockRepository) Holder(ctx context.Context, lockID string) (string, error) {
	var holder string
	err := r.db.QueryRow(ctx,
		`SELECT worker_id FROM job_locks WHERE id = $1 AND expires_at >= $2`,
		lockID, nowFunc(),
	).Scan(&holder)
	if err != nil {
		if isNoRows(err) {
			return "", nil
		}
		return "", types.NewAppError(types.ErrCodeInternalDB, "failed to read job lock", err)
	}
	return holder, nil
}

// Release deletes the lock if holder still owns it.
func (r *JobLockRepository) Release(ctx context.Context, lockID, holder string) error {
	_, err := r.db.Exec(ctx,
		`DELETE FROM job_locks WHERE id = $1 AND worker_id = $2`,
		lockID, holder,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to release job lock", err)
	}
	return nil
}

// JobHistoryRepository records scheduler task executions in job_history.
type JobHistoryRepository struct {
	db DBTX
}

// NewJobHistoryRepository creates a JobHistoryRepository.
func NewJobHistoryRepository(db DBTX) *JobHistoryRepository {
	return &JobHistoryRepository{db: db}
}

// Start inserts a running entry and returns its ID.
func (r *JobHistoryRepository) Start(ctx context.Context, task string) (int64, error) {
	var id int64
	err := r.db.QueryRow(ctx,
		`INSERT INTO job_history (job_type, started_at, status)
		 VALUES ($1, $2, 'running')
		 RETURNING id`,
		task, nowFunc(),
	).Scan(&id)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to start job history entry", err)
	}
	return id, nil
}

// Finish closes the entry with its status ("success" or "failed"), the
// number of items processed and the task error, if any.
func (r *JobHistoryRepository) Finish(ctx context.Context, id int64, status string, items int, taskErr error) error {
	var errMsg *string
	if taskErr != nil {
		s := taskErr.Error()
		errMsg = &s
	}
	tag, err := r.db.Exec(ctx,
		`UPDATE job_history
		 SET finished_at = $5, status = $2, items_count = $3, error = $4
		 WHERE id = $1`,
		id, status, items, errMsg, nowFunc(),
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to finish job history entry", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "job history entry not found", nil)
	}
	return nil
}
