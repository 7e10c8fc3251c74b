package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"seopulse/internal/types"
)

const jobColumns = `id, kind, payload, attempts, max_attempts, backoff, state,
	dedupe_key, scheduled_at, lease_expiry, last_error, created_at, updated_at`

// pendingStates is the SQL list matching the jobs_dedupe_pending_idx predicate.
const pendingStates = `('waiting', 'active', 'delayed')`

// JobRepository is the Postgres job store. Leasing uses
// FOR UPDATE SKIP LOCKED so any number of workers can poll one table, and
// dedupe relies on a partial unique index over pending jobs.
type JobRepository struct {
	db          DBTX
	backoff     types.BackoffPolicy
	maxAttempts int
}

// NewJobRepository creates a JobRepository. backoff and maxAttempts apply to
// jobs enqueued without explicit options.
func NewJobRepository(db DBTX, backoff types.BackoffPolicy, maxAttempts int) *JobRepository {
	return &JobRepository{db: db, backoff: backoff, maxAttempts: maxAttempts}
}

// Enqueue inserts a job. When opts.DedupeKey matches a pending job, no row is
// inserted and the existing job's ID is returned with Deduplicated set.
func (r *JobRepository) Enqueue(ctx context.Context, kind types.JobKind, payload types.JobPayload, opts types.EnqueueOptions) (types.EnqueueResult, error) {
	if err := types.ValidateJobPayload(kind, payload); err != nil {
		return types.EnqueueResult{}, err
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return types.EnqueueResult{}, types.NewAppError(types.ErrCodeValidationInvalidPayload, "failed to encode job payload", err)
	}
	return r.insert(ctx, kind, raw, opts, true)
}

func (r *JobRepository) insert(ctx context.Context, kind types.JobKind, payload json.RawMessage, opts types.EnqueueOptions, retryDedupe bool) (types.EnqueueResult, error) {
	now := nowFunc()
	backoff := r.backoff
	if opts.Backoff != nil {
		backoff = *opts.Backoff
	}
	maxAttempts := r.maxAttempts
	if opts.MaxAttempts > 0 {
		maxAttempts = opts.MaxAttempts
	}
	state := types.JobWaiting
	if opts.Delay > 0 {
		state = types.JobDelayed
	}
	backoffJSON, err := json.Marshal(backoff)
	if err != nil {
		return types.EnqueueResult{}, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to encode backoff policy", err)
	}

	id := "job_" + uuid.NewString()
	var inserted string
	err = r.db.QueryRow(ctx,
		`INSERT INTO jobs (id, kind, payload, attempts, max_attempts, backoff, state,
		                   dedupe_key, scheduled_at, created_at, updated_at)
		 VALUES ($1, $2, $3, 0, $4, $5, $6, $7, $8, $9, $9)
		 ON CONFLICT (dedupe_key) WHERE state IN `+pendingStates+` DO NOTHING
		 RETURNING id`,
		id, string(kind), payload, maxAttempts, backoffJSON, string(state),
		nilIfEmpty(opts.DedupeKey), now.Add(opts.Delay), now,
	).Scan(&inserted)
	if err == nil {
		return types.EnqueueResult{JobID: inserted}, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) || opts.DedupeKey == "" {
		return types.EnqueueResult{}, types.NewAppError(types.ErrCodeInternalQueue, "failed to enqueue job", err)
	}

	// Conflict: a pending job already holds the dedupe key.
	var existing string
	err = r.db.QueryRow(ctx,
		`SELECT id FROM jobs WHERE dedupe_key = $1 AND state IN `+pendingStates+` LIMIT 1`,
		opts.DedupeKey,
	).Scan(&existing)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) && retryDedupe {
			// The holder finished between the two statements and the index
			// slot is free again.
			return r.insert(ctx, kind, payload, opts, false)
		}
		return types.EnqueueResult{}, types.NewAppError(types.ErrCodeInternalQueue, "failed to look up deduplicated job", err)
	}
	return types.EnqueueResult{JobID: existing, Deduplicated: true}, nil
}

// Lease claims the oldest ready job of kind. Jobs whose lease expired are
// reclaimed; those already at their attempt limit are dead-lettered first.
// ok is false when nothing is ready.
func (r *JobRepository) Lease(ctx context.Context, kind types.JobKind, lease time.Duration) (*types.Job, bool, error) {
	now := nowFunc()

	if _, err := r.db.Exec(ctx,
		`UPDATE jobs
		 SET state = 'failed', lease_expiry = NULL, updated_at = $2,
		     last_error = COALESCE(last_error, 'lease expired on final attempt')
		 WHERE kind = $1 AND state = 'active' AND lease_expiry < $2 AND attempts >= max_attempts`,
		string(kind), now,
	); err != nil {
		return nil, false, types.NewAppError(types.ErrCodeInternalQueue, "failed to expire abandoned jobs", err)
	}

	row := r.db.QueryRow(ctx,
		`UPDATE jobs
		 SET state = 'active', attempts = attempts + 1, lease_expiry = $3, updated_at = $2
		 WHERE id = (
		     SELECT id FROM jobs
		     WHERE kind = $1
		       AND ((state IN ('waiting', 'delayed') AND scheduled_at <= $2)
		            OR (state = 'active' AND lease_expiry < $2))
		     ORDER BY scheduled_at, created_at
		     LIMIT 1
		     FOR UPDATE SKIP LOCKED)
		 RETURNING `+jobColumns,
		string(kind), now, now.Add(lease),
	)
	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, types.NewAppError(types.ErrCodeInternalQueue, "failed to lease job", err)
	}
	return job, true, nil
}

// Ack marks a leased job completed. attempt must match the lease.
func (r *JobRepository) Ack(ctx context.Context, jobID string, attempt int) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE jobs SET state = 'completed', lease_expiry = NULL, updated_at = $2
		 WHERE id = $1 AND state = 'active' AND attempts = $3`,
		jobID, nowFunc(), attempt,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalQueue, "failed to ack job", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeConflictNotLeased, fmt.Sprintf("job %s is not leased", jobID), nil)
	}
	return nil
}

// Fail records a failed attempt. The job is rescheduled with backoff unless
// the attempt limit is reached or cause is not retryable, in which case it
// moves to the dead-letter state.
func (r *JobRepository) Fail(ctx context.Context, jobID string, attempt int, cause error) (types.FailOutcome, error) {
	var (
		attempts, maxAttempts int
		backoffJSON           []byte
	)
	err := r.db.QueryRow(ctx,
		`SELECT attempts, max_attempts, backoff FROM jobs WHERE id = $1 AND state = 'active' AND attempts = $2`,
		jobID, attempt,
	).Scan(&attempts, &maxAttempts, &backoffJSON)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", types.NewAppError(types.ErrCodeConflictNotLeased, fmt.Sprintf("job %s is not leased", jobID), nil)
		}
		return "", types.NewAppError(types.ErrCodeInternalQueue, "failed to load job for failure", err)
	}

	var policy types.BackoffPolicy
	if err := json.Unmarshal(backoffJSON, &policy); err != nil {
		return "", types.NewAppError(types.ErrCodeInternalQueue, "failed to decode backoff policy", err)
	}

	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	now := nowFunc()
	outcome := types.FailRetryScheduled
	state := types.JobDelayed
	scheduledAt := now.Add(policy.NextDelay(attempts))
	if (cause != nil && !types.IsRetryable(cause)) || attempts >= maxAttempts {
		outcome = types.FailDeadLettered
		state = types.JobFailed
		scheduledAt = now
	}

	// attempts in the WHERE clause rejects a concurrent re-lease.
	tag, err := r.db.Exec(ctx,
		`UPDATE jobs
		 SET state = $3, scheduled_at = $4, last_error = $5, lease_expiry = NULL, updated_at = $6
		 WHERE id = $1 AND state = 'active' AND attempts = $2`,
		jobID, attempts, string(state), scheduledAt, msg, now,
	)
	if err != nil {
		return "", types.NewAppError(types.ErrCodeInternalQueue, "failed to record job failure", err)
	}
	if tag.RowsAffected() == 0 {
		return "", types.NewAppError(types.ErrCodeConflictConcurrent, fmt.Sprintf("job %s changed while failing", jobID), nil)
	}
	return outcome, nil
}

// Counts returns per-state job counts for kind.
func (r *JobRepository) Counts(ctx context.Context, kind types.JobKind) (types.JobCounts, error) {
	rows, err := r.db.Query(ctx,
		`SELECT state, COUNT(*) FROM jobs WHERE kind = $1 GROUP BY state`,
		string(kind),
	)
	if err != nil {
		return types.JobCounts{}, types.NewAppError(types.ErrCodeInternalQueue, "failed to count jobs", err)
	}
	defer rows.Close()

	var counts types.JobCounts
	for rows.Next() {
		var (
			state string
			n     int64
		)
		if err := rows.Scan(&state, &n); err != nil {
			return types.JobCounts{}, types.NewAppError(types.ErrCodeInternalQueue, "failed to scan job count", err)
		}
		switch types.JobState(state) {
		case types.JobWaiting:
			counts.Waiting = n
		case types.JobActive:
			counts.Active = n
		case types.JobDelayed:
			counts.Delayed = n
		case types.JobCompleted:
			counts.Completed = n
		case types.JobFailed:
			counts.Failed = n
		}
	}
	if err := rows.Err(); err != nil {
		return types.JobCounts{}, types.NewAppError(types.ErrCodeInternalQueue, "failed to iterate job counts", err)
	}
	return counts, nil
}

// DeadLetters returns the most recently failed jobs of kind.
func (r *JobRepository) DeadLetters(ctx context.Context, kind types.JobKind, limit int) ([]*types.Job, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+jobColumns+` FROM jobs
		 WHERE kind = $1 AND state = 'failed'
		 ORDER BY updated_at DESC
		 LIMIT $2`,
		string(kind), limit,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalQueue, "failed to list dead-lettered jobs", err)
	}
	defer rows.Close()

	var jobs []*types.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalQueue, "failed to scan dead-lettered job", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalQueue, "failed to iterate dead-lettered jobs", err)
	}
	return jobs, nil
}

// RequeueExpired returns abandoned leases to the waiting state. Lease already
// reclaims them lazily; the scheduler calls this so counts stay accurate for
// kinds with no active workers.
func (r *JobRepository) RequeueExpired(ctx context.Context) (int64, error) {
	now := nowFunc()
	tag, err := r.db.Exec(ctx,
		`UPDATE jobs
		 SET state = CASE WHEN attempts >= max_attempts THEN 'failed' ELSE 'waiting' END,
		     scheduled_at = $1, lease_expiry = NULL, updated_at = $1
		 WHERE state = 'active' AND lease_expiry < $1`,
		now,
	)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalQueue, "failed to requeue expired jobs", err)
	}
	return tag.RowsAffected(), nil
}

func scanJob(row pgx.Row) (*types.Job, error) {
	var (
		j                    types.Job
		kind, state          string
		backoffJSON          []byte
		dedupeKey, lastError *string
	)
	if err := row.Scan(
		&j.ID, &kind, &j.Payload, &j.Attempts, &j.MaxAttempts, &backoffJSON, &state,
		&dedupeKey, &j.ScheduledAt, &j.LeaseExpiry, &lastError, &j.CreatedAt, &j.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if len(backoffJSON) > 0 {
		if err := json.Unmarshal(backoffJSON, &j.Backoff); err != nil {
			return nil, fmt.Errorf("decoding backoff: %w", err)
		}
	}
	j.Kind = types.JobKind(kind)
	j.State = types.JobState(state)
	j.DedupeKey = derefString(dedupeKey)
	j.LastError = derefString(lastError)
	return &j, nil
}
