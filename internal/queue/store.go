// Package queue defines the job store contract shared by the worker pools,
// the scheduler and jobctl, together with the in-memory and SQS backends.
// The Postgres backend lives in internal/db.
package queue

import (
	"context"
	"time"

	"seopulse/internal/types"
)

// DefaultMaxAttempts applies when EnqueueOptions.MaxAttempts is zero.
const DefaultMaxAttempts = 3

// DefaultBackoff is exponential from 30s, doubling, capped at 30m.
var DefaultBackoff = types.BackoffPolicy{
	BaseDelay:     30 * time.Second,
	MaxDelay:      30 * time.Minute,
	BackoffFactor: 2,
}

// Store is a durable job queue with leases.
//
// Every leased job must be acknowledged exactly once with Ack or Fail. The
// attempt argument is the lease token: the Attempts value of the job Lease
// returned. A second call, or a call carrying the token of a lease that
// expired and was taken over by another worker, returns a
// conflict_job_not_leased error.
type Store interface {
	// Enqueue adds a job. When opts.DedupeKey matches a pending job the call
	// is a no-op reporting the existing job.
	Enqueue(ctx context.Context, kind types.JobKind, payload types.JobPayload, opts types.EnqueueOptions) (types.EnqueueResult, error)

	// Lease claims the oldest due job of kind. ok is false when none is due.
	Lease(ctx context.Context, kind types.JobKind, lease time.Duration) (job *types.Job, ok bool, err error)

	Ack(ctx context.Context, jobID string, attempt int) error

	// Fail schedules a retry with backoff, or dead-letters the job when its
	// attempts are exhausted or jobErr is not retryable.
	Fail(ctx context.Context, jobID string, attempt int, jobErr error) (types.FailOutcome, error)

	Counts(ctx context.Context, kind types.JobKind) (types.JobCounts, error)
	DeadLetters(ctx context.Context, kind types.JobKind, limit int) ([]*types.Job, error)
}

func notLeased(jobID string) error {
	return types.NewAppError(types.ErrCodeConflictNotLeased, "job "+jobID+" is not leased", nil)
}

// resolveOptions applies store defaults to opts.
func resolveOptions(opts types.EnqueueOptions) (types.BackoffPolicy, int) {
	backoff := DefaultBackoff
	if opts.Backoff != nil {
		backoff = *opts.Backoff
	}
	maxAttempts := DefaultMaxAttempts
	if opts.MaxAttempts > 0 {
		maxAttempts = opts.MaxAttempts
	}
	return backoff, maxAttempts
}

// deadLetter reports whether a failed attempt should end the job.
func deadLetter(attempts, maxAttempts int, jobErr error) bool {
	return attempts >= maxAttempts || (jobErr != nil && !types.IsRetryable(jobErr))
}
