package queue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"seopulse/internal/ratelimit"
	"seopulse/internal/types"
)

// RateChecker is satisfied by *ratelimit.Limiter.
type RateChecker interface {
	Check(ctx context.Context, key string, limit int, window time.Duration) ratelimit.Decision
}

// Enqueuer is the entry point for on-demand jobs. It validates the payload
// and applies the per-actor job rate limit before touching the store.
// Scheduler fan-out bypasses the limiter by calling the Store directly;
// payload validation still runs inside every Store.
type Enqueuer struct {
	store   Store
	limiter RateChecker
	limit   int
	window  time.Duration
	logger  *slog.Logger
}

// NewEnqueuer creates an Enqueuer. limiter may be nil to disable limiting.
func NewEnqueuer(store Store, limiter RateChecker, limit int, window time.Duration, logger *slog.Logger) *Enqueuer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Enqueuer{
		store:   store,
		limiter: limiter,
		limit:   limit,
		window:  window,
		logger:  logger,
	}
}

// EnqueueJob validates payload, checks the "jobs:<actorKey>" limit and
// enqueues. A limited call returns a rate_limit_exceeded error whose details
// carry retry_after_seconds.
func (e *Enqueuer) EnqueueJob(ctx context.Context, actorKey string, kind types.JobKind, payload types.JobPayload, opts types.EnqueueOptions) (types.EnqueueResult, error) {
	if !kind.Valid() {
		return types.EnqueueResult{}, types.NewAppError(types.ErrCodeValidationUnknownKind, fmt.Sprintf("unknown job kind %q", kind), nil)
	}
	if err := types.ValidateJobPayload(kind, payload); err != nil {
		return types.EnqueueResult{}, err
	}

	if e.limiter != nil && actorKey != "" {
		d := e.limiter.Check(ctx, "jobs:"+actorKey, e.limit, e.window)
		if !d.Allowed {
			e.logger.WarnContext(ctx, "job enqueue rate limited",
				"actor", actorKey,
				"kind", string(kind),
				"retry_after", d.RetryAfter.String(),
			)
			return types.EnqueueResult{}, types.NewAppErrorWithDetails(types.ErrCodeRateLimit, "too many jobs requested", nil,
				map[string]any{"retry_after_seconds": int(d.RetryAfter.Seconds())})
		}
	}

	res, err := e.store.Enqueue(ctx, kind, payload, opts)
	if err != nil {
		return types.EnqueueResult{}, err
	}
	e.logger.InfoContext(ctx, "job enqueued",
		"job_id", res.JobID,
		"kind", string(kind),
		"deduplicated", res.Deduplicated,
	)
	return res, nil
}

// GetJobStatus returns per-state counts for kind.
func (e *Enqueuer) GetJobStatus(ctx context.Context, kind types.JobKind) (types.JobCounts, error) {
	if !kind.Valid() {
		return types.JobCounts{}, types.NewAppError(types.ErrCodeValidationUnknownKind, fmt.Sprintf("unknown job kind %q", kind), nil)
	}
	return e.store.Counts(ctx, kind)
}
