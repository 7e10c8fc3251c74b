package db

import (
	"context"
	"time"

	"seopulse/internal/types"
)

// RateLimitRepository is a sliding-window log over rate_limit_hits. A hit is
// recorded only when it is allowed, so rejected calls do not extend the
// window.
type RateLimitRepository struct {
	db DBTX
}

// NewRateLimitRepository creates a RateLimitRepository.
func NewRateLimitRepository(db DBTX) *RateLimitRepository {
	return &RateLimitRepository{db: db}
}

// IncrementAndCheck counts hits for key inside (now-window, now] and records
// a new hit when the count is below limit. Two concurrent callers may both
// observe limit-1 and both be admitted; the limiter is best-effort.
func (r *RateLimitRepository) IncrementAndCheck(ctx context.Context, key string, limit int, window time.Duration) (types.RateLimitResult, error) {
	now := nowFunc()
	var (
		count  int
		oldest *time.Time
	)
	err := r.db.QueryRow(ctx,
		`WITH recent AS (
		     SELECT COUNT(*) AS n, MIN(hit_at) AS oldest
		     FROM rate_limit_hits
		     WHERE key = $1 AND hit_at > $2
		 ), ins AS (
		     INSERT INTO rate_limit_hits (key, hit_at)
		     SELECT $1, $3 FROM recent WHERE recent.n < $4
		     RETURNING hit_at
		 )
		 SELECT n, oldest FROM recent`,
		key, now.Add(-window), now, limit,
	).Scan(&count, &oldest)
	if err != nil {
		return types.RateLimitResult{}, types.NewAppError(types.ErrCodeInternalDB, "failed to check rate limit", err)
	}

	res := types.RateLimitResult{ResetAt: now.Add(window)}
	if oldest != nil {
		res.ResetAt = oldest.Add(window)
	}
	if count < limit {
		res.Allowed = true
		res.Remaining = limit - count - 1
	}
	return res, nil
}

// Prune deletes hits older than maxWindow. Run periodically by the scheduler.
func (r *RateLimitRepository) Prune(ctx context.Context, maxWindow time.Duration) (int64, error) {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM rate_limit_hits WHERE hit_at < $1`,
		nowFunc().Add(-maxWindow),
	)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to prune rate limit hits", err)
	}
	return tag.RowsAffected(), nil
}
