// Package ratelimit implements sliding-window rate limiting over a pluggable
// store. The limiter fails open: when the store is unavailable the call is
// allowed and a warning is logged.
package ratelimit

import (
	"context"
	"log/slog"
	"time"

	"seopulse/internal/types"
)

// Store counts hits per key. db.RateLimitRepository and MemoryStore
// implement it.
type Store interface {
	IncrementAndCheck(ctx context.Context, key string, limit int, window time.Duration) (types.RateLimitResult, error)
}

// Decision is the outcome of Check.
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// Limiter applies sliding-window limits.
type Limiter struct {
	store  Store
	clock  types.Clock
	logger *slog.Logger
}

// NewLimiter creates a Limiter. clock and logger may be nil.
func NewLimiter(store Store, clock types.Clock, logger *slog.Logger) *Limiter {
	if clock == nil {
		clock = types.RealClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Limiter{store: store, clock: clock, logger: logger}
}

// Check records a hit for key and reports whether it fits in limit hits per
// window. limit <= 0 disables the check.
func (l *Limiter) Check(ctx context.Context, key string, limit int, window time.Duration) Decision {
	if limit <= 0 || l == nil || l.store == nil {
		return Decision{Allowed: true, Remaining: limit}
	}

	res, err := l.store.IncrementAndCheck(ctx, key, limit, window)
	if err != nil {
		l.logger.WarnContext(ctx, "rate limit store unavailable, allowing request",
			"key", key,
			"error", err,
		)
		return Decision{Allowed: true, Remaining: limit}
	}

	d := Decision{Allowed: res.Allowed, Remaining: res.Remaining}
	if !res.Allowed {
		d.RetryAfter = res.ResetAt.Sub(l.clock.Now())
		if d.RetryAfter < time.Second {
			d.RetryAfter = time.Second
		}
	}
	return d
}
