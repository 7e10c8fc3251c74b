package types

import (
	"time"
)

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

// RealClock implements Clock using the real system time (always UTC).
type RealClock struct{}

// Now returns the current time in UTC.
func (RealClock) Now() time.Time { return time.Now().UTC() }

// RateLimitResult is the outcome of one sliding-window check.
type RateLimitResult struct {
	Allowed   bool
	Remaining int
	// ResetAt is when the oldest counted hit leaves the window.
	ResetAt time.Time
}
