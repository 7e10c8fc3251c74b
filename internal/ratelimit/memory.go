package ratelimit

import (
	"context"
	"sync"
	"time"

	"seopulse/internal/types"
)

// MemoryStore keeps a timestamp log per key in process memory.
type MemoryStore struct {
	mu    sync.Mutex
	clock types.Clock
	hits  map[string][]time.Time
}

// NewMemoryStore creates a MemoryStore. clock may be nil.
func NewMemoryStore(clock types.Clock) *MemoryStore {
	if clock == nil {
		clock = types.RealClock{}
	}
	return &MemoryStore{clock: clock, hits: make(map[string][]time.Time)}
}

// IncrementAndCheck drops hits older than window, then records a new hit if
// fewer than limit remain.
func (m *MemoryStore) IncrementAndCheck(_ context.Context, key string, limit int, window time.Duration) (types.RateLimitResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	cutoff := now.Add(-window)
	log := m.hits[key]
	i := 0
	for i < len(log) && !log[i].After(cutoff) {
		i++
	}
	log = log[i:]

	res := types.RateLimitResult{ResetAt: now.Add(window)}
	if len(log) > 0 {
		res.ResetAt = log[0].Add(window)
	}
	if len(log) < limit {
		log = append(log, now)
		res.Allowed = true
		res.Remaining = limit - len(log)
	}
	if len(log) == 0 {
		delete(m.hits, key)
	} else {
		m.hits[key] = log
	}
	return res, nil
}
