package cache

import (
	"context"
	"strings"
	"sync"
	"time"

	"seopulse/internal/types"
)

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

// MemoryCache is a process-local Cache for local runs and tests.
type MemoryCache struct {
	mu      sync.Mutex
	clock   types.Clock
	entries map[string]memoryEntry
}

// NewMemoryCache creates a MemoryCache. clock may be nil.
func NewMemoryCache(clock types.Clock) *MemoryCache {
	if clock == nil {
		clock = types.RealClock{}
	}
	return &MemoryCache{clock: clock, entries: make(map[string]memoryEntry)}
}

func (m *MemoryCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok {
		return nil, false, nil
	}
	if !e.expiresAt.After(m.clock.Now()) {
		delete(m.entries, key)
		return nil, false, nil
	}
	out := make([]byte, len(e.value))
	copy(out, e.value)
	return out, true, nil
}

func (m *MemoryCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	v := make([]byte, len(value))
	copy(v, value)
	m.entries[key] = memoryEntry{value: v, expiresAt: m.clock.Now().Add(ttl)}
	return nil
}

func (m *MemoryCache) InvalidatePrefix(_ context.Context, prefix string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for k := range m.entries {
		if strings.HasPrefix(k, prefix) {
			delete(m.entries, k)
			n++
		}
	}
	return n, nil
}
