// Package cache is the key/value cache port used by processors. Values are
// opaque bytes with a TTL; keys are namespaced by prefix so that a whole
// family ("score:<siteID>") can be invalidated at once.
package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"seopulse/internal/codec"
	"seopulse/internal/types"
)

// Cache is the port processors depend on.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	InvalidatePrefix(ctx context.Context, prefix string) (int64, error)
}

// Store is the persistence behind StoreCache. db.CacheRepository implements it.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	DeletePrefix(ctx context.Context, prefix string) (int64, error)
}

// StoreCache adapts a Store to Cache, compressing values with zstd.
type StoreCache struct {
	store  Store
	logger *slog.Logger
}

// NewStoreCache creates a StoreCache.
func NewStoreCache(store Store, logger *slog.Logger) *StoreCache {
	if logger == nil {
		logger = slog.Default()
	}
	return &StoreCache{store: store, logger: logger}
}

func (c *StoreCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	raw, ok, err := c.store.Get(ctx, key)
	if err != nil || !ok {
		return nil, false, err
	}
	value, err := codec.Decompress(raw)
	if err != nil {
		// A corrupt entry behaves as a miss and is overwritten by the next Set.
		c.logger.WarnContext(ctx, "discarding undecodable cache entry", "key", key, "error", err)
		return nil, false, nil
	}
	return value, true, nil
}

func (c *StoreCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.store.Set(ctx, key, codec.Compress(value), ttl)
}

func (c *StoreCache) InvalidatePrefix(ctx context.Context, prefix string) (int64, error) {
	return c.store.DeletePrefix(ctx, prefix)
}

// GetJSON reads key and decodes it into T.
func GetJSON[T any](ctx context.Context, c Cache, key string) (T, bool, error) {
	var v T
	raw, ok, err := c.Get(ctx, key)
	if err != nil || !ok {
		return v, false, err
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, false, nil
	}
	return v, true, nil
}

// SetJSON encodes v and stores it under key.
func SetJSON(ctx context.Context, c Cache, key string, v any, ttl time.Duration) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "failed to encode cache value", err)
	}
	return c.Set(ctx, key, raw, ttl)
}

// PageSpeedKey is the cache key of one lab result.
func PageSpeedKey(siteID string, device types.Device, url string) string {
	return "psi:" + siteID + ":" + string(device) + ":" + url
}

// ScorePrefix namespaces every cached score read for a site.
func ScorePrefix(siteID string) string {
	return "score:" + siteID
}
