package db

import (
	"context"
	"time"

	"seopulse/internal/types"
)

// CacheRepository is a key/value table with per-entry expiry. Values are
// opaque bytes; the cache package handles encoding.
type CacheRepository struct {
	db DBTX
}

// NewCacheRepository creates a CacheRepository.
func NewCacheRepository(db DBTX) *CacheRepository {
	return &CacheRepository{db: db}
}

// Get returns the unexpired value for key.
func (r *CacheRepository) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	err := r.db.QueryRow(ctx,
		`SELECT value FROM cache_entries WHERE key = $1 AND expires_at > $2`,
		key, nowFunc(),
	).Scan(&value)
	if err != nil {
		if isNoRows(err) {
			return nil, false, nil
		}
		return nil, false, types.NewAppError(types.ErrCodeInternalDB, "failed to read cache entry", err)
	}
	return value, true, nil
}

// Set stores value under key for ttl.
func (r *CacheRepository) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if _, err := r.db.Exec(ctx,
		`INSERT INTO cache_entries (key, value, expires_at) VALUES ($1, $2, $3)
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, expires_at = EXCLUDED.expires_at`,
		key, value, nowFunc().Add(ttl),
	); err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to write cache entry", err)
	}
	return nil
}

// DeletePrefix removes every entry whose key starts with prefix.
func (r *CacheRepository) DeletePrefix(ctx context.Context, prefix string) (int64, error) {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM cache_entries WHERE starts_with(key, $1)`,
		prefix,
	)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to invalidate cache entries", err)
	}
	return tag.RowsAffected(), nil
}

// PruneExpired deletes expired entries.
func (r *CacheRepository) PruneExpired(ctx context.Context) (int64, error) {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM cache_entries WHERE expires_at <= $1`,
		nowFunc(),
	)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to prune cache entries", err)
	}
	return tag.RowsAffected(), nil
}
