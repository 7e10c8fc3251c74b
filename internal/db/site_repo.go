package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"seopulse/internal/types"
)

const siteColumns = `id, organization_id, domain, property_url, is_active, last_synced_at, cached_score, created_at`

// SiteRepository reads sites and maintains the pipeline-owned columns
// last_synced_at and cached_score.
type SiteRepository struct {
	db DBTX
}

// NewSiteRepository creates a SiteRepository.
func NewSiteRepository(db DBTX) *SiteRepository {
	return &SiteRepository{db: db}
}

// GetActiveSite loads an active site owned by orgID. A site that exists under
// a different organization is reported as not found, never as a mismatch, so
// callers cannot enumerate other tenants' IDs.
func (r *SiteRepository) GetActiveSite(ctx context.Context, siteID, orgID string) (*types.Site, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+siteColumns+` FROM sites
		 WHERE id = $1 AND organization_id = $2 AND is_active`,
		siteID, orgID,
	)
	site, err := scanSite(row)
	if err != nil {
		return nil, notFound(err, types.ErrCodeNotFoundSite, fmt.Sprintf("site %s not found", siteID))
	}
	return site, nil
}

// ListActiveSites returns up to limit active sites ordered by ID.
func (r *SiteRepository) ListActiveSites(ctx context.Context, limit int) ([]types.Site, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+siteColumns+` FROM sites WHERE is_active ORDER BY id LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list active sites", err)
	}
	defer rows.Close()

	var sites []types.Site
	for rows.Next() {
		s, err := scanSite(rows)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan site", err)
		}
		sites = append(sites, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to iterate sites", err)
	}
	return sites, nil
}

// TouchLastSynced records a completed search sync.
func (r *SiteRepository) TouchLastSynced(ctx context.Context, siteID string, at time.Time) error {
	if _, err := r.db.Exec(ctx,
		`UPDATE sites SET last_synced_at = $2 WHERE id = $1`,
		siteID, at,
	); err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update last_synced_at", err)
	}
	return nil
}

// LastSyncedAt returns the site's last completed search sync, or nil when it
// never ran. A missing site reads as never synced.
func (r *SiteRepository) LastSyncedAt(ctx context.Context, siteID string) (*time.Time, error) {
	var at *time.Time
	err := r.db.QueryRow(ctx,
		`SELECT last_synced_at FROM sites WHERE id = $1`,
		siteID,
	).Scan(&at)
	if err != nil && !isNoRows(err) {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to read last_synced_at", err)
	}
	return at, nil
}

// UpdateCachedScore stores the latest computed score on the site row.
func (r *SiteRepository) UpdateCachedScore(ctx context.Context, siteID string, score int) error {
	if _, err := r.db.Exec(ctx,
		`UPDATE sites SET cached_score = $2 WHERE id = $1`,
		siteID, score,
	); err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update cached score", err)
	}
	return nil
}

func scanSite(row pgx.Row) (*types.Site, error) {
	var s types.Site
	if err := row.Scan(
		&s.ID, &s.OrganizationID, &s.Domain, &s.PropertyURL, &s.IsActive,
		&s.LastSyncedAt, &s.CachedScore, &s.CreatedAt,
	); err != nil {
		return nil, err
	}
	return &s, nil
}
