package db

import (
	"context"
	"encoding/json"
	"time"

	"seopulse/internal/types"
)

// ScoreRepository stores daily site scores.
type ScoreRepository struct {
	db DBTX
}

// NewScoreRepository creates a ScoreRepository.
func NewScoreRepository(db DBTX) *ScoreRepository {
	return &ScoreRepository{db: db}
}

// Upsert writes the score for s.Date, replacing an earlier run on that day.
func (r *ScoreRepository) Upsert(ctx context.Context, s types.SiteScore) error {
	components, err := json.Marshal(s.Components)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "failed to encode score components", err)
	}
	if _, err := r.db.Exec(ctx,
		`INSERT INTO site_scores (site_id, date, score, grade, components, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (site_id, date) DO UPDATE
		   SET score = EXCLUDED.score,
		       grade = EXCLUDED.grade,
		       components = EXCLUDED.components,
		       updated_at = EXCLUDED.updated_at`,
		s.SiteID, types.DayStart(s.Date), s.Score, s.Grade, components, nowFunc(),
	); err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to upsert site score", err)
	}
	return nil
}

// LatestUpdatedAt returns when the site's score was last written, or nil.
func (r *ScoreRepository) LatestUpdatedAt(ctx context.Context, siteID string) (*time.Time, error) {
	var at *time.Time
	if err := r.db.QueryRow(ctx,
		`SELECT MAX(updated_at) FROM site_scores WHERE site_id = $1`,
		siteID,
	).Scan(&at); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to read latest score time", err)
	}
	return at, nil
}
