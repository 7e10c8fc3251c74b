package db

import (
	"context"
	"time"

	"seopulse/internal/types"
)

// SearchRepository stores search-analytics rows.
type SearchRepository struct {
	db DBTX
}

// NewSearchRepository creates a SearchRepository.
func NewSearchRepository(db DBTX) *SearchRepository {
	return &SearchRepository{db: db}
}

// UpsertSearchRows writes rows in a single statement by unnesting column
// arrays. Existing (site, date, page, query, device, country) rows are
// overwritten with the newer figures.
func (r *SearchRepository) UpsertSearchRows(ctx context.Context, rows []types.SearchRow) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	n := len(rows)
	var (
		siteIDs     = make([]string, n)
		dates       = make([]time.Time, n)
		pages       = make([]string, n)
		queries     = make([]string, n)
		devices     = make([]string, n)
		countries   = make([]string, n)
		clicks      = make([]int32, n)
		impressions = make([]int32, n)
		ctrs        = make([]float64, n)
		positions   = make([]float64, n)
	)
	for i, row := range rows {
		siteIDs[i] = row.SiteID
		dates[i] = types.DayStart(row.Date)
		pages[i] = row.Page
		queries[i] = row.Query
		devices[i] = row.Device
		countries[i] = row.Country
		clicks[i] = int32(row.Clicks)
		impressions[i] = int32(row.Impressions)
		ctrs[i] = row.CTR
		positions[i] = row.Position
	}

	tag, err := r.db.Exec(ctx,
		`INSERT INTO search_rows
		 (site_id, date, page, query, device, country, clicks, impressions, ctr, position)
		 SELECT * FROM unnest($1::text[], $2::date[], $3::text[], $4::text[], $5::text[],
		                      $6::text[], $7::int[], $8::int[], $9::float8[], $10::float8[])
		 ON CONFLICT (site_id, date, page, query, device, country) DO UPDATE
		   SET clicks = EXCLUDED.clicks,
		       impressions = EXCLUDED.impressions,
		       ctr = EXCLUDED.ctr,
		       position = EXCLUDED.position`,
		siteIDs, dates, pages, queries, devices, countries, clicks, impressions, ctrs, positions,
	)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to upsert search rows", err)
	}
	return int(tag.RowsAffected()), nil
}

// Totals sums clicks and impressions for dates in [from, to].
func (r *SearchRepository) Totals(ctx context.Context, siteID string, from, to time.Time) (types.SearchTotals, error) {
	var t types.SearchTotals
	if err := r.db.QueryRow(ctx,
		`SELECT COALESCE(SUM(clicks), 0), COALESCE(SUM(impressions), 0)
		 FROM search_rows
		 WHERE site_id = $1 AND date BETWEEN $2 AND $3`,
		siteID, types.DayStart(from), types.DayStart(to),
	).Scan(&t.Clicks, &t.Impressions); err != nil {
		return types.SearchTotals{}, types.NewAppError(types.ErrCodeInternalDB, "failed to sum search totals", err)
	}
	return t, nil
}
