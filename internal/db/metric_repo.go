package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"seopulse/internal/types"
)

// MetricRepository stores lab snapshots and the daily metric series.
type MetricRepository struct {
	db DBTX
}

// NewMetricRepository creates a MetricRepository.
func NewMetricRepository(db DBTX) *MetricRepository {
	return &MetricRepository{db: db}
}

// InsertSnapshot persists one lab result. ID and CreatedAt are filled in
// when empty.
func (r *MetricRepository) InsertSnapshot(ctx context.Context, s *types.PerformanceSnapshot) error {
	if s.ID == "" {
		s.ID = "psn_" + uuid.NewString()
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = nowFunc()
	}
	if _, err := r.db.Exec(ctx,
		`INSERT INTO performance_snapshots
		 (id, site_id, url, device, score, lcp, inp, cls, ttfb, fcp, speed_index, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		s.ID, s.SiteID, s.URL, string(s.Device), s.Score, s.LCP, s.INP, s.CLS,
		s.TTFB, s.FCP, s.SpeedIndex, s.CreatedAt,
	); err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to insert performance snapshot", err)
	}
	return nil
}

// runningAvg folds a new sample into the stored daily value of col, weighted
// by the samples already counted for that column. A NULL sample leaves the
// value and its count untouched.
func runningAvg(col, count string) string {
	return fmt.Sprintf(`%[1]s = CASE
		WHEN EXCLUDED.%[1]s IS NULL THEN metric_series.%[1]s
		WHEN metric_series.%[1]s IS NULL OR metric_series.%[2]s = 0 THEN EXCLUDED.%[1]s
		ELSE (metric_series.%[1]s * metric_series.%[2]s + EXCLUDED.%[1]s) / (metric_series.%[2]s + 1)
	END,
	%[2]s = metric_series.%[2]s + EXCLUDED.%[2]s`, col, count)
}

var upsertPointSQL = `INSERT INTO metric_series
	(site_id, date, device, lcp_pctl, inp_pctl, cls_pctl, perf_score_avg,
	 lcp_samples, inp_samples, cls_samples, perf_samples, samples)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, 1)
	ON CONFLICT (site_id, date, device) DO UPDATE SET ` +
	runningAvg("lcp_pctl", "lcp_samples") + `, ` +
	runningAvg("inp_pctl", "inp_samples") + `, ` +
	runningAvg("cls_pctl", "cls_samples") + `, ` +
	runningAvg("perf_score_avg", "perf_samples") + `,
	samples = metric_series.samples + 1`

// sampleCount is the weight a possibly missing value adds to its column.
func sampleCount(v *float64) int {
	if v == nil {
		return 0
	}
	return 1
}

// UpsertDailyPoint folds p into the (site, date, device) row. Re-running a
// day updates the row in place.
func (r *MetricRepository) UpsertDailyPoint(ctx context.Context, p types.MetricSeriesPoint) error {
	if _, err := r.db.Exec(ctx, upsertPointSQL,
		p.SiteID, types.DayStart(p.Date), string(p.Device), p.LCP, p.INP, p.CLS, p.PerfScoreAvg,
		sampleCount(p.LCP), sampleCount(p.INP), sampleCount(p.CLS), sampleCount(p.PerfScoreAvg),
	); err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to upsert metric series point", err)
	}
	return nil
}

// LatestSnapshotAt returns the time of the newest snapshot for the site and
// device, or nil when none exists.
func (r *MetricRepository) LatestSnapshotAt(ctx context.Context, siteID string, device types.Device) (*time.Time, error) {
	var at *time.Time
	if err := r.db.QueryRow(ctx,
		`SELECT MAX(created_at) FROM performance_snapshots WHERE site_id = $1 AND device = $2`,
		siteID, string(device),
	).Scan(&at); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to read latest snapshot time", err)
	}
	return at, nil
}

// SeriesSince returns every series point for the site dated on or after
// since, across all devices. Callers filter and order.
func (r *MetricRepository) SeriesSince(ctx context.Context, siteID string, since time.Time) ([]types.MetricSeriesPoint, error) {
	rows, err := r.db.Query(ctx,
		`SELECT site_id, date, device, lcp_pctl, inp_pctl, cls_pctl, perf_score_avg
		 FROM metric_series
		 WHERE site_id = $1 AND date >= $2`,
		siteID, types.DayStart(since),
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query metric series", err)
	}
	defer rows.Close()

	var points []types.MetricSeriesPoint
	for rows.Next() {
		var (
			p      types.MetricSeriesPoint
			device string
		)
		if err := rows.Scan(&p.SiteID, &p.Date, &device, &p.LCP, &p.INP, &p.CLS, &p.PerfScoreAvg); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan metric series point", err)
		}
		p.Device = types.Device(device)
		points = append(points, p)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to iterate metric series", err)
	}
	return points, nil
}

// LatestPoint returns the most recent point for the site and device, or nil.
func (r *MetricRepository) LatestPoint(ctx context.Context, siteID string, device types.Device) (*types.MetricSeriesPoint, error) {
	var (
		p   types.MetricSeriesPoint
		dev string
	)
	err := r.db.QueryRow(ctx,
		`SELECT site_id, date, device, lcp_pctl, inp_pctl, cls_pctl, perf_score_avg
		 FROM metric_series
		 WHERE site_id = $1 AND device = $2
		 ORDER BY date DESC
		 LIMIT 1`,
		siteID, string(device),
	).Scan(&p.SiteID, &p.Date, &dev, &p.LCP, &p.INP, &p.CLS, &p.PerfScoreAvg)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to read latest metric point", err)
	}
	p.Device = types.Device(dev)
	return &p, nil
}
