package processors

import (
	"context"
	"fmt"
	"time"

	"seopulse/internal/external"
	"seopulse/internal/types"
)

// Search sync defaults. The provider finalizes data with a lag, so the
// default window ends yesterday.
const (
	defaultSyncDays   = 3
	syncFreshnessWait = time.Hour
)

// SearchSync pulls search-analytics rows and upserts them.
type SearchSync struct {
	d *Deps
}

func (p *SearchSync) Kind() types.JobKind { return types.JobSearchSync }

func (p *SearchSync) Process(ctx context.Context, job *types.Job) (Result, error) {
	payload, err := decode[types.SearchSyncPayload](job)
	if err != nil {
		return Result{}, err
	}
	site, err := p.d.loadSite(ctx, job, payload)
	if err != nil {
		return Result{}, err
	}
	if site == nil {
		return skipped(ReasonTenantMismatch), nil
	}

	rng, explicit, err := syncRange(payload, p.d.now())
	if err != nil {
		return Result{}, err
	}
	// Explicit ranges are backfills and always run.
	if !explicit {
		recent, err := p.d.Guard.RecentlyApplied(ctx, types.JobSearchSync, site.ID, types.DeviceAll, syncFreshnessWait)
		if err != nil {
			return Result{}, err
		}
		if recent {
			return skipped(ReasonRecentlyApplied), nil
		}
	}

	rows, err := p.d.SearchProvider.Query(ctx, site.PropertyURL, rng, external.DefaultSearchDimensions)
	if err != nil {
		return Result{}, err
	}

	bound := make([]types.SearchRow, 0, len(rows))
	for _, r := range rows {
		bound = append(bound, types.SearchRow{
			SiteID:      site.ID,
			Date:        types.DayStart(r.Date),
			Page:        r.Page,
			Query:       r.Query,
			Device:      r.Device,
			Country:     r.Country,
			Clicks:      r.Clicks,
			Impressions: r.Impressions,
			CTR:         r.CTR,
			Position:    r.Position,
		})
	}
	n, err := p.d.Search.UpsertSearchRows(ctx, bound)
	if err != nil {
		return Result{}, err
	}
	if err := p.d.Sites.TouchLastSynced(ctx, site.ID, p.d.now()); err != nil {
		return Result{}, err
	}

	p.d.logger().InfoContext(ctx, "search sync complete",
		"job_id", job.ID,
		"site_id", site.ID,
		"start", rng.Start.Format(time.DateOnly),
		"end", rng.End.Format(time.DateOnly),
		"rows", n,
	)
	return done(n), nil
}

// syncRange returns the payload's range, or the default one ending
// yesterday. explicit reports whether the payload named any date.
func syncRange(p types.SearchSyncPayload, now time.Time) (external.DateRange, bool, error) {
	end := types.DayStart(now).AddDate(0, 0, -1)
	start := end.AddDate(0, 0, -(defaultSyncDays - 1))
	explicit := p.StartDate != "" || p.EndDate != ""

	var err error
	if p.EndDate != "" {
		if end, err = time.Parse(time.DateOnly, p.EndDate); err != nil {
			return external.DateRange{}, false, types.NewAppError(types.ErrCodeValidationInvalidPayload, "invalid end_date", err)
		}
		if p.StartDate == "" {
			start = end.AddDate(0, 0, -(defaultSyncDays - 1))
		}
	}
	if p.StartDate != "" {
		if start, err = time.Parse(time.DateOnly, p.StartDate); err != nil {
			return external.DateRange{}, false, types.NewAppError(types.ErrCodeValidationInvalidPayload, "invalid start_date", err)
		}
	}
	if start.After(end) {
		return external.DateRange{}, false, types.NewAppError(types.ErrCodeValidationInvalidPayload,
			fmt.Sprintf("start_date %s is after end_date %s", start.Format(time.DateOnly), end.Format(time.DateOnly)), nil)
	}
	return external.DateRange{Start: start, End: end}, explicit, nil
}
