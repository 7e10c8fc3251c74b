package processors

import (
	"context"
	"fmt"
	"time"

	"seopulse/internal/cache"
	"seopulse/internal/external"
	"seopulse/internal/types"
)

const pageSpeedFreshness = time.Hour

// PageSpeed runs one lab test per job and folds it into the daily series of
// both the tested device and ALL.
type PageSpeed struct {
	d *Deps
}

func (p *PageSpeed) Kind() types.JobKind { return types.JobPageSpeed }

func (p *PageSpeed) Process(ctx context.Context, job *types.Job) (Result, error) {
	payload, err := decode[types.PageSpeedPayload](job)
	if err != nil {
		return Result{}, err
	}
	if payload.Device != types.DeviceMobile && payload.Device != types.DeviceDesktop {
		return Result{}, types.NewAppError(types.ErrCodeValidationInvalidPayload,
			fmt.Sprintf("page speed device must be MOBILE or DESKTOP, got %q", payload.Device), nil)
	}
	site, err := p.d.loadSite(ctx, job, payload)
	if err != nil {
		return Result{}, err
	}
	if site == nil {
		return skipped(ReasonTenantMismatch), nil
	}

	limits := p.d.Limits
	if p.d.Limiter != nil {
		dec := p.d.Limiter.Check(ctx, "psi:"+site.ID, limits.PageSpeedLimit, limits.PageSpeedWindow)
		if !dec.Allowed {
			return Result{}, types.NewAppErrorWithDetails(types.ErrCodeUpstreamRateLimited,
				"page speed rate limit reached for site", nil,
				map[string]any{"site_id": site.ID, "retry_after_seconds": int(dec.RetryAfter.Seconds())})
		}
	}

	recent, err := p.d.Guard.RecentlyApplied(ctx, types.JobPageSpeed, site.ID, payload.Device, pageSpeedFreshness)
	if err != nil {
		return Result{}, err
	}
	if recent {
		return skipped(ReasonRecentlyApplied), nil
	}

	target, err := targetURL(site, payload.URL)
	if err != nil {
		return Result{}, err
	}

	lab, err := p.run(ctx, site.ID, target, payload.Device)
	if err != nil {
		return Result{}, err
	}

	now := p.d.now()
	snap := &types.PerformanceSnapshot{
		SiteID:     site.ID,
		URL:        target,
		Device:     payload.Device,
		Score:      lab.Score,
		LCP:        lab.LCP,
		INP:        lab.INP,
		CLS:        lab.CLS,
		TTFB:       lab.TTFB,
		FCP:        lab.FCP,
		SpeedIndex: lab.SpeedIndex,
		CreatedAt:  now,
	}
	if err := p.d.Metrics.InsertSnapshot(ctx, snap); err != nil {
		return Result{}, err
	}
	for _, dev := range []types.Device{payload.Device, types.DeviceAll} {
		if err := p.d.Metrics.UpsertDailyPoint(ctx, types.MetricSeriesPoint{
			SiteID:       site.ID,
			Date:         types.DayStart(now),
			Device:       dev,
			LCP:          lab.LCP,
			INP:          lab.INP,
			CLS:          lab.CLS,
			PerfScoreAvg: lab.Score,
		}); err != nil {
			return Result{}, err
		}
	}
	p.d.invalidateScores(ctx, site.ID)

	p.d.logger().InfoContext(ctx, "page speed test recorded",
		"job_id", job.ID,
		"site_id", site.ID,
		"device", string(payload.Device),
		"snapshot_id", snap.ID,
	)
	return done(1), nil
}

// run serves the lab result from cache when present, otherwise calls the
// provider and caches the result. Cache failures never fail the job.
func (p *PageSpeed) run(ctx context.Context, siteID, target string, device types.Device) (*external.LabResult, error) {
	key := cache.PageSpeedKey(siteID, device, target)
	if p.d.Cache != nil {
		hit, ok, err := cache.GetJSON[external.LabResult](ctx, p.d.Cache, key)
		if err != nil {
			p.d.logger().WarnContext(ctx, "page speed cache read failed", "key", key, "error", err)
		} else if ok {
			return &hit, nil
		}
	}

	lab, err := p.d.PageSpeedProvider.Run(ctx, target, device)
	if err != nil {
		return nil, err
	}
	if p.d.Cache != nil && p.d.Limits.PageSpeedTTL > 0 {
		if err := cache.SetJSON(ctx, p.d.Cache, key, lab, p.d.Limits.PageSpeedTTL); err != nil {
			p.d.logger().WarnContext(ctx, "page speed cache write failed", "key", key, "error", err)
		}
	}
	return lab, nil
}

func (d *Deps) invalidateScores(ctx context.Context, siteID string) {
	if d.Cache == nil {
		return
	}
	if _, err := d.Cache.InvalidatePrefix(ctx, cache.ScorePrefix(siteID)); err != nil {
		d.logger().WarnContext(ctx, "score cache invalidation failed", "site_id", siteID, "error", err)
	}
}
