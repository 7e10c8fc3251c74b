package processors

import (
	"context"
	"math"
	"time"

	"seopulse/internal/types"
)

// Score weights and windows.
const (
	weightPerformance = 0.5
	weightSearch      = 0.3
	weightHealth      = 0.2

	trendWindow    = 28 * 24 * time.Hour
	scoreFreshness = 5 * time.Minute

	// neutral is used for a component with no data.
	neutral = 50.0
)

// ScoreRecalc combines performance, search trend and crawl health into one
// 0-100 score per site and day.
type ScoreRecalc struct {
	d *Deps
}

func (p *ScoreRecalc) Kind() types.JobKind { return types.JobScoreRecalc }

func (p *ScoreRecalc) Process(ctx context.Context, job *types.Job) (Result, error) {
	payload, err := decode[types.ScorePayload](job)
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

	recent, err := p.d.Guard.RecentlyApplied(ctx, types.JobScoreRecalc, site.ID, types.DeviceAll, scoreFreshness)
	if err != nil {
		return Result{}, err
	}
	if recent {
		return skipped(ReasonRecentlyApplied), nil
	}

	perf, err := p.performance(ctx, site.ID)
	if err != nil {
		return Result{}, err
	}

	now := p.d.now()
	cur, err := p.d.Search.Totals(ctx, site.ID, now.Add(-trendWindow), now)
	if err != nil {
		return Result{}, err
	}
	prior, err := p.d.Search.Totals(ctx, site.ID, now.Add(-2*trendWindow), now.Add(-trendWindow))
	if err != nil {
		return Result{}, err
	}

	report, err := p.d.Crawls.LatestCompleted(ctx, site.ID)
	if err != nil {
		return Result{}, err
	}

	comp := types.ScoreComponents{
		Performance: perf,
		Search:      SearchComponent(cur.Clicks, prior.Clicks),
		Health:      HealthComponent(report),
	}
	score := Combine(comp)
	row := types.SiteScore{
		SiteID:     site.ID,
		Date:       types.DayStart(now),
		Score:      score,
		Grade:      Grade(score),
		Components: comp,
	}
	if err := p.d.Scores.Upsert(ctx, row); err != nil {
		return Result{}, err
	}
	if err := p.d.Sites.UpdateCachedScore(ctx, site.ID, score); err != nil {
		return Result{}, err
	}
	p.d.invalidateScores(ctx, site.ID)

	p.d.logger().InfoContext(ctx, "site score recalculated",
		"job_id", job.ID,
		"site_id", site.ID,
		"score", score,
		"grade", row.Grade,
	)
	return done(1), nil
}

// performance reads the latest ALL point, falling back to MOBILE.
func (p *ScoreRecalc) performance(ctx context.Context, siteID string) (float64, error) {
	for _, dev := range []types.Device{types.DeviceAll, types.DeviceMobile} {
		pt, err := p.d.Metrics.LatestPoint(ctx, siteID, dev)
		if err != nil {
			return 0, err
		}
		if pt != nil && pt.PerfScoreAvg != nil {
			return clamp(*pt.PerfScoreAvg), nil
		}
	}
	return neutral, nil
}

// SearchComponent maps the click trend to 0..100. Flat traffic is 50; a
// doubling or better is 100; losing all clicks is 0.
func SearchComponent(current, prior int) float64 {
	if prior == 0 {
		if current > 0 {
			return 75
		}
		return neutral
	}
	change := float64(current-prior) / float64(prior)
	return clamp(neutral + neutral*change)
}

// HealthComponent starts at 100 and subtracts the average per-page issue
// cost: 100 for a critical issue, 30 for a warning and 10 for a notice.
func HealthComponent(r *types.CrawlReport) float64 {
	if r == nil || r.PagesCrawled == 0 {
		return neutral
	}
	cost := 100*float64(r.IssuesBySeverity[types.IssueCritical]) +
		30*float64(r.IssuesBySeverity[types.IssueWarning]) +
		10*float64(r.IssuesBySeverity[types.IssueNotice])
	return clamp(100 - cost/float64(r.PagesCrawled))
}

// Combine weights the components into the final rounded score.
func Combine(c types.ScoreComponents) int {
	v := weightPerformance*c.Performance + weightSearch*c.Search + weightHealth*c.Health
	return int(math.Round(clamp(v)))
}

// Grade maps a score to a letter.
func Grade(score int) string {
	switch {
	case score >= 90:
		return "A"
	case score >= 80:
		return "B"
	case score >= 70:
		return "C"
	case score >= 60:
		return "D"
	default:
		return "F"
	}
}

func clamp(v float64) float64 {
	return math.Max(0, math.Min(100, v))
}
