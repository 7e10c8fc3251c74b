// Package processors executes leased jobs, one Processor per job kind. Each
// processor re-checks tenant ownership, does the external work and persists
// the result. A returned error means the job should be failed (and retried
// when the error is retryable); a Result of any status means Ack.
package processors

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"seopulse/internal/cache"
	"seopulse/internal/crawler"
	"seopulse/internal/external"
	"seopulse/internal/ratelimit"
	"seopulse/internal/storage"
	"seopulse/internal/types"
)

// Status is the terminal state of a successful Process call.
type Status string

const (
	StatusDone    Status = "done"
	StatusSkipped Status = "skipped"
)

// Skip reasons.
const (
	ReasonTenantMismatch  = "tenant-mismatch"
	ReasonRecentlyApplied = "recently-applied"
)

// Result reports what a processor did. Items counts persisted rows.
type Result struct {
	Status Status
	Reason string
	Items  int
}

func done(items int) Result        { return Result{Status: StatusDone, Items: items} }
func skipped(reason string) Result { return Result{Status: StatusSkipped, Reason: reason} }

// Processor handles one job kind.
type Processor interface {
	Kind() types.JobKind
	Process(ctx context.Context, job *types.Job) (Result, error)
}

// SiteStore is satisfied by db.SiteRepository.
type SiteStore interface {
	GetActiveSite(ctx context.Context, siteID, orgID string) (*types.Site, error)
	TouchLastSynced(ctx context.Context, siteID string, at time.Time) error
	UpdateCachedScore(ctx context.Context, siteID string, score int) error
}

// SearchStore is satisfied by db.SearchRepository.
type SearchStore interface {
	UpsertSearchRows(ctx context.Context, rows []types.SearchRow) (int, error)
	Totals(ctx context.Context, siteID string, from, to time.Time) (types.SearchTotals, error)
}

// MetricStore is satisfied by db.MetricRepository.
type MetricStore interface {
	InsertSnapshot(ctx context.Context, s *types.PerformanceSnapshot) error
	UpsertDailyPoint(ctx context.Context, p types.MetricSeriesPoint) error
	LatestPoint(ctx context.Context, siteID string, device types.Device) (*types.MetricSeriesPoint, error)
}

// CrawlStore is satisfied by db.CrawlReportRepository.
type CrawlStore interface {
	CreateRunning(ctx context.Context, siteID string) (*types.CrawlReport, error)
	Complete(ctx context.Context, report *types.CrawlReport) error
	MarkFailed(ctx context.Context, reportID string, pagesCrawled int, cause error) error
	LatestCompleted(ctx context.Context, siteID string) (*types.CrawlReport, error)
}

// ScoreStore is satisfied by db.ScoreRepository.
type ScoreStore interface {
	Upsert(ctx context.Context, s types.SiteScore) error
}

// Freshness is satisfied by *idempotency.Guard.
type Freshness interface {
	RecentlyApplied(ctx context.Context, kind types.JobKind, siteID string, device types.Device, within time.Duration) (bool, error)
}

// RateChecker is satisfied by *ratelimit.Limiter.
type RateChecker interface {
	Check(ctx context.Context, key string, limit int, window time.Duration) ratelimit.Decision
}

// SiteCrawler is satisfied by *crawler.Crawler.
type SiteCrawler interface {
	Crawl(ctx context.Context, seed string, maxPages int) (*crawler.Result, error)
}

// Limits are the tunables processors read from configuration.
type Limits struct {
	PageSpeedLimit  int
	PageSpeedWindow time.Duration
	PageSpeedTTL    time.Duration
}

// Deps bundles everything the processors need. Archive may be nil.
type Deps struct {
	Sites   SiteStore
	Search  SearchStore
	Metrics MetricStore
	Crawls  CrawlStore
	Scores  ScoreStore

	Guard   Freshness
	Limiter RateChecker
	Cache   cache.Cache
	Archive storage.ReportArchive

	SearchProvider    external.SearchAnalyticsProvider
	PageSpeedProvider external.PageSpeedProvider
	Crawler           SiteCrawler

	Limits Limits
	Clock  types.Clock
	Logger *slog.Logger
}

func (d *Deps) now() time.Time {
	if d.Clock == nil {
		return time.Now().UTC()
	}
	return d.Clock.Now()
}

func (d *Deps) logger() *slog.Logger {
	if d.Logger == nil {
		return slog.Default()
	}
	return d.Logger
}

// NewRegistry builds one processor per job kind.
func NewRegistry(d Deps) map[types.JobKind]Processor {
	ps := []Processor{
		&SearchSync{d: &d},
		&PageSpeed{d: &d},
		&SiteCrawl{d: &d},
		&ScoreRecalc{d: &d},
	}
	out := make(map[types.JobKind]Processor, len(ps))
	for _, p := range ps {
		out[p.Kind()] = p
	}
	return out
}

// decode asserts the job's payload to T.
func decode[T types.JobPayload](job *types.Job) (T, error) {
	var zero T
	p, err := job.DecodePayload()
	if err != nil {
		return zero, err
	}
	v, ok := p.(T)
	if !ok {
		return zero, types.NewAppError(types.ErrCodeValidationInvalidPayload,
			fmt.Sprintf("job %s carries a %s payload", job.ID, p.Kind()), nil)
	}
	return v, nil
}

// loadSite resolves the job's tenant. A site that is missing, inactive or
// owned by another organization yields (nil, nil) so the caller can skip.
func (d *Deps) loadSite(ctx context.Context, job *types.Job, p types.JobPayload) (*types.Site, error) {
	siteID, orgID := p.Tenant()
	site, err := d.Sites.GetActiveSite(ctx, siteID, orgID)
	if err != nil {
		if types.CodeOf(err) == types.ErrCodeNotFoundSite {
			d.logger().WarnContext(ctx, "skipping job for unknown or foreign site",
				"job_id", job.ID,
				"kind", string(job.Kind),
				"site_id", siteID,
				"organization_id", orgID,
			)
			return nil, nil
		}
		return nil, err
	}
	return site, nil
}

// targetURL returns raw, or the site's home page when raw is empty. A URL on
// a different host than the site is rejected.
func targetURL(site *types.Site, raw string) (string, error) {
	if raw == "" {
		return site.HomeURL(), nil
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "", types.NewAppError(types.ErrCodeValidationInvalidURL, fmt.Sprintf("invalid url %q", raw), err)
	}
	host := strings.ToLower(u.Hostname())
	domain := strings.ToLower(site.Domain)
	if host != domain && !strings.HasSuffix(host, "."+domain) {
		return "", types.NewAppErrorWithDetails(types.ErrCodeTenantMismatch,
			"url does not belong to the site", nil, map[string]any{"url": raw, "domain": site.Domain})
	}
	return raw, nil
}
