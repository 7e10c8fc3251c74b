package processors

import (
	"context"
	"time"

	"seopulse/internal/crawler"
	"seopulse/internal/types"
)

const (
	crawlFreshness   = 7 * 24 * time.Hour
	finalizeDeadline = 10 * time.Second
)

// SiteCrawl crawls a site and records a report. A canceled crawl leaves the
// report failed, never completed.
type SiteCrawl struct {
	d *Deps
}

// crawlArtifact is the archived form of a crawl.
type crawlArtifact struct {
	ReportID string             `json:"report_id"`
	SiteID   string             `json:"site_id"`
	Seed     string             `json:"seed"`
	Pages    []crawler.Page     `json:"pages"`
	Issues   []types.CrawlIssue `json:"issues"`
}

func (p *SiteCrawl) Kind() types.JobKind { return types.JobSiteCrawl }

func (p *SiteCrawl) Process(ctx context.Context, job *types.Job) (Result, error) {
	payload, err := decode[types.CrawlPayload](job)
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

	recent, err := p.d.Guard.RecentlyApplied(ctx, types.JobSiteCrawl, site.ID, types.DeviceAll, crawlFreshness)
	if err != nil {
		return Result{}, err
	}
	if recent {
		return skipped(ReasonRecentlyApplied), nil
	}

	seed, err := targetURL(site, payload.URL)
	if err != nil {
		return Result{}, err
	}

	report, err := p.d.Crawls.CreateRunning(ctx, site.ID)
	if err != nil {
		return Result{}, err
	}

	res, crawlErr := p.d.Crawler.Crawl(ctx, seed, payload.MaxPages)
	if crawlErr != nil {
		pages := 0
		if res != nil {
			pages = len(res.Pages)
		}
		p.fail(ctx, report.ID, pages, crawlErr)
		return Result{}, crawlErr
	}

	summary := crawler.Summarize(res.Issues)
	report.PagesCrawled = len(res.Pages)
	report.TotalIssues = summary.Total
	report.IssuesBySeverity = summary.BySeverity
	report.IssuesByCategory = summary.ByCategory
	report.TopIssues = summary.TopIssues

	if p.d.Archive != nil {
		key, err := p.d.Archive.Put(ctx, site.ID, report.ID, crawlArtifact{
			ReportID: report.ID,
			SiteID:   site.ID,
			Seed:     seed,
			Pages:    res.Pages,
			Issues:   res.Issues,
		})
		if err != nil {
			p.d.logger().WarnContext(ctx, "crawl artifact archive failed",
				"report_id", report.ID,
				"error", err,
			)
		} else {
			report.ArtifactKey = key
		}
	}

	if err := p.d.Crawls.Complete(ctx, report); err != nil {
		if ctx.Err() != nil {
			p.fail(ctx, report.ID, report.PagesCrawled, ctx.Err())
		}
		return Result{}, err
	}
	p.d.invalidateScores(ctx, site.ID)

	p.d.logger().InfoContext(ctx, "site crawl complete",
		"job_id", job.ID,
		"site_id", site.ID,
		"report_id", report.ID,
		"pages", report.PagesCrawled,
		"issues", report.TotalIssues,
	)
	return done(report.PagesCrawled), nil
}

// fail marks the report failed on a context detached from the job's, which
// may already be canceled.
func (p *SiteCrawl) fail(ctx context.Context, reportID string, pages int, cause error) {
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeDeadline)
	defer cancel()
	if err := p.d.Crawls.MarkFailed(fctx, reportID, pages, cause); err != nil {
		p.d.logger().ErrorContext(fctx, "failed to mark crawl report failed",
			"report_id", reportID,
			"error", err,
		)
	}
}
