package db

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"seopulse/internal/types"
)

// CrawlReportRepository stores crawl reports.
type CrawlReportRepository struct {
	db DBTX
}

// NewCrawlReportRepository creates a CrawlReportRepository.
func NewCrawlReportRepository(db DBTX) *CrawlReportRepository {
	return &CrawlReportRepository{db: db}
}

// CreateRunning inserts a report in the running state and returns it.
func (r *CrawlReportRepository) CreateRunning(ctx context.Context, siteID string) (*types.CrawlReport, error) {
	report := &types.CrawlReport{
		ID:               "crl_" + uuid.NewString(),
		SiteID:           siteID,
		Status:           types.CrawlRunning,
		IssuesBySeverity: map[types.IssueSeverity]int{},
		IssuesByCategory: map[types.IssueCategory]int{},
		StartedAt:        nowFunc(),
	}
	if _, err := r.db.Exec(ctx,
		`INSERT INTO crawl_reports (id, site_id, status, started_at) VALUES ($1, $2, $3, $4)`,
		report.ID, report.SiteID, string(report.Status), report.StartedAt,
	); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to create crawl report", err)
	}
	return report, nil
}

// Complete finalizes a running report with its totals.
func (r *CrawlReportRepository) Complete(ctx context.Context, report *types.CrawlReport) error {
	bySeverity, err := json.Marshal(report.IssuesBySeverity)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "failed to encode severity totals", err)
	}
	byCategory, err := json.Marshal(report.IssuesByCategory)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "failed to encode category totals", err)
	}
	topIssues, err := json.Marshal(report.TopIssues)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "failed to encode top issues", err)
	}

	completedAt := nowFunc()
	tag, err := r.db.Exec(ctx,
		`UPDATE crawl_reports
		 SET status = 'completed', pages_crawled = $2, total_issues = $3,
		     issues_by_severity = $4, issues_by_category = $5, top_issues = $6,
		     artifact_key = $7, completed_at = $8
		 WHERE id = $1 AND status = 'running'`,
		report.ID, report.PagesCrawled, report.TotalIssues,
		bySeverity, byCategory, topIssues, nilIfEmpty(report.ArtifactKey), completedAt,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to complete crawl report", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundReport, fmt.Sprintf("running crawl report %s not found", report.ID), nil)
	}
	report.Status = types.CrawlCompleted
	report.CompletedAt = &completedAt
	return nil
}

// MarkFailed moves a running report to failed with the cause. It is called
// with a detached context after cancellation, so it must not depend on the
// job's context.
func (r *CrawlReportRepository) MarkFailed(ctx context.Context, reportID string, pagesCrawled int, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	if _, err := r.db.Exec(ctx,
		`UPDATE crawl_reports
		 SET status = 'failed', pages_crawled = $2, error = $3, completed_at = $4
		 WHERE id = $1 AND status = 'running'`,
		reportID, pagesCrawled, nilIfEmpty(msg), nowFunc(),
	); err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to mark crawl report failed", err)
	}
	return nil
}

// LatestCompletedAt returns when the newest completed crawl finished, or nil.
func (r *CrawlReportRepository) LatestCompletedAt(ctx context.Context, siteID string) (*time.Time, error) {
	var at *time.Time
	if err := r.db.QueryRow(ctx,
		`SELECT MAX(completed_at) FROM crawl_reports WHERE site_id = $1 AND status = 'completed'`,
		siteID,
	).Scan(&at); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to read latest crawl time", err)
	}
	return at, nil
}

// LatestCompleted returns the newest completed report's issue totals, or nil
// when the site has never been crawled.
func (r *CrawlReportRepository) LatestCompleted(ctx context.Context, siteID string) (*types.CrawlReport, error) {
	var (
		report     types.CrawlReport
		bySeverity []byte
		byCategory []byte
		topIssues  []byte
		artifact   *string
	)
	err := r.db.QueryRow(ctx,
		`SELECT id, site_id, pages_crawled, total_issues, issues_by_severity,
		        issues_by_category, top_issues, artifact_key, started_at, completed_at
		 FROM crawl_reports
		 WHERE site_id = $1 AND status = 'completed'
		 ORDER BY completed_at DESC
		 LIMIT 1`,
		siteID,
	).Scan(&report.ID, &report.SiteID, &report.PagesCrawled, &report.TotalIssues,
		&bySeverity, &byCategory, &topIssues, &artifact, &report.StartedAt, &report.CompletedAt)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to read latest crawl report", err)
	}
	report.Status = types.CrawlCompleted
	report.ArtifactKey = derefString(artifact)
	if err := json.Unmarshal(bySeverity, &report.IssuesBySeverity); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to decode severity totals", err)
	}
	if err := json.Unmarshal(byCategory, &report.IssuesByCategory); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to decode category totals", err)
	}
	if err := json.Unmarshal(topIssues, &report.TopIssues); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to decode top issues", err)
	}
	return &report, nil
}
