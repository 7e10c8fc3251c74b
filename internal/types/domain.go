package types

import (
	"encoding/json"
	"time"
)

// Site is a monitored property owned by an organization.
type Site struct {
	ID             string     `json:"id"`
	OrganizationID string     `json:"organization_id"`
	Domain         string     `json:"domain"`
	PropertyURL    string     `json:"property_url"` // search-analytics property, e.g. "sc-domain:example.com"
	IsActive       bool       `json:"is_active"`
	LastSyncedAt   *time.Time `json:"last_synced_at,omitempty"`
	CachedScore    *int       `json:"cached_score,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// HomeURL returns the crawl seed for the site.
func (s *Site) HomeURL() string {
	return "https://" + s.Domain + "/"
}

// MetricSeriesPoint is one day of aggregated performance data for a
// site/device. Nil fields mean no data, never zero.
type MetricSeriesPoint struct {
	SiteID       string    `json:"site_id"`
	Date         time.Time `json:"date"`
	Device       Device    `json:"device"`
	LCP          *float64  `json:"lcp_pctl,omitempty"`
	INP          *float64  `json:"inp_pctl,omitempty"`
	CLS          *float64  `json:"cls_pctl,omitempty"`
	PerfScoreAvg *float64  `json:"perf_score_avg,omitempty"`
}

// PerformanceSnapshot is a single lab test result.
type PerformanceSnapshot struct {
	ID         string    `json:"id"`
	SiteID     string    `json:"site_id"`
	URL        string    `json:"url"`
	Device     Device    `json:"device"`
	Score      *float64  `json:"score,omitempty"`
	LCP        *float64  `json:"lcp,omitempty"`
	INP        *float64  `json:"inp,omitempty"`
	CLS        *float64  `json:"cls,omitempty"`
	TTFB       *float64  `json:"ttfb,omitempty"`
	FCP        *float64  `json:"fcp,omitempty"`
	SpeedIndex *float64  `json:"speed_index,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// SearchRow is one search-analytics row, unique per
// (site, date, page, query, device, country).
type SearchRow struct {
	SiteID      string    `json:"site_id"`
	Date        time.Time `json:"date"`
	Page        string    `json:"page"`
	Query       string    `json:"query"`
	Device      string    `json:"device"`
	Country     string    `json:"country"`
	Clicks      int       `json:"clicks"`
	Impressions int       `json:"impressions"`
	CTR         float64   `json:"ctr"`
	Position    float64   `json:"position"`
}

// SearchTotals aggregates clicks and impressions over a date range.
type SearchTotals struct {
	Clicks      int
	Impressions int
}

// CrawlIssue is a single problem found on a crawled page.
type CrawlIssue struct {
	URL      string        `json:"url"`
	Code     string        `json:"code"`
	Category IssueCategory `json:"category"`
	Severity IssueSeverity `json:"severity"`
	Detail   string        `json:"detail,omitempty"`
}

// IssueSummary is an aggregated issue type used in the top-issues list.
type IssueSummary struct {
	Code     string        `json:"code"`
	Category IssueCategory `json:"category"`
	Severity IssueSeverity `json:"severity"`
	Count    int           `json:"count"`
}

// CrawlReport is the persisted outcome of a site crawl.
type CrawlReport struct {
	ID               string                `json:"id"`
	SiteID           string                `json:"site_id"`
	Status           CrawlStatus           `json:"status"`
	PagesCrawled     int                   `json:"pages_crawled"`
	TotalIssues      int                   `json:"total_issues"`
	IssuesBySeverity map[IssueSeverity]int `json:"issues_by_severity"`
	IssuesByCategory map[IssueCategory]int `json:"issues_by_category"`
	TopIssues        []IssueSummary        `json:"top_issues"`
	ArtifactKey      string                `json:"artifact_key,omitempty"`
	StartedAt        time.Time             `json:"started_at"`
	CompletedAt      *time.Time            `json:"completed_at,omitempty"`
}

// ScoreComponents breaks down a SiteScore.
type ScoreComponents struct {
	Performance float64 `json:"performance"`
	Search      float64 `json:"search"`
	Health      float64 `json:"health"`
}

// SiteScore is the weighted 0-100 health score of a site for a day.
type SiteScore struct {
	SiteID     string          `json:"site_id"`
	Date       time.Time       `json:"date"`
	Score      int             `json:"score"`
	Grade      string          `json:"grade"`
	Components ScoreComponents `json:"components"`
}

// AlertRule is user-managed alert configuration. Read-only to the engine.
type AlertRule struct {
	ID             string      `json:"id"`
	SiteID         string      `json:"site_id"`
	OrganizationID string      `json:"organization_id"`
	Metric         AlertMetric `json:"metric"`
	Device         Device      `json:"device"`
	Threshold      float64     `json:"threshold"`
	WindowDays     int         `json:"window_days"`
	Enabled        bool        `json:"enabled"`
	Recipients     []string    `json:"recipients"`
}

// AlertEvent records a rule violation for a (site, metric, device, day).
type AlertEvent struct {
	ID         string      `json:"id"`
	RuleID     string      `json:"rule_id"`
	SiteID     string      `json:"site_id"`
	Metric     AlertMetric `json:"metric"`
	Device     Device      `json:"device"`
	Date       time.Time   `json:"date"`
	Value      float64     `json:"value"`
	Status     EventStatus `json:"status"`
	ResolvedAt *time.Time  `json:"resolved_at,omitempty"`
	CreatedAt  time.Time   `json:"created_at"`
}

// NotificationChannel is a configured destination for an organization.
// Config is type-specific and decoded by the channel's sender.
type NotificationChannel struct {
	ID             string              `json:"id"`
	OrganizationID string              `json:"organization_id"`
	Type           ChannelType         `json:"type"`
	Config         json.RawMessage     `json:"config"`
	Events         []NotificationEvent `json:"events"`
	Enabled        bool                `json:"enabled"`
}

// Subscribes reports whether the channel listens for ev.
func (c *NotificationChannel) Subscribes(ev NotificationEvent) bool {
	for _, e := range c.Events {
		if e == ev {
			return true
		}
	}
	return false
}

// SameDay reports whether a and b fall on the same UTC calendar day.
func SameDay(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}

// DayStart truncates t to midnight UTC.
func DayStart(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
