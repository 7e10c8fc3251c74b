package processors

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"seopulse/internal/crawler"
	"seopulse/internal/external"
	"seopulse/internal/ratelimit"
	"seopulse/internal/types"
)

var testNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

type mockSites struct{ mock.Mock }

func (m *mockSites) GetActiveSite(ctx context.Context, siteID, orgID string) (*types.Site, error) {
	args := m.Called(ctx, siteID, orgID)
	site, _ := args.Get(0).(*types.Site)
	return site, args.Error(1)
}

func (m *mockSites) TouchLastSynced(ctx context.Context, siteID string, at time.Time) error {
	return m.Called(ctx, siteID, at).Error(0)
}

func (m *mockSites) UpdateCachedScore(ctx context.Context, siteID string, score int) error {
	return m.Called(ctx, siteID, score).Error(0)
}

type mockSearch struct{ mock.Mock }

func (m *mockSearch) UpsertSearchRows(ctx context.Context, rows []types.SearchRow) (int, error) {
	args := m.Called(ctx, rows)
	return args.Int(0), args.Error(1)
}

func (m *mockSearch) Totals(ctx context.Context, siteID string, from, to time.Time) (types.SearchTotals, error) {
	args := m.Called(ctx, siteID, from, to)
	return args.Get(0).(types.SearchTotals), args.Error(1)
}

type mockMetrics struct{ mock.Mock }

func (m *mockMetrics) InsertSnapshot(ctx context.Context, s *types.PerformanceSnapshot) error {
	return m.Called(ctx, s).Error(0)
}

func (m *mockMetrics) UpsertDailyPoint(ctx context.Context, p types.MetricSeriesPoint) error {
	return m.Called(ctx, p).Error(0)
}

func (m *mockMetrics) LatestPoint(ctx context.Context, siteID string, device types.Device) (*types.MetricSeriesPoint, error) {
	args := m.Called(ctx, siteID, device)
	pt, _ := args.Get(0).(*types.MetricSeriesPoint)
	return pt, args.Error(1)
}

type mockCrawls struct{ mock.Mock }

func (m *mockCrawls) CreateRunning(ctx context.Context, siteID string) (*types.CrawlReport, error) {
	args := m.Called(ctx, siteID)
	r, _ := args.Get(0).(*types.CrawlReport)
	return r, args.Error(1)
}

func (m *mockCrawls) Complete(ctx context.Context, report *types.CrawlReport) error {
	return m.Called(ctx, report).Error(0)
}

func (m *mockCrawls) MarkFailed(ctx context.Context, reportID string, pagesCrawled int, cause error) error {
	return m.Called(ctx, reportID, pagesCrawled, cause).Error(0)
}

func (m *mockCrawls) LatestCompleted(ctx context.Context, siteID string) (*types.CrawlReport, error) {
	args := m.Called(ctx, siteID)
	r, _ := args.Get(0).(*types.CrawlReport)
	return r, args.Error(1)
}

type mockScores struct{ mock.Mock }

func (m *mockScores) Upsert(ctx context.Context, s types.SiteScore) error {
	return m.Called(ctx, s).Error(0)
}

type mockGuard struct{ mock.Mock }

func (m *mockGuard) RecentlyApplied(ctx context.Context, kind types.JobKind, siteID string, device types.Device, within time.Duration) (bool, error) {
	args := m.Called(ctx, kind, siteID, device, within)
	return args.Bool(0), args.Error(1)
}

type stubLimiter struct {
	decision ratelimit.Decision
	keys     []string
}

func (s *stubLimiter) Check(_ context.Context, key string, _ int, _ time.Duration) ratelimit.Decision {
	s.keys = append(s.keys, key)
	return s.decision
}

type fakeSearchProvider struct {
	rows   []external.SearchAnalyticsRow
	err    error
	ranges []external.DateRange
}

func (f *fakeSearchProvider) Query(_ context.Context, _ string, r external.DateRange, _ []string) ([]external.SearchAnalyticsRow, error) {
	f.ranges = append(f.ranges, r)
	return f.rows, f.err
}

type countingPageSpeed struct {
	mu    sync.Mutex
	calls int
	err   error
	lab   *external.LabResult
}

func (c *countingPageSpeed) Run(ctx context.Context, url string, device types.Device) (*external.LabResult, error) {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	if c.err != nil {
		return nil, c.err
	}
	if c.lab != nil {
		return c.lab, nil
	}
	return external.MockPageSpeedProvider{}.Run(ctx, url, device)
}

type stubCrawler struct {
	res   *crawler.Result
	err   error
	seeds []string
}

func (s *stubCrawler) Crawl(_ context.Context, seed string, _ int) (*crawler.Result, error) {
	s.seeds = append(s.seeds, seed)
	return s.res, s.err
}

type memArchive struct {
	docs map[string]any
	err  error
}

func (a *memArchive) Put(_ context.Context, siteID, reportID string, doc any) (string, error) {
	if a.err != nil {
		return "", a.err
	}
	key := "crawls/" + siteID + "/" + reportID + ".json.zst"
	if a.docs == nil {
		a.docs = map[string]any{}
	}
	a.docs[key] = doc
	return key, nil
}

func (a *memArchive) Get(context.Context, string, any) error { return nil }

func testSite() *types.Site {
	return &types.Site{
		ID:             "site-1",
		OrganizationID: "org-1",
		Domain:         "example.com",
		PropertyURL:    "sc-domain:example.com",
		IsActive:       true,
	}
}

func newJob(t *testing.T, p types.JobPayload) *types.Job {
	t.Helper()
	raw, err := json.Marshal(p)
	require.NoError(t, err)
	return &types.Job{ID: "job-1", Kind: p.Kind(), Payload: raw, State: types.JobActive, Attempts: 1}
}

func siteNotFound() error {
	return types.NewAppError(types.ErrCodeNotFoundSite, "site site-1 not found", nil)
}
