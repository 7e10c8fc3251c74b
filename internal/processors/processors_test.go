package processors

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"seopulse/internal/cache"
	"seopulse/internal/crawler"
	"seopulse/internal/external"
	"seopulse/internal/ratelimit"
	"seopulse/internal/types"
)

type harness struct {
	sites   *mockSites
	search  *mockSearch
	metrics *mockMetrics
	crawls  *mockCrawls
	scores  *mockScores
	guard   *mockGuard
	limiter *stubLimiter
	cache   *cache.MemoryCache
	archive *memArchive
	sp      *fakeSearchProvider
	psi     *countingPageSpeed
	crawler *stubCrawler
	reg     map[types.JobKind]Processor
}

func newHarness() *harness {
	h := &harness{
		sites:   &mockSites{},
		search:  &mockSearch{},
		metrics: &mockMetrics{},
		crawls:  &mockCrawls{},
		scores:  &mockScores{},
		guard:   &mockGuard{},
		limiter: &stubLimiter{decision: ratelimit.Decision{Allowed: true, Remaining: 5}},
		cache:   cache.NewMemoryCache(fixedClock{testNow}),
		archive: &memArchive{},
		sp:      &fakeSearchProvider{},
		psi:     &countingPageSpeed{},
		crawler: &stubCrawler{},
	}
	h.reg = NewRegistry(Deps{
		Sites:             h.sites,
		Search:            h.search,
		Metrics:           h.metrics,
		Crawls:            h.crawls,
		Scores:            h.scores,
		Guard:             h.guard,
		Limiter:           h.limiter,
		Cache:             h.cache,
		Archive:           h.archive,
		SearchProvider:    h.sp,
		PageSpeedProvider: h.psi,
		Crawler:           h.crawler,
		Limits:            Limits{PageSpeedLimit: 5, PageSpeedWindow: time.Hour, PageSpeedTTL: time.Hour},
		Clock:             fixedClock{testNow},
	})
	return h
}

func (h *harness) siteFound() {
	h.sites.On("GetActiveSite", mock.Anything, "site-1", "org-1").Return(testSite(), nil)
}

func (h *harness) fresh(kind types.JobKind, recent bool) {
	h.guard.On("RecentlyApplied", mock.Anything, kind, "site-1", mock.Anything, mock.Anything).Return(recent, nil)
}

func TestRegistry_CoversEveryKind(t *testing.T) {
	reg := newHarness().reg
	for _, k := range types.AllJobKinds {
		p, ok := reg[k]
		require.True(t, ok, "missing processor for %s", k)
		assert.Equal(t, k, p.Kind())
	}
}

func TestProcess_ForeignSiteIsSkipped(t *testing.T) {
	payloads := []types.JobPayload{
		types.SearchSyncPayload{SiteID: "site-1", OrganizationID: "org-1"},
		types.PageSpeedPayload{SiteID: "site-1", OrganizationID: "org-1", Device: types.DeviceMobile},
		types.CrawlPayload{SiteID: "site-1", OrganizationID: "org-1"},
		types.ScorePayload{SiteID: "site-1", OrganizationID: "org-1"},
	}
	for _, p := range payloads {
		t.Run(string(p.Kind()), func(t *testing.T) {
			h := newHarness()
			h.sites.On("GetActiveSite", mock.Anything, "site-1", "org-1").Return(nil, siteNotFound())

			res, err := h.reg[p.Kind()].Process(context.Background(), newJob(t, p))
			require.NoError(t, err)
			assert.Equal(t, StatusSkipped, res.Status)
			assert.Equal(t, ReasonTenantMismatch, res.Reason)
			assert.Empty(t, h.guard.Calls)
		})
	}
}

func TestProcess_SiteLookupFailureIsRetryable(t *testing.T) {
	h := newHarness()
	dbErr := types.NewAppError(types.ErrCodeInternalDB, "failed to load site", errors.New("conn reset"))
	h.sites.On("GetActiveSite", mock.Anything, "site-1", "org-1").Return(nil, dbErr)

	_, err := h.reg[types.JobScoreRecalc].Process(context.Background(),
		newJob(t, types.ScorePayload{SiteID: "site-1", OrganizationID: "org-1"}))
	require.Error(t, err)
	assert.True(t, types.IsRetryable(err))
}

func TestProcess_WrongPayloadForKind(t *testing.T) {
	h := newHarness()
	job := newJob(t, types.ScorePayload{SiteID: "site-1", OrganizationID: "org-1"})
	job.Kind = types.JobPageSpeed
	job.Payload = []byte(`{"site_id":"site-1","organization_id":"org-1","device":"ALL"}`)

	_, err := h.reg[types.JobPageSpeed].Process(context.Background(), job)
	assert.Equal(t, types.ErrCodeValidationInvalidPayload, types.CodeOf(err))
	assert.False(t, types.IsRetryable(err))
}

func TestSearchSync_DefaultRange(t *testing.T) {
	h := newHarness()
	h.siteFound()
	h.fresh(types.JobSearchSync, false)
	day := time.Date(2026, 3, 8, 0, 0, 0, 0, time.UTC)
	h.sp.rows = []external.SearchAnalyticsRow{
		{Date: day, Page: "https://example.com/", Query: "q1", Device: "MOBILE", Country: "usa", Clicks: 3, Impressions: 40},
		{Date: day, Page: "https://example.com/a", Query: "q2", Device: "DESKTOP", Country: "gbr", Clicks: 1, Impressions: 9},
	}
	h.search.On("UpsertSearchRows", mock.Anything, mock.MatchedBy(func(rows []types.SearchRow) bool {
		return len(rows) == 2 && rows[0].SiteID == "site-1" && rows[1].Country == "gbr"
	})).Return(2, nil)
	h.sites.On("TouchLastSynced", mock.Anything, "site-1", testNow).Return(nil)

	res, err := h.reg[types.JobSearchSync].Process(context.Background(),
		newJob(t, types.SearchSyncPayload{SiteID: "site-1", OrganizationID: "org-1"}))
	require.NoError(t, err)
	assert.Equal(t, Result{Status: StatusDone, Items: 2}, res)

	require.Len(t, h.sp.ranges, 1)
	assert.Equal(t, time.Date(2026, 3, 7, 0, 0, 0, 0, time.UTC), h.sp.ranges[0].Start)
	assert.Equal(t, time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC), h.sp.ranges[0].End)
	h.sites.AssertExpectations(t)
	h.search.AssertExpectations(t)
}

func TestSearchSync_RecentlySyncedIsSkipped(t *testing.T) {
	h := newHarness()
	h.siteFound()
	h.fresh(types.JobSearchSync, true)

	res, err := h.reg[types.JobSearchSync].Process(context.Background(),
		newJob(t, types.SearchSyncPayload{SiteID: "site-1", OrganizationID: "org-1"}))
	require.NoError(t, err)
	assert.Equal(t, ReasonRecentlyApplied, res.Reason)
	assert.Empty(t, h.sp.ranges)
}

func TestSearchSync_ExplicitRangeBypassesGuard(t *testing.T) {
	h := newHarness()
	h.siteFound()
	h.search.On("UpsertSearchRows", mock.Anything, mock.Anything).Return(0, nil)
	h.sites.On("TouchLastSynced", mock.Anything, "site-1", testNow).Return(nil)

	res, err := h.reg[types.JobSearchSync].Process(context.Background(), newJob(t, types.SearchSyncPayload{
		SiteID: "site-1", OrganizationID: "org-1", StartDate: "2026-01-01", EndDate: "2026-01-31",
	}))
	require.NoError(t, err)
	assert.Equal(t, StatusDone, res.Status)
	assert.Empty(t, h.guard.Calls)
	require.Len(t, h.sp.ranges, 1)
	assert.Len(t, h.sp.ranges[0].Days(), 31)
}

func TestSearchSync_ProviderErrorPropagates(t *testing.T) {
	h := newHarness()
	h.siteFound()
	h.fresh(types.JobSearchSync, false)
	h.sp.err = types.NewAppError(types.ErrCodeUpstreamSearch, "search analytics returned 503", nil)

	_, err := h.reg[types.JobSearchSync].Process(context.Background(),
		newJob(t, types.SearchSyncPayload{SiteID: "site-1", OrganizationID: "org-1"}))
	assert.Equal(t, types.ErrCodeUpstreamSearch, types.CodeOf(err))
	assert.True(t, types.IsRetryable(err))
	h.sites.AssertNotCalled(t, "TouchLastSynced", mock.Anything, mock.Anything, mock.Anything)
}

func TestSyncRange(t *testing.T) {
	tests := []struct {
		name       string
		payload    types.SearchSyncPayload
		start, end string
		explicit   bool
		wantErr    bool
	}{
		{name: "default", start: "2026-03-07", end: "2026-03-09"},
		{name: "end only", payload: types.SearchSyncPayload{EndDate: "2026-02-10"}, start: "2026-02-08", end: "2026-02-10", explicit: true},
		{name: "start only", payload: types.SearchSyncPayload{StartDate: "2026-03-01"}, start: "2026-03-01", end: "2026-03-09", explicit: true},
		{name: "inverted", payload: types.SearchSyncPayload{StartDate: "2026-03-05", EndDate: "2026-03-01"}, wantErr: true},
		{name: "garbage", payload: types.SearchSyncPayload{StartDate: "yesterday"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rng, explicit, err := syncRange(tt.payload, testNow)
			if tt.wantErr {
				assert.Equal(t, types.ErrCodeValidationInvalidPayload, types.CodeOf(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.start, rng.Start.Format(time.DateOnly))
			assert.Equal(t, tt.end, rng.End.Format(time.DateOnly))
			assert.Equal(t, tt.explicit, explicit)
		})
	}
}

func psiJob(t *testing.T, url string) *types.Job {
	return newJob(t, types.PageSpeedPayload{SiteID: "site-1", OrganizationID: "org-1", Device: types.DeviceMobile, URL: url})
}

func TestPageSpeed_RecordsSnapshotAndDailyPoints(t *testing.T) {
	h := newHarness()
	h.siteFound()
	h.fresh(types.JobPageSpeed, false)
	require.NoError(t, h.cache.Set(context.Background(), "score:site-1:summary", []byte("stale"), time.Hour))

	h.metrics.On("InsertSnapshot", mock.Anything, mock.MatchedBy(func(s *types.PerformanceSnapshot) bool {
		return s.URL == "https://example.com/" && s.Device == types.DeviceMobile && s.LCP != nil
	})).Return(nil)
	h.metrics.On("UpsertDailyPoint", mock.Anything, mock.MatchedBy(func(p types.MetricSeriesPoint) bool {
		return p.Device == types.DeviceMobile && p.Date.Equal(types.DayStart(testNow))
	})).Return(nil).Once()
	h.metrics.On("UpsertDailyPoint", mock.Anything, mock.MatchedBy(func(p types.MetricSeriesPoint) bool {
		return p.Device == types.DeviceAll
	})).Return(nil).Once()

	res, err := h.reg[types.JobPageSpeed].Process(context.Background(), psiJob(t, ""))
	require.NoError(t, err)
	assert.Equal(t, Result{Status: StatusDone, Items: 1}, res)
	assert.Equal(t, []string{"psi:site-1"}, h.limiter.keys)
	assert.Equal(t, 1, h.psi.calls)
	h.metrics.AssertExpectations(t)

	_, ok, _ := h.cache.Get(context.Background(), "score:site-1:summary")
	assert.False(t, ok, "score cache should be invalidated")
	_, ok, _ = h.cache.Get(context.Background(), cache.PageSpeedKey("site-1", types.DeviceMobile, "https://example.com/"))
	assert.True(t, ok, "lab result should be cached")
}

func TestPageSpeed_MissingMetricsStayNil(t *testing.T) {
	h := newHarness()
	h.siteFound()
	h.fresh(types.JobPageSpeed, false)
	score, lcp := 64.0, 3100.0
	h.psi.lab = &external.LabResult{Score: &score, LCP: &lcp}

	h.metrics.On("InsertSnapshot", mock.Anything, mock.MatchedBy(func(s *types.PerformanceSnapshot) bool {
		return s.INP == nil && s.CLS == nil && s.LCP != nil && *s.LCP == 3100
	})).Return(nil)
	h.metrics.On("UpsertDailyPoint", mock.Anything, mock.MatchedBy(func(p types.MetricSeriesPoint) bool {
		return p.INP == nil && p.CLS == nil && p.LCP != nil && p.PerfScoreAvg != nil
	})).Return(nil).Twice()

	res, err := h.reg[types.JobPageSpeed].Process(context.Background(), psiJob(t, ""))
	require.NoError(t, err)
	assert.Equal(t, StatusDone, res.Status)
	h.metrics.AssertExpectations(t)
}

func TestPageSpeed_CachedResultSkipsProvider(t *testing.T) {
	h := newHarness()
	h.siteFound()
	h.fresh(types.JobPageSpeed, false)
	score := 91.0
	require.NoError(t, cache.SetJSON(context.Background(), h.cache,
		cache.PageSpeedKey("site-1", types.DeviceMobile, "https://example.com/pricing"),
		external.LabResult{Score: &score}, time.Hour))

	h.metrics.On("InsertSnapshot", mock.Anything, mock.MatchedBy(func(s *types.PerformanceSnapshot) bool {
		return s.Score != nil && *s.Score == 91 && s.LCP == nil
	})).Return(nil)
	h.metrics.On("UpsertDailyPoint", mock.Anything, mock.Anything).Return(nil)

	_, err := h.reg[types.JobPageSpeed].Process(context.Background(), psiJob(t, "https://example.com/pricing"))
	require.NoError(t, err)
	assert.Zero(t, h.psi.calls)
	h.metrics.AssertNumberOfCalls(t, "UpsertDailyPoint", 2)
}

func TestPageSpeed_RateLimitedIsRetryableError(t *testing.T) {
	h := newHarness()
	h.siteFound()
	h.limiter.decision = ratelimit.Decision{Allowed: false, RetryAfter: 90 * time.Second}

	_, err := h.reg[types.JobPageSpeed].Process(context.Background(), psiJob(t, ""))
	require.Error(t, err)
	assert.Equal(t, types.ErrCodeUpstreamRateLimited, types.CodeOf(err))
	assert.True(t, types.IsRetryable(err))

	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, 90, appErr.Details["retry_after_seconds"])
	assert.Zero(t, h.psi.calls)
}

func TestPageSpeed_RecentlyAppliedIsSkipped(t *testing.T) {
	h := newHarness()
	h.siteFound()
	h.guard.On("RecentlyApplied", mock.Anything, types.JobPageSpeed, "site-1", types.DeviceMobile, time.Hour).Return(true, nil)

	res, err := h.reg[types.JobPageSpeed].Process(context.Background(), psiJob(t, ""))
	require.NoError(t, err)
	assert.Equal(t, skipped(ReasonRecentlyApplied), res)
	assert.Zero(t, h.psi.calls)
}

func TestPageSpeed_ForeignURLRejected(t *testing.T) {
	h := newHarness()
	h.siteFound()
	h.fresh(types.JobPageSpeed, false)

	_, err := h.reg[types.JobPageSpeed].Process(context.Background(), psiJob(t, "https://evil.test/"))
	assert.Equal(t, types.ErrCodeTenantMismatch, types.CodeOf(err))
	assert.False(t, types.IsRetryable(err))
	assert.Zero(t, h.psi.calls)
}

func TestPageSpeed_GuardReadFailureIsError(t *testing.T) {
	h := newHarness()
	h.siteFound()
	h.guard.On("RecentlyApplied", mock.Anything, types.JobPageSpeed, "site-1", types.DeviceMobile, time.Hour).
		Return(false, types.NewAppError(types.ErrCodeInternalDB, "failed to read latest snapshot time", nil))

	_, err := h.reg[types.JobPageSpeed].Process(context.Background(), psiJob(t, ""))
	assert.Equal(t, types.ErrCodeInternalDB, types.CodeOf(err))
}

func crawlJob(t *testing.T) *types.Job {
	return newJob(t, types.CrawlPayload{SiteID: "site-1", OrganizationID: "org-1", MaxPages: 20})
}

func runningReport() *types.CrawlReport {
	return &types.CrawlReport{ID: "crl_1", SiteID: "site-1", Status: types.CrawlRunning, StartedAt: testNow}
}

func TestSiteCrawl_CompletesAndArchives(t *testing.T) {
	h := newHarness()
	h.siteFound()
	h.fresh(types.JobSiteCrawl, false)
	h.crawls.On("CreateRunning", mock.Anything, "site-1").Return(runningReport(), nil)
	h.crawler.res = &crawler.Result{
		Pages: []crawler.Page{{URL: "https://example.com/", Status: 200}, {URL: "https://example.com/x", Status: 404}},
		Issues: []types.CrawlIssue{
			{URL: "https://example.com/x", Code: "client_error", Category: types.CategoryStatus, Severity: types.IssueCritical},
			{URL: "https://example.com/", Code: "thin_content", Category: types.CategoryContent, Severity: types.IssueNotice},
		},
	}
	h.crawls.On("Complete", mock.Anything, mock.MatchedBy(func(r *types.CrawlReport) bool {
		return r.PagesCrawled == 2 && r.TotalIssues == 2 &&
			r.IssuesBySeverity[types.IssueCritical] == 1 &&
			len(r.TopIssues) == 2 && r.TopIssues[0].Code == "client_error" &&
			r.ArtifactKey == "crawls/site-1/crl_1.json.zst"
	})).Return(nil)

	res, err := h.reg[types.JobSiteCrawl].Process(context.Background(), crawlJob(t))
	require.NoError(t, err)
	assert.Equal(t, Result{Status: StatusDone, Items: 2}, res)
	assert.Equal(t, []string{"https://example.com/"}, h.crawler.seeds)
	assert.Contains(t, h.archive.docs, "crawls/site-1/crl_1.json.zst")
	h.crawls.AssertExpectations(t)
	h.crawls.AssertNotCalled(t, "MarkFailed", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestSiteCrawl_CanceledMarksFailed(t *testing.T) {
	h := newHarness()
	h.siteFound()
	h.fresh(types.JobSiteCrawl, false)
	h.crawls.On("CreateRunning", mock.Anything, "site-1").Return(runningReport(), nil)
	h.crawler.res = &crawler.Result{Pages: []crawler.Page{{URL: "https://example.com/", Status: 200}}}
	h.crawler.err = context.Canceled
	h.crawls.On("MarkFailed", mock.Anything, "crl_1", 1, context.Canceled).Return(nil)

	_, err := h.reg[types.JobSiteCrawl].Process(context.Background(), crawlJob(t))
	require.ErrorIs(t, err, context.Canceled)
	assert.True(t, types.IsRetryable(err))
	h.crawls.AssertExpectations(t)
	h.crawls.AssertNotCalled(t, "Complete", mock.Anything, mock.Anything)
}

func TestSiteCrawl_ArchiveFailureStillCompletes(t *testing.T) {
	h := newHarness()
	h.siteFound()
	h.fresh(types.JobSiteCrawl, false)
	h.archive.err = types.NewAppError(types.ErrCodeInternalStorage, "failed to upload crawl artifact", nil)
	h.crawls.On("CreateRunning", mock.Anything, "site-1").Return(runningReport(), nil)
	h.crawler.res = &crawler.Result{Pages: []crawler.Page{{URL: "https://example.com/", Status: 200}}}
	h.crawls.On("Complete", mock.Anything, mock.MatchedBy(func(r *types.CrawlReport) bool {
		return r.ArtifactKey == ""
	})).Return(nil)

	res, err := h.reg[types.JobSiteCrawl].Process(context.Background(), crawlJob(t))
	require.NoError(t, err)
	assert.Equal(t, StatusDone, res.Status)
}

func TestSiteCrawl_RecentCrawlIsSkipped(t *testing.T) {
	h := newHarness()
	h.siteFound()
	h.guard.On("RecentlyApplied", mock.Anything, types.JobSiteCrawl, "site-1", types.DeviceAll, 7*24*time.Hour).Return(true, nil)

	res, err := h.reg[types.JobSiteCrawl].Process(context.Background(), crawlJob(t))
	require.NoError(t, err)
	assert.Equal(t, ReasonRecentlyApplied, res.Reason)
	h.crawls.AssertNotCalled(t, "CreateRunning", mock.Anything, mock.Anything)
}

func TestScoreRecalc_WritesScoreAndGrade(t *testing.T) {
	h := newHarness()
	h.siteFound()
	h.fresh(types.JobScoreRecalc, false)
	perf := 81.0
	h.metrics.On("LatestPoint", mock.Anything, "site-1", types.DeviceAll).Return(nil, nil)
	h.metrics.On("LatestPoint", mock.Anything, "site-1", types.DeviceMobile).
		Return(&types.MetricSeriesPoint{Device: types.DeviceMobile, PerfScoreAvg: &perf}, nil)
	window := 28 * 24 * time.Hour
	h.search.On("Totals", mock.Anything, "site-1", testNow.Add(-window), testNow).
		Return(types.SearchTotals{Clicks: 150}, nil)
	h.search.On("Totals", mock.Anything, "site-1", testNow.Add(-2*window), testNow.Add(-window)).
		Return(types.SearchTotals{Clicks: 100}, nil)
	h.crawls.On("LatestCompleted", mock.Anything, "site-1").Return(&types.CrawlReport{
		PagesCrawled:     10,
		IssuesBySeverity: map[types.IssueSeverity]int{types.IssueWarning: 5, types.IssueNotice: 10},
	}, nil)
	// performance 81, search 75, health 100-(150+100)/10=75: 40.5+22.5+15 = 78
	h.scores.On("Upsert", mock.Anything, mock.MatchedBy(func(s types.SiteScore) bool {
		return s.Score == 78 && s.Grade == "C" && s.Date.Equal(types.DayStart(testNow)) &&
			s.Components == types.ScoreComponents{Performance: 81, Search: 75, Health: 75}
	})).Return(nil)
	h.sites.On("UpdateCachedScore", mock.Anything, "site-1", 78).Return(nil)

	res, err := h.reg[types.JobScoreRecalc].Process(context.Background(),
		newJob(t, types.ScorePayload{SiteID: "site-1", OrganizationID: "org-1"}))
	require.NoError(t, err)
	assert.Equal(t, Result{Status: StatusDone, Items: 1}, res)
	h.scores.AssertExpectations(t)
	h.sites.AssertExpectations(t)
}

func TestScoreComponents(t *testing.T) {
	t.Run("search trend", func(t *testing.T) {
		assert.Equal(t, 50.0, SearchComponent(0, 0))
		assert.Equal(t, 75.0, SearchComponent(10, 0))
		assert.Equal(t, 50.0, SearchComponent(100, 100))
		assert.Equal(t, 100.0, SearchComponent(300, 100))
		assert.Equal(t, 0.0, SearchComponent(0, 100))
		assert.Equal(t, 25.0, SearchComponent(50, 100))
	})
	t.Run("health", func(t *testing.T) {
		assert.Equal(t, 50.0, HealthComponent(nil))
		assert.Equal(t, 100.0, HealthComponent(&types.CrawlReport{PagesCrawled: 5}))
		assert.Equal(t, 0.0, HealthComponent(&types.CrawlReport{
			PagesCrawled: 2, IssuesBySeverity: map[types.IssueSeverity]int{types.IssueCritical: 3},
		}))
	})
	t.Run("combine clamps and rounds", func(t *testing.T) {
		assert.Equal(t, 100, Combine(types.ScoreComponents{Performance: 100, Search: 100, Health: 100}))
		assert.Equal(t, 0, Combine(types.ScoreComponents{}))
		assert.Equal(t, 75, Combine(types.ScoreComponents{Performance: 80, Search: 50, Health: 100}))
	})
}

func TestGrade(t *testing.T) {
	tests := []struct {
		score int
		want  string
	}{
		{100, "A"}, {90, "A"}, {89, "B"}, {80, "B"}, {79, "C"}, {70, "C"}, {69, "D"}, {60, "D"}, {59, "F"}, {0, "F"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Grade(tt.score), "score %d", tt.score)
	}
}

func TestTargetURL(t *testing.T) {
	site := testSite()
	tests := []struct {
		raw     string
		want    string
		errCode types.ErrorCode
	}{
		{raw: "", want: "https://example.com/"},
		{raw: "https://example.com/pricing", want: "https://example.com/pricing"},
		{raw: "https://www.example.com/", want: "https://www.example.com/"},
		{raw: "https://notexample.com/", errCode: types.ErrCodeTenantMismatch},
		{raw: "/relative", errCode: types.ErrCodeValidationInvalidURL},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := targetURL(site, tt.raw)
			if tt.errCode != "" {
				assert.Equal(t, tt.errCode, types.CodeOf(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
