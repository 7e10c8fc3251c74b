package db

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"seopulse/internal/types"
)

func TestCrawlReportRepository_Lifecycle(t *testing.T) {
	now := time.Date(2026, 3, 2, 5, 0, 0, 0, time.UTC)
	fixNow(t, now)
	db := new(mockDBTX)
	repo := NewCrawlReportRepository(db)
	ctx := context.Background()

	db.On("Exec", ctx, mock.MatchedBy(func(sql string) bool {
		return strings.HasPrefix(sql, "INSERT INTO crawl_reports")
	}), mock.Anything).Return(pgconn.NewCommandTag("INSERT 0 1"), nil)
	db.On("Exec", ctx, mock.MatchedBy(func(sql string) bool {
		return strings.Contains(sql, "status = 'completed'")
	}), mock.MatchedBy(func(args []any) bool {
		return args[1] == 42 && args[2] == 5 && string(args[3].([]byte)) == `{"critical":2,"warning":3}`
	})).Return(pgconn.NewCommandTag("UPDATE 1"), nil)

	report, err := repo.CreateRunning(ctx, "site_1")
	require.NoError(t, err)
	assert.Equal(t, types.CrawlRunning, report.Status)
	assert.True(t, strings.HasPrefix(report.ID, "crl_"))

	report.PagesCrawled = 42
	report.TotalIssues = 5
	report.IssuesBySeverity = map[types.IssueSeverity]int{types.IssueCritical: 2, types.IssueWarning: 3}
	require.NoError(t, repo.Complete(ctx, report))
	assert.Equal(t, types.CrawlCompleted, report.Status)
	assert.Equal(t, now, *report.CompletedAt)
	db.AssertExpectations(t)
}

func TestCrawlReportRepository_Complete_NotRunning(t *testing.T) {
	db := new(mockDBTX)
	repo := NewCrawlReportRepository(db)
	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("UPDATE 0"), nil)

	err := repo.Complete(context.Background(), &types.CrawlReport{ID: "crl_1"})
	require.Error(t, err)
	assert.Equal(t, types.ErrCodeNotFoundReport, types.CodeOf(err))
}

func TestCrawlReportRepository_MarkFailed(t *testing.T) {
	db := new(mockDBTX)
	repo := NewCrawlReportRepository(db)
	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.MatchedBy(func(args []any) bool {
		msg := args[2].(*string)
		return args[0] == "crl_1" && args[1] == 7 && *msg == "context canceled"
	})).Return(pgconn.NewCommandTag("UPDATE 1"), nil)

	require.NoError(t, repo.MarkFailed(context.Background(), "crl_1", 7, context.Canceled))
	db.AssertExpectations(t)
}

func TestCrawlReportRepository_LatestCompleted(t *testing.T) {
	started := time.Date(2026, 3, 2, 5, 0, 0, 0, time.UTC)
	done := started.Add(10 * time.Minute)

	t.Run("decodes totals", func(t *testing.T) {
		db := new(mockDBTX)
		repo := NewCrawlReportRepository(db)
		db.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), []any{"site_1"}).
			Return(rowOf("crl_1", "site_1", 40, 6,
				[]byte(`{"critical":1,"warning":5}`), []byte(`{"meta":6}`),
				[]byte(`[{"code":"missing_title","category":"meta","severity":"warning","count":5}]`),
				ptr("crawls/site_1/crl_1.json.zst"), started, &done))

		report, err := repo.LatestCompleted(context.Background(), "site_1")
		require.NoError(t, err)
		require.NotNil(t, report)
		assert.Equal(t, 1, report.IssuesBySeverity[types.IssueCritical])
		assert.Equal(t, 6, report.IssuesByCategory[types.CategoryMeta])
		require.Len(t, report.TopIssues, 1)
		assert.Equal(t, "missing_title", report.TopIssues[0].Code)
		assert.Equal(t, "crawls/site_1/crl_1.json.zst", report.ArtifactKey)
	})

	t.Run("never crawled", func(t *testing.T) {
		db := new(mockDBTX)
		repo := NewCrawlReportRepository(db)
		db.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
			Return(&mockRow{scanErr: pgx.ErrNoRows})

		report, err := repo.LatestCompleted(context.Background(), "site_1")
		require.NoError(t, err)
		assert.Nil(t, report)
	})

	t.Run("database error", func(t *testing.T) {
		db := new(mockDBTX)
		repo := NewCrawlReportRepository(db)
		db.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
			Return(&mockRow{scanErr: errors.New("boom")})

		_, err := repo.LatestCompleted(context.Background(), "site_1")
		assert.Equal(t, types.ErrCodeInternalDB, types.CodeOf(err))
	})
}
