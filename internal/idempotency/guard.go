// Package idempotency answers "was this job's side effect applied recently?"
// with a single read of the newest side-effect timestamp for the kind.
package idempotency

import (
	"context"
	"fmt"
	"time"

	"seopulse/internal/types"
)

// SnapshotReader is satisfied by db.MetricRepository.
type SnapshotReader interface {
	LatestSnapshotAt(ctx context.Context, siteID string, device types.Device) (*time.Time, error)
}

// CrawlReader is satisfied by db.CrawlReportRepository.
type CrawlReader interface {
	LatestCompletedAt(ctx context.Context, siteID string) (*time.Time, error)
}

// SyncReader is satisfied by db.SiteRepository.
type SyncReader interface {
	LastSyncedAt(ctx context.Context, siteID string) (*time.Time, error)
}

// ScoreReader is satisfied by db.ScoreRepository.
type ScoreReader interface {
	LatestUpdatedAt(ctx context.Context, siteID string) (*time.Time, error)
}

// Guard checks side-effect freshness per job kind.
type Guard struct {
	Snapshots SnapshotReader
	Crawls    CrawlReader
	Syncs     SyncReader
	Scores    ScoreReader
	Clock     types.Clock
}

// RecentlyApplied reports whether kind's side effect for the site (and
// device, for page speed) happened within the last `within`. Read errors are
// returned unchanged so the caller fails the job and retries.
func (g *Guard) RecentlyApplied(ctx context.Context, kind types.JobKind, siteID string, device types.Device, within time.Duration) (bool, error) {
	var (
		at  *time.Time
		err error
	)
	switch kind {
	case types.JobPageSpeed:
		at, err = g.Snapshots.LatestSnapshotAt(ctx, siteID, device)
	case types.JobSiteCrawl:
		at, err = g.Crawls.LatestCompletedAt(ctx, siteID)
	case types.JobSearchSync:
		at, err = g.Syncs.LastSyncedAt(ctx, siteID)
	case types.JobScoreRecalc:
		at, err = g.Scores.LatestUpdatedAt(ctx, siteID)
	default:
		return false, types.NewAppError(types.ErrCodeValidationUnknownKind, fmt.Sprintf("unknown job kind %q", kind), nil)
	}
	if err != nil {
		return false, err
	}
	if at == nil {
		return false, nil
	}
	return at.After(g.now().Add(-within)), nil
}

func (g *Guard) now() time.Time {
	if g.Clock == nil {
		return time.Now().UTC()
	}
	return g.Clock.Now()
}
