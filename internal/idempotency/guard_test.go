package idempotency

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"seopulse/internal/types"
)

type fixedClock time.Time

func (c fixedClock) Now() time.Time { return time.Time(c) }

// stamps answers every reader interface from one map keyed by source.
type stamps struct {
	at  map[string]*time.Time
	err error
}

func (s *stamps) LatestSnapshotAt(_ context.Context, siteID string, device types.Device) (*time.Time, error) {
	return s.at["psi:"+siteID+":"+string(device)], s.err
}

func (s *stamps) LatestCompletedAt(_ context.Context, siteID string) (*time.Time, error) {
	return s.at["crawl:"+siteID], s.err
}

func (s *stamps) LastSyncedAt(_ context.Context, siteID string) (*time.Time, error) {
	return s.at["sync:"+siteID], s.err
}

func (s *stamps) LatestUpdatedAt(_ context.Context, siteID string) (*time.Time, error) {
	return s.at["score:"+siteID], s.err
}

func TestGuard_RecentlyApplied(t *testing.T) {
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	ago := func(d time.Duration) *time.Time {
		ts := now.Add(-d)
		return &ts
	}
	src := &stamps{at: map[string]*time.Time{
		"psi:site_1:MOBILE": ago(20 * time.Minute),
		"crawl:site_1":      ago(8 * 24 * time.Hour),
		"sync:site_1":       ago(2 * time.Hour),
		"score:site_1":      ago(time.Hour),
	}}
	g := &Guard{Snapshots: src, Crawls: src, Syncs: src, Scores: src, Clock: fixedClock(now)}

	tests := []struct {
		name   string
		kind   types.JobKind
		device types.Device
		within time.Duration
		want   bool
	}{
		{"fresh page speed", types.JobPageSpeed, types.DeviceMobile, time.Hour, true},
		{"other device never tested", types.JobPageSpeed, types.DeviceDesktop, time.Hour, false},
		{"crawl older than a week", types.JobSiteCrawl, types.DeviceAll, 7 * 24 * time.Hour, false},
		{"sync within window", types.JobSearchSync, types.DeviceAll, 6 * time.Hour, true},
		{"score exactly at boundary", types.JobScoreRecalc, types.DeviceAll, time.Hour, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := g.RecentlyApplied(context.Background(), tt.kind, "site_1", tt.device, tt.within)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestGuard_ReadErrorsPropagate(t *testing.T) {
	src := &stamps{err: types.NewAppError(types.ErrCodeInternalDB, "down", errors.New("conn reset"))}
	g := &Guard{Snapshots: src, Crawls: src, Syncs: src, Scores: src}

	_, err := g.RecentlyApplied(context.Background(), types.JobSiteCrawl, "site_1", types.DeviceAll, time.Hour)
	assert.Equal(t, types.ErrCodeInternalDB, types.CodeOf(err))

	_, err = g.RecentlyApplied(context.Background(), types.JobKind("other"), "site_1", types.DeviceAll, time.Hour)
	assert.Equal(t, types.ErrCodeValidationUnknownKind, types.CodeOf(err))
}
