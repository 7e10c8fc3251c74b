package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"seopulse/internal/alerting"
	"seopulse/internal/types"
)

const (
	defaultBatchLimit = 1000
	defaultParallel   = 8
)

// SiteLister is satisfied by *db.SiteRepository.
type SiteLister interface {
	ListActiveSites(ctx context.Context, limit int) ([]types.Site, error)
}

// JobEnqueuer is satisfied by every queue.Store. Scheduled fan-out enqueues
// directly and is not subject to the per-actor job limit.
type JobEnqueuer interface {
	Enqueue(ctx context.Context, kind types.JobKind, payload types.JobPayload, opts types.EnqueueOptions) (types.EnqueueResult, error)
}

// AlertCycle is satisfied by *alerting.Engine.
type AlertCycle interface {
	RunCycle(ctx context.Context, now time.Time) (alerting.CycleReport, error)
}

// ExpiredRequeuer returns jobs whose lease lapsed to the waiting state.
// Satisfied by *db.JobRepository.
type ExpiredRequeuer interface {
	RequeueExpired(ctx context.Context) (int64, error)
}

// CachePruner is satisfied by *db.CacheRepository.
type CachePruner interface {
	PruneExpired(ctx context.Context) (int64, error)
}

// BucketPruner is satisfied by *db.RateLimitRepository.
type BucketPruner interface {
	Prune(ctx context.Context, maxWindow time.Duration) (int64, error)
}

// Tasks implements each TaskType. Requeuer, Cache and Buckets are optional;
// the in-memory backends expire their own state and leave them nil.
type Tasks struct {
	Sites      SiteLister
	Jobs       JobEnqueuer
	Alerts     AlertCycle
	Requeuer   ExpiredRequeuer
	Cache      CachePruner
	Buckets    BucketPruner
	BatchLimit int
	Parallel   int
	// MaxWindow is the longest rate-limit window in use; older buckets are
	// pruned.
	MaxWindow time.Duration
	Logger    *slog.Logger
}

// plannedJob is one enqueue produced by a fan-out task.
type plannedJob struct {
	kind      types.JobKind
	payload   types.JobPayload
	dedupeKey string
}

// Run executes task at reference time now.
func (t *Tasks) Run(ctx context.Context, task TaskType, now time.Time) (TriggerResult, error) {
	day := now.Format(time.DateOnly)
	switch task {
	case TaskSyncSearch:
		return t.fanOut(ctx, task, func(s types.Site) []plannedJob {
			return []plannedJob{{
				kind:      types.JobSearchSync,
				payload:   types.SearchSyncPayload{SiteID: s.ID, OrganizationID: s.OrganizationID},
				dedupeKey: fmt.Sprintf("search_sync:%s:%s", s.ID, day),
			}}
		})
	case TaskRunPageSpeed:
		return t.fanOut(ctx, task, func(s types.Site) []plannedJob {
			jobs := make([]plannedJob, 0, 2)
			for _, d := range []types.Device{types.DeviceMobile, types.DeviceDesktop} {
				jobs = append(jobs, plannedJob{
					kind:      types.JobPageSpeed,
					payload:   types.PageSpeedPayload{SiteID: s.ID, OrganizationID: s.OrganizationID, URL: s.HomeURL(), Device: d},
					dedupeKey: fmt.Sprintf("page_speed:%s:%s:%s", s.ID, d, day),
				})
			}
			return jobs
		})
	case TaskCrawlSites:
		year, week := now.ISOWeek()
		return t.fanOut(ctx, task, func(s types.Site) []plannedJob {
			return []plannedJob{{
				kind:      types.JobSiteCrawl,
				payload:   types.CrawlPayload{SiteID: s.ID, OrganizationID: s.OrganizationID, URL: s.HomeURL()},
				dedupeKey: fmt.Sprintf("site_crawl:%s:%d-W%02d", s.ID, year, week),
			}}
		})
	case TaskRecalcScores:
		return t.fanOut(ctx, task, func(s types.Site) []plannedJob {
			return []plannedJob{{
				kind:      types.JobScoreRecalc,
				payload:   types.ScorePayload{SiteID: s.ID, OrganizationID: s.OrganizationID},
				dedupeKey: fmt.Sprintf("score_recalc:%s:%s", s.ID, day),
			}}
		})
	case TaskEvaluateAlerts:
		return t.evaluate(ctx, now)
	case TaskRequeueExpired:
		return t.requeueExpired(ctx)
	case TaskPruneState:
		return t.pruneState(ctx)
	default:
		return TriggerResult{Task: task}, fmt.Errorf("unknown task %q", task)
	}
}

// fanOut enqueues plan(site) for every active site with bounded
// parallelism. Individual enqueue failures are counted and logged; the task
// only fails when sites cannot be listed or every enqueue failed.
func (t *Tasks) fanOut(ctx context.Context, task TaskType, plan func(types.Site) []plannedJob) (TriggerResult, error) {
	res := TriggerResult{Task: task}
	limit := t.BatchLimit
	if limit <= 0 {
		limit = defaultBatchLimit
	}
	sites, err := t.Sites.ListActiveSites(ctx, limit)
	if err != nil {
		return res, fmt.Errorf("listing active sites: %w", err)
	}
	if len(sites) == limit {
		t.logger().WarnContext(ctx, "site batch limit reached, remaining sites wait for the next run",
			"task", string(task), "limit", limit)
	}

	parallel := t.Parallel
	if parallel <= 0 {
		parallel = defaultParallel
	}
	var enqueued, skipped, failed atomic.Int64
	var g errgroup.Group
	g.SetLimit(parallel)
	for _, site := range sites {
		for _, j := range plan(site) {
			g.Go(func() error {
				r, err := t.Jobs.Enqueue(ctx, j.kind, j.payload, types.EnqueueOptions{DedupeKey: j.dedupeKey})
				switch {
				case err != nil:
					failed.Add(1)
					t.logger().ErrorContext(ctx, "scheduled enqueue failed",
						"task", string(task), "site_id", site.ID, "dedupe_key", j.dedupeKey, "error", err)
				case r.Deduplicated:
					skipped.Add(1)
				default:
					enqueued.Add(1)
				}
				return nil
			})
		}
	}
	_ = g.Wait()

	res.Enqueued, res.Skipped, res.Failed = int(enqueued.Load()), int(skipped.Load()), int(failed.Load())
	if res.Failed > 0 && res.Enqueued+res.Skipped == 0 {
		return res, fmt.Errorf("all %d enqueues failed", res.Failed)
	}
	return res, nil
}

func (t *Tasks) evaluate(ctx context.Context, now time.Time) (TriggerResult, error) {
	res := TriggerResult{Task: TaskEvaluateAlerts}
	report, err := t.Alerts.RunCycle(ctx, now)
	res.Enqueued = report.Count(alerting.OutcomeCreated)
	res.Skipped = report.Count(alerting.OutcomeSkipped)
	res.Resolved = report.Count(alerting.OutcomeResolved)
	if err != nil {
		return res, fmt.Errorf("running alert cycle: %w", err)
	}
	return res, nil
}

func (t *Tasks) requeueExpired(ctx context.Context) (TriggerResult, error) {
	res := TriggerResult{Task: TaskRequeueExpired}
	if t.Requeuer == nil {
		t.logger().InfoContext(ctx, "job backend reclaims expired leases on lease, nothing to requeue")
		return res, nil
	}
	n, err := t.Requeuer.RequeueExpired(ctx)
	if err != nil {
		return res, fmt.Errorf("requeueing expired jobs: %w", err)
	}
	res.Enqueued = int(n)
	return res, nil
}

// pruneState drops expired cache entries and stale rate-limit buckets. Both
// prunes run even when the first fails.
func (t *Tasks) pruneState(ctx context.Context) (TriggerResult, error) {
	res := TriggerResult{Task: TaskPruneState}
	var errs []error
	if t.Cache != nil {
		n, err := t.Cache.PruneExpired(ctx)
		if err != nil {
			errs = append(errs, fmt.Errorf("pruning cache: %w", err))
		}
		res.Pruned += int(n)
	}
	if t.Buckets != nil {
		window := t.MaxWindow
		if window <= 0 {
			window = 24 * time.Hour
		}
		n, err := t.Buckets.Prune(ctx, window)
		if err != nil {
			errs = append(errs, fmt.Errorf("pruning rate limit buckets: %w", err))
		}
		res.Pruned += int(n)
	}
	return res, errors.Join(errs...)
}

func (t *Tasks) logger() *slog.Logger {
	if t.Logger == nil {
		return slog.Default()
	}
	return t.Logger
}
