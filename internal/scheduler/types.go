// Package scheduler turns clock ticks and manual triggers into queued jobs
// and alert evaluation passes.
//
// Every trigger, whether from the in-process cron runner, the HTTP surface or
// a Lambda invocation, goes through Handler.Handle so that the job lock and
// job history apply uniformly.
package scheduler

import (
	"fmt"
	"time"

	"seopulse/internal/types"
)

// TaskType identifies a scheduled task.
type TaskType string

const (
	TaskSyncSearch     TaskType = "sync_search"
	TaskRunPageSpeed   TaskType = "run_page_speed"
	TaskCrawlSites     TaskType = "crawl_sites"
	TaskRecalcScores   TaskType = "recalc_scores"
	TaskEvaluateAlerts TaskType = "evaluate_alerts"
	TaskRequeueExpired TaskType = "requeue_expired"
	TaskPruneState     TaskType = "prune_state"
)

// AllTasks lists every task in a stable order.
var AllTasks = []TaskType{
	TaskSyncSearch,
	TaskRunPageSpeed,
	TaskCrawlSites,
	TaskRecalcScores,
	TaskEvaluateAlerts,
	TaskRequeueExpired,
	TaskPruneState,
}

// ParseTask validates s as a TaskType.
func ParseTask(s string) (TaskType, error) {
	for _, t := range AllTasks {
		if string(t) == s {
			return t, nil
		}
	}
	return "", types.NewAppError(types.ErrCodeValidationUnknownTask, fmt.Sprintf("unknown task %q", s), nil)
}

// TaskPayload is the trigger input. It is the JSON body of a Lambda
// invocation:
//
//	{
//	  "task": "sync_search",
//	  "reference_time": "2026-03-09T03:00:00Z"  // optional
//	}
type TaskPayload struct {
	Task TaskType `json:"task"`
	// ReferenceTime overrides "now" for backfills. Nil means time.Now().UTC().
	ReferenceTime *time.Time `json:"reference_time,omitempty"`
}

// TriggerResult reports what one task run did. For queue fan-out tasks
// Enqueued counts new jobs and Skipped counts dedupe hits. For
// evaluate_alerts they count opened events and debounced rules.
type TriggerResult struct {
	Task     TaskType `json:"task"`
	Enqueued int      `json:"enqueued"`
	Skipped  int      `json:"skipped"`
	Failed   int      `json:"failed,omitempty"`
	Resolved int      `json:"resolved,omitempty"`
	Pruned   int      `json:"pruned,omitempty"`
	// LockHeld is set when another run holds the task lock and nothing ran.
	LockHeld bool `json:"lock_held,omitempty"`
}

// Items is the count recorded in job history.
func (r TriggerResult) Items() int {
	return r.Enqueued + r.Resolved + r.Pruned
}
