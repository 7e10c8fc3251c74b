package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// lockTTL is shorter than the tightest cadence (evaluate_alerts every 30
// minutes) so a second run in the same hour can reclaim the lock.
const lockTTL = 15 * time.Minute

// TaskRunner is satisfied by *Tasks.
type TaskRunner interface {
	Run(ctx context.Context, task TaskType, now time.Time) (TriggerResult, error)
}

// JobLocker is satisfied by *db.JobLockRepository.
type JobLocker interface {
	Acquire(ctx context.Context, lockID, holder string, ttl time.Duration) (bool, error)
}

// JobHistorian is satisfied by *db.JobHistoryRepository.
type JobHistorian interface {
	Start(ctx context.Context, task string) (int64, error)
	Finish(ctx context.Context, id int64, status string, items int, taskErr error) error
}

// Handler runs tasks under a distributed lock and records job history.
// JobLock and JobHistory may be nil when running against the in-memory job
// backend.
type Handler struct {
	Tasks      TaskRunner
	JobLock    JobLocker
	JobHistory JobHistorian
	WorkerID   string
	Logger     *slog.Logger
}

// Handle executes one trigger. A held lock is not an error: the result
// comes back with LockHeld set.
func (h *Handler) Handle(ctx context.Context, payload TaskPayload) (TriggerResult, error) {
	logger := h.Logger
	if logger == nil {
		logger = slog.Default()
	}

	now := time.Now().UTC()
	if payload.ReferenceTime != nil {
		now = payload.ReferenceTime.UTC()
	}
	if _, err := ParseTask(string(payload.Task)); err != nil {
		return TriggerResult{Task: payload.Task}, err
	}
	task := string(payload.Task)
	logger = logger.With("task", task, "worker_id", h.WorkerID)
	logger.InfoContext(ctx, "scheduler task triggered", "reference_time", now.Format(time.RFC3339))

	if h.JobLock != nil {
		lockID := fmt.Sprintf("%s:%s", task, now.Truncate(time.Hour).Format("2006-01-02T15"))
		acquired, err := h.JobLock.Acquire(ctx, lockID, h.WorkerID, lockTTL)
		if err != nil {
			logger.ErrorContext(ctx, "failed to acquire job lock", "lock_id", lockID, "error", err)
			return TriggerResult{Task: payload.Task}, fmt.Errorf("acquiring job lock %s: %w", lockID, err)
		}
		if !acquired {
			logger.InfoContext(ctx, "job lock held elsewhere, skipping", "lock_id", lockID)
			return TriggerResult{Task: payload.Task, LockHeld: true}, nil
		}
	}

	var historyID int64
	if h.JobHistory != nil {
		id, err := h.JobHistory.Start(ctx, task)
		if err != nil {
			// History is bookkeeping; the task still runs.
			logger.ErrorContext(ctx, "failed to start job history", "error", err)
		}
		historyID = id
	}

	res, runErr := h.Tasks.Run(ctx, payload.Task, now)
	res.Task = payload.Task

	if historyID != 0 {
		status := "success"
		if runErr != nil {
			status = "failed"
		}
		if err := h.JobHistory.Finish(ctx, historyID, status, res.Items(), runErr); err != nil {
			logger.ErrorContext(ctx, "failed to finish job history", "history_id", historyID, "error", err)
		}
	}

	if runErr != nil {
		logger.ErrorContext(ctx, "scheduler task failed", "error", runErr, "enqueued", res.Enqueued, "failed", res.Failed)
		return res, fmt.Errorf("task %s failed: %w", task, runErr)
	}
	logger.InfoContext(ctx, "scheduler task complete",
		"enqueued", res.Enqueued,
		"skipped", res.Skipped,
		"failed", res.Failed,
		"resolved", res.Resolved,
	)
	return res, nil
}
