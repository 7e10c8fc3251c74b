package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"seopulse/internal/config"
)

// CronRunner fires Handler.Handle on the configured UTC cron specs.
type CronRunner struct {
	cron    *cron.Cron
	handler *Handler
	logger  *slog.Logger
}

// Specs maps each scheduled task to its cron spec.
func Specs(cfg config.SchedulerConfig) map[TaskType]string {
	return map[TaskType]string{
		TaskSyncSearch:     cfg.SearchSyncCron,
		TaskRunPageSpeed:   cfg.PageSpeedCron,
		TaskCrawlSites:     cfg.CrawlCron,
		TaskRecalcScores:   cfg.ScoreCron,
		TaskEvaluateAlerts: cfg.EvaluateCron,
		TaskRequeueExpired: cfg.RequeueCron,
		TaskPruneState:     cfg.PruneCron,
	}
}

// NewCronRunner registers every spec. An empty spec disables that task; an
// invalid one is an error.
func NewCronRunner(specs map[TaskType]string, handler *Handler, logger *slog.Logger) (*CronRunner, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cl := cronLogger{logger: logger.With("component", "cron")}
	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	r := &CronRunner{cron: c, handler: handler, logger: logger}

	for _, task := range AllTasks {
		spec := specs[task]
		if spec == "" {
			logger.Info("cron task disabled", "task", string(task))
			continue
		}
		if _, err := c.AddFunc(spec, r.fire(task)); err != nil {
			return nil, fmt.Errorf("scheduling %s with %q: %w", task, spec, err)
		}
		logger.Info("cron task scheduled", "task", string(task), "spec", spec)
	}
	return r, nil
}

func (r *CronRunner) fire(task TaskType) func() {
	return func() {
		// Errors are logged by Handle.
		_, _ = r.handler.Handle(context.Background(), TaskPayload{Task: task})
	}
}

// Start runs the scheduler in its own goroutine.
func (r *CronRunner) Start() { r.cron.Start() }

// Stop prevents new runs and returns a context that is done once running
// tasks have finished.
func (r *CronRunner) Stop() context.Context { return r.cron.Stop() }

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error(msg, append(keysAndValues, "error", err)...)
}
