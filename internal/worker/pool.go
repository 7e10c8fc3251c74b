// Package worker runs a fixed-size pool of goroutines per job kind. Each
// goroutine leases one job at a time, runs its processor and then acks or
// fails it.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"seopulse/internal/processors"
	"seopulse/internal/queue"
	"seopulse/internal/types"
)

const settleTimeout = 10 * time.Second

// Pool leases jobs of one kind from a Store.
type Pool struct {
	store        queue.Store
	processor    processors.Processor
	kind         types.JobKind
	workers      int
	lease        time.Duration
	pollInterval time.Duration
	logger       *slog.Logger
}

// Config holds pool configuration.
type Config struct {
	Store        queue.Store
	Processor    processors.Processor
	Workers      int
	Lease        time.Duration
	PollInterval time.Duration
	Logger       *slog.Logger
}

// NewPool creates a Pool for cfg.Processor's kind.
func NewPool(cfg Config) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.Lease <= 0 {
		cfg.Lease = 2 * time.Minute
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	kind := cfg.Processor.Kind()
	return &Pool{
		store:        cfg.Store,
		processor:    cfg.Processor,
		kind:         kind,
		workers:      cfg.Workers,
		lease:        cfg.Lease,
		pollInterval: cfg.PollInterval,
		logger:       cfg.Logger.With("component", "worker_pool", "kind", string(kind)),
	}
}

// Run blocks until ctx is canceled and every worker has returned. Jobs still
// in flight at cancellation are neither acked nor failed; they become
// leasable again when their lease expires.
func (p *Pool) Run(ctx context.Context) {
	p.logger.InfoContext(ctx, "starting worker pool",
		"workers", p.workers,
		"lease", p.lease.String(),
	)
	var wg sync.WaitGroup
	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			p.loop(ctx, id)
		}(i)
	}
	wg.Wait()
	p.logger.Info("worker pool stopped")
}

func (p *Pool) loop(ctx context.Context, id int) {
	log := p.logger.With("worker_id", id)
	for {
		if ctx.Err() != nil {
			return
		}
		worked, err := p.RunOnce(ctx)
		if err != nil {
			leaseErrors.WithLabelValues(string(p.kind)).Inc()
			log.ErrorContext(ctx, "lease failed", "error", err)
		}
		if worked && err == nil {
			continue
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(p.pollInterval):
		}
	}
}

// RunOnce leases and handles at most one job. It reports whether a job was
// leased.
func (p *Pool) RunOnce(ctx context.Context) (bool, error) {
	job, ok, err := p.store.Lease(ctx, p.kind, p.lease)
	if err != nil || !ok {
		return false, err
	}

	kind := string(p.kind)
	jobsInFlight.WithLabelValues(kind).Inc()
	defer jobsInFlight.WithLabelValues(kind).Dec()

	start := time.Now()
	res, procErr := p.process(ctx, job)
	jobDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())

	log := p.logger.With("job_id", job.ID, "attempt", job.Attempts)
	if ctx.Err() != nil {
		jobsProcessed.WithLabelValues(kind, "abandoned").Inc()
		log.WarnContext(ctx, "shutdown interrupted job, leaving it for lease expiry")
		return true, nil
	}

	// Settle on a fresh deadline so a slow processor cannot starve Ack/Fail.
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), settleTimeout)
	defer cancel()

	if procErr == nil {
		if err := p.store.Ack(sctx, job.ID, job.Attempts); err != nil {
			log.ErrorContext(sctx, "ack failed", "error", err)
			return true, nil
		}
		jobsProcessed.WithLabelValues(kind, string(res.Status)).Inc()
		log.InfoContext(sctx, "job finished",
			"status", string(res.Status),
			"reason", res.Reason,
			"items", res.Items,
		)
		return true, nil
	}

	outcome, err := p.store.Fail(sctx, job.ID, job.Attempts, procErr)
	if err != nil {
		log.ErrorContext(sctx, "fail failed", "error", err, "job_error", procErr)
		return true, nil
	}
	jobsProcessed.WithLabelValues(kind, string(outcome)).Inc()
	level := slog.LevelWarn
	if outcome == types.FailDeadLettered {
		level = slog.LevelError
	}
	log.Log(sctx, level, "job failed",
		"outcome", string(outcome),
		"error_code", string(types.CodeOf(procErr)),
		"error", procErr,
	)
	return true, nil
}

// process runs the processor, converting a panic into a retryable error.
func (p *Pool) process(ctx context.Context, job *types.Job) (res processors.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			panicsRecovered.WithLabelValues(string(p.kind)).Inc()
			p.logger.ErrorContext(ctx, "processor panic recovered",
				"job_id", job.ID,
				"panic", fmt.Sprint(r),
				"stack", string(debug.Stack()),
			)
			err = types.NewAppError(types.ErrCodeInternalUnexpected, fmt.Sprintf("processor panic: %v", r), nil)
		}
	}()
	// Provider calls carry the job ID as their trace ID.
	ctx = types.WithRequestID(types.WithJobID(ctx, job.ID), job.ID)
	return p.processor.Process(ctx, job)
}
