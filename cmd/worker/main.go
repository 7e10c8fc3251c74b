// Package main is the entrypoint for the job worker.
//
// One pool of goroutines runs per job kind, sized from WORKER_CONCURRENCY_*.
// A small HTTP server exposes /metrics and /healthz. With JOB_BACKEND=memory
// the scheduler's cron runner is embedded so jobs have a producer in the
// same process.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"seopulse/internal/app"
	"seopulse/internal/config"
	"seopulse/internal/scheduler"
	"seopulse/internal/types"
	"seopulse/internal/worker"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	provider := config.NewSecretProvider(os.Getenv("APP_ENV"), os.Getenv("AWS_REGION"), os.Getenv("AWS_ENDPOINT_URL"))
	cfg, err := config.LoadConfig(provider)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := app.NewLogger(cfg.LogLevel).With("service", "worker")
	logger.Info("seopulse worker starting",
		"environment", cfg.Environment,
		"version", cfg.Build.Version,
		"commit", cfg.Build.Commit,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer rt.Close()

	procs, err := rt.Processors()
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, kind := range types.AllJobKinds {
		pool := worker.NewPool(worker.Config{
			Store:        rt.Store,
			Processor:    procs[kind],
			Workers:      cfg.Worker.Concurrency(kind),
			Lease:        cfg.Worker.LeaseFor(kind),
			PollInterval: cfg.Worker.PollInterval,
			Logger:       logger,
		})
		g.Go(func() error {
			pool.Run(gctx)
			return nil
		})
	}

	if cfg.AWS.JobBackend == "memory" {
		handler, err := rt.SchedulerHandler(app.WorkerID("worker"))
		if err != nil {
			return err
		}
		runner, err := scheduler.NewCronRunner(scheduler.Specs(cfg.Scheduler), handler, logger)
		if err != nil {
			return err
		}
		runner.Start()
		g.Go(func() error {
			<-gctx.Done()
			<-runner.Stop().Done()
			return nil
		})
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Worker.MetricsPort,
		Handler:           worker.NewRouter(poolProbe{rt.Pool}),
		ReadHeaderTimeout: 10 * time.Second,
	}
	g.Go(func() error { return serve(gctx, srv, logger) })

	err = g.Wait()
	logger.Info("worker stopped")
	return err
}

// serve runs srv until ctx is done, then shuts it down gracefully.
func serve(ctx context.Context, srv *http.Server, logger *slog.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown: %w", err)
	}
	return nil
}

type poolProbe struct {
	pool *pgxpool.Pool
}

func (p poolProbe) Name() string { return "database" }

func (p poolProbe) Check(ctx context.Context) error { return p.pool.Ping(ctx) }
