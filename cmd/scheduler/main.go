// Package main is the entrypoint for the scheduler.
//
// In a long-running deployment it serves the bearer-protected trigger API
// and fires tasks from CRON_* specs. When AWS_LAMBDA_FUNCTION_NAME is set it
// instead handles one scheduler.TaskPayload per invocation, as sent by an
// EventBridge rule:
//
//	{"task": "evaluate_alerts"}
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

	"github.com/aws/aws-lambda-go/lambda"

	"seopulse/internal/app"
	"seopulse/internal/config"
	"seopulse/internal/scheduler"
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

	logger := app.NewLogger(cfg.LogLevel).With("service", "scheduler")
	logger.Info("seopulse scheduler starting",
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

	handler, err := rt.SchedulerHandler(app.WorkerID("scheduler"))
	if err != nil {
		return err
	}

	if os.Getenv("AWS_LAMBDA_FUNCTION_NAME") != "" {
		logger.Info("running in Lambda mode")
		lambda.Start(handler.Handle)
		return nil
	}
	return runServer(ctx, cfg, rt, handler, logger)
}

func runServer(ctx context.Context, cfg *config.Config, rt *app.Runtime, handler *scheduler.Handler, logger *slog.Logger) error {
	runner, err := scheduler.NewCronRunner(scheduler.Specs(cfg.Scheduler), handler, logger)
	if err != nil {
		return err
	}
	runner.Start()

	srv := &http.Server{
		Addr:              ":" + cfg.Scheduler.Port,
		Handler:           scheduler.NewRouter(handler, rt.Enqueuer, cfg.Scheduler.TriggerToken.Reveal()),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// Manual triggers run the task inline.
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serverErr:
		if err != nil {
			<-runner.Stop().Done()
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
	select {
	case <-runner.Stop().Done():
	case <-shutdownCtx.Done():
		logger.Warn("cron tasks still running at shutdown deadline")
	}
	logger.Info("scheduler stopped")
	return nil
}
