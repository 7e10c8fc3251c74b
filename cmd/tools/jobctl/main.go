// Package main implements jobctl, an operator CLI for scheduler tasks and
// the job queue.
//
// Usage:
//
//	jobctl list
//	jobctl run -task=sync_search [-reference-time=2026-03-09T03:00:00Z] [-dry-run]
//	jobctl status [-kind=page_speed]
//	jobctl dead -kind=site_crawl [-limit=20]
//	jobctl enqueue -kind=score_recalc -payload='{"site_id":"...","organization_id":"..."}'
//	jobctl test-channel -type=SLACK -config='{"webhookUrl":"https://hooks.slack.com/..."}'
//
// Configuration comes from the environment (or a .env file) exactly as for
// the worker and scheduler. run goes through the same lock and job history
// as scheduled triggers.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"seopulse/internal/app"
	"seopulse/internal/config"
	"seopulse/internal/scheduler"
	"seopulse/internal/types"
)

var taskDescriptions = map[scheduler.TaskType]string{
	scheduler.TaskSyncSearch:     "Enqueue a search analytics sync for every active site",
	scheduler.TaskRunPageSpeed:   "Enqueue MOBILE and DESKTOP lab tests for every active site",
	scheduler.TaskCrawlSites:     "Enqueue the weekly crawl for every active site",
	scheduler.TaskRecalcScores:   "Enqueue a score recalculation for every active site",
	scheduler.TaskEvaluateAlerts: "Evaluate alert rules and notify on new violations",
	scheduler.TaskRequeueExpired: "Return jobs with lapsed leases to the queue",
	scheduler.TaskPruneState:     "Drop expired cache entries and stale rate limit buckets",
}

const usage = `Usage: jobctl <command> [flags]

Commands:
  list          list scheduler tasks
  run           run a scheduler task now
  status        show job counts per kind
  dead          show dead-lettered jobs
  enqueue       enqueue an on-demand job
  test-channel  send a test notification to a channel config
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := dispatch(ctx, os.Args[1], os.Args[2:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func dispatch(ctx context.Context, cmd string, args []string, out io.Writer) error {
	switch cmd {
	case "list":
		printTasks(out)
		return nil
	case "run":
		payload, dryRun, err := parseRunArgs(args)
		if err != nil {
			return err
		}
		if dryRun {
			return printJSON(out, payload)
		}
		return withRuntime(ctx, func(rt *app.Runtime) error {
			handler, err := rt.SchedulerHandler(app.WorkerID("jobctl"))
			if err != nil {
				return err
			}
			res, err := handler.Handle(ctx, payload)
			if err != nil {
				return err
			}
			return printJSON(out, res)
		})
	case "status":
		kinds, err := parseStatusArgs(args)
		if err != nil {
			return err
		}
		return withRuntime(ctx, func(rt *app.Runtime) error {
			counts := make(map[types.JobKind]types.JobCounts, len(kinds))
			for _, k := range kinds {
				c, err := rt.Enqueuer.GetJobStatus(ctx, k)
				if err != nil {
					return fmt.Errorf("counting %s: %w", k, err)
				}
				counts[k] = c
			}
			return printJSON(out, counts)
		})
	case "dead":
		kind, limit, err := parseDeadArgs(args)
		if err != nil {
			return err
		}
		return withRuntime(ctx, func(rt *app.Runtime) error {
			jobs, err := rt.Store.DeadLetters(ctx, kind, limit)
			if err != nil {
				return err
			}
			return printJSON(out, jobs)
		})
	case "enqueue":
		req, err := parseEnqueueArgs(args)
		if err != nil {
			return err
		}
		return withRuntime(ctx, func(rt *app.Runtime) error {
			// Operator enqueues are not subject to the per-organization limit.
			res, err := rt.Enqueuer.EnqueueJob(ctx, "", req.kind, req.payload, types.EnqueueOptions{DedupeKey: req.dedupeKey})
			if err != nil {
				return err
			}
			return printJSON(out, res)
		})
	case "test-channel":
		channelType, cfg, err := parseTestChannelArgs(args)
		if err != nil {
			return err
		}
		return withRuntime(ctx, func(rt *app.Runtime) error {
			d, err := rt.Dispatcher()
			if err != nil {
				return err
			}
			if err := d.SendTest(ctx, channelType, cfg); err != nil {
				return err
			}
			fmt.Fprintln(out, "test notification delivered")
			return nil
		})
	default:
		return fmt.Errorf("unknown command %q\n\n%s", cmd, usage)
	}
}

func withRuntime(ctx context.Context, fn func(rt *app.Runtime) error) error {
	provider := config.NewSecretProvider(os.Getenv("APP_ENV"), os.Getenv("AWS_REGION"), os.Getenv("AWS_ENDPOINT_URL"))
	cfg, err := config.LoadConfig(provider)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	logger := app.NewLogger(cfg.LogLevel).With("service", "jobctl")
	rt, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer rt.Close()
	return fn(rt)
}

func parseRunArgs(args []string) (scheduler.TaskPayload, bool, error) {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	task := fs.String("task", "", "task to run")
	refTime := fs.String("reference-time", "", "override reference time (RFC3339)")
	dryRun := fs.Bool("dry-run", false, "print the payload without executing")
	if err := fs.Parse(args); err != nil {
		return scheduler.TaskPayload{}, false, err
	}
	if *task == "" {
		return scheduler.TaskPayload{}, false, errors.New("-task is required")
	}
	t, err := scheduler.ParseTask(*task)
	if err != nil {
		return scheduler.TaskPayload{}, false, err
	}
	payload := scheduler.TaskPayload{Task: t}
	if *refTime != "" {
		ts, err := time.Parse(time.RFC3339, *refTime)
		if err != nil {
			return scheduler.TaskPayload{}, false, fmt.Errorf("invalid -reference-time %q: expected RFC3339", *refTime)
		}
		ts = ts.UTC()
		payload.ReferenceTime = &ts
	}
	return payload, *dryRun, nil
}

func parseStatusArgs(args []string) ([]types.JobKind, error) {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	kind := fs.String("kind", "", "job kind (default: all)")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if *kind == "" {
		return types.AllJobKinds, nil
	}
	k := types.JobKind(*kind)
	if !k.Valid() {
		return nil, fmt.Errorf("unknown job kind %q", *kind)
	}
	return []types.JobKind{k}, nil
}

func parseDeadArgs(args []string) (types.JobKind, int, error) {
	fs := flag.NewFlagSet("dead", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	kind := fs.String("kind", "", "job kind")
	limit := fs.Int("limit", 20, "maximum jobs to show")
	if err := fs.Parse(args); err != nil {
		return "", 0, err
	}
	k := types.JobKind(*kind)
	if !k.Valid() {
		return "", 0, fmt.Errorf("unknown job kind %q", *kind)
	}
	if *limit < 1 {
		return "", 0, errors.New("-limit must be positive")
	}
	return k, *limit, nil
}

type enqueueRequest struct {
	kind      types.JobKind
	payload   types.JobPayload
	dedupeKey string
}

func parseEnqueueArgs(args []string) (enqueueRequest, error) {
	fs := flag.NewFlagSet("enqueue", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	kind := fs.String("kind", "", "job kind")
	raw := fs.String("payload", "", "job payload as JSON")
	dedupe := fs.String("dedupe-key", "", "optional dedupe key")
	if err := fs.Parse(args); err != nil {
		return enqueueRequest{}, err
	}
	if *raw == "" {
		return enqueueRequest{}, errors.New("-payload is required")
	}
	k := types.JobKind(*kind)
	payload, err := types.DecodeJobPayload(k, json.RawMessage(*raw))
	if err != nil {
		return enqueueRequest{}, err
	}
	return enqueueRequest{kind: k, payload: payload, dedupeKey: *dedupe}, nil
}

func parseTestChannelArgs(args []string) (types.ChannelType, json.RawMessage, error) {
	fs := flag.NewFlagSet("test-channel", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	typ := fs.String("type", "", "channel type (SLACK or WEBHOOK)")
	raw := fs.String("config", "", "channel config as JSON")
	if err := fs.Parse(args); err != nil {
		return "", nil, err
	}
	if *typ == "" || *raw == "" {
		return "", nil, errors.New("-type and -config are required")
	}
	if !json.Valid([]byte(*raw)) {
		return "", nil, errors.New("-config is not valid JSON")
	}
	return types.ChannelType(strings.ToUpper(*typ)), json.RawMessage(*raw), nil
}

func printTasks(out io.Writer) {
	fmt.Fprintln(out, "Available tasks:")
	for _, t := range scheduler.AllTasks {
		fmt.Fprintf(out, "  %-18s %s\n", t, taskDescriptions[t])
	}
}

func printJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
