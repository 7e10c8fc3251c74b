// Package app assembles the runtime dependency graph shared by the worker,
// the scheduler and jobctl.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jackc/pgx/v5/pgxpool"

	"seopulse/internal/alerting"
	"seopulse/internal/cache"
	"seopulse/internal/config"
	"seopulse/internal/crawler"
	"seopulse/internal/db"
	"seopulse/internal/external"
	"seopulse/internal/idempotency"
	"seopulse/internal/notifications/core"
	"seopulse/internal/notifications/email"
	"seopulse/internal/notifications/webhook"
	"seopulse/internal/processors"
	"seopulse/internal/queue"
	"seopulse/internal/ratelimit"
	"seopulse/internal/scheduler"
	"seopulse/internal/security"
	"seopulse/internal/storage"
	"seopulse/internal/types"
)

// crawlMaxRedirects bounds redirects followed per crawled page.
const crawlMaxRedirects = 5

// Runtime holds the long-lived clients of one process.
type Runtime struct {
	Config *config.Config
	Logger *slog.Logger
	Pool   *pgxpool.Pool
	AWS    aws.Config
	Clock  types.Clock

	Store    queue.Store
	Enqueuer *queue.Enqueuer
	Limiter  *ratelimit.Limiter
	Cache    cache.Cache
	Guard    *security.Guard

	Sites *db.SiteRepository
	Jobs  *db.JobRepository
}

// New connects to Postgres, loads AWS configuration and selects the job
// backend named by cfg.AWS.JobBackend.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Runtime, error) {
	pool, err := openPool(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}

	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.AWS.Region)}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}
	if cfg.AWS.EndpointURL != "" {
		awsCfg.BaseEndpoint = aws.String(cfg.AWS.EndpointURL)
	}

	clock := types.RealClock{}
	rt := &Runtime{
		Config: cfg,
		Logger: logger,
		Pool:   pool,
		AWS:    awsCfg,
		Clock:  clock,
		Guard:  security.NewGuard(nil),
		Sites:  db.NewSiteRepository(pool),
		Jobs:   db.NewJobRepository(pool, queue.DefaultBackoff, queue.DefaultMaxAttempts),
	}
	rt.Limiter = ratelimit.NewLimiter(db.NewRateLimitRepository(pool), clock, logger)
	rt.Cache = cache.NewStoreCache(db.NewCacheRepository(pool), logger)

	switch cfg.AWS.JobBackend {
	case "sqs":
		rt.Store = queue.NewSQSStore(sqs.NewFromConfig(awsCfg), cfg.AWS.QueueURLs(), cfg.AWS.DlqURL,
			db.NewJobLockRepository(pool), clock, logger)
	case "memory":
		// Single-process mode: queue, limiter and cache all stay in memory.
		logger.Warn("in-memory job backend: jobs only reach workers in this process")
		rt.Store = queue.NewMemoryStore(clock)
		rt.Limiter = ratelimit.NewLimiter(ratelimit.NewMemoryStore(clock), clock, logger)
		rt.Cache = cache.NewMemoryCache(clock)
	default:
		rt.Store = rt.Jobs
	}
	rt.Enqueuer = queue.NewEnqueuer(rt.Store, rt.Limiter, cfg.RateLimit.JobsLimit, cfg.RateLimit.JobsWindow, logger)

	logger.Info("runtime initialized",
		"job_backend", cfg.AWS.JobBackend,
		"region", cfg.AWS.Region,
	)
	return rt, nil
}

func openPool(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL.Reveal())
	if err != nil {
		return nil, fmt.Errorf("parsing database url: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.MaxConns)
	poolCfg.MinConns = int32(cfg.MinConns)
	poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	poolCfg.HealthCheckPeriod = cfg.HealthCheckPeriod

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating database pool: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, cfg.AcquireTimeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	return pool, nil
}

// Close releases the database pool.
func (rt *Runtime) Close() {
	rt.Pool.Close()
}

// Processors builds the job processors with their providers.
func (rt *Runtime) Processors() (map[types.JobKind]processors.Processor, error) {
	cfg := rt.Config
	metrics := db.NewMetricRepository(rt.Pool)
	crawls := db.NewCrawlReportRepository(rt.Pool)
	scores := db.NewScoreRepository(rt.Pool)

	crawlClient, err := security.NewSafeHTTPClient(cfg.Providers.CrawlerPageTimeout, crawlMaxRedirects, rt.Guard)
	if err != nil {
		return nil, fmt.Errorf("creating crawler client: %w", err)
	}

	var archive storage.ReportArchive
	if cfg.AWS.ReportBucket != "" {
		client := s3.NewFromConfig(rt.AWS, func(o *s3.Options) {
			o.UsePathStyle = cfg.AWS.EndpointURL != ""
		})
		archive = storage.NewS3ReportArchive(client, cfg.AWS.ReportBucket, rt.Logger)
	}

	var search external.SearchAnalyticsProvider = external.NewMockSearchProvider(rt.Logger)
	if !cfg.Providers.UseSearchMock() {
		search = external.NewSearchAnalyticsClient(external.SearchAnalyticsClientConfig{
			BaseURL:     cfg.Providers.SearchAPIBaseURL,
			AccessToken: cfg.Providers.SearchAccessToken,
			Timeout:     cfg.Providers.SearchTimeout,
			UserAgent:   cfg.Providers.CrawlerUserAgent,
		})
	}
	var pageSpeed external.PageSpeedProvider = external.MockPageSpeedProvider{}
	if !cfg.Providers.UsePageSpeedMock() {
		pageSpeed = external.NewPageSpeedClient(external.PageSpeedClientConfig{
			BaseURL:   cfg.Providers.PageSpeedBaseURL,
			APIKey:    cfg.Providers.PageSpeedAPIKey,
			Timeout:   cfg.Providers.PageSpeedTimeout,
			UserAgent: cfg.Providers.CrawlerUserAgent,
		})
	}
	rt.Logger.Info("providers selected",
		"search_mock", cfg.Providers.UseSearchMock(),
		"pagespeed_mock", cfg.Providers.UsePageSpeedMock(),
		"report_archive", archive != nil,
	)

	return processors.NewRegistry(processors.Deps{
		Sites:   rt.Sites,
		Search:  db.NewSearchRepository(rt.Pool),
		Metrics: metrics,
		Crawls:  crawls,
		Scores:  scores,
		Guard: &idempotency.Guard{
			Snapshots: metrics,
			Crawls:    crawls,
			Syncs:     rt.Sites,
			Scores:    scores,
			Clock:     rt.Clock,
		},
		Limiter:           rt.Limiter,
		Cache:             rt.Cache,
		Archive:           archive,
		SearchProvider:    search,
		PageSpeedProvider: pageSpeed,
		Crawler:           crawler.New(crawlClient, cfg.Providers.CrawlerUserAgent, cfg.Providers.CrawlerPageTimeout, rt.Logger),
		Limits: processors.Limits{
			PageSpeedLimit:  cfg.RateLimit.PageSpeedLimit,
			PageSpeedWindow: cfg.RateLimit.PageSpeedWindow,
			PageSpeedTTL:    cfg.Cache.PageSpeedTTL,
		},
		Clock:  rt.Clock,
		Logger: rt.Logger,
	}), nil
}

// Dispatcher builds the notification dispatcher with Slack and webhook
// senders. Delivery metrics go to CloudWatch when enabled.
func (rt *Runtime) Dispatcher() (*core.Dispatcher, error) {
	cfg := rt.Config.Notification
	senderCfg := webhook.SenderConfig{
		UserAgent:    cfg.UserAgent,
		Timeout:      cfg.SendTimeout,
		MaxRedirects: cfg.MaxRedirects,
		Guard:        rt.Guard,
		Clock:        rt.Clock,
		Logger:       rt.Logger,
	}
	slack, err := webhook.NewSlackSender(senderCfg)
	if err != nil {
		return nil, fmt.Errorf("creating slack sender: %w", err)
	}
	hook, err := webhook.NewWebhookSender(senderCfg)
	if err != nil {
		return nil, fmt.Errorf("creating webhook sender: %w", err)
	}

	var metrics core.NotificationMetrics = core.NopMetrics{}
	if cfg.MetricsEnabled {
		metrics = core.NewCloudWatchMetrics(cloudwatch.NewFromConfig(rt.AWS), rt.Config.Observability.MetricNamespace, rt.Logger)
	}
	return core.NewDispatcher(db.NewChannelRepository(rt.Pool), []core.Sender{slack, hook}, core.DispatcherConfig{
		SendTimeout: cfg.SendTimeout,
		MaxParallel: cfg.MaxParallel,
		Metrics:     metrics,
		Logger:      rt.Logger,
	}), nil
}

// Mailer sends rule recipient email through SES, or logs it when email is
// disabled or running locally.
func (rt *Runtime) Mailer() (*email.Mailer, error) {
	cfg := rt.Config.Notification
	renderer, err := email.NewRenderer()
	if err != nil {
		return nil, fmt.Errorf("loading email templates: %w", err)
	}
	var provider external.EmailProvider = external.LogEmailProvider{Logger: rt.Logger}
	if cfg.EmailEnabled && rt.Config.Environment != "local" {
		provider = external.NewSESClient(rt.AWS, external.SESClientConfig{
			ConfigSetName: cfg.ConfigSetName,
			Logger:        rt.Logger,
		})
	}
	return email.NewMailer(provider, renderer, external.SenderIdentity{Name: cfg.FromName, Address: cfg.FromAddress}, rt.Logger), nil
}

// AlertEngine builds the alert evaluation engine.
func (rt *Runtime) AlertEngine() (*alerting.Engine, error) {
	dispatcher, err := rt.Dispatcher()
	if err != nil {
		return nil, err
	}
	mailer, err := rt.Mailer()
	if err != nil {
		return nil, err
	}
	return alerting.NewEngine(alerting.Config{
		Rules:        db.NewAlertRuleRepository(rt.Pool),
		Events:       db.NewAlertEventRepository(rt.Pool),
		Series:       db.NewMetricRepository(rt.Pool),
		Sites:        rt.Sites,
		Notifier:     dispatcher,
		Mailer:       mailer,
		DashboardURL: rt.Config.Notification.DashboardURL,
		Logger:       rt.Logger,
	}), nil
}

// SchedulerHandler builds the trigger handler. The Postgres job backend gets
// the lease reaper and the shared-state pruners; the lock and job history
// always live in Postgres.
func (rt *Runtime) SchedulerHandler(workerID string) (*scheduler.Handler, error) {
	engine, err := rt.AlertEngine()
	if err != nil {
		return nil, err
	}
	tasks := &scheduler.Tasks{
		Sites:      rt.Sites,
		Jobs:       rt.Store,
		Alerts:     engine,
		BatchLimit: rt.Config.Scheduler.SiteBatchLimit,
		Parallel:   rt.Config.Scheduler.EnqueueParallel,
		MaxWindow:  max(rt.Config.RateLimit.JobsWindow, rt.Config.RateLimit.PageSpeedWindow),
		Logger:     rt.Logger,
	}
	switch rt.Config.AWS.JobBackend {
	case "postgres":
		tasks.Requeuer = rt.Jobs
		fallthrough
	case "sqs":
		tasks.Cache = db.NewCacheRepository(rt.Pool)
		tasks.Buckets = db.NewRateLimitRepository(rt.Pool)
	}
	return &scheduler.Handler{
		Tasks:      tasks,
		JobLock:    db.NewJobLockRepository(rt.Pool),
		JobHistory: db.NewJobHistoryRepository(rt.Pool),
		WorkerID:   workerID,
		Logger:     rt.Logger,
	}, nil
}

// WorkerID identifies this process in locks and job history.
func WorkerID(prefix string) string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "unknown"
	}
	return fmt.Sprintf("%s-%s-%d", prefix, host, os.Getpid())
}

// NewLogger returns a JSON slog logger at level.
func NewLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
