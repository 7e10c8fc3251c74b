// Package config defines the global configuration structure for the SEOPulse
// pipeline. Configuration is loaded once at process start and is immutable
// thereafter.
//
// Values are resolved via a priority chain:
//
//	OS Environment (Highest) -> Dotenv File -> AWS SSM Parameter Store (Lowest)
//
// Any missing required value or invalid format fails startup immediately.
package config

import (
	"time"

	"seopulse/internal/types"
)

// SecretString is an alias for types.SecretString, the redacted secret type used
// throughout configuration to prevent accidental logging of sensitive values.
type SecretString = types.SecretString

// Config is the top-level configuration struct. Sub-components receive only
// the specific config subsets they require.
type Config struct {
	// System Metadata
	Environment string `envconfig:"APP_ENV" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"seopulse"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	Database      DatabaseConfig
	AWS           AWSConfig
	Worker        WorkerConfig
	Scheduler     SchedulerConfig
	Providers     ProviderConfig
	Notification  NotificationConfig
	RateLimit     RateLimitConfig
	Cache         CacheConfig
	Observability ObservabilityConfig

	// Build Metadata (Injected via ldflags, not Env)
	Build BuildInfo
}

// DatabaseConfig holds database connection and pool tuning parameters.
type DatabaseConfig struct {
	URL SecretString `envconfig:"DATABASE_URL" validate:"required"`

	MaxConns          int           `envconfig:"DB_MAX_CONNS" default:"10"`
	MinConns          int           `envconfig:"DB_MIN_CONNS" default:"2"`
	MaxConnLifetime   time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	AcquireTimeout    time.Duration `envconfig:"DB_ACQUIRE_TIMEOUT" default:"2s"`
	HealthCheckPeriod time.Duration `envconfig:"DB_HEALTH_CHECK_PERIOD" default:"1m"`
}

// AWSConfig holds AWS resource identifiers and regional configuration.
type AWSConfig struct {
	Region string `envconfig:"AWS_REGION" default:"us-east-1"`

	// JobBackend selects the job store: "postgres" (default) or "sqs".
	JobBackend string `envconfig:"JOB_BACKEND" default:"postgres" validate:"oneof=postgres sqs memory"`

	// One queue per job kind when JobBackend=sqs.
	QueueSearchSync  string `envconfig:"SQS_SEARCH_SYNC" validate:"required_if=JobBackend sqs"`
	QueuePageSpeed   string `envconfig:"SQS_PAGE_SPEED" validate:"required_if=JobBackend sqs"`
	QueueSiteCrawl   string `envconfig:"SQS_SITE_CRAWL" validate:"required_if=JobBackend sqs"`
	QueueScoreRecalc string `envconfig:"SQS_SCORE_RECALC" validate:"required_if=JobBackend sqs"`
	DlqURL           string `envconfig:"SQS_DLQ" validate:"required_if=JobBackend sqs"`

	// ReportBucket stores crawl artifacts. Empty disables archival.
	ReportBucket string `envconfig:"REPORT_BUCKET"`

	// LocalStack Support (Empty in Prod)
	EndpointURL string `envconfig:"AWS_ENDPOINT_URL"`
}

// QueueURLs maps each job kind to its SQS queue URL.
func (c AWSConfig) QueueURLs() map[types.JobKind]string {
	return map[types.JobKind]string{
		types.JobSearchSync:  c.QueueSearchSync,
		types.JobPageSpeed:   c.QueuePageSpeed,
		types.JobSiteCrawl:   c.QueueSiteCrawl,
		types.JobScoreRecalc: c.QueueScoreRecalc,
	}
}

// WorkerConfig sizes the per-kind worker pools.
type WorkerConfig struct {
	SearchSyncConcurrency  int           `envconfig:"WORKER_CONCURRENCY_SEARCH_SYNC" default:"4" validate:"min=1,max=64"`
	PageSpeedConcurrency   int           `envconfig:"WORKER_CONCURRENCY_PAGE_SPEED" default:"2" validate:"min=1,max=64"`
	SiteCrawlConcurrency   int           `envconfig:"WORKER_CONCURRENCY_SITE_CRAWL" default:"2" validate:"min=1,max=64"`
	ScoreRecalcConcurrency int           `envconfig:"WORKER_CONCURRENCY_SCORE_RECALC" default:"4" validate:"min=1,max=64"`
	Lease                  time.Duration `envconfig:"WORKER_LEASE" default:"2m"`
	CrawlLease             time.Duration `envconfig:"WORKER_CRAWL_LEASE" default:"15m"`
	PollInterval           time.Duration `envconfig:"WORKER_POLL_INTERVAL" default:"2s"`
	MetricsPort            string        `envconfig:"WORKER_METRICS_PORT" default:"9090"`
}

// Concurrency returns the pool size for kind.
func (c WorkerConfig) Concurrency(kind types.JobKind) int {
	switch kind {
	case types.JobSearchSync:
		return c.SearchSyncConcurrency
	case types.JobPageSpeed:
		return c.PageSpeedConcurrency
	case types.JobSiteCrawl:
		return c.SiteCrawlConcurrency
	case types.JobScoreRecalc:
		return c.ScoreRecalcConcurrency
	}
	return 1
}

// LeaseFor returns the lease duration for kind. Crawls are long-running.
func (c WorkerConfig) LeaseFor(kind types.JobKind) time.Duration {
	if kind == types.JobSiteCrawl {
		return c.CrawlLease
	}
	return c.Lease
}

// SchedulerConfig holds trigger cadence and the HTTP trigger surface settings.
type SchedulerConfig struct {
	Port         string       `envconfig:"SCHEDULER_PORT" default:"8081"`
	TriggerToken SecretString `envconfig:"CRON_SECRET" validate:"required,min=16"`

	// Standard 5-field cron specs (UTC).
	SearchSyncCron  string `envconfig:"CRON_SEARCH_SYNC" default:"0 3 * * *"`
	PageSpeedCron   string `envconfig:"CRON_PAGE_SPEED" default:"0 4 * * *"`
	CrawlCron       string `envconfig:"CRON_SITE_CRAWL" default:"0 5 * * 1"`
	ScoreCron       string `envconfig:"CRON_SCORE_RECALC" default:"0 6 * * *"`
	EvaluateCron    string `envconfig:"CRON_EVALUATE_ALERTS" default:"*/30 * * * *"`
	RequeueCron     string `envconfig:"CRON_REQUEUE_EXPIRED" default:"*/10 * * * *"`
	PruneCron       string `envconfig:"CRON_PRUNE_STATE" default:"15 2 * * *"`
	SiteBatchLimit  int    `envconfig:"SCHEDULER_SITE_BATCH_LIMIT" default:"1000"`
	EnqueueParallel int    `envconfig:"SCHEDULER_ENQUEUE_PARALLEL" default:"8" validate:"min=1"`
}

// ProviderConfig holds external data provider credentials.
type ProviderConfig struct {
	SearchAPIBaseURL   string        `envconfig:"SEARCH_API_BASE_URL" default:"https://searchconsole.googleapis.com" validate:"url"`
	SearchAccessToken  SecretString  `envconfig:"SEARCH_ACCESS_TOKEN"`
	SearchMock         bool          `envconfig:"SEARCH_PROVIDER_MOCK" default:"false"`
	PageSpeedBaseURL   string        `envconfig:"PAGESPEED_BASE_URL" default:"https://www.googleapis.com" validate:"url"`
	PageSpeedAPIKey    SecretString  `envconfig:"PAGESPEED_API_KEY"`
	PageSpeedMock      bool          `envconfig:"PAGESPEED_PROVIDER_MOCK" default:"false"`
	SearchTimeout      time.Duration `envconfig:"SEARCH_TIMEOUT" default:"30s"`
	PageSpeedTimeout   time.Duration `envconfig:"PAGESPEED_TIMEOUT" default:"90s"`
	CrawlerUserAgent   string        `envconfig:"CRAWLER_USER_AGENT" default:"SEOPulseBot/1.0 (+https://seopulse.io/bot)"`
	CrawlerPageTimeout time.Duration `envconfig:"CRAWLER_PAGE_TIMEOUT" default:"10s"`
}

// UseSearchMock reports whether the deterministic search generator should
// replace the real provider.
func (c ProviderConfig) UseSearchMock() bool {
	return c.SearchMock || !c.SearchAccessToken.IsSet()
}

// UsePageSpeedMock reports whether lab tests should be simulated.
func (c ProviderConfig) UsePageSpeedMock() bool {
	return c.PageSpeedMock || !c.PageSpeedAPIKey.IsSet()
}

// NotificationConfig holds settings for outbound notification delivery.
type NotificationConfig struct {
	UserAgent      string        `envconfig:"WEBHOOK_USER_AGENT" default:"SEOPulse-Webhook/1.0"`
	SendTimeout    time.Duration `envconfig:"NOTIFICATION_TIMEOUT" default:"10s"`
	MaxRedirects   int           `envconfig:"WEBHOOK_MAX_REDIRECTS" default:"3"`
	MaxParallel    int           `envconfig:"NOTIFICATION_MAX_PARALLEL" default:"16" validate:"min=1"`
	EmailEnabled   bool          `envconfig:"FEATURE_ENABLE_EMAIL" default:"true"`
	FromAddress    string        `envconfig:"EMAIL_FROM_ADDRESS" default:"alerts@seopulse.io" validate:"email"`
	FromName       string        `envconfig:"EMAIL_FROM_NAME" default:"SEOPulse Alerts"`
	ConfigSetName  string        `envconfig:"SES_CONFIG_SET"`
	DashboardURL   string        `envconfig:"DASHBOARD_URL" default:"https://app.seopulse.io" validate:"url"`
	MetricsEnabled bool          `envconfig:"NOTIFICATION_METRICS_ENABLED" default:"true"`
}

// RateLimitConfig holds sliding-window limits for guarded operations.
type RateLimitConfig struct {
	PageSpeedLimit  int           `envconfig:"RATE_LIMIT_PSI" default:"10"`
	PageSpeedWindow time.Duration `envconfig:"RATE_LIMIT_PSI_WINDOW" default:"1m"`
	JobsLimit       int           `envconfig:"RATE_LIMIT_JOBS" default:"20"`
	JobsWindow      time.Duration `envconfig:"RATE_LIMIT_JOBS_WINDOW" default:"1h"`
}

// CacheConfig controls the shared cache.
type CacheConfig struct {
	PageSpeedTTL time.Duration `envconfig:"CACHE_PSI_TTL" default:"1h"`
	ScoreTTL     time.Duration `envconfig:"CACHE_SCORE_TTL" default:"6h"`
}

// ObservabilityConfig holds telemetry and monitoring settings.
type ObservabilityConfig struct {
	MetricNamespace string `envconfig:"METRIC_NAMESPACE" default:"SEOPulse"`
}

// BuildInfo holds build-time metadata injected via ldflags.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildTime string
}

// ConfigErrorType categorizes configuration loading failures to aid debugging.
type ConfigErrorType string

const (
	// ErrMissingEnv indicates a required environment variable was not found.
	ErrMissingEnv ConfigErrorType = "MISSING_ENV"
	// ErrSSMResolution indicates a failure when fetching secrets from AWS SSM.
	ErrSSMResolution ConfigErrorType = "SSM_FAILURE"
	// ErrValidation indicates the configuration failed struct validation rules.
	ErrValidation ConfigErrorType = "VALIDATION_FAILED"
	// ErrParsing indicates a failure when parsing environment variable values.
	ErrParsing ConfigErrorType = "PARSING_FAILED"
)
