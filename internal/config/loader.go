// loader.go implements the configuration loading lifecycle.
//
// The loading sequence is:
//  1. Enforce UTC so calendar-day comparisons (alert debounce, daily series)
//     never depend on the host timezone.
//  2. Load .env file via godotenv (non-fatal if absent).
//  3. If APP_ENV != "local", resolve every *_SSM_PARAM pointer through the
//     SecretProvider and inject the values into the environment.
//  4. Populate Config with envconfig.
//  5. Attach BuildInfo from linker-injected variables.
//  6. Validate struct tags, then cross-field rules.
package config

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// ConfigError is a diagnostic error type returned by LoadConfig.
type ConfigError struct {
	Type    ConfigErrorType
	Message string
	Err     error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

// Unwrap returns the underlying error for use with errors.Is/errors.As.
func (e *ConfigError) Unwrap() error {
	return e.Err
}

// ssmParamSuffix marks pointer variables: DATABASE_URL_SSM_PARAM holds the
// SSM path whose value becomes DATABASE_URL.
const ssmParamSuffix = "_SSM_PARAM"

// localEnv is the APP_ENV value that bypasses SSM resolution.
const localEnv = "local"

// ssmTimeout bounds the whole batch resolution.
const ssmTimeout = 30 * time.Second

// loaderDeps holds the injectable environment accessors so tests never
// mutate process state.
type loaderDeps struct {
	lookupEnv func(key string) (string, bool)
	setEnv    func(key, value string) error
	environ   func() []string
}

func defaultDeps() loaderDeps {
	return loaderDeps{
		lookupEnv: os.LookupEnv,
		setEnv:    os.Setenv,
		environ:   os.Environ,
	}
}

// LoadConfig loads and validates the SEOPulse configuration.
//
// provider may be nil for local development; it is required whenever
// *_SSM_PARAM variables need resolving outside APP_ENV=local.
func LoadConfig(provider SecretProvider) (*Config, error) {
	return loadConfigWithDeps(provider, defaultDeps())
}

func loadConfigWithDeps(provider SecretProvider, deps loaderDeps) (*Config, error) {
	time.Local = time.UTC

	// godotenv never overrides variables that are already set.
	_ = godotenv.Load()

	appEnv, _ := deps.lookupEnv("APP_ENV")
	if appEnv != localEnv {
		if err := resolveSSMParams(provider, deps); err != nil {
			return nil, err
		}
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, &ConfigError{
			Type:    ErrParsing,
			Message: "failed to process environment configuration",
			Err:     err,
		}
	}

	cfg.Build = NewBuildInfo()

	if err := validator.New().Struct(cfg); err != nil {
		return nil, &ConfigError{
			Type:    ErrValidation,
			Message: "configuration validation failed",
			Err:     err,
		}
	}

	if err := validateCrossField(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// validateCrossField enforces rules that span several fields and cannot be
// expressed as struct tags.
func validateCrossField(cfg *Config) error {
	var problems []string

	if cfg.Worker.Lease <= cfg.Worker.PollInterval {
		problems = append(problems, "WORKER_LEASE must exceed WORKER_POLL_INTERVAL")
	}
	if cfg.Worker.CrawlLease < cfg.Worker.Lease {
		problems = append(problems, "WORKER_CRAWL_LEASE must be at least WORKER_LEASE")
	}
	if cfg.Notification.SendTimeout <= 0 {
		problems = append(problems, "NOTIFICATION_TIMEOUT must be positive")
	}
	if cfg.RateLimit.PageSpeedLimit < 0 || cfg.RateLimit.JobsLimit < 0 {
		problems = append(problems, "rate limits must not be negative")
	}

	if len(problems) == 0 {
		return nil
	}
	return &ConfigError{
		Type:    ErrValidation,
		Message: strings.Join(problems, "; "),
	}
}

// ResolveSecrets performs only the SSM resolution step. Entry points that
// read a handful of variables directly (the scheduler Lambda, jobctl) call it
// before any os.Getenv that depends on a secret.
func ResolveSecrets(provider SecretProvider) error {
	appEnv, _ := os.LookupEnv("APP_ENV")
	if appEnv == localEnv {
		return nil
	}
	return resolveSSMParams(provider, defaultDeps())
}

// resolveSSMParams fetches every *_SSM_PARAM pointer whose target variable is
// not already set, in a single batch, and injects the results.
// Direct environment values always win over SSM.
func resolveSSMParams(provider SecretProvider, deps loaderDeps) error {
	pathToTarget := make(map[string]string)
	var paths []string

	for _, entry := range deps.environ() {
		key, value, ok := strings.Cut(entry, "=")
		if !ok || !strings.HasSuffix(key, ssmParamSuffix) || value == "" {
			continue
		}
		target := strings.TrimSuffix(key, ssmParamSuffix)
		if _, exists := deps.lookupEnv(target); exists {
			continue
		}
		if _, dup := pathToTarget[value]; !dup {
			paths = append(paths, value)
		}
		pathToTarget[value] = target
	}

	if len(paths) == 0 {
		return nil
	}

	if provider == nil {
		targets := make([]string, 0, len(paths))
		for _, p := range paths {
			targets = append(targets, pathToTarget[p])
		}
		return &ConfigError{
			Type:    ErrSSMResolution,
			Message: fmt.Sprintf("SecretProvider is required for non-local environments (need to resolve: %s)", strings.Join(targets, ", ")),
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), ssmTimeout)
	defer cancel()

	resolved, err := provider.GetParametersBatch(ctx, paths)
	if err != nil {
		return &ConfigError{
			Type:    ErrSSMResolution,
			Message: fmt.Sprintf("failed to resolve %d SSM parameters", len(paths)),
			Err:     err,
		}
	}

	var missing []string
	for _, path := range paths {
		value, ok := resolved[path]
		if !ok {
			missing = append(missing, pathToTarget[path])
			continue
		}
		if err := deps.setEnv(pathToTarget[path], value); err != nil {
			return &ConfigError{
				Type:    ErrSSMResolution,
				Message: fmt.Sprintf("failed to set resolved value for %s", pathToTarget[path]),
				Err:     err,
			}
		}
	}
	if len(missing) > 0 {
		return &ConfigError{
			Type:    ErrSSMResolution,
			Message: fmt.Sprintf("SSM parameters not found for: %s", strings.Join(missing, ", ")),
		}
	}

	return nil
}
