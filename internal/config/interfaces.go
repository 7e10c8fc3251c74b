package config

import (
	"context"
	"os"
)

// SecretProvider resolves secret values by key. Production uses SSM; local
// runs and tests use EnvVarProvider or a fake.
type SecretProvider interface {
	// GetParametersBatch returns key -> plaintext for every key it could
	// resolve. Missing keys are omitted, not errors.
	GetParametersBatch(ctx context.Context, keys []string) (map[string]string, error)
}

// EnvVarProvider resolves keys as OS environment variable names.
type EnvVarProvider struct{}

// NewEnvVarProvider creates a new EnvVarProvider.
func NewEnvVarProvider() *EnvVarProvider {
	return &EnvVarProvider{}
}

// GetParametersBatch implements SecretProvider.
func (p *EnvVarProvider) GetParametersBatch(_ context.Context, keys []string) (map[string]string, error) {
	result := make(map[string]string, len(keys))
	for _, key := range keys {
		if val, ok := os.LookupEnv(key); ok {
			result[key] = val
		}
	}
	return result, nil
}

// NewSecretProvider picks the provider for appEnv: environment variables for
// local runs, SSM otherwise.
func NewSecretProvider(appEnv, region, endpoint string) SecretProvider {
	if appEnv == localEnv {
		return NewEnvVarProvider()
	}
	return NewSSMProvider(region, endpoint)
}
