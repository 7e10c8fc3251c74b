package config

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSSM struct {
	values  map[string]string
	err     error
	batches [][]string
}

func (f *fakeSSM) GetParameters(_ context.Context, in *ssm.GetParametersInput, _ ...func(*ssm.Options)) (*ssm.GetParametersOutput, error) {
	f.batches = append(f.batches, in.Names)
	if f.err != nil {
		return nil, f.err
	}
	out := &ssm.GetParametersOutput{}
	for _, name := range in.Names {
		if v, ok := f.values[name]; ok {
			out.Parameters = append(out.Parameters, ssmtypes.Parameter{Name: aws.String(name), Value: aws.String(v)})
		} else {
			out.InvalidParameters = append(out.InvalidParameters, name)
		}
	}
	return out, nil
}

func TestSSMProvider_BatchesOfTen(t *testing.T) {
	values := make(map[string]string)
	keys := make([]string, 0, 23)
	for i := 0; i < 23; i++ {
		k := fmt.Sprintf("/prod/seopulse/key%d", i)
		values[k] = fmt.Sprintf("v%d", i)
		keys = append(keys, k)
	}
	client := &fakeSSM{values: values}
	p := newSSMProviderWithClient("us-east-1", client)

	got, err := p.GetParametersBatch(context.Background(), keys)
	require.NoError(t, err)
	assert.Len(t, got, 23)
	assert.Equal(t, "v22", got["/prod/seopulse/key22"])
	require.Len(t, client.batches, 3)
	assert.Len(t, client.batches[0], 10)
	assert.Len(t, client.batches[2], 3)
}

func TestSSMProvider_InvalidParameterFails(t *testing.T) {
	client := &fakeSSM{values: map[string]string{"/a": "1"}}
	p := newSSMProviderWithClient("us-east-1", client)

	_, err := p.GetParametersBatch(context.Background(), []string{"/a", "/missing"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "/missing")
}

func TestSSMProvider_APIError(t *testing.T) {
	client := &fakeSSM{err: errors.New("throttled")}
	p := newSSMProviderWithClient("us-east-1", client)

	_, err := p.GetParametersBatch(context.Background(), []string{"/a"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "throttled")
}

func TestSSMProvider_EmptyKeysSkipsClient(t *testing.T) {
	p := NewSSMProvider("us-east-1", "")
	got, err := p.GetParametersBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestSSMProvider_CancelledContext(t *testing.T) {
	p := newSSMProviderWithClient("us-east-1", &fakeSSM{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.GetParametersBatch(ctx, []string{"/a"})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewSecretProvider(t *testing.T) {
	assert.IsType(t, &EnvVarProvider{}, NewSecretProvider("local", "us-east-1", ""))
	assert.IsType(t, &SSMProvider{}, NewSecretProvider("prod", "us-east-1", ""))
}

func TestEnvVarProvider(t *testing.T) {
	t.Setenv("SEOPULSE_TEST_SECRET", "s3cret")
	got, err := NewEnvVarProvider().GetParametersBatch(context.Background(), []string{"SEOPULSE_TEST_SECRET", "SEOPULSE_ABSENT"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"SEOPULSE_TEST_SECRET": "s3cret"}, got)
}
