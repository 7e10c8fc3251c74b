package core

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"seopulse/internal/types"
)

type mockCloudWatchClient struct {
	calls     []*cloudwatch.PutMetricDataInput
	returnErr error
}

func (m *mockCloudWatchClient) PutMetricData(_ context.Context, params *cloudwatch.PutMetricDataInput, _ ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error) {
	m.calls = append(m.calls, params)
	if m.returnErr != nil {
		return nil, m.returnErr
	}
	return &cloudwatch.PutMetricDataOutput{}, nil
}

func dims(d []cwtypes.Dimension) map[string]string {
	out := map[string]string{}
	for _, x := range d {
		out[aws.ToString(x.Name)] = aws.ToString(x.Value)
	}
	return out
}

func TestCloudWatchMetrics_RecordDelivery(t *testing.T) {
	cw := &mockCloudWatchClient{}
	NewCloudWatchMetrics(cw, "SEOPulse", nil).RecordDelivery(context.Background(), types.ChannelSlack, MetricFailed)

	require.Len(t, cw.calls, 1)
	in := cw.calls[0]
	assert.Equal(t, "SEOPulse", aws.ToString(in.Namespace))
	require.Len(t, in.MetricData, 1)
	datum := in.MetricData[0]
	assert.Equal(t, MetricDeliveryAttempt, aws.ToString(datum.MetricName))
	assert.Equal(t, 1.0, aws.ToFloat64(datum.Value))
	assert.Equal(t, cwtypes.StandardUnitCount, datum.Unit)
	assert.Equal(t, map[string]string{DimChannel: "SLACK", DimResult: "failed"}, dims(datum.Dimensions))
}

func TestCloudWatchMetrics_RecordLatency(t *testing.T) {
	cw := &mockCloudWatchClient{}
	NewCloudWatchMetrics(cw, "SEOPulse", nil).RecordLatency(context.Background(), types.ChannelWebhook, 1500*time.Millisecond)

	require.Len(t, cw.calls, 1)
	datum := cw.calls[0].MetricData[0]
	assert.Equal(t, MetricDeliveryLatency, aws.ToString(datum.MetricName))
	assert.Equal(t, 1500.0, aws.ToFloat64(datum.Value))
	assert.Equal(t, cwtypes.StandardUnitMilliseconds, datum.Unit)
	assert.Equal(t, map[string]string{DimChannel: "WEBHOOK"}, dims(datum.Dimensions))
}

func TestCloudWatchMetrics_ErrorIsSwallowed(t *testing.T) {
	cw := &mockCloudWatchClient{returnErr: errors.New("throttled")}
	m := NewCloudWatchMetrics(cw, "SEOPulse", nil)
	assert.NotPanics(t, func() {
		m.RecordDelivery(context.Background(), types.ChannelSlack, MetricSuccess)
	})
	assert.Len(t, cw.calls, 1)
}
