package core

import (
	"context"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"seopulse/internal/types"
)

// Metric and dimension names published to CloudWatch.
const (
	MetricDeliveryAttempt = "NotificationDelivery"
	MetricDeliveryLatency = "NotificationDeliveryLatency"
	DimChannel            = "Channel"
	DimResult             = "Result"
)

// CloudWatchClient abstracts the CloudWatch PutMetricData operation for testability.
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

var _ NotificationMetrics = (*CloudWatchMetrics)(nil)

// CloudWatchMetrics publishes delivery metrics to CloudWatch:
//
//	NotificationDelivery        {Channel, Result}  Count
//	NotificationDeliveryLatency {Channel}          Milliseconds
type CloudWatchMetrics struct {
	client    CloudWatchClient
	namespace string
	logger    *slog.Logger
}

// NewCloudWatchMetrics creates a CloudWatchMetrics that publishes under namespace.
func NewCloudWatchMetrics(client CloudWatchClient, namespace string, logger *slog.Logger) *CloudWatchMetrics {
	if logger == nil {
		logger = slog.Default()
	}
	return &CloudWatchMetrics{client: client, namespace: namespace, logger: logger}
}

// RecordDelivery emits one NotificationDelivery count.
func (m *CloudWatchMetrics) RecordDelivery(ctx context.Context, channel types.ChannelType, result MetricResult) {
	m.put(ctx, cwtypes.MetricDatum{
		MetricName: aws.String(MetricDeliveryAttempt),
		Value:      aws.Float64(1),
		Unit:       cwtypes.StandardUnitCount,
		Dimensions: []cwtypes.Dimension{
			{Name: aws.String(DimChannel), Value: aws.String(string(channel))},
			{Name: aws.String(DimResult), Value: aws.String(string(result))},
		},
	})
}

// RecordLatency emits the duration of one send attempt.
func (m *CloudWatchMetrics) RecordLatency(ctx context.Context, channel types.ChannelType, d time.Duration) {
	m.put(ctx, cwtypes.MetricDatum{
		MetricName: aws.String(MetricDeliveryLatency),
		Value:      aws.Float64(float64(d.Milliseconds())),
		Unit:       cwtypes.StandardUnitMilliseconds,
		Dimensions: []cwtypes.Dimension{
			{Name: aws.String(DimChannel), Value: aws.String(string(channel))},
		},
	})
}

func (m *CloudWatchMetrics) put(ctx context.Context, datum cwtypes.MetricDatum) {
	_, err := m.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace:  aws.String(m.namespace),
		MetricData: []cwtypes.MetricDatum{datum},
	})
	if err != nil {
		m.logger.WarnContext(ctx, "failed to publish notification metric",
			"metric", aws.ToString(datum.MetricName),
			"error", err,
		)
	}
}
