// Package core fans a notification out to every channel an organization has
// subscribed to the event, and records delivery metrics.
package core

import (
	"context"
	"encoding/json"
	"time"

	"seopulse/internal/types"
)

// Field is a short key/value line rendered under the message.
type Field struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short,omitempty"`
}

// Payload is the channel-neutral content of a notification.
type Payload struct {
	Event    types.NotificationEvent `json:"event"`
	Title    string                  `json:"title"`
	Message  string                  `json:"message"`
	Severity types.Severity          `json:"severity"`
	URL      string                  `json:"url,omitempty"`
	Fields   []Field                 `json:"fields,omitempty"`
}

// Tally counts the channels a dispatch attempted and how many of them failed.
type Tally struct {
	Total  int `json:"total"`
	Failed int `json:"failed"`
}

// Sender delivers a Payload to one channel type. config is the channel's
// stored configuration document.
type Sender interface {
	Type() types.ChannelType
	Validate(ctx context.Context, config json.RawMessage) error
	Send(ctx context.Context, config json.RawMessage, p Payload) error
}

// ChannelStore lists the enabled channels of an organization that subscribe
// to an event.
type ChannelStore interface {
	ListSubscribed(ctx context.Context, orgID string, ev types.NotificationEvent) ([]types.NotificationChannel, error)
}

// MetricResult is the Result dimension of a delivery metric.
type MetricResult string

const (
	MetricSuccess MetricResult = "success"
	MetricFailed  MetricResult = "failed"
	MetricSkipped MetricResult = "skipped"
)

// NotificationMetrics records delivery outcomes. Implementations must not
// block delivery on metric failures.
type NotificationMetrics interface {
	RecordDelivery(ctx context.Context, channel types.ChannelType, result MetricResult)
	RecordLatency(ctx context.Context, channel types.ChannelType, d time.Duration)
}

// NopMetrics discards all metrics.
type NopMetrics struct{}

func (NopMetrics) RecordDelivery(context.Context, types.ChannelType, MetricResult) {}
func (NopMetrics) RecordLatency(context.Context, types.ChannelType, time.Duration) {}
