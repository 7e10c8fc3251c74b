package core

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"seopulse/internal/types"
)

const (
	defaultSendTimeout = 10 * time.Second
	defaultMaxParallel = 16
)

// DispatcherConfig configures a Dispatcher. Zero values take defaults.
type DispatcherConfig struct {
	SendTimeout time.Duration
	MaxParallel int
	Metrics     NotificationMetrics
	Logger      *slog.Logger
}

// Dispatcher delivers payloads to subscribed channels. A failing channel
// never affects delivery to the others.
type Dispatcher struct {
	channels    ChannelStore
	senders     map[types.ChannelType]Sender
	sendTimeout time.Duration
	maxParallel int
	metrics     NotificationMetrics
	logger      *slog.Logger
}

// NewDispatcher creates a Dispatcher with one Sender per channel type.
func NewDispatcher(channels ChannelStore, senders []Sender, cfg DispatcherConfig) *Dispatcher {
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = defaultSendTimeout
	}
	if cfg.MaxParallel <= 0 {
		cfg.MaxParallel = defaultMaxParallel
	}
	if cfg.Metrics == nil {
		cfg.Metrics = NopMetrics{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	byType := make(map[types.ChannelType]Sender, len(senders))
	for _, s := range senders {
		byType[s.Type()] = s
	}
	return &Dispatcher{
		channels:    channels,
		senders:     byType,
		sendTimeout: cfg.SendTimeout,
		maxParallel: cfg.MaxParallel,
		metrics:     cfg.Metrics,
		logger:      cfg.Logger.With("component", "dispatcher"),
	}
}

// Dispatch sends p to every enabled channel of orgID subscribed to p.Event.
// Failures are counted, never returned. If the channel list cannot be
// loaded the tally is zero.
func (d *Dispatcher) Dispatch(ctx context.Context, orgID string, p Payload) Tally {
	channels, err := d.channels.ListSubscribed(ctx, orgID, p.Event)
	if err != nil {
		d.logger.ErrorContext(ctx, "failed to load notification channels",
			"organization_id", orgID,
			"event", string(p.Event),
			"error", err,
		)
		return Tally{}
	}
	channels = subscribed(channels, p.Event)

	var failed atomic.Int32
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.maxParallel)
	for _, ch := range channels {
		g.Go(func() error {
			if err := d.deliver(gctx, ch, p); err != nil {
				failed.Add(1)
				d.logger.WarnContext(gctx, "notification delivery failed",
					"channel_id", ch.ID,
					"channel_type", string(ch.Type),
					"error_code", string(types.CodeOf(err)),
					"error", err,
				)
			}
			// Errors are counted, not propagated, so gctx is never canceled
			// by a sibling failure.
			return nil
		})
	}
	_ = g.Wait()

	tally := Tally{Total: len(channels), Failed: int(failed.Load())}
	d.logger.InfoContext(ctx, "notification dispatched",
		"organization_id", orgID,
		"event", string(p.Event),
		"total", tally.Total,
		"failed", tally.Failed,
	)
	return tally
}

func subscribed(channels []types.NotificationChannel, ev types.NotificationEvent) []types.NotificationChannel {
	out := channels[:0]
	for i := range channels {
		if channels[i].Enabled && channels[i].Subscribes(ev) {
			out = append(out, channels[i])
		}
	}
	return out
}

func (d *Dispatcher) deliver(ctx context.Context, ch types.NotificationChannel, p Payload) error {
	sender, ok := d.senders[ch.Type]
	if !ok {
		d.metrics.RecordDelivery(ctx, ch.Type, MetricSkipped)
		return types.NewAppError(types.ErrCodeValidationInvalidChannel,
			fmt.Sprintf("no sender for channel type %q", ch.Type), nil)
	}

	sctx, cancel := context.WithTimeout(ctx, d.sendTimeout)
	defer cancel()

	start := time.Now()
	err := sender.Send(sctx, ch.Config, p)
	d.metrics.RecordLatency(ctx, ch.Type, time.Since(start))
	if err != nil {
		d.metrics.RecordDelivery(ctx, ch.Type, MetricFailed)
		return err
	}
	d.metrics.RecordDelivery(ctx, ch.Type, MetricSuccess)
	return nil
}

// SendTest validates config for channelType and sends a test payload to it.
// A validation_* code means the configuration is unusable; upstream_* and
// ssrf_rejected codes come from the delivery attempt.
func (d *Dispatcher) SendTest(ctx context.Context, channelType types.ChannelType, config json.RawMessage) error {
	sender, ok := d.senders[channelType]
	if !ok {
		return types.NewAppError(types.ErrCodeValidationInvalidChannel,
			fmt.Sprintf("unsupported channel type %q", channelType), nil)
	}
	if err := sender.Validate(ctx, config); err != nil {
		return err
	}

	sctx, cancel := context.WithTimeout(ctx, d.sendTimeout)
	defer cancel()
	return sender.Send(sctx, config, TestPayload())
}

// TestPayload is the message delivered by SendTest.
func TestPayload() Payload {
	return Payload{
		Event:    types.NotifyAlert,
		Title:    "SEOPulse test notification",
		Message:  "This channel is configured correctly.",
		Severity: types.SeverityInfo,
	}
}
