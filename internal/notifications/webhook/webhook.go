package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"seopulse/internal/notifications/core"
	"seopulse/internal/security"
	"seopulse/internal/types"
)

// Delivery headers set on every webhook request.
const (
	EventHeader    = "X-SEOPulse-Event"
	DeliveryHeader = "X-SEOPulse-Delivery"
)

// protectedHeaders may not be overridden by channel configuration.
var protectedHeaders = map[string]bool{
	"content-type":         true,
	"content-length":       true,
	"host":                 true,
	"user-agent":           true,
	"x-seopulse-signature": true,
	"x-seopulse-event":     true,
	"x-seopulse-delivery":  true,
	"transfer-encoding":    true,
	"connection":           true,
}

var validate = validator.New()

// Config is the stored configuration of a WEBHOOK channel.
type Config struct {
	URL                     string            `json:"url" validate:"required,url"`
	Secret                  string            `json:"secret,omitempty"`
	PreviousSecret          string            `json:"previous_secret,omitempty"`
	PreviousSecretExpiresAt *time.Time        `json:"previous_secret_expires_at,omitempty"`
	Headers                 map[string]string `json:"headers,omitempty"`
}

func (c Config) secrets() Secrets {
	return Secrets{Current: c.Secret, Previous: c.PreviousSecret, PreviousExpiresAt: c.PreviousSecretExpiresAt}
}

// ParseConfig decodes and statically validates a WEBHOOK channel config.
// The SSRF check needs DNS and happens in Validate and Send.
func ParseConfig(raw json.RawMessage) (Config, error) {
	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return cfg, types.NewAppError(types.ErrCodeValidationInvalidWebhook, "invalid webhook config", err)
	}
	if err := validate.Struct(cfg); err != nil {
		return cfg, types.NewAppError(types.ErrCodeValidationInvalidWebhook, "invalid webhook config", err)
	}
	if err := types.ValidateWebhookURL(cfg.URL); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// body is the JSON document POSTed to a webhook.
type body struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	core.Payload
}

// SenderConfig configures a WebhookSender or SlackSender.
type SenderConfig struct {
	UserAgent    string
	Timeout      time.Duration
	MaxRedirects int
	Guard        *security.Guard
	Clock        types.Clock
	Logger       *slog.Logger
}

func (c *SenderConfig) defaults() {
	if c.UserAgent == "" {
		c.UserAgent = "SEOPulse-Webhook/1.0"
	}
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	if c.MaxRedirects <= 0 {
		c.MaxRedirects = 3
	}
	if c.Guard == nil {
		c.Guard = security.NewGuard(nil)
	}
	if c.Clock == nil {
		c.Clock = types.RealClock{}
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

var _ core.Sender = (*WebhookSender)(nil)

// WebhookSender POSTs signed JSON payloads to customer endpoints.
type WebhookSender struct {
	client    *http.Client
	guard     URLChecker
	userAgent string
	clock     types.Clock
	newID     func() string
	logger    *slog.Logger
}

// NewWebhookSender creates a WebhookSender with an SSRF-safe HTTP client.
func NewWebhookSender(cfg SenderConfig) (*WebhookSender, error) {
	cfg.defaults()
	client, err := security.NewSafeHTTPClient(cfg.Timeout, cfg.MaxRedirects, cfg.Guard)
	if err != nil {
		return nil, fmt.Errorf("webhook sender: %w", err)
	}
	return &WebhookSender{
		client:    client,
		guard:     cfg.Guard,
		userAgent: cfg.UserAgent,
		clock:     cfg.Clock,
		newID:     uuid.NewString,
		logger:    cfg.Logger.With("channel", "webhook"),
	}, nil
}

// Type implements core.Sender.
func (w *WebhookSender) Type() types.ChannelType { return types.ChannelWebhook }

// Validate parses config and checks the target against the SSRF guard.
func (w *WebhookSender) Validate(ctx context.Context, raw json.RawMessage) error {
	cfg, err := ParseConfig(raw)
	if err != nil {
		return err
	}
	return w.guard.CheckURL(ctx, cfg.URL, true)
}

// Send delivers p. The target is re-checked on every send because DNS
// answers can change after the channel was saved.
func (w *WebhookSender) Send(ctx context.Context, raw json.RawMessage, p core.Payload) error {
	cfg, err := ParseConfig(raw)
	if err != nil {
		return err
	}
	if err := w.guard.CheckURL(ctx, cfg.URL, true); err != nil {
		return err
	}

	now := w.clock.Now()
	deliveryID := w.newID()
	payload, err := json.Marshal(body{ID: deliveryID, CreatedAt: now, Payload: p})
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "encode webhook body", err)
	}
	header := http.Header{}
	for k, v := range cfg.Headers {
		if protectedHeaders[strings.ToLower(k)] {
			continue
		}
		header.Set(k, v)
	}
	header.Set("Content-Type", "application/json")
	header.Set("User-Agent", w.userAgent)
	// Unsigned when the channel has no secret.
	if cfg.Secret != "" {
		signature, err := Sign(payload, cfg.secrets(), now)
		if err != nil {
			return types.NewAppError(types.ErrCodeInternalUnexpected, "sign webhook body", err)
		}
		header.Set(SignatureHeader, signature)
	}
	header.Set(EventHeader, string(p.Event))
	header.Set(DeliveryHeader, deliveryID)

	if _, err := post(ctx, w.client, cfg.URL, payload, header, w.clock); err != nil {
		return err
	}
	w.logger.InfoContext(ctx, "webhook delivered", "delivery_id", deliveryID, "event", string(p.Event))
	return nil
}
