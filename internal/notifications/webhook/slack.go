package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"seopulse/internal/notifications/core"
	"seopulse/internal/security"
	"seopulse/internal/types"
)

// Attachment colors by severity.
const (
	colorCritical = "#d32f2f"
	colorWarning  = "#f9a825"
	colorInfo     = "#1976d2"
)

// SlackConfig is the stored configuration of a SLACK channel.
type SlackConfig struct {
	WebhookURL string `json:"webhook_url"`
}

type slackMessage struct {
	Text        string            `json:"text"`
	Attachments []slackAttachment `json:"attachments"`
}

type slackAttachment struct {
	Color     string       `json:"color"`
	Title     string       `json:"title"`
	TitleLink string       `json:"title_link,omitempty"`
	Text      string       `json:"text"`
	Fields    []core.Field `json:"fields,omitempty"`
	Footer    string       `json:"footer"`
	Ts        int64        `json:"ts"`
}

// SeverityColor returns the attachment color for s.
func SeverityColor(s types.Severity) string {
	switch s {
	case types.SeverityCritical:
		return colorCritical
	case types.SeverityWarning:
		return colorWarning
	default:
		return colorInfo
	}
}

// FormatSlack renders p as an incoming-webhook message with one attachment.
func FormatSlack(p core.Payload, clock types.Clock) ([]byte, error) {
	msg := slackMessage{
		Text: p.Title,
		Attachments: []slackAttachment{{
			Color:     SeverityColor(p.Severity),
			Title:     p.Title,
			TitleLink: p.URL,
			Text:      p.Message,
			Fields:    p.Fields,
			Footer:    "SEOPulse",
			Ts:        clock.Now().Unix(),
		}},
	}
	return json.Marshal(msg)
}

var _ core.Sender = (*SlackSender)(nil)

// SlackSender posts to Slack incoming webhooks.
type SlackSender struct {
	client    *http.Client
	validURL  func(string) error
	userAgent string
	clock     types.Clock
	logger    *slog.Logger
}

// NewSlackSender creates a SlackSender with an SSRF-safe HTTP client.
func NewSlackSender(cfg SenderConfig) (*SlackSender, error) {
	cfg.defaults()
	client, err := security.NewSafeHTTPClient(cfg.Timeout, cfg.MaxRedirects, cfg.Guard)
	if err != nil {
		return nil, fmt.Errorf("slack sender: %w", err)
	}
	return &SlackSender{
		client:    client,
		validURL:  types.ValidateSlackURL,
		userAgent: cfg.UserAgent,
		clock:     cfg.Clock,
		logger:    cfg.Logger.With("channel", "slack"),
	}, nil
}

// Type implements core.Sender.
func (s *SlackSender) Type() types.ChannelType { return types.ChannelSlack }

// Validate implements core.Sender.
func (s *SlackSender) Validate(_ context.Context, raw json.RawMessage) error {
	_, err := s.parse(raw)
	return err
}

func (s *SlackSender) parse(raw json.RawMessage) (SlackConfig, error) {
	var cfg SlackConfig
	if err := json.Unmarshal(raw, &cfg); err != nil || cfg.WebhookURL == "" {
		return cfg, types.NewAppError(types.ErrCodeValidationInvalidSlack, "invalid slack config", err)
	}
	if err := s.validURL(cfg.WebhookURL); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Send implements core.Sender. Slack answers "ok" on success; a 2xx with a
// JSON {"ok":false} body is a failure.
func (s *SlackSender) Send(ctx context.Context, raw json.RawMessage, p core.Payload) error {
	cfg, err := s.parse(raw)
	if err != nil {
		return err
	}
	payload, err := FormatSlack(p, s.clock)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "encode slack message", err)
	}

	header := http.Header{}
	header.Set("Content-Type", "application/json")
	header.Set("User-Agent", s.userAgent)
	respBody, err := post(ctx, s.client, cfg.WebhookURL, payload, header, s.clock)
	if err != nil {
		return err
	}
	if err := slackSoftFailure(respBody); err != nil {
		return err
	}
	s.logger.DebugContext(ctx, "slack message delivered", "event", string(p.Event))
	return nil
}

func slackSoftFailure(body []byte) error {
	if strings.TrimSpace(string(body)) == "ok" {
		return nil
	}
	var resp struct {
		OK    *bool  `json:"ok"`
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &resp) == nil && resp.OK != nil && !*resp.OK {
		return types.NewAppError(types.ErrCodeUpstreamChannel, "slack rejected message: "+resp.Error, nil)
	}
	return nil
}
