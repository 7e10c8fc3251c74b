package external

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	sestypes "github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"seopulse/internal/types"
)

// SESAPI is the subset of the SES v2 client used by SESClient.
type SESAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// SESClientConfig holds the configuration for creating an SESClient.
type SESClientConfig struct {
	// ConfigSetName is optional.
	ConfigSetName string
	Logger        *slog.Logger
}

// SESClient sends alert recipient email through SES v2. The SDK retries
// throttled calls itself, so it does not go through BaseClient.
type SESClient struct {
	api           SESAPI
	configSetName string
	logger        *slog.Logger
}

// NewSESClient creates an SESClient from an AWS config.
func NewSESClient(awsCfg aws.Config, cfg SESClientConfig) *SESClient {
	return NewSESClientWithAPI(sesv2.NewFromConfig(awsCfg), cfg)
}

// NewSESClientWithAPI creates an SESClient over api.
func NewSESClientWithAPI(api SESAPI, cfg SESClientConfig) *SESClient {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &SESClient{api: api, configSetName: cfg.ConfigSetName, logger: logger}
}

func utf8Content(s string) *sestypes.Content {
	return &sestypes.Content{Data: aws.String(s), Charset: aws.String("UTF-8")}
}

// Send transmits one simple-content email and returns the SES message ID.
func (s *SESClient) Send(ctx context.Context, input SendInput) (string, error) {
	from := input.From.Address
	if input.From.Name != "" {
		from = fmt.Sprintf("%s <%s>", input.From.Name, input.From.Address)
	}

	body := &sestypes.Body{}
	if input.BodyHTML != "" {
		body.Html = utf8Content(input.BodyHTML)
	}
	if input.BodyText != "" {
		body.Text = utf8Content(input.BodyText)
	}
	req := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(from),
		Destination:      &sestypes.Destination{ToAddresses: []string{input.To}},
		Content: &sestypes.EmailContent{
			Simple: &sestypes.Message{Subject: utf8Content(input.Subject), Body: body},
		},
	}
	if s.configSetName != "" {
		req.ConfigurationSetName = aws.String(s.configSetName)
	}
	if input.ReferenceID != "" {
		req.EmailTags = []sestypes.MessageTag{{Name: aws.String("ReferenceID"), Value: aws.String(input.ReferenceID)}}
	}

	out, err := s.api.SendEmail(ctx, req)
	if err != nil {
		return "", mapSESError(err)
	}
	return aws.ToString(out.MessageId), nil
}

// mapSESError translates SES errors into AppErrors.
func mapSESError(err error) error {
	var rejected *sestypes.MessageRejected
	if errors.As(err, &rejected) {
		return types.NewAppError(types.ErrCodeEmailBlocked, fmt.Sprintf("SES rejected message: %v", err), err)
	}
	var throttled *sestypes.TooManyRequestsException
	if errors.As(err, &throttled) {
		return types.NewAppError(types.ErrCodeUpstreamRateLimited, fmt.Sprintf("SES rate limit exceeded: %v", err), err)
	}
	var paused *sestypes.SendingPausedException
	if errors.As(err, &paused) {
		return types.NewAppError(types.ErrCodeUpstreamUnavailable, fmt.Sprintf("SES account sending paused: %v", err), err)
	}
	return types.NewAppError(types.ErrCodeUpstreamEmailProvider, fmt.Sprintf("SES error: %v", err), err)
}

// LogEmailProvider logs instead of sending. Used when email is disabled or
// in local runs.
type LogEmailProvider struct {
	Logger *slog.Logger
}

func (p LogEmailProvider) Send(ctx context.Context, input SendInput) (string, error) {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "email suppressed",
		"to", input.To,
		"subject", input.Subject,
		"reference_id", input.ReferenceID,
	)
	return "log_" + input.ReferenceID, nil
}

var (
	_ EmailProvider = (*SESClient)(nil)
	_ EmailProvider = LogEmailProvider{}
)
