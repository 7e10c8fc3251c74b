package email

import (
	"context"
	"log/slog"

	"seopulse/internal/external"
)

// Result counts the outcome of one alert email fan-out.
type Result struct {
	Sent    int
	Blocked int
	Failed  int
}

// Mailer sends alert emails to each recipient individually.
type Mailer struct {
	provider external.EmailProvider
	renderer *Renderer
	from     external.SenderIdentity
	logger   *slog.Logger
}

// NewMailer creates a Mailer that sends as from.
func NewMailer(provider external.EmailProvider, renderer *Renderer, from external.SenderIdentity, logger *slog.Logger) *Mailer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Mailer{provider: provider, renderer: renderer, from: from, logger: logger.With("component", "alert_mailer")}
}

// SendAlert renders a once and sends it to every recipient. referenceID is
// attached to each message for provider-side tracing. A failed recipient
// does not stop the others.
func (m *Mailer) SendAlert(ctx context.Context, recipients []string, a Alert, referenceID string) Result {
	var res Result
	if len(recipients) == 0 {
		return res
	}
	rendered, err := m.renderer.Render(a)
	if err != nil {
		m.logger.ErrorContext(ctx, "failed to render alert email", "error", err, "reference_id", referenceID)
		res.Failed = len(recipients)
		return res
	}

	for _, to := range recipients {
		msgID, err := m.provider.Send(ctx, external.SendInput{
			To:          to,
			From:        m.from,
			Subject:     rendered.Subject,
			BodyHTML:    rendered.BodyHTML,
			BodyText:    rendered.BodyText,
			ReferenceID: referenceID,
		})
		switch {
		case err == nil:
			res.Sent++
			m.logger.DebugContext(ctx, "alert email sent", "to", RedactEmail(to), "provider_message_id", msgID)
		case IsBlocklistError(err):
			res.Blocked++
			m.logger.WarnContext(ctx, "alert email recipient suppressed", "to", RedactEmail(to))
		default:
			res.Failed++
			m.logger.WarnContext(ctx, "alert email failed", "to", RedactEmail(to), "error", err)
		}
	}
	return res
}
