// Package webhook delivers notifications over HTTPS: Slack incoming webhooks
// and signed generic webhooks. Every target is checked against the SSRF
// guard before sending and again at dial time.
package webhook

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"seopulse/internal/security"
	"seopulse/internal/types"
)

// maxResponseBodyRead limits how much of a response body is read for error
// messages.
const maxResponseBodyRead = 4096

// URLChecker validates an outbound target. *security.Guard implements it.
type URLChecker interface {
	CheckURL(ctx context.Context, rawURL string, requireHTTPS bool) error
}

var _ URLChecker = (*security.Guard)(nil)

// post sends body to target and maps the outcome to an AppError. A 2xx
// response returns its (truncated) body.
func post(ctx context.Context, client *http.Client, target string, body []byte, header http.Header, clock types.Clock) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeValidationInvalidURL, "invalid target URL", err)
	}
	for k, v := range header {
		req.Header[k] = v
	}

	resp, err := client.Do(req)
	if err != nil {
		switch {
		case security.IsSSRFError(err):
			return nil, types.NewAppError(types.ErrCodeSSRFRejected, "target address is not allowed", err)
		case isTimeout(err):
			return nil, types.NewAppError(types.ErrCodeUpstreamTimeout, "delivery timed out", err)
		default:
			return nil, types.NewAppError(types.ErrCodeUpstreamChannel, "delivery failed", err)
		}
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodyRead))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return respBody, nil
	case resp.StatusCode == http.StatusTooManyRequests:
		retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"), clock)
		return nil, types.NewAppErrorWithDetails(types.ErrCodeUpstreamRateLimited, "endpoint rate limited delivery", nil,
			map[string]any{"retry_after_seconds": int(retryAfter.Seconds())})
	default:
		return nil, types.NewAppErrorWithDetails(types.ErrCodeUpstreamChannel,
			fmt.Sprintf("endpoint returned %d", resp.StatusCode), nil,
			map[string]any{"status": resp.StatusCode, "body": truncateBody(respBody)})
	}
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout())
}

// parseRetryAfter reads a Retry-After header in seconds or HTTP-date form.
// Missing or unparseable values default to 60 seconds.
func parseRetryAfter(header string, clock types.Clock) time.Duration {
	if header == "" {
		return 60 * time.Second
	}
	if seconds, err := strconv.ParseInt(header, 10, 64); err == nil {
		if seconds <= 0 {
			return time.Second
		}
		return time.Duration(seconds) * time.Second
	}
	if t, err := http.ParseTime(header); err == nil {
		if delay := t.Sub(clock.Now()); delay > 0 {
			return delay
		}
		return time.Second
	}
	return 60 * time.Second
}

func truncateBody(body []byte) string {
	const maxLen = 200
	s := strings.TrimSpace(string(body))
	if len(s) > maxLen {
		return s[:maxLen] + "..."
	}
	return s
}
