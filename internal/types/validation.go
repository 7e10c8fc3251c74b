package types

import (
	"fmt"
	"net/url"
	"strings"
)

// SlackWebhookPrefix is the only accepted prefix for Slack incoming webhooks.
const SlackWebhookPrefix = "https://hooks.slack.com/"

// ValidateWebhookURL checks that a URL is acceptable for webhook delivery.
// The SSRF check is performed at delivery time, not here.
func ValidateWebhookURL(urlStr string) error {
	parsed, err := url.Parse(urlStr)
	if err != nil || parsed.Host == "" {
		return NewAppError(ErrCodeValidationInvalidWebhook, "invalid URL", err)
	}
	if parsed.Scheme != "https" {
		return NewAppError(ErrCodeValidationInvalidWebhook, "must use HTTPS", nil)
	}
	if parsed.User != nil {
		return NewAppError(ErrCodeValidationInvalidWebhook, "credentials in URL are not allowed", nil)
	}
	return nil
}

// ValidateSlackURL checks that a URL is a Slack incoming webhook.
func ValidateSlackURL(urlStr string) error {
	if !strings.HasPrefix(urlStr, SlackWebhookPrefix) {
		return NewAppError(ErrCodeValidationInvalidSlack,
			fmt.Sprintf("webhook URL must start with %s", SlackWebhookPrefix), nil)
	}
	if _, err := url.Parse(urlStr); err != nil {
		return NewAppError(ErrCodeValidationInvalidSlack, "invalid URL", err)
	}
	return nil
}

// SSRFBlockedCIDRs defines the IP ranges that MUST be blocked for SSRF protection.
var SSRFBlockedCIDRs = []string{
	"127.0.0.0/8",    // Localhost
	"10.0.0.0/8",     // Private Class A
	"172.16.0.0/12",  // Private Class B
	"192.168.0.0/16", // Private Class C
	"169.254.0.0/16", // Link-local (cloud metadata)
	"0.0.0.0/8",      // Current network
	"224.0.0.0/4",    // Multicast
	"240.0.0.0/4",    // Reserved
	"100.64.0.0/10",  // Shared Address Space (CGN)
	"198.18.0.0/15",  // Benchmark testing
	"192.0.0.0/24",   // IETF protocol assignments
	"fc00::/7",       // IPv6 private
	"fe80::/10",      // IPv6 link-local
	"::1/128",        // IPv6 localhost
}

// SSRFBlockedHostnames are exact hostnames that always resolve to internal
// infrastructure.
var SSRFBlockedHostnames = []string{
	"localhost",
	"metadata",
	"metadata.google.internal",
	"instance-data",
	"kubernetes.default",
	"kubernetes.default.svc",
}

// SSRFBlockedSuffixes are hostname suffixes reserved for internal use.
var SSRFBlockedSuffixes = []string{
	".localhost",
	".local",
	".internal",
	".lan",
	".home.arpa",
	".svc.cluster.local",
}
