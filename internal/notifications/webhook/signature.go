package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// SignatureHeader carries "t=<unix>,v1=<hex>[,v1_old=<hex>]". The signed
// content is "<unix>.<body>" under HMAC-SHA256.
const SignatureHeader = "X-SEOPulse-Signature"

// ErrMissingSecret is returned when a webhook is configured without a
// signing secret.
var ErrMissingSecret = errors.New("webhook signature: missing secret")

// Secrets holds the signing keys of one webhook channel. Previous is used
// alongside Current until PreviousExpiresAt, so receivers can rotate keys
// without dropping deliveries.
type Secrets struct {
	Current           string
	Previous          string
	PreviousExpiresAt *time.Time
}

// Sign returns the signature header value for body at now.
func Sign(body []byte, s Secrets, now time.Time) (string, error) {
	if s.Current == "" {
		return "", ErrMissingSecret
	}
	ts := now.Unix()
	content := signedContent(strconv.FormatInt(ts, 10), body)

	header := fmt.Sprintf("t=%d,v1=%s", ts, computeHMAC(content, s.Current))
	if s.Previous != "" && s.PreviousExpiresAt != nil && !now.After(*s.PreviousExpiresAt) {
		header += ",v1_old=" + computeHMAC(content, s.Previous)
	}
	return header, nil
}

// Verify checks header against body with any of the given secrets. When
// tolerance is positive the signed timestamp must lie within tolerance of now.
func Verify(body []byte, header string, secrets []string, now time.Time, tolerance time.Duration) bool {
	parts := parseSignatureHeader(header)
	if parts.timestamp == "" || parts.v1 == "" {
		return false
	}
	if tolerance > 0 {
		ts, err := strconv.ParseInt(parts.timestamp, 10, 64)
		if err != nil {
			return false
		}
		if d := now.Sub(time.Unix(ts, 0)); d > tolerance || d < -tolerance {
			return false
		}
	}

	content := signedContent(parts.timestamp, body)
	for _, secret := range secrets {
		if secret == "" {
			continue
		}
		expected := computeHMAC(content, secret)
		if hmac.Equal([]byte(parts.v1), []byte(expected)) {
			return true
		}
		if parts.v1Old != "" && hmac.Equal([]byte(parts.v1Old), []byte(expected)) {
			return true
		}
	}
	return false
}

type signatureParts struct {
	timestamp string
	v1        string
	v1Old     string
}

func parseSignatureHeader(header string) signatureParts {
	var parts signatureParts
	for _, segment := range strings.Split(header, ",") {
		key, value, ok := strings.Cut(segment, "=")
		if !ok {
			continue
		}
		switch strings.TrimSpace(key) {
		case "t":
			parts.timestamp = strings.TrimSpace(value)
		case "v1":
			parts.v1 = strings.TrimSpace(value)
		case "v1_old":
			parts.v1Old = strings.TrimSpace(value)
		}
	}
	return parts
}

func signedContent(ts string, body []byte) string {
	return ts + "." + string(body)
}

// computeHMAC returns the lowercase hex HMAC-SHA256 of content under key.
func computeHMAC(content, key string) string {
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write([]byte(content))
	return hex.EncodeToString(mac.Sum(nil))
}
