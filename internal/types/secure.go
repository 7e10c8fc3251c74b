package types

import "log/slog"

const redacted = "[redacted]"

var redactedJSON = []byte(`"` + redacted + `"`)

// SecretString holds credentials loaded from the environment or SSM, such as
// the database DSN, the cron trigger token, and provider API keys. Every
// formatting path (fmt verbs, JSON, slog) prints a fixed placeholder; Reveal
// is the only way back to the plaintext.
type SecretString string

func (s SecretString) String() string { return redacted }

// GoString covers %#v, which otherwise bypasses String.
func (s SecretString) GoString() string { return redacted }

func (s SecretString) MarshalJSON() ([]byte, error) { return redactedJSON, nil }

func (s SecretString) LogValue() slog.Value { return slog.StringValue(redacted) }

// Reveal returns the plaintext. Call it only at the point the value leaves
// the process (an Authorization header, a pgx DSN).
func (s SecretString) Reveal() string { return string(s) }

// IsSet reports whether a value was configured.
func (s SecretString) IsSet() bool { return s != "" }
