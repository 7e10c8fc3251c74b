package email

import (
	"errors"

	"seopulse/internal/types"
)

// ErrRecipientBlocked indicates the provider suppressed the recipient.
var ErrRecipientBlocked = errors.New("recipient blocked by provider")

// IsBlocklistError reports whether err means the recipient is on the
// provider's suppression list. Such recipients are skipped, not retried.
func IsBlocklistError(err error) bool {
	return errors.Is(err, ErrRecipientBlocked) || types.CodeOf(err) == types.ErrCodeEmailBlocked
}
