package email

import "strings"

// RedactEmail masks an address for logging: "jane@example.com" becomes
// "j***@example.com". Input without an "@" is masked entirely.
func RedactEmail(addr string) string {
	if addr == "" {
		return ""
	}
	local, domain, ok := strings.Cut(addr, "@")
	switch {
	case !ok:
		return "***"
	case local == "":
		return "***@" + domain
	default:
		return local[:1] + "***@" + domain
	}
}
