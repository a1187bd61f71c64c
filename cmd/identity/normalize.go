package identity

import "strings"

// NormalizeEmail performs case-insensitive canonicalization.
// Only trim + lower-case; the local part is not otherwise rewritten.
func NormalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// ValidEmail is a shape check, not a deliverability check.
func ValidEmail(s string) bool {
	s = strings.TrimSpace(s)
	if len(s) < 3 || len(s) > 254 {
		return false
	}
	at := strings.LastIndexByte(s, '@')
	if at <= 0 || at == len(s)-1 {
		return false
	}
	return !strings.ContainsAny(s, " \t\r\n")
}
