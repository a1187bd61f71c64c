package password

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Validate checks password against the configured policy.
func (c Config) Validate(password string) error {
	return c.Policy.Check(password)
}

// Check enforces length bounds (in runes) and, optionally, the weak-pattern list.
func (p Policy) Check(password string) error {
	n := utf8.RuneCountInString(password)
	switch {
	case n < p.MinLength:
		return ErrPasswordTooShort
	case n > p.MaxLength:
		return ErrPasswordTooLong
	case p.RejectVeryWeak && looksVeryWeak(password):
		return ErrWeakPassword
	}
	return nil
}

var trivialPasswords = map[string]struct{}{
	"password":    {},
	"password123": {},
	"123456":      {},
	"123456789":   {},
	"qwerty":      {},
	"qwerty123":   {},
	"11111111":    {},
	"inventory":   {},
	"stockroom":   {},
	"admin12345":  {},
}

// looksVeryWeak is a minimal pattern check, not a strength estimator.
func looksVeryWeak(pw string) bool {
	s := strings.TrimSpace(pw)
	if s == "" {
		return true
	}

	first, _ := utf8.DecodeRuneInString(s)
	if strings.Trim(s, string(first)) == "" {
		return true
	}

	// PIN-like: digits only and short.
	if strings.IndexFunc(s, func(r rune) bool { return !unicode.IsDigit(r) }) < 0 &&
		utf8.RuneCountInString(s) < 12 {
		return true
	}

	_, trivial := trivialPasswords[strings.ToLower(s)]
	return trivial
}
