package token

import (
	"strings"
	"time"
)

// Config defines signing secrets and lifetimes for both token kinds.
type Config struct {
	// Issuer and Audience are set on issue and required on verify.
	Issuer   string
	Audience string

	// AccessSecret and RefreshSecret are opaque operator-supplied strings.
	// Changing either invalidates every outstanding token of that kind.
	AccessSecret  string
	RefreshSecret string

	AccessTTL  time.Duration
	RefreshTTL time.Duration

	// Leeway tolerates small clock differences on exp/iat checks.
	Leeway time.Duration
}

// DefaultConfig returns lifetimes of 15 minutes (access) and 7 days (refresh).
// Secrets are left empty and must be supplied.
func DefaultConfig() Config {
	return Config{
		Issuer:     "stockroom",
		Audience:   "stockroom",
		AccessTTL:  15 * time.Minute,
		RefreshTTL: 7 * 24 * time.Hour,
	}
}

// Validate returns ErrConfig when the codec could not issue safe tokens.
func (c Config) Validate() error {
	access := strings.TrimSpace(c.AccessSecret)
	refresh := strings.TrimSpace(c.RefreshSecret)
	switch {
	case access == "" || refresh == "":
		return ErrConfig
	case access == refresh:
		return ErrConfig
	case c.AccessTTL <= 0 || c.RefreshTTL <= 0:
		return ErrConfig
	case c.Leeway < 0:
		return ErrConfig
	}
	return nil
}
