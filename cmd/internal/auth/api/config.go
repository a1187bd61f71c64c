package authapi

import (
	"errors"
	"net/http"
	"strings"
	"time"
)

// DefaultRefreshCookieName is the cookie that carries the refresh token.
const DefaultRefreshCookieName = "refreshToken"

// Config controls auth API behavior and security defaults.
type Config struct {
	TrustProxy   bool
	MaxBodyBytes int64

	RefreshCookieName string
	// The browser only sends the refresh cookie to this path.
	CookiePath     string
	CookieDomain   string
	CookieSecure   bool
	CookieSameSite http.SameSite

	LoginIPMax       int
	LoginIPWindow    time.Duration
	LoginEmailMax    int
	LoginEmailWindow time.Duration
	RefreshIPMax     int
	RefreshIPWindow  time.Duration
}

// DefaultConfig returns production-leaning defaults.
func DefaultConfig() Config {
	return Config{
		MaxBodyBytes:      1 << 20, // 1 MiB
		RefreshCookieName: DefaultRefreshCookieName,
		CookiePath:        "/auth/refresh",
		CookieSecure:      true,
		CookieSameSite:    http.SameSiteStrictMode,
		LoginIPMax:        20,
		LoginIPWindow:     5 * time.Minute,
		LoginEmailMax:     5,
		LoginEmailWindow:  15 * time.Minute,
		RefreshIPMax:      60,
		RefreshIPWindow:   time.Minute,
	}
}

// Validate rejects configs the handler cannot run with.
func (c Config) Validate() error {
	if c.MaxBodyBytes <= 0 {
		return errors.New("authapi: max body bytes must be positive")
	}
	if strings.TrimSpace(c.RefreshCookieName) == "" {
		return errors.New("authapi: empty refresh cookie name")
	}
	if !strings.HasPrefix(c.CookiePath, "/") {
		return errors.New("authapi: cookie path must start with /")
	}
	if c.CookieSameSite == http.SameSiteNoneMode && !c.CookieSecure {
		return errors.New("authapi: SameSite=None requires a Secure cookie")
	}
	if c.LoginIPMax < 0 || c.LoginEmailMax < 0 || c.RefreshIPMax < 0 {
		return errors.New("authapi: negative rate limit")
	}
	return nil
}

// ParseSameSite maps a config string to http.SameSite. Unknown values fall
// back to Strict.
func ParseSameSite(v string) http.SameSite {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "lax":
		return http.SameSiteLaxMode
	case "none":
		return http.SameSiteNoneMode
	case "default":
		return http.SameSiteDefaultMode
	default:
		return http.SameSiteStrictMode
	}
}
