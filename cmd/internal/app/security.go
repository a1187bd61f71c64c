package app

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"stockroom/cmd/security/secret"
)

// minSecretBytes is the HS256 key floor enforced in production.
const minSecretBytes = 32

// ValidateSecurityConfig enforces the startup security policy. Every
// environment rejects unusable crypto settings; production additionally
// requires explicit strong secrets and Secure cookies.
func ValidateSecurityConfig(cfg Config) error {
	access := strings.TrimSpace(cfg.Token.AccessSecret)
	refresh := strings.TrimSpace(cfg.Token.RefreshSecret)

	if access != "" && access == refresh {
		return errors.New("security policy: access and refresh token secrets must differ")
	}
	if err := cfg.Hash.Validate(); err != nil {
		return fmt.Errorf("security policy: hash params: %w", err)
	}
	if err := cfg.PasswordConfig().Check(); err != nil {
		return fmt.Errorf("security policy: %w", err)
	}
	if err := cfg.Session.Validate(cfg.Token.Leeway); err != nil {
		return fmt.Errorf("security policy: prune grace must be at least the token leeway: %w", err)
	}

	if !cfg.IsProduction() {
		return nil
	}

	switch {
	case access == "" || refresh == "":
		return errors.New("security policy: STOCKROOM_ACCESS_TOKEN_SECRET and STOCKROOM_REFRESH_TOKEN_SECRET are required in production")
	case len(access) < minSecretBytes || len(refresh) < minSecretBytes:
		return fmt.Errorf("security policy: token secrets must be at least %d bytes in production", minSecretBytes)
	case !cfg.Auth.CookieSecure:
		return errors.New("security policy: refresh cookie must be Secure in production")
	case cfg.Hash.MemoryKiB < secret.DefaultParams().MemoryKiB/4:
		return errors.New("security policy: hash memory cost is too low for production")
	}
	return nil
}

// fillDevSecrets generates throwaway token secrets outside production so a
// bare checkout can start. Tokens do not survive a restart.
func fillDevSecrets(cfg *Config, log *slog.Logger) error {
	if cfg.IsProduction() {
		return nil
	}
	for _, s := range []*string{&cfg.Token.AccessSecret, &cfg.Token.RefreshSecret} {
		if strings.TrimSpace(*s) != "" {
			continue
		}
		buf := make([]byte, minSecretBytes)
		if _, err := rand.Read(buf); err != nil {
			return err
		}
		*s = base64.RawURLEncoding.EncodeToString(buf)
		log.Warn("security.dev_secret.generated", "note", "set STOCKROOM_ACCESS_TOKEN_SECRET and STOCKROOM_REFRESH_TOKEN_SECRET to keep tokens valid across restarts")
	}
	return nil
}
