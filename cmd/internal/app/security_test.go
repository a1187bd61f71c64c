package app

import (
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/spf13/viper"

	"stockroom/cmd/security/secret"
)

func baseConfig() Config {
	cfg := loadConfig(envSource{v: viper.New()})
	cfg.Token.AccessSecret = strings.Repeat("a", 40)
	cfg.Token.RefreshSecret = strings.Repeat("r", 40)
	cfg.Hash = secret.Params{MemoryKiB: 1024, Iterations: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}
	return cfg
}

func TestValidateSecurityConfig(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "dev ok", mutate: func(*Config) {}},
		{name: "dev short secrets ok", mutate: func(c *Config) {
			c.Token.AccessSecret, c.Token.RefreshSecret = "a", "b"
		}},
		{name: "equal secrets", mutate: func(c *Config) {
			c.Token.RefreshSecret = c.Token.AccessSecret
		}, wantErr: "must differ"},
		{name: "bad hash params", mutate: func(c *Config) {
			c.Hash.Iterations = 0
		}, wantErr: "hash params"},
		{name: "grace below leeway", mutate: func(c *Config) {
			c.Token.Leeway = c.Session.PruneGrace + 1
		}, wantErr: "prune grace"},
		{name: "prod short secret", mutate: func(c *Config) {
			c.Env = "production"
			c.Hash = secret.DefaultParams()
			c.Token.RefreshSecret = "short"
		}, wantErr: "at least 32 bytes"},
		{name: "prod missing secret", mutate: func(c *Config) {
			c.Env = "production"
			c.Token.AccessSecret = ""
		}, wantErr: "required in production"},
		{name: "prod insecure cookie", mutate: func(c *Config) {
			c.Env = "production"
			c.Hash = secret.DefaultParams()
			c.Auth.CookieSecure = false
		}, wantErr: "Secure"},
		{name: "prod cheap hash", mutate: func(c *Config) {
			c.Env = "production"
		}, wantErr: "memory cost"},
		{name: "prod ok", mutate: func(c *Config) {
			c.Env = "production"
			c.Hash = secret.DefaultParams()
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			cfg := baseConfig()
			tc.mutate(&cfg)
			err := ValidateSecurityConfig(cfg)
			switch {
			case tc.wantErr == "" && err != nil:
				t.Fatalf("unexpected error: %v", err)
			case tc.wantErr != "" && err == nil:
				t.Fatalf("expected error containing %q", tc.wantErr)
			case tc.wantErr != "" && !strings.Contains(err.Error(), tc.wantErr):
				t.Fatalf("error %q does not contain %q", err, tc.wantErr)
			}
		})
	}
}

func TestFillDevSecrets(t *testing.T) {
	t.Parallel()

	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	cfg := baseConfig()
	cfg.Token.AccessSecret, cfg.Token.RefreshSecret = "", "kept-refresh-secret"
	if err := fillDevSecrets(&cfg, log); err != nil {
		t.Fatalf("fillDevSecrets: %v", err)
	}
	if len(cfg.Token.AccessSecret) < minSecretBytes {
		t.Fatalf("generated secret too short: %q", cfg.Token.AccessSecret)
	}
	if cfg.Token.RefreshSecret != "kept-refresh-secret" {
		t.Fatalf("explicit secret overwritten: %q", cfg.Token.RefreshSecret)
	}

	prod := baseConfig()
	prod.Env = "production"
	prod.Token.AccessSecret = ""
	if err := fillDevSecrets(&prod, log); err != nil {
		t.Fatalf("fillDevSecrets(prod): %v", err)
	}
	if prod.Token.AccessSecret != "" {
		t.Fatalf("production secrets must never be generated")
	}
}
