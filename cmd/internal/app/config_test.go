package app

import (
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/spf13/viper"

	authapi "stockroom/cmd/internal/auth/api"
	"stockroom/cmd/internal/auth/session"
	"stockroom/cmd/security/token"
)

func sourceWith(kv map[string]string) envSource {
	v := viper.New()
	for k, val := range kv {
		v.Set(k, val)
	}
	return envSource{v: v}
}

func TestLoadConfig_Defaults(t *testing.T) {
	t.Parallel()

	cfg := loadConfig(sourceWith(nil))

	if cfg.Env != "development" || cfg.IsProduction() {
		t.Fatalf("default env: %q", cfg.Env)
	}
	if cfg.HTTPAddr != "0.0.0.0:8080" || cfg.LogFormat != "json" {
		t.Fatalf("unexpected http defaults: %+v", cfg)
	}
	if cfg.DatabaseURL != "" || cfg.RedisURL != "" || cfg.OTLPEndpoint != "" {
		t.Fatalf("optional backends should be off by default")
	}

	tok := token.DefaultConfig()
	if cfg.Token.AccessTTL != tok.AccessTTL || cfg.Token.RefreshTTL != tok.RefreshTTL || cfg.Token.Issuer != tok.Issuer {
		t.Fatalf("token defaults not applied: %+v", cfg.Token)
	}
	if cfg.Token.AccessSecret != "" || cfg.Token.RefreshSecret != "" {
		t.Fatalf("secrets must not have defaults")
	}
	if cfg.Session != session.DefaultConfig() {
		t.Fatalf("session defaults not applied: %+v", cfg.Session)
	}
	if cfg.Auth != authapi.DefaultConfig() {
		t.Fatalf("auth defaults not applied: %+v", cfg.Auth)
	}
}

func TestLoadConfig_Overrides(t *testing.T) {
	t.Parallel()

	cfg := loadConfig(sourceWith(map[string]string{
		"STOCKROOM_ENV":                     "Production",
		"STOCKROOM_ACCESS_TOKEN_TTL":        "5m",
		"STOCKROOM_REFRESH_TOKEN_TTL":       "72h",
		"STOCKROOM_TOKEN_LEEWAY":            "30s",
		"STOCKROOM_HASH_MEMORY_KIB":         "2048",
		"STOCKROOM_HASH_PARALLELISM":        "300",
		"STOCKROOM_SESSION_PRUNE_INTERVAL":  "0",
		"STOCKROOM_REFRESH_COOKIE_SAMESITE": "lax",
		"STOCKROOM_RL_LOGIN_EMAIL_MAX":      "0",
		"STOCKROOM_RL_LOGIN_IP_MAX":         "not-a-number",
		"STOCKROOM_DB_MAX_CONNS":            "-4",
		"STOCKROOM_WS_ALLOWED_ORIGINS":      " https://a.example.com , ,https://b.example.com",
	}))

	if !cfg.IsProduction() {
		t.Fatalf("expected production, got %q", cfg.Env)
	}
	if cfg.Token.AccessTTL != 5*time.Minute || cfg.Token.RefreshTTL != 72*time.Hour || cfg.Token.Leeway != 30*time.Second {
		t.Fatalf("token overrides not applied: %+v", cfg.Token)
	}
	if cfg.Hash.MemoryKiB != 2048 {
		t.Fatalf("memory override: %d", cfg.Hash.MemoryKiB)
	}
	if cfg.Hash.Parallelism == 0 || cfg.Hash.Parallelism > 4 {
		t.Fatalf("out-of-range parallelism should fall back to default, got %d", cfg.Hash.Parallelism)
	}
	if cfg.Session.PruneInterval != 0 {
		t.Fatalf("prune interval 0 should disable pruning, got %v", cfg.Session.PruneInterval)
	}
	if cfg.Auth.CookieSameSite != http.SameSiteLaxMode {
		t.Fatalf("samesite: %v", cfg.Auth.CookieSameSite)
	}
	if cfg.Auth.LoginEmailMax != 0 {
		t.Fatalf("zero limit should be kept, got %d", cfg.Auth.LoginEmailMax)
	}
	if cfg.Auth.LoginIPMax != authapi.DefaultConfig().LoginIPMax {
		t.Fatalf("malformed limit should fall back, got %d", cfg.Auth.LoginIPMax)
	}
	if cfg.DBMaxConns != 10 {
		t.Fatalf("negative conns should fall back, got %d", cfg.DBMaxConns)
	}
	if want := []string{"https://a.example.com", "https://b.example.com"}; !slices.Equal(cfg.Realtime.AllowedOrigins, want) {
		t.Fatalf("origins=%v want %v", cfg.Realtime.AllowedOrigins, want)
	}
}

func TestLoadConfig_EnvFileAndProcessEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "stockroom.env")
	content := "STOCKROOM_HTTP_ADDR=127.0.0.1:9999\nSTOCKROOM_LOG_LEVEL=debug\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}

	t.Setenv("STOCKROOM_CONFIG_FILE", path)
	t.Setenv("STOCKROOM_LOG_LEVEL", "warn")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.HTTPAddr != "127.0.0.1:9999" {
		t.Fatalf("env file value not read: %q", cfg.HTTPAddr)
	}
	if cfg.LogLevel != "warn" {
		t.Fatalf("process env should win over the file, got %q", cfg.LogLevel)
	}
}

func TestLoadConfig_MissingEnvFileIsFine(t *testing.T) {
	t.Setenv("STOCKROOM_CONFIG_FILE", filepath.Join(t.TempDir(), "absent.env"))

	if _, err := LoadConfig(); err != nil {
		t.Fatalf("LoadConfig with missing file: %v", err)
	}
}
