package app

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/spf13/viper"

	authapi "stockroom/cmd/internal/auth/api"
	"stockroom/cmd/internal/auth/session"
	"stockroom/cmd/internal/realtime"
	"stockroom/cmd/security/password"
	"stockroom/cmd/security/secret"
	"stockroom/cmd/security/token"
)

// Config contains all runtime configuration loaded from the environment and
// an optional .env file.
type Config struct {
	// Env is "development" or "production". Production tightens the
	// security checks in ValidateSecurityConfig.
	Env string

	HTTPAddr  string
	LogLevel  string
	LogFormat string // "json" or "pretty"

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	ShutdownTimeout   time.Duration
	MaxHeaderBytes    int

	DatabaseURL string
	DBMaxConns  int32
	DBMinConns  int32
	AutoMigrate bool

	// If true, /readyz returns 503 unless the DB is configured and reachable.
	ReadinessRequireDB bool

	// RedisURL enables the shared rate limiter. Empty keeps limits in process.
	RedisURL string

	// OTLPEndpoint enables trace export over gRPC. Empty disables tracing.
	OTLPEndpoint string
	ServiceName  string

	CORSAllowedOrigins   []string
	CORSAllowCredentials bool
	CORSMaxAgeSeconds    int

	// Seeds one user into the in-memory identity store. Ignored with a DB.
	DevUserEmail    string
	DevUserPassword string

	Token    token.Config
	Hash     secret.Params
	Password password.Policy
	Session  session.Config
	Auth     authapi.Config
	Realtime realtime.Config
}

// IsProduction reports whether production checks apply.
func (c Config) IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(c.Env), "production")
}

// PasswordConfig combines the hashing cost and the policy.
func (c Config) PasswordConfig() password.Config {
	return password.Config{Params: c.Hash, Policy: c.Password}
}

// LoadConfig reads STOCKROOM_* settings. The process environment wins over
// the .env file; a missing .env file is not an error.
func LoadConfig() (Config, error) {
	v := viper.New()
	v.SetConfigFile(envFilePath())
	v.SetConfigType("env")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	}
	v.AutomaticEnv()

	return loadConfig(envSource{v: v}), nil
}

func envFilePath() string {
	v := viper.New()
	v.AutomaticEnv()
	if p := strings.TrimSpace(v.GetString("STOCKROOM_CONFIG_FILE")); p != "" {
		return p
	}
	return ".env"
}

func loadConfig(e envSource) Config {
	tokDef := token.DefaultConfig()
	hashDef := secret.DefaultParams()
	pwDef := password.DefaultConfig().Policy
	sessDef := session.DefaultConfig()
	authDef := authapi.DefaultConfig()
	rtDef := realtime.DefaultConfig()

	parallelism := e.Uint32("STOCKROOM_HASH_PARALLELISM", uint32(hashDef.Parallelism))
	if parallelism > 255 {
		parallelism = uint32(hashDef.Parallelism)
	}

	return Config{
		Env:       strings.ToLower(e.String("STOCKROOM_ENV", "development")),
		HTTPAddr:  e.String("STOCKROOM_HTTP_ADDR", "0.0.0.0:8080"),
		LogLevel:  e.String("STOCKROOM_LOG_LEVEL", "info"),
		LogFormat: strings.ToLower(e.String("STOCKROOM_LOG_FORMAT", "json")),

		ReadHeaderTimeout: e.Duration("STOCKROOM_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       e.Duration("STOCKROOM_HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      e.Duration("STOCKROOM_HTTP_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:       e.Duration("STOCKROOM_HTTP_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout:   e.Duration("STOCKROOM_HTTP_SHUTDOWN_TIMEOUT", 10*time.Second),
		MaxHeaderBytes:    e.Int("STOCKROOM_HTTP_MAX_HEADER_BYTES", 1<<20),

		DatabaseURL: e.String("STOCKROOM_DATABASE_URL", ""),
		DBMaxConns:  e.Int32("STOCKROOM_DB_MAX_CONNS", 10),
		DBMinConns:  e.Int32("STOCKROOM_DB_MIN_CONNS", 0),
		AutoMigrate: e.Bool("STOCKROOM_AUTO_MIGRATE", false),

		ReadinessRequireDB: e.Bool("STOCKROOM_READINESS_REQUIRE_DB", false),

		RedisURL: e.String("STOCKROOM_REDIS_URL", ""),

		OTLPEndpoint: e.String("STOCKROOM_OTLP_ENDPOINT", ""),
		ServiceName:  e.String("STOCKROOM_SERVICE_NAME", "stockroom"),

		CORSAllowedOrigins:   e.List("STOCKROOM_CORS_ALLOWED_ORIGINS", nil),
		CORSAllowCredentials: e.Bool("STOCKROOM_CORS_ALLOW_CREDENTIALS", true),
		CORSMaxAgeSeconds:    e.Int("STOCKROOM_CORS_MAX_AGE_SECONDS", 600),

		DevUserEmail:    e.String("STOCKROOM_DEV_USER_EMAIL", ""),
		DevUserPassword: e.String("STOCKROOM_DEV_USER_PASSWORD", ""),

		Token: token.Config{
			Issuer:        e.String("STOCKROOM_TOKEN_ISSUER", tokDef.Issuer),
			Audience:      e.String("STOCKROOM_TOKEN_AUDIENCE", tokDef.Audience),
			AccessSecret:  e.String("STOCKROOM_ACCESS_TOKEN_SECRET", ""),
			RefreshSecret: e.String("STOCKROOM_REFRESH_TOKEN_SECRET", ""),
			AccessTTL:     e.Duration("STOCKROOM_ACCESS_TOKEN_TTL", tokDef.AccessTTL),
			RefreshTTL:    e.Duration("STOCKROOM_REFRESH_TOKEN_TTL", tokDef.RefreshTTL),
			Leeway:        e.Duration("STOCKROOM_TOKEN_LEEWAY", tokDef.Leeway),
		},

		Hash: secret.Params{
			MemoryKiB:   e.Uint32("STOCKROOM_HASH_MEMORY_KIB", hashDef.MemoryKiB),
			Iterations:  e.Uint32("STOCKROOM_HASH_ITERATIONS", hashDef.Iterations),
			Parallelism: uint8(parallelism), // #nosec G115 -- bounded above.
			SaltLength:  e.Uint32("STOCKROOM_HASH_SALT_LENGTH", hashDef.SaltLength),
			KeyLength:   e.Uint32("STOCKROOM_HASH_KEY_LENGTH", hashDef.KeyLength),
		},

		Password: password.Policy{
			MinLength:      e.Int("STOCKROOM_PASSWORD_MIN_LENGTH", pwDef.MinLength),
			MaxLength:      e.Int("STOCKROOM_PASSWORD_MAX_LENGTH", pwDef.MaxLength),
			RejectVeryWeak: e.Bool("STOCKROOM_PASSWORD_REJECT_VERY_WEAK", pwDef.RejectVeryWeak),
		},

		Session: session.Config{
			PruneInterval: e.Duration("STOCKROOM_SESSION_PRUNE_INTERVAL", sessDef.PruneInterval),
			PruneGrace:    e.Duration("STOCKROOM_SESSION_PRUNE_GRACE", sessDef.PruneGrace),
			PruneTimeout:  e.Duration("STOCKROOM_SESSION_PRUNE_TIMEOUT", sessDef.PruneTimeout),
		},

		Auth: authapi.Config{
			TrustProxy:        e.Bool("STOCKROOM_TRUST_PROXY", authDef.TrustProxy),
			MaxBodyBytes:      int64(e.Int("STOCKROOM_AUTH_MAX_BODY_BYTES", int(authDef.MaxBodyBytes))),
			RefreshCookieName: e.String("STOCKROOM_REFRESH_COOKIE_NAME", authDef.RefreshCookieName),
			CookiePath:        e.String("STOCKROOM_REFRESH_COOKIE_PATH", authDef.CookiePath),
			CookieDomain:      e.String("STOCKROOM_REFRESH_COOKIE_DOMAIN", authDef.CookieDomain),
			CookieSecure:      e.Bool("STOCKROOM_REFRESH_COOKIE_SECURE", authDef.CookieSecure),
			CookieSameSite:    authapi.ParseSameSite(e.String("STOCKROOM_REFRESH_COOKIE_SAMESITE", "strict")),
			LoginIPMax:        e.Int("STOCKROOM_RL_LOGIN_IP_MAX", authDef.LoginIPMax),
			LoginIPWindow:     e.Duration("STOCKROOM_RL_LOGIN_IP_WINDOW", authDef.LoginIPWindow),
			LoginEmailMax:     e.Int("STOCKROOM_RL_LOGIN_EMAIL_MAX", authDef.LoginEmailMax),
			LoginEmailWindow:  e.Duration("STOCKROOM_RL_LOGIN_EMAIL_WINDOW", authDef.LoginEmailWindow),
			RefreshIPMax:      e.Int("STOCKROOM_RL_REFRESH_IP_MAX", authDef.RefreshIPMax),
			RefreshIPWindow:   e.Duration("STOCKROOM_RL_REFRESH_IP_WINDOW", authDef.RefreshIPWindow),
		},

		Realtime: realtime.Config{
			OriginRequired:   e.Bool("STOCKROOM_WS_ORIGIN_REQUIRED", rtDef.OriginRequired),
			AllowedOrigins:   e.List("STOCKROOM_WS_ALLOWED_ORIGINS", rtDef.AllowedOrigins),
			WriteTimeout:     e.Duration("STOCKROOM_WS_WRITE_TIMEOUT", rtDef.WriteTimeout),
			ReadIdleTimeout:  e.Duration("STOCKROOM_WS_READ_IDLE_TIMEOUT", rtDef.ReadIdleTimeout),
			HeartbeatEvery:   e.Duration("STOCKROOM_WS_HEARTBEAT_EVERY", rtDef.HeartbeatEvery),
			HeartbeatTimeout: e.Duration("STOCKROOM_WS_HEARTBEAT_TIMEOUT", rtDef.HeartbeatTimeout),
			RateEvents:       e.Int("STOCKROOM_WS_RATE_EVENTS", rtDef.RateEvents),
			RateWindow:       e.Duration("STOCKROOM_WS_RATE_WINDOW", rtDef.RateWindow),
		},
	}
}
