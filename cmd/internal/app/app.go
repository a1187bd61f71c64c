// Package app wires the stockroom auth server: config, logging, storage,
// the session manager, HTTP routes and the session event gateway.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"stockroom/cmd/identity"
	authapi "stockroom/cmd/internal/auth/api"
	"stockroom/cmd/internal/auth/session"
	"stockroom/cmd/internal/metrics"
	"stockroom/cmd/internal/realtime"
	"stockroom/cmd/security/secret"
	"stockroom/cmd/security/token"
)

// dbSchema holds every table the server touches.
const dbSchema = "stockroom"

// App is the server runtime. It owns the DB pool, the Redis client and the
// background pruner.
type App struct {
	cfg Config
	log Logger

	dbPool *pgxpool.Pool
	redis  *redis.Client

	metrics *metrics.Metrics
	hub     *realtime.Hub
	manager *session.Manager
	pruner  *session.Pruner
	handler http.Handler

	closeOnce sync.Once
}

// New constructs a fully wired App. Without a database URL every store is
// in memory.
func New(ctx context.Context, cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat, nil)
	}
	if err := fillDevSecrets(&cfg, log); err != nil {
		return nil, err
	}
	if err := ValidateSecurityConfig(cfg); err != nil {
		return nil, err
	}

	codec, err := token.NewCodec(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("token codec: %w", err)
	}
	hasher, err := secret.New(cfg.Hash)
	if err != nil {
		return nil, fmt.Errorf("secret hasher: %w", err)
	}
	passwords := cfg.PasswordConfig()

	a := &App{cfg: cfg, log: log, metrics: metrics.New(), hub: realtime.NewHub(log)}

	users, sessions, auditor, err := a.newStores(ctx)
	if err != nil {
		return nil, err
	}

	a.manager, err = session.NewManager(codec, sessions, hasher, users, passwords,
		session.WithLogger(log),
		session.WithNotifier(a.hub),
		session.WithObserver(a.metrics),
	)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.pruner = session.NewPruner(sessions, cfg.Session, log, a.metrics)

	if err := a.connectRedis(ctx); err != nil {
		a.Close()
		return nil, err
	}
	limits, err := authapi.NewLimits(cfg.Auth, a.redis)
	if err != nil {
		a.Close()
		return nil, err
	}

	authOpts := []authapi.HandlerOption{authapi.WithLimits(limits)}
	if auditor != nil {
		authOpts = append(authOpts, authapi.WithAuditWriter(auditor))
	}
	auth, err := authapi.NewHandler(log, cfg.Auth, a.manager, users, authOpts...)
	if err != nil {
		a.Close()
		return nil, err
	}

	ws, err := realtime.NewWSGateway(log, a.hub, a.manager, cfg.Realtime)
	if err != nil {
		a.Close()
		return nil, err
	}

	mux := http.NewServeMux()
	registerHTTP(mux, routes{
		log:     log,
		cfg:     cfg,
		dbPool:  a.dbPool,
		redis:   a.redis,
		metrics: a.metrics,
		ws:      ws,
		auth:    auth,
	})

	a.handler = WithRequestID(
		WithRequestLogging(
			WithSecurityHeaders(WithCORS(mux, cfg, log)),
			log, a.metrics,
		),
	)

	if a.dbPool == nil {
		if err := a.seedDevUser(ctx, users); err != nil {
			a.Close()
			return nil, err
		}
	}
	return a, nil
}

// Handler returns the fully wrapped HTTP handler.
func (a *App) Handler() http.Handler { return a.handler }

// Manager exposes the session manager, mainly for tools and tests.
func (a *App) Manager() *session.Manager { return a.manager }

// newStores decides between Postgres-backed persistence and in-memory dev
// stores. The audit writer is nil in memory mode.
func (a *App) newStores(ctx context.Context) (identity.Store, session.Store, authapi.AuditWriter, error) {
	if a.cfg.DatabaseURL == "" {
		a.log.Info("db.disabled.inmemory_store")
		return identity.NewMemoryStore(), session.NewMemoryStore(), nil, nil
	}

	pool, err := NewDBPool(ctx, a.cfg)
	if err != nil {
		return nil, nil, nil, err
	}
	a.dbPool = pool
	a.log.Info("db.enabled.postgres_store", "auto_migrate", a.cfg.AutoMigrate)

	users, err := identity.NewPostgresStore(pool, identity.WithSchema(dbSchema))
	if err != nil {
		a.Close()
		return nil, nil, nil, err
	}
	sessions, err := session.NewPostgresStore(pool, session.WithSchema(dbSchema))
	if err != nil {
		a.Close()
		return nil, nil, nil, err
	}
	auditor, err := authapi.NewPostgresAuditWriter(pool, dbSchema, a.log)
	if err != nil {
		a.Close()
		return nil, nil, nil, err
	}
	return users, sessions, auditor, nil
}

func (a *App) connectRedis(ctx context.Context) error {
	if a.cfg.RedisURL == "" {
		a.log.Info("ratelimit.inmemory")
		return nil
	}
	opts, err := redis.ParseURL(a.cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("redis url: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		// Limits fail open, so an unreachable Redis only degrades throttling.
		a.log.Warn("ratelimit.redis.unreachable", "addr", opts.Addr, "err", err)
	} else {
		a.log.Info("ratelimit.redis", "addr", opts.Addr)
	}
	a.redis = client
	return nil
}

func (a *App) seedDevUser(ctx context.Context, users identity.Store) error {
	if a.cfg.DevUserEmail == "" {
		return nil
	}
	if a.cfg.IsProduction() {
		a.log.Warn("dev_user.ignored", "reason", "production")
		return nil
	}
	digest, err := a.cfg.PasswordConfig().Hash(a.cfg.DevUserPassword)
	if err != nil {
		return fmt.Errorf("dev user password: %w", err)
	}
	u, err := users.CreateUser(ctx, identity.CreateUserInput{
		Email:        a.cfg.DevUserEmail,
		PasswordHash: digest,
		Now:          time.Now(),
	})
	if err != nil {
		return fmt.Errorf("dev user: %w", err)
	}
	a.log.Info("dev_user.created", "user_id", u.ID, "email", u.Email)
	return nil
}

// Run starts the HTTP server and the pruner, and blocks until context
// cancellation or a fatal server error.
func (a *App) Run(ctx context.Context) error {
	defer a.Close()

	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           a.handler,
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	pruneCtx, stopPruner := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		a.pruner.Run(pruneCtx)
	}()
	defer func() {
		stopPruner()
		wg.Wait()
	}()

	base := runtimeBaseURL(a.cfg.HTTPAddr)
	a.log.Info("server.start",
		"addr", a.cfg.HTTPAddr,
		"env", a.cfg.Env,
		"db_enabled", a.dbPool != nil,
		"redis_enabled", a.redis != nil,
		"base_url", base,
		"ws_url", wsBaseURL(base)+"/ws/sessions",
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case err := <-errCh:
		a.log.Error("server.fail", "err", err)
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), nonZeroDuration(a.cfg.ShutdownTimeout, 10*time.Second))
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		return err
	}

	a.log.Info("server.stopped")
	return nil
}

// Close releases the DB pool and the Redis client. It is safe to call more
// than once.
func (a *App) Close() {
	a.closeOnce.Do(func() {
		if a.redis != nil {
			if err := a.redis.Close(); err != nil {
				a.log.Warn("redis.close.fail", "err", err)
			}
		}
		if a.dbPool != nil {
			a.dbPool.Close()
		}
	})
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// runtimeBaseURL turns a listen address into a URL a local client can dial.
func runtimeBaseURL(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "http://" + addr
	}
	switch host {
	case "", "0.0.0.0", "::":
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port)
}

func wsBaseURL(base string) string {
	u, err := url.Parse(base)
	if err != nil || u.Host == "" {
		return "ws://" + base
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	return u.String()
}
