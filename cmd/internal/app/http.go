package app

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	authapi "stockroom/cmd/internal/auth/api"
	"stockroom/cmd/internal/metrics"
	"stockroom/cmd/internal/realtime"
)

type routes struct {
	log     Logger
	cfg     Config
	dbPool  *pgxpool.Pool
	redis   *redis.Client
	metrics *metrics.Metrics
	ws      *realtime.WSGateway
	auth    *authapi.Handler
}

func registerHTTP(mux *http.ServeMux, rt routes) {
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if rt.cfg.ReadinessRequireDB && rt.dbPool == nil {
			http.Error(w, "db not configured", http.StatusServiceUnavailable)
			return
		}

		if rt.dbPool != nil {
			if err := PingDB(r.Context(), rt.dbPool, 2*time.Second); err != nil {
				http.Error(w, "db not ready", http.StatusServiceUnavailable)
				rt.log.Info("readyz.db.not_ready", "err", err)
				return
			}
		}

		// The limiter fails open, so Redis is reported but never blocks readiness.
		if rt.redis != nil {
			ctx, cancel := context.WithTimeout(r.Context(), time.Second)
			err := rt.redis.Ping(ctx).Err()
			cancel()
			if err != nil {
				rt.log.Warn("readyz.redis.degraded", "err", err)
			}
		}

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready\n"))
	})

	if rt.metrics != nil {
		mux.Handle("/metrics", rt.metrics.Handler())
	}
	if rt.auth != nil {
		rt.auth.Register(mux)
	}
	if rt.ws != nil {
		mux.Handle("/ws/sessions", rt.ws)
	}
}
