// Package metrics exposes auth lifecycle counters and HTTP latency in
// Prometheus format.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"stockroom/cmd/internal/auth/session"
)

const namespace = "stockroom"

// Metrics owns a private registry. It implements session.Observer.
type Metrics struct {
	reg *prometheus.Registry

	login    *prometheus.CounterVec
	refresh  *prometheus.CounterVec
	logout   prometheus.Counter
	reuse    prometheus.Counter
	pruned   prometheus.Counter
	duration *prometheus.HistogramVec
}

var _ session.Observer = (*Metrics)(nil)

// New registers every collector on a fresh registry, plus the Go runtime and
// process collectors.
func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		login: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "login_total",
			Help:      "Login attempts by outcome.",
		}, []string{"outcome"}),
		refresh: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "refresh_total",
			Help:      "Refresh attempts by outcome.",
		}, []string{"outcome"}),
		logout: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "logout_total",
			Help:      "Logout requests.",
		}),
		reuse: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "reuse_detected_total",
			Help:      "Refresh token reuse detections. Each one revoked every session of a user.",
		}),
		pruned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sessions",
			Name:      "pruned_total",
			Help:      "Expired session rows deleted by the pruner.",
		}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by method and status class.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "class"}),
	}

	m.reg.MustRegister(
		m.login, m.refresh, m.logout, m.reuse, m.pruned, m.duration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) LoginResult(outcome string)   { m.login.WithLabelValues(outcome).Inc() }
func (m *Metrics) RefreshResult(outcome string) { m.refresh.WithLabelValues(outcome).Inc() }
func (m *Metrics) LogoutResult()                { m.logout.Inc() }
func (m *Metrics) ReuseDetected()               { m.reuse.Inc() }

func (m *Metrics) Pruned(n int64) {
	if n > 0 {
		m.pruned.Add(float64(n))
	}
}

// ObserveHTTP records one request.
func (m *Metrics) ObserveHTTP(method string, status int, d time.Duration) {
	m.duration.WithLabelValues(method, statusClass(status)).Observe(d.Seconds())
}

// Handler serves the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

// Registry exposes the underlying registry for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.reg
}

func statusClass(status int) string {
	if status < 100 || status > 599 {
		return "unknown"
	}
	return strconv.Itoa(status/100) + "xx"
}
