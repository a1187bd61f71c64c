package authapi

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"stockroom/cmd/identity"
	"stockroom/cmd/internal/auth/session"
	"stockroom/cmd/security/token"
)

// Sessions is the lifecycle surface the handler drives. *session.Manager
// implements it.
type Sessions interface {
	Login(ctx context.Context, email, password string) (session.Pair, error)
	Refresh(ctx context.Context, raw string) (session.Pair, error)
	Logout(ctx context.Context, raw string)
	Authenticate(ctx context.Context, accessToken string) (token.AccessPayload, error)
	LogoutAll(ctx context.Context, accessToken string) (int64, error)
}

// UserDirectory resolves the principal behind an access token.
// identity.Store implements it.
type UserDirectory interface {
	GetUserByID(ctx context.Context, id string) (identity.User, error)
}

// Handler wires HTTP auth endpoints to the session manager.
type Handler struct {
	log *slog.Logger
	cfg Config

	sessions Sessions
	users    UserDirectory
	limits   Limits
	auditor  AuditWriter
	now      func() time.Time
}

// HandlerOption configures optional auth handler dependencies.
type HandlerOption func(*Handler)

// WithLimits sets the throttles. Without it the handler builds in-memory
// limiters from Config.
func WithLimits(l Limits) HandlerOption {
	return func(h *Handler) { h.limits = l }
}

// WithAuditWriter overrides the default no-op audit writer.
func WithAuditWriter(a AuditWriter) HandlerOption {
	return func(h *Handler) {
		if a != nil {
			h.auditor = a
		}
	}
}

// WithClock overrides time.Now for throttling and audit timestamps.
func WithClock(now func() time.Time) HandlerOption {
	return func(h *Handler) {
		if now != nil {
			h.now = now
		}
	}
}

// NewHandler constructs an auth Handler.
func NewHandler(log *slog.Logger, cfg Config, sessions Sessions, users UserDirectory, opts ...HandlerOption) (*Handler, error) {
	if log == nil {
		log = slog.Default()
	}
	if sessions == nil {
		return nil, errors.New("authapi: nil session manager")
	}
	if users == nil {
		return nil, errors.New("authapi: nil user directory")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	limits, err := NewLimits(cfg, nil)
	if err != nil {
		return nil, err
	}

	h := &Handler{
		log:      log,
		cfg:      cfg,
		sessions: sessions,
		users:    users,
		limits:   limits,
		auditor:  nopAuditWriter{},
		now:      time.Now,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(h)
	}
	return h, nil
}

// Register wires auth routes onto the provided mux.
func (h *Handler) Register(mux *http.ServeMux) {
	if h == nil || mux == nil {
		return
	}
	mux.HandleFunc("/auth/login", h.handleLogin)
	mux.HandleFunc("/auth/refresh", h.handleRefresh)
	mux.HandleFunc("/auth/logout", h.handleLogout)
	mux.HandleFunc("/auth/logout_all", h.handleLogoutAll)
	mux.HandleFunc("/auth/me", h.handleMe)
}

// ---- handlers ----

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req loginRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	email := strings.TrimSpace(req.Email)
	if email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "email and password are required")
		return
	}

	ctx := r.Context()
	ip := ClientIP(r, h.cfg.TrustProxy)
	ua := strings.TrimSpace(r.UserAgent())

	// Throttle before any password work.
	if !h.allow(ctx, w, h.limits.LoginIP, ipKey("login", ip), ip, ua, "login_ip") {
		return
	}
	if !h.allow(ctx, w, h.limits.LoginEmail, loginKey(email), ip, ua, "login_email") {
		return
	}

	pair, err := h.sessions.Login(ctx, email, req.Password)
	if err != nil {
		if session.KindOf(err) == session.KindInvalidCredentials {
			h.audit(ctx, AuditEvent{Action: ActionLoginFailed, IP: ip, UserAgent: ua, Meta: map[string]any{
				"email": identity.NormalizeEmail(email),
			}})
		}
		h.writeSessionError(w, "auth.login", err)
		return
	}

	h.audit(ctx, AuditEvent{Action: ActionLoginSuccess, UserID: pair.UserID, SessionID: pair.SessionID, IP: ip, UserAgent: ua})
	h.setRefreshCookie(w, pair.RefreshToken, pair.RefreshExpiresAt)
	writeJSON(w, http.StatusOK, toLoginResponse(pair))
}

// handleRefresh rotates on POST and logs out on DELETE. The refresh cookie
// is scoped to this path, so DELETE is how a browser ends its session.
func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
	case http.MethodDelete:
		h.logout(w, r, h.refreshTokenFromCookie(r))
		return
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	ctx := r.Context()
	ip := ClientIP(r, h.cfg.TrustProxy)
	ua := strings.TrimSpace(r.UserAgent())

	if !h.allow(ctx, w, h.limits.RefreshIP, ipKey("refresh", ip), ip, ua, "refresh_ip") {
		return
	}

	pair, err := h.sessions.Refresh(ctx, h.refreshTokenFromCookie(r))
	if err != nil {
		var serr *session.Error
		if errors.As(err, &serr) && serr.Kind == session.KindSecurityTokenReused {
			h.audit(ctx, AuditEvent{Action: ActionRefreshReuse, UserID: serr.UserID, SessionID: serr.SessionID, IP: ip, UserAgent: ua})
		}
		h.writeSessionError(w, "auth.refresh", err)
		return
	}

	h.audit(ctx, AuditEvent{Action: ActionRefresh, UserID: pair.UserID, SessionID: pair.SessionID, IP: ip, UserAgent: ua})
	h.setRefreshCookie(w, pair.RefreshToken, pair.RefreshExpiresAt)
	writeJSON(w, http.StatusOK, toRefreshResponse(pair))
}

// handleLogout accepts the refresh token from the cookie or from a JSON body
// for clients that do not keep cookies.
func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	raw := h.refreshTokenFromCookie(r)
	if raw == "" {
		var req logoutRequest
		if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil && !errors.Is(err, errEmptyBody) {
			writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
			return
		}
		raw = strings.TrimSpace(req.RefreshToken)
	}
	h.logout(w, r, raw)
}

func (h *Handler) logout(w http.ResponseWriter, r *http.Request, raw string) {
	ctx := r.Context()
	h.sessions.Logout(ctx, raw)
	if raw != "" {
		h.audit(ctx, AuditEvent{Action: ActionLogout, IP: ClientIP(r, h.cfg.TrustProxy), UserAgent: strings.TrimSpace(r.UserAgent())})
	}
	h.expireRefreshCookie(w)
	writeNoContent(w)
}

func (h *Handler) handleLogoutAll(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	claims, ok := h.requireAuth(w, r)
	if !ok {
		return
	}

	ctx := r.Context()
	n, err := h.sessions.LogoutAll(ctx, bearerToken(r))
	if err != nil {
		h.writeSessionError(w, "auth.logout_all", err)
		return
	}

	h.audit(ctx, AuditEvent{
		Action:    ActionLogoutAll,
		UserID:    claims.UserID,
		IP:        ClientIP(r, h.cfg.TrustProxy),
		UserAgent: strings.TrimSpace(r.UserAgent()),
		Meta:      map[string]any{"revoked": n},
	})
	h.expireRefreshCookie(w)
	writeNoContent(w)
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	claims, ok := h.requireAuth(w, r)
	if !ok {
		return
	}

	// A valid access token can outlive its user row.
	u, err := h.users.GetUserByID(r.Context(), claims.UserID)
	switch {
	case identity.IsNotFound(err):
		writeError(w, http.StatusUnauthorized, "invalid_access_token", "access token is invalid or expired")
		return
	case err != nil:
		h.log.Error("auth.me.fail", "user_id", claims.UserID, "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}
	writeJSON(w, http.StatusOK, meResponse{UserID: u.ID, Email: u.Email, CreatedAt: u.CreatedAt})
}

// ---- helpers ----

func (h *Handler) requireAuth(w http.ResponseWriter, r *http.Request) (token.AccessPayload, bool) {
	claims, err := h.sessions.Authenticate(r.Context(), bearerToken(r))
	if err != nil {
		h.writeSessionError(w, "auth.require", err)
		return token.AccessPayload{}, false
	}
	return claims, true
}

// allow consults l and writes a 429 when the key is over its limit. A
// limiter outage fails open.
func (h *Handler) allow(ctx context.Context, w http.ResponseWriter, l Limiter, key string, ip net.IP, ua, rule string) bool {
	if l == nil || key == "" {
		return true
	}
	ok, retryAfter, err := l.Allow(ctx, key, h.now())
	if err != nil {
		h.log.Warn("auth.throttle.unavailable", "rule", rule, "err", err)
		return true
	}
	if ok {
		return true
	}
	h.audit(ctx, AuditEvent{Action: ActionRateLimited, IP: ip, UserAgent: ua, Meta: map[string]any{
		"rule":          rule,
		"retry_after_s": int64(retryAfter.Seconds()),
	}})
	writeRateLimited(w, retryAfter)
	return false
}

// writeSessionError maps a manager failure to a response. Reuse also expires
// the cookie: the chain it belonged to is dead.
func (h *Handler) writeSessionError(w http.ResponseWriter, op string, err error) {
	switch session.KindOf(err) {
	case session.KindInvalidCredentials:
		writeError(w, http.StatusUnauthorized, "invalid_credentials", "invalid credentials")
	case session.KindTokenMissing:
		writeError(w, http.StatusUnauthorized, "token_missing", "token is required")
	case session.KindInvalidRefreshToken:
		h.expireRefreshCookie(w)
		writeError(w, http.StatusUnauthorized, "invalid_refresh_token", "refresh token is invalid or expired")
	case session.KindSecurityTokenReused:
		h.expireRefreshCookie(w)
		writeError(w, http.StatusUnauthorized, "token_reused", "refresh token reuse detected")
	case session.KindInvalidAccessToken:
		writeError(w, http.StatusUnauthorized, "invalid_access_token", "access token is invalid or expired")
	case session.KindSessionPersist:
		h.log.Error(op+".fail", "err", err)
		writeError(w, http.StatusServiceUnavailable, "server_busy", "please retry later")
	default:
		h.log.Error(op+".fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
	}
}
