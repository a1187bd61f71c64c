package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"stockroom/cmd/identity"
	"stockroom/cmd/security/token"
)

const (
	outcomeSuccess = "success"

	// Containment runs detached from the request so a client hang-up cannot
	// abort it halfway; this bounds how long it may take instead.
	containTimeout = 10 * time.Second

	// Digested on unknown-email logins so both failure paths cost one verify.
	dummyPassword = "stockroom-login-timing-equalizer"
)

// Pair is what a successful Login or Refresh hands to the transport layer.
type Pair struct {
	UserID    string
	Email     string
	SessionID string

	AccessToken     string
	AccessExpiresAt time.Time

	RefreshToken     string
	RefreshExpiresAt time.Time
}

// Manager runs login, refresh rotation with reuse detection, and logout.
// It holds no per-request state; concurrent refreshes of one token are
// serialized by Store.Revoke.
type Manager struct {
	codec     TokenCodec
	store     Store
	hasher    SecretHasher
	users     UserLookup
	passwords PasswordVerifier

	log      *slog.Logger
	now      func() time.Time
	notifier Notifier
	observer Observer
	tracer   trace.Tracer

	dummyDigest string
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithLogger sets the logger (default slog.Default()).
func WithLogger(l *slog.Logger) ManagerOption {
	return func(m *Manager) {
		if l != nil {
			m.log = l
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithNotifier registers a listener for user-wide revocations.
func WithNotifier(n Notifier) ManagerOption {
	return func(m *Manager) { m.notifier = n }
}

// WithObserver registers a metrics sink.
func WithObserver(o Observer) ManagerOption {
	return func(m *Manager) {
		if o != nil {
			m.observer = o
		}
	}
}

// WithTracer overrides the global otel tracer.
func WithTracer(t trace.Tracer) ManagerOption {
	return func(m *Manager) {
		if t != nil {
			m.tracer = t
		}
	}
}

// NewManager wires the lifecycle manager.
func NewManager(codec TokenCodec, store Store, hasher SecretHasher, users UserLookup, passwords PasswordVerifier, opts ...ManagerOption) (*Manager, error) {
	if codec == nil || store == nil || hasher == nil || users == nil || passwords == nil {
		return nil, fmt.Errorf("session: nil dependency")
	}

	m := &Manager{
		codec:     codec,
		store:     store,
		hasher:    hasher,
		users:     users,
		passwords: passwords,
		log:       slog.Default(),
		now:       time.Now,
		observer:  nopObserver{},
		tracer:    otel.Tracer("stockroom/session"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}

	digest, err := hasher.Hash(dummyPassword)
	if err != nil {
		return nil, fmt.Errorf("session: dummy digest: %w", err)
	}
	m.dummyDigest = digest
	return m, nil
}

// Login authenticates email and password and opens a new session.
// The session row is stored before any token is returned.
func (m *Manager) Login(ctx context.Context, email, password string) (pair Pair, err error) {
	const op = "session.Login"

	ctx, span := m.tracer.Start(ctx, op)
	defer func() { m.endSpan(span, err); m.observer.LoginResult(outcome(err)) }()

	now := m.now()

	u, err := m.users.GetUserByEmail(ctx, email)
	if err != nil {
		if !identity.IsNotFound(err) {
			m.log.Error("auth.login.user_lookup_failed", "err", err)
			return Pair{}, fail(op, KindSessionPersist, err)
		}
		_, _ = m.passwords.Verify(m.dummyDigest, password)
		m.log.Info("auth.login.failed", "reason", "unknown_email")
		return Pair{}, fail(op, KindInvalidCredentials, nil)
	}

	ok, verr := m.passwords.Verify(u.PasswordHash, password)
	if verr != nil {
		m.log.Warn("auth.login.bad_digest", "user_id", u.ID, "err", verr)
	}
	if !ok {
		m.log.Info("auth.login.failed", "user_id", u.ID, "reason", "password_mismatch")
		return Pair{}, fail(op, KindInvalidCredentials, nil)
	}

	m.upgradePassword(ctx, u, password, now)

	pair, _, err = m.open(ctx, op, u.ID, u.Email, now)
	if err != nil {
		return Pair{}, err
	}

	span.SetAttributes(attribute.String("user.id", u.ID))
	m.log.Info("auth.login.ok", "user_id", u.ID, "session_id", pair.SessionID)
	return pair, nil
}

// Refresh rotates the session named by raw and returns a new pair.
//
// Order of checks: missing, signature/expiry, row lookup, revoked, row
// expiry, digest. A missing or revoked row and a digest mismatch are theft
// signals: every session of the user is revoked before failing.
func (m *Manager) Refresh(ctx context.Context, raw string) (pair Pair, err error) {
	const op = "session.Refresh"

	ctx, span := m.tracer.Start(ctx, op)
	defer func() { m.endSpan(span, err); m.observer.RefreshResult(outcome(err)) }()

	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Pair{}, fail(op, KindTokenMissing, nil)
	}

	now := m.now()

	p, err := m.codec.VerifyRefreshToken(raw, now)
	if err != nil {
		return Pair{}, fail(op, KindInvalidRefreshToken, err)
	}
	span.SetAttributes(attribute.String("user.id", p.UserID), attribute.String("session.id", p.SessionID))

	old, err := m.store.FindByID(ctx, p.SessionID)
	switch {
	case errors.Is(err, ErrSessionNotFound):
		m.contain(ctx, p.UserID, p.SessionID, "unknown_session", now)
		return Pair{}, reused(op, p.UserID, p.SessionID, nil)
	case err != nil:
		m.log.Error("auth.refresh.lookup_failed", "session_id", p.SessionID, "err", err)
		return Pair{}, fail(op, KindSessionPersist, err)
	}

	if old.Revoked {
		m.contain(ctx, p.UserID, old.ID, "revoked_session:"+old.State().String(), now)
		return Pair{}, reused(op, p.UserID, old.ID, nil)
	}

	if old.ExpiredAt(now) {
		return Pair{}, fail(op, KindInvalidRefreshToken, nil)
	}

	match, cerr := m.hasher.Compare(raw, old.TokenHash)
	if cerr != nil || !match || old.UserID != p.UserID {
		m.contain(ctx, p.UserID, old.ID, "digest_mismatch", now)
		return Pair{}, reused(op, p.UserID, old.ID, cerr)
	}

	pair, next, err := m.open(ctx, op, p.UserID, p.Email, now)
	if err != nil {
		return Pair{}, err
	}

	if _, err := m.store.Revoke(ctx, now, old.ID, &next.ID); err != nil {
		if errors.Is(err, ErrSessionRevoked) || errors.Is(err, ErrSessionNotFound) {
			m.loseRace(ctx, p.UserID, old.ID, next.ID, now)
			return Pair{}, reused(op, p.UserID, old.ID, nil)
		}

		// The old row is still active; drop the successor so the user keeps one live session.
		if derr := m.store.Delete(context.WithoutCancel(ctx), next.ID); derr != nil {
			m.log.Error("auth.refresh.orphan_cleanup_failed", "session_id", next.ID, "err", derr)
		}
		m.log.Error("auth.refresh.revoke_failed", "session_id", old.ID, "err", err)
		return Pair{}, fail(op, KindSessionPersist, err)
	}

	m.log.Info("auth.refresh.ok", "user_id", p.UserID, "session_id", next.ID, "previous_session_id", old.ID)
	return pair, nil
}

// Logout deletes the session named by raw. It never fails: missing and
// invalid tokens are no-ops and store errors are only logged.
func (m *Manager) Logout(ctx context.Context, raw string) {
	const op = "session.Logout"

	ctx, span := m.tracer.Start(ctx, op)
	defer span.End()
	defer m.observer.LogoutResult()

	raw = strings.TrimSpace(raw)
	if raw == "" {
		return
	}

	p, err := m.codec.VerifyRefreshToken(raw, m.now())
	if err != nil {
		return
	}

	err = m.store.Delete(ctx, p.SessionID)
	switch {
	case err == nil:
		m.log.Info("auth.logout.ok", "user_id", p.UserID, "session_id", p.SessionID)
	case errors.Is(err, ErrSessionNotFound):
	default:
		span.RecordError(err)
		m.log.Warn("auth.logout.store_error", "session_id", p.SessionID, "err", err)
	}
}

// Authenticate verifies an access token.
func (m *Manager) Authenticate(_ context.Context, accessToken string) (token.AccessPayload, error) {
	const op = "session.Authenticate"

	accessToken = strings.TrimSpace(accessToken)
	if accessToken == "" {
		return token.AccessPayload{}, fail(op, KindTokenMissing, nil)
	}
	p, err := m.codec.VerifyAccessToken(accessToken, m.now())
	if err != nil {
		return token.AccessPayload{}, fail(op, KindInvalidAccessToken, err)
	}
	return p, nil
}

// LogoutAll revokes every session of the access token's user and returns
// how many rows changed.
func (m *Manager) LogoutAll(ctx context.Context, accessToken string) (n int64, err error) {
	const op = "session.LogoutAll"

	ctx, span := m.tracer.Start(ctx, op)
	defer func() { m.endSpan(span, err) }()

	p, err := m.Authenticate(ctx, accessToken)
	if err != nil {
		return 0, err
	}

	now := m.now()
	n, err = m.store.RevokeAllForUser(ctx, now, p.UserID)
	if err != nil {
		m.log.Error("auth.logout_all.failed", "user_id", p.UserID, "err", err)
		return 0, fail(op, KindSessionPersist, err)
	}

	m.notify(p.UserID, ReasonLogoutAll, now)
	m.log.Info("auth.logout_all.ok", "user_id", p.UserID, "revoked", n)
	return n, nil
}

// open issues a pair for a fresh session id and stores its row.
func (m *Manager) open(ctx context.Context, op, userID, email string, now time.Time) (Pair, Session, error) {
	sid := uuid.NewString()

	access, accessExp, err := m.codec.IssueAccessToken(token.AccessPayload{UserID: userID, Email: email}, now)
	if err != nil {
		return Pair{}, Session{}, fail(op, KindUnknown, err)
	}
	refresh, refreshExp, err := m.codec.IssueRefreshToken(token.RefreshPayload{UserID: userID, Email: email, SessionID: sid}, now)
	if err != nil {
		return Pair{}, Session{}, fail(op, KindUnknown, err)
	}
	digest, err := m.hasher.Hash(refresh)
	if err != nil {
		return Pair{}, Session{}, fail(op, KindUnknown, err)
	}

	row, err := m.store.Create(ctx, Session{
		ID:        sid,
		UserID:    userID,
		TokenHash: digest,
		CreatedAt: now,
		ExpiresAt: refreshExp,
	})
	if err != nil {
		m.log.Error("auth.session.persist_failed", "user_id", userID, "err", err)
		return Pair{}, Session{}, fail(op, KindSessionPersist, err)
	}

	return Pair{
		UserID:           userID,
		Email:            email,
		SessionID:        row.ID,
		AccessToken:      access,
		AccessExpiresAt:  accessExp,
		RefreshToken:     refresh,
		RefreshExpiresAt: refreshExp,
	}, row, nil
}

// contain revokes every session of userID except keep. It is attempted once.
func (m *Manager) contain(ctx context.Context, userID, sessionID, reason string, now time.Time, keep ...string) {
	m.observer.ReuseDetected()

	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), containTimeout)
	defer cancel()

	n, err := m.store.RevokeAllForUser(cctx, now, userID, keep...)
	if err != nil {
		m.log.Error("auth.refresh.containment_failed",
			"user_id", userID,
			"session_id", sessionID,
			"reason", reason,
			"err", err,
		)
		return
	}

	m.log.Error("auth.refresh.reuse_detected",
		"user_id", userID,
		"session_id", sessionID,
		"reason", reason,
		"revoked", n,
	)
	m.notify(userID, ReasonTokenReused, now)
}

// loseRace handles a rotation whose compare-and-set on the old row failed:
// another request already rotated (or deleted) it. The loser retires its own
// successor and revokes everything except the winner's successor.
func (m *Manager) loseRace(ctx context.Context, userID, oldID, ownNextID string, now time.Time) {
	dctx := context.WithoutCancel(ctx)

	if _, err := m.store.Revoke(dctx, now, ownNextID, nil); err != nil && !errors.Is(err, ErrSessionRevoked) {
		m.log.Error("auth.refresh.race_cleanup_failed", "session_id", ownNextID, "err", err)
	}

	var keep []string
	if winner, err := m.store.FindByID(dctx, oldID); err == nil && winner.ReplacedBy != nil {
		keep = append(keep, *winner.ReplacedBy)
	}

	m.log.Warn("auth.refresh.race_lost", "user_id", userID, "session_id", oldID)
	m.contain(ctx, userID, oldID, "concurrent_rotation", now, keep...)
}

func (m *Manager) upgradePassword(ctx context.Context, u identity.User, password string, now time.Time) {
	rh, ok := m.passwords.(passwordRehasher)
	if !ok || !rh.NeedsRehash(u.PasswordHash) {
		return
	}
	w, ok := m.users.(passwordWriter)
	if !ok {
		return
	}

	digest, err := rh.Hash(password)
	if err != nil {
		m.log.Debug("auth.login.rehash_skipped", "user_id", u.ID, "err", err)
		return
	}
	if err := w.UpdatePasswordHash(ctx, u.ID, digest, now); err != nil {
		m.log.Warn("auth.login.rehash_failed", "user_id", u.ID, "err", err)
		return
	}
	m.log.Info("auth.login.rehashed", "user_id", u.ID)
}

func (m *Manager) notify(userID string, reason RevokeReason, at time.Time) {
	if m.notifier != nil {
		m.notifier.SessionsRevoked(userID, reason, at)
	}
}

func (m *Manager) endSpan(span trace.Span, err error) {
	if err != nil {
		span.SetAttributes(attribute.String("auth.outcome", KindOf(err).String()))
		span.SetStatus(codes.Error, KindOf(err).String())
	} else {
		span.SetAttributes(attribute.String("auth.outcome", outcomeSuccess))
	}
	span.End()
}

func outcome(err error) string {
	if err == nil {
		return outcomeSuccess
	}
	return KindOf(err).String()
}
