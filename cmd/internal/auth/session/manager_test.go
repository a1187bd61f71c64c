package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"stockroom/cmd/identity"
	"stockroom/cmd/security/password"
	"stockroom/cmd/security/secret"
	"stockroom/cmd/security/token"
)

const (
	testEmail    = "clerk@stockroom.test"
	testPassword = "correct horse battery"
)

var testParams = secret.Params{MemoryKiB: 1024, Iterations: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type revocation struct {
	UserID string
	Reason RevokeReason
}

type recordingNotifier struct {
	mu   sync.Mutex
	seen []revocation
}

func (n *recordingNotifier) SessionsRevoked(userID string, reason RevokeReason, _ time.Time) {
	n.mu.Lock()
	n.seen = append(n.seen, revocation{UserID: userID, Reason: reason})
	n.mu.Unlock()
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.seen)
}

type countingObserver struct {
	nopObserver
	reuse atomic.Int64
}

func (o *countingObserver) ReuseDetected() { o.reuse.Add(1) }

type fixture struct {
	mgr      *Manager
	store    *MemoryStore
	users    *identity.MemoryStore
	codec    *token.Codec
	hasher   *secret.Hasher
	clock    *fakeClock
	notifier *recordingNotifier
	observer *countingObserver
	userID   string
}

type fixtureOption func(*fixtureConfig)

type fixtureConfig struct {
	store        Store
	passwordHash string
}

func withStore(wrap func(*MemoryStore) Store) fixtureOption {
	return func(c *fixtureConfig) { c.store = wrap(c.store.(*MemoryStore)) }
}

func withPasswordHash(h string) fixtureOption {
	return func(c *fixtureConfig) { c.passwordHash = h }
}

func newFixture(t *testing.T, opts ...fixtureOption) *fixture {
	t.Helper()

	mem := NewMemoryStore()
	pw := password.Config{Params: testParams, Policy: password.DefaultConfig().Policy}

	digest, err := pw.Hash(testPassword)
	if err != nil {
		t.Fatalf("password Hash: %v", err)
	}
	fc := fixtureConfig{store: mem, passwordHash: digest}
	for _, o := range opts {
		o(&fc)
	}

	tcfg := token.DefaultConfig()
	tcfg.AccessSecret = "access-secret-0123456789abcdef0123456789"
	tcfg.RefreshSecret = "refresh-secret-0123456789abcdef012345678"
	codec, err := token.NewCodec(tcfg)
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}

	users := identity.NewMemoryStore()
	u, err := users.CreateUser(context.Background(), identity.CreateUserInput{Email: testEmail, PasswordHash: fc.passwordHash})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	clock := &fakeClock{now: time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)}
	notifier := &recordingNotifier{}
	observer := &countingObserver{}
	hasher := secret.MustNew(testParams)

	mgr, err := NewManager(codec, fc.store, hasher, users, pw,
		WithClock(clock.Now),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithNotifier(notifier),
		WithObserver(observer),
	)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	return &fixture{
		mgr:      mgr,
		store:    mem,
		users:    users,
		codec:    codec,
		hasher:   hasher,
		clock:    clock,
		notifier: notifier,
		observer: observer,
		userID:   u.ID,
	}
}

func (f *fixture) login(t *testing.T) Pair {
	t.Helper()
	p, err := f.mgr.Login(context.Background(), testEmail, testPassword)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	return p
}

func (f *fixture) activeSessions() []Session {
	var out []Session
	for _, s := range f.store.ListForUser(f.userID) {
		if s.State() == StateActive {
			out = append(out, s)
		}
	}
	return out
}

func mustKind(t *testing.T, err error, want Kind) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %v, got nil", want)
	}
	if got := KindOf(err); got != want {
		t.Fatalf("expected kind %v, got %v (%v)", want, got, err)
	}
}

func TestLogin_PersistsHashedSession(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	p := f.login(t)

	if p.UserID != f.userID || p.Email != testEmail {
		t.Fatalf("unexpected pair identity: %+v", p)
	}
	row, err := f.store.FindByID(context.Background(), p.SessionID)
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if row.TokenHash == p.RefreshToken || !strings.HasPrefix(row.TokenHash, "$argon2id$") {
		t.Fatalf("refresh token stored without hashing: %q", row.TokenHash)
	}
	if !row.ExpiresAt.Equal(p.RefreshExpiresAt) {
		t.Fatalf("row expiry %v != token expiry %v", row.ExpiresAt, p.RefreshExpiresAt)
	}
	if row.State() != StateActive {
		t.Fatalf("expected active row, got %v", row.State())
	}

	claims, err := f.mgr.Authenticate(context.Background(), p.AccessToken)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if claims.UserID != f.userID {
		t.Fatalf("Authenticate returned %q", claims.UserID)
	}
}

func TestLogin_InvalidCredentials(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	_, err := f.mgr.Login(ctx, testEmail, "wrong password value")
	mustKind(t, err, KindInvalidCredentials)

	_, err = f.mgr.Login(ctx, "ghost@stockroom.test", testPassword)
	mustKind(t, err, KindInvalidCredentials)
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected errors.Is ErrInvalidCredentials, got %v", err)
	}

	if n := len(f.store.ListForUser(f.userID)); n != 0 {
		t.Fatalf("expected no sessions, got %d", n)
	}
}

func TestLogin_EmailIsCaseInsensitive(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	if _, err := f.mgr.Login(context.Background(), "  CLERK@Stockroom.test ", testPassword); err != nil {
		t.Fatalf("Login: %v", err)
	}
}

func TestLogin_PersistFailureReturnsNoTokens(t *testing.T) {
	t.Parallel()

	boom := errors.New("db down")
	f := newFixture(t, withStore(func(m *MemoryStore) Store { return &failingStore{MemoryStore: m, createErr: boom} }))

	p, err := f.mgr.Login(context.Background(), testEmail, testPassword)
	mustKind(t, err, KindSessionPersist)
	if !errors.Is(err, boom) || !errors.Is(err, ErrSessionPersist) {
		t.Fatalf("expected cause and kind to be reachable, got %v", err)
	}
	if p.AccessToken != "" || p.RefreshToken != "" {
		t.Fatalf("tokens returned despite persistence failure: %+v", p)
	}
}

func TestLogin_UpgradesLegacyBcryptDigest(t *testing.T) {
	t.Parallel()

	legacy, err := bcrypt.GenerateFromPassword([]byte(testPassword), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	f := newFixture(t, withPasswordHash(string(legacy)))

	f.login(t)

	u, err := f.users.GetUserByID(context.Background(), f.userID)
	if err != nil {
		t.Fatalf("GetUserByID: %v", err)
	}
	if !strings.HasPrefix(u.PasswordHash, "$argon2id$") {
		t.Fatalf("expected digest upgrade, got %q", u.PasswordHash)
	}
	f.login(t)
}

func TestRefresh_RoundTrip(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	p1 := f.login(t)

	f.clock.Advance(time.Minute)
	p2, err := f.mgr.Refresh(ctx, p1.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if p2.AccessToken == p1.AccessToken || p2.RefreshToken == p1.RefreshToken {
		t.Fatalf("expected a new token pair")
	}
	if p2.SessionID == p1.SessionID {
		t.Fatalf("expected a new session id")
	}

	old, err := f.store.FindByID(ctx, p1.SessionID)
	if err != nil {
		t.Fatalf("FindByID(old): %v", err)
	}
	if old.State() != StateRotatedOut || old.ReplacedBy == nil || *old.ReplacedBy != p2.SessionID {
		t.Fatalf("old row not rotated to %s: %+v", p2.SessionID, old)
	}
	if old.RevokedAt == nil || !old.RevokedAt.Equal(f.clock.Now()) {
		t.Fatalf("unexpected revoked_at: %v", old.RevokedAt)
	}

	active := f.activeSessions()
	if len(active) != 1 || active[0].ID != p2.SessionID {
		t.Fatalf("expected only the successor active, got %+v", active)
	}
}

func TestRefresh_SameSecondRotation(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	p1 := f.login(t)

	p2, err := f.mgr.Refresh(context.Background(), p1.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if p2.RefreshToken == p1.RefreshToken {
		t.Fatalf("tokens issued in the same second must differ")
	}
}

func TestRefresh_ReplayRevokesEverything(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	other := f.login(t) // a second device
	p1 := f.login(t)
	p2, err := f.mgr.Refresh(ctx, p1.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	_, err = f.mgr.Refresh(ctx, p1.RefreshToken)
	mustKind(t, err, KindSecurityTokenReused)
	if !errors.Is(err, ErrSecurityTokenReused) {
		t.Fatalf("expected errors.Is ErrSecurityTokenReused, got %v", err)
	}
	var serr *Error
	if !errors.As(err, &serr) || serr.UserID != f.userID || serr.SessionID != p1.SessionID {
		t.Fatalf("reuse error should name the replayed chain, got %+v", serr)
	}

	if active := f.activeSessions(); len(active) != 0 {
		t.Fatalf("expected every session revoked, got %+v", active)
	}

	_, err = f.mgr.Refresh(ctx, p2.RefreshToken)
	mustKind(t, err, KindSecurityTokenReused)
	_, err = f.mgr.Refresh(ctx, other.RefreshToken)
	mustKind(t, err, KindSecurityTokenReused)

	if f.notifier.count() == 0 || f.notifier.seen[0].Reason != ReasonTokenReused || f.notifier.seen[0].UserID != f.userID {
		t.Fatalf("expected a token_reused notification, got %+v", f.notifier.seen)
	}
	if f.observer.reuse.Load() < 1 {
		t.Fatalf("expected reuse to be observed")
	}

	// Containment revokes; it never rotates.
	for _, s := range f.store.ListForUser(f.userID) {
		if s.ID != p1.SessionID && s.ReplacedBy != nil {
			t.Fatalf("containment set replaced_by on %s", s.ID)
		}
	}
}

func TestRefresh_MissingAndInvalid(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	live := f.login(t)

	_, err := f.mgr.Refresh(ctx, "")
	mustKind(t, err, KindTokenMissing)
	_, err = f.mgr.Refresh(ctx, "   ")
	mustKind(t, err, KindTokenMissing)

	_, err = f.mgr.Refresh(ctx, "garbage.token.value")
	mustKind(t, err, KindInvalidRefreshToken)

	// An access token is not a refresh token.
	_, err = f.mgr.Refresh(ctx, live.AccessToken)
	mustKind(t, err, KindInvalidRefreshToken)

	if len(f.activeSessions()) != 1 {
		t.Fatalf("verification failures must not revoke sessions")
	}
}

func TestRefresh_ExpiredTokenIgnoresStoreState(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	p := f.login(t)

	f.clock.Advance(8 * 24 * time.Hour)
	_, err := f.mgr.Refresh(ctx, p.RefreshToken)
	mustKind(t, err, KindInvalidRefreshToken)

	// Same after the row is gone.
	if err := f.store.Delete(ctx, p.SessionID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	_, err = f.mgr.Refresh(ctx, p.RefreshToken)
	mustKind(t, err, KindInvalidRefreshToken)
	if f.observer.reuse.Load() != 0 {
		t.Fatalf("expired token must not trigger containment")
	}
}

func TestRefresh_RowExpiredBeforeToken(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	p := f.login(t)

	f.store.mu.Lock()
	row := f.store.rows[p.SessionID]
	row.ExpiresAt = f.clock.Now().Add(-time.Second)
	f.store.rows[p.SessionID] = row
	f.store.mu.Unlock()

	_, err := f.mgr.Refresh(ctx, p.RefreshToken)
	mustKind(t, err, KindInvalidRefreshToken)
}

func TestRefresh_UnknownSessionRevokesOthers(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	f.login(t)
	f.login(t)

	forged, _, err := f.codec.IssueRefreshToken(token.RefreshPayload{
		UserID:    f.userID,
		Email:     testEmail,
		SessionID: uuid.NewString(),
	}, f.clock.Now())
	if err != nil {
		t.Fatalf("IssueRefreshToken: %v", err)
	}

	_, err = f.mgr.Refresh(ctx, forged)
	mustKind(t, err, KindSecurityTokenReused)
	if active := f.activeSessions(); len(active) != 0 {
		t.Fatalf("expected all sessions revoked, got %d active", len(active))
	}
}

func TestRefresh_DigestMismatch(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	p := f.login(t)

	other, err := f.hasher.Hash("some other refresh token")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	f.store.mu.Lock()
	row := f.store.rows[p.SessionID]
	row.TokenHash = other
	f.store.rows[p.SessionID] = row
	f.store.mu.Unlock()

	_, err = f.mgr.Refresh(ctx, p.RefreshToken)
	mustKind(t, err, KindSecurityTokenReused)
	if len(f.activeSessions()) != 0 {
		t.Fatalf("expected containment after digest mismatch")
	}
}

func TestRefresh_LookupFailureIsPersistError(t *testing.T) {
	t.Parallel()

	boom := errors.New("connection reset")
	var fs *failingStore
	f := newFixture(t, withStore(func(m *MemoryStore) Store {
		fs = &failingStore{MemoryStore: m}
		return fs
	}))
	p := f.login(t)

	fs.findErr = boom
	_, err := f.mgr.Refresh(context.Background(), p.RefreshToken)
	mustKind(t, err, KindSessionPersist)
	if !errors.Is(err, boom) {
		t.Fatalf("expected cause in chain, got %v", err)
	}
	if f.observer.reuse.Load() != 0 {
		t.Fatalf("store outage must not be treated as reuse")
	}
}

func TestRefresh_RevokeFailureKeepsOldSession(t *testing.T) {
	t.Parallel()

	boom := errors.New("serialization failure")
	var fs *failingStore
	f := newFixture(t, withStore(func(m *MemoryStore) Store {
		fs = &failingStore{MemoryStore: m}
		return fs
	}))
	p := f.login(t)

	fs.revokeErr = boom
	_, err := f.mgr.Refresh(context.Background(), p.RefreshToken)
	mustKind(t, err, KindSessionPersist)

	active := f.activeSessions()
	if len(active) != 1 || active[0].ID != p.SessionID {
		t.Fatalf("expected only the original session active, got %+v", active)
	}

	fs.revokeErr = nil
	if _, err := f.mgr.Refresh(context.Background(), p.RefreshToken); err != nil {
		t.Fatalf("retry Refresh: %v", err)
	}
}

func TestRefresh_ConcurrentReplayExactlyOneWins(t *testing.T) {
	t.Parallel()

	var bs *barrierStore
	f := newFixture(t, withStore(func(m *MemoryStore) Store {
		bs = newBarrierStore(m, 2)
		return bs
	}))
	p := f.login(t)

	type result struct {
		pair Pair
		err  error
	}
	results := make(chan result, 2)
	for range 2 {
		go func() {
			pair, err := f.mgr.Refresh(context.Background(), p.RefreshToken)
			results <- result{pair, err}
		}()
	}

	var wins []Pair
	var losses []error
	for range 2 {
		r := <-results
		if r.err == nil {
			wins = append(wins, r.pair)
		} else {
			losses = append(losses, r.err)
		}
	}

	if len(wins) != 1 || len(losses) != 1 {
		t.Fatalf("expected exactly one winner, got wins=%d losses=%v", len(wins), losses)
	}
	mustKind(t, losses[0], KindSecurityTokenReused)

	active := f.activeSessions()
	if len(active) != 1 || active[0].ID != wins[0].SessionID {
		t.Fatalf("expected only the winner's session active, got %+v", active)
	}

	if _, err := f.mgr.Refresh(context.Background(), wins[0].RefreshToken); err != nil {
		t.Fatalf("winner's token should still rotate: %v", err)
	}
}

func TestLogout_IdempotentAndSilent(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	p := f.login(t)

	f.mgr.Logout(ctx, p.RefreshToken)
	f.mgr.Logout(ctx, p.RefreshToken)
	f.mgr.Logout(ctx, "garbage")
	f.mgr.Logout(ctx, "")

	if _, err := f.store.FindByID(ctx, p.SessionID); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected row deleted, got %v", err)
	}

	// A logged-out token presented again looks like a stolen token.
	_, err := f.mgr.Refresh(ctx, p.RefreshToken)
	mustKind(t, err, KindSecurityTokenReused)
}

func TestLogout_SwallowsStoreErrors(t *testing.T) {
	t.Parallel()

	var fs *failingStore
	f := newFixture(t, withStore(func(m *MemoryStore) Store {
		fs = &failingStore{MemoryStore: m}
		return fs
	}))
	p := f.login(t)

	fs.deleteErr = errors.New("db down")
	f.mgr.Logout(context.Background(), p.RefreshToken)

	if len(f.activeSessions()) != 1 {
		t.Fatalf("row should survive a failed delete")
	}
}

func TestLogoutAll(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	f.login(t)
	p := f.login(t)

	n, err := f.mgr.LogoutAll(ctx, p.AccessToken)
	if err != nil {
		t.Fatalf("LogoutAll: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 revoked, got %d", n)
	}
	if len(f.activeSessions()) != 0 {
		t.Fatalf("expected no active sessions")
	}
	if f.notifier.count() != 1 || f.notifier.seen[0].Reason != ReasonLogoutAll {
		t.Fatalf("expected logout_all notification, got %+v", f.notifier.seen)
	}

	_, err = f.mgr.LogoutAll(ctx, "not-a-token")
	mustKind(t, err, KindInvalidAccessToken)
}

func TestErrorUnwrap(t *testing.T) {
	t.Parallel()

	cause := ErrSessionRevoked
	err := fail("session.Refresh", KindSessionPersist, cause)

	if !errors.Is(err, ErrSessionPersist) || !errors.Is(err, ErrSessionRevoked) {
		t.Fatalf("expected kind and cause in chain: %v", err)
	}
	if errors.Is(err, ErrSecurityTokenReused) {
		t.Fatalf("unexpected kind match")
	}
	if KindOf(errors.New("plain")) != KindUnknown {
		t.Fatalf("plain errors have no kind")
	}
	if got := err.Error(); got != "session.Refresh: session_persist: session revoked" {
		t.Fatalf("unexpected message %q", got)
	}
}

// failingStore injects errors into selected MemoryStore operations.
type failingStore struct {
	*MemoryStore
	createErr error
	findErr   error
	revokeErr error
	deleteErr error
}

func (s *failingStore) Create(ctx context.Context, in Session) (Session, error) {
	if s.createErr != nil {
		return Session{}, s.createErr
	}
	return s.MemoryStore.Create(ctx, in)
}

func (s *failingStore) FindByID(ctx context.Context, id string) (Session, error) {
	if s.findErr != nil {
		return Session{}, s.findErr
	}
	return s.MemoryStore.FindByID(ctx, id)
}

func (s *failingStore) Revoke(ctx context.Context, now time.Time, id string, replacedBy *string) (Session, error) {
	if s.revokeErr != nil {
		return Session{}, s.revokeErr
	}
	return s.MemoryStore.Revoke(ctx, now, id, replacedBy)
}

func (s *failingStore) Delete(ctx context.Context, id string) error {
	if s.deleteErr != nil {
		return s.deleteErr
	}
	return s.MemoryStore.Delete(ctx, id)
}

// barrierStore holds the first n FindByID callers until all n have read the
// row, forcing them to race on Revoke.
type barrierStore struct {
	*MemoryStore
	parties int32
	calls   atomic.Int32
	ready   chan struct{}
}

func newBarrierStore(m *MemoryStore, parties int32) *barrierStore {
	return &barrierStore{MemoryStore: m, parties: parties, ready: make(chan struct{})}
}

func (b *barrierStore) FindByID(ctx context.Context, id string) (Session, error) {
	s, err := b.MemoryStore.FindByID(ctx, id)
	if n := b.calls.Add(1); n <= b.parties {
		if n == b.parties {
			close(b.ready)
		}
		<-b.ready
	}
	return s, err
}
