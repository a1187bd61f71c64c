package session

import (
	"context"
	"time"

	"stockroom/cmd/identity"
	"stockroom/cmd/security/token"
)

// TokenCodec signs and verifies both token kinds. *token.Codec implements it.
type TokenCodec interface {
	IssueAccessToken(p token.AccessPayload, now time.Time) (string, time.Time, error)
	IssueRefreshToken(p token.RefreshPayload, now time.Time) (string, time.Time, error)
	VerifyAccessToken(raw string, now time.Time) (token.AccessPayload, error)
	VerifyRefreshToken(raw string, now time.Time) (token.RefreshPayload, error)
}

// SecretHasher digests raw refresh tokens for storage. *secret.Hasher implements it.
type SecretHasher interface {
	Hash(raw string) (string, error)
	Compare(raw, digest string) (bool, error)
}

// UserLookup resolves a login email. identity.Store implements it.
type UserLookup interface {
	GetUserByEmail(ctx context.Context, email string) (identity.User, error)
}

// PasswordVerifier checks a password against a stored digest. password.Config implements it.
type PasswordVerifier interface {
	Verify(encodedHash, password string) (bool, error)
}

// When the verifier and the user store also implement these, Login upgrades
// stale password digests in place.
type (
	passwordRehasher interface {
		NeedsRehash(encodedHash string) bool
		Hash(password string) (string, error)
	}
	passwordWriter interface {
		UpdatePasswordHash(ctx context.Context, id, passwordHash string, now time.Time) error
	}
)

// RevokeReason says why every session of a user was revoked.
type RevokeReason string

const (
	ReasonTokenReused RevokeReason = "token_reused"
	ReasonLogoutAll   RevokeReason = "logout_all"
)

// Notifier is told when all sessions of a user are revoked so live
// connections can be closed. It must not block.
type Notifier interface {
	SessionsRevoked(userID string, reason RevokeReason, at time.Time)
}

// Observer receives lifecycle outcomes for metrics. Outcome is "success" or
// a Kind string.
type Observer interface {
	LoginResult(outcome string)
	RefreshResult(outcome string)
	LogoutResult()
	ReuseDetected()
	Pruned(n int64)
}

type nopObserver struct{}

func (nopObserver) LoginResult(string)   {}
func (nopObserver) RefreshResult(string) {}
func (nopObserver) LogoutResult()        {}
func (nopObserver) ReuseDetected()       {}
func (nopObserver) Pruned(int64)         {}
