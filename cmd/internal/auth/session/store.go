package session

import (
	"context"
	"time"
)

// State is the lifecycle state reconstructed from a row.
// A deleted row has no state; lookups return ErrSessionNotFound.
type State uint8

const (
	StateActive State = iota
	StateRotatedOut
	StateRevoked
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateRotatedOut:
		return "rotated_out"
	default:
		return "revoked"
	}
}

// Session mirrors one row of stockroom.sessions: one issued refresh token.
type Session struct {
	ID     string
	UserID string

	// TokenHash is the slow digest of the raw refresh token. It never changes.
	TokenHash string

	Revoked    bool
	ReplacedBy *string

	CreatedAt time.Time
	ExpiresAt time.Time
	RevokedAt *time.Time
}

// State reports whether the row is active, rotated out or revoked.
func (s Session) State() State {
	switch {
	case !s.Revoked:
		return StateActive
	case s.ReplacedBy != nil:
		return StateRotatedOut
	default:
		return StateRevoked
	}
}

// ExpiredAt reports whether the row's absolute expiry has passed at now.
func (s Session) ExpiredAt(now time.Time) bool {
	return !s.ExpiresAt.After(now)
}

// Store is the session persistence boundary.
//
// Revoke is the compare-and-set that serializes rotation: for a given id at
// most one call may succeed; every later call sees ErrSessionRevoked.
type Store interface {
	// Create inserts a row and returns it as stored.
	Create(ctx context.Context, s Session) (Session, error)

	// FindByID returns ErrSessionNotFound when the row is absent.
	FindByID(ctx context.Context, id string) (Session, error)

	// Revoke marks an active row revoked at now, linking replacedBy when set.
	Revoke(ctx context.Context, now time.Time, id string, replacedBy *string) (Session, error)

	// RevokeAllForUser revokes every active row of userID except the ids in keep.
	RevokeAllForUser(ctx context.Context, now time.Time, userID string, keep ...string) (int64, error)

	// Delete physically removes a row.
	Delete(ctx context.Context, id string) error

	// PruneExpired deletes rows whose expires_at is before the cutoff.
	PruneExpired(ctx context.Context, before time.Time) (int64, error)
}
