package identity

import (
	"context"
	"strings"
	"time"
)

// User is stockroom's security principal.
type User struct {
	ID        string
	Email     string
	EmailNorm string

	// PasswordHash is an encoded digest (argon2id PHC or legacy bcrypt).
	PasswordHash string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// CreateUserInput describes a new principal. PasswordHash must already be encoded.
type CreateUserInput struct {
	Email        string
	PasswordHash string
	Now          time.Time
}

// Store is the principal persistence boundary.
type Store interface {
	CreateUser(ctx context.Context, in CreateUserInput) (User, error)
	GetUserByEmail(ctx context.Context, email string) (User, error)
	GetUserByID(ctx context.Context, id string) (User, error)

	// UpdatePasswordHash replaces the stored digest, e.g. after a rehash on login.
	UpdatePasswordHash(ctx context.Context, id, passwordHash string, now time.Time) error
}

func (in CreateUserInput) validate(op string) (email, norm string, err error) {
	email = strings.TrimSpace(in.Email)
	if !ValidEmail(email) {
		return "", "", invalid(op, "invalid email")
	}
	if strings.TrimSpace(in.PasswordHash) == "" {
		return "", "", invalid(op, "password hash is required")
	}
	return email, NormalizeEmail(email), nil
}
