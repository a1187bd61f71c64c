package identity

import (
	"context"
	"strings"
	"sync"
	"time"
)

// MemoryStore is a process-local Store for tests and database-less dev runs.
type MemoryStore struct {
	mu      sync.RWMutex
	byID    map[string]User
	byEmail map[string]string
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:    make(map[string]User),
		byEmail: make(map[string]string),
	}
}

func (s *MemoryStore) CreateUser(ctx context.Context, in CreateUserInput) (User, error) {
	const op = "identity.CreateUser"

	if err := ctx.Err(); err != nil {
		return User{}, err
	}
	email, norm, err := in.validate(op)
	if err != nil {
		return User{}, err
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	id, err := NewUserID(now)
	if err != nil {
		return User{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byEmail[norm]; ok {
		return User{}, ConflictError{Op: op, Field: "email"}
	}
	u := User{
		ID:           id,
		Email:        email,
		EmailNorm:    norm,
		PasswordHash: in.PasswordHash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	s.byID[id] = u
	s.byEmail[norm] = id
	return u, nil
}

func (s *MemoryStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	const op = "identity.GetUserByEmail"

	if err := ctx.Err(); err != nil {
		return User{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byEmail[NormalizeEmail(email)]
	if !ok {
		return User{}, notFound(op)
	}
	return s.byID[id], nil
}

func (s *MemoryStore) GetUserByID(ctx context.Context, id string) (User, error) {
	const op = "identity.GetUserByID"

	if err := ctx.Err(); err != nil {
		return User{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.byID[strings.TrimSpace(id)]
	if !ok {
		return User{}, notFound(op)
	}
	return u, nil
}

func (s *MemoryStore) UpdatePasswordHash(ctx context.Context, id, passwordHash string, now time.Time) error {
	const op = "identity.UpdatePasswordHash"

	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(passwordHash) == "" {
		return invalid(op, "password hash is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.byID[id]
	if !ok {
		return notFound(op)
	}
	u.PasswordHash = passwordHash
	u.UpdatedAt = now
	s.byID[id] = u
	return nil
}
