package session

import (
	"context"
	"slices"
	"sync"
	"time"
)

// MemoryStore is a mutex-guarded Store for tests and database-less dev runs.
// Rows are copied in and out so callers never share pointers with the map.
type MemoryStore struct {
	mu   sync.Mutex
	rows map[string]Session
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rows: make(map[string]Session)}
}

func (m *MemoryStore) Create(ctx context.Context, s Session) (Session, error) {
	if err := ctx.Err(); err != nil {
		return Session{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.rows[s.ID]; ok {
		return Session{}, ErrSessionExists
	}
	s.Revoked = false
	s.ReplacedBy = nil
	s.RevokedAt = nil
	m.rows[s.ID] = s
	return s, nil
}

func (m *MemoryStore) FindByID(ctx context.Context, id string) (Session, error) {
	if err := ctx.Err(); err != nil {
		return Session{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.rows[id]
	if !ok {
		return Session{}, ErrSessionNotFound
	}
	return clone(s), nil
}

func (m *MemoryStore) Revoke(ctx context.Context, now time.Time, id string, replacedBy *string) (Session, error) {
	if err := ctx.Err(); err != nil {
		return Session{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.rows[id]
	if !ok {
		return Session{}, ErrSessionNotFound
	}
	if s.Revoked {
		return Session{}, ErrSessionRevoked
	}
	s.Revoked = true
	s.RevokedAt = &now
	if replacedBy != nil {
		r := *replacedBy
		s.ReplacedBy = &r
	}
	m.rows[id] = s
	return clone(s), nil
}

func (m *MemoryStore) RevokeAllForUser(ctx context.Context, now time.Time, userID string, keep ...string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for id, s := range m.rows {
		if s.UserID != userID || s.Revoked || slices.Contains(keep, id) {
			continue
		}
		at := now
		s.Revoked = true
		s.RevokedAt = &at
		m.rows[id] = s
		n++
	}
	return n, nil
}

func (m *MemoryStore) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.rows[id]; !ok {
		return ErrSessionNotFound
	}
	delete(m.rows, id)
	return nil
}

func (m *MemoryStore) PruneExpired(ctx context.Context, before time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for id, s := range m.rows {
		if s.ExpiresAt.Before(before) {
			delete(m.rows, id)
			n++
		}
	}
	return n, nil
}

// ListForUser returns a snapshot of every row owned by userID.
func (m *MemoryStore) ListForUser(userID string) []Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Session
	for _, s := range m.rows {
		if s.UserID == userID {
			out = append(out, clone(s))
		}
	}
	return out
}

func clone(s Session) Session {
	if s.ReplacedBy != nil {
		r := *s.ReplacedBy
		s.ReplacedBy = &r
	}
	if s.RevokedAt != nil {
		t := *s.RevokedAt
		s.RevokedAt = &t
	}
	return s
}
