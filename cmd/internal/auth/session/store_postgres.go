package session

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements Store over stockroom.sessions.
// The pool is owned by the caller.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// PostgresOption configures the store.
type PostgresOption func(*PostgresStore) error

var pgIdentRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// WithSchema sets the schema holding the sessions table (default "stockroom").
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if !pgIdentRe.MatchString(schema) {
			return fmt.Errorf("session: invalid schema identifier %q", schema)
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore creates a Postgres-backed session store.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{pool: pool, schema: "stockroom"}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, fmt.Errorf("session: nil pool")
	}
	return st, nil
}

const sessionColumns = `id, user_id, token_hash, revoked, replaced_by, created_at, expires_at, revoked_at`

func (s *PostgresStore) table() string {
	return pgx.Identifier{s.schema, "sessions"}.Sanitize()
}

// Create inserts the row and returns it in a single round trip.
func (s *PostgresStore) Create(ctx context.Context, in Session) (Session, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO `+s.table()+` (id, user_id, token_hash, revoked, replaced_by, created_at, expires_at, revoked_at)
		VALUES ($1, $2, $3, false, NULL, $4, $5, NULL)
		RETURNING `+sessionColumns,
		in.ID, in.UserID, in.TokenHash, in.CreatedAt, in.ExpiresAt,
	)
	out, err := scanSession(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" { // unique_violation
			return Session{}, ErrSessionExists
		}
		return Session{}, err
	}
	return out, nil
}

// FindByID loads a session row by id.
func (s *PostgresStore) FindByID(ctx context.Context, id string) (Session, error) {
	if !validID(id) {
		return Session{}, ErrSessionNotFound
	}
	row := s.pool.QueryRow(ctx, `SELECT `+sessionColumns+` FROM `+s.table()+` WHERE id = $1`, id)
	out, err := scanSession(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Session{}, ErrSessionNotFound
	}
	return out, err
}

// Revoke locks the row, checks it is still active and revokes it in one transaction.
func (s *PostgresStore) Revoke(ctx context.Context, now time.Time, id string, replacedBy *string) (Session, error) {
	if !validID(id) {
		return Session{}, ErrSessionNotFound
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Session{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var revoked bool
	err = tx.QueryRow(ctx, `SELECT revoked FROM `+s.table()+` WHERE id = $1 FOR UPDATE`, id).Scan(&revoked)
	if errors.Is(err, pgx.ErrNoRows) {
		return Session{}, ErrSessionNotFound
	}
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, ErrSessionRevoked
	}

	out, err := scanSession(tx.QueryRow(ctx, `
		UPDATE `+s.table()+`
		SET revoked = true, revoked_at = $2, replaced_by = $3
		WHERE id = $1
		RETURNING `+sessionColumns,
		id, now, replacedBy,
	))
	if err != nil {
		return Session{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Session{}, err
	}
	return out, nil
}

// RevokeAllForUser revokes every active session of the user except keep.
func (s *PostgresStore) RevokeAllForUser(ctx context.Context, now time.Time, userID string, keep ...string) (int64, error) {
	if keep == nil {
		keep = []string{}
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE `+s.table()+`
		SET revoked = true, revoked_at = $2
		WHERE user_id = $1
		  AND NOT revoked
		  AND NOT (id::text = ANY($3::text[]))
	`, userID, now, keep)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// Delete removes a row; ErrSessionNotFound when nothing was deleted.
func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	if !validID(id) {
		return ErrSessionNotFound
	}
	tag, err := s.pool.Exec(ctx, `DELETE FROM `+s.table()+` WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// PruneExpired deletes rows whose expires_at is before the cutoff.
func (s *PostgresStore) PruneExpired(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM `+s.table()+` WHERE expires_at < $1`, before)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func scanSession(row pgx.Row) (Session, error) {
	var out Session
	err := row.Scan(
		&out.ID,
		&out.UserID,
		&out.TokenHash,
		&out.Revoked,
		&out.ReplacedBy,
		&out.CreatedAt,
		&out.ExpiresAt,
		&out.RevokedAt,
	)
	return out, err
}

// The id column is uuid; anything else cannot match a row.
func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}
