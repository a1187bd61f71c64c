package identity

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements Store over PostgreSQL.
//
// The pgx pool is owned by the caller; this store must NOT close it.
// Schema/table identifiers are quoted through pgx.Identifier.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// PostgresOption configures the store.
type PostgresOption func(*PostgresStore) error

var pgIdentRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// WithSchema sets the Postgres schema used by the store (default "stockroom").
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return fmt.Errorf("identity: empty schema")
		}
		if !pgIdentRe.MatchString(schema) {
			return fmt.Errorf("identity: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{
		pool:   pool,
		schema: "stockroom",
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, fmt.Errorf("identity: nil pool")
	}
	return st, nil
}

const userColumns = `id, email, email_norm, password_hash, created_at, updated_at`

func (s *PostgresStore) CreateUser(ctx context.Context, in CreateUserInput) (User, error) {
	const op = "identity.CreateUser"

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

	row := s.pool.QueryRow(ctx,
		`INSERT INTO `+pgIdent(s.schema, "users")+` (id, email, email_norm, password_hash, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $5)
		 RETURNING `+userColumns,
		id, email, norm, in.PasswordHash, now,
	)
	u, err := scanUser(row)
	if err != nil {
		if pgIsUniqueViolation(err) {
			return User{}, ConflictError{Op: op, Field: "email"}
		}
		return User{}, err
	}
	return u, nil
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	const op = "identity.GetUserByEmail"

	norm := NormalizeEmail(email)
	if norm == "" {
		return User{}, notFound(op)
	}

	row := s.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM `+pgIdent(s.schema, "users")+` WHERE email_norm = $1`,
		norm,
	)
	u, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, notFound(op)
	}
	return u, err
}

func (s *PostgresStore) GetUserByID(ctx context.Context, id string) (User, error) {
	const op = "identity.GetUserByID"

	id = strings.TrimSpace(id)
	if id == "" {
		return User{}, notFound(op)
	}

	row := s.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM `+pgIdent(s.schema, "users")+` WHERE id = $1`,
		id,
	)
	u, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, notFound(op)
	}
	return u, err
}

func (s *PostgresStore) UpdatePasswordHash(ctx context.Context, id, passwordHash string, now time.Time) error {
	const op = "identity.UpdatePasswordHash"

	if strings.TrimSpace(passwordHash) == "" {
		return invalid(op, "password hash is required")
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE `+pgIdent(s.schema, "users")+` SET password_hash = $2, updated_at = $3 WHERE id = $1`,
		id, passwordHash, now,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return notFound(op)
	}
	return nil
}

func scanUser(row pgx.Row) (User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Email, &u.EmailNorm, &u.PasswordHash, &u.CreatedAt, &u.UpdatedAt)
	return u, err
}

// pgIdent safely quotes a schema-qualified identifier: "schema"."name".
func pgIdent(schema, name string) string {
	return pgx.Identifier{schema, name}.Sanitize()
}

func pgIsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "23505" // unique_violation
}
