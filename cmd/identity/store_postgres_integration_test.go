package identity

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Integration tests are opt-in and require STOCKROOM_DATABASE_URL.
// In non-CI runs, unreachable Postgres skips these tests to keep local runs fast.

func TestPostgresStore_CreateUser_ConflictEmail_CaseInsensitive(t *testing.T) {
	t.Parallel()

	s := mustIsolatedStore(t)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if _, err := s.CreateUser(ctx, CreateUserInput{Email: "User@Example.com", PasswordHash: "$argon2id$a", Now: time.Now().UTC()}); err != nil {
		t.Fatalf("create user 1: %v", err)
	}

	_, err := s.CreateUser(ctx, CreateUserInput{Email: "user@example.COM", PasswordHash: "$argon2id$b", Now: time.Now().UTC()})
	if err == nil {
		t.Fatalf("expected conflict, got nil")
	}
	if !IsConflict(err) {
		t.Fatalf("expected conflict error, got: %v", err)
	}
}

func TestPostgresStore_LookupAndUpdate(t *testing.T) {
	t.Parallel()

	s := mustIsolatedStore(t)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	now := time.Now().UTC().Truncate(time.Microsecond)
	u, err := s.CreateUser(ctx, CreateUserInput{Email: "picker@example.com", PasswordHash: "$2a$legacy", Now: now})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}

	got, err := s.GetUserByEmail(ctx, " PICKER@example.com")
	if err != nil {
		t.Fatalf("get by email: %v", err)
	}
	if got.ID != u.ID || got.PasswordHash != "$2a$legacy" {
		t.Fatalf("unexpected user: %+v", got)
	}

	later := now.Add(time.Minute)
	if err := s.UpdatePasswordHash(ctx, u.ID, "$argon2id$fresh", later); err != nil {
		t.Fatalf("update hash: %v", err)
	}
	got, err = s.GetUserByID(ctx, u.ID)
	if err != nil {
		t.Fatalf("get by id: %v", err)
	}
	if got.PasswordHash != "$argon2id$fresh" || !got.UpdatedAt.Equal(later) {
		t.Fatalf("update not persisted: %+v", got)
	}

	if _, err := s.GetUserByEmail(ctx, "nobody@example.com"); !IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := s.UpdatePasswordHash(ctx, "01HZX0000000000000000000AA", "h", later); !IsNotFound(err) {
		t.Fatalf("expected not found on update, got %v", err)
	}
}

func mustIsolatedStore(t *testing.T) *PostgresStore {
	t.Helper()

	pool := mustOpenTestPool(t)
	t.Cleanup(pool.Close)

	schema := mustCreateTestSchema(t, pool)
	t.Cleanup(func() { mustDropSchema(t, pool, schema) })
	mustApplyUsersSchema(t, pool, schema)

	s, err := NewPostgresStore(pool, WithSchema(schema))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return s
}

func mustOpenTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	raw := strings.TrimSpace(os.Getenv("STOCKROOM_DATABASE_URL"))
	if raw == "" {
		t.Skip("integration test skipped: STOCKROOM_DATABASE_URL is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 12*time.Second)
	defer cancel()

	cfg, err := pgxpool.ParseConfig(raw)
	if err != nil {
		t.Fatalf("parse STOCKROOM_DATABASE_URL: %v", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		t.Fatalf("connect postgres: %v", err)
	}

	pingCtx, pingCancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer pingCancel()

	c, err := pool.Acquire(pingCtx)
	if err != nil {
		pool.Close()
		if shouldSkipIntegration(err) {
			t.Skipf("integration test skipped: Postgres unreachable: %v", err)
		}
		t.Fatalf("acquire: %v", err)
	}
	c.Release()

	return pool
}

func mustCreateTestSchema(t *testing.T, pool *pgxpool.Pool) string {
	t.Helper()

	id, err := NewUserID(time.Now().UTC())
	if err != nil {
		t.Fatalf("ulid: %v", err)
	}
	schema := "stockroom_it_" + strings.ToLower(id)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if _, err := pool.Exec(ctx, `CREATE SCHEMA `+pgx.Identifier{schema}.Sanitize()); err != nil {
		t.Fatalf("create schema: %v", err)
	}
	return schema
}

func mustDropSchema(t *testing.T, pool *pgxpool.Pool, schema string) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, _ = pool.Exec(ctx, `DROP SCHEMA IF EXISTS `+pgx.Identifier{schema}.Sanitize()+` CASCADE`)
}

func mustApplyUsersSchema(t *testing.T, pool *pgxpool.Pool, schema string) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	schemaSQL := fmt.Sprintf(`
CREATE TABLE %s (
  id TEXT PRIMARY KEY,
  email TEXT NOT NULL,
  email_norm TEXT NOT NULL,
  password_hash TEXT NOT NULL,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  CONSTRAINT chk_users_id_ulid_len CHECK (char_length(id) = 26),
  CONSTRAINT uq_users_email_norm UNIQUE (email_norm)
);`, pgIdent(schema, "users"))

	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		t.Fatalf("apply schema: %v", err)
	}
}

func shouldSkipIntegration(err error) bool {
	if err == nil {
		return false
	}
	if os.Getenv("CI") != "" {
		return false
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "context deadline exceeded") ||
		strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "dial tcp") ||
		strings.Contains(msg, "no such host")
}
