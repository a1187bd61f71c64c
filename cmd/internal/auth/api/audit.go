package authapi

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"stockroom/cmd/identity/ids"
)

// Audit actions written by the handler.
const (
	ActionLoginSuccess = "auth.login.success"
	ActionLoginFailed  = "auth.login.failed"
	ActionRefresh      = "auth.refresh.success"
	ActionRefreshReuse = "auth.refresh.reuse_detected"
	ActionLogout       = "auth.logout"
	ActionLogoutAll    = "auth.logout_all"
	ActionRateLimited  = "auth.rate_limited"
)

// AuditEvent is one row of the audit trail. Tokens and passwords never go here.
type AuditEvent struct {
	Action    string
	UserID    string
	SessionID string
	IP        net.IP
	UserAgent string
	Meta      map[string]any
	At        time.Time
}

// AuditWriter records security events. Implementations are best effort:
// a failed write is logged and the request continues.
type AuditWriter interface {
	WriteAudit(ctx context.Context, ev AuditEvent)
}

type nopAuditWriter struct{}

func (nopAuditWriter) WriteAudit(context.Context, AuditEvent) {}

// PostgresAuditWriter appends to <schema>.audit_log.
type PostgresAuditWriter struct {
	pool  *pgxpool.Pool
	log   *slog.Logger
	table string
}

// NewPostgresAuditWriter builds a writer for schema (default "stockroom").
func NewPostgresAuditWriter(pool *pgxpool.Pool, schema string, log *slog.Logger) (*PostgresAuditWriter, error) {
	if pool == nil {
		return nil, fmt.Errorf("authapi: nil db pool")
	}
	if log == nil {
		log = slog.Default()
	}
	schema = strings.TrimSpace(schema)
	if schema == "" {
		schema = "stockroom"
	}
	return &PostgresAuditWriter{
		pool:  pool,
		log:   log,
		table: pgx.Identifier{schema, "audit_log"}.Sanitize(),
	}, nil
}

func (a *PostgresAuditWriter) WriteAudit(ctx context.Context, ev AuditEvent) {
	action := strings.TrimSpace(ev.Action)
	if action == "" {
		return
	}
	at := ev.At
	if at.IsZero() {
		at = time.Now().UTC()
	}

	id, err := ids.NewULID(at)
	if err != nil {
		a.log.Error("auth.audit.insert.fail", "err", err, "action", action)
		return
	}

	var ipVal any
	if ev.IP != nil {
		ipVal = ev.IP.String()
	}

	meta := "{}"
	if len(ev.Meta) > 0 {
		if b, err := json.Marshal(ev.Meta); err == nil {
			meta = string(b)
		}
	}

	_, err = a.pool.Exec(ctx, `
		INSERT INTO `+a.table+` (
			id, action, user_id, session_id, ip, user_agent, meta, created_at
		) VALUES ($1, $2, $3, $4::uuid, $5::inet, $6, $7::jsonb, $8)
	`, id, action, nilIfEmpty(ev.UserID), nilIfEmpty(ev.SessionID), ipVal, nilIfEmpty(ev.UserAgent), meta, at)
	if err != nil {
		a.log.Error("auth.audit.insert.fail", "err", err, "action", action)
	}
}

func nilIfEmpty(s string) any {
	v := strings.TrimSpace(s)
	if v == "" {
		return nil
	}
	return v
}

func (h *Handler) audit(ctx context.Context, ev AuditEvent) {
	if ev.At.IsZero() {
		ev.At = h.now().UTC()
	}
	// Detached so a client hang-up does not drop the record.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	h.auditor.WriteAudit(ctx, ev)
}
