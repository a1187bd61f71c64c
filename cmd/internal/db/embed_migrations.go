// Package db holds the embedded schema migrations.
package db

import "embed"

// MigrationFS embeds SQL migration files from cmd/internal/db/migrations.
// Used by cmd/migrate, by auto-migrate at startup and by integration tests.
//
//go:embed migrations/*.sql
var MigrationFS embed.FS
