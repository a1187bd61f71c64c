// Package migrate applies the embedded schema with golang-migrate.
package migrate

import (
	"errors"
	"fmt"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"stockroom/cmd/internal/db"
)

// ErrNoChange is migrate.ErrNoChange; Run never returns it.
var ErrNoChange = migrate.ErrNoChange

// ErrNoDSN is returned when no database URL was configured.
var ErrNoDSN = errors.New("STOCKROOM_DATABASE_URL is not set")

// Run applies migrations in the given direction ("up" or "down").
// Being already at the target version is success.
func Run(dsn, direction string) error {
	if strings.TrimSpace(dsn) == "" {
		return ErrNoDSN
	}
	if direction != "up" && direction != "down" {
		return fmt.Errorf("direction must be up or down, got %q", direction)
	}

	src, err := iofs.New(db.MigrationFS, "migrations")
	if err != nil {
		return fmt.Errorf("migrate source: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", src, dsn)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	defer func() { _, _ = m.Close() }()

	switch direction {
	case "up":
		err = m.Up()
	case "down":
		err = m.Down()
	}
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}
