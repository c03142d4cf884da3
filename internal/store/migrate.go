package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/lib/pq"

	"github.com/voyagen/livevault/migrations"
)

// EnsureTrigram makes pg_trgm available for the channel name index. Roles
// without CREATE privilege pass as long as the extension is already installed.
func EnsureTrigram(dsn string) error {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return fmt.Errorf("open: %w", err)
	}
	defer db.Close()

	createErr := createExtension(db, "pg_trgm")
	if createErr == nil {
		return nil
	}
	if !isInsufficientPrivilege(createErr) {
		return fmt.Errorf("create pg_trgm: %w", createErr)
	}

	var installed bool
	if err := db.QueryRow(`SELECT EXISTS(SELECT 1 FROM pg_extension WHERE extname = $1)`, "pg_trgm").Scan(&installed); err != nil {
		return fmt.Errorf("lookup pg_trgm: %w", err)
	}
	if !installed {
		return fmt.Errorf("pg_trgm missing and role may not create it (run CREATE EXTENSION pg_trgm as owner): %w", createErr)
	}
	return nil
}

func createExtension(db *sql.DB, name string) error {
	_, err := db.Exec("CREATE EXTENSION IF NOT EXISTS " + pq.QuoteIdentifier(name))
	return err
}

// isInsufficientPrivilege matches SQLSTATE 42501.
func isInsufficientPrivilege(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "42501"
	}
	return strings.Contains(err.Error(), "permission denied")
}

// RunPostgresMigrations applies the embedded PostgreSQL migrations against dsn.
func RunPostgresMigrations(dsn string) error {
	src, err := iofs.New(migrations.Postgres, "postgres")
	if err != nil {
		return fmt.Errorf("iofs.New: %w", err)
	}
	return runMigrations(src, dsn)
}

// RunSQLiteMigrations applies the embedded SQLite migrations to the database file at path.
func RunSQLiteMigrations(path string) error {
	src, err := iofs.New(migrations.SQLite, "sqlite")
	if err != nil {
		return fmt.Errorf("iofs.New: %w", err)
	}
	return runMigrations(src, "sqlite3://"+path)
}

func runMigrations(src source.Driver, databaseURL string) error {
	m, err := migrate.NewWithSourceInstance("iofs", src, databaseURL)
	if err != nil {
		return fmt.Errorf("migrate.New: %w", err)
	}
	defer m.Close()
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate.Up: %w", err)
	}
	return nil
}
