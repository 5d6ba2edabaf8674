// Package migration applies embedded golang-migrate SQL migrations to
// a SQLite database, adapted from the teacher pack's migration idiom
// (BaSui01-agentflow's internal/migration) but narrowed to the single
// SQLite path the kernel's durable stores use. It supplies its own
// database.Driver (sqlite_driver.go) rather than golang-migrate's
// bundled database/sqlite3 driver — see that file's doc comment.
package migration

import (
	"database/sql"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

// Apply runs every pending up migration in migrationsFS (rooted at
// subdir) against db, identified by name for golang-migrate's internal
// bookkeeping (schema_migrations table is shared per *sql.DB, so name
// only matters for log/error messages here).
func Apply(db *sql.DB, migrationsFS fs.FS, subdir, name string) error {
	src, err := iofs.New(migrationsFS, subdir)
	if err != nil {
		return fmt.Errorf("migration %s: open embedded source: %w", name, err)
	}

	driver, err := newSQLiteDriver(db)
	if err != nil {
		return fmt.Errorf("migration %s: init sqlite driver: %w", name, err)
	}

	m, err := migrate.NewWithInstance("iofs", src, name, driver)
	if err != nil {
		return fmt.Errorf("migration %s: init migrator: %w", name, err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration %s: apply: %w", name, err)
	}
	return nil
}
