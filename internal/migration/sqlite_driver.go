package migration

import (
	"database/sql"
	"fmt"
	"io"

	"github.com/golang-migrate/migrate/v4/database"
)

// sqliteDriver implements golang-migrate's database.Driver directly
// against a *sql.DB, instead of golang-migrate's bundled
// database/sqlite3 driver: that driver is written against
// mattn/go-sqlite3 (cgo) for its version-pragma handling, which is
// incompatible with modernc.org/sqlite, the pure-Go driver the rest of
// this module standardizes on. The migration SQL itself, the
// schema_migrations bookkeeping, and golang-migrate's Migrate/iofs
// orchestration are unchanged — only the thin per-database adapter is
// reimplemented.
type sqliteDriver struct {
	db *sql.DB
}

func newSQLiteDriver(db *sql.DB) (database.Driver, error) {
	d := &sqliteDriver{db: db}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (version INTEGER NOT NULL PRIMARY KEY, dirty BOOL NOT NULL)`); err != nil {
		return nil, fmt.Errorf("create schema_migrations: %w", err)
	}
	return d, nil
}

func (d *sqliteDriver) Open(url string) (database.Driver, error) {
	return nil, fmt.Errorf("sqliteDriver: Open(url) is not supported, construct via newSQLiteDriver")
}

func (d *sqliteDriver) Close() error { return nil }

// Lock/Unlock are no-ops: the caller already serializes writers via
// SetMaxOpenConns(1), so a second migration can never run concurrently
// against the same *sql.DB.
func (d *sqliteDriver) Lock() error   { return nil }
func (d *sqliteDriver) Unlock() error { return nil }

func (d *sqliteDriver) Run(migration io.Reader) error {
	body, err := io.ReadAll(migration)
	if err != nil {
		return fmt.Errorf("read migration: %w", err)
	}
	if _, err := d.db.Exec(string(body)); err != nil {
		return fmt.Errorf("exec migration: %w", err)
	}
	return nil
}

func (d *sqliteDriver) SetVersion(version int, dirty bool) error {
	tx, err := d.db.Begin()
	if err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM schema_migrations`); err != nil {
		tx.Rollback()
		return err
	}
	if version >= 0 {
		if _, err := tx.Exec(`INSERT INTO schema_migrations (version, dirty) VALUES (?, ?)`, version, dirty); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

func (d *sqliteDriver) Version() (version int, dirty bool, err error) {
	row := d.db.QueryRow(`SELECT version, dirty FROM schema_migrations LIMIT 1`)
	err = row.Scan(&version, &dirty)
	if err == sql.ErrNoRows {
		return database.NilVersion, false, nil
	}
	return version, dirty, err
}

func (d *sqliteDriver) Drop() error {
	_, err := d.db.Exec(`DROP TABLE IF EXISTS schema_migrations`)
	return err
}

var _ database.Driver = (*sqliteDriver)(nil)
