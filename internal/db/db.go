// Package db stores simulation and bridge sessions in SQLite: one row per
// session, the core events it produced and any request/response
// exchanges. The schema is managed by embedded golang-migrate migrations.
package db

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/banshee-data/marcopolo/internal/monitoring"
	"github.com/banshee-data/marcopolo/internal/timeutil"
)

var logf = monitoring.Component("db")

type DB struct {
	*sql.DB
	path  string
	clock timeutil.Clock
}

// NewDB opens (or creates) the database at path and migrates it to the
// latest schema. Use ":memory:" for a throwaway store.
func NewDB(path string) (*DB, error) {
	return NewDBWithClock(path, timeutil.RealClock{})
}

// NewDBWithClock is NewDB with the clock used for session timestamps.
func NewDBWithClock(path string, clock timeutil.Clock) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	// one connection keeps ":memory:" databases shared between queries
	sqlDB.SetMaxOpenConns(1)

	if err := applyPragmas(sqlDB); err != nil {
		sqlDB.Close()
		return nil, err
	}

	db := &DB{DB: sqlDB, path: path, clock: clock}
	if err := db.MigrateUp(); err != nil {
		sqlDB.Close()
		return nil, err
	}
	return db, nil
}

func applyPragmas(sqlDB *sql.DB) error {
	for _, pragma := range []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := sqlDB.Exec(pragma); err != nil {
			return fmt.Errorf("%s: %w", pragma, err)
		}
	}
	return nil
}

// Path is the location the database was opened from.
func (db *DB) Path() string { return db.path }
