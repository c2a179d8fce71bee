// Package store persists tenants and the per-community data the agent tools
// read and write: memories, chat messages, member profiles and usage records.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// Supported database/sql driver names.
const (
	DriverSQLite  = "sqlite"  // modernc.org/sqlite, pure Go
	DriverSQLite3 = "sqlite3" // github.com/mattn/go-sqlite3, cgo
)

// Store wraps the SQLite database shared by every community.
type Store struct {
	db     *sql.DB
	driver string
}

// Open opens (and creates if needed) the database at dbPath with the given driver.
func Open(driver, dbPath string) (*Store, error) {
	if driver == "" {
		driver = DriverSQLite
	}
	dsn, err := dataSourceName(driver, dbPath)
	if err != nil {
		return nil, err
	}
	if dir := filepath.Dir(dbPath); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open store db: %w", err)
	}
	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	// Best-effort migration: is_bot column on older databases.
	_, _ = db.Exec(`ALTER TABLE chat_messages ADD COLUMN is_bot BOOLEAN NOT NULL DEFAULT 0`)
	return &Store{db: db, driver: driver}, nil
}

func dataSourceName(driver, dbPath string) (string, error) {
	switch driver {
	case DriverSQLite:
		return "file:" + dbPath + "?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", nil
	case DriverSQLite3:
		return "file:" + dbPath + "?_foreign_keys=1&_journal_mode=WAL&_busy_timeout=5000", nil
	default:
		return "", fmt.Errorf("unsupported store driver %q", driver)
	}
}

// DB exposes the underlying handle.
func (s *Store) DB() *sql.DB { return s.db }

// Driver returns the database/sql driver name in use.
func (s *Store) Driver() string { return s.driver }

func (s *Store) Close() error {
	return s.db.Close()
}
