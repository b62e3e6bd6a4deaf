// Package sqlite is a SQLite-backed implementation of store.Store, grounded
// on the teacher's internal/storage/sqlite package: a database/sql handle
// wrapped with migration-on-open, transactional writes (default deferred
// transactions) with busy-retry, and wrapDBError-style error normalization.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// ErrNotFound indicates the requested row does not exist.
var ErrNotFound = errors.New("not found")

// Store is a SQLite-backed store.Store.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) a SQLite database at path and applies
// the schema migration. path may be ":memory:" for an ephemeral database.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", path, err)
	}
	// A single writer connection avoids SQLITE_BUSY storms across the
	// connection pool, mirroring the teacher's dedicated-connection-per-
	// transaction discipline in storage/sqlite/queries.go.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: migrate %s: %w", path, err)
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func wrapDBError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func isNotFound(err error) bool { return errors.Is(err, ErrNotFound) }
