// Package sqlite implements the storage interfaces over a single SQLite
// database using the pure-Go modernc.org/sqlite driver.
package sqlite

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/cmdcenter/memorylane/internal/storage"
)

// Store owns the SQLite connection and hands out the memory and entity
// store views over it.
type Store struct {
	db       *sql.DB
	memories *MemoryStore
	entities *EntityStore
}

// NewStore opens a SQLite database at the given DSN, configures WAL mode,
// and creates the schema. Use ":memory:" for tests.
func NewStore(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports one concurrent writer. A single open connection
	// serialises writes and avoids SQLITE_BUSY errors under concurrent load.
	// WAL mode lets concurrent readers proceed without blocking the writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// Wait instead of failing with an immediate SQLITE_BUSY when the
	// connection is held by another goroutine.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	s := &Store{db: db}
	s.memories = &MemoryStore{db: db}
	s.entities = &EntityStore{db: db}
	return s, nil
}

// Memories returns the memory store view.
func (s *Store) Memories() *MemoryStore { return s.memories }

// Entities returns the entity store view.
func (s *Store) Entities() *EntityStore { return s.entities }

// Close releases the underlying database connection. The memory and entity
// views share it; closing the Store closes both.
func (s *Store) Close() error {
	return s.db.Close()
}

// Compile-time assertions that the views satisfy the storage interfaces.
var (
	_ storage.MemoryStore = (*MemoryStore)(nil)
	_ storage.EntityStore = (*EntityStore)(nil)
)
