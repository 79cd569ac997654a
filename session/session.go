// Package session persists the opaque authentication credential so the
// bridge can resume a network session without re-authenticating.
package session

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Store keeps a single credential blob in SQLite.
type Store struct {
	db *sql.DB
}

// New opens (and initializes) the session database under storeDir.
func New(ctx context.Context, storeDir string) (*Store, error) {
	if err := os.MkdirAll(storeDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", fmt.Sprintf("file:%s/session.db?_foreign_keys=on", storeDir))
	if err != nil {
		return nil, fmt.Errorf("failed to open session database: %w", err)
	}

	s := &Store{db: conn}
	if err := s.initDB(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize session database: %w", err)
	}

	return s, nil
}

func (s *Store) initDB(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `PRAGMA journal_mode = WAL;`)
	if err != nil {
		return fmt.Errorf("failed to set journal mode: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS sessions (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			credential BLOB,
			updated_at TIMESTAMP
		);
	`)
	if err != nil {
		return fmt.Errorf("failed to create sessions table: %w", err)
	}

	return nil
}

// Load returns the stored credential blob, or nil when none was saved yet.
func (s *Store) Load(ctx context.Context) ([]byte, error) {
	var blob []byte
	err := s.db.QueryRowContext(ctx, "SELECT credential FROM sessions WHERE id = 1").Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load credential: %w", err)
	}
	return blob, nil
}

// Save overwrites the stored credential blob.
func (s *Store) Save(ctx context.Context, blob []byte) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO sessions (id, credential, updated_at) VALUES (1, ?, ?)",
		blob, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to save credential: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
