// Package sqlite persists session values to an embedded SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"paramflow/internal/infra/persistence/memory"
	"paramflow/pkg/domain"

	_ "modernc.org/sqlite" // pure go sqlite driver
)

var _ domain.ValueStore = (*Store)(nil)

// Store serves reads from memory and writes each saved session through to a
// single SQLite table as a JSON payload.
type Store struct {
	*memory.Store
	db   *sql.DB
	mu   sync.Mutex
	path string
}

// NewStore opens (or creates) the database at path and hydrates the
// in-memory view from it.
func NewStore(ctx context.Context, path string) (*Store, error) {
	if path == "" {
		path = "paramflow.db"
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS session_values (
		session_id TEXT PRIMARY KEY,
		payload BLOB NOT NULL
	)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create session_values table: %w", err)
	}
	s := &Store{Store: memory.NewStore(), db: db, path: path}
	if err := s.load(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) load(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx, `SELECT session_id, payload FROM session_values`)
	if err != nil {
		return fmt.Errorf("select session_values: %w", err)
	}
	defer func() { _ = rows.Close() }()
	snapshot := memory.Snapshot{}
	for rows.Next() {
		var id string
		var payload []byte
		if err := rows.Scan(&id, &payload); err != nil {
			return fmt.Errorf("scan: %w", err)
		}
		var values domain.Values
		if err := json.Unmarshal(payload, &values); err != nil {
			return fmt.Errorf("decode session %s: %w", id, err)
		}
		snapshot[id] = values
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate session_values: %w", err)
	}
	s.ImportState(snapshot)
	return nil
}

// Save writes values for sessionID to the database, then to memory.
func (s *Store) Save(ctx context.Context, sessionID string, values domain.Values) error {
	data, err := json.Marshal(values)
	if err != nil {
		return fmt.Errorf("encode session %s: %w", sessionID, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO session_values(session_id,payload) VALUES(?,?) ON CONFLICT(session_id) DO UPDATE SET payload=excluded.payload`,
		sessionID, data); err != nil {
		return fmt.Errorf("upsert %s: %w", sessionID, err)
	}
	return s.Store.Save(ctx, sessionID, values)
}

// Delete removes sessionID from the database and memory.
func (s *Store) Delete(ctx context.Context, sessionID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.ExecContext(ctx, `DELETE FROM session_values WHERE session_id = ?`, sessionID); err != nil {
		return false, fmt.Errorf("delete %s: %w", sessionID, err)
	}
	return s.Store.Delete(ctx, sessionID)
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// Path returns the configured database path.
func (s *Store) Path() string { return s.path }
