// Package postgres persists session values to PostgreSQL through pgx's
// database/sql driver.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"

	"paramflow/internal/infra/persistence/memory"
	"paramflow/pkg/domain"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
)

var _ domain.ValueStore = (*Store)(nil)

const (
	defaultDriver = "pgx"
	defaultDSN    = "postgres://localhost/paramflow?sslmode=disable"
)

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

// Store serves reads from memory and upserts each saved session into a
// JSONB table.
type Store struct {
	*memory.Store
	db *sql.DB
	mu sync.Mutex
}

// NewStore connects using dsn (defaultDSN when empty), ensures the table
// exists and hydrates the in-memory view.
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		dsn = defaultDSN
	}
	openMu.Lock()
	db, err := sqlOpen(defaultDriver, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := ensureTable(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	snapshot, err := loadSnapshot(ctx, db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	mem := memory.NewStore()
	mem.ImportState(snapshot)
	return &Store{Store: mem, db: db}, nil
}

func ensureTable(ctx context.Context, db *sql.DB) error {
	ddl := `CREATE TABLE IF NOT EXISTS session_values (
		session_id TEXT PRIMARY KEY,
		payload JSONB NOT NULL
	)`
	if _, err := db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("ensure session_values table: %w", err)
	}
	return nil
}

func loadSnapshot(ctx context.Context, db *sql.DB) (memory.Snapshot, error) {
	rows, err := db.QueryContext(ctx, `SELECT session_id, payload FROM session_values`)
	if err != nil {
		return nil, fmt.Errorf("select session_values: %w", err)
	}
	defer func() { _ = rows.Close() }()

	snapshot := memory.Snapshot{}
	for rows.Next() {
		var id string
		var payload []byte
		if err := rows.Scan(&id, &payload); err != nil {
			return nil, fmt.Errorf("scan session_values: %w", err)
		}
		if len(payload) == 0 {
			continue
		}
		var values domain.Values
		if err := json.Unmarshal(payload, &values); err != nil {
			return nil, fmt.Errorf("decode session %s: %w", id, err)
		}
		snapshot[id] = values
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate session_values: %w", err)
	}
	return snapshot, nil
}

// Save upserts values for sessionID inside a transaction, then updates memory.
func (s *Store) Save(ctx context.Context, sessionID string, values domain.Values) error {
	data, err := json.Marshal(values)
	if err != nil {
		return fmt.Errorf("encode session %s: %w", sessionID, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO session_values(session_id,payload) VALUES($1,$2) ON CONFLICT(session_id) DO UPDATE SET payload=EXCLUDED.payload`,
		sessionID, data); err != nil {
		return fmt.Errorf("upsert %s: %w", sessionID, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	committed = true
	return s.Store.Save(ctx, sessionID, values)
}

// Delete removes sessionID.
func (s *Store) Delete(ctx context.Context, sessionID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.ExecContext(ctx, `DELETE FROM session_values WHERE session_id = $1`, sessionID); err != nil {
		return false, fmt.Errorf("delete %s: %w", sessionID, err)
	}
	return s.Store.Delete(ctx, sessionID)
}

// Close releases the connection pool.
func (s *Store) Close() error { return s.db.Close() }

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// OverrideSQLOpen swaps the sqlOpen function for tests and returns a restore function.
func OverrideSQLOpen(fn func(driverName, dataSourceName string) (*sql.DB, error)) func() {
	openMu.Lock()
	defer openMu.Unlock()
	prev := sqlOpen
	sqlOpen = fn
	return func() {
		openMu.Lock()
		defer openMu.Unlock()
		sqlOpen = prev
	}
}
