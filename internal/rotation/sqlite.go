package rotation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	// Register pure-Go SQLite driver.
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS rotation_state (
	client_key TEXT NOT NULL,
	gateway_model TEXT NOT NULL,
	next_index INTEGER NOT NULL,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (client_key, gateway_model)
);`

// SQLiteStore persists rotation state in a SQLite database so rotation order
// survives process restarts. Every Advance runs as one transaction; a
// process-level mutex additionally serializes writers since the driver
// returns SQLITE_BUSY rather than queueing under write contention.
type SQLiteStore struct {
	db *sql.DB
	mu sync.Mutex
}

// NewSQLiteStore opens (creating if needed) the database at dsn.
// dsn can be a plain file path or a SQLite DSN.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	if dsn == "" {
		dsn = "llmgate-rotation.db"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("rotation: open sqlite store: %w", err)
	}

	// One writer connection avoids SQLITE_BUSY races inside the pool.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("rotation: ping sqlite store: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("rotation: initialize schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Index implements Store.
func (s *SQLiteStore) Index(ctx context.Context, clientKey, gatewayModel string, targetCount int) (int, error) {
	if targetCount <= 0 {
		return 0, ErrInvalidTargetCount
	}

	var idx int
	err := s.db.QueryRowContext(ctx,
		`SELECT next_index FROM rotation_state WHERE client_key = ? AND gateway_model = ?`,
		clientKey, gatewayModel,
	).Scan(&idx)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("rotation: read index: %w", err)
	}

	return clampIndex(idx, targetCount), nil
}

// Advance implements Store.
func (s *SQLiteStore) Advance(ctx context.Context, clientKey, gatewayModel string, targetCount int) (int, error) {
	if targetCount <= 0 {
		return 0, ErrInvalidTargetCount
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("rotation: begin advance: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var stored int
	err = tx.QueryRowContext(ctx,
		`SELECT next_index FROM rotation_state WHERE client_key = ? AND gateway_model = ?`,
		clientKey, gatewayModel,
	).Scan(&stored)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("rotation: read for advance: %w", err)
	}

	used := clampIndex(stored, targetCount)
	next := (used + 1) % targetCount

	_, err = tx.ExecContext(ctx, `
INSERT INTO rotation_state (client_key, gateway_model, next_index)
VALUES (?, ?, ?)
ON CONFLICT (client_key, gateway_model)
DO UPDATE SET next_index = excluded.next_index, updated_at = CURRENT_TIMESTAMP`,
		clientKey, gatewayModel, next,
	)
	if err != nil {
		return 0, fmt.Errorf("rotation: write advance: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("rotation: commit advance: %w", err)
	}

	return used, nil
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
