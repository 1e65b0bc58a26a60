package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/randalmurphal/ruleflow/pkg/ruleflow"
	"github.com/randalmurphal/ruleflow/pkg/ruleflow/destination"
)

var schema = []string{`
	CREATE TABLE IF NOT EXISTS flows (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		data BLOB NOT NULL
	)`, `
	CREATE TABLE IF NOT EXISTS resources (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		enabled INTEGER NOT NULL,
		updated_at TEXT NOT NULL,
		data BLOB NOT NULL
	)`,
}

// SQLiteStore keeps the catalog in a SQLite database.
// It is suitable for single-process use.
type SQLiteStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
}

// NewSQLiteStore opens or creates the catalog at path. Use ":memory:" for a
// throwaway database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if path == ":memory:" {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("create tables: %w", err)
		}
	}
	return &SQLiteStore{db: db}, nil
}

// PutFlow implements Catalog.
func (s *SQLiteStore) PutFlow(ctx context.Context, flow *ruleflow.Flow) error {
	if flow == nil || flow.ID == "" {
		return ErrMissingID
	}
	data, err := json.Marshal(flow)
	if err != nil {
		return fmt.Errorf("encode flow %s: %w", flow.ID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO flows (id, name, updated_at, data)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			updated_at = excluded.updated_at,
			data = excluded.data
	`, flow.ID, flow.Name, now(), data)
	if err != nil {
		return fmt.Errorf("put flow %s: %w", flow.ID, err)
	}
	return nil
}

// LoadFlow implements ruleflow.FlowLoader.
func (s *SQLiteStore) LoadFlow(ctx context.Context, id string) (*ruleflow.Flow, error) {
	data, err := s.load(ctx, `SELECT data FROM flows WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("flow %q: %w", id, err)
	}
	return decode[ruleflow.Flow](data)
}

// PutResource implements Catalog.
func (s *SQLiteStore) PutResource(ctx context.Context, res *destination.Resource) error {
	if res == nil || res.ID == "" {
		return ErrMissingID
	}
	data, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("encode resource %s: %w", res.ID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO resources (id, name, enabled, updated_at, data)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at,
			data = excluded.data
	`, res.ID, res.Name, res.Enabled, now(), data)
	if err != nil {
		return fmt.Errorf("put resource %s: %w", res.ID, err)
	}
	return nil
}

// LoadResource implements destination.ResourceStore.
func (s *SQLiteStore) LoadResource(ctx context.Context, id string) (*destination.Resource, error) {
	data, err := s.load(ctx, `SELECT data FROM resources WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("resource %q: %w", id, err)
	}
	return decode[destination.Resource](data)
}

func (s *SQLiteStore) load(ctx context.Context, query, id string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}

	var data []byte
	err := s.db.QueryRowContext(ctx, query, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}

// Close implements Catalog. It is idempotent.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}
