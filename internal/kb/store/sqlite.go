package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/Bestie123/PromAi/internal/kb/schema"
)

// SQLiteStore keeps the snapshot in an embedded SQLite database.
//
// Other processes may open the same database. Lock takes <path>.lock for
// sequences that load, change and save the document.
type SQLiteStore struct {
	conn   *sql.DB
	path   string
	edit   *editLock
	logger *log.Logger
}

// OpenSQLite opens (creating if needed) the database at path and initialises
// its schema.
//
// The caller MUST call Close() when done.
//
// Example:
//
//	st, err := store.OpenSQLite(".kb/kb.db", nil)
//	if err != nil {
//	    return err
//	}
//	defer st.Close()
func OpenSQLite(path string, logger *log.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = defaultLogger()
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", fmt.Sprintf("file:%s", path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// A single writer keeps saves strictly ordered.
	conn.SetMaxOpenConns(1)

	s := &SQLiteStore{conn: conn, path: path, edit: newEditLock(path + ".lock"), logger: logger}

	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}
	if err := s.initSchema(context.Background()); err != nil {
		_ = s.Close()
		return nil, err
	}

	return s, nil
}

func (s *SQLiteStore) initSchema(ctx context.Context) error {
	ddl := `
	CREATE TABLE IF NOT EXISTS kv (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS sync_state (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		last_tag TEXT NOT NULL DEFAULT '',
		last_sync TEXT,
		last_write TEXT
	);
	`
	if _, err := s.conn.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string {
	return s.path
}

// Lock implements Locker.
func (s *SQLiteStore) Lock(ctx context.Context) (func(), error) {
	return s.edit.lock(ctx)
}

// Close checkpoints the WAL and closes the connection.
func (s *SQLiteStore) Close() error {
	if s.conn == nil {
		return nil
	}
	_ = s.edit.close()
	if _, err := s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		s.logger.Printf("Warning: failed to checkpoint WAL: %v", err)
	}
	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	s.conn = nil
	return nil
}

func (s *SQLiteStore) put(ctx context.Context, key string, value []byte) error {
	query := `
	INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
	ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`
	now := time.Now().UTC().Format(time.RFC3339Nano)
	if _, err := s.conn.ExecContext(ctx, query, key, string(value), now); err != nil {
		return fmt.Errorf("failed to save %s: %w", key, err)
	}
	return nil
}

// get returns nil, nil for a missing key.
func (s *SQLiteStore) get(ctx context.Context, key string) ([]byte, error) {
	var value string
	err := s.conn.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", key, err)
	}
	return []byte(value), nil
}

// Save stores doc as compact JSON under KeyDocument.
func (s *SQLiteStore) Save(ctx context.Context, doc *schema.Document) error {
	data, err := doc.Encode()
	if err != nil {
		return err
	}
	return s.put(ctx, KeyDocument, data)
}

// Load reads the document stored under KeyDocument.
func (s *SQLiteStore) Load(ctx context.Context) (*schema.Document, error) {
	data, err := s.get(ctx, KeyDocument)
	if err != nil {
		return schema.NewDocument(), err
	}
	return decodeSnapshot(s.logger, s.path, data), nil
}

// SaveUIState stores the set of expanded node ids.
func (s *SQLiteStore) SaveUIState(ctx context.Context, expanded []string) error {
	data, err := marshalStrings(expanded)
	if err != nil {
		return err
	}
	return s.put(ctx, KeyExpandedState, data)
}

// LoadUIState returns the expanded node ids, or nil when none were saved or
// the stored value is unreadable.
func (s *SQLiteStore) LoadUIState(ctx context.Context) ([]string, error) {
	data, err := s.get(ctx, KeyExpandedState)
	if err != nil || data == nil {
		return nil, err
	}
	ids, err := unmarshalStrings(data)
	if err != nil {
		s.logger.Printf("Warning: discarding malformed %s: %v", KeyExpandedState, err)
		return nil, nil
	}
	return ids, nil
}

// SaveSyncState records the sync baseline.
func (s *SQLiteStore) SaveSyncState(ctx context.Context, st SyncState) error {
	query := `
	INSERT INTO sync_state (id, last_tag, last_sync, last_write) VALUES (1, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		last_tag = excluded.last_tag,
		last_sync = excluded.last_sync,
		last_write = excluded.last_write
	`
	if _, err := s.conn.ExecContext(ctx, query, st.LastTag, formatTime(st.LastSync), formatTime(st.LastWrite)); err != nil {
		return fmt.Errorf("failed to save sync state: %w", err)
	}
	return nil
}

// LoadSyncState returns the recorded baseline, or the zero value when none
// exists.
func (s *SQLiteStore) LoadSyncState(ctx context.Context) (SyncState, error) {
	var (
		st                  SyncState
		lastSync, lastWrite sql.NullString
	)
	err := s.conn.QueryRowContext(ctx,
		`SELECT last_tag, last_sync, last_write FROM sync_state WHERE id = 1`,
	).Scan(&st.LastTag, &lastSync, &lastWrite)
	if errors.Is(err, sql.ErrNoRows) {
		return SyncState{}, nil
	}
	if err != nil {
		return SyncState{}, fmt.Errorf("failed to load sync state: %w", err)
	}
	st.LastSync = parseTime(lastSync)
	st.LastWrite = parseTime(lastWrite)
	return st, nil
}

func formatTime(t time.Time) sql.NullString {
	if t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339Nano), Valid: true}
}

func parseTime(s sql.NullString) time.Time {
	if !s.Valid || s.String == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s.String)
	if err != nil {
		return time.Time{}
	}
	return t
}
