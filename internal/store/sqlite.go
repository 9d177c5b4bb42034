package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `CREATE TABLE IF NOT EXISTS settings (
	key   TEXT PRIMARY KEY,
	type  TEXT NOT NULL,
	value TEXT NOT NULL
)`

// SQLiteStore persists settings in a single SQLite table. Opening happens in
// the background; WaitReady is the readiness future the engine awaits.
type SQLiteStore struct {
	db      *sql.DB
	ready   chan struct{}
	openErr error
}

// OpenSQLite starts opening (or creating) a SQLite database in dataDir and
// returns immediately. Pass ":memory:" as dataDir for an in-memory database
// (used by tests). Errors surface through WaitReady.
func OpenSQLite(dataDir string) *SQLiteStore {
	s := &SQLiteStore{ready: make(chan struct{})}
	go func() {
		defer close(s.ready)
		s.db, s.openErr = openSQLiteDB(dataDir)
	}()
	return s
}

func openSQLiteDB(dataDir string) (*sql.DB, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "prefd.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating settings table: %w", err)
	}
	return db, nil
}

func (s *SQLiteStore) WaitReady(ctx context.Context) error {
	select {
	case <-s.ready:
		return s.openErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *SQLiteStore) Contains(ctx context.Context, key string) (bool, error) {
	if err := s.WaitReady(ctx); err != nil {
		return false, err
	}
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM settings WHERE key = ?", key).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// row fetches the raw type/value pair for key. ok=false when absent. Waiting
// on readiness first makes a read before (or after a failed) open return the
// open error instead of dereferencing a nil handle.
func (s *SQLiteStore) row(ctx context.Context, key string) (typ, value string, ok bool, err error) {
	if err = s.WaitReady(ctx); err != nil {
		return "", "", false, err
	}
	err = s.db.QueryRowContext(ctx,
		"SELECT type, value FROM settings WHERE key = ?", key).Scan(&typ, &value)
	if err == sql.ErrNoRows {
		return "", "", false, nil
	}
	if err != nil {
		return "", "", false, err
	}
	return typ, value, true, nil
}

func (s *SQLiteStore) GetBool(ctx context.Context, key string) (bool, bool, error) {
	typ, raw, ok, err := s.row(ctx, key)
	if err != nil || !ok {
		return false, false, err
	}
	if typ != "bool" {
		return false, false, ErrTypeMismatch
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false, fmt.Errorf("corrupt bool for %q: %w", key, err)
	}
	return v, true, nil
}

func (s *SQLiteStore) GetInt(ctx context.Context, key string) (int64, bool, error) {
	typ, raw, ok, err := s.row(ctx, key)
	if err != nil || !ok {
		return 0, false, err
	}
	if typ != "int" {
		return 0, false, ErrTypeMismatch
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("corrupt int for %q: %w", key, err)
	}
	return v, true, nil
}

func (s *SQLiteStore) GetFloat(ctx context.Context, key string) (float64, bool, error) {
	typ, raw, ok, err := s.row(ctx, key)
	if err != nil || !ok {
		return 0, false, err
	}
	if typ != "float" {
		return 0, false, ErrTypeMismatch
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false, fmt.Errorf("corrupt float for %q: %w", key, err)
	}
	return v, true, nil
}

func (s *SQLiteStore) GetString(ctx context.Context, key string) (string, bool, error) {
	typ, raw, ok, err := s.row(ctx, key)
	if err != nil || !ok {
		return "", false, err
	}
	if typ != "string" {
		return "", false, ErrTypeMismatch
	}
	return raw, true, nil
}

func (s *SQLiteStore) GetStringList(ctx context.Context, key string) ([]string, bool, error) {
	typ, raw, ok, err := s.row(ctx, key)
	if err != nil || !ok {
		return nil, false, err
	}
	if typ != "list" {
		return nil, false, ErrTypeMismatch
	}
	var list []string
	if err := json.Unmarshal([]byte(raw), &list); err != nil {
		return nil, false, fmt.Errorf("corrupt list for %q: %w", key, err)
	}
	return list, true, nil
}

func (s *SQLiteStore) upsert(ctx context.Context, key, typ, value string) error {
	if err := s.WaitReady(ctx); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO settings (key, type, value) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET type = excluded.type, value = excluded.value`,
		key, typ, value,
	)
	return err
}

func (s *SQLiteStore) SetBool(ctx context.Context, key string, val bool) error {
	return s.upsert(ctx, key, "bool", strconv.FormatBool(val))
}

func (s *SQLiteStore) SetInt(ctx context.Context, key string, val int64) error {
	return s.upsert(ctx, key, "int", strconv.FormatInt(val, 10))
}

func (s *SQLiteStore) SetFloat(ctx context.Context, key string, val float64) error {
	return s.upsert(ctx, key, "float", strconv.FormatFloat(val, 'g', -1, 64))
}

func (s *SQLiteStore) SetString(ctx context.Context, key string, val string) error {
	return s.upsert(ctx, key, "string", val)
}

func (s *SQLiteStore) SetStringList(ctx context.Context, key string, val []string) error {
	data, err := json.Marshal(val)
	if err != nil {
		return fmt.Errorf("encoding list for %q: %w", key, err)
	}
	return s.upsert(ctx, key, "list", string(data))
}

func (s *SQLiteStore) Remove(ctx context.Context, key string) error {
	if err := s.WaitReady(ctx); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, "DELETE FROM settings WHERE key = ?", key)
	return err
}

func (s *SQLiteStore) Clear(ctx context.Context) error {
	if err := s.WaitReady(ctx); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, "DELETE FROM settings")
	return err
}

func (s *SQLiteStore) Close() error {
	<-s.ready
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}
