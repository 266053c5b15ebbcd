package inbox

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

const readMarksSchema = `
CREATE TABLE IF NOT EXISTS kv (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
)`

// SQLiteStore persists read marks in a local key/value table, one JSON blob
// per user.
type SQLiteStore struct {
	db *sqlx.DB
	mu sync.Mutex
}

// OpenSQLiteStore opens (and creates if needed) the store at path.
func OpenSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create read marks dir: %w", err)
		}
	}
	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open read marks: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.ExecContext(ctx, readMarksSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate read marks: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Get(ctx context.Context, userID string) (map[string]time.Time, error) {
	raw, err := s.load(ctx, storageKey(userID))
	if err != nil {
		return nil, err
	}
	return decodeMarks(raw), nil
}

func (s *SQLiteStore) Set(ctx context.Context, userID, conversationID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := storageKey(userID)
	raw, err := s.load(ctx, key)
	if err != nil {
		return err
	}
	marks := decodeMarks(raw)
	marks[conversationID] = at
	blob, err := encodeMarks(marks)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO kv (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, string(blob))
	return err
}

func (s *SQLiteStore) load(ctx context.Context, key string) ([]byte, error) {
	var value string
	err := s.db.GetContext(ctx, &value, `SELECT value FROM kv WHERE key = ?`, key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return []byte(value), nil
}
