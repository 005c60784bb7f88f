package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/scanquest/scanquest-server-go/internal/card"
	"github.com/scanquest/scanquest-server-go/internal/game/ledger"
	_ "modernc.org/sqlite"
)

const kvSchema = `
CREATE TABLE IF NOT EXISTS kv (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	updated_at TEXT NOT NULL
)`

// SQLite stores JSON snapshots in a single key-value table.
type SQLite struct {
	db *sql.DB
}

var _ Cache = (*SQLite)(nil)

// OpenSQLite opens (creating if needed) the cache database at path.
func OpenSQLite(path string) (*SQLite, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("cache path is required")
	}
	clean := filepath.Clean(path)
	if err := os.MkdirAll(filepath.Dir(clean), 0o755); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}

	dsn := clean + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite cache: %w", err)
	}
	// One writer keeps "database is locked" away under concurrent sessions.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite cache: %w", err)
	}
	if _, err := db.Exec(kvSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create cache schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

// Close closes the database.
func (s *SQLite) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLite) LoadPlayer(ctx context.Context, userID string) (ledger.State, bool, error) {
	var st ledger.State
	ok, err := s.get(ctx, playerKey(userID), &st)
	return st, ok, err
}

func (s *SQLite) SavePlayer(ctx context.Context, userID string, st ledger.State) error {
	return s.put(ctx, playerKey(userID), st)
}

func (s *SQLite) LoadInventory(ctx context.Context, userID string) ([]card.Card, bool, error) {
	var cards []card.Card
	ok, err := s.get(ctx, inventoryKey(userID), &cards)
	return cards, ok, err
}

func (s *SQLite) SaveInventory(ctx context.Context, userID string, cards []card.Card) error {
	return s.put(ctx, inventoryKey(userID), cards)
}

func (s *SQLite) LoadCatalog(ctx context.Context) ([]card.Card, bool, error) {
	var cards []card.Card
	ok, err := s.get(ctx, catalogKey, &cards)
	return cards, ok, err
}

func (s *SQLite) SaveCatalog(ctx context.Context, cards []card.Card) error {
	return s.put(ctx, catalogKey, cards)
}

func (s *SQLite) get(ctx context.Context, key string, dest any) (bool, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read cache key %q: %w", key, err)
	}
	if err := json.Unmarshal([]byte(raw), dest); err != nil {
		return false, fmt.Errorf("decode cache key %q: %w", key, err)
	}
	return true, nil
}

func (s *SQLite) put(ctx context.Context, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode cache key %q: %w", key, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at`,
		key, string(raw), time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("write cache key %q: %w", key, err)
	}
	return nil
}
