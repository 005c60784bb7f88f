// Package pgstore is a Store kept in a Postgres JSONB document table.
package pgstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/scanquest/scanquest-server-go/internal/card"
	"github.com/scanquest/scanquest-server-go/internal/store"
	"go.uber.org/zap"
)

// Schema creates the document table. It is safe to run repeatedly.
const Schema = `
CREATE TABLE IF NOT EXISTS cards (
	scope      TEXT        NOT NULL,
	id_key     TEXT        NOT NULL,
	doc        JSONB       NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (scope, id_key)
)`

const upsertSQL = `
INSERT INTO cards (scope, id_key, doc)
VALUES ($1, $2, $3)
ON CONFLICT (scope, id_key) DO UPDATE SET
	doc = excluded.doc,
	updated_at = now()`

// DB is the subset of pgxpool.Pool the store uses.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store implements store.Store over a pgx pool.
type Store struct {
	db     DB
	logger *zap.Logger
}

var _ store.Store = (*Store)(nil)

// New wraps an existing pool or transaction.
func New(db DB, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{db: db, logger: logger}
}

// Connect opens a pool, verifies it and ensures the schema exists.
func Connect(ctx context.Context, databaseURL string, logger *zap.Logger) (*Store, *pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("open pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := pool.Exec(ctx, Schema); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("ensure schema: %w", err)
	}
	return New(pool, logger), pool, nil
}

func (s *Store) GetInventory(ctx context.Context, userID string) ([]card.Card, error) {
	return s.list(ctx, userID)
}

func (s *Store) GetEventByID(ctx context.Context, userID, id string) (card.Card, error) {
	var doc []byte
	err := s.db.QueryRow(ctx,
		`SELECT doc FROM cards WHERE scope = $1 AND id_key = $2`,
		userID, card.Key(id),
	).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return card.Card{}, card.NotFound(id)
	}
	if err != nil {
		return card.Card{}, card.Unavailable("postgres get card", err)
	}
	var c card.Card
	if err := json.Unmarshal(doc, &c); err != nil {
		return card.Card{}, fmt.Errorf("decode card %q: %w", id, err)
	}
	return c, nil
}

func (s *Store) CreateOrUpdateEvent(ctx context.Context, userID string, c card.Card) (card.Card, error) {
	if err := Upsert(ctx, s.db, userID, c); err != nil {
		return card.Card{}, err
	}
	return c.Clone(), nil
}

func (s *Store) DeleteEvent(ctx context.Context, userID, id string) error {
	tag, err := s.db.Exec(ctx,
		`DELETE FROM cards WHERE scope = $1 AND id_key = $2`,
		userID, card.Key(id),
	)
	if err != nil {
		return card.Unavailable("postgres delete card", err)
	}
	if tag.RowsAffected() == 0 {
		return card.NotFound(id)
	}
	return nil
}

func (s *Store) GetMasterCatalog(ctx context.Context) ([]card.Card, error) {
	return s.list(ctx, store.CatalogScope)
}

func (s *Store) list(ctx context.Context, scope string) ([]card.Card, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id_key, doc FROM cards WHERE scope = $1 ORDER BY created_at, id_key`,
		scope,
	)
	if err != nil {
		return nil, card.Unavailable("postgres list cards", err)
	}
	defer rows.Close()

	var out []card.Card
	for rows.Next() {
		var key string
		var doc []byte
		if err := rows.Scan(&key, &doc); err != nil {
			return nil, card.Unavailable("postgres scan card", err)
		}
		var c card.Card
		if err := json.Unmarshal(doc, &c); err != nil {
			s.logger.Warn("skipping undecodable card document",
				zap.String("scope", scope),
				zap.String("card_id", key),
				zap.Error(err),
			)
			continue
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, card.Unavailable("postgres list cards", err)
	}
	return out, nil
}

// Upsert writes one card document. It accepts a pool or a transaction so the
// catalog importer can batch writes.
func Upsert(ctx context.Context, db DB, scope string, c card.Card) error {
	doc, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode card %q: %w", c.ID, err)
	}
	if _, err := db.Exec(ctx, upsertSQL, scope, c.Key(), doc); err != nil {
		return card.Unavailable("postgres upsert card", err)
	}
	return nil
}
