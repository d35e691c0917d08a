// Package store provides the Postgres-backed flash entry store.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quantfeed/flashcrawl/internal/flash"
)

// Config controls the Postgres connection pool used for flash entries.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type execCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Close()
}

// FlashStore writes flash entries into Postgres. Uniqueness over
// (text_hash, captured_date) is enforced by the database, which is the sole
// arbiter of first-writer-wins; no application-level locking is taken.
type FlashStore struct {
	pool execCloser
}

// New connects a Postgres-backed FlashStore using the provided config.
func New(ctx context.Context, cfg Config) (*FlashStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &FlashStore{pool: pool}, nil
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(pool execCloser) (*FlashStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &FlashStore{pool: pool}, nil
}

// Close releases the underlying pool resources.
func (s *FlashStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// captured_date is a stored generated column so the uniqueness constraint can
// scope the content hash to a calendar day: the same headline may legitimately
// reappear on a different day, but never twice within one.
const schemaSQL = `
CREATE TABLE IF NOT EXISTS flash_entries (
	id BIGSERIAL PRIMARY KEY,
	text TEXT NOT NULL,
	text_hash CHAR(64) NOT NULL,
	source VARCHAR(32) NOT NULL DEFAULT 'jin10',
	captured_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	captured_date DATE GENERATED ALWAYS AS (((captured_at AT TIME ZONE 'UTC'))::date) STORED,
	CONSTRAINT ux_flash_entries_hash_date UNIQUE (text_hash, captured_date)
);
CREATE INDEX IF NOT EXISTS idx_flash_entries_captured_at ON flash_entries (captured_at);
`

// EnsureSchema creates the flash_entries table and its indexes if absent.
func (s *FlashStore) EnsureSchema(ctx context.Context) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("flash store is not configured")
	}
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

const insertSQL = `
INSERT INTO flash_entries (text, text_hash, source, captured_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT ON CONSTRAINT ux_flash_entries_hash_date DO NOTHING`

// InsertEntry inserts a flash entry, silently no-oping when a row with the
// same (text_hash, captured_date) already exists. It returns the affected-row
// count: 1 for a fresh insert, 0 for a duplicate.
func (s *FlashStore) InsertEntry(ctx context.Context, entry flash.Entry) (int64, error) {
	if s == nil || s.pool == nil {
		return 0, fmt.Errorf("flash store is not configured")
	}
	tag, err := s.pool.Exec(ctx, insertSQL,
		entry.Text,
		entry.TextHash,
		entry.Source,
		entry.CapturedAt,
	)
	if err != nil {
		return 0, fmt.Errorf("insert flash entry: %w", err)
	}
	return tag.RowsAffected(), nil
}
