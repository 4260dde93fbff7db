// Package postgres provides a Postgres-backed entry store using JSONB documents.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/penzu-sync/internal/journal"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// EntryStoreConfig controls the Postgres connection pool used for entry documents.
type EntryStoreConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MaxConnLifetime time.Duration
}

type execCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Close()
}

// EntryStore keeps one JSONB document per entry id. Upserts merge top-level keys, so
// fields absent from a newer fetch are kept.
type EntryStore struct {
	pool  execCloser
	table string
}

// NewEntryStore creates a Postgres-backed EntryStore using the provided config.
func NewEntryStore(ctx context.Context, cfg EntryStoreConfig) (*EntryStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("postgres dsn is required")
	}
	table, err := tableName(cfg.Table)
	if err != nil {
		return nil, err
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &EntryStore{pool: pool, table: table}, nil
}

// NewEntryStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewEntryStoreWithPool(pool execCloser, table string) (*EntryStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	name, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &EntryStore{pool: pool, table: name}, nil
}

func tableName(table string) (string, error) {
	if table == "" {
		table = "entries"
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// EnsureSchema creates the entry table when missing. The primary key backs ON CONFLICT.
func (s *EntryStore) EnsureSchema(ctx context.Context) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("entry store is not configured")
	}
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	id TEXT PRIMARY KEY,
	document JSONB NOT NULL,
	synced_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create entry table: %w", err)
	}
	return nil
}

// Upsert inserts the document or merges its top-level keys into the stored one.
func (s *EntryStore) Upsert(ctx context.Context, id any, doc journal.Entry) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("entry store is not configured")
	}
	if id == nil {
		return fmt.Errorf("upsert: %w", journal.ErrMissingID)
	}
	docJSON, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal entry: %w", err)
	}
	query := fmt.Sprintf(`
INSERT INTO %[1]s (id, document, synced_at)
VALUES ($1, $2, now())
ON CONFLICT (id) DO UPDATE
SET document = %[1]s.document || EXCLUDED.document,
	synced_at = EXCLUDED.synced_at`, s.table)

	if _, err := s.pool.Exec(ctx, query, journal.FormatID(id), docJSON); err != nil {
		return fmt.Errorf("upsert entry %s: %w", journal.FormatID(id), err)
	}
	return nil
}

// Close releases the underlying pool resources.
func (s *EntryStore) Close(context.Context) error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}
