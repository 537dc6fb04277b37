package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/your-org/facedoor/internal/config"
)

// PostgresStore persists the identity store and the access log.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, cfg config.DatabaseConfig) (*PostgresStore, error) {
	return ConnectPostgres(ctx, cfg.DSN(), cfg.MaxConns)
}

// ConnectPostgres opens a pool on dsn and applies the schema.
func ConnectPostgres(ctx context.Context, dsn string, maxConns int) (*PostgresStore, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	if maxConns > 0 {
		poolCfg.MaxConns = int32(maxConns)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	s := &PostgresStore{pool: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

// migrate creates the tables and the vector extension if they don't exist.
// Embedding columns carry no fixed dimension; the identity store enforces it.
func (s *PostgresStore) migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE EXTENSION IF NOT EXISTS vector;
		CREATE TABLE IF NOT EXISTS identities (
			name TEXT PRIMARY KEY,
			position INT NOT NULL,
			model TEXT NOT NULL DEFAULT '',
			added_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL,
			recognition_count INT NOT NULL DEFAULT 0,
			last_recognized TIMESTAMPTZ
		);
		CREATE TABLE IF NOT EXISTS identity_variations (
			identity_name TEXT NOT NULL REFERENCES identities(name) ON DELETE CASCADE,
			idx INT NOT NULL,
			label TEXT NOT NULL,
			embedding VECTOR NOT NULL,
			image_path TEXT NOT NULL DEFAULT '',
			image_url TEXT NOT NULL DEFAULT '',
			image_key TEXT NOT NULL DEFAULT '',
			added_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (identity_name, idx)
		);
		CREATE TABLE IF NOT EXISTS access_events (
			id UUID PRIMARY KEY,
			name TEXT,
			label TEXT NOT NULL DEFAULT '',
			recognized BOOLEAN NOT NULL,
			distance DOUBLE PRECISION NOT NULL,
			confidence DOUBLE PRECISION NOT NULL,
			threshold DOUBLE PRECISION NOT NULL,
			source TEXT NOT NULL,
			image_url TEXT NOT NULL DEFAULT '',
			embedding VECTOR,
			door_command_sent BOOLEAN NOT NULL DEFAULT FALSE,
			timestamp TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS access_events_timestamp_idx ON access_events (timestamp DESC);
	`)
	return err
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}
