package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists snapshots in a PostgreSQL table.
type PostgresStore struct {
	pool *pgxpool.Pool
}

const createTableSQL = `
CREATE TABLE IF NOT EXISTS registry_snapshots (
    key TEXT PRIMARY KEY,
    entries JSONB NOT NULL,
    fetched_at TIMESTAMPTZ NOT NULL
);
`

// NewPostgresStore connects to Postgres using the DSN and ensures the table exists.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	if dsn == "" {
		return nil, errors.New("postgres dsn is empty")
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	if _, err := pool.Exec(ctx, createTableSQL); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

func (p *PostgresStore) Close() {
	if p.pool != nil {
		p.pool.Close()
	}
}

func (p *PostgresStore) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

func (p *PostgresStore) Get(ctx context.Context, key string) (*Snapshot, error) {
	row := p.pool.QueryRow(ctx, `
SELECT entries, fetched_at
FROM registry_snapshots
WHERE key = $1
`, key)

	var (
		raw  []byte
		snap Snapshot
	)
	if err := row.Scan(&raw, &snap.FetchedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if err := json.Unmarshal(raw, &snap.Entries); err != nil {
		return nil, fmt.Errorf("decode snapshot %s: %w", key, err)
	}
	return &snap, nil
}

func (p *PostgresStore) Save(ctx context.Context, key string, snap Snapshot) error {
	entries := snap.Entries
	if entries == nil {
		entries = []Entry{}
	}
	raw, err := json.Marshal(entries)
	if err != nil {
		return err
	}
	_, err = p.pool.Exec(ctx, `
INSERT INTO registry_snapshots (key, entries, fetched_at)
VALUES ($1, $2, $3)
ON CONFLICT (key) DO UPDATE
SET entries = EXCLUDED.entries,
    fetched_at = EXCLUDED.fetched_at
`, key, raw, snap.FetchedAt)
	return err
}
