package txcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists record lists in a PostgreSQL table, one row per
// scope key.
type PostgresStore struct {
	pool *pgxpool.Pool
}

const createTableSQL = `
CREATE TABLE IF NOT EXISTS escrow_tx_history (
    key TEXT PRIMARY KEY,
    records JSONB NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// NewPostgresStore connects using the DSN and ensures the table exists.
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

// Ping checks connectivity for health reporting.
func (p *PostgresStore) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

func (p *PostgresStore) Load(ctx context.Context, key string) ([]Record, error) {
	row := p.pool.QueryRow(ctx, `SELECT records FROM escrow_tx_history WHERE key = $1`, key)

	var blob []byte
	if err := row.Scan(&blob); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	var records []Record
	if err := json.Unmarshal(blob, &records); err != nil {
		return nil, fmt.Errorf("decode records for %s: %w", key, err)
	}
	return records, nil
}

func (p *PostgresStore) Save(ctx context.Context, key string, records []Record) error {
	blob, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("encode records for %s: %w", key, err)
	}
	_, err = p.pool.Exec(ctx, `
INSERT INTO escrow_tx_history (key, records, updated_at)
VALUES ($1, $2, now())
ON CONFLICT (key) DO UPDATE
SET records = EXCLUDED.records,
    updated_at = now()
`, key, blob)
	return err
}
