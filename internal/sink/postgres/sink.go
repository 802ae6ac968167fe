// Package postgres provides the Postgres-backed price sink.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// Config controls the Postgres connection pool used for price rows.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type querier interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// Sink upserts price observations, creating product and store rows as
// needed. Uniqueness is enforced by the database, so concurrent upserts
// from different runners are safe without external locking.
type Sink struct {
	pool querier
}

// New creates a Postgres-backed Sink using the provided config.
func New(ctx context.Context, cfg Config) (*Sink, error) {
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
	return &Sink{pool: pool}, nil
}

// NewWithPool constructs a Sink from an existing pool (primarily for
// testing).
func NewWithPool(pool querier) (*Sink, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Sink{pool: pool}, nil
}

// Close releases the underlying pool resources.
func (s *Sink) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

const (
	upsertProductSQL = `
INSERT INTO ps_products (name)
VALUES ($1)
ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
RETURNING id`

	upsertStoreSQL = `
INSERT INTO ps_stores (name)
VALUES ($1)
ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
RETURNING id`

	upsertPriceSQL = `
INSERT INTO ps_prices (product_id, store_id, source, amount, currency, observed_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (product_id, store_id, source) DO UPDATE
SET amount = EXCLUDED.amount,
    currency = EXCLUDED.currency,
    observed_at = EXCLUDED.observed_at`
)

// UpsertPrice persists one observation. Product and store rows are created
// when absent (find-or-create keyed by name); the price row is keyed by
// (product, store, source) so repeated observations overwrite in place.
func (s *Sink) UpsertPrice(
	ctx context.Context,
	productName string,
	storeName string,
	price decimal.Decimal,
	currency string,
	sourceID string,
	observedAt time.Time,
) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("price sink is not configured")
	}
	if productName == "" {
		return fmt.Errorf("product name is required")
	}
	if storeName == "" {
		return fmt.Errorf("store name is required")
	}

	var productID int64
	if err := s.pool.QueryRow(ctx, upsertProductSQL, productName).Scan(&productID); err != nil {
		return fmt.Errorf("upsert product %q: %w", productName, err)
	}

	var storeID int64
	if err := s.pool.QueryRow(ctx, upsertStoreSQL, storeName).Scan(&storeID); err != nil {
		return fmt.Errorf("upsert store %q: %w", storeName, err)
	}

	args := []any{productID, storeID, sourceID, price.String(), currency, observedAt}
	if _, err := s.pool.Exec(ctx, upsertPriceSQL, args...); err != nil {
		return fmt.Errorf("upsert price for %q at %q: %w", productName, storeName, err)
	}
	return nil
}
