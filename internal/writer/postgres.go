package writer

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rickgao/tickerfeed/internal/model"
)

// DefaultPostgresTable holds one row per (exchange, symbol).
const DefaultPostgresTable = "latest_tickers"

// PostgresOptions configures the Postgres backend pool.
type PostgresOptions struct {
	ConnString string
	MinConns   int
	MaxConns   int
	Table      string
}

// batchSender is the part of pgxpool.Pool the backend writes through.
type batchSender interface {
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// PostgresBackend upserts the latest value per (exchange, symbol) row.
type PostgresBackend struct {
	db    batchSender
	pool  *pgxpool.Pool
	table string
}

// DialPostgres creates a pool, pings it and ensures the table exists.
func DialPostgres(ctx context.Context, opts PostgresOptions) (*PostgresBackend, error) {
	poolCfg, err := pgxpool.ParseConfig(opts.ConnString)
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}
	if opts.MinConns > 0 {
		poolCfg.MinConns = int32(opts.MinConns)
	}
	if opts.MaxConns > 0 {
		poolCfg.MaxConns = int32(opts.MaxConns)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	b := newPostgresBackend(pool, opts.Table)
	b.pool = pool
	if _, err := pool.Exec(ctx, b.schemaSQL()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create %s: %w", b.table, err)
	}
	return b, nil
}

func newPostgresBackend(db batchSender, table string) *PostgresBackend {
	if table == "" {
		table = DefaultPostgresTable
	}
	return &PostgresBackend{db: db, table: table}
}

// tickerRow is one latest_tickers row. Decimals travel as text and are cast
// to numeric server side.
type tickerRow struct {
	Exchange     string
	Symbol       string
	Price        string
	Change24hPct string
	Volume24h    string
	ObservedAt   time.Time
}

func toRow(u model.TickerUpdate) tickerRow {
	return tickerRow{
		Exchange:     u.Exchange,
		Symbol:       u.Symbol.String(),
		Price:        u.Price.String(),
		Change24hPct: u.Change24hPct.String(),
		Volume24h:    u.Volume24h.String(),
		ObservedAt:   u.ObservedAt.UTC(),
	}
}

func (b *PostgresBackend) schemaSQL() string {
	return fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			exchange       TEXT        NOT NULL,
			symbol         TEXT        NOT NULL,
			price          NUMERIC     NOT NULL,
			change_24h_pct NUMERIC     NOT NULL,
			volume_24h     NUMERIC     NOT NULL,
			observed_at    TIMESTAMPTZ NOT NULL,
			updated_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (exchange, symbol)
		)`, pgx.Identifier{b.table}.Sanitize())
}

// upsertSQL never moves a row back in time: an older observed_at leaves the
// row untouched and affects zero rows.
func (b *PostgresBackend) upsertSQL() string {
	t := pgx.Identifier{b.table}.Sanitize()
	return fmt.Sprintf(`
		INSERT INTO %[1]s (exchange, symbol, price, change_24h_pct, volume_24h, observed_at, updated_at)
		VALUES ($1, $2, $3::numeric, $4::numeric, $5::numeric, $6, now())
		ON CONFLICT (exchange, symbol) DO UPDATE SET
			price = EXCLUDED.price,
			change_24h_pct = EXCLUDED.change_24h_pct,
			volume_24h = EXCLUDED.volume_24h,
			observed_at = EXCLUDED.observed_at,
			updated_at = EXCLUDED.updated_at
		WHERE %[1]s.observed_at <= EXCLUDED.observed_at`, t)
}

func (b *PostgresBackend) deleteSQL() string {
	return fmt.Sprintf(`DELETE FROM %s WHERE exchange = $1 AND symbol = $2`,
		pgx.Identifier{b.table}.Sanitize())
}

// Write implements Backend with one pgx.Batch round trip. Rows have no
// expiry, so ttl is ignored.
func (b *PostgresBackend) Write(ctx context.Context, set map[Ref]model.TickerUpdate, del []Ref, _ time.Duration) error {
	batch := &pgx.Batch{}
	upsert := b.upsertSQL()
	for _, u := range set {
		r := toRow(u)
		batch.Queue(upsert, r.Exchange, r.Symbol, r.Price, r.Change24hPct, r.Volume24h, r.ObservedAt)
	}
	if len(del) > 0 {
		remove := b.deleteSQL()
		for _, ref := range del {
			batch.Queue(remove, ref.Exchange, ref.Symbol.String())
		}
	}
	if batch.Len() == 0 {
		return nil
	}

	results := b.db.SendBatch(ctx, batch)
	defer results.Close()

	for range batch.Len() {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("postgres batch: %w", err)
		}
	}
	return nil
}

// Ping checks connectivity.
func (b *PostgresBackend) Ping(ctx context.Context) error {
	if b.pool == nil {
		return nil
	}
	return b.pool.Ping(ctx)
}

// Close closes the pool.
func (b *PostgresBackend) Close() {
	if b.pool != nil {
		b.pool.Close()
	}
}
