package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"salesbot/internal/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS sales (
	tx_hash            TEXT        NOT NULL,
	log_index          BIGINT      NOT NULL,
	event_name         TEXT        NOT NULL,
	marketplace        TEXT        NOT NULL,
	collection_address TEXT        NOT NULL,
	token_id           NUMERIC     NOT NULL,
	value              NUMERIC     NOT NULL,
	seller             TEXT        NOT NULL,
	buyer              TEXT        NOT NULL,
	block_number       BIGINT      NOT NULL,
	created_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (tx_hash, log_index, event_name)
);
CREATE INDEX IF NOT EXISTS sales_collection_idx ON sales (lower(collection_address), block_number);
`

const insertSale = `
	INSERT INTO sales (
		tx_hash, log_index, event_name, marketplace, collection_address,
		token_id, value, seller, buyer, block_number
	) VALUES ($1, $2, $3, $4, $5, $6::numeric, $7::numeric, $8, $9, $10)
	ON CONFLICT (tx_hash, log_index, event_name) DO NOTHING
`

// Store persists sale records in Postgres. Replaying a range already seen
// live does not create duplicates.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// EnsureSchema creates the sales table when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// OnSaleRecord inserts one sale.
func (s *Store) OnSaleRecord(ctx context.Context, record model.SaleRecord) error {
	_, err := s.pool.Exec(ctx, insertSale, saleArgs(record)...)
	if err != nil {
		return fmt.Errorf("insert sale %s: %w", record.TransactionHash, err)
	}
	return nil
}

func saleArgs(record model.SaleRecord) []interface{} {
	return []interface{}{
		record.TransactionHash,
		int64(record.LogIndex),
		record.EventName,
		record.MarketplaceName,
		record.CollectionAddress,
		record.TokenID,
		record.ValueWei,
		record.Seller,
		record.Buyer,
		int64(record.BlockNumber),
	}
}
