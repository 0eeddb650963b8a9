package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"chainwatch/internal/model"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS events (
	chain_id     BIGINT      NOT NULL,
	tx_hash      TEXT        NOT NULL,
	log_index    BIGINT      NOT NULL,
	event        TEXT        NOT NULL,
	address      TEXT        NOT NULL,
	block_number BIGINT      NOT NULL,
	block_hash   TEXT        NOT NULL,
	args         JSONB       NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (tx_hash, log_index)
);

CREATE INDEX IF NOT EXISTS events_address_block_idx ON events (address, block_number, log_index);

CREATE TABLE IF NOT EXISTS watch_cursors (
	name                  TEXT        PRIMARY KEY,
	last_dispatched_block BIGINT      NOT NULL,
	updated_at            TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// Store provides Postgres persistence for decoded events and watcher cursors.
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
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Migrate creates the tables the store writes to.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// PutEventBatch inserts events, ignoring ones already stored under the same
// (tx_hash, log_index).
func (s *Store) PutEventBatch(ctx context.Context, events []model.DecodedEvent) error {
	if len(events) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, ev := range events {
		rec := model.NewEventRecord(ev)
		args, err := json.Marshal(rec.Args)
		if err != nil {
			return fmt.Errorf("marshal args %s: %w", ev.Key(), err)
		}
		batch.Queue(`
			INSERT INTO events (
				chain_id, tx_hash, log_index, event, address, block_number, block_hash, args
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (tx_hash, log_index) DO NOTHING
		`,
			int64(rec.ChainID),
			rec.TxHash,
			int64(rec.LogIndex),
			rec.Event,
			rec.Address,
			int64(rec.BlockNumber),
			rec.BlockHash,
			args,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range events {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("insert event: %w", err)
		}
	}
	return nil
}

// Handle stores a single event.
func (s *Store) Handle(ctx context.Context, ev model.DecodedEvent) error {
	return s.PutEventBatch(ctx, []model.DecodedEvent{ev})
}

// LoadCursor returns the last dispatched block for a watcher name.
func (s *Store) LoadCursor(ctx context.Context, name string) (uint64, bool, error) {
	if name == "" {
		return 0, false, fmt.Errorf("cursor name required")
	}
	var block int64
	row := s.pool.QueryRow(ctx, `SELECT last_dispatched_block FROM watch_cursors WHERE name=$1`, name)
	if err := row.Scan(&block); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return uint64(block), true, nil
}

// SaveCursor upserts the last dispatched block for a watcher name.
func (s *Store) SaveCursor(ctx context.Context, name string, block uint64) error {
	if name == "" {
		return fmt.Errorf("cursor name required")
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO watch_cursors (name, last_dispatched_block, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (name) DO UPDATE
		SET last_dispatched_block = EXCLUDED.last_dispatched_block, updated_at = now()
	`, name, int64(block))
	return err
}
