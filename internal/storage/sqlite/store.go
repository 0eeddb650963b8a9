package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"chainwatch/internal/model"
)

// Store keeps decoded events and watcher cursors in a local SQLite file.
type Store struct {
	db *sql.DB
}

// Open initializes a SQLite database and applies the schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := configure(db); err != nil {
		db.Close()
		return nil, err
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func configure(db *sql.DB) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	pragmas := []string{
		"PRAGMA journal_mode = WAL;",
		"PRAGMA busy_timeout = 5000;",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			return fmt.Errorf("set pragma %q: %w", p, err)
		}
	}
	return nil
}

func migrate(db *sql.DB) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	schema := `
CREATE TABLE IF NOT EXISTS events (
  chain_id      INTEGER NOT NULL,
  tx_hash       TEXT    NOT NULL,
  log_index     INTEGER NOT NULL,
  event         TEXT    NOT NULL,
  address       TEXT    NOT NULL,
  block_number  INTEGER NOT NULL,
  block_hash    TEXT    NOT NULL,
  args_json     TEXT    NOT NULL,
  created_at    TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
  PRIMARY KEY(tx_hash, log_index)
);

CREATE INDEX IF NOT EXISTS events_address_block ON events(address, block_number, log_index);

CREATE TABLE IF NOT EXISTS cursors (
  name        TEXT PRIMARY KEY,
  height      INTEGER NOT NULL,
  updated_at  TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// PutEventBatch inserts events in one transaction. Rows that already exist
// for a (tx_hash, log_index) are left untouched.
func (s *Store) PutEventBatch(ctx context.Context, events []model.DecodedEvent) error {
	if len(events) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	for _, ev := range events {
		rec := model.NewEventRecord(ev)
		args, err := json.Marshal(rec.Args)
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("marshal args %s: %w", ev.Key(), err)
		}
		_, err = tx.ExecContext(ctx, `
INSERT INTO events (chain_id, tx_hash, log_index, event, address, block_number, block_hash, args_json)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(tx_hash, log_index) DO NOTHING;
`, rec.ChainID, rec.TxHash, rec.LogIndex, rec.Event, rec.Address, rec.BlockNumber, rec.BlockHash, string(args))
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("insert event: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// Handle stores a single event.
func (s *Store) Handle(ctx context.Context, ev model.DecodedEvent) error {
	return s.PutEventBatch(ctx, []model.DecodedEvent{ev})
}

// Events returns the stored events of address in chain order.
func (s *Store) Events(ctx context.Context, address string) ([]model.EventRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT chain_id, tx_hash, log_index, event, address, block_number, block_hash, args_json
FROM events WHERE address = ? ORDER BY block_number, log_index;
`, address)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []model.EventRecord
	for rows.Next() {
		var (
			rec  model.EventRecord
			args string
		)
		if err := rows.Scan(&rec.ChainID, &rec.TxHash, &rec.LogIndex, &rec.Event, &rec.Address, &rec.BlockNumber, &rec.BlockHash, &args); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		if err := json.Unmarshal([]byte(args), &rec.Args); err != nil {
			return nil, fmt.Errorf("parse args %s:%d: %w", rec.TxHash, rec.LogIndex, err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// SaveCursor records the last dispatched block for a watcher name.
func (s *Store) SaveCursor(ctx context.Context, name string, block uint64) error {
	if name == "" {
		return errors.New("cursor name required")
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO cursors (name, height, updated_at)
VALUES (?, ?, CURRENT_TIMESTAMP)
ON CONFLICT(name) DO UPDATE SET
  height=excluded.height,
  updated_at=CURRENT_TIMESTAMP;
`, name, block)
	if err != nil {
		return fmt.Errorf("save cursor: %w", err)
	}
	return nil
}

// LoadCursor retrieves the last dispatched block for a watcher name.
func (s *Store) LoadCursor(ctx context.Context, name string) (uint64, bool, error) {
	var height uint64
	row := s.db.QueryRowContext(ctx, `SELECT height FROM cursors WHERE name = ?;`, name)
	switch err := row.Scan(&height); {
	case err == nil:
		return height, true, nil
	case errors.Is(err, sql.ErrNoRows):
		return 0, false, nil
	default:
		return 0, false, fmt.Errorf("load cursor: %w", err)
	}
}
