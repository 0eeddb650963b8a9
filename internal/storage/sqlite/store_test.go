package sqlite

import (
	"context"
	"math/big"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"chainwatch/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "chainwatch.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestCursorSaveAndLoad(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if _, ok, err := store.LoadCursor(ctx, "usdc"); err != nil || ok {
		t.Fatalf("expected no cursor, got ok=%v err=%v", ok, err)
	}
	if err := store.SaveCursor(ctx, "usdc", 10); err != nil {
		t.Fatalf("save cursor: %v", err)
	}
	if err := store.SaveCursor(ctx, "usdc", 20); err != nil {
		t.Fatalf("save cursor update: %v", err)
	}
	h, ok, err := store.LoadCursor(ctx, "usdc")
	if err != nil || !ok || h != 20 {
		t.Fatalf("cursor not updated: %d ok=%v err=%v", h, ok, err)
	}
	if err := store.SaveCursor(ctx, "", 1); err == nil {
		t.Fatalf("expected error for empty name")
	}
}

func TestPutEventBatchIsIdempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	addr := common.HexToAddress("0xA0b86991c6218b36c1d19d4a2e9eb0ce3606eb48")

	events := []model.DecodedEvent{
		{ChainID: 1, SchemaName: "Transfer", BlockNumber: 5, TxHash: common.HexToHash("0xbb"), LogIndex: 1, Address: addr,
			Args: map[string]interface{}{"value": big.NewInt(2)}},
		{SchemaName: "Transfer", BlockNumber: 4, TxHash: common.HexToHash("0xaa"), LogIndex: 0, Address: addr,
			Args: map[string]interface{}{"value": big.NewInt(1)}},
	}
	if err := store.PutEventBatch(ctx, events); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := store.Handle(ctx, events[0]); err != nil {
		t.Fatalf("handle duplicate: %v", err)
	}

	got, err := store.Events(ctx, addr.Hex())
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 stored events, got %d", len(got))
	}
	if got[0].BlockNumber != 4 || got[1].BlockNumber != 5 {
		t.Fatalf("order mismatch: %+v", got)
	}
	if got[1].ChainID != 1 {
		t.Fatalf("chain id mismatch: %d", got[1].ChainID)
	}
	if got[1].Args["value"] != "2" {
		t.Fatalf("args mismatch: %+v", got[1].Args)
	}
}
