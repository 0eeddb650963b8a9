package indexer

import (
	"context"
	"path/filepath"
	"testing"
)

func TestFileCheckpointStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewFileCheckpointStore(filepath.Join(t.TempDir(), "state", "cursors.json"))

	if _, ok, err := store.LoadCursor(ctx, "usdc"); err != nil || ok {
		t.Fatalf("expected empty store, got ok=%v err=%v", ok, err)
	}

	if err := store.SaveCursor(ctx, "usdc", 100); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := store.SaveCursor(ctx, "weth", 7); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := store.SaveCursor(ctx, "usdc", 105); err != nil {
		t.Fatalf("save: %v", err)
	}

	reopened := NewFileCheckpointStore(store.path)
	got, ok, err := reopened.LoadCursor(ctx, "usdc")
	if err != nil || !ok || got != 105 {
		t.Fatalf("usdc cursor mismatch: %d ok=%v err=%v", got, ok, err)
	}
	got, ok, err = reopened.LoadCursor(ctx, "weth")
	if err != nil || !ok || got != 7 {
		t.Fatalf("weth cursor mismatch: %d ok=%v err=%v", got, ok, err)
	}
}

func TestFileCheckpointStoreDirectory(t *testing.T) {
	store := NewFileCheckpointStore(t.TempDir())
	if _, _, err := store.LoadCursor(context.Background(), "x"); err == nil {
		t.Fatalf("expected error for directory path")
	}
}
