package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"math/big"
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"chainwatch/internal/model"
)

func TestJsonlStorageAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "events.jsonl")
	store := NewJsonlStorage(path)

	first := model.DecodedEvent{
		SchemaName:  "Transfer",
		BlockNumber: 100,
		TxHash:      common.HexToHash("0x01"),
		LogIndex:    0,
		Address:     common.HexToAddress("0xA0b86991c6218b36c1d19d4a2e9eb0ce3606eb48"),
		Args:        map[string]interface{}{"value": big.NewInt(1000)},
	}
	second := first
	second.BlockNumber = 101
	second.LogIndex = 4

	if err := store.PutEventBatch(context.Background(), []model.DecodedEvent{first}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := (Handler{Storage: store}).Handle(context.Background(), second); err != nil {
		t.Fatalf("handle: %v", err)
	}

	file, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer file.Close()

	var records []model.EventRecord
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		var rec model.EventRecord
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		records = append(records, rec)
	}

	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if records[0].Args["value"] != "1000" || records[1].BlockNumber != 101 || records[1].LogIndex != 4 {
		t.Fatalf("records mismatch: %+v", records)
	}
}

func TestJsonlStorageRedeliveryAppendsAgain(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	store := NewJsonlStorage(path)
	ev := model.DecodedEvent{SchemaName: "Transfer", BlockNumber: 7, TxHash: common.HexToHash("0x07")}

	for i := 0; i < 2; i++ {
		if err := store.PutEventBatch(context.Background(), []model.DecodedEvent{ev}); err != nil {
			t.Fatalf("put %d: %v", i, err)
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	lines := 0
	for _, b := range data {
		if b == '\n' {
			lines++
		}
	}
	if lines != 2 {
		t.Fatalf("expected the redelivered event on its own line, got %d lines", lines)
	}
}
