package model

import (
	"encoding/json"
	"reflect"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

func TestLogRecordToLog(t *testing.T) {
	original := types.Log{
		Address: common.HexToAddress("0x1111111111111111111111111111111111111111"),
		Topics: []common.Hash{
			common.HexToHash("0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef"),
			common.HexToHash("0x01"),
		},
		Data:        common.LeftPadBytes([]byte{0x03, 0xe8}, 32),
		BlockNumber: 36000000,
		TxHash:      common.HexToHash("0xdef456"),
		TxIndex:     7,
		BlockHash:   common.HexToHash("0xabc123"),
		Index:       12,
	}

	b, err := json.Marshal(NewLogRecord(56, original))
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	var record LogRecord
	if err := json.Unmarshal(b, &record); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}

	if record.ChainID != 56 {
		t.Fatalf("chain id mismatch: %d", record.ChainID)
	}

	got, err := record.ToLog()
	if err != nil {
		t.Fatalf("to log: %v", err)
	}
	if !reflect.DeepEqual(original, got) {
		t.Fatalf("log mismatch: %+v != %+v", original, got)
	}
}

func TestLogRecordToLogRejectsBadTopic(t *testing.T) {
	record := LogRecord{
		Address: "0x1111111111111111111111111111111111111111",
		Topics:  []string{"0x1234"},
	}
	if _, err := record.ToLog(); err == nil {
		t.Fatalf("expected error for short topic")
	}
}
