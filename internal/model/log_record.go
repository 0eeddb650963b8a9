package model

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
)

// LogRecord is the normalized JSON representation of a raw chain log.
type LogRecord struct {
	ChainID     uint64   `json:"chain_id"`
	BlockNumber uint64   `json:"block_number"`
	BlockHash   string   `json:"block_hash"`
	TxHash      string   `json:"tx_hash"`
	TxIndex     uint64   `json:"tx_index"`
	LogIndex    uint64   `json:"log_index"`
	Address     string   `json:"address"`
	Topics      []string `json:"topics"`
	Data        string   `json:"data"`
	Removed     bool     `json:"removed"`
}

// NewLogRecord converts a go-ethereum log of chain chainID into a LogRecord.
func NewLogRecord(chainID uint64, log types.Log) LogRecord {
	topics := make([]string, 0, len(log.Topics))
	for _, topic := range log.Topics {
		topics = append(topics, topic.Hex())
	}

	return LogRecord{
		ChainID:     chainID,
		BlockNumber: log.BlockNumber,
		BlockHash:   log.BlockHash.Hex(),
		TxHash:      log.TxHash.Hex(),
		TxIndex:     uint64(log.TxIndex),
		LogIndex:    uint64(log.Index),
		Address:     log.Address.Hex(),
		Topics:      topics,
		Data:        hexutil.Encode(log.Data),
		Removed:     log.Removed,
	}
}

// ToLog parses the record back into a go-ethereum log.
func (lr LogRecord) ToLog() (types.Log, error) {
	if !common.IsHexAddress(lr.Address) {
		return types.Log{}, fmt.Errorf("invalid address: %s", lr.Address)
	}

	topics := make([]common.Hash, 0, len(lr.Topics))
	for _, topic := range lr.Topics {
		raw, err := hexutil.Decode(topic)
		if err != nil {
			return types.Log{}, fmt.Errorf("invalid topic %s: %w", topic, err)
		}
		if len(raw) != common.HashLength {
			return types.Log{}, fmt.Errorf("invalid topic length: %s", topic)
		}
		topics = append(topics, common.BytesToHash(raw))
	}

	var data []byte
	if lr.Data != "" && lr.Data != "0x" {
		var err error
		data, err = hexutil.Decode(lr.Data)
		if err != nil {
			return types.Log{}, fmt.Errorf("invalid data: %w", err)
		}
	}

	return types.Log{
		Address:     common.HexToAddress(lr.Address),
		Topics:      topics,
		Data:        data,
		BlockNumber: lr.BlockNumber,
		TxHash:      common.HexToHash(lr.TxHash),
		TxIndex:     uint(lr.TxIndex),
		BlockHash:   common.HexToHash(lr.BlockHash),
		Index:       uint(lr.LogIndex),
		Removed:     lr.Removed,
	}, nil
}
