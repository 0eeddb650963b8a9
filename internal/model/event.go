package model

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// DecodedEvent is a log bound to its schema. Args holds go-ethereum abi
// values (*big.Int, common.Address, bool, [N]byte, string, []byte, ...).
type DecodedEvent struct {
	ChainID     uint64
	SchemaName  string
	BlockNumber uint64
	BlockHash   common.Hash
	TxHash      common.Hash
	LogIndex    uint
	Address     common.Address
	Args        map[string]interface{}
}

// EventKey identifies a log within the chain.
type EventKey struct {
	TxHash   common.Hash
	LogIndex uint
}

func (k EventKey) String() string {
	return fmt.Sprintf("%s:%d", k.TxHash.Hex(), k.LogIndex)
}

// Key returns the identity of the event used for deduplication.
func (e DecodedEvent) Key() EventKey {
	return EventKey{TxHash: e.TxHash, LogIndex: e.LogIndex}
}

// Before reports whether e sorts before other by (BlockNumber, LogIndex).
func (e DecodedEvent) Before(other DecodedEvent) bool {
	if e.BlockNumber != other.BlockNumber {
		return e.BlockNumber < other.BlockNumber
	}
	return e.LogIndex < other.LogIndex
}
