package model

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"reflect"
	"unicode/utf8"

	"github.com/ethereum/go-ethereum/common"
)

// EventRecord is the JSON representation of a DecodedEvent.
type EventRecord struct {
	ChainID     uint64                 `json:"chain_id"`
	Event       string                 `json:"event"`
	BlockNumber uint64                 `json:"block_number"`
	BlockHash   string                 `json:"block_hash"`
	TxHash      string                 `json:"tx_hash"`
	LogIndex    uint64                 `json:"log_index"`
	Address     string                 `json:"address"`
	Args        map[string]interface{} `json:"args"`
}

// NewEventRecord converts ev into its JSON-friendly form. Integers become
// decimal strings so values wider than 53 bits survive JSON consumers.
// Strings that are not valid UTF-8 are written as 0x-hex.
func NewEventRecord(ev DecodedEvent) EventRecord {
	args := make(map[string]interface{}, len(ev.Args))
	for k, v := range ev.Args {
		args[k] = jsonValue(v)
	}
	return EventRecord{
		ChainID:     ev.ChainID,
		Event:       ev.SchemaName,
		BlockNumber: ev.BlockNumber,
		BlockHash:   ev.BlockHash.Hex(),
		TxHash:      ev.TxHash.Hex(),
		LogIndex:    uint64(ev.LogIndex),
		Address:     ev.Address.Hex(),
		Args:        args,
	}
}

func jsonValue(v interface{}) interface{} {
	switch val := v.(type) {
	case nil:
		return nil
	case common.Address:
		return val.Hex()
	case common.Hash:
		return val.Hex()
	case *big.Int:
		if val == nil {
			return "0"
		}
		return val.String()
	case []byte:
		return "0x" + hex.EncodeToString(val)
	case string:
		if !utf8.ValidString(val) {
			return "0x" + hex.EncodeToString([]byte(val))
		}
		return val
	case bool:
		return val
	case uint8, uint16, uint32, uint64, int8, int16, int32, int64:
		return fmt.Sprintf("%d", val)
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Array:
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			buf := make([]byte, rv.Len())
			reflect.Copy(reflect.ValueOf(buf), rv)
			return "0x" + hex.EncodeToString(buf)
		}
		fallthrough
	case reflect.Slice:
		out := make([]interface{}, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			out[i] = jsonValue(rv.Index(i).Interface())
		}
		return out
	default:
		return v
	}
}
