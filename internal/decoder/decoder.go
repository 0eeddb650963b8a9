// Package decoder binds raw logs to registered event schemas.
package decoder

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"chainwatch/internal/model"
	"chainwatch/internal/schema"
)

// wordSize is the ABI slot width; log data is always a whole number of words.
const wordSize = 32

// Decoder decodes logs using the schemas held by a registry.
type Decoder struct {
	registry *schema.Registry

	mu    sync.RWMutex
	cache map[common.Hash]*arguments
}

type arguments struct {
	indexed    abi.Arguments
	nonIndexed abi.Arguments
}

func New(registry *schema.Registry) *Decoder {
	return &Decoder{
		registry: registry,
		cache:    make(map[common.Hash]*arguments),
	}
}

// Decode converts log into a DecodedEvent. It returns an UnknownSchemaError
// when topic0 is not registered and a MalformedLogError when the log does
// not fit its schema. The same log always yields an equal result.
func (d *Decoder) Decode(log types.Log) (model.DecodedEvent, error) {
	if len(log.Topics) == 0 {
		return model.DecodedEvent{}, &model.MalformedLogError{
			TxHash:   log.TxHash,
			LogIndex: log.Index,
			Reason:   "log has no topics",
		}
	}

	s, err := d.registry.Lookup(log.Topics[0])
	if err != nil {
		return model.DecodedEvent{}, err
	}

	malformed := func(reason string, err error) error {
		return &model.MalformedLogError{
			Schema:   s.Name,
			TxHash:   log.TxHash,
			LogIndex: log.Index,
			Reason:   reason,
			Err:      err,
		}
	}

	args, err := d.arguments(s)
	if err != nil {
		return model.DecodedEvent{}, malformed("invalid schema", err)
	}

	topics := log.Topics[1:]
	if len(topics) != len(args.indexed) {
		return model.DecodedEvent{}, malformed(fmt.Sprintf("expected %d indexed topics, got %d", len(args.indexed), len(topics)), nil)
	}
	if len(log.Data)%wordSize != 0 {
		return model.DecodedEvent{}, malformed(fmt.Sprintf("data length %d is not a multiple of %d", len(log.Data), wordSize), nil)
	}
	if len(args.nonIndexed) == 0 && len(log.Data) > 0 {
		return model.DecodedEvent{}, malformed(fmt.Sprintf("unexpected %d bytes of data", len(log.Data)), nil)
	}

	values := make(map[string]interface{}, len(s.Fields))
	if err := abi.ParseTopicsIntoMap(values, args.indexed, topics); err != nil {
		return model.DecodedEvent{}, malformed("parse topics", err)
	}
	if len(args.nonIndexed) > 0 {
		if err := args.nonIndexed.UnpackIntoMap(values, log.Data); err != nil {
			return model.DecodedEvent{}, malformed("unpack data", err)
		}
	}

	return model.DecodedEvent{
		SchemaName:  s.Name,
		BlockNumber: log.BlockNumber,
		BlockHash:   log.BlockHash,
		TxHash:      log.TxHash,
		LogIndex:    log.Index,
		Address:     log.Address,
		Args:        values,
	}, nil
}

// arguments builds the abi argument lists of s. Schemas are immutable once
// registered, so results are cached by signature hash.
func (d *Decoder) arguments(s model.EventSchema) (*arguments, error) {
	d.mu.RLock()
	cached, ok := d.cache[s.SignatureHash]
	d.mu.RUnlock()
	if ok {
		return cached, nil
	}

	out := &arguments{}
	for _, f := range s.Fields {
		typ, err := abi.NewType(f.Type, "", nil)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", f.Name, err)
		}
		arg := abi.Argument{Name: f.Name, Type: typ, Indexed: f.Indexed}
		if f.Indexed {
			out.indexed = append(out.indexed, arg)
		} else {
			out.nonIndexed = append(out.nonIndexed, arg)
		}
	}

	d.mu.Lock()
	d.cache[s.SignatureHash] = out
	d.mu.Unlock()
	return out, nil
}
