package model

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Filter selects logs of one contract within a block range.
type Filter struct {
	// Schema is an event name or a 0x-prefixed signature hash. Empty selects
	// every registered schema.
	Schema    string
	Address   common.Address
	FromBlock uint64
	// ToBlock nil means the chain head at query time.
	ToBlock *uint64
}

// Validate checks the block bounds and address.
func (f Filter) Validate() error {
	if f.Address == (common.Address{}) {
		return fmt.Errorf("%w: contract address is required", ErrInvalidFilter)
	}
	if f.ToBlock != nil && *f.ToBlock < f.FromBlock {
		return fmt.Errorf("%w: to block %d is before from block %d", ErrInvalidFilter, *f.ToBlock, f.FromBlock)
	}
	return nil
}

// Bounded returns a copy of f with a concrete upper bound.
func (f Filter) Bounded(to uint64) Filter {
	f.ToBlock = &to
	return f
}
