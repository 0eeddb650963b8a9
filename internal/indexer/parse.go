package indexer

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// ParseAddress converts a hex string into common.Address.
func ParseAddress(input string) (common.Address, error) {
	input = strings.TrimSpace(input)
	if !common.IsHexAddress(input) {
		return common.Address{}, fmt.Errorf("invalid address: %s", input)
	}
	return common.HexToAddress(input), nil
}

// ParseAddresses converts string addresses into common.Address.
func ParseAddresses(inputs []string) ([]common.Address, error) {
	addresses := make([]common.Address, 0, len(inputs))
	for _, input := range inputs {
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		addr, err := ParseAddress(input)
		if err != nil {
			return nil, err
		}
		addresses = append(addresses, addr)
	}
	return addresses, nil
}

// ParseBlockTag parses a block number or "latest" (and the empty string),
// which yields nil. Negative numbers are rejected.
func ParseBlockTag(input string) (*uint64, error) {
	input = strings.TrimSpace(input)
	if input == "" || strings.EqualFold(input, "latest") {
		return nil, nil
	}
	if strings.HasPrefix(input, "-") {
		return nil, fmt.Errorf("block number must not be negative: %s", input)
	}

	var (
		n   uint64
		err error
	)
	if strings.HasPrefix(input, "0x") {
		n, err = strconv.ParseUint(input[2:], 16, 64)
	} else {
		n, err = strconv.ParseUint(input, 10, 64)
	}
	if err != nil {
		return nil, fmt.Errorf("invalid block number: %s", input)
	}
	return &n, nil
}
