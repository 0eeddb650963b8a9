package model

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Field is a single event parameter in declared order.
type Field struct {
	Name    string `json:"name" yaml:"name"`
	Type    string `json:"type" yaml:"type"`
	Indexed bool   `json:"indexed" yaml:"indexed"`
}

// EventSchema describes how a log with a given topic0 is decoded.
type EventSchema struct {
	Name          string
	SignatureHash common.Hash
	Fields        []Field
}

// Canonical returns the canonical signature, e.g. Transfer(address,address,uint256).
func (s EventSchema) Canonical() string {
	types := make([]string, 0, len(s.Fields))
	for _, f := range s.Fields {
		types = append(types, f.Type)
	}
	return s.Name + "(" + strings.Join(types, ",") + ")"
}

// IndexedCount returns the number of fields carried in topics[1:].
func (s EventSchema) IndexedCount() int {
	n := 0
	for _, f := range s.Fields {
		if f.Indexed {
			n++
		}
	}
	return n
}
