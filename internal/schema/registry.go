// Package schema holds the event definitions used to decode logs.
package schema

import (
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"chainwatch/internal/model"
)

// Registry maps signature hashes to event schemas. It is populated before
// decoding starts and is safe for concurrent lookups afterwards.
type Registry struct {
	mu     sync.RWMutex
	byHash map[common.Hash]model.EventSchema
	byName map[string]common.Hash
	order  []common.Hash
}

func NewRegistry() *Registry {
	return &Registry{
		byHash: make(map[common.Hash]model.EventSchema),
		byName: make(map[string]common.Hash),
	}
}

// Register adds s. Registering a signature hash twice is an error.
func (r *Registry) Register(s model.EventSchema) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.byHash[s.SignatureHash]; ok {
		return &model.DuplicateSchemaError{
			SignatureHash: s.SignatureHash,
			Name:          s.Name,
			Existing:      existing.Canonical(),
		}
	}

	fields := make([]model.Field, len(s.Fields))
	copy(fields, s.Fields)
	s.Fields = fields

	r.byHash[s.SignatureHash] = s
	// First registration wins the name; overloads stay reachable by hash.
	if _, ok := r.byName[s.Name]; !ok {
		r.byName[s.Name] = s.SignatureHash
	}
	r.order = append(r.order, s.SignatureHash)
	return nil
}

// Lookup returns the schema registered for sigHash.
func (r *Registry) Lookup(sigHash common.Hash) (model.EventSchema, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byHash[sigHash]
	if !ok {
		return model.EventSchema{}, &model.UnknownSchemaError{SignatureHash: sigHash}
	}
	return s, nil
}

// LookupName returns the first schema registered under name.
func (r *Registry) LookupName(name string) (model.EventSchema, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	hash, ok := r.byName[name]
	if !ok {
		return model.EventSchema{}, &model.UnknownSchemaError{Name: name}
	}
	return r.byHash[hash], nil
}

// Resolve accepts an event name or a 0x-prefixed signature hash.
func (r *Registry) Resolve(ref string) (model.EventSchema, error) {
	ref = strings.TrimSpace(ref)
	if strings.HasPrefix(ref, "0x") && len(ref) == 2+2*common.HashLength {
		raw, err := hexutil.Decode(ref)
		if err == nil {
			return r.Lookup(common.BytesToHash(raw))
		}
	}
	return r.LookupName(ref)
}

// Hashes returns registered signature hashes in registration order.
func (r *Registry) Hashes() []common.Hash {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]common.Hash, len(r.order))
	copy(out, r.order)
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}
