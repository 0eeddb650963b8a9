// Package chaintest provides an in-memory log source for tests.
package chaintest

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"chainwatch/internal/model"
)

// Query records one FilterLogs call served by MemoryChain.
type Query struct {
	From uint64
	To   uint64
}

// MemoryChain is an in-process chain with a settable head. Tests use it as a
// log source with injectable provider failures.
type MemoryChain struct {
	mu           sync.Mutex
	head         uint64
	logs         []types.Log
	filterFails  int
	headFails    int
	failErr      error
	queries      []Query
	blockNumbers int
}

func NewMemoryChain(head uint64) *MemoryChain {
	return &MemoryChain{head: head}
}

// SetHead moves the chain head.
func (m *MemoryChain) SetHead(head uint64) {
	m.mu.Lock()
	m.head = head
	m.mu.Unlock()
}

// AddLogs appends logs, keeping the store ordered by block and log index.
func (m *MemoryChain) AddLogs(logs ...types.Log) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logs = append(m.logs, logs...)
	sort.SliceStable(m.logs, func(i, j int) bool {
		if m.logs[i].BlockNumber != m.logs[j].BlockNumber {
			return m.logs[i].BlockNumber < m.logs[j].BlockNumber
		}
		return m.logs[i].Index < m.logs[j].Index
	})
}

// FailFilterLogs makes the next n FilterLogs calls fail with err.
func (m *MemoryChain) FailFilterLogs(n int, err error) {
	m.mu.Lock()
	m.filterFails = n
	m.failErr = err
	m.mu.Unlock()
}

// FailLatestBlock makes the next n LatestBlockNumber calls fail with err.
func (m *MemoryChain) FailLatestBlock(n int, err error) {
	m.mu.Lock()
	m.headFails = n
	m.failErr = err
	m.mu.Unlock()
}

// Queries returns the FilterLogs ranges served so far, failed calls included.
func (m *MemoryChain) Queries() []Query {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Query, len(m.queries))
	copy(out, m.queries)
	return out
}

// HeadCalls returns how many times LatestBlockNumber was called.
func (m *MemoryChain) HeadCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.blockNumbers
}

func (m *MemoryChain) LatestBlockNumber(ctx context.Context) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blockNumbers++
	if m.headFails > 0 {
		m.headFails--
		return 0, model.NewProviderError("eth_blockNumber", m.failure())
	}
	return m.head, nil
}

func (m *MemoryChain) FilterLogs(
	ctx context.Context,
	fromBlock uint64,
	toBlock uint64,
	addresses []common.Address,
	topic0 []common.Hash,
) ([]types.Log, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queries = append(m.queries, Query{From: fromBlock, To: toBlock})
	if m.filterFails > 0 {
		m.filterFails--
		return nil, model.NewProviderError("eth_getLogs", m.failure())
	}

	out := make([]types.Log, 0)
	for _, log := range m.logs {
		if log.BlockNumber < fromBlock || log.BlockNumber > toBlock {
			continue
		}
		if len(addresses) > 0 && !containsAddress(addresses, log.Address) {
			continue
		}
		if len(topic0) > 0 && (len(log.Topics) == 0 || !containsHash(topic0, log.Topics[0])) {
			continue
		}
		out = append(out, log)
	}
	return out, nil
}

func (m *MemoryChain) failure() error {
	if m.failErr != nil {
		return m.failErr
	}
	return errors.New("injected failure")
}

func containsAddress(set []common.Address, addr common.Address) bool {
	for _, a := range set {
		if a == addr {
			return true
		}
	}
	return false
}

func containsHash(set []common.Hash, h common.Hash) bool {
	for _, v := range set {
		if v == h {
			return true
		}
	}
	return false
}
