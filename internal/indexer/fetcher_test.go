package indexer

import (
	"context"
	"errors"
	"math/big"
	"reflect"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"chainwatch/internal/chain/chaintest"
	"chainwatch/internal/decoder"
	"chainwatch/internal/model"
	"chainwatch/internal/schema"
)

var token = common.HexToAddress("0xA0b86991c6218b36c1d19d4a2e9eb0ce3606eb48")

func newTestFetcher(t *testing.T, source LogSource, cfg FetchConfig) (*Fetcher, model.EventSchema) {
	t.Helper()
	reg := schema.NewRegistry()
	transfer, err := schema.ParseSignature("Transfer(address indexed from, address indexed to, uint256 value)")
	if err != nil {
		t.Fatalf("parse signature: %v", err)
	}
	if err := reg.Register(transfer); err != nil {
		t.Fatalf("register: %v", err)
	}
	if cfg.RetryBackoff == 0 {
		cfg.RetryBackoff = time.Millisecond
		cfg.MaxBackoff = time.Millisecond
	}
	return NewFetcher(cfg, source, reg, decoder.New(reg), nil, nil), transfer
}

func transferLog(sig common.Hash, block uint64, index uint, value int64) types.Log {
	return types.Log{
		Address: token,
		Topics: []common.Hash{
			sig,
			common.BytesToHash(common.HexToAddress("0x01").Bytes()),
			common.BytesToHash(common.HexToAddress("0x02").Bytes()),
		},
		Data:        common.LeftPadBytes(big.NewInt(value).Bytes(), 32),
		BlockNumber: block,
		TxHash:      common.BigToHash(big.NewInt(int64(block*1000) + int64(index))),
		Index:       index,
	}
}

func keys(events []model.DecodedEvent) []model.EventKey {
	out := make([]model.EventKey, 0, len(events))
	for _, ev := range events {
		out = append(out, ev.Key())
	}
	return out
}

func u64(v uint64) *uint64 { return &v }

func TestFetchRangeChunkEquivalence(t *testing.T) {
	mem := chaintest.NewMemoryChain(300)
	chunked, transfer := newTestFetcher(t, mem, FetchConfig{ChunkSize: 100})
	for _, block := range []uint64{0, 42, 99, 100, 150, 199, 200, 250} {
		mem.AddLogs(transferLog(transfer.SignatureHash, block, 0, int64(block)), transferLog(transfer.SignatureHash, block, 1, 1))
	}

	filter := model.Filter{Address: token, FromBlock: 0, ToBlock: u64(250)}

	got, err := chunked.FetchRange(context.Background(), filter)
	if err != nil {
		t.Fatalf("chunked fetch: %v", err)
	}

	whole, _ := newTestFetcher(t, mem, FetchConfig{ChunkSize: 1000})
	want, err := whole.FetchRange(context.Background(), filter)
	if err != nil {
		t.Fatalf("single fetch: %v", err)
	}

	if len(got) != 16 {
		t.Fatalf("expected 16 events, got %d", len(got))
	}
	if !reflect.DeepEqual(keys(got), keys(want)) {
		t.Fatalf("chunked result differs from single query")
	}

	ranges := mem.Queries()
	wantRanges := []chaintest.Query{{From: 0, To: 99}, {From: 100, To: 199}, {From: 200, To: 250}, {From: 0, To: 250}}
	if !reflect.DeepEqual(ranges, wantRanges) {
		t.Fatalf("queries mismatch: %+v", ranges)
	}
}

func TestFetchRangeOrdered(t *testing.T) {
	mem := chaintest.NewMemoryChain(50)
	f, transfer := newTestFetcher(t, mem, FetchConfig{ChunkSize: 7})
	mem.AddLogs(
		transferLog(transfer.SignatureHash, 30, 2, 1),
		transferLog(transfer.SignatureHash, 3, 0, 1),
		transferLog(transfer.SignatureHash, 30, 0, 1),
		transferLog(transfer.SignatureHash, 12, 5, 1),
	)

	events, err := f.FetchRange(context.Background(), model.Filter{Address: token, Schema: "Transfer"})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(events) != 4 {
		t.Fatalf("expected 4 events, got %d", len(events))
	}
	for i := 1; i < len(events); i++ {
		if !events[i-1].Before(events[i]) {
			t.Fatalf("events out of order at %d: %+v then %+v", i, events[i-1].Key(), events[i].Key())
		}
	}
}

func TestFetchRangeRetriesTransientFailures(t *testing.T) {
	mem := chaintest.NewMemoryChain(10)
	f, transfer := newTestFetcher(t, mem, FetchConfig{ChunkSize: 100, MaxRetries: 3})
	mem.AddLogs(transferLog(transfer.SignatureHash, 5, 0, 9))
	mem.FailFilterLogs(2, errors.New("429 too many requests"))

	events, err := f.FetchRange(context.Background(), model.Filter{Address: token, ToBlock: u64(10)})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if len(mem.Queries()) != 3 {
		t.Fatalf("expected 3 queries, got %d", len(mem.Queries()))
	}
}

func TestFetchRangeExhaustedRetries(t *testing.T) {
	mem := chaintest.NewMemoryChain(300)
	f, _ := newTestFetcher(t, mem, FetchConfig{ChunkSize: 100, MaxRetries: 2})
	mem.FailFilterLogs(100, errors.New("connection reset"))

	events, err := f.FetchRange(context.Background(), model.Filter{Address: token, FromBlock: 0, ToBlock: u64(250)})
	if events != nil {
		t.Fatalf("expected no partial results, got %d", len(events))
	}

	var fetchErr *model.FetchError
	if !errors.As(err, &fetchErr) {
		t.Fatalf("expected FetchError, got %v", err)
	}
	if fetchErr.From != 0 || fetchErr.To != 99 || fetchErr.Attempts != 3 {
		t.Fatalf("fetch error mismatch: %+v", fetchErr)
	}
	if !errors.Is(err, model.ErrProvider) || !errors.Is(err, model.ErrFetch) {
		t.Fatalf("expected provider and fetch sentinels, got %v", err)
	}
}

func TestFetchRangeUnknownSchema(t *testing.T) {
	mem := chaintest.NewMemoryChain(10)
	strict, transfer := newTestFetcher(t, mem, FetchConfig{})

	unknown := transferLog(common.HexToHash("0xdead"), 4, 0, 1)
	mem.AddLogs(transferLog(transfer.SignatureHash, 2, 0, 1), unknown)

	plan, err := strict.Plan(model.Filter{Address: token})
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	// Drop the topic filter so the unregistered log comes back.
	plan.Topic0 = nil

	if _, err := strict.Fetch(context.Background(), plan, 0, 10); !errors.Is(err, model.ErrUnknownSchema) {
		t.Fatalf("expected unknown schema error, got %v", err)
	}

	lenient, _ := newTestFetcher(t, mem, FetchConfig{SkipUnknown: true})
	events, err := lenient.Fetch(context.Background(), plan, 0, 10)
	if err != nil {
		t.Fatalf("lenient fetch: %v", err)
	}
	if len(events) != 1 || events[0].BlockNumber != 2 {
		t.Fatalf("expected only the known event, got %+v", events)
	}
}

type overlapSource struct {
	logs []types.Log
}

func (s overlapSource) LatestBlockNumber(context.Context) (uint64, error) { return 20, nil }

func (s overlapSource) FilterLogs(context.Context, uint64, uint64, []common.Address, []common.Hash) ([]types.Log, error) {
	return s.logs, nil
}

func TestFetchDropsRepeatedLogs(t *testing.T) {
	f, transfer := newTestFetcher(t, nil, FetchConfig{ChunkSize: 10})
	f.source = overlapSource{logs: []types.Log{transferLog(transfer.SignatureHash, 10, 0, 1)}}

	events, err := f.FetchRange(context.Background(), model.Filter{Address: token, ToBlock: u64(20)})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected repeated log to be dropped, got %d events", len(events))
	}
}

func TestPlanRejectsInvalidFilters(t *testing.T) {
	f, transfer := newTestFetcher(t, chaintest.NewMemoryChain(0), FetchConfig{})

	cases := []model.Filter{
		{},
		{Address: token, FromBlock: 10, ToBlock: u64(9)},
		{Address: token, Schema: "Approval"},
	}
	for _, filter := range cases {
		if _, err := f.Plan(filter); !errors.Is(err, model.ErrInvalidFilter) {
			t.Fatalf("filter %+v: expected invalid filter, got %v", filter, err)
		}
	}

	q, err := f.Plan(model.Filter{Address: token, Schema: transfer.SignatureHash.Hex()})
	if err != nil {
		t.Fatalf("plan by hash: %v", err)
	}
	if !reflect.DeepEqual(q.Topic0, []common.Hash{transfer.SignatureHash}) {
		t.Fatalf("topic mismatch: %v", q.Topic0)
	}
}

func TestFetchRangeFutureStart(t *testing.T) {
	mem := chaintest.NewMemoryChain(5)
	f, _ := newTestFetcher(t, mem, FetchConfig{})

	events, err := f.FetchRange(context.Background(), model.Filter{Address: token, FromBlock: 6})
	if err != nil || len(events) != 0 {
		t.Fatalf("expected empty result, got %d events, err=%v", len(events), err)
	}
	if len(mem.Queries()) != 0 {
		t.Fatalf("expected no log queries")
	}
}

func TestFetchLogsThenDecode(t *testing.T) {
	mem := chaintest.NewMemoryChain(20)
	f, transfer := newTestFetcher(t, mem, FetchConfig{ChunkSize: 5, ChainID: 56})
	mem.AddLogs(transferLog(transfer.SignatureHash, 3, 0, 1000), transferLog(transfer.SignatureHash, 17, 1, 5))

	q, err := f.Plan(model.Filter{Address: token, Schema: "Transfer"})
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	logs, err := f.FetchLogs(context.Background(), q, 0, 20)
	if err != nil {
		t.Fatalf("fetch logs: %v", err)
	}
	queries := len(mem.Queries())

	events, err := f.Decode(logs)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(mem.Queries()) != queries {
		t.Fatalf("decode should not query the chain")
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	for _, ev := range events {
		if ev.ChainID != 56 {
			t.Fatalf("chain id not stamped: %+v", ev.Key())
		}
	}
	if events[0].Args["value"].(*big.Int).Int64() != 1000 {
		t.Fatalf("value mismatch: %v", events[0].Args["value"])
	}
}
