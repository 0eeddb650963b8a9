package indexer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"chainwatch/internal/metrics"
	"chainwatch/internal/model"
	"chainwatch/internal/schema"
)

// LogSource is the chain capability the fetcher needs. Implementations return
// *model.ProviderError for transport and node failures.
type LogSource interface {
	LatestBlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, fromBlock, toBlock uint64, addresses []common.Address, topic0 []common.Hash) ([]types.Log, error)
}

// LogDecoder turns a raw log into a decoded event.
type LogDecoder interface {
	Decode(log types.Log) (model.DecodedEvent, error)
}

// FetchConfig holds chunking and retry settings.
type FetchConfig struct {
	ChunkSize    uint64
	MaxRetries   int
	RetryBackoff time.Duration
	MaxBackoff   time.Duration
	// SkipUnknown drops logs whose topic0 is not registered instead of failing.
	SkipUnknown bool
	// ChainID is stamped on every decoded event.
	ChainID uint64
}

// DefaultFetchConfig returns the settings used when none are configured.
func DefaultFetchConfig() FetchConfig {
	return FetchConfig{
		ChunkSize:    DefaultChunkSize,
		MaxRetries:   5,
		RetryBackoff: 500 * time.Millisecond,
		MaxBackoff:   30 * time.Second,
	}
}

// Query is a validated filter with its schema reference resolved to topic0 values.
type Query struct {
	Filter model.Filter
	Topic0 []common.Hash
}

// Fetcher retrieves and decodes logs over block ranges.
type Fetcher struct {
	cfg      FetchConfig
	source   LogSource
	registry *schema.Registry
	decoder  LogDecoder
	logger   *zap.Logger
	metrics  *metrics.Metrics
}

// NewFetcher builds a Fetcher. A zero chunk size or backoff falls back to
// DefaultFetchConfig; MaxRetries is taken as given.
func NewFetcher(
	cfg FetchConfig,
	source LogSource,
	registry *schema.Registry,
	decoder LogDecoder,
	logger *zap.Logger,
	m *metrics.Metrics,
) *Fetcher {
	defaults := DefaultFetchConfig()
	if cfg.ChunkSize == 0 {
		cfg.ChunkSize = defaults.ChunkSize
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = defaults.RetryBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = defaults.MaxBackoff
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{
		cfg:      cfg,
		source:   source,
		registry: registry,
		decoder:  decoder,
		logger:   logger,
		metrics:  m,
	}
}

// Plan validates filter and resolves its schema reference.
func (f *Fetcher) Plan(filter model.Filter) (Query, error) {
	if err := filter.Validate(); err != nil {
		return Query{}, err
	}
	if f.registry == nil || f.registry.Len() == 0 {
		return Query{}, fmt.Errorf("%w: no event schemas registered", model.ErrInvalidFilter)
	}
	if filter.Schema == "" {
		return Query{Filter: filter, Topic0: f.registry.Hashes()}, nil
	}

	s, err := f.registry.Resolve(filter.Schema)
	if err != nil {
		return Query{}, fmt.Errorf("%w: %w", model.ErrInvalidFilter, err)
	}
	return Query{Filter: filter, Topic0: []common.Hash{s.SignatureHash}}, nil
}

// FetchRange returns every decoded event matching filter, in chain order.
// A nil ToBlock is resolved to the current head. The call either returns all
// events of the range or an error.
func (f *Fetcher) FetchRange(ctx context.Context, filter model.Filter) ([]model.DecodedEvent, error) {
	q, err := f.Plan(filter)
	if err != nil {
		return nil, err
	}

	to := uint64(0)
	if filter.ToBlock != nil {
		to = *filter.ToBlock
	} else {
		to, err = f.Head(ctx)
		if err != nil {
			return nil, err
		}
		if to < filter.FromBlock {
			f.logger.Info("nothing to fetch", zap.Uint64("from", filter.FromBlock), zap.Uint64("head", to))
			return nil, nil
		}
	}

	return f.Fetch(ctx, q, filter.FromBlock, to)
}

// Head returns the chain head, retrying provider failures.
func (f *Fetcher) Head(ctx context.Context) (uint64, error) {
	var head uint64
	attempts, err := withRetry(ctx, f.cfg.MaxRetries, f.cfg.RetryBackoff, f.cfg.MaxBackoff, func(ctx context.Context) error {
		var err error
		head, err = f.source.LatestBlockNumber(ctx)
		if err != nil {
			f.logger.Warn("latest block fetch failed", zap.Error(err))
		}
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("get latest block after %d attempts: %w", attempts, err)
	}
	return head, nil
}

// Fetch retrieves and decodes the events of q in [from, to], chunk by chunk.
func (f *Fetcher) Fetch(ctx context.Context, q Query, from, to uint64) ([]model.DecodedEvent, error) {
	if f.decoder == nil {
		return nil, fmt.Errorf("decoder is nil")
	}

	logs, err := f.FetchLogs(ctx, q, from, to)
	if err != nil {
		return nil, err
	}
	return f.Decode(logs)
}

// Decode decodes logs fetched by FetchLogs, keeping their order.
func (f *Fetcher) Decode(logs []types.Log) ([]model.DecodedEvent, error) {
	if f.decoder == nil {
		return nil, fmt.Errorf("decoder is nil")
	}

	events := make([]model.DecodedEvent, 0, len(logs))
	skipped := 0
	for _, log := range logs {
		ev, err := f.decoder.Decode(log)
		if err != nil {
			if f.cfg.SkipUnknown && errors.Is(err, model.ErrUnknownSchema) {
				skipped++
				f.logger.Debug("skip unknown log", zap.String("tx_hash", log.TxHash.Hex()), zap.Uint("log_index", log.Index))
				continue
			}
			return nil, fmt.Errorf("decode log %s:%d: %w", log.TxHash.Hex(), log.Index, err)
		}
		ev.ChainID = f.cfg.ChainID
		events = append(events, ev)
	}
	if skipped > 0 {
		f.logger.Debug("unknown logs skipped", zap.Int("skipped", skipped))
	}
	return events, nil
}

// FetchLogs returns the raw logs of q in [from, to] in provider order. Logs
// repeated across chunks are returned once.
func (f *Fetcher) FetchLogs(ctx context.Context, q Query, from, to uint64) ([]types.Log, error) {
	if f.source == nil {
		return nil, fmt.Errorf("log source is nil")
	}

	chunks, err := SplitRange(from, to, f.cfg.ChunkSize)
	if err != nil {
		return nil, err
	}

	addresses := []common.Address{q.Filter.Address}
	seen := make(map[model.EventKey]struct{})
	out := make([]types.Log, 0)
	for _, chunk := range chunks {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		f.logger.Debug("fetch logs", zap.Uint64("from", chunk.From), zap.Uint64("to", chunk.To))

		logs, err := f.filterLogsWithRetry(ctx, chunk, addresses, q.Topic0)
		if err != nil {
			return nil, err
		}
		f.metrics.LogsFetched(len(logs))

		for _, log := range logs {
			key := model.EventKey{TxHash: log.TxHash, LogIndex: log.Index}
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, log)
		}
	}
	return out, nil
}

func (f *Fetcher) filterLogsWithRetry(ctx context.Context, chunk BlockRange, addresses []common.Address, topic0 []common.Hash) ([]types.Log, error) {
	var (
		logs  []types.Log
		calls int
	)
	attempts, err := withRetry(ctx, f.cfg.MaxRetries, f.cfg.RetryBackoff, f.cfg.MaxBackoff, func(ctx context.Context) error {
		if calls > 0 {
			f.metrics.ChunkRetried()
		}
		calls++

		var err error
		logs, err = f.source.FilterLogs(ctx, chunk.From, chunk.To, addresses, topic0)
		if err != nil {
			f.logger.Warn("filter logs failed", zap.Error(err), zap.Uint64("from", chunk.From), zap.Uint64("to", chunk.To))
		}
		return err
	})
	if err != nil {
		if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
			return nil, err
		}
		f.metrics.FetchFailed()
		return nil, &model.FetchError{From: chunk.From, To: chunk.To, Attempts: attempts, Err: err}
	}
	return logs, nil
}
