package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"chainwatch/internal/chain"
	"chainwatch/internal/config"
	"chainwatch/internal/decoder"
	"chainwatch/internal/dispatch"
	"chainwatch/internal/indexer"
	"chainwatch/internal/kafka"
	"chainwatch/internal/metrics"
	"chainwatch/internal/schema"
	"chainwatch/internal/storage"
	"chainwatch/internal/storage/postgres"
	"chainwatch/internal/storage/sqlite"
	"chainwatch/internal/watcher"
)

func loadRegistry(files, signatures []string, logger *zap.Logger) (*schema.Registry, error) {
	reg := schema.NewRegistry()
	for _, path := range files {
		schemas, err := schema.LoadFile(path, logger)
		if err != nil {
			return nil, err
		}
		if err := reg.RegisterAll(schemas); err != nil {
			return nil, fmt.Errorf("register %s: %w", path, err)
		}
	}
	for _, sig := range signatures {
		s, err := schema.ParseSignature(sig)
		if err != nil {
			return nil, err
		}
		if err := reg.Register(s); err != nil {
			return nil, err
		}
	}
	if reg.Len() == 0 {
		return nil, fmt.Errorf("no event schemas loaded")
	}
	return reg, nil
}

type engine struct {
	client   *chain.Client
	chainID  uint64
	registry *schema.Registry
	fetcher  *indexer.Fetcher
}

func newEngine(ctx context.Context, cfg config.Config, logger *zap.Logger, m *metrics.Metrics) (*engine, error) {
	reg, err := loadRegistry(cfg.SchemaFiles, cfg.Signatures, logger)
	if err != nil {
		return nil, err
	}

	client, err := chain.NewClient(ctx, cfg.RPCURL, cfg.RPCTimeout)
	if err != nil {
		return nil, fmt.Errorf("connect rpc: %w", err)
	}

	id, err := client.ChainID(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("get chain id: %w", err)
	}
	if !id.IsUint64() {
		client.Close()
		return nil, fmt.Errorf("chain id does not fit in uint64: %s", id)
	}

	fetcher := indexer.NewFetcher(indexer.FetchConfig{
		ChunkSize:    cfg.ChunkSize,
		MaxRetries:   cfg.MaxRetries,
		RetryBackoff: cfg.RetryBackoff,
		MaxBackoff:   cfg.MaxBackoff,
		SkipUnknown:  cfg.SkipUnknown,
		ChainID:      id.Uint64(),
	}, client, reg, decoder.New(reg), logger, m)

	return &engine{client: client, chainID: id.Uint64(), registry: reg, fetcher: fetcher}, nil
}

func (e *engine) Close() {
	e.client.Close()
}

type sink struct {
	name    string
	store   storage.Storage
	handler dispatch.Handler
}

// sinks holds the configured event sinks and, for watch, the store that
// keeps cursors.
type sinks struct {
	list       []sink
	checkpoint watcher.CheckpointStore
	closers    []func()
}

func openSinks(ctx context.Context, cfg config.Config, logger *zap.Logger) (*sinks, error) {
	s := &sinks{}

	if cfg.Out != "" {
		store := storage.NewJsonlStorage(cfg.Out)
		s.list = append(s.list, sink{name: "jsonl", store: store, handler: storage.Handler{Storage: store}})
	}

	if cfg.SQLite != "" {
		store, err := sqlite.Open(cfg.SQLite)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.closers = append(s.closers, func() { _ = store.Close() })
		s.list = append(s.list, sink{name: "sqlite", store: store, handler: store})
		s.checkpoint = store
	}

	if cfg.PGDSN != "" {
		store, err := postgres.NewStore(ctx, cfg.PGDSN)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.closers = append(s.closers, store.Close)
		if err := store.Migrate(ctx); err != nil {
			s.Close()
			return nil, err
		}
		s.list = append(s.list, sink{name: "postgres", store: store, handler: store})
		s.checkpoint = store
	}

	if cfg.Kafka.Enabled() {
		pub, err := kafka.NewPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.closers = append(s.closers, func() {
			if err := pub.Close(); err != nil {
				logger.Warn("close kafka publisher", zap.Error(err))
			}
		})
		s.list = append(s.list, sink{name: "kafka", store: pub, handler: pub})
	}

	if s.checkpoint == nil && cfg.Checkpoint != "" {
		s.checkpoint = indexer.NewFileCheckpointStore(cfg.Checkpoint)
	}

	return s, nil
}

func (s *sinks) names() []string {
	out := make([]string, 0, len(s.list))
	for _, sk := range s.list {
		out = append(out, sk.name)
	}
	return out
}

func (s *sinks) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}
