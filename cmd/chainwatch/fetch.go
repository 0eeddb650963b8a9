package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"chainwatch/internal/config"
	"chainwatch/internal/dispatch"
	"chainwatch/internal/indexer"
	"chainwatch/internal/model"
	"chainwatch/internal/storage"
)

func runFetch(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if err := cfg.Validate(); err != nil {
		return err
	}

	addresses, err := indexer.ParseAddresses(cfg.Addresses)
	if err != nil {
		return err
	}
	fromTag, err := indexer.ParseBlockTag(cfg.FromBlock)
	if err != nil {
		return fmt.Errorf("from block: %w", err)
	}
	toBlock, err := indexer.ParseBlockTag(cfg.ToBlock)
	if err != nil {
		return fmt.Errorf("to block: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	eng, err := newEngine(ctx, cfg, logger, nil)
	if err != nil {
		return err
	}
	defer eng.Close()

	sinks, err := openSinks(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer sinks.Close()

	var fromBlock uint64
	if fromTag != nil {
		fromBlock = *fromTag
	} else if cfg.FromBlock != "" {
		if fromBlock, err = eng.fetcher.Head(ctx); err != nil {
			return err
		}
	}

	if toBlock == nil {
		head, err := eng.fetcher.Head(ctx)
		if err != nil {
			return err
		}
		toBlock = &head
	}
	if *toBlock < fromBlock {
		logger.Info("nothing to fetch", zap.Uint64("from", fromBlock), zap.Uint64("to", *toBlock))
		return nil
	}

	var raw *storage.JSONLWriter
	if rawOut, _ := cmd.Flags().GetString("raw-out"); rawOut != "" {
		if raw, err = storage.NewJSONLWriter(rawOut, false); err != nil {
			return err
		}
		defer raw.Close()
	}

	logger.Info("fetch start",
		zap.String("rpc", cfg.RPCURL),
		zap.Uint64("chain_id", eng.chainID),
		zap.Uint64("from", fromBlock),
		zap.Uint64("to", *toBlock),
		zap.Int("addresses", len(addresses)),
		zap.Int("schemas", eng.registry.Len()),
		zap.Uint64("chunk_size", cfg.ChunkSize),
		zap.Strings("sinks", sinks.names()),
	)

	var logHandler dispatch.Handler
	if cfg.LogEvents {
		logHandler = dispatch.NewLogHandler(logger)
	}

	total := 0
	for _, addr := range addresses {
		filter := model.Filter{Schema: cfg.Event, Address: addr, FromBlock: fromBlock, ToBlock: toBlock}

		var events []model.DecodedEvent
		if raw != nil {
			events, err = fetchWithRawLogs(ctx, eng, filter, raw)
		} else {
			events, err = eng.fetcher.FetchRange(ctx, filter)
		}
		if err != nil {
			return fmt.Errorf("fetch %s: %w", addr.Hex(), err)
		}

		for _, sk := range sinks.list {
			if err := sk.store.PutEventBatch(ctx, events); err != nil {
				return fmt.Errorf("store events in %s: %w", sk.name, err)
			}
		}
		if logHandler != nil {
			for _, ev := range events {
				_ = logHandler.Handle(ctx, ev)
			}
		}

		total += len(events)
		logger.Info("address complete", zap.String("address", addr.Hex()), zap.Int("events", len(events)))
	}

	logger.Info("fetch complete", zap.Int("events", total))
	return nil
}

// fetchWithRawLogs fetches the logs of filter once, writes them to w and
// decodes the same slice.
func fetchWithRawLogs(ctx context.Context, eng *engine, filter model.Filter, w *storage.JSONLWriter) ([]model.DecodedEvent, error) {
	q, err := eng.fetcher.Plan(filter)
	if err != nil {
		return nil, err
	}

	logs, err := eng.fetcher.FetchLogs(ctx, q, filter.FromBlock, *filter.ToBlock)
	if err != nil {
		return nil, err
	}
	for _, log := range logs {
		if err := w.Write(model.NewLogRecord(eng.chainID, log)); err != nil {
			return nil, err
		}
	}
	return eng.fetcher.Decode(logs)
}
