package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"chainwatch/internal/config"
	"chainwatch/internal/dispatch"
	"chainwatch/internal/indexer"
	"chainwatch/internal/metrics"
	"chainwatch/internal/model"
	"chainwatch/internal/watcher"
)

func runWatch(cmd *cobra.Command, _ []string) error {
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

	if err := cfg.ValidateWatch(); err != nil {
		return err
	}

	addresses, err := indexer.ParseAddresses(cfg.Addresses)
	if err != nil {
		return err
	}
	startCursor, err := indexer.ParseBlockTag(cfg.StartCursor)
	if err != nil {
		return fmt.Errorf("start cursor: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var m *metrics.Metrics
	if cfg.MetricsAddr != "" {
		m = metrics.Init()
	}

	eng, err := newEngine(ctx, cfg, logger, m)
	if err != nil {
		return err
	}
	defer eng.Close()

	sinks, err := openSinks(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer sinks.Close()

	handlers := make([]dispatch.Named, 0, len(sinks.list)+1)
	if cfg.LogEvents {
		handlers = append(handlers, dispatch.Named{Name: "log", Handler: dispatch.NewLogHandler(logger)})
	}
	for _, sk := range sinks.list {
		handlers = append(handlers, dispatch.Named{Name: sk.name, Handler: sk.handler})
	}
	if len(handlers) == 0 {
		return fmt.Errorf("no event handlers configured")
	}

	watchers := make([]*watcher.Watcher, 0, len(addresses))
	for _, addr := range addresses {
		w, err := watcher.New(watcher.Config{
			Filter:        model.Filter{Schema: cfg.Event, Address: addr},
			PollInterval:  cfg.PollInterval,
			StartCursor:   startCursor,
			Confirmations: cfg.Confirmations,
			Checkpoint:    sinks.checkpoint,
		}, eng.fetcher, dispatch.New(handlers, logger, m), logger, m)
		if err != nil {
			return err
		}
		if err := w.Init(ctx); err != nil {
			return fmt.Errorf("init watcher %s: %w", w.Name(), err)
		}
		watchers = append(watchers, w)
	}

	logger.Info("watch start",
		zap.String("rpc", cfg.RPCURL),
		zap.Uint64("chain_id", eng.chainID),
		zap.Int("watchers", len(watchers)),
		zap.Int("schemas", eng.registry.Len()),
		zap.Duration("poll_interval", cfg.PollInterval),
		zap.Uint64("confirmations", cfg.Confirmations),
		zap.Strings("sinks", sinks.names()),
	)

	g, gctx := errgroup.WithContext(ctx)
	for _, w := range watchers {
		w := w
		g.Go(func() error { return w.Run(gctx) })
	}
	if cfg.MetricsAddr != "" {
		g.Go(func() error { return serveMetrics(gctx, cfg.MetricsAddr, logger) })
	}

	return g.Wait()
}

func serveMetrics(ctx context.Context, addr string, logger *zap.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("metrics listening", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}
