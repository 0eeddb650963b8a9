package watcher

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"chainwatch/internal/dispatch"
	"chainwatch/internal/indexer"
	"chainwatch/internal/metrics"
	"chainwatch/internal/model"
)

// ErrStopped is returned by Tick once the watcher has stopped.
var ErrStopped = errors.New("watcher stopped")

// State is the watcher lifecycle phase.
type State int32

const (
	StateInitializing State = iota
	StatePolling
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StatePolling:
		return "polling"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// CheckpointStore persists watcher cursors by name.
type CheckpointStore interface {
	LoadCursor(ctx context.Context, name string) (uint64, bool, error)
	SaveCursor(ctx context.Context, name string, block uint64) error
}

// Config holds the settings for one watcher.
type Config struct {
	// Name identifies the watcher in logs, metrics and checkpoints. Defaults
	// to the contract address, suffixed with the schema when one is set.
	Name   string
	Filter model.Filter
	// PollInterval is the sleep between ticks.
	PollInterval time.Duration
	// StartCursor is the last block treated as already dispatched. Nil
	// resumes from the checkpoint, or starts at the current head.
	StartCursor *uint64
	// Confirmations holds dispatch back this many blocks behind the head.
	Confirmations uint64
	Checkpoint    CheckpointStore
}

// Watcher polls one filter and dispatches new events exactly once per
// advance of its cursor. The cursor is the last block whose events were
// dispatched successfully.
type Watcher struct {
	cfg        Config
	fetcher    *indexer.Fetcher
	dispatcher *dispatch.Dispatcher
	logger     *zap.Logger
	metrics    *metrics.Metrics

	query  indexer.Query
	cursor atomic.Uint64
	state  atomic.Int32
}

func New(
	cfg Config,
	fetcher *indexer.Fetcher,
	dispatcher *dispatch.Dispatcher,
	logger *zap.Logger,
	m *metrics.Metrics,
) (*Watcher, error) {
	if fetcher == nil {
		return nil, fmt.Errorf("fetcher is nil")
	}
	if dispatcher == nil {
		return nil, fmt.Errorf("dispatcher is nil")
	}
	if cfg.PollInterval <= 0 {
		return nil, fmt.Errorf("poll interval must be greater than zero")
	}
	if cfg.Filter.ToBlock != nil {
		return nil, fmt.Errorf("%w: watch filter must not set a to block", model.ErrInvalidFilter)
	}
	if cfg.Name == "" {
		cfg.Name = cfg.Filter.Address.Hex()
		if cfg.Filter.Schema != "" {
			cfg.Name += "/" + cfg.Filter.Schema
		}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Watcher{
		cfg:        cfg,
		fetcher:    fetcher,
		dispatcher: dispatcher,
		logger:     logger.With(zap.String("watch", cfg.Name)),
		metrics:    m,
	}, nil
}

// Name returns the watcher name.
func (w *Watcher) Name() string { return w.cfg.Name }

// Cursor returns the last dispatched block.
func (w *Watcher) Cursor() uint64 { return w.cursor.Load() }

// State returns the current lifecycle phase.
func (w *Watcher) State() State { return State(w.state.Load()) }

// Init validates the filter and sets the starting cursor. It moves the
// watcher from Initializing to Polling and may only be called once.
func (w *Watcher) Init(ctx context.Context) error {
	if w.State() != StateInitializing {
		return fmt.Errorf("watcher %s already initialized", w.cfg.Name)
	}

	q, err := w.fetcher.Plan(w.cfg.Filter)
	if err != nil {
		return err
	}
	w.query = q

	cursor, source, err := w.startCursor(ctx)
	if err != nil {
		return err
	}
	w.cursor.Store(cursor)
	w.metrics.Cursor(w.cfg.Name, cursor)
	w.state.Store(int32(StatePolling))

	w.logger.Info("watcher initialized", zap.Uint64("cursor", cursor), zap.String("source", source))
	return nil
}

func (w *Watcher) startCursor(ctx context.Context) (uint64, string, error) {
	if w.cfg.StartCursor != nil {
		return *w.cfg.StartCursor, "explicit", nil
	}

	if w.cfg.Checkpoint != nil {
		cursor, ok, err := w.cfg.Checkpoint.LoadCursor(ctx, w.cfg.Name)
		if err != nil {
			return 0, "", fmt.Errorf("load checkpoint: %w", err)
		}
		if ok {
			return cursor, "checkpoint", nil
		}
	}

	head, err := w.fetcher.Head(ctx)
	if err != nil {
		return 0, "", err
	}
	safe, _ := safeHead(head, w.cfg.Confirmations)
	return safe, "head", nil
}

// Tick performs one poll: it reads the head, fetches the blocks after the
// cursor up to the confirmed head, and dispatches them. The cursor advances
// only when the whole batch was dispatched. It returns the number of events
// dispatched.
func (w *Watcher) Tick(ctx context.Context) (int, error) {
	switch w.State() {
	case StateInitializing:
		return 0, fmt.Errorf("watcher %s not initialized", w.cfg.Name)
	case StateStopped:
		return 0, ErrStopped
	}

	head, err := w.fetcher.Head(ctx)
	if err != nil {
		w.metrics.Tick(w.cfg.Name, metrics.TickFailed)
		return 0, err
	}

	cursor := w.cursor.Load()
	safe, ok := safeHead(head, w.cfg.Confirmations)
	if !ok || safe <= cursor {
		w.metrics.Tick(w.cfg.Name, metrics.TickIdle)
		return 0, nil
	}

	from := cursor + 1
	events, err := w.fetcher.Fetch(ctx, w.query, from, safe)
	if err != nil {
		w.metrics.Tick(w.cfg.Name, metrics.TickFailed)
		return 0, fmt.Errorf("fetch blocks [%d, %d]: %w", from, safe, err)
	}
	events = dedupe(events)

	// A batch that started dispatching runs to completion even when stop is
	// requested mid-batch.
	dctx := context.WithoutCancel(ctx)
	if err := w.dispatcher.Dispatch(dctx, events); err != nil {
		w.metrics.Tick(w.cfg.Name, metrics.TickFailed)
		return 0, err
	}

	w.cursor.Store(safe)
	w.metrics.Cursor(w.cfg.Name, safe)
	w.metrics.Tick(w.cfg.Name, metrics.TickOK)

	if w.cfg.Checkpoint != nil {
		if err := w.cfg.Checkpoint.SaveCursor(dctx, w.cfg.Name, safe); err != nil {
			w.logger.Warn("save checkpoint failed", zap.Uint64("cursor", safe), zap.Error(err))
		}
	}

	w.logger.Debug("tick complete",
		zap.Uint64("from", from),
		zap.Uint64("to", safe),
		zap.Int("events", len(events)),
	)
	return len(events), nil
}

// Run initializes the watcher if needed and polls until ctx is done. Tick
// failures are logged and retried on the next tick. Run returns a non-nil
// error only when initialization fails.
func (w *Watcher) Run(ctx context.Context) error {
	if w.State() == StateInitializing {
		if err := w.Init(ctx); err != nil {
			w.state.Store(int32(StateStopped))
			return err
		}
	}
	defer w.stop()

	for {
		if ctx.Err() != nil {
			return nil
		}

		n, err := w.Tick(ctx)
		if err != nil {
			if errors.Is(err, ErrStopped) {
				return nil
			}
			if ctx.Err() == nil {
				w.logger.Warn("tick failed", zap.Uint64("cursor", w.Cursor()), zap.Error(err))
			}
		} else if n > 0 {
			w.logger.Info("events dispatched", zap.Int("events", n), zap.Uint64("cursor", w.Cursor()))
		}

		timer := time.NewTimer(w.cfg.PollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

func (w *Watcher) stop() {
	if State(w.state.Swap(int32(StateStopped))) != StateStopped {
		w.logger.Info("watcher stopped", zap.Uint64("cursor", w.Cursor()))
	}
}

func safeHead(head, confirmations uint64) (uint64, bool) {
	if head < confirmations {
		return 0, false
	}
	return head - confirmations, true
}

func dedupe(events []model.DecodedEvent) []model.DecodedEvent {
	seen := make(map[model.EventKey]struct{}, len(events))
	out := make([]model.DecodedEvent, 0, len(events))
	for _, ev := range events {
		key := ev.Key()
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, ev)
	}
	return out
}
