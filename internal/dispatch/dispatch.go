package dispatch

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"chainwatch/internal/metrics"
	"chainwatch/internal/model"
)

// Handler consumes decoded events. A returned error marks the handler as
// failed for the remainder of the batch.
type Handler interface {
	Handle(ctx context.Context, ev model.DecodedEvent) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, ev model.DecodedEvent) error

func (f HandlerFunc) Handle(ctx context.Context, ev model.DecodedEvent) error { return f(ctx, ev) }

// Named pairs a handler with the name used in logs, metrics and errors.
type Named struct {
	Name    string
	Handler Handler
}

// Failure is one handler that failed during a batch.
type Failure struct {
	Handler string
	Event   model.EventKey
	Err     error
}

// DispatchError lists every handler that failed during a batch.
type DispatchError struct {
	Failures []Failure
}

func (e *DispatchError) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, fmt.Sprintf("%s on %s: %v", f.Handler, f.Event, f.Err))
	}
	return "dispatch failed: " + strings.Join(parts, "; ")
}

// Unwrap exposes the handler errors to errors.Is and errors.As.
func (e *DispatchError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures))
	for _, f := range e.Failures {
		errs = append(errs, f.Err)
	}
	return errs
}

// Dispatcher delivers batches to an ordered list of handlers.
type Dispatcher struct {
	handlers []Named
	logger   *zap.Logger
	metrics  *metrics.Metrics
}

func New(handlers []Named, logger *zap.Logger, m *metrics.Metrics) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	hs := make([]Named, len(handlers))
	copy(hs, handlers)
	for i := range hs {
		if hs[i].Name == "" {
			hs[i].Name = fmt.Sprintf("handler-%d", i)
		}
	}
	return &Dispatcher{handlers: hs, logger: logger, metrics: m}
}

// Dispatch delivers events in order. Each event goes to every handler that
// has not yet failed in this batch, in list order. It returns a
// *DispatchError when any handler failed.
func (d *Dispatcher) Dispatch(ctx context.Context, events []model.DecodedEvent) error {
	if len(events) == 0 || len(d.handlers) == 0 {
		return nil
	}

	failed := make([]bool, len(d.handlers))
	var failures []Failure
	for _, ev := range events {
		for i, h := range d.handlers {
			if failed[i] {
				continue
			}
			if err := h.Handler.Handle(ctx, ev); err != nil {
				failed[i] = true
				failures = append(failures, Failure{Handler: h.Name, Event: ev.Key(), Err: err})
				d.metrics.HandlerFailed(h.Name)
				d.logger.Warn("handler failed",
					zap.String("handler", h.Name),
					zap.String("event", ev.Key().String()),
					zap.Uint64("block_number", ev.BlockNumber),
					zap.Error(err),
				)
				continue
			}
			d.metrics.EventDispatched(h.Name)
		}
		if len(failures) == len(d.handlers) {
			break
		}
	}

	if len(failures) > 0 {
		return &DispatchError{Failures: failures}
	}
	return nil
}
