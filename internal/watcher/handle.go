package watcher

import (
	"context"
	"sync"
)

// Handle controls a watcher started with Start.
type Handle struct {
	w      *Watcher
	cancel context.CancelFunc
	done   chan struct{}

	mu  sync.Mutex
	err error
}

// Start initializes the watcher synchronously and then polls in a new
// goroutine until Stop is called or ctx is done. Initialization errors are
// returned directly.
func (w *Watcher) Start(ctx context.Context) (*Handle, error) {
	if err := w.Init(ctx); err != nil {
		w.state.Store(int32(StateStopped))
		return nil, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	h := &Handle{w: w, cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(h.done)
		err := w.Run(runCtx)
		h.mu.Lock()
		h.err = err
		h.mu.Unlock()
	}()
	return h, nil
}

// Stop signals the watcher and waits until it reaches Stopped. It is safe to
// call more than once.
func (h *Handle) Stop() {
	h.cancel()
	<-h.done
}

// Done is closed once the watcher has stopped.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Err returns the error the loop ended with, if any.
func (h *Handle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

func (h *Handle) Cursor() uint64 { return h.w.Cursor() }

func (h *Handle) State() State { return h.w.State() }
