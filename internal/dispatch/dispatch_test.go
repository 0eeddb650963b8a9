package dispatch

import (
	"context"
	"errors"
	"math/big"
	"reflect"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"chainwatch/internal/model"
)

type recorder struct {
	name   string
	failAt int
	calls  *[]string
	seen   []model.EventKey
}

func (r *recorder) Handle(_ context.Context, ev model.DecodedEvent) error {
	*r.calls = append(*r.calls, r.name)
	if r.failAt > 0 && len(r.seen)+1 == r.failAt {
		return errors.New("sink unavailable")
	}
	r.seen = append(r.seen, ev.Key())
	return nil
}

func batch(n int) []model.DecodedEvent {
	events := make([]model.DecodedEvent, 0, n)
	for i := 0; i < n; i++ {
		events = append(events, model.DecodedEvent{
			SchemaName:  "Transfer",
			BlockNumber: uint64(100 + i),
			TxHash:      common.BigToHash(big.NewInt(int64(i + 1))),
			LogIndex:    uint(i),
		})
	}
	return events
}

func TestDispatchDeliversInOrder(t *testing.T) {
	var calls []string
	a := &recorder{name: "a", calls: &calls}
	b := &recorder{name: "b", calls: &calls}
	d := New([]Named{{Name: "a", Handler: a}, {Name: "b", Handler: b}}, nil, nil)

	events := batch(3)
	if err := d.Dispatch(context.Background(), events); err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	if !reflect.DeepEqual(calls, []string{"a", "b", "a", "b", "a", "b"}) {
		t.Fatalf("call order mismatch: %v", calls)
	}
	want := []model.EventKey{events[0].Key(), events[1].Key(), events[2].Key()}
	if !reflect.DeepEqual(a.seen, want) || !reflect.DeepEqual(b.seen, want) {
		t.Fatalf("delivery mismatch: a=%v b=%v", a.seen, b.seen)
	}
}

func TestDispatchIsolatesFailingHandler(t *testing.T) {
	var calls []string
	bad := &recorder{name: "bad", failAt: 2, calls: &calls}
	good := &recorder{name: "good", calls: &calls}
	d := New([]Named{{Name: "bad", Handler: bad}, {Name: "good", Handler: good}}, nil, nil)

	events := batch(4)
	err := d.Dispatch(context.Background(), events)

	var dispatchErr *DispatchError
	if !errors.As(err, &dispatchErr) {
		t.Fatalf("expected DispatchError, got %v", err)
	}
	if len(dispatchErr.Failures) != 1 {
		t.Fatalf("expected one failure, got %+v", dispatchErr.Failures)
	}
	f := dispatchErr.Failures[0]
	if f.Handler != "bad" || f.Event != events[1].Key() {
		t.Fatalf("failure mismatch: %+v", f)
	}

	if len(bad.seen) != 1 {
		t.Fatalf("failed handler kept receiving: %v", bad.seen)
	}
	if len(good.seen) != 4 {
		t.Fatalf("healthy handler missed events: %v", good.seen)
	}
	if !reflect.DeepEqual(calls, []string{"bad", "good", "bad", "good", "good", "good"}) {
		t.Fatalf("call order mismatch: %v", calls)
	}
}

func TestDispatchErrorUnwraps(t *testing.T) {
	sentinel := errors.New("disk full")
	d := New([]Named{{Handler: HandlerFunc(func(context.Context, model.DecodedEvent) error {
		return sentinel
	})}}, nil, nil)

	err := d.Dispatch(context.Background(), batch(2))
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected handler error in chain, got %v", err)
	}
	var dispatchErr *DispatchError
	if !errors.As(err, &dispatchErr) || dispatchErr.Failures[0].Handler != "handler-0" {
		t.Fatalf("default name mismatch: %v", err)
	}
}

func TestDispatchEmptyBatch(t *testing.T) {
	called := false
	d := New([]Named{{Name: "x", Handler: HandlerFunc(func(context.Context, model.DecodedEvent) error {
		called = true
		return nil
	})}}, nil, nil)

	if err := d.Dispatch(context.Background(), nil); err != nil || called {
		t.Fatalf("expected no-op, got err=%v called=%v", err, called)
	}
}

func TestLogHandler(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	h := NewLogHandler(zap.New(core))

	ev := batch(1)[0]
	ev.Args = map[string]interface{}{"value": big.NewInt(1000)}
	if err := h.Handle(context.Background(), ev); err != nil {
		t.Fatalf("handle: %v", err)
	}

	entries := logs.FilterMessage("event").All()
	if len(entries) != 1 {
		t.Fatalf("expected one log entry, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["event"] != "Transfer" || fields["block_number"] != uint64(100) {
		t.Fatalf("fields mismatch: %+v", fields)
	}
}
