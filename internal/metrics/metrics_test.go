package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestMetricsRecord(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.LogsFetched(3)
	m.ChunkRetried()
	m.EventDispatched("log")
	m.EventDispatched("log")
	m.HandlerFailed("jsonl")
	m.Tick("usdc", TickOK)
	m.Cursor("usdc", 1234)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}

	got := map[string]float64{}
	for _, fam := range families {
		for _, metric := range fam.GetMetric() {
			switch {
			case metric.GetCounter() != nil:
				got[fam.GetName()] += metric.GetCounter().GetValue()
			case metric.GetGauge() != nil:
				got[fam.GetName()] = metric.GetGauge().GetValue()
			}
		}
	}

	want := map[string]float64{
		"chainwatch_logs_fetched_total":      3,
		"chainwatch_chunk_retries_total":     1,
		"chainwatch_events_dispatched_total": 2,
		"chainwatch_handler_failures_total":  1,
		"chainwatch_ticks_total":             1,
		"chainwatch_cursor_block":            1234,
	}
	for name, value := range want {
		if got[name] != value {
			t.Fatalf("%s = %v, want %v", name, got[name], value)
		}
	}
}

func TestNilMetricsAreNoops(t *testing.T) {
	var m *Metrics
	m.LogsFetched(1)
	m.ChunkRetried()
	m.FetchFailed()
	m.EventDispatched("x")
	m.HandlerFailed("x")
	m.Tick("x", TickIdle)
	m.Cursor("x", 1)
}
