package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Tick results recorded by the watcher.
const (
	TickIdle   = "idle"
	TickOK     = "ok"
	TickFailed = "failed"
)

// Metrics holds Prometheus collectors for fetch, watch and dispatch.
// All methods are no-ops on a nil receiver.
type Metrics struct {
	logsFetched      prometheus.Counter
	chunkRetries     prometheus.Counter
	fetchFailures    prometheus.Counter
	eventsDispatched *prometheus.CounterVec
	handlerFailures  *prometheus.CounterVec
	ticks            *prometheus.CounterVec
	cursor           *prometheus.GaugeVec
}

var (
	once    sync.Once
	metrics *Metrics
)

// Init registers metrics on the default registry (idempotent).
func Init() *Metrics {
	once.Do(func() {
		metrics = New(prometheus.DefaultRegisterer)
	})
	return metrics
}

// New builds and registers metrics on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		logsFetched: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chainwatch_logs_fetched_total",
			Help: "Total number of raw logs returned by the provider",
		}),
		chunkRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chainwatch_chunk_retries_total",
			Help: "Total number of retried block range queries",
		}),
		fetchFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chainwatch_fetch_failures_total",
			Help: "Total number of block ranges that failed after all retries",
		}),
		eventsDispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chainwatch_events_dispatched_total",
			Help: "Total number of events delivered to a handler",
		}, []string{"handler"}),
		handlerFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chainwatch_handler_failures_total",
			Help: "Total number of handler errors",
		}, []string{"handler"}),
		ticks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chainwatch_ticks_total",
			Help: "Total number of watcher ticks by result",
		}, []string{"watch", "result"}),
		cursor: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "chainwatch_cursor_block",
			Help: "Last block fully dispatched by a watcher",
		}, []string{"watch"}),
	}
	reg.MustRegister(
		m.logsFetched,
		m.chunkRetries,
		m.fetchFailures,
		m.eventsDispatched,
		m.handlerFailures,
		m.ticks,
		m.cursor,
	)
	return m
}

func (m *Metrics) LogsFetched(n int) {
	if m != nil {
		m.logsFetched.Add(float64(n))
	}
}

func (m *Metrics) ChunkRetried() {
	if m != nil {
		m.chunkRetries.Inc()
	}
}

func (m *Metrics) FetchFailed() {
	if m != nil {
		m.fetchFailures.Inc()
	}
}

func (m *Metrics) EventDispatched(handler string) {
	if m != nil {
		m.eventsDispatched.WithLabelValues(handler).Inc()
	}
}

func (m *Metrics) HandlerFailed(handler string) {
	if m != nil {
		m.handlerFailures.WithLabelValues(handler).Inc()
	}
}

func (m *Metrics) Tick(watch, result string) {
	if m != nil {
		m.ticks.WithLabelValues(watch, result).Inc()
	}
}

func (m *Metrics) Cursor(watch string, block uint64) {
	if m != nil {
		m.cursor.WithLabelValues(watch).Set(float64(block))
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
