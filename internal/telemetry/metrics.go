package telemetry

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sinapsi/sinapsi-core/internal/engine"
)

const namespace = "sinapsi"

// Metrics exposes engine activity as Prometheus collectors on a private
// registry. It implements engine.Recorder.
type Metrics struct {
	registry *prometheus.Registry

	activations   *prometheus.CounterVec
	executions    *prometheus.CounterVec
	handoffs      *prometheus.CounterVec
	continuations *prometheus.CounterVec
	duration      *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them, together with the
// Go runtime and process collectors, on a new registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		activations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "activations_total",
			Help:      "Macro activations by trigger event category.",
		}, []string{"category"}),
		executions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "executions_total",
			Help:      "Execution reports by state.",
		}, []string{"state"}),
		handoffs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handoffs_total",
			Help:      "Runs handed to another device, by target device.",
		}, []string{"target_device"}),
		continuations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "continuations_total",
			Help:      "Inbound continuations by outcome.",
		}, []string{"outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "execution_duration_seconds",
			Help:      "Time from the start of a run to its local end.",
			Buckets:   []float64{.005, .025, .1, .5, 1, 5, 30, 120, 600},
		}, []string{"state"}),
	}

	m.registry.MustRegister(
		m.activations,
		m.executions,
		m.handoffs,
		m.continuations,
		m.duration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// WatchDropped exports a counter read from fn at scrape time, such as the
// execution log's dropped report count.
func (m *Metrics) WatchDropped(name, help string, fn func() uint64) {
	m.registry.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	}, func() float64 { return float64(fn()) }))
}

// RecordActivation implements engine.Recorder.
func (m *Metrics) RecordActivation(category engine.EventCategory, _ int) {
	m.activations.WithLabelValues(string(category)).Inc()
}

// RecordExecution implements engine.Recorder.
func (m *Metrics) RecordExecution(r engine.ExecutionReport) {
	m.executions.WithLabelValues(string(r.State)).Inc()

	if r.State == engine.StateSuspendedRemote {
		m.handoffs.WithLabelValues(strconv.Itoa(r.HandoffDevice)).Inc()
	}
	if r.State.Terminal() && !r.StartedAt.IsZero() && !r.At.IsZero() {
		m.duration.WithLabelValues(string(r.State)).Observe(r.At.Sub(r.StartedAt).Seconds())
	}
}

// RecordContinuation implements engine.Recorder.
func (m *Metrics) RecordContinuation(_ int, outcome string) {
	m.continuations.WithLabelValues(outcome).Inc()
}
