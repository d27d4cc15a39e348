// Package metrics exposes Prometheus collectors for persisted state
// containers and the WebSocket relay.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/roach88/tabstate/internal/broadcast/wsrelay"
	"github.com/roach88/tabstate/internal/state"
)

// Config configures the collectors.
type Config struct {
	// Namespace defaults to "tabstate".
	Namespace string

	// Registry defaults to a fresh prometheus.Registry.
	Registry *prometheus.Registry
}

// Metrics holds the registered collectors.
type Metrics struct {
	registry *prometheus.Registry

	failures    *prometheus.CounterVec
	connections prometheus.Gauge
	connects    prometheus.Counter
	relayed     prometheus.Counter
}

var _ wsrelay.Observer = (*Metrics)(nil)

// New registers the collectors.
func New(cfg Config) *Metrics {
	if cfg.Namespace == "" {
		cfg.Namespace = "tabstate"
	}
	if cfg.Registry == nil {
		cfg.Registry = prometheus.NewRegistry()
	}
	factory := promauto.With(cfg.Registry)

	return &Metrics{
		registry: cfg.Registry,

		failures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "state_failures_total",
			Help:      "Failures swallowed by persisted state containers",
		}, []string{"kind", "op"}),

		connections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Subsystem: "relay",
			Name:      "connections",
			Help:      "Open relay WebSocket connections",
		}),

		connects: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: "relay",
			Name:      "connections_total",
			Help:      "Relay WebSocket connections accepted",
		}),

		relayed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: "relay",
			Name:      "messages_total",
			Help:      "Frames forwarded to relay peers",
		}),
	}
}

// Registry returns the registry the collectors live in.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Reporter counts each failure and forwards it to next.
func (m *Metrics) Reporter(next state.Reporter) state.Reporter {
	return state.ReporterFunc(func(f state.Failure) {
		m.failures.WithLabelValues(string(f.Kind), f.Op).Inc()
		if next != nil {
			next.Report(f)
		}
	})
}

func (m *Metrics) Connected() {
	m.connections.Inc()
	m.connects.Inc()
}

func (m *Metrics) Disconnected() {
	m.connections.Dec()
}

func (m *Metrics) Relayed() {
	m.relayed.Inc()
}
