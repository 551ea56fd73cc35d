package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "heartbeat"

// Delivery outcomes and prune results used as label values.
const (
	OutcomeDelivered = "delivered"
	OutcomeFailed    = "failed"
	OutcomeGone      = "gone"

	ResultRemoved = "removed"
	ResultFailed  = "failed"
)

type Metrics struct {
	TicksTotal            *prometheus.CounterVec
	TickDuration          prometheus.Histogram
	EnumeratedConnections prometheus.Gauge
	DeliveriesTotal       *prometheus.CounterVec
	PrunesTotal           *prometheus.CounterVec
	ActiveSessions        prometheus.Gauge
}

// NewRegistry creates a Prometheus registry with Go runtime and process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return reg
}

// Handler returns an http.Handler that serves Prometheus metrics.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

// New creates the heartbeat metrics and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		TicksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ticks_total",
			Help:      "Heartbeat ticks run, by trigger source.",
		}, []string{"source"}),
		TickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tick_duration_seconds",
			Help:      "Wall time of a heartbeat tick.",
			Buckets:   prometheus.DefBuckets,
		}),
		EnumeratedConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "enumerated_connections",
			Help:      "Connections listed by the registry in the last tick.",
		}),
		DeliveriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_total",
			Help:      "Ping delivery attempts, by outcome.",
		}, []string{"outcome"}),
		PrunesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "prunes_total",
			Help:      "Registry removals of gone connections, by result.",
		}, []string{"result"}),
		ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "active_sessions",
			Help:      "WebSocket sessions attached to this instance.",
		}),
	}

	reg.MustRegister(
		m.TicksTotal,
		m.TickDuration,
		m.EnumeratedConnections,
		m.DeliveriesTotal,
		m.PrunesTotal,
		m.ActiveSessions,
	)

	return m
}
