// Package metrics holds the relay's Prometheus instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics aggregates the relay's counters and gauges. One instance is shared
// by every bridge spawned from a server.
type Metrics struct {
	BridgesActive     prometheus.Gauge
	BridgesTotal      prometheus.Counter
	ClientMessages    *prometheus.CounterVec
	UpstreamMessages  prometheus.Counter
	ValidationErrors  prometheus.Counter
	PendingFlushSize  prometheus.Histogram
	UpstreamDialFails prometheus.Counter
}

// New registers the relay metric set on the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		BridgesActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "relay_bridges_active",
			Help: "Number of live client-to-upstream bridges.",
		}),
		BridgesTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "relay_bridges_total",
			Help: "Total bridges accepted since start.",
		}),
		ClientMessages: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_client_messages_total",
			Help: "Client messages received, by type.",
		}, []string{"type"}),
		UpstreamMessages: factory.NewCounter(prometheus.CounterOpts{
			Name: "relay_upstream_messages_total",
			Help: "Messages received from upstream and forwarded to clients.",
		}),
		ValidationErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "relay_validation_errors_total",
			Help: "Client frames rejected by protocol validation.",
		}),
		PendingFlushSize: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "relay_pending_flush_size",
			Help:    "Messages queued before the upstream connection opened.",
			Buckets: []float64{0, 1, 2, 5, 10, 25, 50, 100},
		}),
		UpstreamDialFails: factory.NewCounter(prometheus.CounterOpts{
			Name: "relay_upstream_dial_failures_total",
			Help: "Failed upstream websocket dials.",
		}),
	}
}
