package metric

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains the platform-level metrics every FieldEdge service
// carries, independent of its domain.
type Metrics struct {
	ServiceStatus     *prometheus.GaugeVec
	MessagesReceived  *prometheus.CounterVec
	MessagesPublished *prometheus.CounterVec
	ErrorsTotal       *prometheus.CounterVec

	// Broker connection metrics
	BrokerConnected  prometheus.Gauge
	BrokerReconnects prometheus.Counter
}

// NewMetrics creates the core platform metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		ServiceStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "fieldedge",
				Subsystem: "service",
				Name:      "status",
				Help:      "Service status (0=stopped, 1=starting, 2=running, 3=stopping, 4=failed)",
			},
			[]string{"service"},
		),
		MessagesReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "fieldedge",
				Subsystem: "messages",
				Name:      "received_total",
				Help:      "Total number of bus messages received",
			},
			[]string{"service", "topic"},
		),
		MessagesPublished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "fieldedge",
				Subsystem: "messages",
				Name:      "published_total",
				Help:      "Total number of bus messages published",
			},
			[]string{"service", "topic"},
		),
		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "fieldedge",
				Subsystem: "service",
				Name:      "errors_total",
				Help:      "Total number of errors by class",
			},
			[]string{"service", "class"},
		),
		BrokerConnected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "fieldedge",
				Subsystem: "broker",
				Name:      "connected",
				Help:      "Broker connection status (1=connected, 0=disconnected)",
			},
		),
		BrokerReconnects: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "fieldedge",
				Subsystem: "broker",
				Name:      "reconnects_total",
				Help:      "Total number of broker reconnects",
			},
		),
	}
}

// registerCoreMetrics registers the core set with the Prometheus registry.
func (r *MetricsRegistry) registerCoreMetrics() {
	r.prometheusRegistry.MustRegister(
		r.Metrics.ServiceStatus,
		r.Metrics.MessagesReceived,
		r.Metrics.MessagesPublished,
		r.Metrics.ErrorsTotal,
		r.Metrics.BrokerConnected,
		r.Metrics.BrokerReconnects,
	)
}
