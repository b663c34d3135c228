package isc

import (
	"github.com/prometheus/client_golang/prometheus"
)

// MetricsRegistrar is the subset of the metrics registry the ISC layer
// needs. The metric package's MetricsRegistry satisfies it.
type MetricsRegistrar interface {
	RegisterCounter(serviceName, metricName string, counter prometheus.Counter) error
	RegisterGauge(serviceName, metricName string, gauge prometheus.Gauge) error
}

const (
	metricNamespace = "fieldedge"
	subsystemQueue  = "taskqueue"
	subsystemCache  = "propertycache"
)

// queueMetrics tracks the pending-task population and task outcomes.
type queueMetrics struct {
	appended  prometheus.Counter
	completed prometheus.Counter
	expired   prometheus.Counter
	depth     prometheus.Gauge
}

func newQueueMetrics(registrar MetricsRegistrar, serviceName string) (*queueMetrics, error) {
	labels := prometheus.Labels{"service": serviceName}
	m := &queueMetrics{
		appended: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   metricNamespace,
			Subsystem:   subsystemQueue,
			Name:        "appended_total",
			ConstLabels: labels,
			Help:        "Total number of tasks queued",
		}),
		completed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   metricNamespace,
			Subsystem:   subsystemQueue,
			Name:        "completed_total",
			ConstLabels: labels,
			Help:        "Total number of tasks removed by response correlation",
		}),
		expired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   metricNamespace,
			Subsystem:   subsystemQueue,
			Name:        "expired_total",
			ConstLabels: labels,
			Help:        "Total number of tasks removed by the expiry sweep",
		}),
		depth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   metricNamespace,
			Subsystem:   subsystemQueue,
			Name:        "depth",
			ConstLabels: labels,
			Help:        "Current number of pending tasks",
		}),
	}

	if err := registrar.RegisterCounter(serviceName, "taskqueue_appended", m.appended); err != nil {
		return nil, err
	}
	if err := registrar.RegisterCounter(serviceName, "taskqueue_completed", m.completed); err != nil {
		return nil, err
	}
	if err := registrar.RegisterCounter(serviceName, "taskqueue_expired", m.expired); err != nil {
		return nil, err
	}
	if err := registrar.RegisterGauge(serviceName, "taskqueue_depth", m.depth); err != nil {
		return nil, err
	}
	return m, nil
}

// cacheMetrics tracks property cache effectiveness.
type cacheMetrics struct {
	hits      prometheus.Counter
	misses    prometheus.Counter
	evictions prometheus.Counter
	size      prometheus.Gauge
}

func newCacheMetrics(registrar MetricsRegistrar, serviceName string) (*cacheMetrics, error) {
	labels := prometheus.Labels{"service": serviceName}
	m := &cacheMetrics{
		hits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   metricNamespace,
			Subsystem:   subsystemCache,
			Name:        "hits_total",
			ConstLabels: labels,
			Help:        "Total number of valid cache reads",
		}),
		misses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   metricNamespace,
			Subsystem:   subsystemCache,
			Name:        "misses_total",
			ConstLabels: labels,
			Help:        "Total number of absent or stale cache reads",
		}),
		evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   metricNamespace,
			Subsystem:   subsystemCache,
			Name:        "evictions_total",
			ConstLabels: labels,
			Help:        "Total number of entries evicted on expiry",
		}),
		size: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   metricNamespace,
			Subsystem:   subsystemCache,
			Name:        "size",
			ConstLabels: labels,
			Help:        "Current number of cached entries",
		}),
	}

	if err := registrar.RegisterCounter(serviceName, "propertycache_hits", m.hits); err != nil {
		return nil, err
	}
	if err := registrar.RegisterCounter(serviceName, "propertycache_misses", m.misses); err != nil {
		return nil, err
	}
	if err := registrar.RegisterCounter(serviceName, "propertycache_evictions", m.evictions); err != nil {
		return nil, err
	}
	if err := registrar.RegisterGauge(serviceName, "propertycache_size", m.size); err != nil {
		return nil, err
	}
	return m, nil
}
