// Package worker provides a bounded worker pool for dispatching inbound
// work off latency-sensitive goroutines, such as broker callback threads.
package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// DefaultWorkers is the number of workers when none is configured.
	DefaultWorkers = 4

	// DefaultQueueSize is the submission queue capacity when none is
	// configured.
	DefaultQueueSize = 256
)

// Handler processes a single submitted item. It runs on a pool worker
// goroutine and must honor ctx cancellation for long operations.
type Handler[T any] func(ctx context.Context, item T)

// MetricsRegistrar registers pool metrics with a collector registry.
type MetricsRegistrar interface {
	RegisterCounter(serviceName, metricName string, counter prometheus.Counter) error
	RegisterGauge(serviceName, metricName string, gauge prometheus.Gauge) error
}

// Stats is a point-in-time snapshot of pool activity.
type Stats struct {
	Submitted uint64
	Dropped   uint64
	Processed uint64
	QueueLen  int
	Workers   int
}

// Pool dispatches submitted items to a fixed set of worker goroutines.
// Submit never blocks; when the queue is full the item is rejected with
// ErrQueueFull.
type Pool[T any] struct {
	name      string
	workers   int
	queueSize int
	handler   Handler[T]
	logger    *slog.Logger

	mu      sync.Mutex
	started bool
	stopped bool
	queue   chan T
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	statsMu   sync.Mutex
	submitted uint64
	dropped   uint64
	processed uint64

	metrics *poolMetrics
}

// Option configures a Pool.
type Option[T any] func(*Pool[T]) error

// WithWorkers sets the number of worker goroutines.
func WithWorkers[T any](n int) Option[T] {
	return func(p *Pool[T]) error {
		if n > 0 {
			p.workers = n
		}
		return nil
	}
}

// WithQueueSize sets the submission queue capacity.
func WithQueueSize[T any](n int) Option[T] {
	return func(p *Pool[T]) error {
		if n > 0 {
			p.queueSize = n
		}
		return nil
	}
}

// WithLogger sets the pool logger.
func WithLogger[T any](logger *slog.Logger) Option[T] {
	return func(p *Pool[T]) error {
		if logger != nil {
			p.logger = logger
		}
		return nil
	}
}

// WithMetrics registers pool counters and gauges under the given service
// name.
func WithMetrics[T any](registrar MetricsRegistrar, serviceName string) Option[T] {
	return func(p *Pool[T]) error {
		if registrar == nil {
			return nil
		}
		m, err := newPoolMetrics(registrar, serviceName, p.name)
		if err != nil {
			return err
		}
		p.metrics = m
		return nil
	}
}

// NewPool creates a pool that dispatches items to handler.
func NewPool[T any](name string, handler Handler[T], opts ...Option[T]) (*Pool[T], error) {
	if handler == nil {
		return nil, ErrNilHandler
	}
	p := &Pool[T]{
		name:      name,
		workers:   DefaultWorkers,
		queueSize: DefaultQueueSize,
		handler:   handler,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(p); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// Start launches the worker goroutines. The pool runs until Stop is called
// or ctx is cancelled.
func (p *Pool[T]) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return ErrPoolAlreadyStarted
	}
	if p.stopped {
		return ErrPoolStopped
	}
	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.queue = make(chan T, p.queueSize)
	p.started = true
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(runCtx)
	}
	p.logger.Debug("worker pool started",
		"pool", p.name, "workers", p.workers, "queue_size", p.queueSize)
	return nil
}

// Submit enqueues an item without blocking. It returns ErrQueueFull when
// the queue is at capacity.
func (p *Pool[T]) Submit(item T) error {
	// The send stays under the lock so Stop cannot close the queue between
	// the state check and the send. The send never blocks.
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return ErrPoolNotStarted
	}
	if p.stopped {
		p.mu.Unlock()
		return ErrPoolStopped
	}
	queue := p.queue
	defer p.mu.Unlock()

	select {
	case queue <- item:
		p.statsMu.Lock()
		p.submitted++
		p.statsMu.Unlock()
		if p.metrics != nil {
			p.metrics.submitted.Inc()
			p.metrics.queueDepth.Set(float64(len(queue)))
		}
		return nil
	default:
		p.statsMu.Lock()
		p.dropped++
		p.statsMu.Unlock()
		if p.metrics != nil {
			p.metrics.dropped.Inc()
		}
		return ErrQueueFull
	}
}

// Stop closes the queue and waits up to timeout for workers to drain.
func (p *Pool[T]) Stop(timeout time.Duration) error {
	p.mu.Lock()
	if !p.started || p.stopped {
		p.mu.Unlock()
		return nil
	}
	p.stopped = true
	close(p.queue)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		p.cancel()
		p.logger.Debug("worker pool stopped", "pool", p.name)
		return nil
	case <-time.After(timeout):
		p.cancel()
		return ErrStopTimeout
	}
}

// Stats returns a snapshot of pool activity.
func (p *Pool[T]) Stats() Stats {
	// Lock order is mu before statsMu, same as Submit.
	queueLen := 0
	p.mu.Lock()
	if p.queue != nil && !p.stopped {
		queueLen = len(p.queue)
	}
	workers := p.workers
	p.mu.Unlock()

	p.statsMu.Lock()
	defer p.statsMu.Unlock()
	return Stats{
		Submitted: p.submitted,
		Dropped:   p.dropped,
		Processed: p.processed,
		QueueLen:  queueLen,
		Workers:   workers,
	}
}

func (p *Pool[T]) worker(ctx context.Context) {
	defer p.wg.Done()
	for item := range p.queue {
		p.handler(ctx, item)
		p.statsMu.Lock()
		p.processed++
		p.statsMu.Unlock()
		if p.metrics != nil {
			p.metrics.processed.Inc()
		}
	}
}

type poolMetrics struct {
	submitted  prometheus.Counter
	dropped    prometheus.Counter
	processed  prometheus.Counter
	queueDepth prometheus.Gauge
}

func newPoolMetrics(registrar MetricsRegistrar, serviceName, poolName string) (*poolMetrics, error) {
	labels := prometheus.Labels{"service": serviceName, "pool": poolName}
	m := &poolMetrics{
		submitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "fieldedge",
			Subsystem:   "worker",
			Name:        "items_submitted_total",
			Help:        "Items accepted into the pool queue.",
			ConstLabels: labels,
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "fieldedge",
			Subsystem:   "worker",
			Name:        "items_dropped_total",
			Help:        "Items rejected because the queue was full.",
			ConstLabels: labels,
		}),
		processed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "fieldedge",
			Subsystem:   "worker",
			Name:        "items_processed_total",
			Help:        "Items handled by workers.",
			ConstLabels: labels,
		}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "fieldedge",
			Subsystem:   "worker",
			Name:        "queue_depth",
			Help:        "Current submission queue length.",
			ConstLabels: labels,
		}),
	}
	for name, c := range map[string]prometheus.Counter{
		"worker_items_submitted_" + poolName: m.submitted,
		"worker_items_dropped_" + poolName:   m.dropped,
		"worker_items_processed_" + poolName: m.processed,
	} {
		if err := registrar.RegisterCounter(serviceName, name, c); err != nil {
			return nil, err
		}
	}
	if err := registrar.RegisterGauge(serviceName, "worker_queue_depth_"+poolName, m.queueDepth); err != nil {
		return nil, err
	}
	return m, nil
}
