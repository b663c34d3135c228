package microservice

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/inmarsat-enterprise/fieldedge-utilities/config"
	"github.com/inmarsat-enterprise/fieldedge-utilities/errors"
	"github.com/inmarsat-enterprise/fieldedge-utilities/health"
	"github.com/inmarsat-enterprise/fieldedge-utilities/inspect"
	"github.com/inmarsat-enterprise/fieldedge-utilities/isc"
	"github.com/inmarsat-enterprise/fieldedge-utilities/metric"
	"github.com/inmarsat-enterprise/fieldedge-utilities/mqttclient"
	"github.com/inmarsat-enterprise/fieldedge-utilities/pkg/timer"
)

// ServiceState is the lifecycle state of a running service.
type ServiceState int

// Lifecycle states.
const (
	ServiceStopped ServiceState = iota
	ServiceStarting
	ServiceRunning
	ServiceStopping
	ServiceFailed
)

// String returns the string representation of ServiceState.
func (s ServiceState) String() string {
	switch s {
	case ServiceStarting:
		return "starting"
	case ServiceRunning:
		return "running"
	case ServiceStopping:
		return "stopping"
	case ServiceFailed:
		return "failed"
	default:
		return "stopped"
	}
}

// DefaultHealthCheckInterval is how often the broker connectivity probe
// runs.
const DefaultHealthCheckInterval = 10 * time.Second

// Service ties configuration, broker connection, property entity, proxies,
// health and metrics into one managed lifecycle.
type Service struct {
	cfg    *config.Config
	props  *inspect.PropertySet
	logger *slog.Logger

	registry      *metric.MetricsRegistry
	metricsServer *metric.Server
	monitor       *health.Monitor

	// transport is the injected bus when testing; otherwise the service
	// dials the configured broker and owns the client.
	transport isc.Transport
	client    *mqttclient.Client

	checkInterval time.Duration
	entityOpts    []EntityOption
	clientOpts    []mqttclient.ClientOption

	mu      sync.Mutex
	state   ServiceState
	entity  *Entity
	proxies map[string]*Proxy
	sweeps  map[string]*timer.RepeatingTimer
}

// ServiceOption configures a Service during construction.
type ServiceOption func(*Service) error

// WithServiceLogger sets the service logger.
func WithServiceLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) error {
		if logger != nil {
			s.logger = logger
		}
		return nil
	}
}

// WithServiceTransport injects a bus transport, bypassing the broker dial.
func WithServiceTransport(transport isc.Transport) ServiceOption {
	return func(s *Service) error {
		s.transport = transport
		return nil
	}
}

// WithMetricsServer serves Prometheus metrics on the given port while the
// service runs.
func WithMetricsServer(port int) ServiceOption {
	return func(s *Service) error {
		s.metricsServer = metric.NewServer(port, "/metrics", s.registry)
		return nil
	}
}

// WithHealthCheckInterval overrides the broker connectivity probe period.
func WithHealthCheckInterval(d time.Duration) ServiceOption {
	return func(s *Service) error {
		if d <= 0 {
			return errors.ErrInvalidInput
		}
		s.checkInterval = d
		return nil
	}
}

// WithEntityOptions forwards options to the service's property entity.
func WithEntityOptions(opts ...EntityOption) ServiceOption {
	return func(s *Service) error {
		s.entityOpts = append(s.entityOpts, opts...)
		return nil
	}
}

// WithClientOptions forwards options to the broker client. Ignored when a
// transport is injected.
func WithClientOptions(opts ...mqttclient.ClientOption) ServiceOption {
	return func(s *Service) error {
		s.clientOpts = append(s.clientOpts, opts...)
		return nil
	}
}

// NewService builds a service around a validated configuration and the
// property set it exposes on the bus.
func NewService(cfg *config.Config, props *inspect.PropertySet, opts ...ServiceOption) (*Service, error) {
	if cfg == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "microservice", "NewService", "nil config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if props == nil {
		return nil, errors.WrapInvalid(errors.ErrInvalidInput, "microservice", "NewService", "nil property set")
	}

	s := &Service{
		cfg:           cfg.Clone(),
		logger:        slog.Default().With("service", cfg.Service.Tag),
		registry:      metric.NewMetricsRegistry(),
		monitor:       health.NewMonitor(),
		checkInterval: DefaultHealthCheckInterval,
		proxies:       make(map[string]*Proxy),
		sweeps:        make(map[string]*timer.RepeatingTimer),
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, errors.WrapInvalid(err, "microservice", "NewService", "invalid option")
		}
	}

	entityOpts := append([]EntityOption{WithEntityLogger(s.logger)}, s.entityOpts...)
	if cfg.ISC.Tagged {
		entityOpts = append(entityOpts, WithTagging())
	}
	if len(cfg.ISC.RollcallProperties) > 0 {
		entityOpts = append(entityOpts, WithRollcallProperties(cfg.ISC.RollcallProperties...))
	}
	s.entityOpts = entityOpts
	s.props = props
	return s, nil
}

// Tag returns the service's routing name.
func (s *Service) Tag() string {
	return s.cfg.Service.Tag
}

// State returns the current lifecycle state.
func (s *Service) State() ServiceState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Entity returns the service's property entity, nil until started.
func (s *Service) Entity() *Entity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entity
}

// Health returns the service's health monitor.
func (s *Service) Health() *health.Monitor {
	return s.monitor
}

// Metrics returns the service's metrics registry.
func (s *Service) Metrics() *metric.MetricsRegistry {
	return s.registry
}

// Transport returns the bus transport, nil until started.
func (s *Service) Transport() isc.Transport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transport
}

// Start connects to the broker and brings the entity online. It fails if
// the service is not stopped.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != ServiceStopped && s.state != ServiceFailed {
		state := s.state
		s.mu.Unlock()
		return errors.WrapInvalid(errors.ErrInvalidInput, "microservice", "Service.Start",
			"cannot start from state "+state.String())
	}
	s.state = ServiceStarting
	s.mu.Unlock()
	s.setStatusMetric(ServiceStarting)

	if err := s.connect(ctx); err != nil {
		s.fail()
		return err
	}

	entity, err := NewEntity(s.cfg.Service.Tag, s.props, s.transport, s.entityOpts...)
	if err != nil {
		s.fail()
		return err
	}
	if err := entity.Start(ctx); err != nil {
		s.fail()
		return err
	}

	if err := s.monitor.StartCheck("broker", s.checkInterval,
		health.TransportCheck(s.transport)); err != nil {
		s.fail()
		return err
	}

	if s.metricsServer != nil {
		if err := s.metricsServer.Start(); err != nil {
			s.fail()
			return err
		}
	}

	s.mu.Lock()
	s.entity = entity
	s.state = ServiceRunning
	s.mu.Unlock()
	s.setStatusMetric(ServiceRunning)
	s.logger.Info("service started", "state", ServiceRunning.String())
	return nil
}

// AddProxy creates, initializes and sweeps a proxy for a remote service.
// The proxy inherits the configured query timeout and cache TTL.
func (s *Service) AddProxy(ctx context.Context, targetTag string, opts ...ProxyOption) (*Proxy, error) {
	s.mu.Lock()
	if s.state != ServiceRunning {
		state := s.state
		s.mu.Unlock()
		return nil, errors.WrapInvalid(errors.ErrInvalidInput, "microservice", "Service.AddProxy",
			"service is "+state.String())
	}
	if _, exists := s.proxies[targetTag]; exists {
		s.mu.Unlock()
		return nil, errors.WrapInvalid(errors.ErrInvalidInput, "microservice", "Service.AddProxy",
			"proxy already exists for "+targetTag)
	}
	transport := s.transport
	s.mu.Unlock()

	proxyOpts := append([]ProxyOption{
		WithQueryTimeout(s.cfg.ISC.QueryTimeout.Std()),
		WithCacheTTL(s.cfg.ISC.CacheTTL.Std()),
		WithProxyLogger(s.logger),
		// Per-target metric names keep multiple proxies from colliding in
		// the registry.
		WithProxyMetrics(s.registry, s.cfg.Service.Tag+"-"+targetTag),
	}, opts...)
	proxy, err := NewProxy(s.cfg.Service.Tag, targetTag, transport, proxyOpts...)
	if err != nil {
		return nil, err
	}
	if err := proxy.Initialize(ctx); err != nil {
		return nil, err
	}
	sweep, err := proxy.StartExpirySweep()
	if err != nil {
		proxy.Deinitialize(ctx)
		return nil, err
	}

	s.mu.Lock()
	s.proxies[targetTag] = proxy
	s.sweeps[targetTag] = sweep
	s.mu.Unlock()
	return proxy, nil
}

// Proxy returns the proxy for a remote service, nil if none was added.
func (s *Service) Proxy(targetTag string) *Proxy {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.proxies[targetTag]
}

// RemoveProxy deinitializes and drops the proxy for a remote service.
func (s *Service) RemoveProxy(ctx context.Context, targetTag string) {
	s.mu.Lock()
	proxy := s.proxies[targetTag]
	sweep := s.sweeps[targetTag]
	delete(s.proxies, targetTag)
	delete(s.sweeps, targetTag)
	s.mu.Unlock()

	if sweep != nil {
		sweep.Stop()
	}
	if proxy != nil {
		proxy.Deinitialize(ctx)
	}
}

// Stop tears the service down in reverse start order. It is safe to call
// on a stopped service.
func (s *Service) Stop(ctx context.Context, quiesce time.Duration) {
	s.mu.Lock()
	if s.state != ServiceRunning && s.state != ServiceFailed {
		s.mu.Unlock()
		return
	}
	s.state = ServiceStopping
	targets := make([]string, 0, len(s.proxies))
	for tag := range s.proxies {
		targets = append(targets, tag)
	}
	s.mu.Unlock()
	s.setStatusMetric(ServiceStopping)

	for _, tag := range targets {
		s.RemoveProxy(ctx, tag)
	}
	s.monitor.StopChecks()
	if s.metricsServer != nil {
		if err := s.metricsServer.Stop(ctx); err != nil {
			s.logger.Warn("metrics server stop", "error", err)
		}
	}
	if s.client != nil {
		s.client.Close(quiesce)
	}

	s.mu.Lock()
	s.entity = nil
	s.state = ServiceStopped
	s.mu.Unlock()
	s.setStatusMetric(ServiceStopped)
	s.logger.Info("service stopped")
}

func (s *Service) connect(ctx context.Context) error {
	if s.transport != nil {
		return nil
	}

	core := s.registry.CoreMetrics()
	clientOpts := append([]mqttclient.ClientOption{
		mqttclient.WithQoS(s.cfg.MQTT.QoS),
		mqttclient.WithKeepAlive(s.cfg.MQTT.KeepAlive.Std()),
		mqttclient.WithConnectTimeout(s.cfg.MQTT.ConnectTimeout.Std()),
		mqttclient.WithClientLogger(s.logger),
		mqttclient.WithConnectionLostCallback(func(err error) {
			core.BrokerConnected.Set(0)
			s.monitor.UpdateUnhealthy("broker", err.Error())
		}),
		mqttclient.WithReconnectCallback(func() {
			core.BrokerConnected.Set(1)
			core.BrokerReconnects.Inc()
			s.monitor.UpdateHealthy("broker", "reconnected")
		}),
	}, s.clientOpts...)
	if s.cfg.MQTT.ClientID != "" {
		clientOpts = append(clientOpts, mqttclient.WithClientID(s.cfg.MQTT.ClientID))
	}
	if s.cfg.MQTT.Username != "" {
		clientOpts = append(clientOpts,
			mqttclient.WithCredentials(s.cfg.MQTT.Username, s.cfg.MQTT.Password))
	}

	client, err := mqttclient.NewClient(s.cfg.MQTT.URL, clientOpts...)
	if err != nil {
		return err
	}
	if err := client.Connect(ctx); err != nil {
		return err
	}
	core.BrokerConnected.Set(1)
	s.client = client
	s.transport = client
	return nil
}

func (s *Service) fail() {
	s.mu.Lock()
	s.state = ServiceFailed
	s.mu.Unlock()
	s.setStatusMetric(ServiceFailed)
}

func (s *Service) setStatusMetric(state ServiceState) {
	s.registry.CoreMetrics().ServiceStatus.
		WithLabelValues(s.cfg.Service.Tag).Set(float64(state))
}
