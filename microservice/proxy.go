package microservice

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/inmarsat-enterprise/fieldedge-utilities/errors"
	"github.com/inmarsat-enterprise/fieldedge-utilities/inspect"
	"github.com/inmarsat-enterprise/fieldedge-utilities/isc"
	"github.com/inmarsat-enterprise/fieldedge-utilities/pkg/timer"
)

// ProxyState tracks proxy initialization.
type ProxyState int

const (
	// StateNone means the proxy is not initialized; property reads fail.
	StateNone ProxyState = iota
	// StatePending means an initialization query is in flight.
	StatePending
	// StateComplete means at least one full property response arrived.
	StateComplete
)

func (s ProxyState) String() string {
	switch s {
	case StatePending:
		return "PENDING"
	case StateComplete:
		return "COMPLETE"
	default:
		return "NONE"
	}
}

// InitCallback reports the outcome of Initialize: true once the first full
// property response arrives, false if the initialization query expires.
type InitCallback func(success bool)

// DefaultQueryTimeout bounds how long a property query waits for the remote
// before the expiry sweep abandons it.
const DefaultQueryTimeout = 10 * time.Second

// metadata keys private to the proxy's own tasks
const (
	metaQuery = "query"
	metaInit  = "initializing"
)

// queryAll marks a task as a full property refresh. It doubles as the wire
// keyword sent in the request's properties list.
const queryAll = isc.PropertyAll

// Proxy is the client-side representation of a remote Entity. It issues
// correlated get/set requests over the bus, caches the remote's last known
// values, and exposes a blocking Properties accessor that waits for the
// cache to warm.
//
// Queries to the same remote are strictly serialized by the task queue's
// blocking gate. Proxies for different remotes are independent.
type Proxy struct {
	tag       string
	targetTag string
	transport isc.Transport
	queue     *isc.TaskQueue
	cache     *isc.PropertyCache

	mu       sync.Mutex
	state    ProxyState
	snapshot map[string]any
	// issueMu serializes the "is a full query pending, else issue one"
	// sequence so two callers cannot race duplicate full queries.
	issueMu sync.Mutex
	// refresh is closed and replaced whenever a response or expiry resolves
	// a query, waking any Properties callers.
	refresh chan struct{}

	queryTimeout time.Duration
	cacheTTL     time.Duration
	initCallback InitCallback
	clk          clock.Clock
	logger       *slog.Logger
}

// ProxyOption customizes Proxy construction.
type ProxyOption func(*proxyConfig)

type proxyConfig struct {
	queryTimeout time.Duration
	cacheTTL     time.Duration
	initCallback InitCallback
	clk          clock.Clock
	logger       *slog.Logger
	registrar    isc.MetricsRegistrar
	serviceName  string
}

// WithQueryTimeout bounds both the task lifetime and the blocking accessor
// wait.
func WithQueryTimeout(timeout time.Duration) ProxyOption {
	return func(c *proxyConfig) {
		c.queryTimeout = timeout
	}
}

// WithCacheTTL sets how long queried values are trusted before a refresh.
func WithCacheTTL(ttl time.Duration) ProxyOption {
	return func(c *proxyConfig) {
		c.cacheTTL = ttl
	}
}

// WithInitCallback registers the initialization outcome callback.
func WithInitCallback(cb InitCallback) ProxyOption {
	return func(c *proxyConfig) {
		c.initCallback = cb
	}
}

// WithProxyClock substitutes the time source. Intended for tests.
func WithProxyClock(clk clock.Clock) ProxyOption {
	return func(c *proxyConfig) {
		c.clk = clk
	}
}

// WithProxyLogger sets the proxy's logger.
func WithProxyLogger(logger *slog.Logger) ProxyOption {
	return func(c *proxyConfig) {
		c.logger = logger
	}
}

// WithProxyMetrics registers task queue and cache metrics under the proxy's
// owning service name.
func WithProxyMetrics(registrar isc.MetricsRegistrar, serviceName string) ProxyOption {
	return func(c *proxyConfig) {
		c.registrar = registrar
		c.serviceName = serviceName
	}
}

// NewProxy builds a proxy owned by the service tag, addressing the remote
// service targetTag.
func NewProxy(tag, targetTag string, transport isc.Transport, opts ...ProxyOption) (*Proxy, error) {
	if tag == "" || targetTag == "" || transport == nil {
		return nil, errors.WrapInvalid(errors.ErrInvalidInput, "microservice", "NewProxy",
			"tag, targetTag and transport are required")
	}

	cfg := &proxyConfig{
		queryTimeout: DefaultQueryTimeout,
		cacheTTL:     isc.DefaultCacheTTL,
		clk:          clock.New(),
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(cfg)
	}

	queueOpts := []isc.QueueOption{isc.WithBlocking(), isc.WithQueueClock(cfg.clk),
		isc.WithQueueLogger(cfg.logger)}
	cacheOpts := []isc.CacheOption{isc.WithDefaultTTL(cfg.cacheTTL), isc.WithCacheClock(cfg.clk),
		isc.WithCacheLogger(cfg.logger)}
	if cfg.registrar != nil {
		queueOpts = append(queueOpts, isc.WithQueueMetrics(cfg.registrar, cfg.serviceName))
		cacheOpts = append(cacheOpts, isc.WithCacheMetrics(cfg.registrar, cfg.serviceName))
	}
	queue, err := isc.NewTaskQueue(queueOpts...)
	if err != nil {
		return nil, errors.Wrap(err, "microservice", "NewProxy", "task queue setup failed")
	}
	cache, err := isc.NewPropertyCache(cacheOpts...)
	if err != nil {
		return nil, errors.Wrap(err, "microservice", "NewProxy", "property cache setup failed")
	}

	return &Proxy{
		tag:          tag,
		targetTag:    targetTag,
		transport:    transport,
		queue:        queue,
		cache:        cache,
		refresh:      make(chan struct{}),
		queryTimeout: cfg.queryTimeout,
		cacheTTL:     cfg.cacheTTL,
		initCallback: cfg.initCallback,
		clk:          cfg.clk,
		logger:       cfg.logger.With("proxy", targetTag),
	}, nil
}

// RemoveExpired drops timed-out tasks, firing their timeout callbacks.
// Drive this from a repeating timer; StartExpirySweep sets one up.
func (p *Proxy) RemoveExpired() {
	p.queue.RemoveExpired()
}

// DefaultSweepInterval is the cadence of the expiry sweep.
const DefaultSweepInterval = time.Second

// StartExpirySweep runs the expiry sweep on a repeating timer. The caller
// stops the returned timer on teardown.
func (p *Proxy) StartExpirySweep() (*timer.RepeatingTimer, error) {
	sweep, err := timer.New(DefaultSweepInterval, p.RemoveExpired,
		timer.WithName(p.targetTag+"-expiry"), timer.WithClock(p.clk), timer.WithAutoStart())
	if err != nil {
		return nil, errors.Wrap(err, "microservice", "Proxy.StartExpirySweep", "timer setup failed")
	}
	return sweep, nil
}

// State returns the proxy's initialization state.
func (p *Proxy) State() ProxyState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// TargetTag returns the remote service tag this proxy addresses.
func (p *Proxy) TargetTag() string {
	return p.targetTag
}

// Initialize subscribes to the remote's event and info topics and issues a
// full property query. The InitCallback fires with the outcome; on timeout
// the state reverts to NONE so Initialize may be retried.
func (p *Proxy) Initialize(ctx context.Context) error {
	p.mu.Lock()
	if p.state != StateNone {
		p.mu.Unlock()
		p.logger.Warn("initialize called while already initialized", "state", p.state.String())
		return nil
	}
	p.state = StatePending
	p.mu.Unlock()

	for _, filter := range []string{isc.EventWildcard(p.targetTag), isc.InfoWildcard(p.targetTag)} {
		if err := p.transport.Subscribe(ctx, filter, p.OnISCMessage); err != nil {
			p.setState(StateNone)
			return errors.Wrap(err, "microservice", "Proxy.Initialize", "subscribe failed")
		}
	}

	meta := map[string]any{
		metaInit:                true,
		isc.MetaTimeoutCallback: isc.TimeoutCallback(p.onInitTimeout),
	}
	if err := p.queryGet(ctx, nil, meta, nil); err != nil {
		p.setState(StateNone)
		return err
	}
	return nil
}

// Deinitialize unsubscribes from the remote and discards all proxy state.
// Outstanding tasks are dropped without firing their callbacks.
func (p *Proxy) Deinitialize(ctx context.Context) {
	for _, filter := range []string{isc.EventWildcard(p.targetTag), isc.InfoWildcard(p.targetTag)} {
		if err := p.transport.Unsubscribe(ctx, filter); err != nil {
			p.logger.Warn("unsubscribe failed", "filter", filter, "error", err)
		}
	}
	p.queue.Clear()
	p.cache.Clear()

	p.mu.Lock()
	p.state = StateNone
	p.snapshot = nil
	p.wakeLocked()
	p.mu.Unlock()
}

// Properties returns the remote's full property snapshot, blocking until the
// full-refresh cache entry is valid or the query timeout elapses. Served
// from cache with no network round trip while the entry stays valid.
func (p *Proxy) Properties(ctx context.Context) (map[string]any, error) {
	if p.State() == StateNone {
		return nil, errors.WrapInvalid(errors.ErrNotInitialized, "microservice",
			"Proxy.Properties", p.targetTag)
	}

	deadline := p.clk.Timer(p.queryTimeout)
	defer deadline.Stop()

	for {
		// The validity check and query issue are one atomic step under
		// issueMu so two callers cannot race duplicate full queries.
		p.issueMu.Lock()
		p.mu.Lock()
		if p.cache.IsValid(isc.CacheKeyAll) {
			snapshot := copySnapshot(p.snapshot)
			p.mu.Unlock()
			p.issueMu.Unlock()
			return snapshot, nil
		}
		waiter := p.refresh
		p.mu.Unlock()

		if !p.queue.IsQueuedMeta(metaQuery, queryAll) {
			if err := p.queryGet(ctx, nil, nil, nil); err != nil {
				p.issueMu.Unlock()
				return nil, err
			}
		}
		p.issueMu.Unlock()

		select {
		case <-waiter:
		case <-deadline.C:
			return nil, errors.WrapTransient(errors.ErrQueryTimeout, "microservice",
				"Proxy.Properties", p.targetTag)
		case <-ctx.Done():
			return nil, errors.WrapTransient(ctx.Err(), "microservice",
				"Proxy.Properties", p.targetTag)
		}
	}
}

// Get returns one property value, serving from cache when fresh and
// otherwise refreshing the full snapshot.
func (p *Proxy) Get(ctx context.Context, name string) (any, error) {
	if value, ok := p.cache.GetCached(name); ok {
		return value, nil
	}
	props, err := p.Properties(ctx)
	if err != nil {
		return nil, err
	}
	value, ok := props[name]
	if !ok {
		return nil, errors.WrapInvalid(errors.ErrUnknownProperty, "microservice", "Proxy.Get", name)
	}
	return value, nil
}

// Set issues an asynchronous property write. The call returns once the
// request is queued and published; callers poll Get afterward to observe
// convergence since the update travels the same request/response path as a
// read.
func (p *Proxy) Set(ctx context.Context, name string, value any) error {
	return p.QuerySet(ctx, map[string]any{name: value}, nil, nil)
}

// QueryGet issues a property read for the named wire properties, or a full
// refresh when names is empty. Respects the blocking gate.
func (p *Proxy) QueryGet(ctx context.Context, names []string,
	taskMeta, queryMeta map[string]any) error {
	return p.queryGet(ctx, names, taskMeta, queryMeta)
}

// QuerySet issues a property write for the given wire name/value pairs.
// Fails with errors.ErrInvalidInput when values is empty.
func (p *Proxy) QuerySet(ctx context.Context, values map[string]any,
	taskMeta, queryMeta map[string]any) error {
	if len(values) == 0 {
		return errors.WrapInvalid(errors.ErrInvalidInput, "microservice",
			"Proxy.QuerySet", "set requires at least one property")
	}
	return p.query(ctx, isc.MethodSet, values, taskMeta, queryMeta)
}

func (p *Proxy) queryGet(ctx context.Context, names []string,
	taskMeta, queryMeta map[string]any) error {
	var wireProps any
	if len(names) > 0 {
		wireProps = names
	} else {
		// A full refresh is requested with the literal ["all"] list.
		wireProps = []string{queryAll}
		if taskMeta == nil {
			taskMeta = make(map[string]any)
		}
		taskMeta[metaQuery] = queryAll
	}
	return p.query(ctx, isc.MethodGet, wireProps, taskMeta, queryMeta)
}

// query builds a correlated task, queues it behind the gate, and publishes
// the request. A publish failure leaves the task queued; the expiry sweep
// will fire its timeout path so the caller does not hang forever.
func (p *Proxy) query(ctx context.Context, method isc.Method, wireProps any,
	taskMeta, queryMeta map[string]any) error {
	taskType := "get_properties"
	if method == isc.MethodSet {
		taskType = "set_properties"
	}

	task := isc.NewTask(taskType, p.UpdateCacheFromResponse,
		isc.WithTaskMeta(taskMeta),
		isc.WithLifetime(p.queryTimeout))

	if err := p.queue.Append(ctx, task); err != nil {
		return errors.Wrap(err, "microservice", "Proxy.query", "queue append failed")
	}

	message := isc.Message{isc.KeyUID: task.UID}
	if wireProps != nil {
		message[isc.KeyProperties] = wireProps
	}
	for k, v := range queryMeta {
		message[k] = v
	}

	if err := p.transport.Publish(ctx, isc.RequestTopic(p.targetTag, method), message); err != nil {
		p.logger.Warn("query publish failed, task will expire",
			"taskId", task.UID, "method", method, "error", err)
	}
	return nil
}

// HandleResponse correlates an inbound response with a queued task. Returns
// false for uids this proxy is not waiting on; such traffic is normal on a
// shared bus and must not disturb newer in-flight tasks.
func (p *Proxy) HandleResponse(message isc.Message) bool {
	uid := message.UID()
	if uid == "" {
		return false
	}
	task := p.queue.Get(uid)
	if task == nil {
		p.logger.Debug("response for unknown task dropped", "uid", uid)
		return false
	}

	meta := map[string]any{
		isc.MetaTaskID:   task.UID,
		isc.MetaTaskType: task.TaskType,
	}
	for k, v := range task.TaskMeta {
		meta[k] = v
	}
	if task.Callback != nil {
		task.Callback(message, meta)
	}
	return true
}

// OnISCMessage routes inbound traffic from the remote's subtree. Property
// value messages feed response correlation; everything else is event
// traffic the application may observe through its own subscriptions.
func (p *Proxy) OnISCMessage(topic string, message isc.Message) {
	if topic == isc.ResponseTopic(p.targetTag) {
		p.HandleResponse(message)
	}
}

// UpdateCacheFromResponse is the default task callback. It folds the
// response's properties into the snapshot, refreshes per-property cache
// entries for changed values, marks the full-refresh entry when the query
// was a full or initialization read, and always releases the blocking gate.
func (p *Proxy) UpdateCacheFromResponse(message isc.Message, taskMeta map[string]any) {
	defer func() {
		p.queue.Release()
		p.mu.Lock()
		p.wakeLocked()
		p.mu.Unlock()
	}()

	props := message.Properties()
	if props == nil {
		p.logger.Warn("response without properties", "uid", message.UID())
		return
	}

	fullRefresh := taskMeta[metaQuery] == queryAll
	initializing, _ := taskMeta[metaInit].(bool)

	p.mu.Lock()
	if p.snapshot == nil {
		p.snapshot = make(map[string]any)
	}
	for name, value := range props {
		if prior, ok := p.snapshot[name]; ok && inspect.Equivalent(prior, value) {
			continue
		}
		p.snapshot[name] = value
		p.cache.Cache(value, name, p.cacheTTL)
	}
	if fullRefresh || initializing {
		p.cache.Cache(timestampNow(p.clk), isc.CacheKeyAll, p.cacheTTL)
	}
	completed := false
	if initializing && p.state != StateComplete {
		p.state = StateComplete
		completed = true
	}
	p.mu.Unlock()

	if completed && p.initCallback != nil {
		p.initCallback(true)
	}
}

// onInitTimeout reverts a failed initialization so it may be retried.
func (p *Proxy) onInitTimeout(map[string]any) {
	p.logger.Warn("initialization query timed out")
	p.mu.Lock()
	p.state = StateNone
	p.wakeLocked()
	p.mu.Unlock()

	if p.initCallback != nil {
		p.initCallback(false)
	}
}

// setState replaces the proxy state under the lock.
func (p *Proxy) setState(state ProxyState) {
	p.mu.Lock()
	p.state = state
	p.mu.Unlock()
}

// wakeLocked wakes every Properties waiter. Callers hold p.mu.
func (p *Proxy) wakeLocked() {
	close(p.refresh)
	p.refresh = make(chan struct{})
}

func copySnapshot(snapshot map[string]any) map[string]any {
	out := make(map[string]any, len(snapshot))
	for k, v := range snapshot {
		out[k] = v
	}
	return out
}

func timestampNow(clk clock.Clock) int64 {
	return clk.Now().UnixMilli()
}
