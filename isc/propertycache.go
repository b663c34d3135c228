package isc

import (
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/inmarsat-enterprise/fieldedge-utilities/errors"
)

// TTLNever marks a cache entry that stays valid until explicitly cleared.
// A zero TTL marks an entry that is stale on the very next read, useful for
// forcing a refresh while keeping the last value inspectable.
const TTLNever = time.Duration(-1)

// DefaultCacheTTL bounds how long a queried property value is trusted before
// the proxy refreshes it from the remote.
const DefaultCacheTTL = 5 * time.Second

// CacheKeyAll is the synthetic key recording the freshness of a full
// property refresh, as opposed to any individual property.
const CacheKeyAll = "all"

type cacheEntry struct {
	value    any
	cachedAt time.Time
	ttl      time.Duration
}

func (e *cacheEntry) valid(now time.Time) bool {
	if e.ttl == TTLNever {
		return true
	}
	return now.Sub(e.cachedAt) < e.ttl
}

// PropertyCache tracks the freshness of queried property values. It is
// keyed by property name plus the synthetic CacheKeyAll entry, and is safe
// for use from the caller and transport goroutines concurrently.
type PropertyCache struct {
	mu         sync.Mutex
	entries    map[string]*cacheEntry
	defaultTTL time.Duration
	clk        clock.Clock
	logger     *slog.Logger
	metrics    *cacheMetrics
}

// CacheOption customizes PropertyCache construction.
type CacheOption func(*PropertyCache) error

// WithDefaultTTL sets the lifetime applied by CacheDefault. Use TTLNever to
// cache forever by default.
func WithDefaultTTL(ttl time.Duration) CacheOption {
	return func(c *PropertyCache) error {
		if ttl < 0 && ttl != TTLNever {
			return errors.WrapInvalid(errors.ErrInvalidInput, "isc", "WithDefaultTTL", "negative ttl")
		}
		c.defaultTTL = ttl
		return nil
	}
}

// WithCacheClock substitutes the time source. Intended for tests.
func WithCacheClock(clk clock.Clock) CacheOption {
	return func(c *PropertyCache) error {
		c.clk = clk
		return nil
	}
}

// WithCacheLogger sets the logger used for overwrite warnings.
func WithCacheLogger(logger *slog.Logger) CacheOption {
	return func(c *PropertyCache) error {
		c.logger = logger
		return nil
	}
}

// WithCacheMetrics registers hit/miss/eviction metrics under the given
// service name.
func WithCacheMetrics(registrar MetricsRegistrar, serviceName string) CacheOption {
	return func(c *PropertyCache) error {
		m, err := newCacheMetrics(registrar, serviceName)
		if err != nil {
			return err
		}
		c.metrics = m
		return nil
	}
}

// NewPropertyCache builds an empty cache with DefaultCacheTTL.
func NewPropertyCache(opts ...CacheOption) (*PropertyCache, error) {
	c := &PropertyCache{
		entries:    make(map[string]*cacheEntry),
		defaultTTL: DefaultCacheTTL,
		clk:        clock.New(),
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, errors.Wrap(err, "isc", "NewPropertyCache", "option failed")
		}
	}
	return c, nil
}

// Cache stores or overwrites an entry under key with the given lifetime.
// Overwriting a still-valid entry logs a warning since it usually means two
// concurrent queries raced on the same property.
func (c *PropertyCache) Cache(value any, key string, ttl time.Duration) {
	now := c.clk.Now()

	c.mu.Lock()
	if prior, ok := c.entries[key]; ok && prior.valid(now) {
		c.logger.Warn("overwriting valid cache entry",
			"key", key, "age", now.Sub(prior.cachedAt))
	}
	c.entries[key] = &cacheEntry{value: value, cachedAt: now, ttl: ttl}
	size := len(c.entries)
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.size.Set(float64(size))
	}
}

// CacheDefault stores an entry with the cache's default TTL.
func (c *PropertyCache) CacheDefault(value any, key string) {
	c.Cache(value, key, c.defaultTTL)
}

// GetCached returns the value under key iff the entry is still valid. A
// stale entry is evicted as a side effect of the failed read.
func (c *PropertyCache) GetCached(key string) (any, bool) {
	now := c.clk.Now()

	c.mu.Lock()
	entry, ok := c.entries[key]
	if !ok {
		c.mu.Unlock()
		if c.metrics != nil {
			c.metrics.misses.Inc()
		}
		return nil, false
	}
	if !entry.valid(now) {
		delete(c.entries, key)
		size := len(c.entries)
		c.mu.Unlock()
		if c.metrics != nil {
			c.metrics.misses.Inc()
			c.metrics.evictions.Inc()
			c.metrics.size.Set(float64(size))
		}
		return nil, false
	}
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.hits.Inc()
	}
	return entry.value, true
}

// IsValid reports whether a valid entry exists under key without evicting
// anything.
func (c *PropertyCache) IsValid(key string) bool {
	now := c.clk.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	return ok && entry.valid(now)
}

// Remove drops the entry under key if present.
func (c *PropertyCache) Remove(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	size := len(c.entries)
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.size.Set(float64(size))
	}
}

// ClearExpired removes every entry that is no longer valid.
func (c *PropertyCache) ClearExpired() {
	now := c.clk.Now()

	c.mu.Lock()
	evicted := 0
	for key, entry := range c.entries {
		if !entry.valid(now) {
			delete(c.entries, key)
			evicted++
		}
	}
	size := len(c.entries)
	c.mu.Unlock()

	if c.metrics != nil && evicted > 0 {
		c.metrics.evictions.Add(float64(evicted))
		c.metrics.size.Set(float64(size))
	}
}

// Clear removes every entry.
func (c *PropertyCache) Clear() {
	c.mu.Lock()
	c.entries = make(map[string]*cacheEntry)
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.size.Set(0)
	}
}

// Len returns the number of entries, valid or not.
func (c *PropertyCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
