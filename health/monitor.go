package health

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/inmarsat-enterprise/fieldedge-utilities/isc"
	"github.com/inmarsat-enterprise/fieldedge-utilities/pkg/timer"
)

// Check probes a subsystem and reports its current status.
type Check func() Status

// Monitor tracks the health of named subsystems. Statuses are either pushed
// with Update or pulled by periodic checks registered with StartCheck.
type Monitor struct {
	mu       sync.RWMutex
	statuses map[string]Status
	checks   map[string]*timer.RepeatingTimer
	clk      clock.Clock
}

// MonitorOption configures a Monitor.
type MonitorOption func(*Monitor)

// WithMonitorClock substitutes the clock driving periodic checks.
func WithMonitorClock(clk clock.Clock) MonitorOption {
	return func(m *Monitor) {
		if clk != nil {
			m.clk = clk
		}
	}
}

// NewMonitor creates an empty monitor.
func NewMonitor(opts ...MonitorOption) *Monitor {
	m := &Monitor{
		statuses: make(map[string]Status),
		checks:   make(map[string]*timer.RepeatingTimer),
		clk:      clock.New(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Update records the status for a named subsystem.
func (m *Monitor) Update(name string, status Status) {
	m.mu.Lock()
	defer m.mu.Unlock()

	status.Component = name
	if status.Timestamp.IsZero() {
		status.Timestamp = time.Now()
	}
	m.statuses[name] = status
}

// UpdateHealthy marks a subsystem healthy.
func (m *Monitor) UpdateHealthy(name, message string) {
	m.Update(name, NewHealthy(name, message))
}

// UpdateDegraded marks a subsystem degraded.
func (m *Monitor) UpdateDegraded(name, message string) {
	m.Update(name, NewDegraded(name, message))
}

// UpdateUnhealthy marks a subsystem unhealthy.
func (m *Monitor) UpdateUnhealthy(name, message string) {
	m.Update(name, NewUnhealthy(name, message))
}

// StartCheck runs check every interval and records its result under name.
// The check runs once immediately so the first probe does not wait a full
// interval. A previous check with the same name is stopped first.
func (m *Monitor) StartCheck(name string, interval time.Duration, check Check) error {
	m.Update(name, check())

	t, err := timer.New(interval, func() {
		m.Update(name, check())
	}, timer.WithName(name+"-health"), timer.WithClock(m.clk), timer.WithAutoStart())
	if err != nil {
		return err
	}

	m.mu.Lock()
	if previous, exists := m.checks[name]; exists {
		previous.Stop()
	}
	m.checks[name] = t
	m.mu.Unlock()
	return nil
}

// StopChecks stops all periodic checks. Recorded statuses are retained.
func (m *Monitor) StopChecks() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.checks {
		t.Stop()
	}
	m.checks = make(map[string]*timer.RepeatingTimer)
}

// Get retrieves the status for a named subsystem.
func (m *Monitor) Get(name string) (Status, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	status, exists := m.statuses[name]
	return status, exists
}

// GetAll returns a copy of all recorded statuses.
func (m *Monitor) GetAll() map[string]Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make(map[string]Status, len(m.statuses))
	for name, status := range m.statuses {
		result[name] = status
	}
	return result
}

// Remove drops a subsystem and stops its periodic check if one is running.
func (m *Monitor) Remove(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, exists := m.checks[name]; exists {
		t.Stop()
		delete(m.checks, name)
	}
	delete(m.statuses, name)
}

// AggregateHealth returns the combined status of all subsystems.
func (m *Monitor) AggregateHealth(serviceName string) Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	subStatuses := make([]Status, 0, len(m.statuses))
	for _, status := range m.statuses {
		subStatuses = append(subStatuses, status)
	}
	return Aggregate(serviceName, subStatuses)
}

// ListComponents returns the names of all tracked subsystems.
func (m *Monitor) ListComponents() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.statuses))
	for name := range m.statuses {
		names = append(names, name)
	}
	return names
}

// Count returns the number of tracked subsystems.
func (m *Monitor) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.statuses)
}

// TransportCheck builds a check reporting broker connectivity.
func TransportCheck(transport isc.Transport) Check {
	return func() Status {
		if transport.IsConnected() {
			return NewHealthy("broker", "connected")
		}
		return NewUnhealthy("broker", "not connected")
	}
}
