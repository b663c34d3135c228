// Package timer provides a repeating timer that can be stopped, restarted and
// reconfigured. It drives periodic maintenance such as the ISC task queue's
// expiry sweep. The time source is injectable for tests.
package timer

import (
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/inmarsat-enterprise/fieldedge-utilities/errors"
)

// RepeatingTimer invokes a target function at a fixed interval on its own
// goroutine. The first invocation is deferred by one interval.
type RepeatingTimer struct {
	mu       sync.Mutex
	clk      clock.Clock
	interval time.Duration
	target   func()
	name      string
	running   bool
	autoStart bool
	stop      chan struct{}
	done      chan struct{}
	logger    *slog.Logger
}

// Option configures a RepeatingTimer.
type Option func(*RepeatingTimer)

// WithClock injects a time source. Tests use a mock clock.
func WithClock(clk clock.Clock) Option {
	return func(t *RepeatingTimer) {
		if clk != nil {
			t.clk = clk
		}
	}
}

// WithName sets a descriptive name used in log entries.
func WithName(name string) Option {
	return func(t *RepeatingTimer) {
		t.name = name
	}
}

// WithAutoStart starts the timer immediately on construction.
func WithAutoStart() Option {
	return func(t *RepeatingTimer) {
		t.autoStart = true
	}
}

// New creates a RepeatingTimer calling target every interval.
func New(interval time.Duration, target func(), opts ...Option) (*RepeatingTimer, error) {
	if interval <= 0 {
		return nil, errors.WrapInvalid(errors.ErrInvalidInput, "RepeatingTimer", "New",
			"interval must be positive")
	}
	if target == nil {
		return nil, errors.WrapInvalid(errors.ErrInvalidInput, "RepeatingTimer", "New",
			"missing target")
	}
	t := &RepeatingTimer{
		clk:      clock.New(),
		interval: interval,
		target:   target,
		name:     "repeating_timer",
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.autoStart {
		t.Start()
	}
	return t, nil
}

// Interval returns the current repeat interval.
func (t *RepeatingTimer) Interval() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.interval
}

// IsRunning reports whether the timer is active.
func (t *RepeatingTimer) IsRunning() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running
}

// Start begins periodic invocation. Starting a running timer is a no-op.
func (t *RepeatingTimer) Start() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.running {
		return
	}
	t.running = true
	t.stop = make(chan struct{})
	t.done = make(chan struct{})
	// The ticker is created here, not in the goroutine, so it is registered
	// with the clock before Start returns; a tick fired immediately after
	// Start is not lost.
	ticker := t.clk.Ticker(t.interval)
	go t.run(ticker, t.stop, t.done)
}

// Stop halts periodic invocation and waits for the loop to exit. The timer
// may be started again afterwards.
func (t *RepeatingTimer) Stop() {
	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return
	}
	t.running = false
	close(t.stop)
	done := t.done
	t.mu.Unlock()
	<-done
}

// Restart stops and starts the timer, resetting the countdown.
func (t *RepeatingTimer) Restart() {
	t.Stop()
	t.Start()
}

// ChangeInterval reconfigures the repeat interval, restarting the countdown
// if the timer is running.
func (t *RepeatingTimer) ChangeInterval(interval time.Duration) error {
	if interval <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidInput, "RepeatingTimer", "ChangeInterval",
			"interval must be positive")
	}
	wasRunning := t.IsRunning()
	if wasRunning {
		t.Stop()
	}
	t.mu.Lock()
	t.interval = interval
	t.mu.Unlock()
	if wasRunning {
		t.Start()
	}
	return nil
}

func (t *RepeatingTimer) run(ticker *clock.Ticker, stop, done chan struct{}) {
	defer close(done)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			t.invoke()
		}
	}
}

// invoke calls the target, containing any panic so one bad sweep does not
// kill the timer goroutine.
func (t *RepeatingTimer) invoke() {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("timer target panicked", "timer", t.name, "panic", r)
		}
	}()
	t.target()
}
