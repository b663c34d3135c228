package worker

import "errors"

var (
	// ErrPoolNotStarted is returned when submitting to a pool that has not
	// been started.
	ErrPoolNotStarted = errors.New("pool not started")

	// ErrPoolStopped is returned when submitting to a stopped pool.
	ErrPoolStopped = errors.New("pool stopped")

	// ErrPoolAlreadyStarted is returned when starting a running pool.
	ErrPoolAlreadyStarted = errors.New("pool already started")

	// ErrQueueFull is returned when the submission queue is at capacity.
	// The caller decides whether to drop, retry, or apply backpressure.
	ErrQueueFull = errors.New("queue full")

	// ErrNilHandler is returned when constructing a pool without a handler.
	ErrNilHandler = errors.New("nil handler")

	// ErrStopTimeout is returned when workers do not drain within the
	// timeout passed to Stop.
	ErrStopTimeout = errors.New("stop timeout exceeded")
)
