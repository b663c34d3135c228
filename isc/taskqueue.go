package isc

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"sync"

	"github.com/benbjohnson/clock"

	"github.com/inmarsat-enterprise/fieldedge-utilities/errors"
)

// TaskQueue holds pending correlated requests awaiting their responses. In
// blocking mode it also enforces at-most-one-outstanding semantics: Append
// waits until the previous task has completed or expired, providing
// backpressure against overlapping remote queries.
//
// The queue is mutated from both the issuing caller's goroutine and the
// transport callback goroutine; all compound check-then-act sequences hold
// the queue lock.
type TaskQueue struct {
	mu    sync.Mutex
	tasks map[string]*Task
	order []string

	// gate holds a token while the queue is idle; taking the token marks a
	// task in flight. Nil when the queue is non-blocking.
	gate chan struct{}

	clk     clock.Clock
	logger  *slog.Logger
	metrics *queueMetrics
}

// QueueOption customizes TaskQueue construction.
type QueueOption func(*TaskQueue) error

// WithBlocking enables the at-most-one-in-flight gate.
func WithBlocking() QueueOption {
	return func(q *TaskQueue) error {
		q.gate = make(chan struct{}, 1)
		q.gate <- struct{}{}
		return nil
	}
}

// WithQueueClock substitutes the time source. Intended for tests.
func WithQueueClock(clk clock.Clock) QueueOption {
	return func(q *TaskQueue) error {
		q.clk = clk
		return nil
	}
}

// WithQueueLogger sets the logger used for expiry and drop records.
func WithQueueLogger(logger *slog.Logger) QueueOption {
	return func(q *TaskQueue) error {
		q.logger = logger
		return nil
	}
}

// WithQueueMetrics registers queue depth and outcome metrics under the given
// service name.
func WithQueueMetrics(registrar MetricsRegistrar, serviceName string) QueueOption {
	return func(q *TaskQueue) error {
		m, err := newQueueMetrics(registrar, serviceName)
		if err != nil {
			return err
		}
		q.metrics = m
		return nil
	}
}

// NewTaskQueue builds a task queue. Pass WithBlocking for proxy-style use
// where overlapping queries to the same remote must be serialized.
func NewTaskQueue(opts ...QueueOption) (*TaskQueue, error) {
	q := &TaskQueue{
		tasks:  make(map[string]*Task),
		clk:    clock.New(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(q); err != nil {
			return nil, errors.Wrap(err, "isc", "NewTaskQueue", "option failed")
		}
	}
	return q, nil
}

// Blocking reports whether the queue enforces the single-in-flight gate.
func (q *TaskQueue) Blocking() bool {
	return q.gate != nil
}

// Append queues a task. In blocking mode it waits for the gate, so the call
// suspends while another task is outstanding; the context bounds that wait.
// A nil task or one without a uid fails with errors.ErrInvalidTask; a uid already
// present fails with errors.ErrDuplicateTask.
func (q *TaskQueue) Append(ctx context.Context, task *Task) error {
	if task == nil || task.UID == "" {
		return errors.WrapInvalid(errors.ErrInvalidTask, "isc", "TaskQueue.Append", "task must have a uid")
	}

	if q.gate != nil {
		select {
		case <-q.gate:
		case <-ctx.Done():
			return errors.WrapTransient(ctx.Err(), "isc", "TaskQueue.Append", "wait for task gate")
		}
	}

	q.mu.Lock()
	if _, exists := q.tasks[task.UID]; exists {
		q.mu.Unlock()
		q.release()
		return errors.WrapInvalid(errors.ErrDuplicateTask, "isc", "TaskQueue.Append",
			fmt.Sprintf("uid %s already queued", task.UID))
	}
	task.QueuedTime = q.clk.Now()
	q.tasks[task.UID] = task
	q.order = append(q.order, task.UID)
	depth := len(q.tasks)
	q.mu.Unlock()

	if q.metrics != nil {
		q.metrics.appended.Inc()
		q.metrics.depth.Set(float64(depth))
	}
	return nil
}

// IsQueued reports whether a task with the given id is pending.
func (q *TaskQueue) IsQueued(taskID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.tasks[taskID]
	return ok
}

// IsQueuedMeta reports whether any pending task's metadata contains the
// given key/value pair.
func (q *TaskQueue) IsQueuedMeta(key string, value any) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, task := range q.tasks {
		if got, ok := task.TaskMeta[key]; ok && reflect.DeepEqual(got, value) {
			return true
		}
	}
	return false
}

// Get atomically removes and returns the task with the given id, or nil if
// it is not queued. Popping does not release the gate; callers release it
// once the task's callback has run.
func (q *TaskQueue) Get(taskID string) *Task {
	q.mu.Lock()
	task := q.pop(taskID)
	depth := len(q.tasks)
	q.mu.Unlock()

	if task != nil && q.metrics != nil {
		q.metrics.completed.Inc()
		q.metrics.depth.Set(float64(depth))
	}
	return task
}

// Len returns the number of pending tasks.
func (q *TaskQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

// RemoveExpired drops every task whose lifetime has elapsed, releasing the
// gate and firing the task's timeout callback (if any) exactly once per
// task. Intended to be driven by an external repeating timer, typically at a
// one second cadence.
func (q *TaskQueue) RemoveExpired() {
	now := q.clk.Now()

	q.mu.Lock()
	var expired []*Task
	for _, uid := range q.order {
		task, ok := q.tasks[uid]
		if !ok || !task.expired(now) {
			continue
		}
		delete(q.tasks, uid)
		expired = append(expired, task)
	}
	if len(expired) > 0 {
		q.compactOrder()
	}
	depth := len(q.tasks)
	q.mu.Unlock()

	for _, task := range expired {
		q.logger.Warn("task expired without response",
			"taskId", task.UID, "taskType", task.TaskType, "lifetime", task.Lifetime)
		if q.metrics != nil {
			q.metrics.expired.Inc()
		}
		q.release()
		if cb, ok := task.TaskMeta[MetaTimeoutCallback].(TimeoutCallback); ok && cb != nil {
			cb(task.timeoutMeta())
		} else if cb, ok := task.TaskMeta[MetaTimeoutCallback].(func(map[string]any)); ok && cb != nil {
			cb(task.timeoutMeta())
		}
	}
	if len(expired) > 0 && q.metrics != nil {
		q.metrics.depth.Set(float64(depth))
	}
}

// Release opens the blocking gate so the next Append may proceed. Safe to
// call repeatedly and on non-blocking queues.
func (q *TaskQueue) Release() {
	q.release()
}

// Clear discards all pending tasks without firing their callbacks and opens
// the gate. Used on proxy teardown; callers must not expect outstanding
// callbacks afterward.
func (q *TaskQueue) Clear() {
	q.mu.Lock()
	q.tasks = make(map[string]*Task)
	q.order = nil
	q.mu.Unlock()

	if q.metrics != nil {
		q.metrics.depth.Set(0)
	}
	q.release()
}

func (q *TaskQueue) release() {
	if q.gate == nil {
		return
	}
	select {
	case q.gate <- struct{}{}:
	default:
	}
}

// pop removes a task by id under the lock.
func (q *TaskQueue) pop(taskID string) *Task {
	task, ok := q.tasks[taskID]
	if !ok {
		return nil
	}
	delete(q.tasks, taskID)
	q.compactOrder()
	return task
}

// compactOrder drops order entries whose tasks are gone.
func (q *TaskQueue) compactOrder() {
	kept := q.order[:0]
	for _, uid := range q.order {
		if _, ok := q.tasks[uid]; ok {
			kept = append(kept, uid)
		}
	}
	q.order = kept
}
