package isc

import (
	"time"

	"github.com/google/uuid"
)

// MetaTimeoutCallback is the task metadata key under which a caller may
// store a TimeoutCallback to be invoked if the task expires unanswered.
const MetaTimeoutCallback = "timeout_callback"

// MetaTimeout is the task metadata key for a per-task lifetime override,
// expressed as a time.Duration.
const MetaTimeout = "timeout"

// MetaTaskID is injected into the metadata passed to callbacks so the
// receiver can correlate the invocation with the originating task.
const MetaTaskID = "task_id"

// MetaTaskType mirrors the task's type tag in callback metadata.
const MetaTaskType = "task_type"

// Callback receives the remote response for a completed task together with
// the task's metadata, enriched with MetaTaskID and MetaTaskType.
type Callback func(response Message, taskMeta map[string]any)

// TimeoutCallback is invoked when a queued task expires without a response.
// The metadata includes MetaTaskID plus the task's other non-callback entries.
type TimeoutCallback func(taskMeta map[string]any)

// Task is a pending correlated request awaiting an asynchronous response or
// a timeout. Once appended it is owned exclusively by the TaskQueue until it
// is popped by id or expires.
type Task struct {
	UID        string
	TaskType   string
	TaskMeta   map[string]any
	Callback   Callback
	Lifetime   time.Duration
	QueuedTime time.Time
}

// TaskOption customizes a Task at construction.
type TaskOption func(*Task)

// WithTaskMeta attaches arbitrary metadata to the task. A MetaTimeout entry
// holding a time.Duration overrides the lifetime.
func WithTaskMeta(meta map[string]any) TaskOption {
	return func(t *Task) {
		t.TaskMeta = meta
	}
}

// WithLifetime sets how long the task may remain queued before it expires.
// Zero or negative means the task never expires.
func WithLifetime(lifetime time.Duration) TaskOption {
	return func(t *Task) {
		t.Lifetime = lifetime
	}
}

// WithUID overrides the generated unique id. Intended for tests.
func WithUID(uid string) TaskOption {
	return func(t *Task) {
		t.UID = uid
	}
}

// DefaultTaskLifetime bounds how long a task waits for a response before the
// expiry sweep removes it.
const DefaultTaskLifetime = 10 * time.Second

// NewTask builds a task with a fresh unique id, the given type tag and
// callback, and the default lifetime. A MetaTimeout duration in the metadata
// takes precedence over WithLifetime.
func NewTask(taskType string, callback Callback, opts ...TaskOption) *Task {
	t := &Task{
		UID:      uuid.NewString(),
		TaskType: taskType,
		Callback: callback,
		Lifetime: DefaultTaskLifetime,
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.TaskMeta != nil {
		if override, ok := t.TaskMeta[MetaTimeout].(time.Duration); ok {
			t.Lifetime = override
		}
	}
	return t
}

// expired reports whether the task's lifetime has elapsed as of now.
// Tasks with a non-positive lifetime never expire.
func (t *Task) expired(now time.Time) bool {
	if t.Lifetime <= 0 {
		return false
	}
	return now.Sub(t.QueuedTime) > t.Lifetime
}

// timeoutMeta builds the metadata mapping handed to the timeout callback:
// the task id plus every non-callback metadata entry.
func (t *Task) timeoutMeta() map[string]any {
	meta := map[string]any{MetaTaskID: t.UID}
	for k, v := range t.TaskMeta {
		if k == MetaTimeoutCallback {
			continue
		}
		meta[k] = v
	}
	return meta
}
