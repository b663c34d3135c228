package isc

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inmarsat-enterprise/fieldedge-utilities/errors"
)

func newTestQueue(t *testing.T, opts ...QueueOption) *TaskQueue {
	t.Helper()
	q, err := NewTaskQueue(opts...)
	require.NoError(t, err)
	return q
}

func TestAppendAndGet(t *testing.T) {
	q := newTestQueue(t)
	task := NewTask("get_properties", nil)

	require.NoError(t, q.Append(context.Background(), task))
	assert.True(t, q.IsQueued(task.UID))
	assert.Equal(t, 1, q.Len())
	assert.False(t, task.QueuedTime.IsZero())

	got := q.Get(task.UID)
	require.NotNil(t, got)
	assert.Equal(t, task.UID, got.UID)
	assert.False(t, q.IsQueued(task.UID))
	assert.Nil(t, q.Get(task.UID), "second get must miss")
}

func TestAppendRejectsDuplicateUID(t *testing.T) {
	q := newTestQueue(t)
	task := NewTask("get_properties", nil, WithUID("fixed"))
	dup := NewTask("get_properties", nil, WithUID("fixed"))

	require.NoError(t, q.Append(context.Background(), task))
	err := q.Append(context.Background(), dup)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrDuplicateTask)
	assert.True(t, errors.IsInvalid(err))
}

func TestAppendRejectsInvalidTask(t *testing.T) {
	q := newTestQueue(t)

	assert.ErrorIs(t, q.Append(context.Background(), nil), errors.ErrInvalidTask)
	assert.ErrorIs(t, q.Append(context.Background(), &Task{}), errors.ErrInvalidTask)
}

func TestIsQueuedMeta(t *testing.T) {
	q := newTestQueue(t)
	task := NewTask("set_properties", nil, WithTaskMeta(map[string]any{"property": "powerMode"}))
	require.NoError(t, q.Append(context.Background(), task))

	assert.True(t, q.IsQueuedMeta("property", "powerMode"))
	assert.False(t, q.IsQueuedMeta("property", "serialNumber"))
	assert.False(t, q.IsQueuedMeta("other", "powerMode"))
}

func TestBlockingGateSerializesTasks(t *testing.T) {
	q := newTestQueue(t, WithBlocking())
	first := NewTask("get_properties", nil)
	second := NewTask("get_properties", nil)

	require.NoError(t, q.Append(context.Background(), first))

	// The gate is held by the first task, so the second append must wait
	// until it is released.
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := q.Append(ctx, second)
	require.Error(t, err)
	assert.True(t, errors.IsTransient(err))
	assert.False(t, q.IsQueued(second.UID))

	q.Release()
	require.NoError(t, q.Append(context.Background(), second))
	assert.True(t, q.IsQueued(second.UID))
}

func TestDuplicateAppendReleasesGate(t *testing.T) {
	q := newTestQueue(t, WithBlocking())
	require.NoError(t, q.Append(context.Background(), NewTask("t", nil, WithUID("a"))))
	q.Release()

	err := q.Append(context.Background(), NewTask("t", nil, WithUID("a")))
	require.ErrorIs(t, err, errors.ErrDuplicateTask)

	// The failed append must not leave the gate held.
	ctx, cancel := context.WithTimeout(context.Background(), 250*time.Millisecond)
	defer cancel()
	assert.NoError(t, q.Append(ctx, NewTask("t", nil, WithUID("b"))))
}

func TestRemoveExpiredFiresTimeoutCallbackOnce(t *testing.T) {
	mock := clock.NewMock()
	q := newTestQueue(t, WithQueueClock(mock), WithBlocking())

	var calls atomic.Int32
	var gotMeta map[string]any
	spy := TimeoutCallback(func(meta map[string]any) {
		calls.Add(1)
		gotMeta = meta
	})

	task := NewTask("get_properties", nil,
		WithLifetime(time.Second),
		WithTaskMeta(map[string]any{
			MetaTimeoutCallback: spy,
			"target":            "modem",
		}))
	require.NoError(t, q.Append(context.Background(), task))

	mock.Add(900 * time.Millisecond)
	q.RemoveExpired()
	assert.True(t, q.IsQueued(task.UID), "not yet past lifetime")
	assert.Zero(t, calls.Load())

	mock.Add(200 * time.Millisecond)
	q.RemoveExpired()
	assert.False(t, q.IsQueued(task.UID))
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, task.UID, gotMeta[MetaTaskID])
	assert.Equal(t, "modem", gotMeta["target"])
	assert.NotContains(t, gotMeta, MetaTimeoutCallback)

	q.RemoveExpired()
	assert.Equal(t, int32(1), calls.Load(), "callback must fire exactly once")

	// Expiry released the gate for the next query.
	ctx, cancel := context.WithTimeout(context.Background(), 250*time.Millisecond)
	defer cancel()
	assert.NoError(t, q.Append(ctx, NewTask("t", nil)))
}

func TestRemoveExpiredSkipsImmortalTasks(t *testing.T) {
	mock := clock.NewMock()
	q := newTestQueue(t, WithQueueClock(mock))

	task := NewTask("get_properties", nil, WithLifetime(0))
	require.NoError(t, q.Append(context.Background(), task))

	mock.Add(time.Hour)
	q.RemoveExpired()
	assert.True(t, q.IsQueued(task.UID))
}

func TestMetaTimeoutOverridesLifetime(t *testing.T) {
	task := NewTask("get_properties", nil,
		WithLifetime(time.Minute),
		WithTaskMeta(map[string]any{MetaTimeout: 2 * time.Second}))
	assert.Equal(t, 2*time.Second, task.Lifetime)
}

func TestClearDiscardsWithoutCallbacks(t *testing.T) {
	mock := clock.NewMock()
	q := newTestQueue(t, WithQueueClock(mock), WithBlocking())

	var calls atomic.Int32
	task := NewTask("get_properties", nil,
		WithLifetime(time.Second),
		WithTaskMeta(map[string]any{
			MetaTimeoutCallback: TimeoutCallback(func(map[string]any) { calls.Add(1) }),
		}))
	require.NoError(t, q.Append(context.Background(), task))

	q.Clear()
	assert.Zero(t, q.Len())

	mock.Add(2 * time.Second)
	q.RemoveExpired()
	assert.Zero(t, calls.Load())

	ctx, cancel := context.WithTimeout(context.Background(), 250*time.Millisecond)
	defer cancel()
	assert.NoError(t, q.Append(ctx, NewTask("t", nil)), "clear must open the gate")
}
