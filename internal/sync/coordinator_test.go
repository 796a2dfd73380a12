package sync

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldpulse/mobile-core/internal/connectivity"
	apperrors "github.com/fieldpulse/mobile-core/internal/errors"
	"github.com/fieldpulse/mobile-core/internal/models"
	"github.com/fieldpulse/mobile-core/internal/queue"
	"github.com/fieldpulse/mobile-core/internal/store"
)

type executorFunc func(ctx context.Context, req *models.QueuedRequest) (queue.Outcome, error)

func (f executorFunc) Execute(ctx context.Context, req *models.QueuedRequest) (queue.Outcome, error) {
	return f(ctx, req)
}

type reachability struct {
	online atomic.Bool
}

func (r *reachability) probe(context.Context) error {
	if r.online.Load() {
		return nil
	}
	return assert.AnError
}

func testFixture(t *testing.T, exec queue.Executor) (*Coordinator, *queue.Queue, *reachability, *connectivity.Monitor) {
	t.Helper()

	q, err := queue.New(store.NewMemoryStore(), queue.Config{
		MaxSize:        10,
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     10 * time.Millisecond,
	})
	require.NoError(t, err)
	t.Cleanup(func() { q.Close() })

	net := &reachability{}
	monitor := connectivity.NewMonitor(net.probe, time.Minute)

	c := NewCoordinator(q, exec, monitor)
	return c, q, net, monitor
}

func TestPerformOfflineNotCapableFailsFast(t *testing.T) {
	var calls atomic.Int32
	exec := executorFunc(func(context.Context, *models.QueuedRequest) (queue.Outcome, error) {
		calls.Add(1)
		return queue.Success, nil
	})
	c, q, _, _ := testFixture(t, exec)

	_, err := c.Perform(context.Background(), "/technicians/t1/location", models.MethodPost, nil, false)
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrOffline))

	// Fail-fast means no network attempt and nothing persisted.
	assert.Zero(t, calls.Load())
	assert.Zero(t, q.Pending())
}

func TestPerformOfflineCapableQueuesWithoutExecuting(t *testing.T) {
	var calls atomic.Int32
	exec := executorFunc(func(context.Context, *models.QueuedRequest) (queue.Outcome, error) {
		calls.Add(1)
		return queue.Success, nil
	})
	c, q, _, _ := testFixture(t, exec)

	res, err := c.Perform(context.Background(), "/jobs/j1/status", models.MethodPost, []byte(`{"status":"enroute"}`), true)
	require.NoError(t, err)
	assert.Equal(t, Queued, res.Status)
	assert.NotEmpty(t, res.RequestID)
	assert.Zero(t, calls.Load())
	assert.Equal(t, 1, q.Pending())
}

func TestPerformOnlineExecutesImmediately(t *testing.T) {
	var endpoint atomic.Value
	exec := executorFunc(func(_ context.Context, req *models.QueuedRequest) (queue.Outcome, error) {
		endpoint.Store(req.Endpoint)
		return queue.Success, nil
	})
	c, q, net, monitor := testFixture(t, exec)

	net.online.Store(true)
	require.True(t, monitor.CheckNow(context.Background()))

	res, err := c.Perform(context.Background(), "/jobs/j1/complete", models.MethodPost, nil, true)
	require.NoError(t, err)
	assert.Equal(t, Done, res.Status)
	assert.Empty(t, res.RequestID)
	assert.Equal(t, "/jobs/j1/complete", endpoint.Load())
	assert.Zero(t, q.Pending())
}

func TestPerformOnlineTerminalFailureSurfaces(t *testing.T) {
	exec := executorFunc(func(context.Context, *models.QueuedRequest) (queue.Outcome, error) {
		return queue.TerminalFailure, assert.AnError
	})
	c, q, net, monitor := testFixture(t, exec)

	net.online.Store(true)
	monitor.CheckNow(context.Background())

	_, err := c.Perform(context.Background(), "/jobs/j1/complete", models.MethodPost, nil, true)
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrTerminal))
	assert.Zero(t, q.Pending())
}

func TestPerformOnlineRetryableFallsBackToQueue(t *testing.T) {
	exec := executorFunc(func(context.Context, *models.QueuedRequest) (queue.Outcome, error) {
		return queue.RetryableFailure, assert.AnError
	})
	c, q, net, monitor := testFixture(t, exec)

	net.online.Store(true)
	monitor.CheckNow(context.Background())

	// The connection drops right before the request goes out.
	net.online.Store(false)

	res, err := c.Perform(context.Background(), "/jobs/j1/status", models.MethodPost, nil, true)
	require.NoError(t, err)
	assert.Equal(t, Queued, res.Status)
	assert.Equal(t, 1, q.Pending())

	// The failed round trip makes the monitor re-check, so the stale
	// online state self-corrects.
	require.Eventually(t, func() bool { return !monitor.Online() }, time.Second, time.Millisecond)
}

func TestPerformOnlineRetryableNotCapableErrors(t *testing.T) {
	exec := executorFunc(func(context.Context, *models.QueuedRequest) (queue.Outcome, error) {
		return queue.RetryableFailure, assert.AnError
	})
	c, q, net, monitor := testFixture(t, exec)

	net.online.Store(true)
	monitor.CheckNow(context.Background())

	_, err := c.Perform(context.Background(), "/technicians/t1/location", models.MethodPost, nil, false)
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrInternal))
	assert.Zero(t, q.Pending())
}

func TestPerformRejectsInvalidMethod(t *testing.T) {
	c, _, _, _ := testFixture(t, executorFunc(func(context.Context, *models.QueuedRequest) (queue.Outcome, error) {
		return queue.Success, nil
	}))

	_, err := c.Perform(context.Background(), "/jobs/j1/status", "TRACE", nil, true)
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrValidation))
}

func TestReconnectDrainsQueue(t *testing.T) {
	var delivered atomic.Int32
	exec := executorFunc(func(context.Context, *models.QueuedRequest) (queue.Outcome, error) {
		delivered.Add(1)
		return queue.Success, nil
	})
	c, q, net, monitor := testFixture(t, exec)
	c.Start(context.Background())

	for i := 0; i < 3; i++ {
		_, err := c.Perform(context.Background(), "/jobs/j1/status", models.MethodPost, nil, true)
		require.NoError(t, err)
	}
	require.Equal(t, 3, q.Pending())

	net.online.Store(true)
	monitor.CheckNow(context.Background())

	require.Eventually(t, func() bool { return q.Pending() == 0 }, time.Second, time.Millisecond)
	assert.Equal(t, int32(3), delivered.Load())
}

func TestFlushDrainsManually(t *testing.T) {
	var delivered atomic.Int32
	exec := executorFunc(func(context.Context, *models.QueuedRequest) (queue.Outcome, error) {
		delivered.Add(1)
		return queue.Success, nil
	})
	c, q, _, _ := testFixture(t, exec)

	_, err := c.Perform(context.Background(), "/jobs/j1/status", models.MethodPost, nil, true)
	require.NoError(t, err)

	c.Flush(context.Background())
	assert.Zero(t, q.Pending())
	assert.Equal(t, int32(1), delivered.Load())
	assert.Zero(t, c.Pending())
}
