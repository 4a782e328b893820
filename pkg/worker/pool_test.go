package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/qmiloc/metric"
)

type testWork struct {
	id    int
	delay time.Duration
	fail  bool
}

func TestNewPool_Defaults(t *testing.T) {
	noop := func(context.Context, testWork) error { return nil }

	pool := NewPool(5, 100, noop)
	assert.Equal(t, 5, pool.workers)
	assert.Equal(t, 100, pool.queueSize)

	pool = NewPool(0, 0, noop)
	assert.Equal(t, 10, pool.workers)
	assert.Equal(t, 1000, pool.queueSize)

	assert.PanicsWithValue(t, ErrNilProcessor, func() { NewPool[testWork](1, 1, nil) })
}

func TestPool_Lifecycle(t *testing.T) {
	var processed atomic.Int64
	pool := NewPool(2, 10, func(context.Context, testWork) error {
		processed.Add(1)
		return nil
	})

	assert.ErrorIs(t, pool.Submit(testWork{}), ErrPoolNotStarted)

	ctx := context.Background()
	require.NoError(t, pool.Start(ctx))
	assert.ErrorIs(t, pool.Start(ctx), ErrPoolAlreadyStarted)

	for i := 0; i < 5; i++ {
		require.NoError(t, pool.Submit(testWork{id: i}))
	}

	// Stop drains what was queued.
	require.NoError(t, pool.Stop(5*time.Second))
	assert.Equal(t, int64(5), processed.Load())
	assert.ErrorIs(t, pool.Submit(testWork{id: 99}), ErrPoolStopped)
	assert.NoError(t, pool.Stop(time.Second), "second stop is a no-op")
}

func TestPool_QueueFull(t *testing.T) {
	release := make(chan struct{})
	pool := NewPool(1, 2, func(context.Context, testWork) error {
		<-release
		return nil
	})
	require.NoError(t, pool.Start(context.Background()))

	// One item occupies the worker, two fill the queue.
	require.NoError(t, pool.Submit(testWork{id: 0}))
	require.Eventually(t, func() bool { return pool.Stats().QueueDepth == 0 }, time.Second, time.Millisecond)
	require.NoError(t, pool.Submit(testWork{id: 1}))
	require.NoError(t, pool.Submit(testWork{id: 2}))

	assert.ErrorIs(t, pool.Submit(testWork{id: 3}), ErrQueueFull)
	assert.Equal(t, int64(1), pool.Stats().Dropped)

	close(release)
	require.NoError(t, pool.Stop(time.Second))
	assert.Equal(t, int64(3), pool.Stats().Processed)
}

func TestPool_SingleWorkerPreservesOrder(t *testing.T) {
	var mu sync.Mutex
	var order []int
	pool := NewPool(1, 100, func(_ context.Context, w testWork) error {
		mu.Lock()
		order = append(order, w.id)
		mu.Unlock()
		return nil
	})
	require.NoError(t, pool.Start(context.Background()))
	for i := 0; i < 50; i++ {
		require.NoError(t, pool.Submit(testWork{id: i}))
	}
	require.NoError(t, pool.Stop(time.Second))

	require.Len(t, order, 50)
	for i, id := range order {
		assert.Equal(t, i, id)
	}
}

func TestPool_ErrorHandler(t *testing.T) {
	boom := errors.New("boom")
	var failedIDs []int
	var mu sync.Mutex

	pool := NewPool(1, 10,
		func(_ context.Context, w testWork) error {
			if w.fail {
				return boom
			}
			return nil
		},
		WithErrorHandler(func(w testWork, err error) {
			mu.Lock()
			defer mu.Unlock()
			assert.ErrorIs(t, err, boom)
			failedIDs = append(failedIDs, w.id)
		}),
	)
	require.NoError(t, pool.Start(context.Background()))
	require.NoError(t, pool.Submit(testWork{id: 1}))
	require.NoError(t, pool.Submit(testWork{id: 2, fail: true}))
	require.NoError(t, pool.Stop(time.Second))

	assert.Equal(t, []int{2}, failedIDs)
	stats := pool.Stats()
	assert.Equal(t, int64(2), stats.Processed)
	assert.Equal(t, int64(1), stats.Failed)
}

func TestPool_StopTimeout(t *testing.T) {
	pool := NewPool(1, 1, func(_ context.Context, w testWork) error {
		time.Sleep(w.delay)
		return nil
	})
	require.NoError(t, pool.Start(context.Background()))
	require.NoError(t, pool.Submit(testWork{delay: 200 * time.Millisecond}))
	time.Sleep(10 * time.Millisecond)

	assert.ErrorIs(t, pool.Stop(10*time.Millisecond), ErrStopTimeout)
	assert.ErrorIs(t, pool.Submit(testWork{}), ErrPoolStopped)
}

func TestPool_ContextCancelStopsWorkers(t *testing.T) {
	var processed atomic.Int64
	pool := NewPool(2, 10, func(context.Context, testWork) error {
		processed.Add(1)
		return nil
	})
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, pool.Start(ctx))
	cancel()

	require.NoError(t, pool.Stop(time.Second))
}

func TestPool_Metrics(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	pool := NewPool(1, 4, func(context.Context, testWork) error { return nil },
		WithMetricsRegistry[testWork](registry, "lane_test"))
	require.NotNil(t, pool.metrics)

	require.NoError(t, pool.Start(context.Background()))
	require.NoError(t, pool.Submit(testWork{}))
	require.NoError(t, pool.Stop(time.Second))

	families, err := registry.PrometheusRegistry().Gather()
	require.NoError(t, err)
	names := map[string]bool{}
	for _, mf := range families {
		names[mf.GetName()] = true
	}
	assert.True(t, names["lane_test_submitted_total"])
	assert.True(t, names["lane_test_processing_duration_seconds"])
}
