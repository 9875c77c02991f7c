package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolProcessesAll(t *testing.T) {
	var count int64
	p := NewPool(4, 100, func(ctx context.Context, n int) error {
		atomic.AddInt64(&count, int64(n))
		return nil
	})
	require.NoError(t, p.Start(context.Background()))
	for i := 1; i <= 10; i++ {
		require.NoError(t, p.Submit(i))
	}
	require.NoError(t, p.Stop(time.Second))

	assert.Equal(t, int64(55), atomic.LoadInt64(&count))
	stats := p.Stats()
	assert.Equal(t, int64(10), stats.Submitted)
	assert.Equal(t, int64(10), stats.Processed)
	assert.Equal(t, int64(0), stats.Failed)
}

func TestPoolIsolatesFailures(t *testing.T) {
	var ok int64
	p := NewPool(2, 10, func(ctx context.Context, n int) error {
		switch n {
		case 2:
			return errors.New("boom")
		case 3:
			panic("bad item")
		}
		atomic.AddInt64(&ok, 1)
		return nil
	})
	require.NoError(t, p.Start(context.Background()))
	for i := 1; i <= 4; i++ {
		require.NoError(t, p.Submit(i))
	}
	require.NoError(t, p.Stop(time.Second))

	assert.Equal(t, int64(2), atomic.LoadInt64(&ok))
	assert.Equal(t, int64(2), p.Stats().Failed)
}

func TestPoolLifecycleErrors(t *testing.T) {
	p := NewPool(1, 1, func(ctx context.Context, n int) error { return nil })
	assert.ErrorIs(t, p.Submit(1), ErrPoolNotStarted)
	require.NoError(t, p.Start(context.Background()))
	assert.ErrorIs(t, p.Start(context.Background()), ErrPoolAlreadyStarted)
	require.NoError(t, p.Stop(time.Second))
	assert.ErrorIs(t, p.Submit(1), ErrPoolStopped)
	assert.NoError(t, p.Stop(time.Second))
}

func TestPoolQueueFull(t *testing.T) {
	release := make(chan struct{})
	var started sync.WaitGroup
	started.Add(1)
	var once sync.Once
	p := NewPool(1, 1, func(ctx context.Context, n int) error {
		once.Do(started.Done)
		<-release
		return nil
	})
	require.NoError(t, p.Start(context.Background()))
	require.NoError(t, p.Submit(1))
	started.Wait()
	require.NoError(t, p.Submit(2))
	assert.ErrorIs(t, p.Submit(3), ErrQueueFull)
	close(release)
	require.NoError(t, p.Stop(time.Second))
	assert.Equal(t, int64(1), p.Stats().Dropped)
}

func TestPoolStopTimeoutCancelsWork(t *testing.T) {
	p := NewPool(1, 1, func(ctx context.Context, n int) error {
		<-ctx.Done()
		return ctx.Err()
	})
	require.NoError(t, p.Start(context.Background()))
	require.NoError(t, p.Submit(1))
	time.Sleep(10 * time.Millisecond)
	assert.ErrorIs(t, p.Stop(20*time.Millisecond), ErrStopTimeout)
}

func TestPoolMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	p := NewPool(1, 10, func(ctx context.Context, n int) error {
		if n%2 == 0 {
			return errors.New("even")
		}
		return nil
	}, WithMetrics[int](reg, "dispatch"))
	require.NoError(t, p.Start(context.Background()))
	for i := 1; i <= 4; i++ {
		require.NoError(t, p.Submit(i))
	}
	require.NoError(t, p.Stop(time.Second))

	assert.Equal(t, float64(4), testutil.ToFloat64(p.metrics.submitted))
	assert.Equal(t, float64(2), testutil.ToFloat64(p.metrics.failed))
}
