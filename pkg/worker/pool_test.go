package worker

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"freightdesk/pkg/logger"
)

func TestTrySubmitBeforeStartIsRejected(t *testing.T) {
	pool := New(1, 1, logger.Discard())

	require.False(t, pool.TrySubmit(func(context.Context) {}))
	require.EqualValues(t, 1, pool.Stats().Rejected)
}

func TestFullQueueRejectsWithoutBlocking(t *testing.T) {
	pool := New(1, 1, logger.Discard())
	require.NoError(t, pool.Start(context.Background()))

	started := make(chan struct{})
	release := make(chan struct{})
	require.True(t, pool.TrySubmit(func(context.Context) {
		close(started)
		<-release
	}))
	<-started

	require.True(t, pool.TrySubmit(func(context.Context) {}), "queue slot should accept one task")

	done := make(chan bool, 1)
	go func() { done <- pool.TrySubmit(func(context.Context) {}) }()
	select {
	case accepted := <-done:
		require.False(t, accepted, "full queue must reject")
	case <-time.After(500 * time.Millisecond):
		t.Fatal("TrySubmit blocked on a full queue")
	}

	close(release)
	pool.Close()

	stats := pool.Stats()
	require.EqualValues(t, 2, stats.Submitted)
	require.EqualValues(t, 1, stats.Rejected)
	require.EqualValues(t, 2, stats.Completed)
	require.EqualValues(t, 0, stats.InFlight)
}

func TestCloseDrainsQueuedTasks(t *testing.T) {
	pool := New(2, 8, logger.Discard())
	require.NoError(t, pool.Start(context.Background()))

	var ran atomic.Int64
	for i := 0; i < 8; i++ {
		require.True(t, pool.TrySubmit(func(context.Context) {
			time.Sleep(5 * time.Millisecond)
			ran.Add(1)
		}))
	}

	pool.Close()
	require.EqualValues(t, 8, ran.Load())
	require.False(t, pool.TrySubmit(func(context.Context) {}), "closed pool must reject")

	pool.Close()
}

func TestCancelledRunContextReachesTasks(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	pool := New(1, 0, logger.Discard())
	require.NoError(t, pool.Start(ctx))

	started := make(chan struct{})
	stopped := make(chan error, 1)
	accepted := false
	for deadline := time.Now().Add(time.Second); !accepted && time.Now().Before(deadline); {
		accepted = pool.TrySubmit(func(taskCtx context.Context) {
			close(started)
			<-taskCtx.Done()
			stopped <- taskCtx.Err()
		})
		if !accepted {
			time.Sleep(time.Millisecond)
		}
	}
	require.True(t, accepted, "idle worker should accept with a zero-length queue")
	<-started

	cancel()
	select {
	case err := <-stopped:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("task did not observe cancellation")
	}

	pool.Close()
}

func TestPanickingTaskDoesNotKillWorker(t *testing.T) {
	pool := New(1, 2, logger.Discard())
	require.NoError(t, pool.Start(context.Background()))

	done := make(chan struct{})
	require.True(t, pool.TrySubmit(func(context.Context) { panic("boom") }))
	require.True(t, pool.TrySubmit(func(context.Context) { close(done) }))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker stopped after panic")
	}

	pool.Close()
	require.EqualValues(t, 1, pool.Stats().Panicked)
}

func TestStartTwiceFails(t *testing.T) {
	pool := New(1, 1, logger.Discard())
	require.NoError(t, pool.Start(context.Background()))
	require.Error(t, pool.Start(context.Background()))

	pool.Close()
	require.Error(t, pool.Start(context.Background()))
}
