package pool

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestLogger creates a logger that only emits errors.
func newTestLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
}

func newTestPool(t *testing.T, size, queue int) *Pool {
	t.Helper()
	p := New(Options{Size: size, QueueSize: queue, Logger: newTestLogger()})
	t.Cleanup(func() { _ = p.Close(time.Second) })
	return p
}

func TestPool_RunsSubmittedJobs(t *testing.T) {
	p := newTestPool(t, 2, 8)

	var count atomic.Int32
	futures := make([]*Future, 0, 5)
	for i := 0; i < 5; i++ {
		f, err := p.Submit(context.Background(), func(ctx context.Context) {
			count.Add(1)
		})
		require.NoError(t, err)
		futures = append(futures, f)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for _, f := range futures {
		require.NoError(t, f.Wait(ctx))
	}
	assert.Equal(t, int32(5), count.Load())
}

func TestPool_NeverExceedsSize(t *testing.T) {
	const size = 3
	p := newTestPool(t, size, 32)

	var running, peak atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 12; i++ {
		wg.Add(1)
		_, err := p.Submit(context.Background(), func(ctx context.Context) {
			defer wg.Done()
			n := running.Add(1)
			for {
				old := peak.Load()
				if n <= old || peak.CompareAndSwap(old, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			running.Add(-1)
		})
		require.NoError(t, err)
	}
	wg.Wait()

	assert.LessOrEqual(t, peak.Load(), int32(size))
}

func TestPool_TrySubmitDoesNotBlockWhenSaturated(t *testing.T) {
	p := newTestPool(t, 1, 1)

	release := make(chan struct{})
	started := make(chan struct{})
	_, err := p.TrySubmit(func(ctx context.Context) {
		close(started)
		<-release
	})
	require.NoError(t, err)
	<-started

	// Fill the single queue slot.
	_, err = p.TrySubmit(func(ctx context.Context) {})
	require.NoError(t, err)

	begin := time.Now()
	_, err = p.TrySubmit(func(ctx context.Context) {})
	assert.ErrorIs(t, err, ErrSaturated)
	assert.Less(t, time.Since(begin), 50*time.Millisecond)

	close(release)
}

func TestPool_CancelSkipsQueuedJob(t *testing.T) {
	p := newTestPool(t, 1, 4)

	release := make(chan struct{})
	started := make(chan struct{})
	_, err := p.Submit(context.Background(), func(ctx context.Context) {
		close(started)
		<-release
	})
	require.NoError(t, err)
	<-started

	var ran atomic.Bool
	f, err := p.Submit(context.Background(), func(ctx context.Context) {
		ran.Store(true)
	})
	require.NoError(t, err)
	f.Cancel()
	close(release)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, f.Wait(ctx))
	assert.True(t, f.Cancelled())
	assert.False(t, ran.Load())
}

func TestPool_RecoversPanics(t *testing.T) {
	p := newTestPool(t, 1, 4)

	f, err := p.Submit(context.Background(), func(ctx context.Context) {
		panic("boom")
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	err = f.Wait(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")

	// The worker survives the panic.
	var ran atomic.Bool
	f, err = p.Submit(context.Background(), func(ctx context.Context) { ran.Store(true) })
	require.NoError(t, err)
	require.NoError(t, f.Wait(ctx))
	assert.True(t, ran.Load())
}

func TestPool_SubmitAfterClose(t *testing.T) {
	p := New(Options{Size: 1, Logger: newTestLogger()})
	require.NoError(t, p.Close(time.Second))

	_, err := p.Submit(context.Background(), func(ctx context.Context) {})
	assert.ErrorIs(t, err, ErrClosed)

	_, err = p.TrySubmit(func(ctx context.Context) {})
	assert.ErrorIs(t, err, ErrClosed)

	// Closing twice is a no-op.
	assert.NoError(t, p.Close(time.Second))
}

func TestPool_CloseCancelsRunningJobs(t *testing.T) {
	p := New(Options{Size: 2, Logger: newTestLogger()})

	stopped := make(chan struct{})
	_, err := p.Go(func(ctx context.Context) {
		<-ctx.Done()
		close(stopped)
	})
	require.NoError(t, err)

	require.NoError(t, p.Close(time.Second))
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("long-running job did not observe cancellation")
	}
}
