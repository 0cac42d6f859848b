package dispatcher

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewValidatesConfig(t *testing.T) {
	t.Parallel()

	_, err := New[int](Config{Name: "fetch"}, func(context.Context, int) {}, nil)
	require.ErrorContains(t, err, "workers must be > 0")

	_, err = New[int](Config{Name: "fetch", Workers: 1}, nil, nil)
	require.ErrorContains(t, err, "handler is required")
}

func TestDispatcherProcessesSubmittedTasks(t *testing.T) {
	t.Parallel()

	var (
		mu   sync.Mutex
		seen []int
	)
	d, err := New[int](Config{Name: "fetch", Workers: 3}, func(_ context.Context, v int) {
		mu.Lock()
		seen = append(seen, v)
		mu.Unlock()
	}, zap.NewNop())
	require.NoError(t, err)
	d.Start()
	defer d.Shutdown()

	for i := 0; i < 50; i++ {
		require.NoError(t, d.Submit(i))
	}
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 50
	}, time.Second, 5*time.Millisecond)
}

func TestDispatcherBoundsConcurrency(t *testing.T) {
	t.Parallel()

	var active, peak atomic.Int32
	var done atomic.Int32
	d, err := New[int](Config{Name: "extract", Workers: 2}, func(_ context.Context, _ int) {
		n := active.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		active.Add(-1)
		done.Add(1)
	}, nil)
	require.NoError(t, err)
	d.Start()
	defer d.Shutdown()

	for i := 0; i < 10; i++ {
		require.NoError(t, d.Submit(i))
	}
	require.Eventually(t, func() bool { return done.Load() == 10 }, 2*time.Second, 5*time.Millisecond)
	require.LessOrEqual(t, peak.Load(), int32(2))
}

func TestSubmitFromHandlerDoesNotDeadlock(t *testing.T) {
	t.Parallel()

	var count atomic.Int32
	var d *Dispatcher[int]
	d, err := New[int](Config{Name: "fetch", Workers: 1}, func(_ context.Context, v int) {
		count.Add(1)
		if v > 0 {
			_ = d.Submit(v - 1)
		}
	}, nil)
	require.NoError(t, err)
	d.Start()
	defer d.Shutdown()

	require.NoError(t, d.Submit(20))
	require.Eventually(t, func() bool { return count.Load() == 21 }, time.Second, 5*time.Millisecond)
}

func TestShutdownDropsQueuedWorkAndRejectsSubmit(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	var ran atomic.Int32
	d, err := New[int](Config{Name: "fetch", Workers: 1}, func(ctx context.Context, _ int) {
		ran.Add(1)
		select {
		case <-release:
		case <-ctx.Done():
		}
	}, nil)
	require.NoError(t, err)
	d.Start()

	for i := 0; i < 5; i++ {
		require.NoError(t, d.Submit(i))
	}
	require.Eventually(t, func() bool { return ran.Load() == 1 }, time.Second, 5*time.Millisecond)

	d.Shutdown()
	d.Shutdown()
	d.Wait()
	close(release)

	require.Equal(t, int32(1), ran.Load())
	require.ErrorIs(t, d.Submit(9), ErrClosed)
	require.Zero(t, d.Pending())
}

func TestRunStopsOnContextCancel(t *testing.T) {
	t.Parallel()

	d, err := New[string](Config{Name: "runs", Workers: 2}, func(context.Context, string) {}, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop after context cancel")
	}
	require.ErrorIs(t, d.Submit("late"), ErrClosed)
}

func TestHandlerPanicKeepsWorkerAlive(t *testing.T) {
	t.Parallel()

	var handled atomic.Int32
	d, err := New[int](Config{Name: "extract", Workers: 1}, func(_ context.Context, v int) {
		if v == 0 {
			panic("boom")
		}
		handled.Add(1)
	}, nil)
	require.NoError(t, err)
	d.Start()
	defer d.Shutdown()

	require.NoError(t, d.Submit(0))
	require.NoError(t, d.Submit(1))
	require.Eventually(t, func() bool { return handled.Load() == 1 }, time.Second, 5*time.Millisecond)
}
