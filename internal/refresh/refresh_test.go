package refresh

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScheduleRunsImmediatelyAndOnInterval(t *testing.T) {
	var calls atomic.Int32
	h := Schedule(context.Background(), 20*time.Millisecond, func(ctx context.Context) error {
		calls.Add(1)
		return nil
	})
	defer h.Stop()

	assert.Eventually(t, func() bool { return calls.Load() >= 1 }, time.Second, time.Millisecond)
	assert.Eventually(t, func() bool { return calls.Load() >= 3 }, time.Second, 5*time.Millisecond)
	assert.True(t, h.Running())
	assert.Equal(t, 20*time.Millisecond, h.Interval())
}

func TestHandleStop(t *testing.T) {
	var calls atomic.Int32
	h := Schedule(context.Background(), 10*time.Millisecond, func(ctx context.Context) error {
		calls.Add(1)
		return nil
	})

	require.Eventually(t, func() bool { return calls.Load() >= 1 }, time.Second, time.Millisecond)
	h.Stop()
	h.Stop() // idempotent

	assert.False(t, h.Running())
	select {
	case <-h.Done():
	default:
		t.Fatal("Done not closed after Stop")
	}

	after := calls.Load()
	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, after, calls.Load(), "no cycles after Stop")
	assert.False(t, h.Trigger())
}

func TestHandleStopWaitsForCycle(t *testing.T) {
	started := make(chan struct{})
	var finished atomic.Bool

	h := Schedule(context.Background(), time.Hour, func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		time.Sleep(10 * time.Millisecond)
		finished.Store(true)
		return nil
	})

	<-started
	h.Stop()
	assert.True(t, finished.Load())
}

func TestParentContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	h := Schedule(ctx, time.Hour, func(context.Context) error { return nil })

	cancel()
	select {
	case <-h.Done():
	case <-time.After(time.Second):
		t.Fatal("task did not exit on parent cancel")
	}
	assert.False(t, h.Running())
}

func TestTrigger(t *testing.T) {
	var calls atomic.Int32
	h := Schedule(context.Background(), time.Hour, func(context.Context) error {
		calls.Add(1)
		return nil
	})
	defer h.Stop()

	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)
	assert.True(t, h.Trigger())
	assert.Eventually(t, func() bool { return calls.Load() == 2 }, time.Second, time.Millisecond)
}

func TestPanicDoesNotKillTask(t *testing.T) {
	var calls atomic.Int32
	h := Schedule(context.Background(), 10*time.Millisecond, func(context.Context) error {
		if calls.Add(1) == 1 {
			panic("boom")
		}
		return nil
	})
	defer h.Stop()

	assert.Eventually(t, func() bool { return calls.Load() >= 2 }, time.Second, time.Millisecond)
	assert.True(t, h.Running())
}

func TestScheduleRejectsBadInterval(t *testing.T) {
	assert.Panics(t, func() { Schedule(context.Background(), 0, func(context.Context) error { return nil }) })
}

func TestControllerStartStop(t *testing.T) {
	var calls atomic.Int32
	c := NewController(context.Background(), func(context.Context) error {
		calls.Add(1)
		return nil
	})

	running, _ := c.Running()
	assert.False(t, running)
	assert.False(t, c.Stop(), "stopping an idle controller is a no-op")

	require.NoError(t, c.Start(10*time.Millisecond))
	running, interval := c.Running()
	assert.True(t, running)
	assert.Equal(t, 10*time.Millisecond, interval)
	assert.Eventually(t, func() bool { return calls.Load() >= 2 }, time.Second, time.Millisecond)

	// restarting replaces the task
	require.NoError(t, c.Start(time.Hour))
	_, interval = c.Running()
	assert.Equal(t, time.Hour, interval)

	assert.True(t, c.Stop())
	running, _ = c.Running()
	assert.False(t, running)
}

func TestControllerRefreshNeverOverlaps(t *testing.T) {
	var active, maxActive atomic.Int32
	var mu sync.Mutex

	c := NewController(context.Background(), func(context.Context) error {
		n := active.Add(1)
		mu.Lock()
		if n > maxActive.Load() {
			maxActive.Store(n)
		}
		mu.Unlock()
		time.Sleep(2 * time.Millisecond)
		active.Add(-1)
		return nil
	})
	require.NoError(t, c.Start(time.Millisecond))
	defer c.Close()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, c.Refresh(context.Background()))
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxActive.Load())
}

func TestControllerClose(t *testing.T) {
	c := NewController(context.Background(), func(context.Context) error { return nil })
	require.NoError(t, c.Start(time.Hour))

	c.Close()
	running, _ := c.Running()
	assert.False(t, running)
	assert.ErrorIs(t, c.Start(time.Hour), ErrStopped)
	assert.ErrorIs(t, c.Refresh(context.Background()), ErrStopped)
}

func TestControllerCycleMayQueryController(t *testing.T) {
	var c *Controller
	seen := make(chan bool, 4)
	c = NewController(context.Background(), func(context.Context) error {
		running, _ := c.Running()
		select {
		case seen <- running:
		default:
		}
		return nil
	})

	require.NoError(t, c.Start(time.Hour))
	<-seen
	assert.True(t, c.Stop())
}

func TestControllerRefreshReturnsCycleError(t *testing.T) {
	upstream := errors.New("opensky unavailable")
	var fail atomic.Bool
	fail.Store(true)

	c := NewController(context.Background(), func(context.Context) error {
		if fail.Load() {
			return upstream
		}
		return nil
	})
	defer c.Close()

	assert.ErrorIs(t, c.Refresh(context.Background()), upstream)

	fail.Store(false)
	assert.NoError(t, c.Refresh(context.Background()))
}

func TestControllerRefreshPanicIsError(t *testing.T) {
	c := NewController(context.Background(), func(context.Context) error {
		panic("boom")
	})
	defer c.Close()

	err := c.Refresh(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panicked")
}

func TestFailingCycleKeepsSchedule(t *testing.T) {
	var calls atomic.Int32
	h := Schedule(context.Background(), 10*time.Millisecond, func(context.Context) error {
		calls.Add(1)
		return errors.New("boom")
	})
	defer h.Stop()

	assert.Eventually(t, func() bool { return calls.Load() >= 3 }, time.Second, time.Millisecond)
	assert.True(t, h.Running())
}

func TestControllerTrigger(t *testing.T) {
	var calls atomic.Int32
	c := NewController(context.Background(), func(context.Context) error {
		calls.Add(1)
		return nil
	})
	defer c.Close()

	assert.False(t, c.Trigger(), "nothing to trigger while auto-refresh is off")

	require.NoError(t, c.Start(time.Hour))
	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)

	assert.True(t, c.Trigger())
	assert.Eventually(t, func() bool { return calls.Load() == 2 }, time.Second, time.Millisecond)

	c.Stop()
	assert.False(t, c.Trigger())
}
