// Package refresh runs a refresh function on a fixed interval behind a
// handle that the caller stops explicitly.
package refresh

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Func is one refresh cycle. It receives the task's context, which is
// cancelled when the handle is stopped. Errors from scheduled cycles are
// logged; Controller.Refresh returns them to the caller.
type Func func(ctx context.Context) error

// Handle controls a scheduled task. The zero value is not usable; obtain
// one from Schedule.
type Handle struct {
	interval time.Duration
	cancel   context.CancelFunc
	trigger  chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// Schedule runs fn immediately and then every interval until ctx is
// cancelled or the returned handle is stopped. Runs never overlap: ticks
// and manual triggers are serialized on the task goroutine. A failed or
// panicking cycle is logged and the task keeps running.
func Schedule(ctx context.Context, interval time.Duration, fn Func) *Handle {
	if interval <= 0 {
		panic("refresh: non-positive interval")
	}

	ctx, cancel := context.WithCancel(ctx)
	h := &Handle{
		interval: interval,
		cancel:   cancel,
		trigger:  make(chan struct{}, 1),
		done:     make(chan struct{}),
	}

	go h.loop(ctx, fn)
	return h
}

func (h *Handle) loop(ctx context.Context, fn Func) {
	defer close(h.done)

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	cycle := func() {
		if err := run(ctx, fn); err != nil && ctx.Err() == nil {
			zerolog.Ctx(ctx).Error().Err(err).Msg("Refresh cycle failed")
		}
	}

	cycle()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cycle()
		case <-h.trigger:
			cycle()
			ticker.Reset(h.interval)
		}
	}
}

func run(ctx context.Context, fn Func) (err error) {
	defer func() {
		if r := recover(); r != nil {
			zerolog.Ctx(ctx).Error().Interface("panic", r).Msg("refresh cycle panicked, will retry on next cycle")
			err = fmt.Errorf("refresh cycle panicked: %v", r)
		}
	}()
	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(ctx)
}

// Stop cancels the task and waits for an in-flight cycle to return.
// It is safe to call more than once and from multiple goroutines.
func (h *Handle) Stop() {
	h.stopOnce.Do(h.cancel)
	<-h.done
}

// Done is closed once the task has exited.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Running reports whether the task is still scheduled.
func (h *Handle) Running() bool {
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}

// Interval is the period the task was scheduled with.
func (h *Handle) Interval() time.Duration {
	return h.interval
}

// Trigger requests an immediate cycle. A request made while one is
// already pending is coalesced. It reports false when the task has exited.
func (h *Handle) Trigger() bool {
	if !h.Running() {
		return false
	}
	select {
	case h.trigger <- struct{}{}:
	default:
	}
	return true
}

// ErrStopped is returned by Controller.Refresh when no refresh function
// can run because the controller has been closed.
var ErrStopped = errors.New("refresh: controller closed")

// Controller owns at most one auto-refresh task and a manual refresh path.
// Starting auto-refresh while one is running replaces it.
type Controller struct {
	fn  Func
	ctx context.Context

	mu     sync.Mutex
	handle *Handle
	manual sync.Mutex
	closed bool
}

// NewController returns a controller for fn. Tasks it starts derive from ctx.
func NewController(ctx context.Context, fn Func) *Controller {
	return &Controller{fn: fn, ctx: ctx}
}

// Start begins auto-refresh at the given interval, stopping any task that
// was already running. The first cycle runs immediately.
func (c *Controller) Start(interval time.Duration) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrStopped
	}
	old := c.handle
	c.handle = Schedule(c.ctx, interval, c.serialized)
	c.mu.Unlock()

	// stopped outside the lock so a cycle may query the controller
	if old != nil {
		old.Stop()
	}
	return nil
}

// Stop ends auto-refresh and waits for an in-flight cycle. It reports
// whether a task was running.
func (c *Controller) Stop() bool {
	c.mu.Lock()
	h := c.handle
	c.handle = nil
	c.mu.Unlock()

	if h == nil {
		return false
	}
	wasRunning := h.Running()
	h.Stop()
	return wasRunning
}

// Running reports whether auto-refresh is active, and at what interval.
func (c *Controller) Running() (bool, time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.handle == nil || !c.handle.Running() {
		return false, 0
	}
	return true, c.handle.Interval()
}

// Refresh runs one cycle now on the caller's goroutine and returns its
// error. It never runs concurrently with an auto-refresh cycle.
func (c *Controller) Refresh(ctx context.Context) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrStopped
	}

	return c.serialized(ctx)
}

// Trigger asks a running auto-refresh to cycle now and restart its
// interval, without waiting. It reports false when auto-refresh is off.
func (c *Controller) Trigger() bool {
	c.mu.Lock()
	h := c.handle
	c.mu.Unlock()
	return h != nil && h.Trigger()
}

// Close stops auto-refresh and rejects further Start and Refresh calls.
func (c *Controller) Close() {
	c.mu.Lock()
	c.closed = true
	h := c.handle
	c.handle = nil
	c.mu.Unlock()

	if h != nil {
		h.Stop()
	}
}

func (c *Controller) serialized(ctx context.Context) error {
	c.manual.Lock()
	defer c.manual.Unlock()
	return run(ctx, c.fn)
}
