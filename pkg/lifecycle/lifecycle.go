// Package lifecycle sequences the process through startup, drain and close.
//
// Startup hooks run concurrently and gate readiness. On Shutdown the shared
// context is cancelled and drain hooks (OnShutdown, Go) stop intake and finish
// accepted work. Close hooks run only once every drain hook has returned, so
// the resources that work depends on (connection pools, clients) outlive it.
package lifecycle

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// ReadinessChecker reports whether a subsystem is ready to serve traffic.
type ReadinessChecker interface {
	Ready() bool
}

// Coordinator runs the registered hooks for each lifecycle phase.
type Coordinator struct {
	ctx    context.Context
	cancel context.CancelFunc

	startup sync.WaitGroup
	drain   sync.WaitGroup

	mu      sync.Mutex
	closers []func()
	ready   bool
}

// New creates a Coordinator with a cancellable context.
func New() *Coordinator {
	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{ctx: ctx, cancel: cancel}
}

// Context returns the coordinator's context, cancelled when Shutdown begins.
func (c *Coordinator) Context() context.Context {
	return c.ctx
}

// OnStartup runs fn now; Ready stays false until it and its peers return.
func (c *Coordinator) OnStartup(fn func()) {
	c.startup.Go(fn)
}

// OnShutdown runs fn now as a drain hook. fn should block on
// <-c.Context().Done(), then stop intake and wait for in-flight work.
func (c *Coordinator) OnShutdown(fn func()) {
	c.drain.Go(fn)
}

// Go runs fn in the background for the life of the coordinator. fn receives the
// coordinator context and must return once it is cancelled; it counts as a
// drain hook.
func (c *Coordinator) Go(fn func(ctx context.Context)) {
	c.drain.Go(func() { fn(c.ctx) })
}

// OnClose registers fn to release a shared resource. Close hooks run
// concurrently after every drain hook has returned.
func (c *Coordinator) OnClose(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closers = append(c.closers, fn)
}

// Ready returns true after all startup hooks have completed.
func (c *Coordinator) Ready() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ready
}

// WaitForStartup blocks until all startup hooks have completed and marks the
// coordinator ready.
func (c *Coordinator) WaitForStartup() {
	c.startup.Wait()
	c.mu.Lock()
	c.ready = true
	c.mu.Unlock()
}

// Shutdown cancels the context, waits for the drain hooks and then runs the
// close hooks. The whole sequence is bounded by timeout; on expiry the error
// names the phase that was still running.
func (c *Coordinator) Shutdown(timeout time.Duration) error {
	c.mu.Lock()
	c.ready = false
	c.mu.Unlock()
	c.cancel()

	drained := make(chan struct{})
	closed := make(chan struct{})
	go func() {
		c.drain.Wait()
		close(drained)

		c.mu.Lock()
		closers := c.closers
		c.closers = nil
		c.mu.Unlock()

		var wg sync.WaitGroup
		for _, fn := range closers {
			wg.Go(fn)
		}
		wg.Wait()
		close(closed)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-closed:
		return nil
	case <-timer.C:
		select {
		case <-drained:
			return fmt.Errorf("shutdown timeout after %v: closing resources", timeout)
		default:
			return fmt.Errorf("shutdown timeout after %v: draining work", timeout)
		}
	}
}
