package admission

import (
	"context"
	"sync"
)

// reconnectRun is one execution of the drain-and-wait sequence. Its done
// channel closes when the run finishes regardless of outcome; waiters learn
// only that the run is over, never whether it succeeded.
type reconnectRun struct {
	done chan struct{}
}

func newReconnectRun() *reconnectRun {
	return &reconnectRun{done: make(chan struct{})}
}

// await blocks until the run finishes or the context is cancelled.
func (r *reconnectRun) await(ctx context.Context) error {
	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// coordinator tracks whether a reconnect run is scheduled or running. The
// lock is held only to read or swap the run handle, never across a wait, so
// an in-flight run can never stall unrelated admission requests on the lock
// itself.
type coordinator struct {
	mu  sync.Mutex
	run *reconnectRun
}

// current snapshots the active run handle, if any. Callers wait on the
// returned handle outside the lock.
func (c *coordinator) current() *reconnectRun {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.run
}

// active reports whether a run is scheduled or running.
func (c *coordinator) active() bool {
	return c.current() != nil
}

// begin decides whether a new run may be scheduled. At most one run is
// active at a time, except that the queue's own worker is always allowed to
// schedule a successor; refusing it would leave queued reconnects undrained.
func (c *coordinator) begin(fromWorker bool) (*reconnectRun, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.run != nil && !fromWorker {
		return nil, false
	}
	run := newReconnectRun()
	c.run = run
	return run, true
}

// finish marks the run as over and wakes its waiters. A superseded run (the
// re-entrant case) closes only its own handle and leaves the successor in
// place.
func (c *coordinator) finish(run *reconnectRun) {
	c.mu.Lock()
	if c.run == run {
		c.run = nil
	}
	c.mu.Unlock()
	close(run.done)
}
