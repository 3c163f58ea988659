package admission

import (
	"context"
	"log"
	"time"
)

// ReconnectQueue is the seam to the session library's reconnect machinery.
// The library queues disconnected sessions on its own and invokes the
// controller's ReconnectRequested hook whenever the queue should start being
// drained.
type ReconnectQueue interface {
	// Pending returns the number of sessions waiting to reconnect.
	Pending() int
	// RunWorker ensures the queue's own worker is processing entries. It
	// must return without blocking on the drain itself.
	RunWorker()
	// WorkerDone returns the done channel of the active queue worker, or
	// false when no worker is running.
	WorkerDone() (<-chan struct{}, bool)
}

// Controller rate-limits all gateway logins. It reconciles two independent
// sources of session-establishment demand under one global limit:
//
//   - the session library's reconnect queue, which gets unconditional
//     priority over locally initiated logins
//   - local demand to create new shards or revive existing ones
//
// Local callers block in RequestAdmission; the library signals reconnect
// work through ReconnectRequested, which never blocks. The token pool
// guarantees that no two admissions, local or reconnect, start closer
// together than the configured delay.
type Controller struct {
	pool  *Pool
	queue ReconnectQueue
	coord coordinator

	ctx    context.Context
	cancel context.CancelFunc
}

// NewController creates an admission controller over the given reconnect
// queue with the given standard delay between logins.
func NewController(queue ReconnectQueue, delay time.Duration) *Controller {
	ctx, cancel := context.WithCancel(context.Background())
	return &Controller{
		pool:   NewPool(delay),
		queue:  queue,
		ctx:    ctx,
		cancel: cancel,
	}
}

// RequestAdmission blocks until the caller may safely open one new gateway
// session. The caller must perform its handshake immediately after return:
// the delay to the next admission starts counting from this grant.
func (c *Controller) RequestAdmission(ctx context.Context, requester string) error {
	start := time.Now()
	log.Printf("Admission requested: requester=%s", requester)
	if err := c.admit(ctx, false); err != nil {
		return err
	}
	log.Printf("Admission granted: requester=%s wait=%s",
		requester, time.Since(start).Round(time.Millisecond))
	return nil
}

// ReconnectActive reports whether a reconnect run is scheduled or running.
func (c *Controller) ReconnectActive() bool {
	return c.coord.active()
}

// admit serializes one admission behind the token pool. Ordinary callers
// first wait out any active reconnect run; the drain worker itself is
// privileged and must never wait here, or it would deadlock on its own run.
func (c *Controller) admit(ctx context.Context, privileged bool) error {
	if !privileged {
		if run := c.coord.current(); run != nil {
			log.Printf("Reconnect run active, sessions left to reconnect: %d", c.queue.Pending())
			if err := run.await(ctx); err != nil {
				return err
			}
		}
	}

	tok, err := c.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	log.Printf("Took admission token, delay %s", tok.Delay().Round(time.Millisecond))

	if !privileged {
		// The next asker starts counting from now. The drain worker
		// instead deposits when its whole run completes, so the first
		// post-reconnect login cannot race ahead of straggling
		// reconnects.
		c.pool.DepositFresh()
	}
	return nil
}

// ReconnectRequested is the hook the session library invokes whenever it
// wants its reconnect queue drained. It only decides whether to schedule the
// drain worker and returns immediately; all blocking work happens on the
// worker goroutine.
//
// fromWorker is true when the hook fires from the queue's own worker thread,
// which happens when the worker finds late-queued work as it exits. That
// caller is always allowed to schedule a successor run even though the
// current run has not finished; dropping it would leave the queue undrained.
func (c *Controller) ReconnectRequested(fromWorker bool) {
	if fromWorker && c.coord.active() {
		log.Printf("Reconnect hook re-fired from the queue's own worker, allowing a successor run")
	}
	run, ok := c.coord.begin(fromWorker)
	if !ok {
		log.Printf("Reconnect worker is already scheduled or running")
		return
	}
	log.Printf("Scheduling reconnect worker")
	go c.drainReconnects(run)
}

// drainReconnects obtains admission under the same rate limit as everybody
// else, kicks off the queue's drain, and waits for the queue's worker to be
// done. The fresh-token deposit is deferred to run completion so the
// interval to the next login starts only once the reconnects themselves have
// finished.
func (c *Controller) drainReconnects(run *reconnectRun) {
	defer func() {
		c.coord.finish(run)
		// A session appended after the queue worker's final emptiness
		// check had its hook invocation declined while this run was
		// still active. Re-check here so it gets a successor run
		// instead of sitting queued until unrelated activity.
		if c.ctx.Err() == nil && c.queue.Pending() > 0 {
			log.Printf("Sessions were queued as the run ended, scheduling a successor")
			c.ReconnectRequested(false)
		}
	}()

	if err := c.admit(c.ctx, true); err != nil {
		// Nothing was consumed: Acquire restores the token on
		// cancellation, so there is nothing to deposit here.
		log.Printf("Reconnect worker aborted while waiting for a token: %v", err)
		return
	}
	// From here the run owns one consumed token. Return it with a fresh
	// delay on every exit path, before the run handle closes.
	defer c.pool.DepositFresh()

	log.Printf("Starting reconnect drain, pending sessions: %d", c.queue.Pending())
	c.queue.RunWorker()

	if done, ok := c.queue.WorkerDone(); ok {
		log.Printf("Waiting for the reconnect queue worker to finish")
		select {
		case <-done:
		case <-c.ctx.Done():
			log.Printf("Interrupted while waiting for the reconnect queue worker")
		}
	}
	log.Printf("Reconnect run finished")
}

// Close stops the controller. Blocked admissions are released with the
// controller's context error; an active run still deposits its token before
// its handle closes.
func (c *Controller) Close() error {
	c.cancel()
	if run := c.coord.current(); run != nil {
		<-run.done
	}
	return nil
}
