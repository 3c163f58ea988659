package admission

import (
	"context"
	"sync"
	"testing"
	"time"
)

// fakeQueue is a controllable stand-in for the session library's reconnect
// queue. Its worker decrements pending entries at a fixed pace, mirroring a
// library that reconnects queued sessions one at a time.
type fakeQueue struct {
	mu         sync.Mutex
	pending    int
	perEntry   time.Duration
	runCalls   int
	workerDone chan struct{}
}

func (q *fakeQueue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pending
}

func (q *fakeQueue) RunCalls() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.runCalls
}

func (q *fakeQueue) RunWorker() {
	q.mu.Lock()
	q.runCalls++
	if q.workerDone != nil {
		q.mu.Unlock()
		return
	}
	done := make(chan struct{})
	q.workerDone = done
	q.mu.Unlock()

	go func() {
		for {
			q.mu.Lock()
			if q.pending == 0 {
				q.workerDone = nil
				q.mu.Unlock()
				close(done)
				return
			}
			q.pending--
			q.mu.Unlock()
			time.Sleep(q.perEntry)
		}
	}()
}

func (q *fakeQueue) WorkerDone() (<-chan struct{}, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.workerDone == nil {
		return nil, false
	}
	return q.workerDone, true
}

// waitIdle polls until no reconnect run is active or the deadline passes.
func waitIdle(t *testing.T, c *Controller, deadline time.Duration) {
	t.Helper()
	expire := time.Now().Add(deadline)
	for c.ReconnectActive() {
		if time.Now().After(expire) {
			t.Fatal("reconnect run did not finish in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// TestController_FirstAdmissionImmediate tests that the seeded pool lets the
// very first login through without waiting
func TestController_FirstAdmissionImmediate(t *testing.T) {
	c := NewController(&fakeQueue{}, 200*time.Millisecond)
	defer c.Close()

	start := time.Now()
	if err := c.RequestAdmission(context.Background(), "shard-0"); err != nil {
		t.Fatalf("RequestAdmission failed: %v", err)
	}
	if waited := time.Since(start); waited > 50*time.Millisecond {
		t.Errorf("first admission waited %v, expected near-immediate grant", waited)
	}
}

// TestController_AdmissionRate tests that consecutive admissions are spaced
// by at least the standard delay
func TestController_AdmissionRate(t *testing.T) {
	const delay = 80 * time.Millisecond
	c := NewController(&fakeQueue{}, delay)
	defer c.Close()

	if err := c.RequestAdmission(context.Background(), "shard-0"); err != nil {
		t.Fatalf("RequestAdmission failed: %v", err)
	}
	first := time.Now()

	if err := c.RequestAdmission(context.Background(), "shard-1"); err != nil {
		t.Fatalf("RequestAdmission failed: %v", err)
	}
	if gap := time.Since(first); gap < delay-5*time.Millisecond {
		t.Errorf("second admission followed after %v, expected at least %v", gap, delay)
	}
}

// TestController_HookReturnsImmediately tests that the reconnect hook never
// blocks its caller even when the drain will take a while
func TestController_HookReturnsImmediately(t *testing.T) {
	queue := &fakeQueue{pending: 3, perEntry: 50 * time.Millisecond}
	c := NewController(queue, 20*time.Millisecond)
	defer c.Close()

	start := time.Now()
	c.ReconnectRequested(false)
	if took := time.Since(start); took > 20*time.Millisecond {
		t.Errorf("hook took %v, expected an immediate return", took)
	}

	waitIdle(t, c, 2*time.Second)
	if queue.Pending() != 0 {
		t.Errorf("expected the queue to be drained, %d entries left", queue.Pending())
	}
}

// TestController_ReconnectRunBlocksLocalAdmission tests that a local caller
// arriving during a reconnect run returns only after the run completed and a
// full delay elapsed
func TestController_ReconnectRunBlocksLocalAdmission(t *testing.T) {
	const (
		delay    = 40 * time.Millisecond
		perEntry = 40 * time.Millisecond
	)
	queue := &fakeQueue{pending: 2, perEntry: perEntry}
	c := NewController(queue, delay)
	defer c.Close()

	c.ReconnectRequested(false)
	time.Sleep(10 * time.Millisecond) // let the run engage

	start := time.Now()
	if err := c.RequestAdmission(context.Background(), "shard-7"); err != nil {
		t.Fatalf("RequestAdmission failed: %v", err)
	}
	elapsed := time.Since(start)

	if c.ReconnectActive() {
		t.Error("local admission returned while the reconnect run was still active")
	}
	if queue.Pending() != 0 {
		t.Errorf("local admission returned with %d reconnects still pending", queue.Pending())
	}
	// Two entries at perEntry each, minus the 10ms head start, plus the
	// fresh token's delay after the run's deposit.
	if min := 2*perEntry - 10*time.Millisecond + delay - 15*time.Millisecond; elapsed < min {
		t.Errorf("local admission granted after %v, expected at least %v", elapsed, min)
	}
}

// TestController_DuplicateHookIgnored tests that an ordinary second hook
// invocation during an active run does not schedule a second worker
func TestController_DuplicateHookIgnored(t *testing.T) {
	queue := &fakeQueue{pending: 2, perEntry: 40 * time.Millisecond}
	c := NewController(queue, 20*time.Millisecond)
	defer c.Close()

	c.ReconnectRequested(false)
	time.Sleep(10 * time.Millisecond)
	c.ReconnectRequested(false)

	waitIdle(t, c, 2*time.Second)
	if calls := queue.RunCalls(); calls != 1 {
		t.Errorf("expected exactly 1 drain, got %d", calls)
	}
}

// TestController_ReentrantHookAllowed tests the documented race: the hook
// fired from the queue's own worker schedules a successor run instead of
// being dropped, and neither run deadlocks
func TestController_ReentrantHookAllowed(t *testing.T) {
	queue := &fakeQueue{pending: 1, perEntry: 60 * time.Millisecond}
	c := NewController(queue, 20*time.Millisecond)
	defer c.Close()

	c.ReconnectRequested(false)
	time.Sleep(15 * time.Millisecond) // first run is now active

	// The re-entrant call must go through even though a run is active.
	c.ReconnectRequested(true)
	if !c.ReconnectActive() {
		t.Fatal("successor run should be scheduled")
	}

	waitIdle(t, c, 2*time.Second)
	if calls := queue.RunCalls(); calls != 2 {
		t.Errorf("expected 2 drains (original plus successor), got %d", calls)
	}
}

// lateQueue simulates a session slipping in after the worker's final
// emptiness check: the first drain exits without touching the entry and
// without re-firing the hook, so only the controller's own end-of-run check
// can pick it up.
type lateQueue struct {
	mu       sync.Mutex
	pending  int
	runCalls int
}

func (q *lateQueue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pending
}

func (q *lateQueue) RunWorker() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.runCalls++
	if q.runCalls > 1 {
		q.pending = 0
	}
}

func (q *lateQueue) WorkerDone() (<-chan struct{}, bool) {
	done := make(chan struct{})
	close(done)
	return done, true
}

func (q *lateQueue) RunCalls() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.runCalls
}

// TestController_LateQueuedSessionGetsSuccessorRun tests that an entry the
// worker never saw is drained by a follow-up run once the current run ends,
// rather than sitting queued until unrelated activity
func TestController_LateQueuedSessionGetsSuccessorRun(t *testing.T) {
	queue := &lateQueue{pending: 1}
	c := NewController(queue, 20*time.Millisecond)
	defer c.Close()

	c.ReconnectRequested(false)

	deadline := time.Now().Add(2 * time.Second)
	for queue.Pending() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("late-queued session was never drained")
		}
		time.Sleep(5 * time.Millisecond)
	}
	waitIdle(t, c, 2*time.Second)

	if calls := queue.RunCalls(); calls != 2 {
		t.Errorf("expected 2 drains (original plus successor), got %d", calls)
	}
}

// TestController_RunDepositsExactlyOneToken tests that draining several
// queued sessions produces a single fresh token, not one per entry
func TestController_RunDepositsExactlyOneToken(t *testing.T) {
	queue := &fakeQueue{pending: 3, perEntry: 10 * time.Millisecond}
	c := NewController(queue, 50*time.Millisecond)
	defer c.Close()

	c.ReconnectRequested(false)
	waitIdle(t, c, 2*time.Second)

	if queue.Pending() != 0 {
		t.Fatalf("expected the queue to be drained, %d entries left", queue.Pending())
	}
	if got := len(c.pool.slot); got != 1 {
		t.Errorf("expected exactly 1 token in the pool after the run, got %d", got)
	}
}

// TestController_CancelledLocalAdmission tests that a caller abandoning its
// wait leaves the rate limiter consistent
func TestController_CancelledLocalAdmission(t *testing.T) {
	const delay = 200 * time.Millisecond
	c := NewController(&fakeQueue{}, delay)
	defer c.Close()

	// Consume the seed and restart the interval.
	if err := c.RequestAdmission(context.Background(), "shard-0"); err != nil {
		t.Fatalf("RequestAdmission failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if err := c.RequestAdmission(ctx, "shard-1"); err != context.DeadlineExceeded {
		t.Fatalf("expected context.DeadlineExceeded, got %v", err)
	}

	// The pending token must still be in the pool, untouched.
	if got := len(c.pool.slot); got != 1 {
		t.Errorf("expected exactly 1 token in the pool after cancellation, got %d", got)
	}
	if err := c.RequestAdmission(context.Background(), "shard-1"); err != nil {
		t.Errorf("follow-up admission failed: %v", err)
	}
}

// TestController_CloseAbortsPendingRun tests that shutdown releases a drain
// worker stuck waiting for a token without corrupting the pool
func TestController_CloseAbortsPendingRun(t *testing.T) {
	const delay = 300 * time.Millisecond
	queue := &fakeQueue{pending: 1, perEntry: 10 * time.Millisecond}
	c := NewController(queue, delay)

	// Restart the interval so the drain worker has to wait for its token.
	if err := c.RequestAdmission(context.Background(), "shard-0"); err != nil {
		t.Fatalf("RequestAdmission failed: %v", err)
	}
	c.ReconnectRequested(false)
	time.Sleep(20 * time.Millisecond)

	start := time.Now()
	if err := c.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if took := time.Since(start); took > 150*time.Millisecond {
		t.Errorf("Close took %v, expected the pending run to abort well before the %v token delay", took, delay)
	}
	if got := len(c.pool.slot); got != 1 {
		t.Errorf("expected exactly 1 token in the pool after aborted run, got %d", got)
	}
}
