package gateway

import (
	"context"
	"log"
	"sync"
	"time"
)

// Session is one reconnectable gateway session, queued by shard ID.
type Session interface {
	ShardID() int
	Reconnect(ctx context.Context) error
}

// WorkerHook is invoked whenever appended work should start being processed.
// It must never block. fromWorker is true when the invocation comes from the
// queue's own worker goroutine; see the re-entrancy note on work.
type WorkerHook func(fromWorker bool)

// ReconnectQueue collects sessions that lost their connection and replays
// them one at a time on a worker goroutine, with spacing between entries.
// The queue never decides when draining starts: it notifies the hook and
// waits for RunWorker to be called.
type ReconnectQueue struct {
	spacing time.Duration

	mu      sync.Mutex
	hook    WorkerHook
	pending []Session
	queued  map[int]bool
	done    chan struct{} // non-nil while a worker is running

	ctx    context.Context
	cancel context.CancelFunc
}

// NewReconnectQueue creates a queue with the given spacing between
// consecutive reconnect attempts.
func NewReconnectQueue(spacing time.Duration) *ReconnectQueue {
	ctx, cancel := context.WithCancel(context.Background())
	return &ReconnectQueue{
		spacing: spacing,
		queued:  make(map[int]bool),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// SetHook wires the worker hook. Done once during composition, before any
// session can be appended.
func (q *ReconnectQueue) SetHook(hook WorkerHook) {
	q.mu.Lock()
	q.hook = hook
	q.mu.Unlock()
}

// Append queues a session for reconnection and notifies the hook. A shard
// already waiting in the queue is not appended twice.
func (q *ReconnectQueue) Append(s Session) error {
	if s == nil {
		return ErrNilSession
	}
	if q.ctx.Err() != nil {
		return ErrQueueClosed
	}

	q.mu.Lock()
	if q.queued[s.ShardID()] {
		q.mu.Unlock()
		log.Printf("Shard %d is already queued for reconnect", s.ShardID())
		return nil
	}
	q.queued[s.ShardID()] = true
	q.pending = append(q.pending, s)
	hook := q.hook
	q.mu.Unlock()

	log.Printf("Shard %d queued for reconnect", s.ShardID())
	if hook != nil {
		hook(false)
	}
	return nil
}

// Pending returns the number of sessions waiting to reconnect.
func (q *ReconnectQueue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// RunWorker starts the queue's worker goroutine if one is not already
// running. It returns immediately.
func (q *ReconnectQueue) RunWorker() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.done != nil || q.ctx.Err() != nil {
		return
	}
	done := make(chan struct{})
	q.done = done
	go q.work(done)
}

// WorkerDone returns the done channel of the active worker, or false when no
// worker is running.
func (q *ReconnectQueue) WorkerDone() (<-chan struct{}, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.done == nil {
		return nil, false
	}
	return q.done, true
}

// work drains the queue. A failed reconnect is requeued and the worker
// exits, re-firing the hook on its own behalf (the re-entrant case): the
// controller then schedules a fresh run, and its admission delay paces the
// retry. The same path catches entries appended between the final emptiness
// check and the worker's exit.
func (q *ReconnectQueue) work(done chan struct{}) {
	defer func() {
		q.mu.Lock()
		if q.done == done {
			q.done = nil
		}
		leftover := len(q.pending) > 0
		hook := q.hook
		q.mu.Unlock()

		close(done)
		if leftover && q.ctx.Err() == nil && hook != nil {
			hook(true)
		}
	}()

	for {
		q.mu.Lock()
		if len(q.pending) == 0 {
			q.mu.Unlock()
			return
		}
		s := q.pending[0]
		q.pending = q.pending[1:]
		delete(q.queued, s.ShardID())
		q.mu.Unlock()

		if err := s.Reconnect(q.ctx); err != nil {
			if q.ctx.Err() != nil {
				log.Printf("Reconnect worker stopping: %v", q.ctx.Err())
				return
			}
			log.Printf("Reconnect of shard %d failed, requeueing: %v", s.ShardID(), err)
			q.requeue(s)
			return
		}
		log.Printf("Shard %d reconnected, %d left in queue", s.ShardID(), q.Pending())

		if q.Pending() == 0 {
			continue // skip the spacing pause, the emptiness check exits
		}
		select {
		case <-time.After(q.spacing):
		case <-q.ctx.Done():
			return
		}
	}
}

// requeue puts a session back without firing the hook; the worker's exit
// path takes care of the notification.
func (q *ReconnectQueue) requeue(s Session) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.queued[s.ShardID()] {
		return
	}
	q.queued[s.ShardID()] = true
	q.pending = append(q.pending, s)
}

// Close stops the queue. A running worker finishes its current attempt and
// exits; further appends are rejected.
func (q *ReconnectQueue) Close() {
	q.cancel()
}
