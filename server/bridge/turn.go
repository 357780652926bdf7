package bridge

import (
	"context"
	"slices"
	"sync"

	"github.com/livebridge/livebridge/common/ipc"
)

// turnQueue hands out the exclusive send turn in arrival order. Waiters
// park on their own channel, so nobody spins.
type turnQueue struct {
	mu      sync.Mutex
	held    bool
	closed  bool
	waiters []chan error
}

// acquire blocks until the caller owns the turn, ctx is done, or the queue
// is closed.
func (q *turnQueue) acquire(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ipc.ErrConnectionClosed
	}
	if !q.held && len(q.waiters) == 0 {
		q.held = true
		q.mu.Unlock()
		return nil
	}
	ch := make(chan error, 1)
	q.waiters = append(q.waiters, ch)
	q.mu.Unlock()

	select {
	case err := <-ch:
		return err
	case <-ctx.Done():
	}

	q.mu.Lock()
	if i := slices.Index(q.waiters, ch); i >= 0 {
		q.waiters = slices.Delete(q.waiters, i, i+1)
		q.mu.Unlock()
		return ctx.Err()
	}
	q.mu.Unlock()

	// Granted (or closed) while we were giving up; pass the turn on.
	if err := <-ch; err == nil {
		q.release()
	}
	return ctx.Err()
}

// release hands the turn to the oldest waiter, if any.
func (q *turnQueue) release() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.waiters) == 0 || q.closed {
		q.held = false
		return
	}
	next := q.waiters[0]
	q.waiters = q.waiters[1:]
	next <- nil
}

// waiting reports how many callers are queued behind the holder.
func (q *turnQueue) waiting() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.waiters)
}

// close fails every queued waiter and all future acquires.
func (q *turnQueue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.closed = true
	for _, ch := range q.waiters {
		ch <- ipc.ErrConnectionClosed
	}
	q.waiters = nil
}
