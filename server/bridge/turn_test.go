package bridge

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/livebridge/livebridge/common/ipc"
)

func TestTurnQueueFIFO(t *testing.T) {
	var q turnQueue
	require.NoError(t, q.acquire(context.Background()))

	const n = 5
	got := make(chan int, n)
	for i := range n {
		go func() {
			if err := q.acquire(context.Background()); err == nil {
				got <- i
				q.release()
			}
		}()
		require.Eventually(t, func() bool { return q.waiting() == i+1 }, time.Second, time.Millisecond)
	}

	q.release()
	for i := range n {
		select {
		case v := <-got:
			assert.Equal(t, i, v)
		case <-time.After(time.Second):
			t.Fatalf("waiter %d never got the turn", i)
		}
	}
}

func TestTurnQueueCancelledWaiterLeaves(t *testing.T) {
	var q turnQueue
	require.NoError(t, q.acquire(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- q.acquire(ctx) }()
	require.Eventually(t, func() bool { return q.waiting() == 1 }, time.Second, time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-errc, context.Canceled)
	assert.Equal(t, 0, q.waiting())

	q.release()
	require.NoError(t, q.acquire(context.Background()))
}

func TestTurnQueueClose(t *testing.T) {
	var q turnQueue
	require.NoError(t, q.acquire(context.Background()))

	errc := make(chan error, 1)
	go func() { errc <- q.acquire(context.Background()) }()
	require.Eventually(t, func() bool { return q.waiting() == 1 }, time.Second, time.Millisecond)

	q.close()
	assert.ErrorIs(t, <-errc, ipc.ErrConnectionClosed)
	assert.ErrorIs(t, q.acquire(context.Background()), ipc.ErrConnectionClosed)
}
