// Package scheduler runs work items one at a time, in submission order, on a
// single executor goroutine. It stands in for the host's main thread: every
// state-mutating operation goes through it.
package scheduler

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/mordilloSan/go-logger/logger"

	"github.com/livebridge/livebridge/common/ipc"
)

// Work is one unit of main-context work. ctx is cancelled when the scheduler
// gives up on pending work during Close.
type Work func(ctx context.Context) (any, error)

// Options configures a Scheduler.
type Options struct {
	// Tick delays each item, emulating the host's scheduling granularity.
	Tick time.Duration
	// Name is used in log lines.
	Name string
}

// PanicError is the failure a Future resolves to when its work panicked.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("scheduled work panicked: %v", e.Value)
}

// Future is the completion handle of a submitted item.
type Future struct {
	done  chan struct{}
	once  sync.Once
	value any
	err   error
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

func (f *Future) resolve(v any, err error) {
	f.once.Do(func() {
		f.value, f.err = v, err
		close(f.done)
	})
}

// Done is closed once the item has completed or was rejected.
func (f *Future) Done() <-chan struct{} { return f.done }

// Wait blocks until the item completes or ctx is done. Giving up the wait
// does not cancel the item.
func (f *Future) Wait(ctx context.Context) (any, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type item struct {
	fn     Work
	future *Future
}

// Scheduler is a single-consumer FIFO executor.
type Scheduler struct {
	opts Options

	mu     sync.Mutex
	queue  []*item
	closed bool

	wake    chan struct{}
	stop    chan struct{}
	stopped chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
}

// New starts the executor goroutine.
func New(opts Options) *Scheduler {
	if opts.Name == "" {
		opts.Name = "main"
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		opts:    opts,
		wake:    make(chan struct{}, 1),
		stop:    make(chan struct{}),
		stopped: make(chan struct{}),
		ctx:     ctx,
		cancel:  cancel,
	}
	go s.loop()
	return s
}

// Submit enqueues fn and returns immediately. Safe from any goroutine.
func (s *Scheduler) Submit(fn Work) (*Future, error) {
	if fn == nil {
		return nil, fmt.Errorf("%w: nil work", ipc.ErrInvalidArgs)
	}
	f := newFuture()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ipc.ErrSchedulerClosed
	}
	s.queue = append(s.queue, &item{fn: fn, future: f})
	s.mu.Unlock()

	s.signal()
	return f, nil
}

// Do submits fn and waits for its result.
func (s *Scheduler) Do(ctx context.Context, fn Work) (any, error) {
	f, err := s.Submit(fn)
	if err != nil {
		return nil, err
	}
	return f.Wait(ctx)
}

// Len reports the number of queued items, excluding the running one.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Close stops accepting work and lets the executor drain the queue for up to
// grace. Items still queued after that are rejected with ErrSchedulerClosed
// and the running item's context is cancelled. Close returns once the
// executor has exited. Calling Close again waits for the same shutdown.
func (s *Scheduler) Close(grace time.Duration) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		<-s.stopped
		return
	}
	s.closed = true
	s.mu.Unlock()
	s.signal()

	timer := time.NewTimer(grace)
	defer timer.Stop()

	select {
	case <-s.stopped:
		logger.DebugKV("scheduler drained", "scheduler", s.opts.Name)
		s.cancel()
		return
	case <-timer.C:
	}

	close(s.stop)
	s.mu.Lock()
	rest := s.queue
	s.queue = nil
	s.mu.Unlock()

	for _, it := range rest {
		it.future.resolve(nil, ipc.ErrSchedulerClosed)
	}
	if len(rest) > 0 {
		logger.WarnKV("scheduler grace expired, rejected pending work",
			"scheduler", s.opts.Name,
			"rejected", len(rest),
			"grace_period", grace)
	}
	s.cancel()
	<-s.stopped
}

func (s *Scheduler) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) loop() {
	defer close(s.stopped)
	for {
		it := s.next()
		if it == nil {
			return
		}
		if s.opts.Tick > 0 && !s.waitTick() {
			it.future.resolve(nil, ipc.ErrSchedulerClosed)
			continue
		}
		s.run(it)
	}
}

// next pops the head of the queue, blocking while it is empty. It returns
// nil when the executor should exit.
func (s *Scheduler) next() *item {
	for {
		select {
		case <-s.stop:
			return nil
		default:
		}

		s.mu.Lock()
		if len(s.queue) > 0 {
			it := s.queue[0]
			s.queue[0] = nil
			s.queue = s.queue[1:]
			s.mu.Unlock()
			return it
		}
		closed := s.closed
		s.mu.Unlock()

		if closed {
			return nil
		}
		select {
		case <-s.wake:
		case <-s.stop:
			return nil
		}
	}
}

func (s *Scheduler) waitTick() bool {
	t := time.NewTimer(s.opts.Tick)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-s.stop:
		return false
	}
}

func (s *Scheduler) run(it *item) {
	defer func() {
		if r := recover(); r != nil {
			logger.ErrorKV("scheduled work panicked",
				"scheduler", s.opts.Name,
				"panic", fmt.Sprintf("%v", r))
			it.future.resolve(nil, &PanicError{Value: r, Stack: debug.Stack()})
		}
	}()
	v, err := it.fn(s.ctx)
	it.future.resolve(v, err)
}
