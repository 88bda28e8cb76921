package bus

import (
	"context"
	"sync"
	"sync/atomic"

	"tradecore/pkg/exception"
)

// Queue is a bounded queue handing values from producer goroutines to a
// single consumer. TryPublish drops on a full queue, Publish waits.
type Queue[T any] struct {
	ch      chan T
	closing chan struct{}
	once    sync.Once
	mu      sync.RWMutex
	closed  atomic.Bool
	dropped atomic.Uint64
}

// NewQueue allocates a queue with the given capacity.
func NewQueue[T any](capacity int) *Queue[T] {
	if capacity <= 0 {
		capacity = 1
	}
	return &Queue[T]{ch: make(chan T, capacity), closing: make(chan struct{})}
}

// TryPublish enqueues v without blocking.
func (q *Queue[T]) TryPublish(v T) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed.Load() {
		return exception.ErrQueueClosed
	}
	select {
	case q.ch <- v:
		return nil
	default:
		q.dropped.Add(1)
		return exception.ErrQueueFull
	}
}

// Publish enqueues v, waiting for room until ctx is done or the queue closes.
func (q *Queue[T]) Publish(ctx context.Context, v T) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed.Load() {
		return exception.ErrQueueClosed
	}
	select {
	case q.ch <- v:
		return nil
	default:
	}
	select {
	case q.ch <- v:
		return nil
	case <-q.closing:
		return exception.ErrQueueClosed
	case <-ctx.Done():
		q.dropped.Add(1)
		return ctx.Err()
	}
}

// TryPop returns the next value if one is queued.
func (q *Queue[T]) TryPop() (T, bool) {
	select {
	case v, ok := <-q.ch:
		return v, ok
	default:
		var zero T
		return zero, false
	}
}

// Drain hands at most max queued values to fn without blocking. max <= 0 drains
// what was queued when the call started.
func (q *Queue[T]) Drain(max int, fn func(T)) int {
	if max <= 0 {
		max = len(q.ch)
	}
	n := 0
	for ; n < max; n++ {
		v, ok := q.TryPop()
		if !ok {
			break
		}
		fn(v)
	}
	return n
}

// Len returns the number of queued values.
func (q *Queue[T]) Len() int { return len(q.ch) }

// Dropped counts values rejected by a full queue.
func (q *Queue[T]) Dropped() uint64 { return q.dropped.Load() }

// Closed reports whether Close was called.
func (q *Queue[T]) Closed() bool { return q.closed.Load() }

// Close stops the queue from accepting new values. Queued values can still be consumed.
func (q *Queue[T]) Close() {
	q.once.Do(func() { close(q.closing) })
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed.CompareAndSwap(false, true) {
		close(q.ch)
	}
}

// Run consumes values until the context is done or the queue is closed and empty.
func (q *Queue[T]) Run(ctx context.Context, handler func(T)) {
	for {
		select {
		case <-ctx.Done():
			return
		case v, ok := <-q.ch:
			if !ok {
				return
			}
			handler(v)
		}
	}
}
