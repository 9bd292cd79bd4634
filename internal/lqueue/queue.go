// Package lqueue contains a bounded FIFO queue that discards its oldest
// entries when full, with blocking context-aware removal.
//
// It is the sample buffer on both ends of a stream:
// an outlet keeps one per consumer and an inlet keeps one for received samples.
package lqueue

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned by [Queue.Pop] on an empty closed queue
// that was closed with a nil cause.
var ErrClosed = errors.New("queue closed")

// Queue is a bounded drop-oldest FIFO queue.
// The zero value is not usable; create one with [New].
type Queue[T any] struct {
	mu sync.Mutex

	buf  []T
	head int
	n    int

	// Closed and replaced whenever a value is pushed.
	ready chan struct{}

	closed   bool
	closeErr error

	dropped uint64
}

// New returns a queue holding at most capacity values.
// It panics if capacity is not positive.
func New[T any](capacity int) *Queue[T] {
	if capacity <= 0 {
		panic(errors.New("BUG: lqueue.New capacity must be positive"))
	}
	return &Queue[T]{
		buf:   make([]T, capacity),
		ready: make(chan struct{}),
	}
}

// Cap returns the capacity of q.
func (q *Queue[T]) Cap() int {
	return len(q.buf)
}

// Len returns the number of values currently queued.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.n
}

// Dropped returns the number of values discarded to make room.
func (q *Queue[T]) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

// Push appends v, discarding the oldest value if q is full.
// It reports whether a value was discarded.
// Push on a closed queue is a no-op.
func (q *Queue[T]) Push(v T) (dropped bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	if q.n == len(q.buf) {
		var zero T
		q.buf[q.head] = zero
		q.head = (q.head + 1) % len(q.buf)
		q.n--
		q.dropped++
		dropped = true
	}

	q.buf[(q.head+q.n)%len(q.buf)] = v
	q.n++

	close(q.ready)
	q.ready = make(chan struct{})
	return dropped
}

// TryPop removes and returns the oldest value without blocking.
func (q *Queue[T]) TryPop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.popLocked()
}

func (q *Queue[T]) popLocked() (T, bool) {
	var zero T
	if q.n == 0 {
		return zero, false
	}
	v := q.buf[q.head]
	q.buf[q.head] = zero
	q.head = (q.head + 1) % len(q.buf)
	q.n--
	return v, true
}

// Pop removes and returns the oldest value,
// blocking until one is available, ctx finishes, or q is closed.
//
// A value already queued is returned even if ctx is already done.
// Once q is closed and empty, Pop returns the close cause, or [ErrClosed].
func (q *Queue[T]) Pop(ctx context.Context) (T, error) {
	for {
		q.mu.Lock()
		v, ok := q.popLocked()
		if ok {
			q.mu.Unlock()
			return v, nil
		}
		if q.closed {
			err := q.closeErr
			q.mu.Unlock()
			if err == nil {
				err = ErrClosed
			}
			var zero T
			return zero, err
		}
		ready := q.ready
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			var zero T
			return zero, context.Cause(ctx)
		case <-ready:
		}
	}
}

// Drain removes up to max queued values without blocking,
// appending them to dst.
func (q *Queue[T]) Drain(dst []T, max int) []T {
	q.mu.Lock()
	defer q.mu.Unlock()

	for range max {
		v, ok := q.popLocked()
		if !ok {
			break
		}
		dst = append(dst, v)
	}
	return dst
}

// Clear discards all queued values.
func (q *Queue[T]) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()

	clear(q.buf)
	q.head = 0
	q.n = 0
}

// Close wakes every blocked Pop.
// Queued values remain available; afterwards Pop returns cause.
// Only the first call has an effect.
func (q *Queue[T]) Close(cause error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	q.closeErr = cause
	close(q.ready)
	q.ready = make(chan struct{})
}

// Ready returns a channel that is closed when a value is next pushed
// or when q is closed.
func (q *Queue[T]) Ready() <-chan struct{} {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.ready
}
