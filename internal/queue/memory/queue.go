// Package memory provides an in-process FIFO queue shared by the worker pools.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrQueueClosed is returned once Close has been called.
	ErrQueueClosed = errors.New("queue closed")
	// ErrQueueFull is returned by Push when a bounded queue is at capacity.
	ErrQueueFull = errors.New("queue full")
)

// Queue is a FIFO queue with a non-blocking Push and a context-aware Pop.
// A capacity of zero means the queue is unbounded.
type Queue[T any] struct {
	mu       sync.Mutex
	items    []T
	capacity int
	closed   bool

	notify    chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// NewQueue constructs a queue. capacity <= 0 disables the bound.
func NewQueue[T any](capacity int) *Queue[T] {
	if capacity < 0 {
		capacity = 0
	}
	return &Queue[T]{
		capacity: capacity,
		notify:   make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

// Push appends an item without blocking.
func (q *Queue[T]) Push(item T) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrQueueClosed
	}
	if q.capacity > 0 && len(q.items) >= q.capacity {
		q.mu.Unlock()
		return ErrQueueFull
	}
	q.items = append(q.items, item)
	q.mu.Unlock()
	q.signal()
	return nil
}

// Pop removes the oldest item, waiting until one is available, the context
// ends, or the queue is closed. Items still queued at Close are dropped.
func (q *Queue[T]) Pop(ctx context.Context) (T, error) {
	var zero T
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return zero, ErrQueueClosed
		}
		if len(q.items) > 0 {
			item := q.items[0]
			q.items[0] = zero
			q.items = q.items[1:]
			more := len(q.items) > 0
			q.mu.Unlock()
			if more {
				// hand the wake-up on to the next waiter
				q.signal()
			}
			return item, nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return zero, fmt.Errorf("dequeue canceled: %w", ctx.Err())
		case <-q.done:
			return zero, ErrQueueClosed
		case <-q.notify:
		}
	}
}

// Len reports how many items are waiting.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close releases all waiters and drops anything still queued. Safe to call
// more than once.
func (q *Queue[T]) Close() {
	q.closeOnce.Do(func() {
		q.mu.Lock()
		q.closed = true
		q.items = nil
		q.mu.Unlock()
		close(q.done)
	})
}

func (q *Queue[T]) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}
