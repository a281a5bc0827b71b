// Package queue provides the bounded in-memory queues that connect event
// sources, the bridge loop and the comb connector.
package queue

import (
	"context"
	"sync"

	"github.com/okian/wddbridge/pkg/metrics"
)

// Default queue configuration constants.
const (
	defaultQueueCapacity = 1024
	defaultQueueName     = "default"
)

// Queue provides bounded enqueue and channel-based dequeue semantics.
type Queue[T any] interface {
	// Enqueue adds an item without blocking. It fails with ErrFull or
	// ErrClosed.
	Enqueue(ctx context.Context, v T) error

	// EnqueueWait adds an item, waiting for space until ctx is done or the
	// queue is closed.
	EnqueueWait(ctx context.Context, v T) error

	// Dequeue returns the receive side. It is closed once the queue is
	// closed and every queued item has been received.
	Dequeue() <-chan T

	// Len returns the current number of queued items.
	Len() int

	// Close stops accepting items. Queued items can still be received.
	Close() error

	// IsClosed returns true if the queue has been closed.
	IsClosed() bool
}

// InMemoryQueue implements Queue using a buffered channel.
type InMemoryQueue[T any] struct {
	name     string
	items    chan T
	capacity int

	mu        sync.RWMutex
	closed    bool
	done      chan struct{}
	closeOnce sync.Once
}

// NewInMemoryQueue creates a new in-memory queue with configuration options.
func NewInMemoryQueue[T any](opts ...Option) *InMemoryQueue[T] {
	s := settings{name: defaultQueueName, capacity: defaultQueueCapacity}
	for _, opt := range opts {
		opt(&s)
	}

	q := &InMemoryQueue[T]{
		name:     s.name,
		items:    make(chan T, s.capacity),
		capacity: s.capacity,
		done:     make(chan struct{}),
	}

	metrics.UpdateQueueCapacity(q.name, q.capacity)
	metrics.UpdateQueueSize(q.name, 0, q.capacity)
	return q
}

// Enqueue adds an item if there is room.
func (q *InMemoryQueue[T]) Enqueue(ctx context.Context, v T) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		metrics.RecordQueueRejected(q.name, "closed")
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		metrics.RecordQueueRejected(q.name, "context_cancelled")
		return err
	}

	select {
	case q.items <- v:
		q.updateSize()
		return nil
	default:
		metrics.RecordQueueRejected(q.name, "full")
		return ErrFull
	}
}

// EnqueueWait adds an item, blocking while the queue is full.
func (q *InMemoryQueue[T]) EnqueueWait(ctx context.Context, v T) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		metrics.RecordQueueRejected(q.name, "closed")
		return ErrClosed
	}

	select {
	case q.items <- v:
		q.updateSize()
		return nil
	case <-q.done:
		metrics.RecordQueueRejected(q.name, "closed")
		return ErrClosed
	case <-ctx.Done():
		metrics.RecordQueueRejected(q.name, "context_cancelled")
		return ctx.Err()
	}
}

// Dequeue returns the receive side of the queue.
func (q *InMemoryQueue[T]) Dequeue() <-chan T {
	return q.items
}

// Len returns the current number of queued items.
func (q *InMemoryQueue[T]) Len() int {
	return q.updateSize()
}

// Capacity returns the configured capacity.
func (q *InMemoryQueue[T]) Capacity() int { return q.capacity }

func (q *InMemoryQueue[T]) updateSize() int {
	size := len(q.items)
	metrics.UpdateQueueSize(q.name, size, q.capacity)
	return size
}

// Close stops accepting items. Waiting producers are released first so the
// channel can be closed without racing a send.
func (q *InMemoryQueue[T]) Close() error {
	q.closeOnce.Do(func() {
		close(q.done)

		q.mu.Lock()
		defer q.mu.Unlock()
		close(q.items)
		q.closed = true
	})
	return nil
}

// IsClosed returns true if the queue has been closed.
func (q *InMemoryQueue[T]) IsClosed() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.closed
}
