// Package queue provides the bounded in-memory inbox that serializes signals
// for a single consumer.
package queue

import (
	"context"
	"sync"

	"github.com/okian/evalstream/pkg/metrics"
)

const defaultCapacity = 256

// Queue provides blocking enqueue and channel-based dequeue semantics.
type Queue[T any] interface {
	// Enqueue adds an item, waiting for space. It returns false when ctx is
	// done or the queue is closed.
	Enqueue(ctx context.Context, item T) bool

	// TryEnqueue adds an item only if space is available right now.
	TryEnqueue(item T) bool

	// Dequeue returns a channel delivering items in arrival order. The channel
	// is closed when the queue is closed or ctx is done.
	Dequeue(ctx context.Context) <-chan T

	// Len returns the current number of queued items.
	Len() int

	// Close stops the queue. Pending items are discarded.
	Close() error

	// IsClosed returns true if the queue has been closed.
	IsClosed() bool
}

// InMemoryQueue implements Queue using a buffered channel. The channel itself
// is never closed; done signals shutdown so late producers cannot panic.
type InMemoryQueue[T any] struct {
	items    chan T
	done     chan struct{}
	capacity int
	once     sync.Once
}

// NewInMemoryQueue creates a new in-memory queue with configuration options.
func NewInMemoryQueue[T any](opts ...Option) *InMemoryQueue[T] {
	cfg := config{capacity: defaultCapacity}
	for _, opt := range opts {
		opt(&cfg)
	}

	q := &InMemoryQueue[T]{
		items:    make(chan T, cfg.capacity),
		done:     make(chan struct{}),
		capacity: cfg.capacity,
	}
	metrics.UpdateInboxCapacity(q.capacity)
	metrics.UpdateInboxSize(0)
	return q
}

// Enqueue adds an item to the queue.
func (q *InMemoryQueue[T]) Enqueue(ctx context.Context, item T) bool {
	if q.IsClosed() {
		metrics.RecordInboxDropped("closed")
		return false
	}

	select {
	case q.items <- item:
		metrics.RecordInboxEnqueue()
		metrics.UpdateInboxSize(len(q.items))
		return true
	case <-q.done:
		metrics.RecordInboxDropped("closed")
		return false
	case <-ctx.Done():
		metrics.RecordInboxDropped("context_cancelled")
		return false
	}
}

// TryEnqueue adds an item without waiting.
func (q *InMemoryQueue[T]) TryEnqueue(item T) bool {
	if q.IsClosed() {
		metrics.RecordInboxDropped("closed")
		return false
	}

	select {
	case q.items <- item:
		metrics.RecordInboxEnqueue()
		metrics.UpdateInboxSize(len(q.items))
		return true
	default:
		metrics.RecordInboxDropped("queue_full")
		return false
	}
}

// Dequeue returns a channel that will receive items as they become available.
func (q *InMemoryQueue[T]) Dequeue(ctx context.Context) <-chan T {
	out := make(chan T)
	go func() {
		defer close(out)
		for {
			select {
			case <-q.done:
				return
			case <-ctx.Done():
				return
			case item := <-q.items:
				select {
				case out <- item:
					metrics.RecordInboxDequeue()
					metrics.UpdateInboxSize(len(q.items))
				case <-q.done:
					return
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}

// Len returns the current number of queued items.
func (q *InMemoryQueue[T]) Len() int {
	return len(q.items)
}

// Cap returns the configured capacity.
func (q *InMemoryQueue[T]) Cap() int {
	return q.capacity
}

// Close shuts down the queue. It is safe to call more than once.
func (q *InMemoryQueue[T]) Close() error {
	q.once.Do(func() {
		close(q.done)
		metrics.UpdateInboxSize(0)
	})
	return nil
}

// IsClosed returns true if the queue has been closed.
func (q *InMemoryQueue[T]) IsClosed() bool {
	select {
	case <-q.done:
		return true
	default:
		return false
	}
}
