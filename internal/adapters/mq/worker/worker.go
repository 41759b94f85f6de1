// Package worker runs a single consumer over a queue so that items are handled
// strictly one at a time in arrival order.
package worker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okian/evalstream/pkg/logger"
)

// Source delivers items to a worker.
type Source[T any] interface {
	Dequeue(ctx context.Context) <-chan T
}

// Handler processes one item.
type Handler[T any] interface {
	Handle(ctx context.Context, item T) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc[T any] func(ctx context.Context, item T) error

// Handle calls f.
func (f HandlerFunc[T]) Handle(ctx context.Context, item T) error { return f(ctx, item) }

// Worker processes items until its context is cancelled, the source closes,
// or Shutdown is called.
type Worker interface {
	// Run starts the worker loop and blocks until it stops.
	Run(ctx context.Context)

	// Shutdown stops the loop after the in-flight item and waits for it.
	Shutdown(ctx context.Context) error
}

// InMemoryWorker implements Worker.
type InMemoryWorker[T any] struct {
	source  Source[T]
	handler Handler[T]
	name    string

	shutdown     chan struct{}
	shutdownOnce sync.Once
	done         chan struct{}

	processed atomic.Int64
	logger    logger.Logger
}

// NewInMemoryWorker creates a new worker with configuration options.
func NewInMemoryWorker[T any](source Source[T], handler Handler[T], opts ...Option) *InMemoryWorker[T] {
	cfg := settings{name: "worker"}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = logger.Get().Named(cfg.name)
	}

	return &InMemoryWorker[T]{
		source:   source,
		handler:  handler,
		name:     cfg.name,
		shutdown: make(chan struct{}),
		done:     make(chan struct{}),
		logger:   cfg.logger,
	}
}

// Run starts the worker loop.
func (w *InMemoryWorker[T]) Run(ctx context.Context) {
	defer close(w.done)

	items := w.source.Dequeue(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.shutdown:
			return
		case item, ok := <-items:
			if !ok {
				return
			}
			if err := w.process(ctx, item); err != nil {
				w.logger.Error(ctx, "error processing item", logger.Error(err))
			}
		}
	}
}

// Done is closed once Run has returned.
func (w *InMemoryWorker[T]) Done() <-chan struct{} { return w.done }

// Processed returns how many items were handled so far.
func (w *InMemoryWorker[T]) Processed() int64 { return w.processed.Load() }

// Shutdown gracefully stops the worker.
func (w *InMemoryWorker[T]) Shutdown(ctx context.Context) error {
	w.shutdownOnce.Do(func() { close(w.shutdown) })

	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		w.logger.Warn(ctx, "shutdown timed out")
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}

// process runs the handler, converting a panic into an error so one bad item
// cannot stop the loop.
func (w *InMemoryWorker[T]) process(ctx context.Context, item T) (err error) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrHandlerPanic, r)
		}
		w.processed.Add(1)
		if elapsed := time.Since(start); elapsed > slowHandlerThreshold {
			w.logger.Debug(ctx, "slow handler", logger.Duration("elapsed", elapsed))
		}
	}()
	return w.handler.Handle(ctx, item)
}
