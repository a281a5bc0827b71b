// Package worker runs a single consumer over a queue.
//
// Items are handled one at a time in dequeue order, which makes the handler
// the only writer of whatever state it owns.
package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/okian/wddbridge/pkg/logger"
	"github.com/okian/wddbridge/pkg/metrics"
)

// Source is where a worker reads items from.
type Source[T any] interface {
	Dequeue() <-chan T
}

// Handler processes one item.
type Handler[T any] func(ctx context.Context, v T) error

// Worker consumes a Source until it is closed or the worker is shut down.
type Worker[T any] struct {
	src    Source[T]
	handle Handler[T]
	cfg    settings

	shutdown     chan struct{}
	shutdownOnce sync.Once
	done         chan struct{}

	logger logger.Logger
}

// New creates a worker. Run must be called to start it.
func New[T any](src Source[T], handle Handler[T], opts ...Option) *Worker[T] {
	cfg := settings{name: "worker"}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = logger.Get().Named(cfg.name)
	}

	return &Worker[T]{
		src:      src,
		handle:   handle,
		cfg:      cfg,
		shutdown: make(chan struct{}),
		done:     make(chan struct{}),
		logger:   cfg.logger,
	}
}

// Run processes items until the source is closed and drained, Shutdown is
// called or ctx is done. With WithStopOnError it returns the first error.
func (w *Worker[T]) Run(ctx context.Context) error {
	defer close(w.done)

	var tick <-chan time.Time
	if w.cfg.tick > 0 {
		t := time.NewTicker(w.cfg.tick)
		defer t.Stop()
		tick = t.C
	}

	items := w.src.Dequeue()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-w.shutdown:
			return nil
		case <-tick:
			if w.cfg.onTick == nil {
				continue
			}
			if err := w.call(ctx, w.cfg.onTick); err != nil && w.fail(ctx, err) {
				return err
			}
		case v, ok := <-items:
			if !ok {
				return nil
			}
			err := w.call(ctx, func(ctx context.Context) error { return w.handle(ctx, v) })
			if err != nil && w.fail(ctx, err) {
				return err
			}
		}
	}
}

// call runs fn and turns a panic into an error.
func (w *Worker[T]) call(ctx context.Context, fn func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrPanic, r)
		}
	}()
	return fn(ctx)
}

// fail logs err and reports whether the worker should stop.
func (w *Worker[T]) fail(ctx context.Context, err error) bool {
	kind := "handler_error"
	if w.cfg.stopOnError {
		kind = "fatal"
	}
	metrics.RecordErrorByComponent(w.cfg.name, kind)
	w.logger.Error(ctx, "error processing item", logger.Error(err))
	return w.cfg.stopOnError
}

// Done is closed when Run has returned.
func (w *Worker[T]) Done() <-chan struct{} { return w.done }

// Shutdown stops the worker without draining and waits for Run to return.
func (w *Worker[T]) Shutdown(ctx context.Context) error {
	w.shutdownOnce.Do(func() { close(w.shutdown) })
	return w.Wait(ctx)
}

// Wait blocks until Run has returned or ctx is done.
func (w *Worker[T]) Wait(ctx context.Context) error {
	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		w.logger.Warn(ctx, "shutdown timed out")
		return fmt.Errorf("%w: %w", ErrShutdownTimeout, ctx.Err())
	}
}
