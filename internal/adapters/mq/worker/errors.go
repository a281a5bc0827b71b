package worker

import "errors"

var (
	// ErrPanic wraps a panic recovered from a handler.
	ErrPanic = errors.New("worker handler panicked")
	// ErrShutdownTimeout is returned when Shutdown gives up waiting.
	ErrShutdownTimeout = errors.New("worker shutdown timed out")
)
