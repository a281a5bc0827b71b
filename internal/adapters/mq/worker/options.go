package worker

import (
	"context"
	"time"

	"github.com/okian/wddbridge/pkg/logger"
)

// Option applies a configuration option to a Worker.
type Option func(*settings)

type settings struct {
	name        string
	logger      logger.Logger
	tick        time.Duration
	onTick      func(ctx context.Context) error
	stopOnError bool
}

// WithName sets the worker name for identification and logging.
func WithName(name string) Option {
	return func(s *settings) {
		if name != "" {
			s.name = name
		}
	}
}

// WithLogger sets a custom logger for the worker.
func WithLogger(l logger.Logger) Option {
	return func(s *settings) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithTick calls fn every interval while the worker waits for items. The
// tick also bounds how long the worker blocks before it observes shutdown.
func WithTick(interval time.Duration, fn func(ctx context.Context) error) Option {
	return func(s *settings) {
		if interval > 0 {
			s.tick = interval
			s.onTick = fn
		}
	}
}

// WithStopOnError makes Run return on the first handler error or panic.
func WithStopOnError() Option {
	return func(s *settings) {
		s.stopOnError = true
	}
}
