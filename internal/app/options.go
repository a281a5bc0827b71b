package app

import (
	"time"

	"github.com/okian/wddbridge/internal/domain/geometry"
	"github.com/okian/wddbridge/internal/domain/policy"
	"github.com/okian/wddbridge/pkg/logger"
	"github.com/okian/wddbridge/pkg/stats"
)

// Option applies a configuration option to the Bridge.
type Option func(*Bridge)

// WithPolicy gates every dance through an experiment policy.
func WithPolicy(p *policy.Policy) Option {
	return func(b *Bridge) { b.policy = p }
}

// WithLogger sets a custom logger for the bridge.
func WithLogger(l logger.Logger) Option {
	return func(b *Bridge) {
		if l != nil {
			b.log = l
		}
	}
}

// WithRecorder sets the statistics sink.
func WithRecorder(r stats.Recorder) Option {
	return func(b *Bridge) {
		if r != nil {
			b.stats = r
		}
	}
}

// WithEventSource registers a source the bridge closes when it stops.
func WithEventSource(name string, src EventSource) Option {
	return func(b *Bridge) {
		if src != nil {
			b.sources = append(b.sources, namedSource{name: name, src: src})
		}
	}
}

// WithAzimuth exposes the sun azimuth in Stats.
func WithAzimuth(az geometry.AzimuthSource) Option {
	return func(b *Bridge) { b.azimuth = az }
}

// WithPollInterval bounds how long the loop waits for an event before it
// re-checks for shutdown.
func WithPollInterval(d time.Duration) Option {
	return func(b *Bridge) {
		if d > 0 {
			b.poll = d
		}
	}
}

// WithShutdownTimeout bounds the orderly shutdown after the loop ends.
func WithShutdownTimeout(d time.Duration) Option {
	return func(b *Bridge) {
		if d > 0 {
			b.shutdownTimeout = d
		}
	}
}
