package comb

import (
	"time"

	"github.com/okian/wddbridge/pkg/logger"
	"github.com/okian/wddbridge/pkg/stats"
)

// Default connector configuration.
const (
	DefaultCharacterDelay    = time.Millisecond
	DefaultReconnectInterval = time.Second
	DefaultQueueSize         = 256
)

// Option configures a Connector.
type Option func(*Connector)

// WithDialer makes the connector write to the bus opened by d.
func WithDialer(d Dialer) Option {
	return func(c *Connector) {
		if d != nil {
			c.dialer = d
			c.mode = ModeSerial
		}
	}
}

// WithAudioPlayer replaces bus writes with clip playback.
func WithAudioPlayer(p AudioPlayer) Option {
	return func(c *Connector) {
		if p != nil {
			c.player = p
			c.mode = ModeAudio
		}
	}
}

// WithCharacterDelay sets the pause after each transmitted character. Zero
// writes whole lines.
func WithCharacterDelay(d time.Duration) Option {
	return func(c *Connector) {
		if d >= 0 {
			c.charDelay = d
		}
	}
}

// WithReconnectInterval sets how often a lost bus is reopened.
func WithReconnectInterval(d time.Duration) Option {
	return func(c *Connector) {
		if d > 0 {
			c.reconnectInterval = d
		}
	}
}

// WithQueueSize bounds the outbound queue.
func WithQueueSize(n int) Option {
	return func(c *Connector) {
		if n > 0 {
			c.queueSize = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(c *Connector) {
		if l != nil {
			c.log = l
		}
	}
}

// WithRecorder sets the statistics sink.
func WithRecorder(r stats.Recorder) Option {
	return func(c *Connector) {
		if r != nil {
			c.stats = r
		}
	}
}

// WithClock overrides the time source used for hold deadlines.
func WithClock(now func() time.Time) Option {
	return func(c *Connector) {
		if now != nil {
			c.now = now
		}
	}
}
