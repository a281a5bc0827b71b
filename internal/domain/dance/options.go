package dance

import (
	"time"

	"github.com/okian/wddbridge/internal/domain/consensus"
)

// Option configures a Detector.
type Option func(*Detector)

// WithMaxGap sets how long a dance may stay silent before it is closed.
func WithMaxGap(d time.Duration) Option {
	return func(det *Detector) {
		if d > 0 {
			det.maxGap = d
		}
	}
}

// WithMaxDistance sets the pixel radius a new waggle must fall within to
// join an existing dance.
func WithMaxDistance(px float64) Option {
	return func(det *Detector) {
		if px > 0 {
			det.maxDistance = px
		}
	}
}

// WithMinCount sets the number of agreeing waggles needed for a trigger.
func WithMinCount(n int) Option {
	return func(det *Detector) {
		if n > 0 {
			det.minCount = n
		}
	}
}

// WithConsensusOptions passes options to the angle consensus estimator.
func WithConsensusOptions(opts ...consensus.Option) Option {
	return func(det *Detector) {
		det.consensusOpts = append(det.consensusOpts, opts...)
	}
}
