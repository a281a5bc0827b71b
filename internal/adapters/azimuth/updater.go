// Package azimuth keeps the current sun azimuth up to date in the
// background.
//
// Calculators speak compass degrees (north 0, east 90). The updater hands
// out radians measured counter-clockwise from east, the convention the
// geometry package uses for dance angles.
package azimuth

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/okian/wddbridge/pkg/logger"
	"github.com/okian/wddbridge/pkg/metrics"
)

// DefaultRefresh is how often the azimuth is recomputed.
const DefaultRefresh = 60 * time.Second

// FromCompass converts compass degrees to radians counter-clockwise from
// east, in [0, 2π).
func FromCompass(deg float64) float64 {
	rad := math.Pi/2 - deg*math.Pi/180
	rad = math.Mod(rad, 2*math.Pi)
	if rad < 0 {
		rad += 2 * math.Pi
	}
	return rad
}

// Option configures an Updater.
type Option func(*Updater)

// WithRefresh sets the refresh interval.
func WithRefresh(d time.Duration) Option {
	return func(u *Updater) {
		if d > 0 {
			u.refresh = d
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(u *Updater) {
		if now != nil {
			u.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(u *Updater) {
		if l != nil {
			u.log = l
		}
	}
}

// Updater recomputes the azimuth periodically. Readers get the latest value
// and block only until the first one exists.
type Updater struct {
	calc      Calculator
	latitude  float64
	longitude float64
	refresh   time.Duration
	now       func() time.Time
	log       logger.Logger

	mu     sync.RWMutex
	value  float64
	ready  chan struct{}
	once   sync.Once
	cancel context.CancelFunc
	done   chan struct{}
}

// NewUpdater creates an updater for a position. Start launches it.
func NewUpdater(calc Calculator, latitude, longitude float64, opts ...Option) *Updater {
	u := &Updater{
		calc:      calc,
		latitude:  latitude,
		longitude: longitude,
		refresh:   DefaultRefresh,
		now:       time.Now,
		ready:     make(chan struct{}),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(u)
	}
	if u.log == nil {
		u.log = logger.Named("azimuth")
	}
	return u
}

// Start launches the background refresh.
func (u *Updater) Start(ctx context.Context) {
	ctx, u.cancel = context.WithCancel(ctx)
	go u.run(ctx)
}

func (u *Updater) run(ctx context.Context) {
	defer close(u.done)
	ticker := time.NewTicker(u.refresh)
	defer ticker.Stop()

	u.update(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			u.update(ctx)
		}
	}
}

func (u *Updater) update(ctx context.Context) {
	deg, err := u.calc.Compass(ctx, u.latitude, u.longitude, u.now())
	if err != nil {
		u.log.Error(ctx, "azimuth update failed", logger.Error(err))
		metrics.RecordErrorByComponent("azimuth", "update_failed")
		return
	}
	rad := FromCompass(deg)

	u.mu.Lock()
	u.value = rad
	u.mu.Unlock()
	u.once.Do(func() { close(u.ready) })

	metrics.UpdateAzimuth(rad * 180 / math.Pi)
	u.log.Debug(ctx, "azimuth updated",
		logger.Float64("compass_deg", deg),
		logger.Degrees("azimuth_deg", rad))
}

// Azimuth returns the latest azimuth in radians, waiting for the first
// computation if necessary.
func (u *Updater) Azimuth() float64 {
	<-u.ready
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.value
}

// Wait blocks until the first azimuth is available or ctx is done.
func (u *Updater) Wait(ctx context.Context) (float64, error) {
	select {
	case <-u.ready:
		return u.Azimuth(), nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// Ready reports whether an azimuth has been computed.
func (u *Updater) Ready() bool {
	select {
	case <-u.ready:
		return true
	default:
		return false
	}
}

// Close stops the refresh and waits for it.
func (u *Updater) Close() {
	if u.cancel == nil {
		return
	}
	u.cancel()
	<-u.done
}
