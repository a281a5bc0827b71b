// Package app wires waggle intake, dance clustering, comb geometry, the
// experiment policy and the comb connector into the running bridge.
package app

import (
	"context"
	"errors"
	"fmt"
	"math"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okian/wddbridge/internal/adapters/comb"
	"github.com/okian/wddbridge/internal/adapters/mq/worker"
	"github.com/okian/wddbridge/internal/domain/actuator"
	"github.com/okian/wddbridge/internal/domain/geometry"
	"github.com/okian/wddbridge/internal/domain/model"
	"github.com/okian/wddbridge/internal/domain/policy"
	"github.com/okian/wddbridge/internal/domain/types"
	"github.com/okian/wddbridge/pkg/logger"
	"github.com/okian/wddbridge/pkg/metrics"
	"github.com/okian/wddbridge/pkg/stats"
)

// Defaults for the bridge loop.
const (
	DefaultPollInterval    = time.Second
	DefaultShutdownTimeout = 5 * time.Second
)

// Inbound is the queue event sources push into.
type Inbound interface {
	worker.Source[model.WaggleEvent]
	Len() int
	Close() error
}

// Comb is the outbound side, implemented by comb.Connector.
type Comb interface {
	Send(ctx context.Context, m actuator.Message) error
	Snapshot() types.ConnectorStatus
	Close(ctx context.Context) error
}

// EventSource is anything producing into Inbound that must be stopped with
// the bridge.
type EventSource interface {
	Close(ctx context.Context) error
}

// EventSourceFunc adapts a function to EventSource.
type EventSourceFunc func(ctx context.Context) error

// Close implements EventSource.
func (f EventSourceFunc) Close(ctx context.Context) error { return f(ctx) }

type namedSource struct {
	name string
	src  EventSource
}

type readiness interface {
	Ready() bool
}

// Bridge routes waggles to their camera side and dances to the comb. A single
// goroutine runs the loop, so clustering is strictly ordered by arrival.
type Bridge struct {
	inbound Inbound
	comb    Comb
	sides   map[string]*HiveSide
	order   []string
	policy  *policy.Policy
	azimuth geometry.AzimuthSource
	sources []namedSource

	log   logger.Logger
	stats stats.Recorder

	poll            time.Duration
	shutdownTimeout time.Duration

	worker *worker.Worker[model.WaggleEvent]

	running   atomic.Bool
	started   atomic.Bool
	startedAt atomic.Pointer[time.Time]
	stopOnce  sync.Once
	closeOnce sync.Once
	closed    chan struct{}

	sent       atomic.Int64
	suppressed atomic.Int64
	dropped    atomic.Int64
	unassigned atomic.Int64
}

// New creates a bridge over the given camera sides.
func New(inbound Inbound, c Comb, sides []*HiveSide, opts ...Option) (*Bridge, error) {
	if len(sides) == 0 {
		return nil, ErrNoCameras
	}
	b := &Bridge{
		inbound:         inbound,
		comb:            c,
		sides:           make(map[string]*HiveSide, len(sides)),
		stats:           stats.Nop(),
		poll:            DefaultPollInterval,
		shutdownTimeout: DefaultShutdownTimeout,
		closed:          make(chan struct{}),
	}
	count := sides[0].ActuatorCount()
	for _, s := range sides {
		if _, dup := b.sides[s.ID()]; dup {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateCam, s.ID())
		}
		if s.ActuatorCount() != count {
			return nil, fmt.Errorf("%w: %q has %d, expected %d", ErrActuatorCount, s.ID(), s.ActuatorCount(), count)
		}
		b.sides[s.ID()] = s
		b.order = append(b.order, s.ID())
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.log == nil {
		b.log = logger.Named("bridge")
	}

	b.worker = worker.New[model.WaggleEvent](inbound, b.handle,
		worker.WithName("bridge"),
		worker.WithLogger(b.log),
		worker.WithTick(b.poll, b.onTick),
		worker.WithStopOnError(),
	)
	return b, nil
}

// Run processes waggles until ctx is done, Stop is called or an iteration
// fails. Any failure stops the whole bridge and is returned: a half-alive
// comb is worse than a halted one.
func (b *Bridge) Run(ctx context.Context) error {
	if !b.started.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	now := time.Now().UTC()
	b.startedAt.Store(&now)
	b.running.Store(true)

	b.log.Info(ctx, "starting execution", logger.Int("cameras", len(b.sides)))
	b.stats.Log(ctx, "starting execution")

	err := b.worker.Run(ctx)
	if err != nil {
		b.log.Error(ctx, "bridge loop failed, stopping", logger.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), b.shutdownTimeout)
	defer cancel()
	if cerr := b.close(shutdownCtx); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

// Stop ends Run and waits for the orderly shutdown. It is safe to call more
// than once and before Run.
func (b *Bridge) Stop(ctx context.Context) error {
	var err error
	b.stopOnce.Do(func() {
		if !b.started.CompareAndSwap(false, true) {
			// Run owns the shutdown.
			if err = b.worker.Shutdown(ctx); err != nil {
				return
			}
			select {
			case <-b.closed:
			case <-ctx.Done():
				err = ctx.Err()
			}
			return
		}
		err = b.close(ctx)
	})
	return err
}

// Done is closed once the bridge has shut down.
func (b *Bridge) Done() <-chan struct{} { return b.closed }

// close stops sources, then the inbound queue, then the comb.
func (b *Bridge) close(ctx context.Context) error {
	var errs []error
	b.closeOnce.Do(func() {
		defer close(b.closed)
		b.running.Store(false)
		b.log.Info(ctx, "stopping execution")
		b.stats.Log(ctx, "stopping execution")

		for _, s := range b.sources {
			if err := s.src.Close(ctx); err != nil {
				b.log.Warn(ctx, "error closing event source", logger.String("source", s.name), logger.Error(err))
				errs = append(errs, fmt.Errorf("close %s: %w", s.name, err))
			}
		}
		if b.inbound != nil {
			_ = b.inbound.Close()
		}
		for _, id := range b.order {
			b.sides[id].Reset()
		}
		if b.comb != nil {
			if err := b.comb.Close(ctx); err != nil {
				errs = append(errs, fmt.Errorf("close comb: %w", err))
			}
		}
	})
	return errors.Join(errs...)
}

// handle is one loop iteration.
func (b *Bridge) handle(ctx context.Context, ev model.WaggleEvent) error {
	side, ok := b.sides[ev.CameraID]
	if !ok {
		b.log.Warn(ctx, "received waggle for invalid camera id", logger.String("cam_id", ev.CameraID))
		metrics.RecordWaggleDropped("unknown_camera")
		return nil
	}

	for _, d := range side.Process(ctx, ev) {
		var msg actuator.Message
		decision := policy.Allowed
		if b.policy != nil {
			msg, decision = b.policy.Filter(ctx, d.Factory, d.Mapped.WorldAngle)
		} else {
			msg = d.Factory(nil)
		}
		if msg == nil {
			if decision != policy.Allowed {
				b.suppressed.Add(1)
				continue
			}
			// Hardwired actuator without a signal.
			b.unassigned.Add(1)
			b.log.Debug(ctx, "no signal assigned to actuator",
				logger.String("cam_id", side.ID()),
				logger.Int("actuator", d.Actuator))
			continue
		}

		b.stats.Log(ctx, "sending comb message",
			logger.String("what", actuator.Describe(msg)),
			logger.String("cam_id", side.ID()))
		if err := b.comb.Send(ctx, msg); err != nil {
			if errors.Is(err, comb.ErrBacklog) {
				b.dropped.Add(1)
				b.log.Warn(ctx, "comb backlog full, dance dropped", logger.String("what", actuator.Describe(msg)))
				continue
			}
			return fmt.Errorf("send to comb: %w", err)
		}
		b.sent.Add(1)
	}
	return nil
}

// onTick publishes process gauges while the loop waits for events.
func (b *Bridge) onTick(context.Context) error {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	metrics.UpdateSystemMemoryUsage(ms.Alloc)
	metrics.UpdateSystemGoroutineCount(runtime.NumGoroutine())
	if ms.NumGC > 0 {
		metrics.RecordSystemGCPauseTime(float64(ms.PauseTotalNs) / float64(ms.NumGC) / float64(time.Millisecond))
	}
	return nil
}

// Stats reports the bridge state for the admin API.
func (b *Bridge) Stats() types.BridgeStats {
	out := types.BridgeStats{
		Running:     b.running.Load(),
		InboundSize: b.inbound.Len(),
		Cameras:     make([]types.CameraStats, 0, len(b.order)),
		Messages: types.MessageCounters{
			Sent:       b.sent.Load(),
			Suppressed: b.suppressed.Load(),
			Dropped:    b.dropped.Load(),
			Unassigned: b.unassigned.Load(),
		},
	}
	if t := b.startedAt.Load(); t != nil {
		out.StartedAt = *t
	}
	if b.azimuth != nil {
		if r, ok := b.azimuth.(readiness); !ok || r.Ready() {
			out.AzimuthDeg = b.azimuth.Azimuth() * 180 / math.Pi
		}
	}
	for _, id := range b.order {
		out.Cameras = append(out.Cameras, b.sides[id].Stats())
	}
	if b.comb != nil {
		out.Connector = b.comb.Snapshot()
	}
	return out
}
