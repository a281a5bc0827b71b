// Package comb drives the vibration actuators embedded in the comb.
//
// All messages pass through one worker goroutine. That worker is the only
// writer of the actuator hold deadlines and of the soundboard state, so
// neither needs a lock; other goroutines read them through an atomically
// published snapshot.
package comb

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okian/wddbridge/internal/adapters/mq/queue"
	"github.com/okian/wddbridge/internal/adapters/mq/worker"
	"github.com/okian/wddbridge/internal/domain/actuator"
	"github.com/okian/wddbridge/internal/domain/types"
	"github.com/okian/wddbridge/pkg/logger"
	"github.com/okian/wddbridge/pkg/metrics"
	"github.com/okian/wddbridge/pkg/stats"
)

const queueName = "comb"

// Connector serialises actuator messages onto the comb bus.
type Connector struct {
	count             int
	mode              Mode
	dialer            Dialer
	player            AudioPlayer
	charDelay         time.Duration
	reconnectInterval time.Duration
	queueSize         int
	log               logger.Logger
	stats             stats.Recorder

	queue  *queue.InMemoryQueue[actuator.Message]
	worker *worker.Worker[actuator.Message]
	timers *scheduler

	// owned by the worker goroutine
	port        Port
	lastDial    time.Time
	state       *actuator.RuntimeState
	soundboard  actuator.Soundboard
	now         func() time.Time
	sleep       func(time.Duration)
	writeBuffer []byte

	alive     atomic.Bool
	connected atomic.Bool
	snapshot  atomic.Pointer[types.ConnectorStatus]

	runCtx    context.Context
	cancel    context.CancelFunc
	startOnce sync.Once
	started   atomic.Bool
	closeOnce sync.Once
}

// NewConnector creates a connector for a comb with count actuators. Without
// a dialer or audio player it runs in dummy mode.
func NewConnector(count int, opts ...Option) (*Connector, error) {
	if count <= 0 {
		return nil, fmt.Errorf("comb: actuator count must be positive, got %d", count)
	}

	c := &Connector{
		count:             count,
		mode:              ModeDummy,
		charDelay:         DefaultCharacterDelay,
		reconnectInterval: DefaultReconnectInterval,
		queueSize:         DefaultQueueSize,
		stats:             stats.Nop(),
		timers:            newScheduler(),
		state:             actuator.NewRuntimeState(),
		soundboard:        actuator.Silent(),
		now:               time.Now,
		sleep:             time.Sleep,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.log == nil {
		c.log = logger.Named("comb")
	}

	c.queue = queue.NewInMemoryQueue[actuator.Message](
		queue.WithName(queueName),
		queue.WithCapacity(c.queueSize),
	)
	c.worker = worker.New[actuator.Message](c.queue, c.dispatch,
		worker.WithName("comb"),
		worker.WithLogger(c.log),
		worker.WithTick(c.reconnectInterval, c.onTick),
	)
	c.runCtx, c.cancel = context.WithCancel(context.Background())
	c.alive.Store(true)
	c.publish()
	return c, nil
}

// Start opens the bus, queues a DisableAll so the comb starts from a known
// state and launches the worker.
func (c *Connector) Start(ctx context.Context) error {
	c.startOnce.Do(func() {
		c.log.Info(ctx, "starting comb connector",
			logger.String("mode", string(c.mode)),
			logger.String("port", c.portName()),
			logger.Int("actuators", c.count))
		c.connect(ctx)
		c.started.Store(true)
		go func() { _ = c.worker.Run(c.runCtx) }()
	})
	return c.Send(ctx, actuator.DisableAll{Count: c.count})
}

// Send queues m without blocking.
func (c *Connector) Send(ctx context.Context, m actuator.Message) error {
	if !c.alive.Load() {
		return ErrClosed
	}
	if err := c.queue.Enqueue(ctx, m); err != nil {
		metrics.RecordCombMessage("rejected")
		if errors.Is(err, queue.ErrFull) {
			return ErrBacklog
		}
		if errors.Is(err, queue.ErrClosed) {
			return ErrClosed
		}
		return err
	}
	return nil
}

// Close sends a final DisableAll, cancels pending deactivations, drains the
// queue and waits for the worker.
func (c *Connector) Close(ctx context.Context) error {
	var err error
	c.closeOnce.Do(func() {
		c.alive.Store(false)
		if n := c.timers.Stop(); n > 0 {
			c.log.Debug(ctx, "cancelled pending deactivations", logger.Int("count", n))
		}

		if qerr := c.queue.EnqueueWait(ctx, actuator.DisableAll{Count: c.count}); qerr != nil {
			c.log.Warn(ctx, "could not queue final disable", logger.Error(qerr))
		}
		_ = c.queue.Close()

		if c.started.Load() {
			err = c.worker.Wait(ctx)
		}
		c.cancel()
		if err != nil {
			return
		}

		if c.player != nil {
			_ = c.player.Stop()
		}
		if c.port != nil {
			if cerr := c.port.Close(); cerr != nil {
				c.log.Warn(ctx, "error closing comb port", logger.Error(cerr))
			}
			c.port = nil
		}
		c.connected.Store(false)
		metrics.UpdateCombConnected(false)
		c.publish()
		c.log.Info(ctx, "comb connector closed")
	})
	return err
}

// dispatch is the worker handler for one message.
func (c *Connector) dispatch(ctx context.Context, m actuator.Message) error {
	defer c.publish()

	now := c.now()
	targets := actuator.Targets(m, c.count)

	switch {
	case actuator.IsActivation(m):
		off, hold, _ := actuator.Deactivation(m)
		until := now.Add(hold)
		if c.state.AllActive(targets, now) {
			c.state.HoldUntil(targets, until)
			c.scheduleDeactivation(ctx, off, hold)
			metrics.RecordCombMessage("hold_extended")
			c.log.Debug(ctx, "hold extended",
				logger.String("message", actuator.Describe(m)),
				logger.Time("until", until))
			return nil
		}
		// Targets are only held once the activation reached the comb.
		sent, err := c.transmit(ctx, m)
		if sent {
			c.state.HoldUntil(targets, until)
			c.scheduleDeactivation(ctx, off, hold)
		}
		return err

	case actuator.IsForced(m):
		c.state.Release(targets)

	case c.state.AnyActive(targets, now):
		metrics.RecordCombMessage("deactivation_skipped")
		c.log.Debug(ctx, "skipping deactivation, target reactivated",
			logger.String("message", actuator.Describe(m)))
		return nil
	}

	_, err := c.transmit(ctx, m)
	return err
}

func (c *Connector) scheduleDeactivation(ctx context.Context, off actuator.Message, after time.Duration) {
	ok := c.timers.After(after, func() {
		if !c.alive.Load() {
			return
		}
		if err := c.queue.EnqueueWait(c.runCtx, off); err != nil {
			c.log.Warn(c.runCtx, "deactivation not queued",
				logger.String("message", actuator.Describe(off)), logger.Error(err))
		}
	})
	if !ok {
		c.log.Debug(ctx, "connector stopping, deactivation not scheduled",
			logger.String("message", actuator.Describe(off)))
	}
}

// transmit writes m to the comb and reports whether it got there. A message
// that finds the bus down is dropped.
func (c *Connector) transmit(ctx context.Context, m actuator.Message) (bool, error) {
	c.stats.Log(ctx, "sending comb message",
		logger.String("kind", actuator.Name(m)),
		logger.String("message", actuator.Describe(m)))

	switch c.mode {
	case ModeAudio:
		if err := c.play(ctx, m); err != nil {
			return false, err
		}
		return true, nil
	case ModeDummy:
		for _, leaf := range actuator.Flatten(m) {
			var cmd string
			cmd, c.soundboard = actuator.Wire(leaf, c.soundboard)
			c.log.Debug(ctx, "dummy comb write", logger.String("command", strings.ToUpper(cmd)))
		}
		metrics.RecordCombMessage("sent")
		return true, nil
	}

	if c.port == nil {
		c.connect(ctx)
	}
	if c.port == nil {
		metrics.RecordCombMessage("dropped")
		c.log.Warn(ctx, "comb bus not connected, message dropped",
			logger.String("message", actuator.Describe(m)))
		return false, nil
	}

	for _, leaf := range actuator.Flatten(m) {
		cmd, next := actuator.Wire(leaf, c.soundboard)
		if err := c.writeLine(ctx, cmd); err != nil {
			c.disconnect(ctx, err)
			metrics.RecordCombMessage("dropped")
			return false, fmt.Errorf("%w: %s: %w", ErrNotConnected, actuator.Describe(m), err)
		}
		c.soundboard = next
	}
	metrics.RecordCombMessage("sent")
	return true, nil
}

// writeLine sends one command upper-cased and CRLF terminated, pacing every
// character. It is not interrupted once started.
func (c *Connector) writeLine(ctx context.Context, cmd string) error {
	line := strings.ToUpper(cmd) + "\r\n"
	start := time.Now()
	c.stats.Log(ctx, "serial message",
		logger.String("text", line),
		logger.Duration("character_delay", c.charDelay))

	if c.charDelay == 0 {
		if _, err := c.port.Write([]byte(line)); err != nil {
			return err
		}
	} else {
		for i := 0; i < len(line); i++ {
			c.writeBuffer = append(c.writeBuffer[:0], line[i])
			if _, err := c.port.Write(c.writeBuffer); err != nil {
				return err
			}
			c.sleep(c.charDelay)
		}
	}
	metrics.RecordCombWriteLatency(float64(time.Since(start).Microseconds()) / 1000)
	return nil
}

func (c *Connector) play(ctx context.Context, m actuator.Message) error {
	for _, leaf := range actuator.Flatten(m) {
		_, c.soundboard = actuator.Wire(leaf, c.soundboard)
	}
	if !actuator.IsActivation(m) {
		return nil
	}
	if c.player.Playing() {
		c.log.Debug(ctx, "clip still playing, continuing")
		metrics.RecordCombMessage("hold_extended")
		return nil
	}
	if err := c.player.Play(c.runCtx); err != nil {
		metrics.RecordCombMessage("dropped")
		return fmt.Errorf("play clip: %w", err)
	}
	metrics.RecordCombMessage("played")
	return nil
}

// connect opens the bus unless an attempt was made within the reconnect
// interval.
func (c *Connector) connect(ctx context.Context) {
	if c.mode != ModeSerial {
		c.setConnected(true)
		return
	}
	if c.port != nil {
		return
	}
	now := c.now()
	if !c.lastDial.IsZero() && now.Sub(c.lastDial) < c.reconnectInterval {
		return
	}
	c.lastDial = now

	port, err := c.dialer.Dial()
	if err != nil {
		c.log.Warn(ctx, "waiting for comb connection", logger.Error(err))
		metrics.RecordErrorByComponent("comb", "connect_failed")
		c.setConnected(false)
		return
	}
	c.port = port
	c.log.Info(ctx, "comb connection opened", logger.String("port", c.dialer.String()))
	c.setConnected(true)
}

func (c *Connector) disconnect(ctx context.Context, cause error) {
	c.log.Warn(ctx, "comb connection broken", logger.Error(cause))
	metrics.RecordErrorByComponent("comb", "write_failed")
	if c.port != nil {
		_ = c.port.Close()
		c.port = nil
	}
	c.lastDial = c.now()
	c.setConnected(false)
}

func (c *Connector) setConnected(v bool) {
	if c.connected.Swap(v) != v {
		metrics.UpdateCombConnected(v)
	}
}

func (c *Connector) onTick(ctx context.Context) error {
	if c.mode == ModeSerial && c.port == nil {
		c.connect(ctx)
	}
	c.publish()
	return nil
}

// publish stores a fresh snapshot for readers outside the worker.
func (c *Connector) publish() {
	now := c.now()
	deadlines := c.state.Snapshot()
	acts := make([]types.ActuatorStatus, c.count)
	for i := range acts {
		acts[i] = types.ActuatorStatus{Index: i}
		if until, ok := deadlines[i]; ok && now.Before(until) {
			u := until
			acts[i].Active = true
			acts[i].ActiveUntil = &u
		}
	}
	c.snapshot.Store(&types.ConnectorStatus{
		Mode:       string(c.mode),
		Port:       c.portName(),
		Connected:  c.connected.Load(),
		Soundboard: c.soundboard.Files,
		LEDsActive: c.state.IsActive(actuator.LEDTarget, now),
		Actuators:  acts,
		QueueSize:  c.queue.Len(),
		UpdatedAt:  now,
	})
	metrics.UpdateActuatorsActive(c.state.ActiveCount(now))
}

// Snapshot returns the last published state.
func (c *Connector) Snapshot() types.ConnectorStatus {
	s := c.snapshot.Load()
	out := *s
	out.Actuators = append([]types.ActuatorStatus(nil), s.Actuators...)
	return out
}

// IsActive reports whether actuator i was held at the last snapshot.
func (c *Connector) IsActive(i int) bool {
	s := c.snapshot.Load()
	if i < 0 || i >= len(s.Actuators) {
		return false
	}
	a := s.Actuators[i]
	return a.Active && a.ActiveUntil != nil && c.now().Before(*a.ActiveUntil)
}

// Soundboard returns the soundboard state at the last snapshot.
func (c *Connector) Soundboard() actuator.Soundboard {
	return actuator.Soundboard{Files: c.snapshot.Load().Soundboard}
}

// Connected reports whether the bus is open.
func (c *Connector) Connected() bool { return c.connected.Load() }

// Mode returns how the connector reaches the comb.
func (c *Connector) Mode() Mode { return c.mode }

// ActuatorCount returns the number of actuators the connector drives.
func (c *Connector) ActuatorCount() int { return c.count }

func (c *Connector) portName() string {
	switch {
	case c.dialer != nil:
		return c.dialer.String()
	case c.player != nil:
		return fmt.Sprint(c.player)
	}
	return ""
}
