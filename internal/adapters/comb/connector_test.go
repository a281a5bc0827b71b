package comb

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/okian/wddbridge/internal/domain/actuator"
	"github.com/okian/wddbridge/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

type line struct {
	text string
	at   time.Time
}

type fakePort struct {
	mu     sync.Mutex
	lines  []line
	fail   bool
	closed bool
}

func (p *fakePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail {
		return 0, errors.New("device unplugged")
	}
	p.lines = append(p.lines, line{text: string(b), at: time.Now()})
	return len(b), nil
}

func (p *fakePort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *fakePort) texts() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.lines))
	for i, l := range p.lines {
		out[i] = l.text
	}
	return out
}

func (p *fakePort) find(text string) []line {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []line
	for _, l := range p.lines {
		if l.text == text {
			out = append(out, l)
		}
	}
	return out
}

type fakeDialer struct {
	port  *fakePort
	fail  atomic.Bool
	dials atomic.Int32
}

func (d *fakeDialer) Dial() (Port, error) {
	d.dials.Add(1)
	if d.fail.Load() {
		return nil, errors.New("no such device")
	}
	return d.port, nil
}

func (d *fakeDialer) String() string { return "/dev/fake" }

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func waitFor(cond func() bool) bool {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(2 * time.Millisecond)
	}
	return cond()
}

var startupLines = []string{
	"MUX 0 0\r\n", "MUX 1 0\r\n", "MUX 2 0\r\n", "MUX 3 0\r\n",
	"STOP_TRIG\r\n", "LEDS 0\r\n",
}

func newSerialConnector(d *fakeDialer, opts ...Option) *Connector {
	opts = append([]Option{
		WithDialer(d),
		WithCharacterDelay(0),
		WithReconnectInterval(20 * time.Millisecond),
	}, opts...)
	c, err := NewConnector(4, opts...)
	So(err, ShouldBeNil)
	return c
}

func TestConnectorProtocol(t *testing.T) {
	_ = logger.Init()
	ctx := context.Background()

	Convey("Given a connected serial connector", t, func() {
		port := &fakePort{}
		c := newSerialConnector(&fakeDialer{port: port})
		So(c.Start(ctx), ShouldBeNil)
		defer c.Close(ctx)

		So(waitFor(func() bool { return len(port.texts()) == len(startupLines) }), ShouldBeTrue)

		Convey("Then startup disables every actuator", func() {
			So(port.texts(), ShouldResemble, startupLines)
			So(c.Connected(), ShouldBeTrue)
			So(c.Mode(), ShouldEqual, ModeSerial)
		})

		Convey("When two activations overlap on one actuator", func() {
			hold := 150 * time.Millisecond
			msg := actuator.SelectSignal{Actuator: 1, Signal: 2, Duration: hold}

			So(c.Send(ctx, msg), ShouldBeNil)
			So(waitFor(func() bool { return c.IsActive(1) }), ShouldBeTrue)
			time.Sleep(60 * time.Millisecond)
			second := time.Now()
			So(c.Send(ctx, msg), ShouldBeNil)

			So(waitFor(func() bool { return len(port.find("MUX 1 0\r\n")) == 2 }), ShouldBeTrue)
			time.Sleep(2 * hold)

			Convey("Then exactly one activation and one deactivation are written", func() {
				So(port.find("MUX 1 2\r\n"), ShouldHaveLength, 1)
				offs := port.find("MUX 1 0\r\n")
				So(offs, ShouldHaveLength, 2) // the first is from startup
				So(offs[1].at.Sub(second), ShouldBeGreaterThanOrEqualTo, hold)
				So(c.IsActive(1), ShouldBeFalse)
			})
		})

		Convey("When a trigger sets only slot 0", func() {
			So(c.Send(ctx, actuator.Trigger{
				Files: [2]*int{actuator.File(3), actuator.File(5)}, Duration: time.Second, Actuators: []int{0},
			}), ShouldBeNil)
			So(c.Send(ctx, actuator.Trigger{
				Files: [2]*int{actuator.File(8), nil}, Duration: time.Second, Actuators: []int{1},
			}), ShouldBeNil)

			So(waitFor(func() bool { return len(port.find("TRIG 8 5\r\n")) == 1 }), ShouldBeTrue)

			Convey("Then slot 1 keeps its previous file", func() {
				So(port.find("TRIG 3 5\r\n"), ShouldHaveLength, 1)
				So(waitFor(func() bool { return c.Soundboard().Files == [2]int{8, 5} }), ShouldBeTrue)
			})
		})

		Convey("When a stale deactivation arrives for an active actuator", func() {
			So(c.Send(ctx, actuator.SelectSignal{Actuator: 2, Signal: 1, Duration: time.Second}), ShouldBeNil)
			So(c.Send(ctx, actuator.SelectSignal{Actuator: 2}), ShouldBeNil)
			So(c.Send(ctx, actuator.SetLEDs{Mask: 1, Duration: time.Second}), ShouldBeNil)

			So(waitFor(func() bool { return len(port.find("LEDS 1\r\n")) == 1 }), ShouldBeTrue)

			Convey("Then it never reaches the bus", func() {
				So(port.find("MUX 2 0\r\n"), ShouldHaveLength, 1) // startup only
				So(waitFor(func() bool { return c.Snapshot().LEDsActive }), ShouldBeTrue)
			})
		})
	})
}

func TestConnectorLifecycle(t *testing.T) {
	ctx := context.Background()

	Convey("Given a bus that cannot be opened", t, func() {
		logs := &lockedBuffer{}
		So(logger.InitWithWriter(logs), ShouldBeNil)
		defer func() { _ = logger.Init() }()

		port := &fakePort{}
		d := &fakeDialer{port: port}
		d.fail.Store(true)
		c := newSerialConnector(d)
		So(c.Start(ctx), ShouldBeNil)
		defer c.Close(ctx)

		Convey("Then queued messages are dropped with a warning", func() {
			So(waitFor(func() bool { return strings.Contains(logs.String(), "message dropped") }), ShouldBeTrue)
			So(c.Connected(), ShouldBeFalse)
			So(port.texts(), ShouldBeEmpty)
		})

		Convey("When the device appears", func() {
			d.fail.Store(false)

			Convey("Then the connector reconnects and transmits again", func() {
				So(waitFor(c.Connected), ShouldBeTrue)
				So(c.Send(ctx, actuator.SelectSignal{Actuator: 0, Signal: 1, Duration: time.Second}), ShouldBeNil)
				So(waitFor(func() bool { return len(port.find("MUX 0 1\r\n")) == 1 }), ShouldBeTrue)
				So(d.dials.Load(), ShouldBeGreaterThan, 1)
			})
		})
	})

	Convey("Given a bus that fails mid-write", t, func() {
		_ = logger.Init()
		port := &fakePort{}
		d := &fakeDialer{port: port}
		c := newSerialConnector(d)
		So(c.Start(ctx), ShouldBeNil)
		defer c.Close(ctx)
		So(waitFor(func() bool { return len(port.texts()) == len(startupLines) }), ShouldBeTrue)

		port.mu.Lock()
		port.fail = true
		port.mu.Unlock()
		d.fail.Store(true)
		So(c.Send(ctx, actuator.SelectSignal{Actuator: 3, Signal: 4, Duration: time.Second}), ShouldBeNil)

		Convey("Then the connector drops to disconnected", func() {
			So(waitFor(func() bool { return !c.Connected() }), ShouldBeTrue)
			So(c.IsActive(3), ShouldBeFalse)
		})
	})

	Convey("Given an activation dropped while the bus is down", t, func() {
		logs := &lockedBuffer{}
		So(logger.InitWithWriter(logs), ShouldBeNil)
		defer func() { _ = logger.Init() }()

		port := &fakePort{}
		d := &fakeDialer{port: port}
		d.fail.Store(true)
		c := newSerialConnector(d)
		So(c.Start(ctx), ShouldBeNil)
		defer c.Close(ctx)

		msg := actuator.SelectSignal{Actuator: 1, Signal: 2, Duration: time.Second}
		So(waitFor(func() bool { return strings.Count(logs.String(), "message dropped") >= 1 }), ShouldBeTrue)
		dropped := strings.Count(logs.String(), "message dropped")
		So(c.Send(ctx, msg), ShouldBeNil)
		So(waitFor(func() bool { return strings.Count(logs.String(), "message dropped") > dropped }), ShouldBeTrue)

		Convey("Then its targets stay inactive", func() {
			So(c.IsActive(1), ShouldBeFalse)
			So(c.Snapshot().Actuators[1].Active, ShouldBeFalse)
		})

		Convey("When the device appears and the same activation is sent", func() {
			d.fail.Store(false)
			So(waitFor(c.Connected), ShouldBeTrue)
			So(c.Send(ctx, msg), ShouldBeNil)

			Convey("Then it is written to the bus", func() {
				So(waitFor(func() bool { return len(port.find("MUX 1 2\r\n")) == 1 }), ShouldBeTrue)
				So(waitFor(func() bool { return c.IsActive(1) }), ShouldBeTrue)
			})
		})
	})

	Convey("Given a running connector with a long hold", t, func() {
		_ = logger.Init()
		port := &fakePort{}
		c := newSerialConnector(&fakeDialer{port: port})
		So(c.Start(ctx), ShouldBeNil)
		So(c.Send(ctx, actuator.SelectSignal{Actuator: 0, Signal: 3, Duration: time.Hour}), ShouldBeNil)
		So(waitFor(func() bool { return len(port.find("MUX 0 3\r\n")) == 1 }), ShouldBeTrue)
		So(c.timers.Pending(), ShouldEqual, 1)

		closeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		So(c.Close(closeCtx), ShouldBeNil)

		Convey("Then close cancels timers and disables the comb", func() {
			So(c.timers.Pending(), ShouldEqual, 0)
			texts := port.texts()
			So(texts[len(texts)-len(startupLines):], ShouldResemble, startupLines)
			port.mu.Lock()
			So(port.closed, ShouldBeTrue)
			port.mu.Unlock()
			So(errors.Is(c.Send(ctx, actuator.SetLEDs{}), ErrClosed), ShouldBeTrue)
			So(c.Close(closeCtx), ShouldBeNil)
		})
	})
}

func TestConnectorPacing(t *testing.T) {
	_ = logger.Init()

	Convey("Given a paced connector", t, func() {
		port := &fakePort{}
		var pauses []time.Duration
		c := newSerialConnector(&fakeDialer{port: port}, WithCharacterDelay(time.Millisecond))
		c.sleep = func(d time.Duration) { pauses = append(pauses, d) }
		c.connect(context.Background())

		sent, err := c.transmit(context.Background(), actuator.SetLEDs{Mask: 5})

		Convey("Then every character is written separately and followed by a pause", func() {
			So(err, ShouldBeNil)
			So(sent, ShouldBeTrue)
			So(port.texts(), ShouldResemble, []string{"L", "E", "D", "S", " ", "5", "\r", "\n"})
			So(pauses, ShouldHaveLength, 8)
			So(pauses[0], ShouldEqual, time.Millisecond)
		})
	})
}

type fakePlayer struct {
	mu      sync.Mutex
	plays   int
	playing bool
}

func (p *fakePlayer) Play(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.plays++
	p.playing = true
	return nil
}

func (p *fakePlayer) Playing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playing
}

func (p *fakePlayer) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.playing = false
	return nil
}

func (p *fakePlayer) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.plays
}

func TestConnectorModes(t *testing.T) {
	_ = logger.Init()
	ctx := context.Background()

	Convey("Given a dummy connector", t, func() {
		c, err := NewConnector(3)
		So(err, ShouldBeNil)
		So(c.Start(ctx), ShouldBeNil)
		defer c.Close(ctx)

		Convey("Then it runs the state machine without a bus", func() {
			So(c.Mode(), ShouldEqual, ModeDummy)
			So(c.Send(ctx, actuator.SelectSignal{Actuator: 2, Signal: 1, Duration: time.Second}), ShouldBeNil)
			So(waitFor(func() bool { return c.IsActive(2) }), ShouldBeTrue)
			So(c.Connected(), ShouldBeTrue)
			So(c.ActuatorCount(), ShouldEqual, 3)
		})
	})

	Convey("Given an audio connector", t, func() {
		player := &fakePlayer{}
		c, err := NewConnector(3, WithAudioPlayer(player))
		So(err, ShouldBeNil)
		So(c.Start(ctx), ShouldBeNil)
		defer c.Close(ctx)

		So(c.Send(ctx, actuator.SelectSignal{Actuator: 0, Signal: 1, Duration: time.Second}), ShouldBeNil)
		So(c.Send(ctx, actuator.SelectSignal{Actuator: 1, Signal: 1, Duration: time.Second}), ShouldBeNil)

		Convey("Then a running clip is left to continue", func() {
			So(waitFor(func() bool { return c.IsActive(1) }), ShouldBeTrue)
			So(player.count(), ShouldEqual, 1)
			So(c.Mode(), ShouldEqual, ModeAudio)
		})
	})

	Convey("Given a dummy connector on a fixed clock", t, func() {
		base := time.Date(2001, 1, 1, 12, 0, 0, 0, time.UTC)
		var clock atomic.Pointer[time.Time]
		clock.Store(&base)
		c, err := NewConnector(2, WithClock(func() time.Time { return *clock.Load() }))
		So(err, ShouldBeNil)
		So(c.Start(ctx), ShouldBeNil)
		defer c.Close(ctx)

		So(c.Send(ctx, actuator.SelectSignal{Actuator: 1, Signal: 1, Duration: time.Minute}), ShouldBeNil)

		Convey("Then activity follows that clock", func() {
			So(waitFor(func() bool { return c.IsActive(1) }), ShouldBeTrue)
			So(c.Snapshot().Actuators[1].ActiveUntil.Equal(base.Add(time.Minute)), ShouldBeTrue)

			later := base.Add(2 * time.Minute)
			clock.Store(&later)
			So(c.IsActive(1), ShouldBeFalse)
		})
	})

	Convey("Given invalid construction", t, func() {
		_, err := NewConnector(0)
		So(err, ShouldNotBeNil)
	})

	Convey("Ports select the mode", t, func() {
		So(ModeForPort(""), ShouldEqual, ModeDummy)
		So(ModeForPort("/tmp/buzz.WAV"), ShouldEqual, ModeAudio)
		So(ModeForPort("/dev/ttyUSB0"), ShouldEqual, ModeSerial)
		So(SerialDialer{Path: "/dev/ttyUSB0"}.String(), ShouldEqual, "/dev/ttyUSB0")
	})
}
