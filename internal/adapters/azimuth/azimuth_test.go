package azimuth

import (
	"context"
	"errors"
	"math"
	"os/exec"
	"sync/atomic"
	"testing"
	"time"

	"github.com/okian/wddbridge/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

type countingCalc struct {
	calls atomic.Int32
	fail  atomic.Bool
}

func (c *countingCalc) Compass(context.Context, float64, float64, time.Time) (float64, error) {
	n := c.calls.Add(1)
	if c.fail.Load() {
		return 0, errors.New("sky unavailable")
	}
	return float64(90 * n), nil
}

func TestFromCompass(t *testing.T) {
	Convey("Compass bearings convert to counter-clockwise radians from east", t, func() {
		So(FromCompass(90), ShouldAlmostEqual, 0, 1e-12)
		So(FromCompass(0), ShouldAlmostEqual, math.Pi/2, 1e-12)
		So(FromCompass(180), ShouldAlmostEqual, 3*math.Pi/2, 1e-12)
		So(FromCompass(270), ShouldAlmostEqual, math.Pi, 1e-12)
	})
}

func TestUpdater(t *testing.T) {
	_ = logger.Init()

	Convey("Given an updater with a fast refresh", t, func() {
		calc := &countingCalc{}
		u := NewUpdater(calc, 52.45, 13.29, WithRefresh(10*time.Millisecond))

		Convey("Readers wait for the first value", func() {
			u := NewUpdater(calc, 52.45, 13.29, WithRefresh(time.Hour))
			So(u.Ready(), ShouldBeFalse)
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
			defer cancel()
			_, err := u.Wait(ctx)
			So(errors.Is(err, context.DeadlineExceeded), ShouldBeTrue)

			u.Start(context.Background())
			defer u.Close()

			v, err := u.Wait(context.Background())
			So(err, ShouldBeNil)
			So(v, ShouldAlmostEqual, 0, 1e-12) // first value is compass 90
		})

		Convey("The value follows later refreshes", func() {
			u.Start(context.Background())
			time.Sleep(50 * time.Millisecond)
			u.Close()
			So(calc.calls.Load(), ShouldBeGreaterThan, 1)
			So(u.Azimuth(), ShouldAlmostEqual, FromCompass(float64(90*calc.calls.Load())), 1e-12)
		})
	})

	Convey("Given a failing calculator", t, func() {
		calc := &countingCalc{}
		calc.fail.Store(true)
		u := NewUpdater(calc, 0, 0, WithRefresh(5*time.Millisecond))
		u.Start(context.Background())
		time.Sleep(20 * time.Millisecond)
		u.Close()

		Convey("Then no value is published", func() {
			So(u.Ready(), ShouldBeFalse)
		})
	})

	Convey("A fixed calculator returns its value", t, func() {
		v, err := Fixed(135).Compass(context.Background(), 0, 0, time.Now())
		So(err, ShouldBeNil)
		So(v, ShouldEqual, 135)
	})
}

func TestCommand(t *testing.T) {
	if _, err := exec.LookPath("echo"); err != nil {
		t.Skip("echo not available")
	}

	Convey("Given a command calculator", t, func() {
		_, err := NewCommand("  ")
		So(errors.Is(err, ErrNoCalculator), ShouldBeTrue)

		c, err := NewCommand("echo 212.5")
		So(err, ShouldBeNil)

		v, err := c.Compass(context.Background(), 1.5, 2.5, time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC))
		So(err, ShouldBeNil)
		So(v, ShouldEqual, 212.5)
	})
}
