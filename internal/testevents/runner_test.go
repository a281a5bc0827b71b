package testevents

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/smartystreets/goconvey/convey"

	"github.com/okian/wddbridge/internal/adapters/wdd"
	"github.com/okian/wddbridge/internal/domain/model"
	"github.com/okian/wddbridge/internal/domain/types"
	"github.com/okian/wddbridge/pkg/logger"
)

type collectingSink struct {
	mu     sync.Mutex
	events []model.WaggleEvent
}

func (s *collectingSink) Enqueue(_ context.Context, ev model.WaggleEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

func (s *collectingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func testConfig() *Config {
	return &Config{
		AuthKey:  "secret",
		Camera:   "cam1",
		Dances:   3,
		Waggles:  4,
		Interval: time.Second,
		Width:    500,
		Height:   400,
		Spread:   10,
		Timeout:  2 * time.Second,
	}
}

func TestGenerateDances(t *testing.T) {
	_ = logger.Init()

	convey.Convey("Given a simulation config", t, func() {
		cfg := testConfig()
		stats := &Stats{}
		start := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
		dances := generateDances(context.Background(), cfg, start, stats)

		convey.Convey("Then every dance has coherent waggles", func() {
			convey.So(dances, convey.ShouldHaveLength, 3)
			convey.So(stats.DancesGenerated, convey.ShouldEqual, 3)
			ids := map[string]bool{}
			for _, d := range dances {
				convey.So(d.Waggles, convey.ShouldHaveLength, 4)
				for _, r := range d.Waggles {
					ev, err := r.Event()
					convey.So(err, convey.ShouldBeNil)
					convey.So(ev.CameraID, convey.ShouldEqual, "cam1")
					convey.So(math.Hypot(ev.X-d.X, ev.Y-d.Y), convey.ShouldBeLessThan, 2*cfg.Spread)
					convey.So(ev.X, convey.ShouldBeBetween, 0, cfg.Width)
					convey.So(ev.Y, convey.ShouldBeBetween, 0, cfg.Height)
					ids[ev.EventID] = true
				}
			}
			convey.So(ids, convey.ShouldHaveLength, 12)
		})

		convey.Convey("Then dances follow each other in time", func() {
			first, _ := dances[0].Waggles[3].Event()
			second, _ := dances[1].Waggles[0].Event()
			convey.So(second.Timestamp.After(first.Timestamp), convey.ShouldBeTrue)
		})
	})
}

func TestRunAgainstListener(t *testing.T) {
	_ = logger.Init()

	convey.Convey("Given a bridge listener", t, func() {
		sink := &collectingSink{}
		l := wdd.NewListener(sink, "secret")
		srv := httptest.NewServer(l.Handler())
		defer srv.Close()

		cfg := testConfig()
		cfg.URL = "ws" + strings.TrimPrefix(srv.URL, "http") + wdd.Path

		for _, format := range []wdd.Format{wdd.FormatJSON, wdd.FormatCBOR} {
			cfg.Format = format
			convey.Convey("When the simulator sends "+format.String()+" frames", func() {
				convey.So(Run(context.Background(), cfg), convey.ShouldBeNil)

				convey.Convey("Then every waggle arrives", func() {
					convey.So(sink.count(), convey.ShouldEqual, 12)
				})
			})
		}

		convey.Convey("When the auth key is wrong the dial fails", func() {
			cfg.AuthKey = "wrong"
			convey.So(Run(context.Background(), cfg), convey.ShouldNotBeNil)
		})
	})
}

func TestVerifyResults(t *testing.T) {
	_ = logger.Init()

	convey.Convey("Given bridge counters around a run", t, func() {
		cfg := testConfig()
		stats := &Stats{WagglesSent: 12, DancesGenerated: 3}
		before := types.BridgeStats{Cameras: []types.CameraStats{{CameraID: "cam1", Waggles: 5}}}
		after := types.BridgeStats{Cameras: []types.CameraStats{{CameraID: "cam1", Waggles: 17, Triggers: 3}}}

		convey.So(verifyResults(context.Background(), cfg, before, after, stats), convey.ShouldBeNil)

		after.Cameras[0].Waggles = 10
		convey.So(verifyResults(context.Background(), cfg, before, after, stats), convey.ShouldNotBeNil)

		cfg.Camera = "cam9"
		convey.So(verifyResults(context.Background(), cfg, before, after, stats), convey.ShouldNotBeNil)
	})

	convey.Convey("Given an admin API", t, func() {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_ = json.NewEncoder(w).Encode(types.BridgeStats{Running: true, Cameras: []types.CameraStats{{CameraID: "cam1"}}})
		}))
		defer srv.Close()

		s, err := fetchStats(context.Background(), srv.URL, time.Second)
		convey.So(err, convey.ShouldBeNil)
		convey.So(s.Running, convey.ShouldBeTrue)
		convey.So(s.Cameras[0].CameraID, convey.ShouldEqual, "cam1")
	})
}
