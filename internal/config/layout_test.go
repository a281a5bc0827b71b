package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/smartystreets/goconvey/convey"

	"github.com/okian/wddbridge/internal/config"
	"github.com/okian/wddbridge/internal/domain/geometry"
	"github.com/okian/wddbridge/internal/domain/policy"
)

const combLayout = `
latitude: 49.0
longitude: 8.4
cameras:
  - cam_id: cam0
    origin: top_left
    homography:
      pixels: [0, 0, 1000, 0, 1000, 1000, 0, 1000]
      units: [0, 0, 100, 0, 100, 100, 0, 100]
    actuators:
      act10: {x: 90, y: 90}
      act2: {x: 10, y: 10, soundboard_index: 1, sound_index: 4}
      act1: {x: 50, y: 50}
  - cam_id: cam1
    origin: bottom_right
    homography:
      pixels: [0, 0, 1000, 0, 1000, 1000, 0, 1000]
      units: [0, 0, 100, 0, 100, 100, 0, 100]
    actuators:
      a: {x: 1, y: 1}
      b: {x: 2, y: 2}
      c: {x: 3, y: 3}
experiment:
  tolerance_deg: 15
  timeslots:
    - from: "2026-05-01T08:00:00Z"
      to: "2026-05-01T10:00:00Z"
      rule: allow
      angle_deg: 90
      signal_index: 2
`

func writeLayout(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "comb.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write layout: %v", err)
	}
	return path
}

func TestLoadLayout(t *testing.T) {
	convey.Convey("Given a comb layout file", t, func() {
		l, err := config.LoadLayout(writeLayout(t, combLayout))
		convey.So(err, convey.ShouldBeNil)

		convey.Convey("Then location and cameras are read", func() {
			convey.So(l.Latitude, convey.ShouldEqual, 49.0)
			convey.So(l.Longitude, convey.ShouldEqual, 8.4)
			convey.So(l.Cameras, convey.ShouldHaveLength, 2)
			convey.So(l.ActuatorCount(), convey.ShouldEqual, 3)
		})

		convey.Convey("Then actuators are indexed in natural name order", func() {
			acts := l.Cameras[0].SortedActuators()
			convey.So(acts[0].Name, convey.ShouldEqual, "act1")
			convey.So(acts[1].Name, convey.ShouldEqual, "act2")
			convey.So(acts[2].Name, convey.ShouldEqual, "act10")
			convey.So(acts[1].Index, convey.ShouldEqual, 1)
			convey.So(*acts[1].Soundboard, convey.ShouldEqual, 1)
			convey.So(*acts[1].Sound, convey.ShouldEqual, 4)
			convey.So(acts[0].Soundboard, convey.ShouldBeNil)
		})

		convey.Convey("Then a camera converts to a geometry frame", func() {
			f, err := l.Cameras[1].Frame()
			convey.So(err, convey.ShouldBeNil)
			convey.So(f.Origin, convey.ShouldEqual, geometry.BottomRight)
			convey.So(f.Pixels[2], convey.ShouldResemble, geometry.Point{X: 1000, Y: 1000})
			convey.So(f.Units[1], convey.ShouldResemble, geometry.Point{X: 100, Y: 0})
			convey.So(f.Actuators, convey.ShouldHaveLength, 3)
			convey.So(f.Actuators[2], convey.ShouldResemble, geometry.Point{X: 3, Y: 3})
		})

		convey.Convey("Then experiment rules are parsed", func() {
			rules, err := l.Rules()
			convey.So(err, convey.ShouldBeNil)
			convey.So(rules, convey.ShouldHaveLength, 1)
			convey.So(rules[0].Action, convey.ShouldEqual, policy.Allow)
			convey.So(rules[0].Concrete(), convey.ShouldBeTrue)
			n, ok := rules[0].Overrides.Int("signal_index")
			convey.So(ok, convey.ShouldBeTrue)
			convey.So(n, convey.ShouldEqual, 2)
			convey.So(l.ToleranceRad(), convey.ShouldAlmostEqual, 0.2618, 0.0001)
		})
	})
}

func TestLayoutValidation(t *testing.T) {
	base := func() *config.Layout {
		cam := func(id string) config.Camera {
			return config.Camera{
				ID: id,
				Actuators: map[string]config.ActuatorSpec{
					"a0": {X: 0, Y: 0},
					"a1": {X: 1, Y: 1},
				},
				Homography: config.HomographySpec{
					Pixels: []float64{0, 0, 1, 0, 1, 1, 0, 1},
					Units:  []float64{0, 0, 1, 0, 1, 1, 0, 1},
				},
			}
		}
		return &config.Layout{Cameras: []config.Camera{cam("cam0"), cam("cam1")}}
	}

	convey.Convey("Given a layout", t, func() {
		convey.So(base().Validate(), convey.ShouldBeNil)

		convey.Convey("When two cameras share an id", func() {
			l := base()
			l.Cameras[1].ID = "cam0"
			convey.So(errors.Is(l.Validate(), config.ErrInvalidLayout), convey.ShouldBeTrue)
		})

		convey.Convey("When actuator counts differ", func() {
			l := base()
			l.Cameras[1].Actuators = map[string]config.ActuatorSpec{"a0": {}}
			err := l.Validate()
			convey.So(errors.Is(err, config.ErrInvalidLayout), convey.ShouldBeTrue)
			convey.So(err.Error(), convey.ShouldContainSubstring, "expected 2")
		})

		convey.Convey("When a homography is short", func() {
			l := base()
			l.Cameras[0].Homography.Units = []float64{0, 0, 1}
			convey.So(errors.Is(l.Validate(), config.ErrInvalidLayout), convey.ShouldBeTrue)
		})

		convey.Convey("When there are no cameras", func() {
			convey.So(errors.Is((&config.Layout{}).Validate(), config.ErrInvalidLayout), convey.ShouldBeTrue)
		})

		convey.Convey("When an experiment rule is invalid", func() {
			l := base()
			l.Experiment = &config.Experiment{ToleranceDeg: 10, Timeslots: []map[string]any{{"rule": "allow"}}}
			convey.So(errors.Is(l.Validate(), config.ErrInvalidLayout), convey.ShouldBeTrue)
		})

		convey.Convey("When an experiment has no positive tolerance", func() {
			l := base()
			l.Experiment = &config.Experiment{}
			err := l.Validate()
			convey.So(errors.Is(err, config.ErrInvalidLayout), convey.ShouldBeTrue)
			convey.So(err.Error(), convey.ShouldContainSubstring, "tolerance_deg")

			l.Experiment.ToleranceDeg = -5
			convey.So(errors.Is(l.Validate(), config.ErrInvalidLayout), convey.ShouldBeTrue)

			l.Experiment.ToleranceDeg = 10
			convey.So(l.Validate(), convey.ShouldBeNil)
		})

		convey.Convey("When the file has no location", func() {
			noLat := strings.Replace(combLayout, "latitude: 49.0\n", "", 1)
			_, err := config.LoadLayout(writeLayout(t, noLat))
			convey.So(errors.Is(err, config.ErrInvalidLayout), convey.ShouldBeTrue)
			convey.So(err.Error(), convey.ShouldContainSubstring, "missing latitude")

			noLon := strings.Replace(combLayout, "longitude: 8.4\n", "", 1)
			_, err = config.LoadLayout(writeLayout(t, noLon))
			convey.So(errors.Is(err, config.ErrInvalidLayout), convey.ShouldBeTrue)
		})

		convey.Convey("When the file does not exist", func() {
			_, err := config.LoadLayout(filepath.Join(t.TempDir(), "nope.yaml"))
			convey.So(errors.Is(err, config.ErrLoadConfig), convey.ShouldBeTrue)
		})
	})
}
