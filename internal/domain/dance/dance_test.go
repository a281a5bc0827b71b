package dance

import (
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/okian/wddbridge/internal/domain/consensus"
	"github.com/okian/wddbridge/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

func deg(d float64) float64 { return d * math.Pi / 180 }

var t0 = time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)

func waggle(id string, x, y, angleDeg float64, at time.Duration) model.WaggleEvent {
	return model.WaggleEvent{
		X: x, Y: y,
		Angle:     model.Float(deg(angleDeg)),
		Duration:  model.Float(1.5),
		Timestamp: t0.Add(at),
		CameraID:  "cam0",
		EventID:   id,
	}
}

func newTestDetector() *Detector {
	return NewDetector(WithConsensusOptions(consensus.WithRand(rand.New(rand.NewSource(42)))))
}

func TestDetectorTrigger(t *testing.T) {
	Convey("Given a detector with default thresholds", t, func() {
		det := newTestDetector()

		Convey("When three coherent waggles arrive one second apart", func() {
			var all []model.DanceTrigger
			all = append(all, det.Process(waggle("w1", 100, 100, 10, 0))...)
			all = append(all, det.Process(waggle("w2", 100, 100, 12, time.Second))...)
			all = append(all, det.Process(waggle("w3", 100, 100, 11, 2*time.Second))...)

			Convey("Then exactly one trigger fires with the consensus angle", func() {
				So(all, ShouldHaveLength, 1)
				So(all[0].Angle, ShouldAlmostEqual, deg(11), deg(0.5))
				So(all[0].FirstEventID, ShouldEqual, "w1")
				So(all[0].Inliers, ShouldEqual, 3)
				So(all[0].Members, ShouldEqual, 3)
				So(all[0].TriggerCount, ShouldEqual, 1)
				So(all[0].Duration, ShouldEqual, 1.5)
				So(det.Open(), ShouldEqual, 1)
			})

			Convey("And a fourth waggle within the gap re-triggers", func() {
				more := det.Process(waggle("w4", 110, 95, 10, 3*time.Second))
				So(more, ShouldHaveLength, 1)
				So(more[0].TriggerCount, ShouldEqual, 2)
				So(more[0].X, ShouldEqual, 110)
			})

			Convey("And a fourth waggle after the gap starts a new dance", func() {
				more := det.Process(waggle("w4", 100, 100, 11, 2*time.Second+DefaultMaxGap+time.Second))
				So(more, ShouldBeEmpty)
				So(det.Open(), ShouldEqual, 1)
				So(det.Snapshot()[0].Members[0].EventID, ShouldEqual, "w4")
			})
		})
	})
}

func TestDetectorClustering(t *testing.T) {
	Convey("Given waggles far apart", t, func() {
		det := newTestDetector()
		det.Process(waggle("a", 0, 0, 10, 0))
		det.Process(waggle("b", 1000, 1000, 10, time.Second))

		Convey("Then they open separate dances", func() {
			So(det.Open(), ShouldEqual, 2)
		})

		Convey("When a waggle is near both the first match wins", func() {
			det.Process(waggle("c", 300, 0, 10, 2*time.Second))
			det.Process(waggle("d", 150, 0, 10, 3*time.Second))
			snap := det.Snapshot()
			So(snap[0].Members, ShouldHaveLength, 2)
			So(snap[0].Members[1].EventID, ShouldEqual, "d")
		})
	})

	Convey("Given an out-of-order waggle", t, func() {
		det := newTestDetector()
		det.Process(waggle("a", 0, 0, 10, 5*time.Second))
		det.Process(waggle("b", 0, 0, 10, 4*time.Second))

		Convey("Then the existing dance is treated as stale", func() {
			So(det.Open(), ShouldEqual, 1)
			So(det.Snapshot()[0].Members[0].EventID, ShouldEqual, "b")
		})
	})

	Convey("Given waggles that disagree on direction", t, func() {
		det := NewDetector(
			WithMinCount(3),
			WithConsensusOptions(
				consensus.WithTolerance(deg(5)),
				consensus.WithRand(rand.New(rand.NewSource(1))),
			),
		)
		det.Process(waggle("a", 0, 0, 0, 0))
		det.Process(waggle("b", 0, 0, 90, time.Second))
		trig := det.Process(waggle("c", 0, 0, 180, 2*time.Second))

		Convey("Then no trigger fires", func() {
			So(trig, ShouldBeEmpty)
		})
	})

	Convey("Given waggles without angles", t, func() {
		det := newTestDetector()
		for i := 0; i < 4; i++ {
			ev := waggle("x", 0, 0, 0, time.Duration(i)*time.Second)
			ev.Angle = nil
			So(det.Process(ev), ShouldBeEmpty)
		}
		So(det.Open(), ShouldEqual, 1)
	})
}

func TestDanceHelpers(t *testing.T) {
	Convey("Given a dance", t, func() {
		dn := &Dance{Members: []model.WaggleEvent{
			{X: 0, Y: 0, Duration: model.Float(3)},
			{X: 3, Y: 4, Duration: model.Float(1)},
			{X: 10, Y: 10},
			{X: 6, Y: 8, Duration: model.Float(2), Angle: model.Float(1)},
		}}

		So(dn.MinDistance(3, 0), ShouldEqual, 3)
		So(dn.MedianDuration(), ShouldEqual, 2)
		So(dn.Angles(), ShouldResemble, []float64{1})
		So(dn.Last().X, ShouldEqual, 6)

		dn.Members = dn.Members[:2]
		So(dn.MedianDuration(), ShouldEqual, 2)
	})
}
