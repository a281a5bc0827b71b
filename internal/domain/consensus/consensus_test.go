package consensus_test

import (
	"math"
	"math/rand"
	"testing"

	"github.com/okian/wddbridge/internal/domain/consensus"
	. "github.com/smartystreets/goconvey/convey"
)

func deg(d float64) float64 { return d * math.Pi / 180 }

func TestCircularMean(t *testing.T) {
	Convey("Given angles on both sides of zero", t, func() {
		mean := consensus.CircularMean([]float64{deg(350), deg(10)})

		Convey("Then the mean should sit on the boundary, not at 180°", func() {
			So(consensus.Distance(mean, 0), ShouldBeLessThan, 1e-9)
		})
	})

	Convey("Given a single direction", t, func() {
		So(consensus.CircularMean([]float64{deg(90)}), ShouldAlmostEqual, deg(90), 1e-9)
	})
}

func TestNormalizeAndDistance(t *testing.T) {
	Convey("Given angles outside [0, 2π)", t, func() {
		So(consensus.Normalize(-math.Pi/2), ShouldAlmostEqual, 3*math.Pi/2, 1e-12)
		So(consensus.Normalize(5*math.Pi), ShouldAlmostEqual, math.Pi, 1e-12)
		So(consensus.Normalize(2*math.Pi), ShouldEqual, 0)
	})

	Convey("Given two angles across the boundary", t, func() {
		So(consensus.Distance(deg(355), deg(5)), ShouldAlmostEqual, deg(10), 1e-9)
		So(consensus.Distance(deg(5), deg(355)), ShouldAlmostEqual, deg(10), 1e-9)
		So(consensus.Distance(0, math.Pi), ShouldAlmostEqual, math.Pi, 1e-12)
	})
}

func TestEstimate(t *testing.T) {
	Convey("Given fewer than two angles", t, func() {
		r := consensus.Estimate([]float64{deg(42)})
		So(r.Angle, ShouldEqual, deg(42))
		So(r.Inliers, ShouldEqual, 1)

		So(consensus.Estimate(nil).Inliers, ShouldEqual, 0)
	})

	Convey("Given a tight cluster with a minority of outliers", t, func() {
		theta := deg(100)
		angles := []float64{
			theta + deg(2), theta - deg(3), theta + deg(1), theta - deg(4),
			theta + deg(5), theta, theta - deg(1),
			theta + deg(180), theta + deg(170), theta - deg(150),
		}
		k := 3
		rng := rand.New(rand.NewSource(7))

		r := consensus.Estimate(angles, consensus.WithRand(rng))

		Convey("Then the consensus stays within tolerance of the cluster", func() {
			So(consensus.Distance(r.Angle, theta), ShouldBeLessThan, consensus.DefaultTolerance)
			So(consensus.Distance(r.Angle, theta), ShouldBeLessThan, deg(3))
			So(r.Inliers, ShouldBeGreaterThanOrEqualTo, len(angles)-k)
		})
	})

	Convey("Given a cluster straddling 0/2π", t, func() {
		angles := []float64{deg(358), deg(2), deg(-1), deg(361), deg(1)}
		r := consensus.Estimate(angles, consensus.WithRand(rand.New(rand.NewSource(1))))

		Convey("Then the consensus lies at the boundary", func() {
			So(consensus.Distance(r.Angle, 0), ShouldBeLessThan, deg(2))
			So(r.Inliers, ShouldEqual, 5)
			So(r.Angle, ShouldBeGreaterThanOrEqualTo, 0)
			So(r.Angle, ShouldBeLessThan, 2*math.Pi)
		})
	})

	Convey("Given a narrow tolerance that nothing satisfies", t, func() {
		angles := []float64{deg(0), deg(180)}
		r := consensus.Estimate(angles,
			consensus.WithTolerance(deg(1)),
			consensus.WithRand(rand.New(rand.NewSource(3))))

		Convey("Then it degrades to the first angle", func() {
			So(r.Angle, ShouldEqual, 0)
			So(r.Inliers, ShouldEqual, 1)
		})
	})
}
