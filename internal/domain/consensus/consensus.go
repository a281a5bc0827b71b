// Package consensus estimates a robust mean direction from noisy angle
// measurements.
//
// The estimator samples pairs of angles, takes their circular mean as a
// candidate direction and keeps the candidate that most measurements agree
// with. The final answer is the circular mean of that agreeing set, so a
// minority of outliers (for example waggles read in the reverse direction)
// cannot drag the estimate.
package consensus

import (
	"math"
	"math/rand"
)

// Default estimator configuration.
const (
	DefaultTolerance = 45.0 * math.Pi / 180.0
	trialsPerAngle   = 4
	twoPi            = 2 * math.Pi
)

// Result is the outcome of an estimate.
type Result struct {
	Angle   float64 // radians in [0, 2π)
	Inliers int
}

// Option configures Estimate.
type Option func(*estimator)

type estimator struct {
	tolerance float64
	rng       *rand.Rand
}

// WithTolerance sets the inlier tolerance in radians.
func WithTolerance(tol float64) Option {
	return func(e *estimator) {
		if tol > 0 {
			e.tolerance = tol
		}
	}
}

// WithRand makes the sampled trials reproducible.
func WithRand(rng *rand.Rand) Option {
	return func(e *estimator) {
		if rng != nil {
			e.rng = rng
		}
	}
}

// Estimate returns the consensus direction of angles (radians).
func Estimate(angles []float64, opts ...Option) Result {
	e := estimator{tolerance: DefaultTolerance}
	for _, opt := range opts {
		opt(&e)
	}

	switch len(angles) {
	case 0:
		return Result{}
	case 1:
		return Result{Angle: angles[0], Inliers: 1}
	}

	normalized := make([]float64, len(angles))
	for i, a := range angles {
		normalized[i] = Normalize(a)
	}

	intn := rand.Intn
	if e.rng != nil {
		intn = e.rng.Intn
	}

	n := len(normalized)
	var best []float64
	for trial := 0; trial < trialsPerAngle*n; trial++ {
		i := intn(n)
		j := intn(n - 1)
		if j >= i {
			j++
		}
		candidate := CircularMean([]float64{normalized[i], normalized[j]})

		var inliers []float64
		for _, a := range normalized {
			if Distance(a, candidate) < e.tolerance {
				inliers = append(inliers, a)
			}
		}
		if len(inliers) > len(best) {
			best = inliers
		}
	}

	if len(best) == 0 {
		return Result{Angle: normalized[0], Inliers: 1}
	}
	return Result{Angle: CircularMean(best), Inliers: len(best)}
}

// CircularMean returns the mean direction of angles in [0, 2π). It averages
// unit vectors, so angles on both sides of 0 average to a direction near 0.
func CircularMean(angles []float64) float64 {
	var sx, sy float64
	for _, a := range angles {
		sx += math.Cos(a)
		sy += math.Sin(a)
	}
	return Normalize(math.Atan2(sy, sx))
}

// Normalize maps an angle into [0, 2π).
func Normalize(a float64) float64 {
	a = math.Mod(a, twoPi)
	if a < 0 {
		a += twoPi
	}
	if a >= twoPi {
		a = 0
	}
	return a
}

// Distance is the shortest arc between two angles, in [0, π].
func Distance(a, b float64) float64 {
	d := math.Abs(Normalize(a) - Normalize(b))
	if wrapped := twoPi - d; wrapped < d {
		return wrapped
	}
	return d
}
