package geometry

import (
	"fmt"
	"math"
)

// Point is a 2D position in pixels or comb units.
type Point struct {
	X, Y float64
}

// Homography is a planar projective transform stored row-major with h[8] = 1
// after fitting.
type Homography [9]float64

const singularEps = 1e-12

// FitHomography returns the transform mapping each src point onto dst.
func FitHomography(src, dst [4]Point) (Homography, error) {
	var a [8][9]float64
	for i := 0; i < 4; i++ {
		x, y := src[i].X, src[i].Y
		u, v := dst[i].X, dst[i].Y
		a[2*i] = [9]float64{x, y, 1, 0, 0, 0, -u * x, -u * y, u}
		a[2*i+1] = [9]float64{0, 0, 0, x, y, 1, -v * x, -v * y, v}
	}

	sol, err := solve8(a)
	if err != nil {
		return Homography{}, err
	}

	var h Homography
	copy(h[:8], sol[:])
	h[8] = 1
	return h, nil
}

// solve8 solves the augmented 8x8 system by Gaussian elimination with
// partial pivoting.
func solve8(a [8][9]float64) ([8]float64, error) {
	const n = 8
	for col := 0; col < n; col++ {
		pivot := col
		for r := col + 1; r < n; r++ {
			if math.Abs(a[r][col]) > math.Abs(a[pivot][col]) {
				pivot = r
			}
		}
		if math.Abs(a[pivot][col]) < singularEps {
			return [8]float64{}, ErrDegenerate
		}
		a[col], a[pivot] = a[pivot], a[col]

		for r := col + 1; r < n; r++ {
			f := a[r][col] / a[col][col]
			for c := col; c <= n; c++ {
				a[r][c] -= f * a[col][c]
			}
		}
	}

	var x [8]float64
	for r := n - 1; r >= 0; r-- {
		s := a[r][n]
		for c := r + 1; c < n; c++ {
			s -= a[r][c] * x[c]
		}
		x[r] = s / a[r][r]
	}
	return x, nil
}

// Apply projects p through h.
func (h Homography) Apply(p Point) (Point, error) {
	w := h[6]*p.X + h[7]*p.Y + h[8]
	if math.Abs(w) < singularEps {
		return Point{}, fmt.Errorf("%w: (%g, %g)", ErrAtInfinity, p.X, p.Y)
	}
	return Point{
		X: (h[0]*p.X + h[1]*p.Y + h[2]) / w,
		Y: (h[3]*p.X + h[4]*p.Y + h[5]) / w,
	}, nil
}

// Inverse returns the inverse transform via the adjugate.
func (h Homography) Inverse() (Homography, error) {
	adj := Homography{
		h[4]*h[8] - h[5]*h[7], h[2]*h[7] - h[1]*h[8], h[1]*h[5] - h[2]*h[4],
		h[5]*h[6] - h[3]*h[8], h[0]*h[8] - h[2]*h[6], h[2]*h[3] - h[0]*h[5],
		h[3]*h[7] - h[4]*h[6], h[1]*h[6] - h[0]*h[7], h[0]*h[4] - h[1]*h[3],
	}
	det := h[0]*adj[0] + h[1]*adj[3] + h[2]*adj[6]
	if math.Abs(det) < singularEps {
		return Homography{}, ErrDegenerate
	}
	for i := range adj {
		adj[i] /= det
	}
	if math.Abs(adj[8]) > singularEps {
		s := adj[8]
		for i := range adj {
			adj[i] /= s
		}
	}
	return adj, nil
}
