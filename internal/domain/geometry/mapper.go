// Package geometry maps camera pixels and waggle directions onto the comb.
package geometry

import (
	"fmt"
	"math"
	"strings"

	"github.com/okian/wddbridge/internal/domain/consensus"
)

// Origin names the image corner treated as the logical origin of the comb.
type Origin string

// Supported origins.
const (
	TopLeft     Origin = "top_left"
	TopRight    Origin = "top_right"
	BottomLeft  Origin = "bottom_left"
	BottomRight Origin = "bottom_right"
)

// ParseOrigin accepts the four corner names, also with a space or dash
// between the words. An empty string means TopLeft.
func ParseOrigin(s string) (Origin, error) {
	norm := strings.NewReplacer(" ", "_", "-", "_").Replace(strings.ToLower(strings.TrimSpace(s)))
	switch Origin(norm) {
	case "":
		return TopLeft, nil
	case TopLeft, TopRight, BottomLeft, BottomRight:
		return Origin(norm), nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownOrigin, s)
}

// signs returns the offset direction flips for the origin.
func (o Origin) signs() (sx, sy float64) {
	sx, sy = 1, 1
	if o == TopRight || o == BottomRight {
		sx = -1
	}
	if o == BottomLeft || o == BottomRight {
		sy = -1
	}
	return sx, sy
}

// Vertical returns "top" or "bottom".
func (o Origin) Vertical() string {
	if o == BottomLeft || o == BottomRight {
		return "bottom"
	}
	return "top"
}

// Frame is the immutable geometric description of one camera's comb side.
type Frame struct {
	Pixels    [4]Point
	Units     [4]Point
	Actuators []Point // pixel positions in actuator index order
	Origin    Origin
}

// AzimuthSource supplies the current sun azimuth in radians.
type AzimuthSource interface {
	Azimuth() float64
}

// AzimuthFunc adapts a function to AzimuthSource.
type AzimuthFunc func() float64

// Azimuth implements AzimuthSource.
func (f AzimuthFunc) Azimuth() float64 { return f() }

// Mapped is the result of mapping a waggle onto the comb.
type Mapped struct {
	Unit       Point   // position in comb units
	LocalAngle float64 // gravity referenced, radians in [0, 2π)
	WorldAngle float64 // sun referenced, radians in [0, 2π)
	Azimuth    float64 // azimuth used for WorldAngle
}

// Mapper is safe for concurrent use; it holds no mutable state.
type Mapper struct {
	frame   Frame
	forward Homography
	inverse Homography
	azimuth AzimuthSource
	sx, sy  float64
}

// NewMapper fits the frame's homography.
func NewMapper(frame Frame, azimuth AzimuthSource) (*Mapper, error) {
	if azimuth == nil {
		return nil, fmt.Errorf("geometry: nil azimuth source")
	}
	origin, err := ParseOrigin(string(frame.Origin))
	if err != nil {
		return nil, err
	}
	frame.Origin = origin

	fwd, err := FitHomography(frame.Pixels, frame.Units)
	if err != nil {
		return nil, fmt.Errorf("fit homography: %w", err)
	}
	inv, err := fwd.Inverse()
	if err != nil {
		return nil, fmt.Errorf("invert homography: %w", err)
	}

	sx, sy := origin.signs()
	return &Mapper{
		frame:   frame,
		forward: fwd,
		inverse: inv,
		azimuth: azimuth,
		sx:      sx,
		sy:      sy,
	}, nil
}

// Map projects a pixel position and image angle onto the comb.
func (m *Mapper) Map(x, y, angle float64) (Mapped, error) {
	p, err := m.forward.Apply(Point{X: x, Y: y})
	if err != nil {
		return Mapped{}, err
	}
	q, err := m.forward.Apply(Point{
		X: x + math.Cos(angle)*m.sx,
		Y: y + math.Sin(angle)*m.sy,
	})
	if err != nil {
		return Mapped{}, err
	}

	local := consensus.Normalize(math.Atan2(q.Y-p.Y, q.X-p.X) - math.Pi/2)
	az := m.azimuth.Azimuth()
	return Mapped{
		Unit:       p,
		LocalAngle: local,
		WorldAngle: consensus.Normalize(local + az),
		Azimuth:    az,
	}, nil
}

// ProjectPoint maps a pixel position to comb units.
func (m *Mapper) ProjectPoint(p Point) (Point, error) { return m.forward.Apply(p) }

// InversePoint maps comb units back to pixels.
func (m *Mapper) InversePoint(p Point) (Point, error) { return m.inverse.Apply(p) }

// Nearest returns the index of the actuator closest to the pixel position
// and its distance. Ties keep the lower index.
func (m *Mapper) Nearest(x, y float64) (int, float64, error) {
	if len(m.frame.Actuators) == 0 {
		return -1, 0, ErrNoActuators
	}
	best, bestDist := -1, math.Inf(1)
	for i, a := range m.frame.Actuators {
		if d := math.Hypot(a.X-x, a.Y-y); d < bestDist {
			best, bestDist = i, d
		}
	}
	return best, bestDist, nil
}

// ActuatorCount returns the number of actuators on this side.
func (m *Mapper) ActuatorCount() int { return len(m.frame.Actuators) }

// Origin returns the configured origin corner.
func (m *Mapper) Origin() Origin { return m.frame.Origin }

// Bounds returns the comb rectangle in unit space as min and max corners.
func (m *Mapper) Bounds() (Point, Point) {
	lo := Point{X: math.Inf(1), Y: math.Inf(1)}
	hi := Point{X: math.Inf(-1), Y: math.Inf(-1)}
	for _, u := range m.frame.Units {
		lo.X, lo.Y = math.Min(lo.X, u.X), math.Min(lo.Y, u.Y)
		hi.X, hi.Y = math.Max(hi.X, u.X), math.Max(hi.Y, u.Y)
	}
	return lo, hi
}

// compass points, counter-clockwise from east.
var compass = [...]string{
	"E", "ENE", "NE", "NNE", "N", "NNW", "NW", "WNW",
	"W", "WSW", "SW", "SSW", "S", "SSE", "SE", "ESE",
}

// CompassLabel returns the 16-point compass label for an angle in radians.
func CompassLabel(angle float64) string {
	sector := int(math.Round(consensus.Normalize(angle)/(2*math.Pi)*16)) % 16
	return compass[sector]
}
