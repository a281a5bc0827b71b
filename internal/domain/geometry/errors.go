package geometry

import "errors"

var (
	// ErrDegenerate is returned when the correspondences do not define a
	// projective transform (three collinear points, repeated points).
	ErrDegenerate = errors.New("degenerate point correspondences")
	// ErrAtInfinity is returned when a point maps to the line at infinity.
	ErrAtInfinity = errors.New("point maps to infinity")
	// ErrUnknownOrigin is returned for an origin flag that is not one of the four corners.
	ErrUnknownOrigin = errors.New("unknown origin corner")
	// ErrNoActuators is returned by Nearest when the frame has no actuators.
	ErrNoActuators = errors.New("frame has no actuators")
)
