// Package model contains domain models passed between layers.
package model

import "time"

// WaggleEvent is a single waggle run reported by the dance decoder. It is
// immutable once produced by an event source.
type WaggleEvent struct {
	X, Y float64 // image position in pixels

	// Angle is the waggle direction in image coordinates (radians) and
	// Duration the waggle run length in seconds. Both are optional; some
	// decoders only report positions.
	Angle    *float64
	Duration *float64

	Timestamp       time.Time // detection time, UTC
	SystemTimestamp time.Time // time the decoder sent the record, UTC (zero if unknown)
	CameraID        string
	EventID         string
}

// HasAngle reports whether the decoder provided a waggle direction.
func (e WaggleEvent) HasAngle() bool { return e.Angle != nil }

// DanceTrigger is emitted by a dance detector once a cluster of waggles
// agrees on a direction.
type DanceTrigger struct {
	CameraID     string
	X, Y         float64 // position of the waggle that completed the trigger
	Angle        float64 // consensus angle in image coordinates, radians in [0, 2π)
	Duration     float64 // median waggle duration, seconds
	FirstEventID string  // id of the dance's first member
	Inliers      int     // members agreeing with the consensus
	Members      int     // dance size at trigger time
	TriggerCount int     // how many times this dance has triggered, including this one
}

// Float returns a pointer to v, handy when building optional event fields.
func Float(v float64) *float64 { return &v }
