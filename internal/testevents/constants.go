package testevents

import "time"

// Defaults for a simulated session.
const (
	DefaultURL      = "ws://localhost:9901/wdd"
	DefaultAdminURL = "http://localhost:9080"
	DefaultCamera   = "cam0"
	DefaultDances   = 10
	DefaultWaggles  = 5
	DefaultInterval = time.Second
	DefaultPace     = 50 * time.Millisecond
	DefaultWidth    = 2000.0
	DefaultHeight   = 2000.0
	DefaultSpread   = 20.0
	DefaultTimeout  = 10 * time.Second
)

// Noise added to waggles. Angles are in radians, durations in seconds.
const (
	angleJitter      = 0.1
	durationMin      = 0.3
	durationRange    = 0.7
	settleDelay      = 500 * time.Millisecond
	randomResolution = 1000000
)
