package testevents

import (
	"time"

	"github.com/okian/wddbridge/internal/adapters/wdd"
)

// Config holds configuration for a simulated decoder session.
type Config struct {
	URL      string        // websocket URL of the bridge, e.g. ws://localhost:9901/wdd
	AuthKey  string        // decoder auth key
	AdminURL string        // admin API base URL; empty skips verification
	Camera   string        // cam_id reported for every waggle
	Format   wdd.Format    // frame encoding
	Dances   int           // number of dances to simulate
	Waggles  int           // waggle runs per dance
	Interval time.Duration // detection time between two waggles of a dance
	Pace     time.Duration // wall time between two frames
	Width    float64       // image size in pixels
	Height   float64
	Spread   float64 // pixel jitter around a dance's centre
	Timeout  time.Duration
	LogFile  string
	Verbose  bool
}

// Dance is one simulated dance and the direction its waggles point to.
type Dance struct {
	X, Y    float64
	Angle   float64 // radians, image coordinates
	Waggles []wdd.Record
}

// Stats holds session statistics.
type Stats struct {
	DancesGenerated int
	WagglesSent     int
	WagglesFailed   int
	StartTime       time.Time
	EndTime         time.Time
	Duration        time.Duration
}
