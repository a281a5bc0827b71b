package actuator

import (
	"maps"
	"time"
)

// Soundboard is the file selected on each slot of the shared trigger line.
type Soundboard struct {
	Files [2]int
}

// Silent is the state with both slots off.
func Silent() Soundboard { return Soundboard{Files: [2]int{Off, Off}} }

// Merge applies the set slots of files over s.
func (s Soundboard) Merge(files [2]*int) Soundboard {
	next := s
	for i, f := range files {
		if f != nil {
			next.Files[i] = *f
		}
	}
	return next
}

// Playing reports whether any slot has a file selected.
func (s Soundboard) Playing() bool {
	return s.Files[0] != Off || s.Files[1] != Off
}

// RuntimeState tracks how long each target stays driven. It is owned by a
// single goroutine and is not safe for concurrent use.
type RuntimeState struct {
	until map[int]time.Time
}

// NewRuntimeState returns a state with every target inactive.
func NewRuntimeState() *RuntimeState {
	return &RuntimeState{until: make(map[int]time.Time)}
}

// IsActive reports whether target is held past now.
func (s *RuntimeState) IsActive(target int, now time.Time) bool {
	until, ok := s.until[target]
	return ok && now.Before(until)
}

// AllActive reports whether every target is held. An empty set is never
// considered active.
func (s *RuntimeState) AllActive(targets []int, now time.Time) bool {
	if len(targets) == 0 {
		return false
	}
	for _, t := range targets {
		if !s.IsActive(t, now) {
			return false
		}
	}
	return true
}

// AnyActive reports whether at least one target is held.
func (s *RuntimeState) AnyActive(targets []int, now time.Time) bool {
	for _, t := range targets {
		if s.IsActive(t, now) {
			return true
		}
	}
	return false
}

// HoldUntil marks targets active until the deadline.
func (s *RuntimeState) HoldUntil(targets []int, until time.Time) {
	for _, t := range targets {
		s.until[t] = until
	}
}

// Release marks targets inactive.
func (s *RuntimeState) Release(targets []int) {
	for _, t := range targets {
		delete(s.until, t)
	}
}

// ActiveCount returns the number of actuators (LEDs excluded) held at now.
func (s *RuntimeState) ActiveCount(now time.Time) int {
	n := 0
	for t, until := range s.until {
		if t != LEDTarget && now.Before(until) {
			n++
		}
	}
	return n
}

// Snapshot returns a copy of the current deadlines.
func (s *RuntimeState) Snapshot() map[int]time.Time {
	return maps.Clone(s.until)
}
