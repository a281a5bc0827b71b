package comb

import (
	"sync"
	"time"
)

// scheduler runs delayed callbacks that can all be cancelled at shutdown.
type scheduler struct {
	mu      sync.Mutex
	timers  map[uint64]*time.Timer
	nextID  uint64
	stopped bool
}

func newScheduler() *scheduler {
	return &scheduler{timers: make(map[uint64]*time.Timer)}
}

// After runs fn once d has elapsed unless the scheduler is stopped first.
// It returns false if the scheduler is already stopped.
func (s *scheduler) After(d time.Duration, fn func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return false
	}

	id := s.nextID
	s.nextID++
	s.timers[id] = time.AfterFunc(d, func() {
		s.mu.Lock()
		_, live := s.timers[id]
		delete(s.timers, id)
		s.mu.Unlock()
		if live {
			fn()
		}
	})
	return true
}

// Pending returns the number of callbacks that have not fired yet.
func (s *scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// Stop cancels every pending callback and rejects new ones.
func (s *scheduler) Stop() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	n := 0
	for id, t := range s.timers {
		if t.Stop() {
			n++
		}
		delete(s.timers, id)
	}
	return n
}
