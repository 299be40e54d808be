// Package system provides clocks for run timing.
package system

import (
	"sync"
	"time"
)

// Clock implements digest.Clock using the wall clock in UTC.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current time.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}

// Stepper is a deterministic clock that advances by Step on every call to Now.
type Stepper struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

// NewStepper starts a Stepper at start.
func NewStepper(start time.Time, step time.Duration) *Stepper {
	return &Stepper{now: start, step: step}
}

// Now returns the current reading and advances the clock.
func (s *Stepper) Now() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.now
	s.now = s.now.Add(s.step)
	return t
}
