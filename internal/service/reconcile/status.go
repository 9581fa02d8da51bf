package reconcile

import (
	"sync"
	"time"

	"github.com/coder/quartz"
)

const DefaultStatusTTL = 4 * time.Second

// Status is a transient message about background persistence. It clears
// itself after a fixed delay.
type Status struct {
	clock quartz.Clock
	ttl   time.Duration

	mu      sync.Mutex
	message string
	timer   *quartz.Timer
}

// NewStatus returns an empty status whose messages last ttl.
func NewStatus(clock quartz.Clock, ttl time.Duration) *Status {
	if ttl <= 0 {
		ttl = DefaultStatusTTL
	}
	return &Status{clock: clock, ttl: ttl}
}

// Report shows message until ttl elapses or a newer message replaces it.
func (s *Status) Report(message string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.timer != nil {
		s.timer.Stop()
	}
	s.message = message
	var timer *quartz.Timer
	timer = s.clock.AfterFunc(s.ttl, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.timer == timer {
			s.message = ""
			s.timer = nil
		}
	}, "status", "clear")
	s.timer = timer
}

// Message returns the current message, or "" once it has cleared.
func (s *Status) Message() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.message
}

// Stop cancels a pending clear.
func (s *Status) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}
