package transport

import (
	"time"

	"github.com/coder/quartz"
	"golang.org/x/time/rate"
)

const DefaultCursorInterval = 30 * time.Millisecond

// Throttle admits at most one event per interval. Events over the limit are
// dropped, not delayed.
type Throttle struct {
	clock   quartz.Clock
	limiter *rate.Limiter
}

// NewThrottle returns a throttle admitting one event per interval.
func NewThrottle(clock quartz.Clock, interval time.Duration) *Throttle {
	if interval <= 0 {
		interval = DefaultCursorInterval
	}
	return &Throttle{clock: clock, limiter: rate.NewLimiter(rate.Every(interval), 1)}
}

// Allow reports whether an event may be emitted now.
func (t *Throttle) Allow() bool {
	return t.limiter.AllowN(t.clock.Now(), 1)
}
