package treasury

import "time"

// DefaultEpochDuration is used when no duration is configured.
const DefaultEpochDuration = 30 * 24 * time.Hour

// clock tracks the current epoch number, its start time and the configurable
// epoch duration. Duration changes take effect immediately, including for the
// epoch already in progress. Only the engine advances it, and only during
// settlement.
type clock struct {
	current  uint64
	start    time.Time
	duration time.Duration
}

func newClock(start time.Time, duration time.Duration) *clock {
	if duration <= 0 {
		duration = DefaultEpochDuration
	}
	return &clock{current: 1, start: start, duration: duration}
}

// ready reports whether the epoch window has elapsed. The boundary instant
// itself counts as ready.
func (c *clock) ready(now time.Time) bool {
	return !now.Before(c.start.Add(c.duration))
}

// timeRemaining returns the time left in the current epoch, never negative.
func (c *clock) timeRemaining(now time.Time) time.Duration {
	rem := c.start.Add(c.duration).Sub(now)
	if rem < 0 {
		return 0
	}
	return rem
}

// advance moves to the next epoch, restarting the window at now.
func (c *clock) advance(now time.Time) {
	c.current++
	c.start = now
}
