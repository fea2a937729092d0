package limiter

import (
	"sync/atomic"
	"time"
)

// MinCooldown is the flat cooldown applied on every transient provider failure.
const MinCooldown = 5 * time.Second

// Gate holds a "do not send before" deadline shared by every request path.
type Gate interface {
	Blocked(now time.Time) bool
	Remaining(now time.Time) time.Duration
	Trip(now time.Time, cooldown time.Duration)
}

// Cooldown is the in-process Gate. The zero value is open.
type Cooldown struct {
	until atomic.Int64 // unix nanos
}

// NewCooldown returns an open gate.
func NewCooldown() *Cooldown { return &Cooldown{} }

// Blocked reports whether now falls before the deadline.
func (c *Cooldown) Blocked(now time.Time) bool {
	return now.UnixNano() < c.until.Load()
}

// Remaining returns the time left until the deadline, or zero if open.
func (c *Cooldown) Remaining(now time.Time) time.Duration {
	d := time.Duration(c.until.Load() - now.UnixNano())
	if d < 0 {
		return 0
	}
	return d
}

// Trip moves the deadline to now+cooldown. The latest trip always wins, even
// when it shortens an earlier deadline.
func (c *Cooldown) Trip(now time.Time, cooldown time.Duration) {
	if cooldown < 0 {
		cooldown = 0
	}
	c.until.Store(now.Add(cooldown).UnixNano())
}

// deadline returns the current deadline; zero time when the gate was never tripped.
func (c *Cooldown) deadline() time.Time {
	n := c.until.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}
