package core

// The clock is the one source of time the rest of the core relies on: a
// monotonic millisecond counter for timers and timeouts, and an optional
// wall-clock view for schedule evaluation. Wall time starts out unknown
// (the board has no RTC and NTP is an external collaborator) and is set
// once by whoever owns NTP acquisition outside this package.

import (
	"strconv"
	"sync"
	"time"
)

// Clock provides monotonic milliseconds and, once known, local wall time.
type Clock struct {
	start time.Time

	mu        sync.Mutex
	wallKnown bool
	wallSkew  time.Duration
}

// NewClock starts a clock with its monotonic epoch at the current instant.
func NewClock() *Clock {
	return &Clock{start: time.Now()}
}

// NowMs returns milliseconds elapsed since the clock was created.
func (c *Clock) NowMs() int64 {
	return time.Since(c.start).Milliseconds()
}

// SetWallTime tells the clock what the real wall-clock time is right now,
// e.g. after NTP sync completes. Safe to call again later if time is
// re-synced; the core never treats a second call as an error.
func (c *Clock) SetWallTime(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.wallSkew = now.Sub(time.Now())
	c.wallKnown = true
}

// WallTimeKnown reports whether SetWallTime has ever been called.
func (c *Clock) WallTimeKnown() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.wallKnown
}

// LocalTime returns the current day-of-week (0=Monday) and minute-of-day,
// plus whether wall time is known at all. If wall time is unknown, the
// returned day/minute are zero and callers MUST check ok before using them.
func (c *Clock) LocalTime() (dayOfWeek int, minuteOfDay int, ok bool) {
	c.mu.Lock()
	known := c.wallKnown
	skew := c.wallSkew
	c.mu.Unlock()

	if !known {
		return 0, 0, false
	}

	now := time.Now().Add(skew).Local()
	// time.Weekday is 0=Sunday; spec wants 0=Monday.
	wd := int(now.Weekday())
	dow := (wd + 6) % 7
	return dow, now.Hour()*60 + now.Minute(), true
}

// WallTimestamp renders the current wall time as "YYYY-MM-DD HH:MM:SS"
// local time if known, else the decimal monotonic ms, per spec.md §6.
func (c *Clock) WallTimestamp() string {
	c.mu.Lock()
	known := c.wallKnown
	skew := c.wallSkew
	c.mu.Unlock()

	if !known {
		return strconv.FormatInt(c.NowMs(), 10)
	}
	return time.Now().Add(skew).Local().Format("2006-01-02 15:04:05")
}
