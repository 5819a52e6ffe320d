package simchain

import (
	"sync"
	"time"
)

// Clock is a manually advanced clock shared by simulated chains and the
// coordinator under test.
type Clock struct {
	mu  *sync.Mutex
	now time.Time
}

func NewClock(start time.Time) *Clock {
	return &Clock{
		mu:  new(sync.Mutex),
		now: start.Truncate(time.Second),
	}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Set moves the clock to t. It never moves backwards.
func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t.After(c.now) {
		c.now = t
	}
}
