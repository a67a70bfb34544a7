package mock

import (
	"sync"
	"time"

	"slotchain/slot"
)

// Clock is a manually driven slot.Clock, useful for testing.
type Clock struct {
	mtx sync.Mutex
	now time.Time
}

var _ slot.Clock = (*Clock)(nil)

func NewClock(unix int64) *Clock {
	return &Clock{now: time.Unix(unix, 0)}
}

func (c *Clock) Now() time.Time {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	return c.now
}

func (c *Clock) Set(unix int64) {
	c.mtx.Lock()
	c.now = time.Unix(unix, 0)
	c.mtx.Unlock()
}

func (c *Clock) Advance(d time.Duration) {
	c.mtx.Lock()
	c.now = c.now.Add(d)
	c.mtx.Unlock()
}
