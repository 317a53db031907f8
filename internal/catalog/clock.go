package catalog

import (
	"sync"
	"time"
)

// monotonicClock hands out strictly increasing timestamps (at millisecond
// resolution, the coarsest resolution of any backing store) so that records
// inserted by this process sort in the order they were inserted.
type monotonicClock struct {
	sync.Mutex
	last time.Time
	now  func() time.Time
}

func newMonotonicClock() *monotonicClock {
	return &monotonicClock{now: time.Now}
}

func (c *monotonicClock) Next() time.Time {
	c.Lock()
	defer c.Unlock()

	t := c.now().UTC().Truncate(time.Millisecond)
	if !t.After(c.last) {
		t = c.last.Add(time.Millisecond)
	}
	c.last = t

	return t
}
