package playback

import (
	"sync"
	"time"
)

// manualClock fires timers only when advanced
type manualClock struct {
	mu     sync.Mutex
	now    time.Time
	seq    int
	timers []*manualTimer
}

type manualTimer struct {
	clock   *manualClock
	at      time.Time
	seq     int
	f       func()
	stopped bool
	fired   bool
}

func newManualClock() *manualClock {
	return &manualClock{now: time.Unix(1700000000, 0)}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.seq++
	t := &manualTimer{clock: c, at: c.now.Add(d), seq: c.seq, f: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *manualTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()

	active := !t.stopped && !t.fired
	t.stopped = true
	return active
}

// Advance moves time forward, firing due timers in deadline order
func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()

	for {
		c.mu.Lock()
		idx := -1
		for i, t := range c.timers {
			if t.at.After(target) {
				continue
			}
			if idx < 0 || t.at.Before(c.timers[idx].at) ||
				(t.at.Equal(c.timers[idx].at) && t.seq < c.timers[idx].seq) {
				idx = i
			}
		}

		if idx < 0 {
			c.now = target
			c.mu.Unlock()
			return
		}

		next := c.timers[idx]
		c.timers = append(c.timers[:idx], c.timers[idx+1:]...)
		c.now = next.at
		fire := !next.stopped
		next.fired = true
		c.mu.Unlock()

		if fire {
			next.f()
		}
	}
}
