// Package fakeclock is a manually advanced tokenclock.Clock for tests.
package fakeclock

import (
	"sort"
	"sync"
	"time"

	"github.com/wolfeidau/authkeeper/internal/tokenclock"
)

var _ tokenclock.Clock = (*Clock)(nil)

// Clock only moves when Advance is called. Timers due during an Advance fire
// synchronously on the calling goroutine, in deadline order.
type Clock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*Timer
}

// Timer is a pending callback on a fake Clock.
type Timer struct {
	clock    *Clock
	deadline time.Time
	delay    time.Duration
	f        func()
	stopped  bool
	fired    bool
}

// New creates a fake clock starting at now.
func New(now time.Time) *Clock {
	return &Clock{now: now}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) AfterFunc(d time.Duration, f func()) tokenclock.Timer {
	c.mu.Lock()
	defer c.mu.Unlock()

	t := &Timer{clock: c, deadline: c.now.Add(d), delay: d, f: f}
	c.timers = append(c.timers, t)
	return t
}

// Advance moves the clock forward and fires every timer which became due.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	now := c.now

	var due []*Timer
	for _, t := range c.timers {
		if !t.stopped && !t.fired && !t.deadline.After(now) {
			t.fired = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()

	sort.SliceStable(due, func(i, j int) bool {
		return due[i].deadline.Before(due[j].deadline)
	})

	for _, t := range due {
		t.f()
	}
}

// Pending returns the timers which have neither fired nor been stopped.
func (c *Clock) Pending() []*Timer {
	c.mu.Lock()
	defer c.mu.Unlock()

	var pending []*Timer
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			pending = append(pending, t)
		}
	}
	return pending
}

// Created returns the number of timers scheduled so far.
func (c *Clock) Created() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.timers)
}

// Stop cancels the timer, returning false if it already fired or was stopped.
func (t *Timer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()

	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

// Delay is the duration the timer was scheduled with.
func (t *Timer) Delay() time.Duration {
	return t.delay
}

// Deadline is the time at which the timer fires.
func (t *Timer) Deadline() time.Time {
	return t.deadline
}
