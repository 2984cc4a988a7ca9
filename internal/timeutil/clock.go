// Package timeutil provides a testable abstraction over time operations and
// a pacer that replays recorded timestamps at wall-clock speed.
package timeutil

import (
	"math"
	"sync"
	"time"
)

// Clock provides an abstraction over time operations for testability.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// Since returns the duration since t.
	Since(t time.Time) time.Duration

	// Sleep pauses for the specified duration.
	Sleep(d time.Duration)
}

// RealClock implements Clock using the standard time package.
type RealClock struct{}

func (RealClock) Now() time.Time                  { return time.Now() }
func (RealClock) Since(t time.Time) time.Duration { return time.Since(t) }
func (RealClock) Sleep(d time.Duration)           { time.Sleep(d) }

// MockClock is a manually controlled clock for testing. Sleep advances the
// clock instead of blocking.
type MockClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

// NewMockClock creates a new MockClock set to the given time.
func NewMockClock(t time.Time) *MockClock {
	return &MockClock{now: t}
}

// Now returns the mocked current time.
func (c *MockClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the mock clock forward by d.
func (c *MockClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Since returns the duration since t.
func (c *MockClock) Since(t time.Time) time.Duration {
	return c.Now().Sub(t)
}

// Sleep records d and advances the clock by it.
func (c *MockClock) Sleep(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
}

// Sleeps returns all recorded sleep durations.
func (c *MockClock) Sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	result := make([]time.Duration, len(c.sleeps))
	copy(result, c.sleeps)
	return result
}

// Pacer sleeps so that successive detection timestamps (seconds) are
// released no faster than they were recorded. The first call sets the time
// base. Timestamps that go backwards re-anchor it.
type Pacer struct {
	clock Clock
	speed float64

	started   bool
	lastTS    float64
	baseTS    float64
	baseClock time.Time
}

// NewPacer returns a pacer on clock. speed scales playback: 2 replays twice
// as fast; values <= 0 mean 1.
func NewPacer(clock Clock, speed float64) *Pacer {
	if speed <= 0 {
		speed = 1
	}
	return &Pacer{clock: clock, speed: speed}
}

// Wait blocks until ts is due and returns how long it slept.
func (p *Pacer) Wait(ts float64) time.Duration {
	if !p.started || ts < p.lastTS {
		p.started = true
		p.baseTS, p.lastTS = ts, ts
		p.baseClock = p.clock.Now()
		return 0
	}
	p.lastTS = ts
	due := time.Duration(math.Round((ts - p.baseTS) / p.speed * float64(time.Second)))
	d := due - p.clock.Since(p.baseClock)
	if d <= 0 {
		return 0
	}
	p.clock.Sleep(d)
	return d
}
