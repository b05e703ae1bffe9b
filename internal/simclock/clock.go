// Package simclock maps real elapsed time onto simulated time at a
// configurable velocity and drives flight-position classification and
// deferred capacity release. Two independent clock instances are
// expected in practice: a 1x live clock and a fast-forwarded weekly
// clock.
package simclock

import (
	"log"
	"sync"
	"time"
)

// Clock anchors a simulated instant to a real instant at a fixed
// velocity factor. Resetting re-anchors immediately and broadcasts.
type Clock struct {
	Name string

	mu         sync.Mutex
	velocity   float64
	anchorSim  time.Time
	anchorReal time.Time
	interval   time.Duration
	onTick     []func(sim time.Time)
	stop       chan struct{}
	running    bool
}

func New(name string, velocity float64, start time.Time) *Clock {
	if velocity <= 0 {
		velocity = 1
	}
	return &Clock{
		Name:       name,
		velocity:   velocity,
		anchorSim:  start,
		anchorReal: time.Now(),
		interval:   time.Second,
	}
}

// Velocity returns the simulated-per-real time factor.
func (c *Clock) Velocity() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.velocity
}

// Now returns anchorSim + velocity * elapsed real time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	elapsed := time.Since(c.anchorReal)
	return c.anchorSim.Add(time.Duration(float64(elapsed) * c.velocity))
}

// Reset re-anchors the clock and notifies tick subscribers right away.
func (c *Clock) Reset(instant time.Time) {
	c.mu.Lock()
	c.anchorSim = instant
	c.anchorReal = time.Now()
	subs := append([]func(time.Time){}, c.onTick...)
	c.mu.Unlock()
	log.Printf("simclock %s: reset to %s", c.Name, instant.UTC().Format(time.RFC3339))
	for _, fn := range subs {
		fn(instant)
	}
}

// OnTick registers a subscriber invoked on every tick and on Reset.
func (c *Clock) OnTick(fn func(sim time.Time)) {
	c.mu.Lock()
	c.onTick = append(c.onTick, fn)
	c.mu.Unlock()
}

// Start begins the periodic real-time tick. No-op when running.
func (c *Clock) Start() {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return
	}
	c.running = true
	c.stop = make(chan struct{})
	stop := c.stop
	interval := c.interval
	c.mu.Unlock()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				c.fire()
			}
		}
	}()
}

// Stop halts the periodic tick.
func (c *Clock) Stop() {
	c.mu.Lock()
	if c.running {
		close(c.stop)
		c.running = false
	}
	c.mu.Unlock()
}

func (c *Clock) fire() {
	sim := c.Now()
	c.mu.Lock()
	subs := append([]func(time.Time){}, c.onTick...)
	c.mu.Unlock()
	for _, fn := range subs {
		fn(sim)
	}
}

// AfterSim schedules fn after a simulated duration, translated into
// real seconds through the clock's velocity. One-shot; returns the
// timer so callers may cancel it.
func (c *Clock) AfterSim(d time.Duration, fn func()) *time.Timer {
	c.mu.Lock()
	delay := time.Duration(float64(d) / c.velocity)
	c.mu.Unlock()
	if delay < 0 {
		delay = 0
	}
	return time.AfterFunc(delay, fn)
}
