// Package miner runs the nonce search workers and decides what happens to
// every digest that meets the target.
package miner

import (
	"sync"
	"time"
)

// HashCounter accumulates trials from every worker between reports.
type HashCounter struct {
	mu sync.Mutex
	n  uint64
}

// Add records n completed trials.
func (c *HashCounter) Add(n uint64) {
	c.mu.Lock()
	c.n += n
	c.mu.Unlock()
}

// Drain returns the count and resets it in the same critical section, so an
// increment lands either in this report or the next one.
func (c *HashCounter) Drain() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := c.n
	c.n = 0
	return n
}

// AcceptClock remembers when the last block was accepted.
type AcceptClock struct {
	mu   sync.Mutex
	last time.Time
}

// NewAcceptClock starts the clock at process start.
func NewAcceptClock(start time.Time) *AcceptClock {
	return &AcceptClock{last: start}
}

// MarkAccepted sets the clock to now and returns the time since the
// previous acceptance.
func (c *AcceptClock) MarkAccepted(now time.Time) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	elapsed := now.Sub(c.last)
	c.last = now
	return elapsed
}

// Since returns the time from the last acceptance to now.
func (c *AcceptClock) Since(now time.Time) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return now.Sub(c.last)
}

// Last returns the time of the last acceptance, or the start time.
func (c *AcceptClock) Last() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}
