// Package logging has the cooldown gate used by warn paths that adversarial
// or misconfigured servers could flood.
package logging

import (
	"sync"
	"time"
)

// Cooldown allows one event per key per interval. Safe for concurrent use.
type Cooldown struct {
	mu       sync.Mutex
	last     map[string]time.Time
	interval time.Duration
	now      func() time.Time
}

func NewCooldown(interval time.Duration) *Cooldown {
	return &Cooldown{
		last:     make(map[string]time.Time),
		interval: interval,
		now:      time.Now,
	}
}

// Allow reports whether the caller may log for key now, and if so starts the
// key's cooldown.
func (c *Cooldown) Allow(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if last, ok := c.last[key]; ok && now.Sub(last) < c.interval {
		return false
	}
	c.last[key] = now
	return true
}
