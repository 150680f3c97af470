package notify

import (
	"sync"
	"time"
)

type Cooldown struct {
	mu   sync.Mutex
	last map[string]time.Time
}

func NewCooldown() *Cooldown {
	return &Cooldown{last: make(map[string]time.Time)}
}

// Blocked reports whether key fired less than cooldown before now.
func (c *Cooldown) Blocked(key string, now time.Time, cooldown time.Duration) bool {
	if cooldown <= 0 {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	ts, ok := c.last[key]
	return ok && now.Sub(ts) < cooldown
}

// AllowAt records now for key unless key is still cooling down.
func (c *Cooldown) AllowAt(key string, now time.Time, cooldown time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ts, ok := c.last[key]; ok && cooldown > 0 && now.Sub(ts) < cooldown {
		return false
	}
	c.last[key] = now
	return true
}

func (c *Cooldown) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.last = make(map[string]time.Time)
}
