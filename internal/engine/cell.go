package engine

import (
	"sync"
	"time"
)

// Cell holds the latest value from one producer together with its
// observation time.
type Cell[T any] struct {
	mu    sync.RWMutex
	value *T
	at    time.Time
}

func (c *Cell[T]) Set(v T, at time.Time) {
	c.mu.Lock()
	c.value = &v
	c.at = at
	c.mu.Unlock()
}

// Fresh returns the value unless it is missing or older than maxAge at now.
func (c *Cell[T]) Fresh(now time.Time, maxAge time.Duration) *T {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.value == nil {
		return nil
	}
	if maxAge > 0 && now.Sub(c.at) > maxAge {
		return nil
	}
	v := *c.value
	return &v
}

func (c *Cell[T]) Clear() {
	c.mu.Lock()
	c.value = nil
	c.at = time.Time{}
	c.mu.Unlock()
}
