package probe

import (
	"context"
	"sync"
	"time"
)

// CachedCheck is a boolean probe that is rechecked at most once per Cooldown
type CachedCheck struct {
	Check    func(ctx context.Context) bool
	Cooldown time.Duration

	mu      sync.Mutex
	now     func() time.Time
	checked time.Time
	value   bool
	valid   bool
}

// NewCachedCheck creates a check with the given cooldown
func NewCachedCheck(cooldown time.Duration, check func(ctx context.Context) bool) *CachedCheck {
	return &CachedCheck{Check: check, Cooldown: cooldown, now: time.Now}
}

// Get returns the cached value, rechecking once the cooldown has passed
func (c *CachedCheck) Get(ctx context.Context) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.now == nil {
		c.now = time.Now
	}
	now := c.now()
	if c.valid && now.Sub(c.checked) < c.Cooldown {
		return c.value
	}
	c.value = c.Check(ctx)
	c.checked = now
	c.valid = true
	return c.value
}

// Invalidate forces the next Get to recheck
func (c *CachedCheck) Invalidate() {
	c.mu.Lock()
	c.valid = false
	c.mu.Unlock()
}
