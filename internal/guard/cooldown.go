package guard

import (
	"sync"
	"time"
)

// Cooldown gates XP grants per member. Grants are remembered in memory as
// well, so a grant whose write is still queued already counts.
type Cooldown struct {
	mu     sync.Mutex
	grants map[Key]time.Time
}

func NewCooldown() *Cooldown {
	return &Cooldown{grants: make(map[Key]time.Time)}
}

// TryAcquire checks the cooldown against the persisted last grant and any
// grant still remembered here, and when a grant at now is allowed records it
// before returning. Reaching the cooldown exactly counts as allowed. Two
// callers racing for the same member cannot both succeed.
func (c *Cooldown) TryAcquire(k Key, persisted, now time.Time, cooldown time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	last := persisted
	if t, ok := c.grants[k]; ok && t.After(last) {
		last = t
	}
	if !Elapsed(last, now, cooldown) {
		return false
	}
	c.grants[k] = now
	return true
}

// Release undoes the grant TryAcquire recorded at at, if no later grant
// replaced it. Used when the grant could not be written.
func (c *Cooldown) Release(k Key, at time.Time) {
	c.mu.Lock()
	if t, ok := c.grants[k]; ok && t.Equal(at) {
		delete(c.grants, k)
	}
	c.mu.Unlock()
}

// Forget drops remembered grants older than before.
func (c *Cooldown) Forget(before time.Time) {
	c.mu.Lock()
	for k, t := range c.grants {
		if t.Before(before) {
			delete(c.grants, k)
		}
	}
	c.mu.Unlock()
}

// Elapsed reports whether at least d has passed since last. A zero last
// means there was no previous event.
func Elapsed(last, now time.Time, d time.Duration) bool {
	return last.IsZero() || now.Sub(last) >= d
}
