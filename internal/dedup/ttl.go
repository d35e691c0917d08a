package dedup

import (
	"sync"
	"time"

	"github.com/quantfeed/flashcrawl/internal/flash"
)

// compactThreshold is the cache size above which a sweep runs. The rendering
// surface re-delivers in short bursts, so the map stays small in practice.
const compactThreshold = 5000

// TTLCache suppresses redundant storage writes when the rendering surface
// re-delivers the same text within a short window. It is a liveness guard
// only; the store's uniqueness constraint remains the system of record.
type TTLCache struct {
	mu     sync.Mutex
	seen   map[string]time.Time
	window time.Duration
	clock  flash.Clock
}

// NewTTLCache builds a cache with the given admission window.
func NewTTLCache(window time.Duration, clock flash.Clock) *TTLCache {
	return &TTLCache{
		seen:   make(map[string]time.Time),
		window: window,
		clock:  clock,
	}
}

// Admit reports whether text should proceed to persistence. A text seen
// within the window is rejected without refreshing its timestamp, so the
// existing window elapses on schedule regardless of re-delivery.
func (c *TTLCache) Admit(text string) bool {
	now := c.clock.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if last, ok := c.seen[text]; ok && now.Sub(last) < c.window {
		return false
	}
	c.seen[text] = now
	if len(c.seen) > compactThreshold {
		c.compact(now)
	}
	return true
}

// compact evicts entries older than three windows. Caller holds the lock.
func (c *TTLCache) compact(now time.Time) {
	for text, last := range c.seen {
		if now.Sub(last) > 3*c.window {
			delete(c.seen, text)
		}
	}
}

// Len reports the current cache size.
func (c *TTLCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.seen)
}
