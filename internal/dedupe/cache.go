// Package dedupe keeps a bounded set of recently loaded article ids so
// replayed ingest messages are not indexed twice.
package dedupe

import (
	"sync"
	"time"
)

type record struct {
	id string
	at time.Time
}

// Cache is a capacity- and TTL-bounded seen-set. Safe for concurrent use.
type Cache struct {
	mu       sync.Mutex
	seen     map[string]time.Time
	queue    []record
	capacity int
	ttl      time.Duration
}

// New creates a cache holding at most capacity ids for at most ttl.
func New(capacity int, ttl time.Duration) *Cache {
	if capacity <= 0 {
		capacity = 1
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Cache{
		seen:     make(map[string]time.Time, capacity),
		queue:    make([]record, 0, capacity),
		capacity: capacity,
		ttl:      ttl,
	}
}

// Contains reports whether the id was added within the TTL window. It does
// not record the id; call Add once the document is safely indexed, so a
// failed index attempt can be retried.
func (c *Cache) Contains(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	at, ok := c.seen[id]
	return ok && time.Since(at) <= c.ttl
}

// Add records an id, evicting expired and over-capacity entries.
func (c *Cache) Add(id string) {
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	c.seen[id] = now
	c.queue = append(c.queue, record{id: id, at: now})
	c.evict(now)
}

func (c *Cache) evict(now time.Time) {
	cutoff := now.Add(-c.ttl)

	for len(c.queue) > 0 {
		head := c.queue[0]
		if len(c.seen) <= c.capacity && !head.at.Before(cutoff) {
			return
		}
		c.queue = c.queue[1:]

		// A re-added id has a newer timestamp in the map; only drop the
		// map entry when this queue record is still the current one.
		if at, ok := c.seen[head.id]; ok && at.Equal(head.at) {
			delete(c.seen, head.id)
		}
	}
}
