// Package cache provides a mutex-guarded TTL cache with LRU eviction used
// for idempotency and prompt-level response deduplication.
package cache

import (
	"container/list"
	"sync"
	"time"
)

// Config holds the cache bounds.
type Config struct {
	TTL        time.Duration
	MaxEntries int
}

// DefaultConfig returns the standard cache bounds.
func DefaultConfig() Config {
	return Config{TTL: 60 * time.Second, MaxEntries: 512}
}

type entry struct {
	key      string
	value    any
	storedAt time.Time
}

// Cache maps keys to previously computed responses. Entries expire TTL after
// insertion and the least-recently-used entry is evicted past MaxEntries.
// A Get refreshes recency but not the insertion timestamp. Safe for
// concurrent use.
type Cache struct {
	mu sync.Mutex

	ttl        time.Duration
	maxEntries int

	// ll orders entries front=oldest-access to back=most-recently-used.
	ll    *list.List
	items map[string]*list.Element

	now func() time.Time
}

// New creates an empty cache.
func New(cfg Config) *Cache {
	return &Cache{
		ttl:        cfg.TTL,
		maxEntries: cfg.MaxEntries,
		ll:         list.New(),
		items:      make(map[string]*list.Element),
		now:        time.Now,
	}
}

// Get returns the live value for key, refreshing its recency. Expired entries
// are never returned; a stale hit is deleted and reported as a miss.
func (c *Cache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	c.purgeExpired(now)

	el, ok := c.items[key]
	if !ok {
		return nil, false
	}
	ent := el.Value.(*entry)
	// Recency reordering can leave an expired entry behind a fresh head, so
	// the head scan alone is not sufficient.
	if now.Sub(ent.storedAt) > c.ttl {
		c.removeElement(el)
		return nil, false
	}
	c.ll.MoveToBack(el)
	return ent.value, true
}

// Set stores value under key, replacing any existing entry, then evicts from
// the least-recently-used end until the capacity bound holds.
func (c *Cache) Set(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	c.purgeExpired(now)

	if el, ok := c.items[key]; ok {
		c.removeElement(el)
	}
	c.items[key] = c.ll.PushBack(&entry{key: key, value: value, storedAt: now})

	for c.ll.Len() > c.maxEntries {
		c.removeElement(c.ll.Front())
	}
}

// Len returns the number of live entries (expired-but-unpurged entries at
// the tail side are counted until the next access).
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}

// Flush removes all entries. Used by the admin API.
func (c *Cache) Flush() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ll.Init()
	clear(c.items)
}

// purgeExpired removes expired entries scanning from the access-order head,
// stopping at the first live entry. Entries are approximately in insertion
// order, so this is cheap on every access. Must be called with c.mu held.
func (c *Cache) purgeExpired(now time.Time) {
	for {
		el := c.ll.Front()
		if el == nil {
			return
		}
		if now.Sub(el.Value.(*entry).storedAt) <= c.ttl {
			return
		}
		c.removeElement(el)
	}
}

// removeElement unlinks an entry from both the list and the index.
// Must be called with c.mu held.
func (c *Cache) removeElement(el *list.Element) {
	c.ll.Remove(el)
	delete(c.items, el.Value.(*entry).key)
}
