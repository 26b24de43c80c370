package cache

import (
	"container/list"
	"sync"
	"time"
)

const (
	DefaultMaxEntries = 10
	DefaultTTL        = 600 * time.Second
)

// Cache is a bounded, insertion-ordered store of suggestions keyed by tab URL.
// Expiry is lazy: it runs at the start of every Get, Set and Entries call.
type Cache struct {
	mu         sync.Mutex
	order      *list.List
	index      map[string]*list.Element
	maxEntries int
	ttl        time.Duration
	now        func() time.Time
}

type Option func(*Cache)

// WithClock replaces time.Now as the cache's time source.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		c.now = now
	}
}

func New(maxEntries int, ttl time.Duration, opts ...Option) *Cache {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	c := &Cache{
		order:      list.New(),
		index:      make(map[string]*list.Element),
		maxEntries: maxEntries,
		ttl:        ttl,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the articles stored for key. An expired entry is a miss.
func (c *Cache) Get(key string) ([]Article, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.expire()
	el, ok := c.index[key]
	if !ok {
		return nil, false
	}
	return el.Value.(*entry).value, true
}

// Set inserts or replaces the entry for key with a fresh timestamp at the back
// of the insertion order.
func (c *Cache) Set(key string, value []Article) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.expire()
	c.remove(key)
	for c.order.Len() >= c.maxEntries {
		c.remove(c.order.Front().Value.(*entry).key)
	}
	c.index[key] = c.order.PushBack(&entry{key: key, value: value, insertedAt: c.now()})
}

// Remove drops the entry for key if there is one.
func (c *Cache) Remove(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.remove(key)
}

func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.expire()
	return c.order.Len()
}

// Entries lists live entries oldest first.
func (c *Cache) Entries() []EntryInfo {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.expire()
	now := c.now()
	out := make([]EntryInfo, 0, c.order.Len())
	for el := c.order.Front(); el != nil; el = el.Next() {
		e := el.Value.(*entry)
		out = append(out, EntryInfo{
			Key:        e.key,
			Articles:   len(e.value),
			InsertedAt: e.insertedAt,
			Age:        now.Sub(e.insertedAt),
		})
	}
	return out
}

func (c *Cache) MaxEntries() int { return c.maxEntries }

func (c *Cache) TTL() time.Duration { return c.ttl }

// expire removes every entry whose age has reached the TTL. The whole list is
// scanned since an injected clock may not be monotonic.
func (c *Cache) expire() {
	now := c.now()
	for el := c.order.Front(); el != nil; {
		next := el.Next()
		e := el.Value.(*entry)
		if now.Sub(e.insertedAt) >= c.ttl {
			c.order.Remove(el)
			delete(c.index, e.key)
		}
		el = next
	}
}

func (c *Cache) remove(key string) {
	if el, ok := c.index[key]; ok {
		c.order.Remove(el)
		delete(c.index, key)
	}
}
