package retrieval

import (
	"container/list"
	"sync"
	"time"
)

// cacheEntry is a single cached retrieval result.
type cacheEntry struct {
	key        string
	value      *Result
	insertedAt time.Time
}

// Cache is the result cache: LRU with a per-entry TTL.
//
// All operations share one mutex. Cache operations are memory-only and fast,
// so correctness wins over read concurrency here; the lock must never be
// held across I/O.
type Cache struct {
	mu       sync.Mutex
	entries  map[string]*list.Element
	order    *list.List // front = most recently used
	capacity int
	ttl      time.Duration
	enabled  bool
	metrics  *Metrics

	// now is swappable for TTL tests.
	now func() time.Time
}

// NewCache creates a cache with the given capacity and TTL.
//
// enabled=false yields a transparent no-op cache: Get always misses and Put
// does nothing, so callers never special-case the flag.
func NewCache(capacity int, ttl time.Duration, enabled bool) *Cache {
	return &Cache{
		entries:  make(map[string]*list.Element),
		order:    list.New(),
		capacity: capacity,
		ttl:      ttl,
		enabled:  enabled,
		now:      time.Now,
	}
}

// SetMetrics attaches optional metrics tracking.
func (c *Cache) SetMetrics(m *Metrics) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.metrics = m
}

// Get returns the cached result for key, refreshing its recency.
// An entry older than the TTL is evicted lazily and reported as a miss.
func (c *Cache) Get(key string) (*Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.enabled {
		return nil, false
	}

	elem, ok := c.entries[key]
	if !ok {
		c.recordMiss()
		return nil, false
	}

	entry := elem.Value.(*cacheEntry)
	if c.now().Sub(entry.insertedAt) > c.ttl {
		c.order.Remove(elem)
		delete(c.entries, key)
		c.recordMiss()
		return nil, false
	}

	c.order.MoveToFront(elem)
	c.recordHit()
	return entry.value, true
}

// Put stores a result under key.
//
// An existing key is overwritten and refreshed. At capacity, exactly the
// least recently used entry is evicted first.
func (c *Cache) Put(key string, value *Result) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.enabled {
		return
	}

	if elem, ok := c.entries[key]; ok {
		entry := elem.Value.(*cacheEntry)
		entry.value = value
		entry.insertedAt = c.now()
		c.order.MoveToFront(elem)
		return
	}

	if c.order.Len() >= c.capacity {
		oldest := c.order.Back()
		if oldest != nil {
			c.order.Remove(oldest)
			delete(c.entries, oldest.Value.(*cacheEntry).key)
		}
	}

	elem := c.order.PushFront(&cacheEntry{
		key:        key,
		value:      value,
		insertedAt: c.now(),
	})
	c.entries[key] = elem

	if c.metrics != nil {
		c.metrics.CacheSize.Set(float64(c.order.Len()))
	}
}

// Len returns the number of live entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

func (c *Cache) recordHit() {
	if c.metrics != nil {
		c.metrics.CacheHitsTotal.Inc()
		c.metrics.CacheSize.Set(float64(c.order.Len()))
	}
}

func (c *Cache) recordMiss() {
	if c.metrics != nil {
		c.metrics.CacheMissesTotal.Inc()
		c.metrics.CacheSize.Set(float64(c.order.Len()))
	}
}
