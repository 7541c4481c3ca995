package udns

import (
	"expvar"
	"strconv"
	"sync"
	"time"
)

// DefaultCacheSize is the number of entries a cache holds unless
// configured otherwise.
const DefaultCacheSize = 1000

// Cache is a fixed-capacity store of resolved records keyed by
// (domain, type). Reads return records with their TTL reduced by the
// time spent in the cache; entries whose records have all expired are
// purged lazily. When full, the least-recently used entry is evicted.
type Cache struct {
	maxSize int
	mu      sync.Mutex
	lru     *lruCache
	metrics *cacheMetrics

	// Clock used for TTL decisions, replaceable in tests.
	now func() time.Time
}

type cacheMetrics struct {
	// Current cache entry count.
	entries *expvar.Int
}

// NewCache returns a cache holding up to capacity entries. A capacity of
// 0 or less means DefaultCacheSize.
func NewCache(capacity int) *Cache {
	if capacity <= 0 {
		capacity = DefaultCacheSize
	}
	return &Cache{
		maxSize: capacity,
		lru:     newLRUCache(capacity),
		metrics: &cacheMetrics{
			entries: getVarInt("cache", "lru", "entries"),
		},
		now: time.Now,
	}
}

// cacheKey builds the cache key for a domain and record type.
func cacheKey(domain string, rtype RecordType) string {
	return domain + "_" + strconv.Itoa(int(rtype))
}

// Get returns the live records stored under key with their TTL adjusted
// for the time spent in the cache. If every record has expired, the
// entry is removed and Get reports a miss.
func (c *Cache) Get(key string) ([]ResourceRecord, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry := c.lru.get(key)
	if entry == nil {
		return nil, false
	}

	now := c.now()
	elapsed := uint32(now.Sub(entry.insertTime).Seconds())
	live := make([]ResourceRecord, 0, len(entry.records))
	for _, record := range entry.records {
		if now.Before(entry.insertTime.Add(time.Duration(record.TTL) * time.Second)) {
			if record.TTL > elapsed {
				record.TTL -= elapsed
			} else {
				record.TTL = 0
			}
			live = append(live, record)
		}
	}

	if len(live) == 0 {
		c.lru.delete(key)
		c.metrics.entries.Set(int64(c.lru.size()))
		return nil, false
	}

	entry.lastAccess = now
	return live, true
}

// Put stores records under key, replacing any previous entry. Storing an
// empty record set is a no-op.
func (c *Cache) Put(key string, records []ResourceRecord) {
	if len(records) == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	c.lru.add(key, &cacheEntry{
		records:    records,
		insertTime: now,
		lastAccess: now,
	})
	c.metrics.entries.Set(int64(c.lru.size()))
}

// EvictExpired sweeps the cache and drops every entry whose records have
// all expired.
func (c *Cache) EvictExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	c.lru.deleteFunc(func(entry *cacheEntry) bool {
		for _, record := range entry.records {
			if now.Before(entry.insertTime.Add(time.Duration(record.TTL) * time.Second)) {
				return false
			}
		}
		return true
	})
	c.metrics.entries.Set(int64(c.lru.size()))
}

// Clear resets the cache to empty.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.reset()
	c.metrics.entries.Set(0)
}

// Size returns the number of entries currently in the cache.
func (c *Cache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.size()
}
