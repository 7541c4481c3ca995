package udns

import "time"

type lruCache struct {
	maxItems   int
	items      map[string]*cacheItem
	head, tail *cacheItem
}

type cacheItem struct {
	key string
	*cacheEntry
	prev, next *cacheItem
}

type cacheEntry struct {
	records    []ResourceRecord
	insertTime time.Time // Time the records were cached. Needed to adjust TTL
	lastAccess time.Time
}

func newLRUCache(capacity int) *lruCache {
	head := new(cacheItem)
	tail := new(cacheItem)
	head.next = tail
	tail.prev = head

	return &lruCache{
		maxItems: capacity,
		items:    make(map[string]*cacheItem),
		head:     head,
		tail:     tail,
	}
}

func (c *lruCache) add(key string, entry *cacheEntry) {
	if item := c.touch(key); item != nil {
		item.cacheEntry = entry
		return
	}
	// Add new item to the top of the linked list
	item := &cacheItem{
		key:        key,
		cacheEntry: entry,
		next:       c.head.next,
		prev:       c.head,
	}
	c.head.next.prev = item
	c.head.next = item
	c.items[key] = item
	c.resize()
}

// Loads a cache item and puts it to the top of the linked list (most recent).
func (c *lruCache) touch(key string) *cacheItem {
	item := c.items[key]
	if item == nil {
		return nil
	}
	// move the item to the top of the linked list
	item.prev.next = item.next
	item.next.prev = item.prev
	item.next = c.head.next
	item.prev = c.head
	c.head.next.prev = item
	c.head.next = item
	return item
}

func (c *lruCache) delete(key string) {
	item := c.items[key]
	if item == nil {
		return
	}
	item.prev.next = item.next
	item.next.prev = item.prev
	delete(c.items, key)
}

func (c *lruCache) get(key string) *cacheEntry {
	if item := c.touch(key); item != nil {
		return item.cacheEntry
	}
	return nil
}

// Shrink the cache down to the maximum number of items by dropping from
// the least-recently used end.
func (c *lruCache) resize() {
	if c.maxItems <= 0 { // no size limit
		return
	}
	drop := len(c.items) - c.maxItems
	for i := 0; i < drop; i++ {
		item := c.tail.prev
		item.prev.next = c.tail
		c.tail.prev = item.prev
		delete(c.items, item.key)
	}
}

// Iterate over the cached entries and call the provided function. If it
// returns true, the item is deleted from the cache.
func (c *lruCache) deleteFunc(f func(*cacheEntry) bool) {
	item := c.head.next
	for item != c.tail {
		next := item.next
		if f(item.cacheEntry) {
			item.prev.next = item.next
			item.next.prev = item.prev
			delete(c.items, item.key)
		}
		item = next
	}
}

func (c *lruCache) reset() {
	c.head.next = c.tail
	c.tail.prev = c.head
	c.items = make(map[string]*cacheItem)
}

func (c *lruCache) size() int {
	return len(c.items)
}
