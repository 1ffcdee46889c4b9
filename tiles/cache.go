package tiles

import (
	"sync"

	"github.com/DmitriyVTitov/size"
	"github.com/golang/groupcache/lru"

	"github.com/geogenius/rda/rda"
)

// DefaultCacheEntries is the number of decoded tiles kept per process.
const DefaultCacheEntries = 128

// CacheStats summarizes tile cache activity.
type CacheStats struct {
	Entries int
	Hits    uint64
	Misses  uint64
	Bytes   int
}

// tileCache is a bounded LRU of decoded tiles keyed by URL.  Only successful
// fetches are ever added.
type tileCache struct {
	mu     sync.Mutex
	lru    *lru.Cache
	hits   uint64
	misses uint64
	bytes  int
}

func newTileCache(entries int) *tileCache {
	if entries <= 0 {
		entries = DefaultCacheEntries
	}
	c := &tileCache{lru: lru.New(entries)}
	c.lru.OnEvicted = func(key lru.Key, value interface{}) {
		c.bytes -= size.Of(value)
	}
	return c
}

func (c *tileCache) get(url string) (*rda.Array, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, found := c.lru.Get(url)
	if !found {
		c.misses++
		return nil, false
	}
	c.hits++
	return v.(*rda.Array), true
}

func (c *tileCache) add(url string, a *rda.Array) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, found := c.lru.Get(url); found {
		return
	}
	c.bytes += size.Of(a)
	c.lru.Add(url, a)
}

func (c *tileCache) remove(url string) {
	c.mu.Lock()
	c.lru.Remove(url)
	c.mu.Unlock()
}

func (c *tileCache) clear() {
	c.mu.Lock()
	c.lru.Clear()
	c.bytes = 0
	c.mu.Unlock()
}

func (c *tileCache) stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return CacheStats{Entries: c.lru.Len(), Hits: c.hits, Misses: c.misses, Bytes: c.bytes}
}
