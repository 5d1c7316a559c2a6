package catalog

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/tidwall/btree"

	"github.com/quantfolio/valuation/pkg/metrics"
)

// ttlCache is a bounded in-memory cache with per-entry TTL. Entries expire at
// their deadline; when the cache is over capacity the entry closest to expiry
// is evicted first. Safe for concurrent use; callers never need external
// locking.
type ttlCache struct {
	name       string
	capacity   int
	defaultTTL time.Duration

	mu    sync.RWMutex
	items map[string]*cacheItem
	// expiry orders live entries by deadline for eviction and sweeping.
	expiry *btree.BTreeG[expiryRef]

	hits      int64
	misses    int64
	evictions int64

	stopSweep chan struct{}
	sweepOnce sync.Once
}

type cacheItem struct {
	value     interface{}
	expiresAt time.Time
}

type expiryRef struct {
	expiresAt time.Time
	key       string
}

func lessExpiry(a, b expiryRef) bool {
	if a.expiresAt.Equal(b.expiresAt) {
		return a.key < b.key
	}
	return a.expiresAt.Before(b.expiresAt)
}

func newTTLCache(name string, capacity int, defaultTTL time.Duration) *ttlCache {
	c := &ttlCache{
		name:       name,
		capacity:   capacity,
		defaultTTL: defaultTTL,
		items:      make(map[string]*cacheItem),
		expiry:     btree.NewBTreeG(lessExpiry),
		stopSweep:  make(chan struct{}),
	}
	go c.sweepLoop()
	return c
}

// Get returns the live value for key. Expired entries count as misses.
func (c *ttlCache) Get(key string) (interface{}, bool) {
	c.mu.RLock()
	item, ok := c.items[key]
	c.mu.RUnlock()

	if !ok || time.Now().After(item.expiresAt) {
		atomic.AddInt64(&c.misses, 1)
		metrics.CacheMisses.WithLabelValues(c.name).Inc()
		return nil, false
	}
	atomic.AddInt64(&c.hits, 1)
	metrics.CacheHits.WithLabelValues(c.name).Inc()
	return item.value, true
}

// Set stores value under key. A zero ttl uses the cache default. Nil values
// are rejected so an absent lookup can never become a false hit.
func (c *ttlCache) Set(key string, value interface{}, ttl time.Duration) {
	if value == nil {
		return
	}
	if ttl == 0 {
		ttl = c.defaultTTL
	}
	expiresAt := time.Now().Add(ttl)

	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.items[key]; ok {
		c.expiry.Delete(expiryRef{expiresAt: existing.expiresAt, key: key})
	}
	c.items[key] = &cacheItem{value: value, expiresAt: expiresAt}
	c.expiry.Set(expiryRef{expiresAt: expiresAt, key: key})

	for len(c.items) > c.capacity {
		ref, ok := c.expiry.PopMin()
		if !ok {
			break
		}
		delete(c.items, ref.key)
		atomic.AddInt64(&c.evictions, 1)
		metrics.CacheEvictions.WithLabelValues(c.name).Inc()
	}
}

// Delete removes key if present.
func (c *ttlCache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if item, ok := c.items[key]; ok {
		c.expiry.Delete(expiryRef{expiresAt: item.expiresAt, key: key})
		delete(c.items, key)
	}
}

// Purge drops every entry.
func (c *ttlCache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]*cacheItem)
	c.expiry = btree.NewBTreeG(lessExpiry)
}

// Len returns the number of stored entries, expired or not.
func (c *ttlCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Stats returns hit, miss and eviction counts.
func (c *ttlCache) Stats() (hits, misses, evictions int64) {
	return atomic.LoadInt64(&c.hits), atomic.LoadInt64(&c.misses), atomic.LoadInt64(&c.evictions)
}

// Stop terminates the background sweeper.
func (c *ttlCache) Stop() {
	c.sweepOnce.Do(func() { close(c.stopSweep) })
}

func (c *ttlCache) sweepLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.sweepExpired()
		case <-c.stopSweep:
			return
		}
	}
}

func (c *ttlCache) sweepExpired() {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	for {
		ref, ok := c.expiry.Min()
		if !ok || ref.expiresAt.After(now) {
			return
		}
		c.expiry.Delete(ref)
		delete(c.items, ref.key)
	}
}
