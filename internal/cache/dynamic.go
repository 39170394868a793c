package cache

import (
	"container/list"
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kernelfabric/fabric/pkg/logging"
	"github.com/kernelfabric/fabric/pkg/types"
)

// EvictionFunc is called, under the cache's lock, for every entry a Put,
// cleanup pass, or Resize evicts.
type EvictionFunc func(key string, value []byte)

var cacheIDSeq atomic.Uint64

// entry is one cached value and its LRU/TTL bookkeeping.
type entry struct {
	key        string
	value      []byte
	size       int64
	expiresAt  time.Time // zero means no TTL
	insertedAt time.Time
	element    *list.Element
}

func (e *entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// DynamicConfig configures a DynamicCache.
type DynamicConfig struct {
	InitialSize     int64
	MinSize         int64
	MaxSize         int64
	CleanupInterval time.Duration
	AutoResize      bool
}

// DefaultDynamicConfig returns the configuration the fabric starts a
// dynamic cache with.
func DefaultDynamicConfig() DynamicConfig {
	return DynamicConfig{
		InitialSize:     64 * 1024 * 1024,
		MinSize:         8 * 1024 * 1024,
		MaxSize:         512 * 1024 * 1024,
		CleanupInterval: 10 * time.Second,
		AutoResize:      false,
	}
}

// DynamicCache is a key→value store with LRU eviction, optional per-entry
// TTL, background housekeeping, and the resize/sync/migrate operations a
// kernel's cache tier exposes beyond the minimal types.Cache contract.
type DynamicCache struct {
	id     uint64
	mu     sync.RWMutex
	logger *logging.Logger

	allocatedSize int64
	currentSize   int64
	items         map[string]*entry
	lru           *list.List // front = most recently used

	minSize    int64
	maxSize    int64
	autoResize bool

	cleanupInterval time.Duration
	onEvict         EvictionFunc

	stats types.CacheStats

	// windowed hit rate, sampled once per cleanup interval
	windowHits   uint64
	windowMisses uint64
	highHitRuns  int

	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a DynamicCache and starts its background housekeeping loop.
func New(config DynamicConfig, logger *logging.Logger) *DynamicCache {
	if logger == nil {
		logger, _ = logging.New(logging.DefaultConfig())
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = DefaultDynamicConfig().CleanupInterval
	}

	c := &DynamicCache{
		id:              cacheIDSeq.Add(1),
		logger:          logger.WithComponent("cache.dynamic"),
		allocatedSize:   config.InitialSize,
		items:           make(map[string]*entry),
		lru:             list.New(),
		minSize:         config.MinSize,
		maxSize:         config.MaxSize,
		autoResize:      config.AutoResize,
		cleanupInterval: config.CleanupInterval,
		stats:           types.CacheStats{Capacity: config.InitialSize},
		done:            make(chan struct{}),
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	go c.housekeep(ctx)

	return c
}

// ID identifies this cache for sync/migrate's globally-fixed lock ordering.
func (c *DynamicCache) ID() uint64 { return c.id }

// Get returns a copy of the value stored under key, advancing its LRU
// recency. An expired entry is treated as absent and removed.
func (c *DynamicCache) Get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.items[key]
	if !ok {
		c.stats.Misses++
		c.windowMisses++
		c.updateHitRate()
		return nil, false
	}
	if e.expired(time.Now()) {
		c.removeEntry(e)
		c.stats.Misses++
		c.windowMisses++
		c.updateHitRate()
		return nil, false
	}

	c.lru.MoveToFront(e.element)
	c.stats.Hits++
	c.windowHits++
	c.updateHitRate()

	out := make([]byte, len(e.value))
	copy(out, e.value)
	return out, true
}

// Put stores value under key with no expiration.
func (c *DynamicCache) Put(key string, value []byte) {
	c.PutTTL(key, value, 0)
}

// PutTTL stores value under key, expiring after ttl (0 means no expiry).
// If size exceeds allocatedSize after insertion, the LRU tail is evicted,
// firing the eviction callback for each victim, until size fits.
func (c *DynamicCache) PutTTL(key string, value []byte, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = now.Add(ttl)
	}

	size := int64(len(value))
	stored := make([]byte, len(value))
	copy(stored, value)

	if e, exists := c.items[key]; exists {
		c.currentSize += size - e.size
		e.value = stored
		e.size = size
		e.expiresAt = expiresAt
		c.lru.MoveToFront(e.element)
	} else {
		e := &entry{key: key, value: stored, size: size, expiresAt: expiresAt, insertedAt: now}
		e.element = c.lru.PushFront(e)
		c.items[key] = e
		c.currentSize += size
	}

	c.evictToFit()
}

// Remove deletes key, if present, firing the eviction callback.
func (c *DynamicCache) Remove(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, exists := c.items[key]; exists {
		c.removeEntry(e)
	}
}

// Clear empties the cache without firing the eviction callback — callers
// that need eviction semantics on shutdown should Remove individually.
func (c *DynamicCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[string]*entry)
	c.lru.Init()
	c.currentSize = 0
}

// Size returns the current total size in bytes of all stored values.
func (c *DynamicCache) Size() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.currentSize
}

// Stats returns a snapshot of the cache's running counters.
func (c *DynamicCache) Stats() types.CacheStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	stats := c.stats
	stats.Size = c.currentSize
	stats.Capacity = c.allocatedSize
	return stats
}

// Resize changes allocatedSize, forcing immediate LRU eviction down to n
// when n is smaller than the current size.
func (c *DynamicCache) Resize(n int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.allocatedSize = n
	c.evictToFit()
}

// SetAutoResize enables or disables the background housekeeping loop's
// hit-rate-driven resize between [min, max].
func (c *DynamicCache) SetAutoResize(enable bool, min, max int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.autoResize = enable
	c.minSize = min
	c.maxSize = max
}

// SetEvictionCallback registers fn to be called, under the cache's lock,
// for every entry evicted from this point on.
func (c *DynamicCache) SetEvictionCallback(fn EvictionFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onEvict = fn
}

// BatchPut inserts every key/value pair in values with the same ttl,
// amortizing lock acquisition across the whole batch.
func (c *DynamicCache) BatchPut(values map[string][]byte, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = now.Add(ttl)
	}

	for key, value := range values {
		size := int64(len(value))
		stored := make([]byte, len(value))
		copy(stored, value)

		if e, exists := c.items[key]; exists {
			c.currentSize += size - e.size
			e.value = stored
			e.size = size
			e.expiresAt = expiresAt
			c.lru.MoveToFront(e.element)
		} else {
			e := &entry{key: key, value: stored, size: size, expiresAt: expiresAt, insertedAt: now}
			e.element = c.lru.PushFront(e)
			c.items[key] = e
			c.currentSize += size
		}
	}

	c.evictToFit()
}

// SyncWith copies every live entry from other into c, overwriting on
// conflict. Locks are acquired on both caches in ascending ID order to
// prevent deadlock against a concurrent reverse sync.
func (c *DynamicCache) SyncWith(other *DynamicCache) {
	first, second := c, other
	if other.id < c.id {
		first, second = other, c
	}
	first.mu.Lock()
	defer first.mu.Unlock()
	if second != first {
		second.mu.Lock()
		defer second.mu.Unlock()
	}

	now := time.Now()
	for key, e := range other.items {
		if e.expired(now) {
			continue
		}
		c.putLocked(key, e.value, e.expiresAt)
	}
}

// MigrateTo copies every live entry of c into other (other.SyncWith(c))
// and then clears c.
func (c *DynamicCache) MigrateTo(other *DynamicCache) {
	other.SyncWith(c)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]*entry)
	c.lru.Init()
	c.currentSize = 0
}

// putLocked inserts into c assuming c.mu is already held by the caller
// (used by SyncWith, which locks both caches itself).
func (c *DynamicCache) putLocked(key string, value []byte, expiresAt time.Time) {
	size := int64(len(value))
	stored := make([]byte, len(value))
	copy(stored, value)

	if e, exists := c.items[key]; exists {
		c.currentSize += size - e.size
		e.value = stored
		e.size = size
		e.expiresAt = expiresAt
		c.lru.MoveToFront(e.element)
		return
	}

	e := &entry{key: key, value: stored, size: size, expiresAt: expiresAt, insertedAt: time.Now()}
	e.element = c.lru.PushFront(e)
	c.items[key] = e
	c.currentSize += size
	c.evictToFit()
}

// evictToFit must be called with c.mu held. It evicts from the LRU tail
// until currentSize fits within allocatedSize.
func (c *DynamicCache) evictToFit() {
	for c.currentSize > c.allocatedSize {
		back := c.lru.Back()
		if back == nil {
			return
		}
		c.removeEntry(back.Value.(*entry))
	}
}

// removeEntry must be called with c.mu held.
func (c *DynamicCache) removeEntry(e *entry) {
	c.lru.Remove(e.element)
	delete(c.items, e.key)
	c.currentSize -= e.size
	c.stats.Evictions++

	if c.onEvict != nil {
		c.onEvict(e.key, e.value)
	}
}

func (c *DynamicCache) updateHitRate() {
	total := c.stats.Hits + c.stats.Misses
	if total > 0 {
		c.stats.HitRate = float64(c.stats.Hits) / float64(total)
	}
}

// Close stops the background housekeeping loop.
func (c *DynamicCache) Close() {
	c.cancel()
	<-c.done
}

func (c *DynamicCache) housekeep(ctx context.Context) {
	defer close(c.done)

	ticker := time.NewTicker(c.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.sweep()
		}
	}
}

// sweep removes expired entries and, if auto-resize is enabled, adjusts
// allocatedSize based on the hit rate observed over the interval just
// elapsed.
func (c *DynamicCache) sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	var expired []*entry
	for _, e := range c.items {
		if e.expired(now) {
			expired = append(expired, e)
		}
	}
	for _, e := range expired {
		c.removeEntry(e)
	}

	if !c.autoResize {
		c.windowHits, c.windowMisses = 0, 0
		return
	}

	hits, total := c.windowHits, c.windowHits+c.windowMisses
	c.windowHits, c.windowMisses = 0, 0
	if total == 0 {
		return
	}
	hitRate := float64(hits) / float64(total)

	switch {
	case hitRate > 0.95:
		c.highHitRuns++
		if c.highHitRuns >= 2 {
			target := c.allocatedSize / 2
			if target < c.minSize {
				target = c.minSize
			}
			c.allocatedSize = target
			c.evictToFit()
			c.highHitRuns = 0
		}
	case hitRate < 0.80:
		c.highHitRuns = 0
		target := int64(float64(c.allocatedSize) * 1.2)
		if target > c.maxSize {
			target = c.maxSize
		}
		c.allocatedSize = target
	default:
		c.highHitRuns = 0
	}
}

// Keys returns a snapshot of all currently cached keys, sorted for
// deterministic iteration in callers (diagnostics, tests).
func (c *DynamicCache) Keys() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	keys := make([]string, 0, len(c.items))
	for k := range c.items {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

var _ types.Cache = (*DynamicCache)(nil)
