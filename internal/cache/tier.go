package cache

import (
	"time"

	"github.com/kernelfabric/fabric/pkg/types"
)

// TieredCache layers a small hot DynamicCache in front of a larger warm
// one. A Get miss on hot falls through to warm and, on a warm hit,
// promotes the value back into hot. This is additive to DynamicCache's
// contract — TieredCache is itself a types.Cache, but callers that need
// Resize/SyncWith/etc. operate on the two tiers directly.
type TieredCache struct {
	hot  *DynamicCache
	warm *DynamicCache
}

// NewTieredCache wraps hot and warm into a single two-tier cache.
func NewTieredCache(hot, warm *DynamicCache) *TieredCache {
	return &TieredCache{hot: hot, warm: warm}
}

// Hot returns the hot tier, for callers that need tier-specific operations.
func (t *TieredCache) Hot() *DynamicCache { return t.hot }

// Warm returns the warm tier.
func (t *TieredCache) Warm() *DynamicCache { return t.warm }

// Get checks hot first; a warm hit is promoted into hot before returning.
func (t *TieredCache) Get(key string) ([]byte, bool) {
	if v, ok := t.hot.Get(key); ok {
		return v, true
	}
	v, ok := t.warm.Get(key)
	if ok {
		t.hot.Put(key, v)
	}
	return v, ok
}

// Put writes through to both tiers.
func (t *TieredCache) Put(key string, value []byte) {
	t.hot.Put(key, value)
	t.warm.Put(key, value)
}

// PutTTL writes through to both tiers with the same expiry.
func (t *TieredCache) PutTTL(key string, value []byte, ttl time.Duration) {
	t.hot.PutTTL(key, value, ttl)
	t.warm.PutTTL(key, value, ttl)
}

// Remove deletes key from both tiers.
func (t *TieredCache) Remove(key string) {
	t.hot.Remove(key)
	t.warm.Remove(key)
}

// Clear empties both tiers.
func (t *TieredCache) Clear() {
	t.hot.Clear()
	t.warm.Clear()
}

// Size returns the warm tier's size, since hot is a strict subset of its
// live keys.
func (t *TieredCache) Size() int64 { return t.warm.Size() }

// Stats returns the warm tier's stats, since types.Cache.Stats has no room
// for a second tier; callers wanting hot-tier detail call Hot().Stats().
func (t *TieredCache) Stats() types.CacheStats {
	return t.warm.Stats()
}

var _ types.Cache = (*TieredCache)(nil)
