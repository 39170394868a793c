package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestCache() *DynamicCache {
	cfg := DefaultDynamicConfig()
	cfg.InitialSize = 64
	cfg.CleanupInterval = time.Hour
	return New(cfg, nil)
}

func TestPutThenGet(t *testing.T) {
	c := newTestCache()
	defer c.Close()

	c.Put("a", []byte("hello"))
	v, ok := c.Get("a")
	require.True(t, ok)
	require.Equal(t, []byte("hello"), v)
}

func TestGetMissing(t *testing.T) {
	c := newTestCache()
	defer c.Close()

	_, ok := c.Get("missing")
	require.False(t, ok)
}

func TestPutTTLExpires(t *testing.T) {
	c := newTestCache()
	defer c.Close()

	c.PutTTL("a", []byte("x"), time.Millisecond)
	time.Sleep(5 * time.Millisecond)

	_, ok := c.Get("a")
	require.False(t, ok)
}

func TestPutEvictsLRUTailWhenOverCapacity(t *testing.T) {
	c := newTestCache()
	defer c.Close()

	var evicted []string
	c.SetEvictionCallback(func(key string, value []byte) { evicted = append(evicted, key) })

	c.Put("a", make([]byte, 32))
	c.Put("b", make([]byte, 32))
	c.Put("c", make([]byte, 32)) // forces eviction of "a"

	_, ok := c.Get("a")
	require.False(t, ok)
	require.Contains(t, evicted, "a")

	_, ok = c.Get("c")
	require.True(t, ok)
}

func TestGetMovesEntryToFront(t *testing.T) {
	c := newTestCache()
	defer c.Close()

	c.Put("a", make([]byte, 32))
	c.Put("b", make([]byte, 32))
	c.Get("a") // a is now most-recently-used

	c.Put("c", make([]byte, 32)) // should evict "b", not "a"

	_, ok := c.Get("a")
	require.True(t, ok)
	_, ok = c.Get("b")
	require.False(t, ok)
}

func TestResizeForcesEviction(t *testing.T) {
	c := newTestCache()
	defer c.Close()

	c.Put("a", make([]byte, 32))
	c.Put("b", make([]byte, 32))
	require.Equal(t, int64(64), c.Size())

	c.Resize(32)
	require.LessOrEqual(t, c.Size(), int64(32))
}

func TestRemoveFiresCallback(t *testing.T) {
	c := newTestCache()
	defer c.Close()

	var gotKey string
	c.SetEvictionCallback(func(key string, value []byte) { gotKey = key })

	c.Put("a", []byte("x"))
	c.Remove("a")
	require.Equal(t, "a", gotKey)
}

func TestBatchPut(t *testing.T) {
	c := newTestCache()
	defer c.Close()

	c.BatchPut(map[string][]byte{"a": []byte("1"), "b": []byte("2")}, 0)

	_, ok := c.Get("a")
	require.True(t, ok)
	_, ok = c.Get("b")
	require.True(t, ok)
}

func TestSyncWithCopiesLiveEntries(t *testing.T) {
	src := newTestCache()
	defer src.Close()
	dst := newTestCache()
	defer dst.Close()

	src.Put("a", []byte("1"))
	dst.SyncWith(src)

	v, ok := dst.Get("a")
	require.True(t, ok)
	require.Equal(t, []byte("1"), v)
}

func TestMigrateToClearsSource(t *testing.T) {
	src := newTestCache()
	defer src.Close()
	dst := newTestCache()
	defer dst.Close()

	src.Put("a", []byte("1"))
	src.MigrateTo(dst)

	_, ok := dst.Get("a")
	require.True(t, ok)
	require.Equal(t, int64(0), src.Size())
}

func TestStatsTracksHitRate(t *testing.T) {
	c := newTestCache()
	defer c.Close()

	c.Put("a", []byte("1"))
	c.Get("a")
	c.Get("missing")

	stats := c.Stats()
	require.Equal(t, uint64(1), stats.Hits)
	require.Equal(t, uint64(1), stats.Misses)
	require.InDelta(t, 0.5, stats.HitRate, 0.001)
}

func TestSweepAutoResizeGrowsOnLowHitRate(t *testing.T) {
	cfg := DefaultDynamicConfig()
	cfg.InitialSize = 64
	cfg.MinSize = 16
	cfg.MaxSize = 256
	cfg.AutoResize = true
	cfg.CleanupInterval = time.Hour
	c := New(cfg, nil)
	defer c.Close()

	c.windowHits = 1
	c.windowMisses = 9 // 10% hit rate, below the 0.80 grow threshold

	c.sweep()
	require.Greater(t, c.allocatedSize, int64(64))
}

func TestTieredCachePromotesOnWarmHit(t *testing.T) {
	hot := newTestCache()
	defer hot.Close()
	warm := newTestCache()
	defer warm.Close()

	warm.Put("a", []byte("1"))
	tiered := NewTieredCache(hot, warm)

	v, ok := tiered.Get("a")
	require.True(t, ok)
	require.Equal(t, []byte("1"), v)

	hv, ok := hot.Get("a")
	require.True(t, ok)
	require.Equal(t, []byte("1"), hv)
}
