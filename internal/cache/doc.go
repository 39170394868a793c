// Package cache implements the fabric's dynamic LRU+TTL cache: a
// key→value store backed by container/list for O(1) LRU bookkeeping, with
// per-entry TTL, a background housekeeping loop that expires entries and
// auto-resizes the cache between a configured min/max based on a windowed
// hit rate, and the sync/migrate operations two kernels use to hand off a
// cache's live contents. TieredCache composes two DynamicCache instances
// into a small hot tier in front of a larger warm one.
package cache
