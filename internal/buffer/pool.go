// Package buffer provides scratch-buffer pooling for the accelerator shim,
// grounded on the teacher's BytePool bucketed sync.Pool design.
package buffer

import (
	"sync"
)

// BytePool pools byte slices in fixed-size buckets to reduce GC pressure
// from short-lived accelerator scratch buffers.
type BytePool struct {
	pools map[int]*sync.Pool
	sizes []int
	mu    sync.RWMutex
}

// NewBytePool creates a BytePool with predefined size buckets sized for
// accelerator operand vectors rather than object-storage payloads.
func NewBytePool() *BytePool {
	sizes := []int{
		64,
		256,
		1024,
		4096,
		16384,
		65536,
		262144,
		1048576,
	}

	pools := make(map[int]*sync.Pool)
	for _, size := range sizes {
		size := size
		pools[size] = &sync.Pool{
			New: func() interface{} {
				return make([]byte, size)
			},
		}
	}

	return &BytePool{
		pools: pools,
		sizes: sizes,
	}
}

// Get retrieves a byte slice of exactly the requested length, backed by
// the smallest bucket that can hold it.
func (p *BytePool) Get(size int) []byte {
	p.mu.RLock()
	defer p.mu.RUnlock()

	for _, bucketSize := range p.sizes {
		if bucketSize >= size {
			if pool, exists := p.pools[bucketSize]; exists {
				buf := pool.Get().([]byte)
				return buf[:size]
			}
		}
	}

	return make([]byte, size)
}

// Put returns buf to the pool matching its capacity for reuse.
func (p *BytePool) Put(buf []byte) {
	if buf == nil {
		return
	}

	capacity := cap(buf)

	p.mu.RLock()
	defer p.mu.RUnlock()

	if pool, exists := p.pools[capacity]; exists {
		buf = buf[:capacity]
		for i := range buf {
			buf[i] = 0
		}
		// nolint:staticcheck // SA6002: sync.Pool.Put requires interface{}, slice allocation is expected
		pool.Put(buf)
	}
}

// PoolStats reports the pool's configured buckets.
type PoolStats struct {
	PoolSizes     []int `json:"pool_sizes"`
	TotalPools    int   `json:"total_pools"`
	MaxBufferSize int   `json:"max_buffer_size"`
	MinBufferSize int   `json:"min_buffer_size"`
}

// Stats returns current pool statistics.
func (p *BytePool) Stats() PoolStats {
	p.mu.RLock()
	defer p.mu.RUnlock()

	stats := PoolStats{
		PoolSizes:  make([]int, len(p.sizes)),
		TotalPools: len(p.pools),
	}

	copy(stats.PoolSizes, p.sizes)

	if len(p.sizes) > 0 {
		stats.MinBufferSize = p.sizes[0]
		stats.MaxBufferSize = p.sizes[len(p.sizes)-1]
	}

	return stats
}
