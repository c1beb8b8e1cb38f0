// Package pool provides generic, high-performance object pooling used
// throughout the run-coordination core to bound GC pressure under
// high-throughput runs. It wraps sync.Pool with typed Get/Put and basic
// hit/miss statistics.
package pool

import (
	"sync"
	"sync/atomic"
)

// Pool is a generic, statistics-tracking wrapper around sync.Pool.
type Pool[T any] struct {
	pool  sync.Pool
	reset func(T)
	stats struct {
		allocated int64
		inUse     int64
		hits      int64
	}
}

// New creates a typed pool. reset, if non-nil, is called on every Put.
func New[T any](newFn func() T, reset func(T)) *Pool[T] {
	p := &Pool[T]{reset: reset}
	p.pool.New = func() interface{} {
		atomic.AddInt64(&p.stats.allocated, 1)
		return newFn()
	}
	return p
}

// Get retrieves an object from the pool, allocating one if empty.
func (p *Pool[T]) Get() T {
	atomic.AddInt64(&p.stats.inUse, 1)
	atomic.AddInt64(&p.stats.hits, 1)
	return p.pool.Get().(T)
}

// Put resets (if configured) and returns obj to the pool.
func (p *Pool[T]) Put(obj T) {
	if p.reset != nil {
		p.reset(obj)
	}
	atomic.AddInt64(&p.stats.inUse, -1)
	p.pool.Put(obj)
}

// Stats reports allocation and usage counters for monitoring.
func (p *Pool[T]) Stats() (allocated, inUse, hits int64) {
	return atomic.LoadInt64(&p.stats.allocated),
		atomic.LoadInt64(&p.stats.inUse),
		atomic.LoadInt64(&p.stats.hits)
}

var (
	// MapPool pools plain map[string]interface{} values. Document fields do
	// not use it; they live in pkg/document's own Document pool.
	MapPool = New(
		func() map[string]interface{} { return make(map[string]interface{}, 16) },
		func(m map[string]interface{}) {
			for k := range m {
				delete(m, k)
			}
		},
	)

	// GlobalBufferPool is the size-bucketed byte-buffer pool shared by the
	// jsonfile, s3 and gcs connectors' line scanners and pkg/json's
	// MarshalLines.
	GlobalBufferPool = NewBufferPool()

	idCounter uint64
)

// GetMap retrieves an empty map from the global pool.
func GetMap() map[string]interface{} { return MapPool.Get() }

// PutMap returns m to the global pool.
func PutMap(m map[string]interface{}) {
	if m != nil {
		MapPool.Put(m)
	}
}

// GenerateID returns a unique "prefix-N" identifier using an atomic counter.
func GenerateID(prefix string) string {
	id := atomic.AddUint64(&idCounter, 1)
	buf := make([]byte, 0, len(prefix)+12)
	buf = append(buf, prefix...)
	buf = append(buf, '-')
	buf = appendUint64(buf, id)
	return string(buf)
}

func appendUint64(buf []byte, n uint64) []byte {
	if n == 0 {
		return append(buf, '0')
	}
	start := len(buf)
	digits := 0
	for temp := n; temp > 0; temp /= 10 {
		digits++
	}
	buf = buf[:start+digits]
	for i := digits - 1; i >= 0; i-- {
		buf[start+i] = byte('0' + n%10)
		n /= 10
	}
	return buf
}

// BufferPool manages byte-buffer pooling with size-based buckets, from
// 512B up to 16MB; larger requests bypass the pool.
type BufferPool struct {
	pools []*Pool[[]byte]
	sizes []int
}

// NewBufferPool builds a BufferPool with the standard power-of-2 buckets.
func NewBufferPool() *BufferPool {
	sizes := []int{512, 1024, 4096, 16384, 65536, 262144, 1048576, 4194304, 16777216}
	pools := make([]*Pool[[]byte], len(sizes))
	for i, size := range sizes {
		size := size
		pools[i] = New(
			func() []byte { return make([]byte, size) },
			func(b []byte) {},
		)
	}
	return &BufferPool{pools: pools, sizes: sizes}
}

// Get returns a buffer of at least size bytes, length set to size.
func (p *BufferPool) Get(size int) []byte {
	for i, s := range p.sizes {
		if s >= size {
			buf := p.pools[i].Get()
			return buf[:size]
		}
	}
	return make([]byte, size)
}

// Put returns buf to the bucket matching its capacity, if any.
func (p *BufferPool) Put(buf []byte) {
	size := cap(buf)
	for i, s := range p.sizes {
		if s == size {
			p.pools[i].Put(buf)
			return
		}
	}
}
