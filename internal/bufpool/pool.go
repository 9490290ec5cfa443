// Package bufpool provides a reference-counted byte buffer pool, the
// "allocator value threaded through the pipeline constructor" called
// for by spec.md's Design Notes §9 (replacing a global allocator
// singleton). Each pipeline component that needs wire-format buffers
// holds a *Pool handed to it at construction time; there is no package
// level default.
package bufpool

import "sync"

// Pool hands out byte slices of a fixed capacity and reclaims them via
// reference counting rather than GC alone, so the hot path (one
// allocation per packet) can reuse buffers across packets that have
// left the pipeline and been released by every stage that held them.
type Pool struct {
	cap int
	sp  sync.Pool
}

// New creates a pool that hands out buffers of at least capacity
// bytes. capacity should be the peer's maximum expected UDP datagram
// size (spec.md §6 puts this well under 1500 bytes for typical MTUs,
// but a pool is sized generously to also cover jumbo frames).
func New(capacity int) *Pool {
	p := &Pool{cap: capacity}
	p.sp.New = func() any {
		buf := make([]byte, capacity)
		return &buf
	}
	return p
}

// Buffer is a reference-counted handle to a pooled byte slice. A
// freshly-acquired Buffer has refcount 1; Retain bumps it, Release
// decrements it, and the underlying slice returns to the pool only
// once the count reaches zero. This matches spec.md §3's ownership
// rule: "packets and byte buffers are shared by reference counting;
// acquired by each stage that holds them in a queue and released on
// dequeue or stage destruction."
type Buffer struct {
	pool  *Pool
	bytes *[]byte
	// Len is the logical length in use; cap(*bytes) may be larger.
	Len int

	mu   sync.Mutex
	refs int
}

// Acquire returns a Buffer of exactly n bytes (len), backed by a
// pooled slice of at least n bytes capacity, at refcount 1.
func (p *Pool) Acquire(n int) *Buffer {
	v := p.sp.Get().(*[]byte)
	if cap(*v) < n {
		// Pooled buffer too small for this request (e.g. pool sized for
		// a smaller MTU than this datagram needs): allocate directly
		// rather than grow the pooled one, so the pool's steady-state
		// buffers stay a uniform size.
		fresh := make([]byte, n)
		return &Buffer{pool: p, bytes: &fresh, Len: n, refs: 1}
	}
	*v = (*v)[:n]
	return &Buffer{pool: p, bytes: v, Len: n, refs: 1}
}

// Bytes returns the buffer's backing slice, valid for reading/writing
// until the last reference is released.
func (b *Buffer) Bytes() []byte {
	return (*b.bytes)[:b.Len]
}

// Retain increments the reference count. Call this whenever a new
// stage begins to hold (e.g. enqueue) a Buffer it didn't itself
// acquire.
func (b *Buffer) Retain() {
	b.mu.Lock()
	b.refs++
	b.mu.Unlock()
}

// Release decrements the reference count, returning the backing slice
// to the pool once it reaches zero. Calling Release more times than
// the buffer was retained is a caller bug; it panics, since it signals
// a double-free that would otherwise corrupt a buffer still in use by
// another stage.
func (b *Buffer) Release() {
	b.mu.Lock()
	b.refs--
	remaining := b.refs
	b.mu.Unlock()

	switch {
	case remaining > 0:
		return
	case remaining == 0:
		if b.pool != nil {
			full := (*b.bytes)[:cap(*b.bytes)]
			b.pool.sp.Put(&full)
		}
	default:
		panic("bufpool: Buffer released more times than retained")
	}
}
