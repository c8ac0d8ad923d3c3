// Package bufpool recycles fixed-size byte buffers. The transport and the
// transfer manager stream chunk payloads through these buffers so memory
// use stays constant regardless of chunk size.
package bufpool

import "sync"

// Pool hands out buffers of exactly one size.
type Pool struct {
	size int
	pool sync.Pool
}

// New creates a pool of size-byte buffers. size must be positive.
func New(size int) *Pool {
	if size <= 0 {
		panic("bufpool: size must be positive")
	}
	p := &Pool{size: size}
	p.pool.New = func() any {
		buf := make([]byte, size)
		return &buf
	}
	return p
}

// Get returns a buffer of exactly Size bytes.
func (p *Pool) Get() []byte {
	return (*p.pool.Get().(*[]byte))[:p.size]
}

// Put returns buf for reuse. Buffers smaller than the pool size are dropped.
func (p *Pool) Put(buf []byte) {
	if cap(buf) < p.size {
		return
	}
	buf = buf[:cap(buf)]
	p.pool.Put(&buf)
}

// Size returns the buffer size this pool hands out.
func (p *Pool) Size() int { return p.size }
