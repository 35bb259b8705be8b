package bson

import "sync"

// PoolKey names the role of a pooled buffer. Buffers are only handed back out
// for the key they were released under.
type PoolKey int

const (
	// KeyOutputChunk holds the fixed-size chunks of an output Buffer.
	KeyOutputChunk PoolKey = iota
	// KeyDecodeBuffer holds the scratch area the Reader decodes strings and names into.
	KeyDecodeBuffer

	numPoolKeys
)

// MinBufferSize is the smallest buffer a Pool hands out.
const MinBufferSize = 2048

// Pool is a keyed registry of reusable byte buffers.
//
// A Pool belongs to one worker at a time and is not safe for concurrent use.
// A nil *Pool is valid and disables reuse: Acquire always allocates and
// Release drops the buffer.
type Pool struct {
	free [numPoolKeys][][]byte
}

// NewPool returns an empty Pool.
func NewPool() *Pool { return &Pool{} }

// AcquireBytes returns a buffer of at least minSize bytes (and at least
// MinBufferSize), reusing one released under key when it is large enough.
func (p *Pool) AcquireBytes(key PoolKey, minSize int) []byte {
	if minSize < MinBufferSize {
		minSize = MinBufferSize
	}
	if p != nil && key >= 0 && key < numPoolKeys {
		free := p.free[key]
		for i := len(free) - 1; i >= 0; i-- {
			if b := free[i]; cap(b) >= minSize {
				free[i] = free[len(free)-1]
				free[len(free)-1] = nil
				p.free[key] = free[:len(free)-1]
				return b[:cap(b)]
			}
		}
	}
	return make([]byte, minSize)
}

// ReleaseBytes makes b available to the next AcquireBytes with the same key.
// The caller must not touch b afterwards.
func (p *Pool) ReleaseBytes(key PoolKey, b []byte) {
	if p == nil || b == nil || key < 0 || key >= numPoolKeys {
		return
	}
	p.free[key] = append(p.free[key], b)
}

// Len returns the number of buffers currently available under key.
func (p *Pool) Len(key PoolKey) int {
	if p == nil || key < 0 || key >= numPoolKeys {
		return 0
	}
	return len(p.free[key])
}

// Reset drops every retained buffer.
func (p *Pool) Reset() {
	if p == nil {
		return
	}
	for i := range p.free {
		clear(p.free[i])
		p.free[i] = p.free[i][:0]
	}
}

// pools hands whole Pools to workers so that each goroutine owns one for the
// duration of an operation. The runtime may drop idle Pools at any time.
var pools = sync.Pool{
	New: func() any {
		return NewPool()
	},
}

// AcquirePool checks out a Pool for exclusive use by the calling worker.
func AcquirePool() *Pool {
	return pools.Get().(*Pool)
}

// ReleasePool returns p for use by another worker. The caller must not use p afterwards.
func ReleasePool(p *Pool) {
	if p != nil {
		pools.Put(p)
	}
}
