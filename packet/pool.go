package packet

import (
	"errors"
	"sync"
)

// DefaultBufferSize is the per-packet buffer capacity when none is configured.
const DefaultBufferSize = 65536

// ErrInvalidBufferSize is returned for non-positive buffer sizes.
var ErrInvalidBufferSize = errors.New("buffer size must be > 0")

type buffer struct {
	pool       *Pool
	data       []byte
	generation uint64
}

// PoolStats is a point-in-time view of pool usage.
type PoolStats struct {
	// Leased is the total number of buffers handed out.
	Leased int64
	// Outstanding is the number of buffers currently leased in this generation.
	Outstanding int64
	// Recycled is the number of buffers returned for reuse.
	Recycled int64
	// Detached is the number of buffers released by MakeSafe.
	Detached int64
	// Abandoned is the number of leased buffers orphaned by Reset.
	Abandoned int64
	// Generation is the current pool generation.
	Generation uint64
}

// Pool hands out fixed-size read buffers to workers.
//
// Buffers leased before a Reset belong to an old generation and are
// never recycled, so a packet that survives a pause can never observe
// its bytes being overwritten by a later read.
type Pool struct {
	size int

	mu         sync.Mutex
	free       [][]byte
	generation uint64
	stats      PoolStats
}

// NewPool creates a pool of buffers of the given size.
func NewPool(size int) (*Pool, error) {
	if size <= 0 {
		return nil, ErrInvalidBufferSize
	}
	return &Pool{size: size}, nil
}

// BufferSize returns the capacity of each buffer.
func (p *Pool) BufferSize() int {
	return p.size
}

// Lease returns an empty packet whose Data is a full-size pool buffer.
// The reader truncates Data to the number of bytes it fills.
func (p *Pool) Lease() *Packet {
	p.mu.Lock()
	defer p.mu.Unlock()

	var data []byte
	if n := len(p.free); n > 0 {
		data = p.free[n-1]
		p.free = p.free[:n-1]
	} else {
		data = make([]byte, p.size)
	}
	p.stats.Leased++
	p.stats.Outstanding++

	b := &buffer{pool: p, data: data, generation: p.generation}
	return &Packet{Data: data[:p.size], buf: b}
}

// Reset starts a new generation. Buffers leased earlier are forgotten:
// they are neither recycled nor counted as outstanding.
func (p *Pool) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.generation++
	p.stats.Abandoned += p.stats.Outstanding
	p.stats.Outstanding = 0
	p.free = nil
}

// Stats returns a snapshot of pool counters.
func (p *Pool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := p.stats
	s.Generation = p.generation
	return s
}

func (p *Pool) put(b *buffer) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if b.generation != p.generation {
		return
	}
	p.stats.Outstanding--
	p.stats.Recycled++
	p.free = append(p.free, b.data[:p.size])
}

func (p *Pool) detach(b *buffer) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stats.Detached++
	if b.generation != p.generation {
		return
	}
	p.stats.Outstanding--
	p.free = append(p.free, b.data[:p.size])
}
