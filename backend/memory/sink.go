package memory

import (
	"context"
	"sync"

	"github.com/pithecene-io/sluice/backend"
	"github.com/pithecene-io/sluice/packet"
)

// Sink records written frames in memory.
type Sink struct {
	mu      sync.Mutex
	started bool
	closed  bool
	frames  []*packet.Packet
	bytes   int64
}

// NewSink creates an empty memory sink.
func NewSink() *Sink {
	return &Sink{}
}

// Start implements backend.Sink.
func (s *Sink) Start(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return backend.ErrClosed
	}
	s.started = true
	return nil
}

// WriteFrame implements backend.Sink. The frame is cloned so the caller
// keeps ownership of p.
func (s *Sink) WriteFrame(p *packet.Packet) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, backend.ErrClosed
	}
	if !s.started {
		return 0, backend.ErrNotStarted
	}
	s.frames = append(s.frames, p.Clone())
	s.bytes += int64(len(p.Data))
	return len(p.Data), nil
}

// Close implements backend.Sink.
func (s *Sink) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// Frames returns the written frames in write order.
func (s *Sink) Frames() []*packet.Packet {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*packet.Packet, len(s.frames))
	copy(out, s.frames)
	return out
}

// Bytes returns the total payload bytes written.
func (s *Sink) Bytes() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bytes
}

var _ backend.Sink = (*Sink)(nil)
