// Package memory provides in-memory packet sources and sinks.
//
// URI form: mem:<count>[,block]. The source yields count synthetic
// Ethernet/IPv4/UDP frames whose payload carries the frame index. With
// block, an exhausted source waits for cancellation instead of reporting
// end of input, which models a live capture.
package memory

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/gopacket/layers"

	"github.com/pithecene-io/sluice/backend"
	"github.com/pithecene-io/sluice/packet"
)

// Scheme is the URI scheme for in-memory backends.
const Scheme = "mem"

// Epoch is the timestamp of the first synthetic frame.
var Epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// ErrInjected is returned by a source configured with FailAt.
var ErrInjected = errors.New("memory source: injected failure")

// Options configures a memory Source.
type Options struct {
	// Frames are returned in order. When nil, Count synthetic frames are generated.
	Frames [][]byte
	// Count is the number of synthetic frames when Frames is nil.
	Count int
	// Block makes an exhausted source wait for ctx instead of returning io.EOF.
	Block bool
	// LinkType of the frames. Defaults to Ethernet.
	LinkType layers.LinkType
	// Malformed lists frame indices that are reported as malformed.
	Malformed map[int]bool
	// FailAt, when > 0, makes the read of that frame index fail with ErrInjected.
	FailAt int
	// Step is the timestamp gap between frames. Defaults to one millisecond.
	Step time.Duration
}

// Source is an in-memory frame source.
type Source struct {
	opts Options

	mu      sync.Mutex
	next    int
	started bool
	closed  bool
	closeCh chan struct{}
	starts  int
	pauses  int
}

// NewSource creates a memory source.
func NewSource(opts Options) *Source {
	if opts.LinkType == 0 {
		opts.LinkType = layers.LinkTypeEthernet
	}
	if opts.Step <= 0 {
		opts.Step = time.Millisecond
	}
	return &Source{opts: opts, closeCh: make(chan struct{})}
}

// Open parses the location part of a mem: URI.
func Open(rest string) (backend.Source, error) {
	parts := strings.Split(rest, ",")
	count, err := strconv.Atoi(parts[0])
	if err != nil || count < 0 {
		return nil, fmt.Errorf("invalid frame count %q", parts[0])
	}
	opts := Options{Count: count}
	for _, flag := range parts[1:] {
		switch flag {
		case "block":
			opts.Block = true
		default:
			return nil, fmt.Errorf("unknown mem option %q", flag)
		}
	}
	return NewSource(opts), nil
}

// Register binds the mem scheme in reg.
func Register(reg *backend.Registry) {
	reg.RegisterSource(Scheme, Open)
	reg.RegisterSink(Scheme, func(string) (backend.Sink, error) { return NewSink(), nil })
}

func (s *Source) total() int {
	if s.opts.Frames != nil {
		return len(s.opts.Frames)
	}
	return s.opts.Count
}

// Start implements backend.Source.
func (s *Source) Start(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return backend.ErrClosed
	}
	s.started = true
	s.starts++
	return nil
}

// Pause implements backend.Source.
func (s *Source) Pause() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = false
	s.pauses++
	return nil
}

// ReadFrame implements backend.Source.
func (s *Source) ReadFrame(ctx context.Context, p *packet.Packet) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return 0, backend.ErrClosed
	}
	if !s.started {
		s.mu.Unlock()
		return 0, backend.ErrNotStarted
	}
	idx := s.next
	if idx >= s.total() {
		block := s.opts.Block
		closeCh := s.closeCh
		s.mu.Unlock()
		if !block {
			return 0, io.EOF
		}
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-closeCh:
			return 0, backend.ErrClosed
		}
	}
	s.next++
	s.mu.Unlock()

	if s.opts.FailAt > 0 && idx == s.opts.FailAt {
		return 0, ErrInjected
	}
	if s.opts.Malformed[idx] {
		return 0, &backend.FrameError{
			Kind: backend.FrameErrorMalformed,
			Msg:  fmt.Sprintf("frame %d", idx),
		}
	}

	var data []byte
	if s.opts.Frames != nil {
		data = s.opts.Frames[idx]
	} else {
		var err error
		data, err = SyntheticFrame(uint64(idx))
		if err != nil {
			return 0, &backend.FrameError{Kind: backend.FrameErrorMalformed, Msg: "synthesize", Err: err}
		}
	}
	ts := Epoch.Add(time.Duration(idx) * s.opts.Step)
	return backend.Fill(p, data, ts, s.opts.LinkType, len(data)), nil
}

// LinkType implements backend.Source.
func (s *Source) LinkType() layers.LinkType {
	return s.opts.LinkType
}

// FramingLength implements backend.Source. Memory frames have no framing.
func (s *Source) FramingLength(*packet.Packet) int {
	return 0
}

// Close implements backend.Source.
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.closeCh)
	}
	return nil
}

// Counts returns how often Start and Pause were called.
func (s *Source) Counts() (starts, pauses int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.starts, s.pauses
}

var _ backend.Source = (*Source)(nil)
