package pcapfile

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/pithecene-io/sluice/backend"
	"github.com/pithecene-io/sluice/packet"
)

// DefaultSnaplen is the snapshot length written to new capture files.
const DefaultSnaplen = 65535

// SinkOptions configures a Sink.
type SinkOptions struct {
	// LinkType written to the file header. Defaults to Ethernet.
	LinkType layers.LinkType
	// Snaplen written to the file header. Defaults to DefaultSnaplen.
	Snaplen uint32
}

// Sink writes frames to a classic pcap file.
type Sink struct {
	path string
	opts SinkOptions

	mu     sync.Mutex
	file   *os.File
	buf    *bufio.Writer
	writer *pcapgo.Writer
	closed bool
}

// NewSink creates a sink for path. The file is created by Start.
func NewSink(path string, opts SinkOptions) *Sink {
	if opts.LinkType == 0 {
		opts.LinkType = layers.LinkTypeEthernet
	}
	if opts.Snaplen == 0 {
		opts.Snaplen = DefaultSnaplen
	}
	return &Sink{path: path, opts: opts}
}

// OpenSink implements backend.SinkOpener.
func OpenSink(rest string) (backend.Sink, error) {
	return NewSink(rest, SinkOptions{}), nil
}

// Start implements backend.Sink.
func (s *Sink) Start(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return backend.ErrClosed
	}
	if s.writer != nil {
		return nil
	}
	f, err := os.Create(s.path)
	if err != nil {
		return fmt.Errorf("create capture: %w", err)
	}
	buf := bufio.NewWriter(f)
	w := pcapgo.NewWriter(buf)
	if err := w.WriteFileHeader(s.opts.Snaplen, s.opts.LinkType); err != nil {
		_ = f.Close()
		return fmt.Errorf("write capture header: %w", err)
	}
	s.file, s.buf, s.writer = f, buf, w
	return nil
}

// WriteFrame implements backend.Sink.
func (s *Sink) WriteFrame(p *packet.Packet) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, backend.ErrClosed
	}
	if s.writer == nil {
		return 0, backend.ErrNotStarted
	}
	ci := gopacket.CaptureInfo{
		Timestamp:     p.Timestamp,
		CaptureLength: len(p.Data),
		Length:        p.GetWireLength(),
	}
	if err := s.writer.WritePacket(ci, p.Data); err != nil {
		return 0, fmt.Errorf("write capture record: %w", err)
	}
	return len(p.Data), nil
}

// Close implements backend.Sink.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.file == nil {
		return nil
	}
	if err := s.buf.Flush(); err != nil {
		_ = s.file.Close()
		return fmt.Errorf("flush capture: %w", err)
	}
	return s.file.Close()
}

var _ backend.Sink = (*Sink)(nil)
