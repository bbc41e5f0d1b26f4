package framed

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/google/gopacket/layers"

	"github.com/pithecene-io/sluice/backend"
	"github.com/pithecene-io/sluice/ipc"
	"github.com/pithecene-io/sluice/packet"
	"github.com/pithecene-io/sluice/types"
)

// Sink writes packet records to a framed stream.
type Sink struct {
	path   string
	opener func() (io.WriteCloser, error)
	link   layers.LinkType

	mu     sync.Mutex
	wc     io.WriteCloser
	buf    *bufio.Writer
	enc    *ipc.FrameEncoder
	closed bool
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

// NewSink creates a sink writing to the file at path.
func NewSink(path string, link layers.LinkType) *Sink {
	return &Sink{
		path: path,
		link: link,
		opener: func() (io.WriteCloser, error) {
			if path == StdioPath {
				return nopWriteCloser{os.Stdout}, nil
			}
			return os.Create(path)
		},
	}
}

// NewWriterSink creates a sink writing to w.
func NewWriterSink(w io.Writer, link layers.LinkType) *Sink {
	return &Sink{
		path:   "writer",
		link:   link,
		opener: func() (io.WriteCloser, error) { return nopWriteCloser{w}, nil },
	}
}

// OpenSink implements backend.SinkOpener.
func OpenSink(rest string) (backend.Sink, error) {
	return NewSink(rest, layers.LinkTypeEthernet), nil
}

// Start implements backend.Sink. Writes the stream header.
func (s *Sink) Start(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return backend.ErrClosed
	}
	if s.enc != nil {
		return nil
	}
	wc, err := s.opener()
	if err != nil {
		return fmt.Errorf("open %s: %w", s.path, err)
	}
	buf := bufio.NewWriter(wc)
	enc := ipc.NewFrameEncoder(buf)

	payload, err := ipc.EncodeRecord(&ipc.HeaderRecord{
		Version:  types.RecordVersion,
		LinkType: int(s.link),
		Snaplen:  packet.DefaultBufferSize,
	})
	if err == nil {
		err = enc.WriteFrame(payload)
	}
	if err != nil {
		_ = wc.Close()
		return fmt.Errorf("write stream header: %w", err)
	}
	s.wc, s.buf, s.enc = wc, buf, enc
	return nil
}

// WriteFrame implements backend.Sink.
func (s *Sink) WriteFrame(p *packet.Packet) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, backend.ErrClosed
	}
	if s.enc == nil {
		return 0, backend.ErrNotStarted
	}
	payload, err := ipc.EncodeRecord(&ipc.PacketRecord{
		Order:    p.Order,
		TsNanos:  p.Timestamp.UnixNano(),
		LinkType: int(p.LinkType),
		CapLen:   len(p.Data),
		WireLen:  p.GetWireLength(),
		Data:     p.Data,
	})
	if err != nil {
		return 0, fmt.Errorf("encode packet record: %w", err)
	}
	if err := s.enc.WriteFrame(payload); err != nil {
		return 0, err
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
	if s.wc == nil {
		return nil
	}
	if err := s.buf.Flush(); err != nil {
		_ = s.wc.Close()
		return err
	}
	return s.wc.Close()
}

var _ backend.Sink = (*Sink)(nil)
