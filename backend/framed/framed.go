// Package framed streams packet records as length-prefixed msgpack frames.
//
// URI form: framed:<path>, where "-" means stdin for sources and stdout
// for sinks. A stream opens with a header record followed by one packet
// record per frame.
package framed

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/gopacket/layers"

	"github.com/pithecene-io/sluice/backend"
	"github.com/pithecene-io/sluice/ipc"
	"github.com/pithecene-io/sluice/packet"
)

// Scheme is the URI scheme for framed record streams.
const Scheme = "framed"

// StdioPath selects stdin or stdout.
const StdioPath = "-"

// Source reads packet records from a framed stream.
type Source struct {
	path   string
	opener func() (io.ReadCloser, error)

	mu      sync.Mutex
	rc      io.ReadCloser
	dec     *ipc.FrameDecoder
	header  *ipc.HeaderRecord
	started bool
	closed  bool
	failed  error
}

// NewSource creates a source reading the file at path.
func NewSource(path string) *Source {
	return &Source{
		path: path,
		opener: func() (io.ReadCloser, error) {
			if path == StdioPath {
				return io.NopCloser(os.Stdin), nil
			}
			return os.Open(path)
		},
	}
}

// NewReaderSource creates a source reading from r.
func NewReaderSource(r io.Reader) *Source {
	return &Source{
		path:   "reader",
		opener: func() (io.ReadCloser, error) { return io.NopCloser(r), nil },
	}
}

// Open implements backend.Opener.
func Open(rest string) (backend.Source, error) {
	return NewSource(rest), nil
}

// Register binds the framed scheme in reg.
func Register(reg *backend.Registry) {
	reg.RegisterSource(Scheme, Open)
	reg.RegisterSink(Scheme, OpenSink)
}

// Start implements backend.Source. The first call reads the stream header.
func (s *Source) Start(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return backend.ErrClosed
	}
	if s.dec == nil {
		rc, err := s.opener()
		if err != nil {
			return fmt.Errorf("open %s: %w", s.path, err)
		}
		dec := ipc.NewFrameDecoder(bufio.NewReader(rc))
		header, err := readHeader(dec)
		if err != nil {
			_ = rc.Close()
			return err
		}
		s.rc, s.dec, s.header = rc, dec, header
	}
	s.started = true
	return nil
}

func readHeader(dec *ipc.FrameDecoder) (*ipc.HeaderRecord, error) {
	payload, err := dec.ReadFrame()
	if err != nil {
		return nil, fmt.Errorf("read stream header: %w", err)
	}
	rec, err := ipc.DecodeRecord(payload)
	if err != nil {
		return nil, fmt.Errorf("decode stream header: %w", err)
	}
	header, ok := rec.(*ipc.HeaderRecord)
	if !ok {
		return nil, fmt.Errorf("stream does not begin with a header record (got %T)", rec)
	}
	return header, nil
}

// Pause implements backend.Source.
func (s *Source) Pause() error {
	s.mu.Lock()
	s.started = false
	s.mu.Unlock()
	return nil
}

// ReadFrame implements backend.Source.
// A record that fails to decode is a malformed frame. A broken length
// prefix loses the framing, so the source fails for good.
func (s *Source) ReadFrame(ctx context.Context, p *packet.Packet) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, backend.ErrClosed
	}
	if !s.started {
		return 0, backend.ErrNotStarted
	}
	if s.failed != nil {
		return 0, s.failed
	}

	payload, err := s.dec.ReadFrame()
	if err != nil {
		if err == io.EOF {
			return 0, io.EOF
		}
		s.failed = fmt.Errorf("framed stream: %w", err)
		return 0, s.failed
	}

	rec, err := ipc.DecodeRecord(payload)
	if err != nil {
		return 0, &backend.FrameError{Kind: backend.FrameErrorMalformed, Msg: "undecodable record", Err: err}
	}
	pr, ok := rec.(*ipc.PacketRecord)
	if !ok {
		return 0, &backend.FrameError{Kind: backend.FrameErrorUnsupported, Msg: fmt.Sprintf("unexpected %T mid-stream", rec)}
	}

	link := layers.LinkType(pr.LinkType)
	if link == 0 {
		link = layers.LinkType(s.header.LinkType)
	}
	return backend.Fill(p, pr.Data, time.Unix(0, pr.TsNanos).UTC(), link, pr.WireLen), nil
}

// LinkType implements backend.Source. Valid after Start.
func (s *Source) LinkType() layers.LinkType {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.header == nil {
		return layers.LinkTypeNull
	}
	return layers.LinkType(s.header.LinkType)
}

// FramingLength implements backend.Source.
func (s *Source) FramingLength(*packet.Packet) int {
	return ipc.LengthPrefixSize
}

// Close implements backend.Source.
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.rc != nil {
		return s.rc.Close()
	}
	return nil
}

var _ backend.Source = (*Source)(nil)
