// Package pcapfile reads and writes classic pcap and pcapng capture files.
//
// URI form: pcapfile:<path>. Reading accepts both pcap and pcapng; writing
// always produces classic pcap.
package pcapfile

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/pithecene-io/sluice/backend"
	"github.com/pithecene-io/sluice/packet"
)

// Scheme is the URI scheme for pcap files.
const Scheme = "pcapfile"

// recordHeaderLen is the size of a classic pcap record header.
const recordHeaderLen = 16

// pcapngMagic is the section header block type that opens a pcapng file.
var pcapngMagic = []byte{0x0a, 0x0d, 0x0d, 0x0a}

type packetReader interface {
	ReadPacketData() ([]byte, gopacket.CaptureInfo, error)
	LinkType() layers.LinkType
}

// Source reads frames from a capture file.
type Source struct {
	path string

	mu        sync.Mutex
	file      *os.File
	reader    packetReader
	link      layers.LinkType
	started   bool
	closed    bool
	truncated bool
}

// NewSource creates a source for the file at path. The file is opened by Start.
func NewSource(path string) *Source {
	return &Source{path: path}
}

// Open implements backend.Opener.
func Open(rest string) (backend.Source, error) {
	return NewSource(rest), nil
}

// Register binds the pcapfile scheme in reg.
func Register(reg *backend.Registry) {
	reg.RegisterSource(Scheme, Open)
	reg.RegisterSink(Scheme, OpenSink)
}

// Start implements backend.Source. The first call opens the file and
// parses its header; later calls resume at the current position.
func (s *Source) Start(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return backend.ErrClosed
	}
	if s.reader == nil {
		if err := s.openLocked(); err != nil {
			return err
		}
	}
	s.started = true
	return nil
}

func (s *Source) openLocked() error {
	f, err := os.Open(s.path)
	if err != nil {
		return fmt.Errorf("open capture: %w", err)
	}
	br := bufio.NewReader(f)
	magic, err := br.Peek(len(pcapngMagic))
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("read capture header: %w", err)
	}

	var r packetReader
	if bytes.Equal(magic, pcapngMagic) {
		r, err = pcapgo.NewNgReader(br, pcapgo.DefaultNgReaderOptions)
	} else {
		r, err = pcapgo.NewReader(br)
	}
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("parse capture header: %w", err)
	}

	s.file = f
	s.reader = r
	s.link = r.LinkType()
	return nil
}

// Pause implements backend.Source. The file stays open.
func (s *Source) Pause() error {
	s.mu.Lock()
	s.started = false
	s.mu.Unlock()
	return nil
}

// ReadFrame implements backend.Source.
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
	if s.truncated {
		return 0, io.EOF
	}

	data, ci, err := s.reader.ReadPacketData()
	switch {
	case err == nil:
	case errors.Is(err, io.EOF):
		return 0, io.EOF
	case errors.Is(err, io.ErrUnexpectedEOF):
		// The last record was cut short; nothing can follow it.
		s.truncated = true
		return 0, &backend.FrameError{Kind: backend.FrameErrorTruncated, Msg: "capture ends mid-record", Err: err}
	default:
		return 0, &backend.FrameError{Kind: backend.FrameErrorMalformed, Msg: "bad capture record", Err: err}
	}

	return backend.Fill(p, data, ci.Timestamp, s.link, ci.Length), nil
}

// LinkType implements backend.Source. Valid after Start.
func (s *Source) LinkType() layers.LinkType {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.link
}

// FramingLength implements backend.Source.
func (s *Source) FramingLength(*packet.Packet) int {
	return recordHeaderLen
}

// Close implements backend.Source.
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.file != nil {
		return s.file.Close()
	}
	return nil
}

var _ backend.Source = (*Source)(nil)
