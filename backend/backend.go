// Package backend defines the contract between a trace and the packet
// sources and sinks that feed and drain it.
package backend

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/gopacket/layers"

	"github.com/pithecene-io/sluice/packet"
)

// Source produces frames for a trace.
//
// The trace serializes ReadFrame calls across workers, so a source sees
// one reader at a time. Pause and Close may be called concurrently with
// a blocked ReadFrame; ReadFrame must return promptly once ctx is done.
type Source interface {
	// Start prepares the source for reading. Called once before the
	// first read and again on resume after Pause.
	Start(ctx context.Context) error

	// Pause suspends the source. Buffered position is kept so a later
	// Start continues where reading stopped.
	Pause() error

	// ReadFrame fills p with the next frame and returns the captured
	// length. p.Data arrives as a pool buffer; the source writes into it
	// and truncates it to the captured length.
	//
	// Errors:
	//   - io.EOF: no more frames (n == 0)
	//   - *FrameError: this frame is malformed; the next read may succeed
	//   - ctx.Err(): the read was interrupted
	//   - anything else: the source failed and must not be read again
	ReadFrame(ctx context.Context, p *packet.Packet) (int, error)

	// LinkType returns the framing of frames produced by this source.
	LinkType() layers.LinkType

	// FramingLength returns the per-frame overhead of the source's
	// storage format for p.
	FramingLength(p *packet.Packet) int

	// Close releases resources. Safe to call more than once.
	Close() error
}

// Sink consumes frames.
type Sink interface {
	// Start opens the sink for writing.
	Start(ctx context.Context) error
	// WriteFrame writes p and returns the number of frame bytes written.
	WriteFrame(p *packet.Packet) (int, error)
	// Close flushes and releases resources. Safe to call more than once.
	Close() error
}

// FrameErrorKind classifies malformed input.
type FrameErrorKind int

const (
	// FrameErrorMalformed indicates a frame that could not be decoded.
	FrameErrorMalformed FrameErrorKind = iota
	// FrameErrorTruncated indicates a frame cut short by the storage format.
	FrameErrorTruncated
	// FrameErrorUnsupported indicates a frame type the source cannot convert.
	FrameErrorUnsupported
)

func (k FrameErrorKind) String() string {
	switch k {
	case FrameErrorMalformed:
		return "malformed"
	case FrameErrorTruncated:
		return "truncated"
	case FrameErrorUnsupported:
		return "unsupported"
	default:
		return fmt.Sprintf("FrameErrorKind(%d)", int(k))
	}
}

// FrameError reports a bad frame. It spoils one read, not the source.
type FrameError struct {
	Kind FrameErrorKind
	Msg  string
	Err  error
}

func (e *FrameError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s frame: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s frame: %s", e.Kind, e.Msg)
}

func (e *FrameError) Unwrap() error {
	return e.Err
}

// IsMalformed returns true if err reports a bad frame rather than a
// failed source.
func IsMalformed(err error) bool {
	var frameErr *FrameError
	return errors.As(err, &frameErr)
}

// ErrClosed is returned by operations on a closed source or sink.
var ErrClosed = errors.New("backend closed")

// ErrNotStarted is returned when reading or writing before Start.
var ErrNotStarted = errors.New("backend not started")

// Fill copies data into p, truncating to the capacity of p.Data, and
// sets the frame metadata. wireLen <= 0 means len(data).
// Returns the captured length.
func Fill(p *packet.Packet, data []byte, ts time.Time, link layers.LinkType, wireLen int) int {
	buf := p.Data[:cap(p.Data)]
	if len(buf) == 0 && !p.Borrowed() {
		buf = make([]byte, len(data))
	}
	n := copy(buf, data)
	p.Data = buf[:n]
	p.Timestamp = ts
	p.LinkType = link
	p.CaptureLength = n
	if wireLen <= 0 {
		wireLen = len(data)
	}
	p.WireLength = wireLen
	return n
}
