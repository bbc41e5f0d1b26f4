// Package packet defines the frame type moved through a trace and the
// buffer pool that backs frames while they are being read.
package packet

import (
	"time"

	"github.com/google/gopacket/layers"
)

// Packet is a single captured frame.
type Packet struct {
	// Order is the trace-wide sequence number assigned when the frame was read.
	Order uint64
	// Timestamp is the capture time reported by the backend.
	Timestamp time.Time
	// LinkType is the framing of Data.
	LinkType layers.LinkType
	// CaptureLength is the number of bytes captured.
	CaptureLength int
	// WireLength is the original length on the wire.
	WireLength int
	// Data holds the captured bytes. It may alias pooled memory; see Borrowed.
	Data []byte

	buf *buffer
}

// GetCaptureLength returns the captured length, falling back to len(Data).
func (p *Packet) GetCaptureLength() int {
	if p.CaptureLength > 0 {
		return p.CaptureLength
	}
	return len(p.Data)
}

// GetWireLength returns the on-the-wire length, falling back to the
// captured length.
func (p *Packet) GetWireLength() int {
	if p.WireLength > 0 {
		return p.WireLength
	}
	return p.GetCaptureLength()
}

// Borrowed reports whether Data aliases a pool buffer.
func (p *Packet) Borrowed() bool {
	return p.buf != nil
}

// MakeSafe copies Data into packet-owned memory and gives the pool
// buffer back. Returns true if a copy was made.
func (p *Packet) MakeSafe() bool {
	if p.buf == nil {
		return false
	}
	owned := make([]byte, len(p.Data))
	copy(owned, p.Data)
	b := p.buf
	p.Data = owned
	p.buf = nil
	b.pool.detach(b)
	return true
}

// Release returns the backing buffer to its pool. Safe to call on
// packets that own their data, and safe to call more than once.
func (p *Packet) Release() {
	if p.buf == nil {
		return
	}
	b := p.buf
	p.buf = nil
	p.Data = nil
	b.pool.put(b)
}

// Clone returns a deep copy that owns its data.
func (p *Packet) Clone() *Packet {
	c := *p
	c.buf = nil
	c.Data = make([]byte, len(p.Data))
	copy(c.Data, p.Data)
	return &c
}
