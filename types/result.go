// Package types defines core domain types for the sluice engine.
//
//nolint:revive // types is a common Go package naming convention
package types

import (
	"fmt"

	"github.com/pithecene-io/sluice/packet"
)

// ResultKind discriminates the payload carried by a Result.
type ResultKind string

// Result kinds.
const (
	// ResultKindPacket carries an owned packet.
	ResultKindPacket ResultKind = "packet"
	// ResultKindScalar carries a caller-defined scalar.
	ResultKindScalar ResultKind = "scalar"
	// ResultKindTickInterval is a time-based tick. Never delivered.
	ResultKindTickInterval ResultKind = "tick_interval"
	// ResultKindTickCount is a count-based tick. Never delivered.
	ResultKindTickCount ResultKind = "tick_count"
)

// IsTick returns true for tick kinds, which combiners drop instead of delivering.
func (k ResultKind) IsTick() bool {
	return k == ResultKindTickInterval || k == ResultKindTickCount
}

// Valid returns true if k is a known result kind.
func (k ResultKind) Valid() bool {
	switch k {
	case ResultKindPacket, ResultKindScalar, ResultKindTickInterval, ResultKindTickCount:
		return true
	}
	return false
}

// Value is the tagged payload of a Result.
// The set of implementations is closed; the tag is derived from the
// concrete type so the kind and payload can never disagree.
type Value interface {
	Kind() ResultKind
	sealed()
}

// PacketValue carries a packet. The holder of the Result owns the packet.
type PacketValue struct {
	Packet *packet.Packet
}

// Kind implements Value.
func (PacketValue) Kind() ResultKind { return ResultKindPacket }
func (PacketValue) sealed()          {}

// ScalarValue carries an application-defined number.
type ScalarValue struct {
	N uint64
}

// Kind implements Value.
func (ScalarValue) Kind() ResultKind { return ResultKindScalar }
func (ScalarValue) sealed()          {}

// TickIntervalValue marks the passage of wall-clock time.
type TickIntervalValue struct {
	// Timestamp is the tick time in unix nanoseconds.
	Timestamp uint64
}

// Kind implements Value.
func (TickIntervalValue) Kind() ResultKind { return ResultKindTickInterval }
func (TickIntervalValue) sealed()          {}

// TickCountValue marks that a worker has processed a number of packets.
type TickCountValue struct {
	Count uint64
}

// Kind implements Value.
func (TickCountValue) Kind() ResultKind { return ResultKindTickCount }
func (TickCountValue) sealed()          {}

// Result is the unit moved from workers through a combiner to the reporter.
type Result struct {
	// Key orders results. Ties are broken by the combiner.
	Key uint64
	// Value is the tagged payload.
	Value Value
}

// NewResult builds a Result and checks that kind matches the payload tag.
// A mismatch is reported as an unsupported-feature error.
func NewResult(key uint64, value Value, kind ResultKind) (Result, error) {
	if value == nil {
		return Result{}, NewTraceError(ErrCodeUnsupported, "result value is nil", nil)
	}
	if !kind.Valid() {
		return Result{}, NewTraceError(ErrCodeUnsupported, fmt.Sprintf("unknown result kind %q", kind), nil)
	}
	if value.Kind() != kind {
		return Result{}, NewTraceError(ErrCodeUnsupported,
			fmt.Sprintf("cannot publish %s payload as %s result", value.Kind(), kind), nil)
	}
	if pv, ok := value.(PacketValue); ok && pv.Packet == nil {
		return Result{}, NewTraceError(ErrCodeUnsupported, "packet result without packet", nil)
	}
	return Result{Key: key, Value: value}, nil
}

// Kind returns the payload tag.
func (r Result) Kind() ResultKind {
	if r.Value == nil {
		return ""
	}
	return r.Value.Kind()
}

// IsTick returns true if the result is a tick.
func (r Result) IsTick() bool {
	return r.Kind().IsTick()
}

// Packet returns the carried packet, or nil for non-packet results.
func (r Result) Packet() *packet.Packet {
	if pv, ok := r.Value.(PacketValue); ok {
		return pv.Packet
	}
	return nil
}

// MakeSafe detaches the payload from memory that may be invalidated
// when workers are suspended. Returns true if anything was copied.
func (r *Result) MakeSafe() bool {
	if p := r.Packet(); p != nil {
		return p.MakeSafe()
	}
	return false
}

// Release returns payload storage held by the result.
// Called by the final owner (normally the reporter).
func (r *Result) Release() {
	if p := r.Packet(); p != nil {
		p.Release()
	}
}
