package ipc

import (
	"github.com/vmihailenco/msgpack/v5"
)

// Record type discriminants.
const (
	// HeaderType opens a stream and describes its framing.
	HeaderType = "header"
	// PacketType carries one captured frame.
	PacketType = "packet"
)

// HeaderRecord is the first record of a framed stream.
type HeaderRecord struct {
	Type     string `msgpack:"type"`
	Version  string `msgpack:"version"`
	LinkType int    `msgpack:"link_type"`
	Snaplen  uint32 `msgpack:"snaplen"`
}

// PacketRecord is a captured frame on the wire.
type PacketRecord struct {
	Type     string `msgpack:"type"`
	Order    uint64 `msgpack:"order"`
	TsNanos  int64  `msgpack:"ts_nanos"`
	LinkType int    `msgpack:"link_type"`
	CapLen   int    `msgpack:"cap_len"`
	WireLen  int    `msgpack:"wire_len"`
	Data     []byte `msgpack:"data"`
}

// recordTypeProbe is used to peek at the type field without full decode.
type recordTypeProbe struct {
	Type string `msgpack:"type"`
}

// DecodeRecord decodes a payload into a *HeaderRecord or *PacketRecord,
// discriminating on the type field.
func DecodeRecord(payload []byte) (any, error) {
	var probe recordTypeProbe
	if err := msgpack.Unmarshal(payload, &probe); err != nil {
		return nil, &FrameError{
			Kind: FrameErrorDecode,
			Msg:  "failed to decode record type",
			Err:  err,
		}
	}

	switch probe.Type {
	case HeaderType:
		var h HeaderRecord
		if err := msgpack.Unmarshal(payload, &h); err != nil {
			return nil, &FrameError{Kind: FrameErrorDecode, Msg: "failed to decode header record", Err: err}
		}
		return &h, nil
	case PacketType:
		var p PacketRecord
		if err := msgpack.Unmarshal(payload, &p); err != nil {
			return nil, &FrameError{Kind: FrameErrorDecode, Msg: "failed to decode packet record", Err: err}
		}
		return &p, nil
	default:
		return nil, &FrameError{
			Kind: FrameErrorDecode,
			Msg:  "unknown record type " + probe.Type,
		}
	}
}

// EncodeRecord encodes a record as a msgpack payload.
// The type discriminant is filled in for known record types.
func EncodeRecord(record any) ([]byte, error) {
	switch r := record.(type) {
	case *HeaderRecord:
		r.Type = HeaderType
	case *PacketRecord:
		r.Type = PacketType
	}
	return msgpack.Marshal(record)
}
