package lode

import (
	"time"

	"github.com/pithecene-io/sluice/metrics"
	"github.com/pithecene-io/sluice/types"
)

// RecordKind discriminator values. record_kind is also the last
// partition key, so results and summaries land in separate partitions.
const (
	RecordKindResult  = "result"
	RecordKindSummary = "summary"
)

// ResultRecord is the storage format of one delivered result.
type ResultRecord struct {
	RecordKind string `json:"record_kind"`
	TraceID    string `json:"trace_id"`
	Key        uint64 `json:"key"`
	Kind       string `json:"kind"`

	// Packet fields, set for packet results.
	Order     uint64 `json:"order,omitempty"`
	Timestamp string `json:"ts,omitempty"`
	LinkType  string `json:"link_type,omitempty"`
	CapLen    int    `json:"cap_len,omitempty"`
	WireLen   int    `json:"wire_len,omitempty"`
	Data      []byte `json:"data,omitempty"` // base64 encoded in JSON

	// Scalar is set for scalar results.
	Scalar uint64 `json:"scalar,omitempty"`

	// Partition keys
	Source   string `json:"source"`
	Combiner string `json:"combiner"`
	Day      string `json:"day"`
}

// NewResultRecord converts r. Packet bytes are copied only with includeData.
func NewResultRecord(r types.Result, cfg Config, includeData bool) ResultRecord {
	rec := ResultRecord{
		RecordKind: RecordKindResult,
		TraceID:    cfg.TraceID,
		Key:        r.Key,
		Kind:       string(r.Kind()),
		Source:     cfg.Source,
		Combiner:   cfg.Combiner,
		Day:        cfg.Day,
	}
	switch v := r.Value.(type) {
	case types.PacketValue:
		p := v.Packet
		rec.Order = p.Order
		rec.Timestamp = p.Timestamp.UTC().Format(time.RFC3339Nano)
		rec.LinkType = p.LinkType.String()
		rec.CapLen = p.GetCaptureLength()
		rec.WireLen = p.GetWireLength()
		if includeData {
			rec.Data = append([]byte(nil), p.Data...)
		}
	case types.ScalarValue:
		rec.Scalar = v.N
	}
	return rec
}

// toMap converts the record to the map form Lode's Hive layout expects.
func (r ResultRecord) toMap() map[string]any {
	m := map[string]any{
		"record_kind": r.RecordKind,
		"trace_id":    r.TraceID,
		"key":         r.Key,
		"kind":        r.Kind,
		"source":      r.Source,
		"combiner":    r.Combiner,
		"day":         r.Day,
	}
	switch r.Kind {
	case string(types.ResultKindPacket):
		m["order"] = r.Order
		m["ts"] = r.Timestamp
		m["link_type"] = r.LinkType
		m["cap_len"] = r.CapLen
		m["wire_len"] = r.WireLen
		if r.Data != nil {
			m["data"] = r.Data
		}
	case string(types.ResultKindScalar):
		m["scalar"] = r.Scalar
	}
	return m
}

// SummaryRecord is the storage format of the end-of-trace summary.
type SummaryRecord struct {
	RecordKind string `json:"record_kind"`
	TraceID    string `json:"trace_id"`
	URI        string `json:"uri"`
	Workers    int    `json:"workers"`
	State      string `json:"state"`
	StartedAt  string `json:"started_at"`
	FinishedAt string `json:"finished_at"`
	DurationMs int64  `json:"duration_ms"`

	ErrorCode    string `json:"error_code,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
	ErrorCount   int64  `json:"error_count"`

	OrderingViolations int64 `json:"ordering_violations"`

	PacketsRead      int64            `json:"packets_read"`
	FrameErrors      int64            `json:"frame_errors"`
	BackendErrors    int64            `json:"backend_errors"`
	ResultsPublished int64            `json:"results_published"`
	TicksPublished   int64            `json:"ticks_published"`
	ResultsDelivered int64            `json:"results_delivered"`
	TicksDropped     int64            `json:"ticks_dropped"`
	ResultsMadeSafe  int64            `json:"results_made_safe"`
	DeliveredByKind  map[string]int64 `json:"delivered_by_kind,omitempty"`
	Pauses           int64            `json:"pauses"`
	FramesWritten    int64            `json:"frames_written"`

	// Partition keys
	Source   string `json:"source"`
	Combiner string `json:"combiner"`
	Day      string `json:"day"`
}

// SummaryInput carries the trace facts a summary record needs.
type SummaryInput struct {
	URI                string
	Workers            int
	State              types.TraceState
	StartedAt          time.Time
	FinishedAt         time.Time
	Err                *types.TraceError
	ErrorCount         int64
	OrderingViolations int64
}

// NewSummaryRecord builds the summary record from trace facts and metrics.
func NewSummaryRecord(in SummaryInput, snap metrics.Snapshot, cfg Config) SummaryRecord {
	rec := SummaryRecord{
		RecordKind:         RecordKindSummary,
		TraceID:            cfg.TraceID,
		URI:                in.URI,
		Workers:            in.Workers,
		State:              string(in.State),
		StartedAt:          in.StartedAt.UTC().Format(time.RFC3339Nano),
		FinishedAt:         in.FinishedAt.UTC().Format(time.RFC3339Nano),
		DurationMs:         in.FinishedAt.Sub(in.StartedAt).Milliseconds(),
		ErrorCount:         in.ErrorCount,
		OrderingViolations: in.OrderingViolations,
		PacketsRead:        snap.PacketsRead,
		FrameErrors:        snap.FrameErrors,
		BackendErrors:      snap.BackendErrors,
		ResultsPublished:   snap.ResultsPublished,
		TicksPublished:     snap.TicksPublished,
		ResultsDelivered:   snap.ResultsDelivered,
		TicksDropped:       snap.TicksDropped,
		ResultsMadeSafe:    snap.ResultsMadeSafe,
		DeliveredByKind:    snap.DeliveredByKind,
		Pauses:             snap.Pauses,
		FramesWritten:      snap.FramesWritten,
		Source:             cfg.Source,
		Combiner:           cfg.Combiner,
		Day:                cfg.Day,
	}
	if in.Err != nil {
		rec.ErrorCode = string(in.Err.Code)
		rec.ErrorMessage = in.Err.Message
	}
	return rec
}

func (r SummaryRecord) toMap() map[string]any {
	m := map[string]any{
		"record_kind":         r.RecordKind,
		"trace_id":            r.TraceID,
		"uri":                 r.URI,
		"workers":             r.Workers,
		"state":               r.State,
		"started_at":          r.StartedAt,
		"finished_at":         r.FinishedAt,
		"duration_ms":         r.DurationMs,
		"error_count":         r.ErrorCount,
		"ordering_violations": r.OrderingViolations,
		"packets_read":        r.PacketsRead,
		"frame_errors":        r.FrameErrors,
		"backend_errors":      r.BackendErrors,
		"results_published":   r.ResultsPublished,
		"ticks_published":     r.TicksPublished,
		"results_delivered":   r.ResultsDelivered,
		"ticks_dropped":       r.TicksDropped,
		"results_made_safe":   r.ResultsMadeSafe,
		"pauses":              r.Pauses,
		"frames_written":      r.FramesWritten,
		"source":              r.Source,
		"combiner":            r.Combiner,
		"day":                 r.Day,
	}
	if r.ErrorCode != "" {
		m["error_code"] = r.ErrorCode
		m["error_message"] = r.ErrorMessage
	}
	if len(r.DeliveredByKind) > 0 {
		byKind := make(map[string]any, len(r.DeliveredByKind))
		for k, v := range r.DeliveredByKind {
			byKind[k] = v
		}
		m["delivered_by_kind"] = byKind
	}
	return m
}
