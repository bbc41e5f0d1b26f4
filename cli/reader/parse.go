package reader

import (
	"errors"
	"math"
)

// ParseSummaryRecord converts a Lode summary record to a TraceSummary.
// Handles both int64 (direct writes) and float64 (JSON round-trips) for numeric fields.
func ParseSummaryRecord(record map[string]any) (*TraceSummary, error) {
	if record == nil {
		return nil, errors.New("nil record")
	}

	s := &TraceSummary{
		TraceID:    toString(record["trace_id"]),
		URI:        toString(record["uri"]),
		Source:     toString(record["source"]),
		Combiner:   toString(record["combiner"]),
		Workers:    toInt64(record["workers"]),
		State:      toString(record["state"]),
		Day:        toString(record["day"]),
		StartedAt:  toString(record["started_at"]),
		FinishedAt: toString(record["finished_at"]),
		DurationMs: toInt64(record["duration_ms"]),

		ErrorCode:    toString(record["error_code"]),
		ErrorMessage: toString(record["error_message"]),
		ErrorCount:   toInt64(record["error_count"]),

		OrderingViolations: toInt64(record["ordering_violations"]),

		PacketsRead:      toInt64(record["packets_read"]),
		FrameErrors:      toInt64(record["frame_errors"]),
		BackendErrors:    toInt64(record["backend_errors"]),
		ResultsPublished: toInt64(record["results_published"]),
		ResultsDelivered: toInt64(record["results_delivered"]),
		TicksDropped:     toInt64(record["ticks_dropped"]),
		Pauses:           toInt64(record["pauses"]),
		FramesWritten:    toInt64(record["frames_written"]),
	}
	if dbk, ok := record["delivered_by_kind"]; ok && dbk != nil {
		s.DeliveredByKind = parseCountMap(dbk)
	}

	// The write path always populates these.
	if s.TraceID == "" {
		return nil, errors.New("summary record missing required field: trace_id")
	}
	if s.State == "" {
		return nil, errors.New("summary record missing required field: state")
	}
	return s, nil
}

// ParseResultRecord converts a Lode result record to a ResultRow.
func ParseResultRecord(record map[string]any) ResultRow {
	return ResultRow{
		Key:      toUint64(record["key"]),
		Kind:     toString(record["kind"]),
		Order:    toUint64(record["order"]),
		Ts:       toString(record["ts"]),
		LinkType: toString(record["link_type"]),
		CapLen:   toInt64(record["cap_len"]),
		WireLen:  toInt64(record["wire_len"]),
		Scalar:   toUint64(record["scalar"]),
	}
}

// toInt64 converts a value to int64, handling float64 from JSON and int64 from direct writes.
func toInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case uint64:
		if n > math.MaxInt64 {
			return math.MaxInt64
		}
		return int64(n)
	case float64:
		return int64(n)
	case int:
		return int64(n)
	default:
		return 0
	}
}

func toUint64(v any) uint64 {
	switch n := v.(type) {
	case uint64:
		return n
	case int64:
		if n < 0 {
			return 0
		}
		return uint64(n)
	case int:
		if n < 0 {
			return 0
		}
		return uint64(n)
	case float64:
		if n < 0 {
			return 0
		}
		return uint64(n)
	default:
		return 0
	}
}

// toString converts a value to string, returning empty string for nil/non-string.
func toString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// parseCountMap handles both map[string]int64 (direct) and map[string]any
// (JSON round-trip).
func parseCountMap(v any) map[string]int64 {
	switch m := v.(type) {
	case map[string]int64:
		return m
	case map[string]any:
		result := make(map[string]int64, len(m))
		for k, val := range m {
			result[k] = toInt64(val)
		}
		return result
	default:
		return nil
	}
}
