// Package reader is the read side of the sluice CLI.
//
// It turns records from a results dataset into the response payloads
// shared by every inspect renderer (json, table, yaml and the TUI).
package reader

// TraceSummary is the persisted end-of-trace summary.
type TraceSummary struct {
	TraceID    string `json:"trace_id" yaml:"trace_id"`
	URI        string `json:"uri" yaml:"uri"`
	Source     string `json:"source" yaml:"source"`
	Combiner   string `json:"combiner" yaml:"combiner"`
	Workers    int64  `json:"workers" yaml:"workers"`
	State      string `json:"state" yaml:"state"`
	Day        string `json:"day" yaml:"day"`
	StartedAt  string `json:"started_at" yaml:"started_at"`
	FinishedAt string `json:"finished_at" yaml:"finished_at"`
	DurationMs int64  `json:"duration_ms" yaml:"duration_ms"`

	ErrorCode    string `json:"error_code,omitempty" yaml:"error_code,omitempty"`
	ErrorMessage string `json:"error_message,omitempty" yaml:"error_message,omitempty"`
	ErrorCount   int64  `json:"error_count" yaml:"error_count"`

	OrderingViolations int64 `json:"ordering_violations" yaml:"ordering_violations"`

	PacketsRead      int64            `json:"packets_read" yaml:"packets_read"`
	FrameErrors      int64            `json:"frame_errors" yaml:"frame_errors"`
	BackendErrors    int64            `json:"backend_errors" yaml:"backend_errors"`
	ResultsPublished int64            `json:"results_published" yaml:"results_published"`
	ResultsDelivered int64            `json:"results_delivered" yaml:"results_delivered"`
	TicksDropped     int64            `json:"ticks_dropped" yaml:"ticks_dropped"`
	Pauses           int64            `json:"pauses" yaml:"pauses"`
	FramesWritten    int64            `json:"frames_written" yaml:"frames_written"`
	DeliveredByKind  map[string]int64 `json:"delivered_by_kind,omitempty" yaml:"delivered_by_kind,omitempty"`
}

// ResultRow is one persisted result, without packet bytes.
type ResultRow struct {
	Key      uint64 `json:"key" yaml:"key"`
	Kind     string `json:"kind" yaml:"kind"`
	Order    uint64 `json:"order,omitempty" yaml:"order,omitempty"`
	Ts       string `json:"ts,omitempty" yaml:"ts,omitempty"`
	LinkType string `json:"link_type,omitempty" yaml:"link_type,omitempty"`
	CapLen   int64  `json:"cap_len,omitempty" yaml:"cap_len,omitempty"`
	WireLen  int64  `json:"wire_len,omitempty" yaml:"wire_len,omitempty"`
	Scalar   uint64 `json:"scalar,omitempty" yaml:"scalar,omitempty"`
}

// InspectTraceResponse is the payload of sluice inspect.
type InspectTraceResponse struct {
	Summary TraceSummary `json:"summary" yaml:"summary"`
	// Results holds the first results by key, capped by the request limit.
	Results []ResultRow `json:"results" yaml:"results"`
	// OrderedByKey is false if persisted keys are not strictly increasing.
	OrderedByKey bool `json:"ordered_by_key" yaml:"ordered_by_key"`
}
