package types

import (
	"errors"

	"github.com/google/uuid"
)

// TraceMeta is the identity of a trace, attached to logs and persisted records.
type TraceMeta struct {
	// TraceID is a unique identifier for this trace instance.
	TraceID string
	// URI is the backend URI the trace was created from.
	URI string
	// Workers is the configured worker count.
	Workers int
	// Combiner is the active combiner name.
	Combiner string
}

// NewTraceMeta creates trace metadata with a fresh trace ID.
func NewTraceMeta(uri string, workers int) *TraceMeta {
	return &TraceMeta{
		TraceID: uuid.New().String(),
		URI:     uri,
		Workers: workers,
	}
}

// Validate checks required fields.
func (m *TraceMeta) Validate() error {
	if m.TraceID == "" {
		return errors.New("trace_id is required")
	}
	if m.Workers < 1 {
		return errors.New("workers must be >= 1")
	}
	return nil
}
