package reader

import (
	"context"
	"errors"
	"fmt"

	lodeapi "github.com/justapithecus/lode/lode"

	"github.com/pithecene-io/sluice/lode"
)

// DefaultResultLimit caps the results returned by inspect.
const DefaultResultLimit = 20

// ErrTraceNotFound is returned when no summary exists for a trace.
var ErrTraceNotFound = errors.New("trace not found")

// Reader abstracts read-only access to persisted traces.
type Reader interface {
	InspectTrace(ctx context.Context, traceID string, limit int) (*InspectTraceResponse, error)
}

// DatasetReader reads traces from a Lode results dataset.
type DatasetReader struct {
	ds lodeapi.Dataset
}

// NewDatasetReader wraps an open dataset.
func NewDatasetReader(ds lodeapi.Dataset) *DatasetReader {
	return &DatasetReader{ds: ds}
}

// InspectTrace loads the latest summary of traceID plus its first limit
// results. An empty traceID selects the most recent trace.
func (r *DatasetReader) InspectTrace(ctx context.Context, traceID string, limit int) (*InspectTraceResponse, error) {
	record, err := lode.QueryLatestSummary(ctx, r.ds, traceID, "")
	if err != nil {
		if errors.Is(err, lode.ErrNoSummaryFound) {
			if traceID == "" {
				return nil, fmt.Errorf("%w: dataset has no summaries", ErrTraceNotFound)
			}
			return nil, fmt.Errorf("%w: %s", ErrTraceNotFound, traceID)
		}
		return nil, err
	}
	summary, err := ParseSummaryRecord(record)
	if err != nil {
		return nil, fmt.Errorf("corrupt summary record: %w", err)
	}

	// Ordering is checked over every result, the limit applies to output only.
	records, err := lode.ReadResults(ctx, r.ds, summary.TraceID, 0)
	if err != nil {
		return nil, err
	}

	resp := &InspectTraceResponse{
		Summary:      *summary,
		Results:      []ResultRow{},
		OrderedByKey: true,
	}
	var prev uint64
	for i, rec := range records {
		row := ParseResultRecord(rec)
		if i > 0 && row.Key <= prev {
			resp.OrderedByKey = false
		}
		prev = row.Key
		if limit <= 0 || len(resp.Results) < limit {
			resp.Results = append(resp.Results, row)
		}
	}
	return resp, nil
}

// StubReader returns fixed data, for tests and the TUI preview.
type StubReader struct {
	Response *InspectTraceResponse
	Err      error
}

// InspectTrace implements Reader.
func (s *StubReader) InspectTrace(_ context.Context, traceID string, limit int) (*InspectTraceResponse, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	if s.Response == nil || (traceID != "" && s.Response.Summary.TraceID != traceID) {
		return nil, fmt.Errorf("%w: %s", ErrTraceNotFound, traceID)
	}
	resp := *s.Response
	if limit > 0 && len(resp.Results) > limit {
		resp.Results = resp.Results[:limit]
	}
	return &resp, nil
}
