// Package lode persists trace results and summaries to a Lode dataset.
//
// Records are Hive-partitioned by source, day, trace_id and record_kind.
// The filesystem, in-memory and S3 stores supported by Lode can all back
// the dataset.
package lode

import (
	"context"
	"sync"
	"time"

	"github.com/pithecene-io/sluice/log"
	"github.com/pithecene-io/sluice/metrics"
	"github.com/pithecene-io/sluice/types"
)

// DefaultDataset is the dataset ID used by the CLI.
const DefaultDataset = "sluice"

// DefaultBatchSize is the number of results buffered before a write.
const DefaultBatchSize = 512

// DeriveDay computes the partition day from the trace start time.
// Format: YYYY-MM-DD in UTC.
func DeriveDay(startTime time.Time) string {
	return startTime.UTC().Format("2006-01-02")
}

// Config holds the partition keys of one trace's records.
type Config struct {
	// Dataset is the Lode dataset ID.
	Dataset string
	// Source is the backend scheme the packets came from.
	Source string
	// Combiner is the combiner name, recorded on every record.
	Combiner string
	// Day is derived from the trace start time (YYYY-MM-DD UTC).
	Day string
	// TraceID identifies the trace.
	TraceID string
}

// Client abstracts the Lode storage client.
type Client interface {
	// WriteResults writes a batch of results. Order within the batch is kept.
	WriteResults(ctx context.Context, results []ResultRecord) error

	// WriteSummary writes the end-of-trace summary record.
	WriteSummary(ctx context.Context, summary SummaryRecord) error

	// Close releases client resources.
	Close() error
}

// SinkConfig configures a ResultSink.
type SinkConfig struct {
	// BatchSize is the number of results buffered before a write.
	// Zero means DefaultBatchSize.
	BatchSize int
	// IncludeData stores packet bytes alongside the packet metadata.
	IncludeData bool
	// Logger is optional.
	Logger *log.Logger
	// Collector is optional; every write counts as a success or failure.
	Collector *metrics.Collector
}

// ResultSink buffers delivered results and writes them in batches.
// Add is called from the reporter goroutine; Flush and Close may be
// called from any goroutine.
type ResultSink struct {
	config Config
	client Client
	sink   SinkConfig

	mu      sync.Mutex
	buf     []ResultRecord
	written int64
	failed  int64
}

// NewResultSink creates a sink writing to client.
func NewResultSink(config Config, client Client, sinkCfg SinkConfig) *ResultSink {
	if sinkCfg.BatchSize <= 0 {
		sinkCfg.BatchSize = DefaultBatchSize
	}
	return &ResultSink{
		config: config,
		client: client,
		sink:   sinkCfg,
		buf:    make([]ResultRecord, 0, sinkCfg.BatchSize),
	}
}

// Add buffers r, writing the batch once it is full. The record copies
// what it needs, so r may be released afterwards.
func (s *ResultSink) Add(ctx context.Context, r types.Result) error {
	rec := NewResultRecord(r, s.config, s.sink.IncludeData)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.buf = append(s.buf, rec)
	if len(s.buf) < s.sink.BatchSize {
		return nil
	}
	return s.flushLocked(ctx)
}

// Flush writes any buffered results. On failure the buffer is kept so a
// later Flush retries the same records.
func (s *ResultSink) Flush(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushLocked(ctx)
}

func (s *ResultSink) flushLocked(ctx context.Context) error {
	if len(s.buf) == 0 {
		return nil
	}
	if err := s.client.WriteResults(ctx, s.buf); err != nil {
		s.failed++
		s.sink.Collector.IncLodeWriteFailure()
		s.sink.Logger.Error("result write failed", map[string]any{
			"records": len(s.buf),
			"error":   err.Error(),
		})
		return err
	}
	s.written += int64(len(s.buf))
	s.sink.Collector.IncLodeWriteSuccess()
	s.buf = s.buf[:0]
	return nil
}

// WriteSummary flushes pending results, then writes the summary record.
func (s *ResultSink) WriteSummary(ctx context.Context, summary SummaryRecord) error {
	if err := s.Flush(ctx); err != nil {
		return err
	}
	err := s.client.WriteSummary(ctx, summary)
	if err != nil {
		s.sink.Collector.IncLodeWriteFailure()
		return err
	}
	s.sink.Collector.IncLodeWriteSuccess()
	return nil
}

// Written returns the number of results persisted.
func (s *ResultSink) Written() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.written
}

// Pending returns the number of buffered results.
func (s *ResultSink) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buf)
}

// Close flushes and closes the client. The client is closed even if the
// flush fails.
func (s *ResultSink) Close(ctx context.Context) error {
	flushErr := s.Flush(ctx)
	closeErr := s.client.Close()
	if flushErr != nil {
		return flushErr
	}
	return closeErr
}

// StubClient is a test client that records writes without persisting.
type StubClient struct {
	mu        sync.Mutex
	Results   [][]ResultRecord
	Summaries []SummaryRecord
	Closed    bool
	// Err, when set, fails every write.
	Err error
}

// NewStubClient creates a new stub client.
func NewStubClient() *StubClient {
	return &StubClient{}
}

// WriteResults implements Client.
func (c *StubClient) WriteResults(_ context.Context, results []ResultRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Err != nil {
		return c.Err
	}
	batch := make([]ResultRecord, len(results))
	copy(batch, results)
	c.Results = append(c.Results, batch)
	return nil
}

// WriteSummary implements Client.
func (c *StubClient) WriteSummary(_ context.Context, summary SummaryRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Err != nil {
		return c.Err
	}
	c.Summaries = append(c.Summaries, summary)
	return nil
}

// Close implements Client.
func (c *StubClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Closed = true
	return nil
}

// Verify StubClient implements Client.
var _ Client = (*StubClient)(nil)
