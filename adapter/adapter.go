// Package adapter publishes trace completion notifications to
// downstream systems. The CLI owns adapter lifecycle; users provide
// configuration only.
package adapter

import (
	"context"
	"fmt"
	"time"
)

// ContractVersion is the version of the TraceCompletedEvent shape.
const ContractVersion = "1.0.0"

// EventTypeTraceCompleted is the EventType of every published event.
const EventTypeTraceCompleted = "trace_completed"

// TraceCompletedEvent is the payload published when a trace finishes.
type TraceCompletedEvent struct {
	ContractVersion    string `json:"contract_version"`
	EventType          string `json:"event_type"` // always "trace_completed"
	TraceID            string `json:"trace_id"`
	URI                string `json:"uri"`
	Source             string `json:"source"`
	Combiner           string `json:"combiner"`
	Workers            int    `json:"workers"`
	Day                string `json:"day"`
	State              string `json:"state"`
	ErrorCode          string `json:"error_code,omitempty"`
	ErrorMessage       string `json:"error_message,omitempty"`
	StoragePath        string `json:"storage_path,omitempty"`
	Timestamp          string `json:"timestamp"` // RFC 3339
	PacketsRead        int64  `json:"packets_read"`
	ResultsDelivered   int64  `json:"results_delivered"`
	OrderingViolations int64  `json:"ordering_violations"`
	DurationMs         int64  `json:"duration_ms"`
}

// Adapter publishes trace completion events to a downstream system.
type Adapter interface {
	// Publish sends a trace completion event.
	// Must respect context cancellation and deadlines.
	Publish(ctx context.Context, event *TraceCompletedEvent) error

	// Close releases adapter resources.
	Close() error
}

// BackoffBase is the delay before the first retry. Each later retry doubles it.
var BackoffBase = 500 * time.Millisecond

// Retry runs op up to 1+retries times with exponential backoff between
// attempts. It stops early when op succeeds, when permanent reports the
// error as non-retriable, or when ctx ends. name prefixes returned errors.
func Retry(ctx context.Context, name string, retries int, op func(context.Context) error, permanent func(error) bool) error {
	attempts := 1 + retries
	var lastErr error
	for i := range attempts {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%s: context canceled: %w", name, err)
		}
		if i > 0 {
			backoff := time.Duration(1<<uint(i-1)) * BackoffBase
			select {
			case <-ctx.Done():
				return fmt.Errorf("%s: context canceled during backoff: %w", name, ctx.Err())
			case <-time.After(backoff):
			}
		}

		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if permanent != nil && permanent(lastErr) {
			return fmt.Errorf("%s: non-retriable error: %w", name, lastErr)
		}
	}
	return fmt.Errorf("%s: failed after %d attempts: %w", name, attempts, lastErr)
}
