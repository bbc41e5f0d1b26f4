package trace

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/pithecene-io/sluice/metrics"
)

// Report is the structured JSON report written by --report.
type Report struct {
	TraceID    string `json:"trace_id"`
	URI        string `json:"uri"`
	Workers    int    `json:"workers"`
	State      string `json:"state"`
	ExitCode   int    `json:"exit_code"`
	DurationMs int64  `json:"duration_ms"`

	Combiner *ReportCombiner   `json:"combiner"`
	Error    *ReportError      `json:"error,omitempty"`
	Metrics  *metrics.Snapshot `json:"metrics"`

	OrderingViolations int64  `json:"ordering_violations"`
	LastTickTimestamp  uint64 `json:"last_tick_timestamp,omitempty"`
	LastTickCount      uint64 `json:"last_tick_count,omitempty"`
}

// ReportCombiner holds combiner stats in the report.
type ReportCombiner struct {
	Name            string           `json:"name"`
	Published       int64            `json:"published"`
	Delivered       int64            `json:"delivered"`
	TicksDropped    int64            `json:"ticks_dropped"`
	MadeSafe        int64            `json:"made_safe"`
	DeliveredByKind map[string]int64 `json:"delivered_by_kind,omitempty"`
}

// ReportError is the (code, message) pair of the trace's error.
type ReportError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Count   int64  `json:"count"`
}

// BuildReport composes a Report from a summary and metrics snapshot.
// violations is the number of ordering violations the reporter observed.
func BuildReport(s Summary, snap metrics.Snapshot, violations int64, exitCode int) *Report {
	byKind := make(map[string]int64, len(s.Combiner.DeliveredByKind))
	for k, v := range s.Combiner.DeliveredByKind {
		byKind[string(k)] = v
	}
	report := &Report{
		TraceID:    s.Meta.TraceID,
		URI:        s.Meta.URI,
		Workers:    s.Meta.Workers,
		State:      string(s.State),
		ExitCode:   exitCode,
		DurationMs: s.Duration.Milliseconds(),
		Combiner: &ReportCombiner{
			Name:            s.Meta.Combiner,
			Published:       s.Combiner.Published,
			Delivered:       s.Combiner.Delivered,
			TicksDropped:    s.Combiner.TicksDropped,
			MadeSafe:        s.Combiner.MadeSafe,
			DeliveredByKind: byKind,
		},
		Metrics:            &snap,
		OrderingViolations: violations,
		LastTickTimestamp:  s.LastTickTimestamp,
		LastTickCount:      s.LastTickCount,
	}
	if s.Err != nil {
		report.Error = &ReportError{
			Code:    string(s.Err.Code),
			Message: s.Err.Message,
			Count:   s.ErrorCount,
		}
	}
	return report
}

// WriteReport writes the report as JSON to path. "-" writes to stderr.
func WriteReport(report *Report, path string) error {
	if path == "" {
		return errors.New("report path must not be empty")
	}
	if path == "-" {
		if err := writeReportTo(report, os.Stderr); err != nil {
			return fmt.Errorf("failed to write report to stderr: %w", err)
		}
		return nil
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create report %s: %w", path, err)
	}
	if err := writeReportTo(report, f); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to write report to %s: %w", path, err)
	}
	return f.Close()
}

func writeReportTo(report *Report, w io.Writer) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}
	data = append(data, '\n')
	_, err = w.Write(data)
	return err
}
