// Package metrics provides per-trace metrics collection.
//
// The Collector accumulates counters during a single trace. It is a leaf
// package with no internal dependencies. Combiner metrics are absorbed
// from combiner.Stats when the trace finishes rather than recorded live,
// avoiding double-counting.
package metrics

import "sync"

// Snapshot is an immutable point-in-time view of all trace metrics.
// Returned by Collector.Snapshot(). Safe to read concurrently after creation.
type Snapshot struct {
	// Trace lifecycle
	TracesStarted  int64 `json:"traces_started"`
	TracesFinished int64 `json:"traces_finished"`
	TracesFailed   int64 `json:"traces_failed"`
	Pauses         int64 `json:"pauses"`
	Resumes        int64 `json:"resumes"`
	Stops          int64 `json:"stops"`

	// Workers
	PacketsRead      int64 `json:"packets_read"`
	FrameErrors      int64 `json:"frame_errors"`
	BackendErrors    int64 `json:"backend_errors"`
	ResultsPublished int64 `json:"results_published"`
	TicksPublished   int64 `json:"ticks_published"`

	// Combiner (absorbed from combiner.Stats at finish)
	ResultsDelivered int64            `json:"results_delivered"`
	TicksDropped     int64            `json:"ticks_dropped"`
	ResultsMadeSafe  int64            `json:"results_made_safe"`
	DeliveredByKind  map[string]int64 `json:"delivered_by_kind,omitempty"`

	// Outputs
	FramesWritten    int64 `json:"frames_written"`
	LodeWriteSuccess int64 `json:"lode_write_success"`
	LodeWriteFailure int64 `json:"lode_write_failure"`

	// Dimensions (informational, set at construction)
	Combiner       string `json:"combiner"`
	Backend        string `json:"backend"`
	StorageBackend string `json:"storage_backend,omitempty"`
	TraceID        string `json:"trace_id,omitempty"`
}

// Collector accumulates metrics during a single trace.
// Thread-safe via sync.Mutex. All increment methods are nil-receiver safe.
type Collector struct {
	mu sync.Mutex

	tracesStarted  int64
	tracesFinished int64
	tracesFailed   int64
	pauses         int64
	resumes        int64
	stops          int64

	packetsRead      int64
	frameErrors      int64
	backendErrors    int64
	resultsPublished int64
	ticksPublished   int64

	// Set once via AbsorbCombinerStats
	resultsDelivered int64
	ticksDropped     int64
	resultsMadeSafe  int64
	deliveredByKind  map[string]int64

	framesWritten    int64
	lodeWriteSuccess int64
	lodeWriteFailure int64

	combiner       string
	backend        string
	storageBackend string
	traceID        string
}

// NewCollector creates a Collector with dimension labels.
// storageBackend and traceID are optional dimensions.
func NewCollector(combiner, backend, storageBackend, traceID string) *Collector {
	return &Collector{
		deliveredByKind: make(map[string]int64),
		combiner:        combiner,
		backend:         backend,
		storageBackend:  storageBackend,
		traceID:         traceID,
	}
}

// SetTraceID sets the trace_id dimension. Trace IDs are assigned when
// the trace is created, after its collector.
func (c *Collector) SetTraceID(traceID string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.traceID = traceID
	c.mu.Unlock()
}

func (c *Collector) add(field *int64, n int64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	*field += n
	c.mu.Unlock()
}

// --- Trace lifecycle ---

// IncTraceStarted records a trace start.
func (c *Collector) IncTraceStarted() {
	if c == nil {
		return
	}
	c.add(&c.tracesStarted, 1)
}

// IncTraceFinished records a trace reaching FINISHED without a fatal error.
func (c *Collector) IncTraceFinished() {
	if c == nil {
		return
	}
	c.add(&c.tracesFinished, 1)
}

// IncTraceFailed records a trace that finished with a fatal error.
func (c *Collector) IncTraceFailed() {
	if c == nil {
		return
	}
	c.add(&c.tracesFailed, 1)
}

// IncPause records a completed pause.
func (c *Collector) IncPause() {
	if c == nil {
		return
	}
	c.add(&c.pauses, 1)
}

// IncResume records a resume from PAUSED.
func (c *Collector) IncResume() {
	if c == nil {
		return
	}
	c.add(&c.resumes, 1)
}

// IncStop records a stop request.
func (c *Collector) IncStop() {
	if c == nil {
		return
	}
	c.add(&c.stops, 1)
}

// --- Workers ---

// IncPacketsRead records a frame read by a worker.
func (c *Collector) IncPacketsRead() {
	if c == nil {
		return
	}
	c.add(&c.packetsRead, 1)
}

// IncFrameErrors records a malformed frame.
func (c *Collector) IncFrameErrors() {
	if c == nil {
		return
	}
	c.add(&c.frameErrors, 1)
}

// IncBackendErrors records a backend I/O failure.
func (c *Collector) IncBackendErrors() {
	if c == nil {
		return
	}
	c.add(&c.backendErrors, 1)
}

// IncResultsPublished records a published result. Ticks are counted separately too.
func (c *Collector) IncResultsPublished(tick bool) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.resultsPublished++
	if tick {
		c.ticksPublished++
	}
	c.mu.Unlock()
}

// --- Outputs ---

// IncFramesWritten records a frame written to an output sink.
func (c *Collector) IncFramesWritten() {
	if c == nil {
		return
	}
	c.add(&c.framesWritten, 1)
}

// IncLodeWriteSuccess records a successful results dataset write.
func (c *Collector) IncLodeWriteSuccess() {
	if c == nil {
		return
	}
	c.add(&c.lodeWriteSuccess, 1)
}

// IncLodeWriteFailure records a failed results dataset write.
func (c *Collector) IncLodeWriteFailure() {
	if c == nil {
		return
	}
	c.add(&c.lodeWriteFailure, 1)
}

// AbsorbCombinerStats copies delivery counters from combiner.Stats.
// Called once after the trace finishes with the final stats snapshot.
// Kind keys are plain strings to keep this package free of dependencies.
func (c *Collector) AbsorbCombinerStats(delivered, ticksDropped, madeSafe int64, deliveredByKind map[string]int64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.resultsDelivered = delivered
	c.ticksDropped = ticksDropped
	c.resultsMadeSafe = madeSafe
	c.deliveredByKind = make(map[string]int64, len(deliveredByKind))
	for k, v := range deliveredByKind {
		c.deliveredByKind[k] = v
	}
	c.mu.Unlock()
}

// Snapshot returns an immutable copy of all metrics.
// Returns a zero Snapshot for a nil collector.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{DeliveredByKind: map[string]int64{}}
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	byKind := make(map[string]int64, len(c.deliveredByKind))
	for k, v := range c.deliveredByKind {
		byKind[k] = v
	}

	return Snapshot{
		TracesStarted:    c.tracesStarted,
		TracesFinished:   c.tracesFinished,
		TracesFailed:     c.tracesFailed,
		Pauses:           c.pauses,
		Resumes:          c.resumes,
		Stops:            c.stops,
		PacketsRead:      c.packetsRead,
		FrameErrors:      c.frameErrors,
		BackendErrors:    c.backendErrors,
		ResultsPublished: c.resultsPublished,
		TicksPublished:   c.ticksPublished,
		ResultsDelivered: c.resultsDelivered,
		TicksDropped:     c.ticksDropped,
		ResultsMadeSafe:  c.resultsMadeSafe,
		DeliveredByKind:  byKind,
		FramesWritten:    c.framesWritten,
		LodeWriteSuccess: c.lodeWriteSuccess,
		LodeWriteFailure: c.lodeWriteFailure,
		Combiner:         c.combiner,
		Backend:          c.backend,
		StorageBackend:   c.storageBackend,
		TraceID:          c.traceID,
	}
}
