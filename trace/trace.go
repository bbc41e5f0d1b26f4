// Package trace runs parallel packet processing over a backend source.
//
// A Trace owns a source, a pool of read buffers, N worker goroutines and
// one reporter goroutine. Workers read frames, run the worker callback
// and publish results; a combiner merges the per-worker results and
// hands them to the reporter callback.
//
// Lifecycle:
//
//	NEW -> RUNNING -> PAUSING -> PAUSED -> RUNNING -> STOPPING -> FINISHED
//
// Start moves NEW or PAUSED to RUNNING, Pause suspends every worker,
// Stop ends the trace, and Join waits for FINISHED. A trace also reaches
// STOPPING on its own once every worker has run out of input.
package trace

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/gopacket/layers"

	"github.com/pithecene-io/sluice/backend"
	"github.com/pithecene-io/sluice/backend/builtin"
	"github.com/pithecene-io/sluice/combiner"
	"github.com/pithecene-io/sluice/log"
	"github.com/pithecene-io/sluice/metrics"
	"github.com/pithecene-io/sluice/packet"
	"github.com/pithecene-io/sluice/types"
)

// maxRecordedErrors bounds the error history kept by a trace.
const maxRecordedErrors = 256

// WorkerFunc handles a message on a worker goroutine.
//
// For MessagePacket the callback owns msg.Packet until it returns. A
// packet that is published as a PacketValue passes to the combiner;
// otherwise the trace releases it after the callback returns.
//
// The ordered combiner needs each worker to publish non-decreasing keys.
// Use the sorted combiner when a worker publishes keys out of order.
type WorkerFunc func(w *Worker, msg types.Message)

// ReporterFunc handles a message on the reporter goroutine.
//
// For MessageResult the callback owns msg.Result until it returns; the
// trace releases the result's storage afterwards. Clone a packet to keep it.
type ReporterFunc func(r *Reporter, msg types.Message)

// Trace is a handle on one parallel processing run.
type Trace struct {
	cfg       Config
	meta      *types.TraceMeta
	source    backend.Source
	pool      *packet.Pool
	logger    *log.Logger
	collector *metrics.Collector

	// ctlMu serializes Start, Pause and Stop.
	ctlMu sync.Mutex

	mu          sync.Mutex // guards the fields below
	state       types.TraceState
	comb        combiner.Combiner
	readCtx     context.Context
	readCancel  context.CancelFunc
	workers     []*Worker
	reporter    *Reporter
	workersDone chan struct{}
	startedAt   time.Time
	finishedAt  time.Time
	errs        []*types.TraceError
	errCount    int64
	fatal       *types.TraceError

	// readSem serializes backend reads and order assignment.
	readSem   chan struct{}
	nextOrder uint64        // guarded by readSem
	assigned  atomic.Uint64 // number of orders handed out

	notify       chan struct{}
	tickerStop   chan struct{} // guarded by mu
	finalizeOnce sync.Once
	finished     chan struct{}

	lastTickTimestamp atomic.Uint64
	lastTickCount     atomic.Uint64
}

// Create resolves the source and returns a trace in state NEW.
func Create(cfg Config) (*Trace, error) {
	cfg.applyDefaults()

	src := cfg.Source
	if src == nil {
		if cfg.URI == "" {
			return nil, types.NewTraceError(types.ErrCodeURI, "no source", ErrNoSource)
		}
		reg := cfg.Registry
		if reg == nil {
			reg = builtin.NewRegistry()
		}
		var err error
		src, err = reg.OpenSource(cfg.URI)
		if err != nil {
			return nil, err
		}
	}

	pool, err := packet.NewPool(cfg.BufferSize)
	if err != nil {
		return nil, types.NewTraceError(types.ErrCodeInitFailed, "buffer pool", err)
	}

	meta := types.NewTraceMeta(cfg.URI, cfg.Workers)
	logger := cfg.Logger.With("trace_id", meta.TraceID)

	t := &Trace{
		cfg:       cfg,
		meta:      meta,
		source:    src,
		pool:      pool,
		logger:    logger,
		collector: cfg.Collector,
		state:     types.StateNew,
		readSem:   make(chan struct{}, 1),
		notify:    make(chan struct{}, 1),
		finished:  make(chan struct{}),
	}
	t.logger.Debug("trace created", map[string]any{
		"uri":     cfg.URI,
		"workers": cfg.Workers,
	})
	return t, nil
}

// SetCombiner selects the result combiner. Only valid in NEW.
// Without a call, Start uses the default combiner.
func (t *Trace) SetCombiner(c combiner.Combiner) error {
	if c == nil {
		return types.NewTraceError(types.ErrCodeUnsupported, "nil combiner", nil)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != types.StateNew {
		return t.badState("set combiner")
	}
	t.comb = c
	t.meta.Combiner = c.Name()
	return nil
}

// Meta returns the trace identity.
func (t *Trace) Meta() types.TraceMeta {
	t.mu.Lock()
	defer t.mu.Unlock()
	return *t.meta
}

// State returns the current lifecycle state.
func (t *Trace) State() types.TraceState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Workers returns the configured worker count.
func (t *Trace) Workers() int {
	return t.cfg.Workers
}

// LinkType returns the framing of packets produced by the source.
func (t *Trace) LinkType() layers.LinkType {
	return t.source.LinkType()
}

// Err returns the first fatal error, or the most recent error of any
// kind if nothing fatal happened. Returns nil if no error was recorded.
func (t *Trace) Err() *types.TraceError {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.fatal != nil {
		return t.fatal
	}
	if n := len(t.errs); n > 0 {
		return t.errs[n-1]
	}
	return nil
}

// Errors returns the recorded errors, oldest first. At most the first
// maxRecordedErrors are kept; ErrorCount reports the full number.
func (t *Trace) Errors() []*types.TraceError {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*types.TraceError, len(t.errs))
	copy(out, t.errs)
	return out
}

// ErrorCount returns how many errors were recorded.
func (t *Trace) ErrorCount() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.errCount
}

// LastTickTimestamp returns the time of the last interval tick in unix nanoseconds.
func (t *Trace) LastTickTimestamp() uint64 {
	return t.lastTickTimestamp.Load()
}

// LastTickCount returns the packet count carried by the last count tick.
func (t *Trace) LastTickCount() uint64 {
	return t.lastTickCount.Load()
}

// Destroy releases the source and the packet pool. Valid in NEW and
// FINISHED.
func (t *Trace) Destroy() error {
	t.mu.Lock()
	if t.state != types.StateNew && t.state != types.StateFinished {
		err := t.badState("destroy")
		t.mu.Unlock()
		return err
	}
	t.mu.Unlock()
	// Drop the free list so idle buffers can be collected.
	t.pool.Reset()
	if err := t.source.Close(); err != nil {
		return types.NewTraceError(types.ErrCodeBackendIO, "close source", err)
	}
	t.logger.Debug("trace destroyed", map[string]any{"abandoned": t.pool.Stats().Abandoned})
	return nil
}

// record stores err. Fatal errors are kept separately so Err and Join
// can report the first one.
func (t *Trace) record(err *types.TraceError) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.recordLocked(err)
}

func (t *Trace) recordLocked(err *types.TraceError) {
	t.errCount++
	if len(t.errs) < maxRecordedErrors {
		t.errs = append(t.errs, err)
	}
	if err.IsFatal() && t.fatal == nil {
		t.fatal = err
	}
}

// badState builds and records a bad-state error. Caller must hold mu.
func (t *Trace) badState(op string) *types.TraceError {
	err := types.NewTraceError(types.ErrCodeBadState,
		fmt.Sprintf("cannot %s in state %s", op, t.state), nil)
	t.recordLocked(err)
	return err
}

// setStateLocked moves to next. Caller must hold mu.
func (t *Trace) setStateLocked(next types.TraceState) {
	if !t.state.CanTransition(next) {
		// Internal transitions are checked by callers; reaching here is a bug.
		panic(fmt.Sprintf("trace: illegal transition %s -> %s", t.state, next))
	}
	t.logger.Debug("state change", map[string]any{
		"from": string(t.state),
		"to":   string(next),
	})
	t.state = next
}

func (t *Trace) readContext() context.Context {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.readCtx
}

// notifyReporter wakes the reporter to run the combiner's Read.
func (t *Trace) notifyReporter() {
	select {
	case t.notify <- struct{}{}:
	default:
	}
}
