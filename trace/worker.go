package trace

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"

	"github.com/pithecene-io/sluice/backend"
	"github.com/pithecene-io/sluice/packet"
	"github.com/pithecene-io/sluice/types"
)

type controlKind int

const (
	controlPause controlKind = iota
	controlResume
	controlStop
)

type control struct {
	kind controlKind
	fn   WorkerFunc // replacement callback on resume, may be nil
}

var (
	// errReadSuspended means the trace cancelled reads for a pause or stop.
	errReadSuspended = errors.New("reads suspended")
	// errTickInterrupt means a tick interrupted the read; no frame was consumed.
	errTickInterrupt = errors.New("read interrupted by tick")
)

// Worker is the per-goroutine handle passed to the worker callback.
type Worker struct {
	id    int
	trace *Trace
	fn    WorkerFunc

	// Local is free for the callback's per-worker state.
	Local any

	ctrl  chan control
	ack   chan struct{}
	ticks chan uint64
	done  chan struct{}

	intMu     sync.Mutex
	interrupt context.CancelFunc

	current *packet.Packet
	taken   bool
	seen    atomic.Uint64
}

func newWorker(t *Trace, id int, fn WorkerFunc) *Worker {
	return &Worker{
		id:    id,
		trace: t,
		fn:    fn,
		ctrl:  make(chan control, 1),
		ack:   make(chan struct{}, 1),
		ticks: make(chan uint64, 1),
		done:  make(chan struct{}),
	}
}

// ID returns the worker's index in [0, Workers).
func (w *Worker) ID() int { return w.id }

// Trace returns the owning trace.
func (w *Worker) Trace() *Trace { return w.trace }

// Seen returns the number of packets this worker has processed. Safe to
// call from any goroutine.
func (w *Worker) Seen() uint64 { return w.seen.Load() }

// Publish hands a result to the combiner. kind must match value; a
// mismatch is recorded on the trace as an unsupported-feature error.
// Publishing the packet currently being handled transfers its ownership.
//
// Under the ordered combiner key must not be lower than any key this
// worker published before. The sorted combiner accepts any order.
func (w *Worker) Publish(key uint64, value types.Value, kind types.ResultKind) error {
	r, err := types.NewResult(key, value, kind)
	if err != nil {
		var te *types.TraceError
		if errors.As(err, &te) {
			w.trace.record(te)
		}
		return err
	}
	if p := r.Packet(); p != nil && p == w.current {
		w.taken = true
	}
	return w.publish(r)
}

func (w *Worker) publish(r types.Result) error {
	t := w.trace
	if err := t.comb.Publish(w.id, r); err != nil {
		return types.NewTraceError(types.ErrCodeBadState, "publish", err)
	}
	t.collector.IncResultsPublished(r.IsTick())
	t.notifyReporter()
	return nil
}

// publishTick publishes a tick keyed by the last order handed out by
// the trace. Every packet this worker published so far has a key at or
// below it and every packet it reads later has a key above it, so the
// tick is a floor for this worker's queue. Nothing is published before
// the first order is assigned.
func (w *Worker) publishTick(v types.Value) {
	n := w.trace.assigned.Load()
	if n == 0 {
		return
	}
	_ = w.publish(types.Result{Key: n - 1, Value: v})
}

func (w *Worker) dispatch(msg types.Message) {
	if msg.Kind != types.MessagePacket {
		msg.Sender = types.TraceSender
	}
	w.fn(w, msg)
}

// run is the worker goroutine. Returns a non-nil error only when the
// source failed for this worker.
func (w *Worker) run() error {
	defer close(w.done)
	t := w.trace

	w.dispatch(types.Message{Kind: types.MessageStarting})
	for {
		select {
		case c := <-w.ctrl:
			if w.handleControl(c) {
				return nil
			}
			continue
		case ts := <-w.ticks:
			w.handleIntervalTick(ts)
			continue
		default:
		}

		p, err := w.read()
		switch {
		case err == nil:
			w.handlePacket(p)
		case errors.Is(err, errTickInterrupt):
		case errors.Is(err, errReadSuspended):
			if w.handleControl(<-w.ctrl) {
				return nil
			}
		case errors.Is(err, io.EOF):
			t.logger.Debug("worker reached end of input", map[string]any{
				"worker": w.id,
				"seen":   w.seen.Load(),
			})
			w.dispatch(types.Message{Kind: types.MessageStopping})
			return nil
		case backend.IsMalformed(err):
			t.collector.IncFrameErrors()
			t.record(types.NewTraceError(types.ErrCodeBadFrame, "skipped malformed frame", err))
			t.logger.Warn("malformed frame", map[string]any{
				"worker": w.id,
				"error":  err.Error(),
			})
		default:
			t.collector.IncBackendErrors()
			t.record(types.NewTraceError(types.ErrCodeBackendIO, "read failed", err))
			t.logger.Error("backend read failed", map[string]any{
				"worker": w.id,
				"error":  err.Error(),
			})
			w.dispatch(types.Message{Kind: types.MessageStopping})
			return err
		}
	}
}

// handleControl applies a control message. Returns true if the worker must exit.
func (w *Worker) handleControl(c control) bool {
	switch c.kind {
	case controlStop:
		w.dispatch(types.Message{Kind: types.MessageStopping})
		return true
	case controlPause:
		w.dispatch(types.Message{Kind: types.MessagePausing})
		w.ack <- struct{}{}
		next := <-w.ctrl
		if next.kind == controlStop {
			w.dispatch(types.Message{Kind: types.MessageStopping})
			return true
		}
		if next.fn != nil {
			w.fn = next.fn
		}
		w.dispatch(types.Message{Kind: types.MessageResuming})
		return false
	default:
		// A resume without a preceding pause has nothing to undo.
		return false
	}
}

func (w *Worker) handlePacket(p *packet.Packet) {
	t := w.trace
	w.current, w.taken = p, false
	w.fn(w, types.Message{Kind: types.MessagePacket, Packet: p, Sender: w.id})
	if !w.taken {
		p.Release()
	}
	w.current = nil
	seen := w.seen.Add(1)
	t.collector.IncPacketsRead()

	if n := t.cfg.TickCount; n > 0 && seen%n == 0 {
		t.lastTickCount.Store(seen)
		w.dispatch(types.Message{Kind: types.MessageTickCount, Tick: seen})
		w.publishTick(types.TickCountValue{Count: seen})
	}
	t.notifyReporter()
}

func (w *Worker) handleIntervalTick(ts uint64) {
	w.dispatch(types.Message{Kind: types.MessageTickInterval, Tick: ts})
	w.publishTick(types.TickIntervalValue{Timestamp: ts})
}

// read takes the read lock, leases a buffer and reads one frame.
// Waiting for the lock and the read itself are both interruptible by
// ticks and by suspension of reads.
func (w *Worker) read() (*packet.Packet, error) {
	t := w.trace
	readCtx := t.readContext()
	if readCtx.Err() != nil {
		return nil, errReadSuspended
	}

	select {
	case t.readSem <- struct{}{}:
	case <-readCtx.Done():
		return nil, errReadSuspended
	case ts := <-w.ticks:
		w.handleIntervalTick(ts)
		return nil, errTickInterrupt
	}
	defer func() { <-t.readSem }()

	rctx, cancel := context.WithCancel(readCtx)
	w.setInterrupt(cancel)
	defer func() {
		w.setInterrupt(nil)
		cancel()
	}()

	p := t.pool.Lease()
	_, err := t.source.ReadFrame(rctx, p)
	if err != nil {
		p.Release()
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			if readCtx.Err() != nil {
				return nil, errReadSuspended
			}
			return nil, errTickInterrupt
		}
		return nil, err
	}

	p.Order = t.nextOrder
	t.nextOrder++
	t.assigned.Store(t.nextOrder)
	return p, nil
}

func (w *Worker) setInterrupt(cancel context.CancelFunc) {
	w.intMu.Lock()
	w.interrupt = cancel
	w.intMu.Unlock()
}

// postTick queues an interval tick, coalescing with one already pending,
// and interrupts a read in progress so the tick is seen promptly.
func (w *Worker) postTick(ts uint64) {
	select {
	case w.ticks <- ts:
	default:
	}
	w.intMu.Lock()
	if w.interrupt != nil {
		w.interrupt()
	}
	w.intMu.Unlock()
}

// exited reports whether the worker goroutine has returned.
func (w *Worker) exited() bool {
	select {
	case <-w.done:
		return true
	default:
		return false
	}
}
