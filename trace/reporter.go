package trace

import (
	"errors"
	"sync/atomic"
	"time"

	"github.com/pithecene-io/sluice/combiner"
	"github.com/pithecene-io/sluice/types"
)

type reporterMsg struct {
	msg types.Message
	fn  ReporterFunc // replacement callback on resume, may be nil
}

// Reporter is the handle passed to the reporter callback.
type Reporter struct {
	trace *Trace
	fn    ReporterFunc

	// Local is free for the callback's state.
	Local any

	inbox     chan reporterMsg
	delivered atomic.Uint64
}

func newReporter(t *Trace, fn ReporterFunc) *Reporter {
	if fn == nil {
		fn = func(*Reporter, types.Message) {}
	}
	return &Reporter{
		trace: t,
		fn:    fn,
		inbox: make(chan reporterMsg, 16),
	}
}

// Trace returns the owning trace.
func (r *Reporter) Trace() *Trace { return r.trace }

// Delivered returns the number of results handed to the callback. Safe
// to call from any goroutine.
func (r *Reporter) Delivered() uint64 { return r.delivered.Load() }

// output adapts the reporter to a combiner output. Deliveries happen on
// the reporter goroutine because only it calls Read and ReadFinal.
func (r *Reporter) output() combiner.Output {
	return combiner.OutputFunc(r.deliver)
}

func (r *Reporter) deliver(res types.Result) {
	r.delivered.Add(1)
	r.fn(r, types.Message{Kind: types.MessageResult, Result: &res, Sender: types.TraceSender})
	res.Release()
}

// post queues a lifecycle message. Blocks until there is room.
func (r *Reporter) post(msg types.Message, fn ReporterFunc) {
	msg.Sender = types.TraceSender
	r.inbox <- reporterMsg{msg: msg, fn: fn}
}

// tryPost queues a message unless the inbox is full.
func (r *Reporter) tryPost(msg types.Message) {
	msg.Sender = types.TraceSender
	select {
	case r.inbox <- reporterMsg{msg: msg}:
	default:
	}
}

// run is the reporter goroutine.
func (r *Reporter) run() {
	t := r.trace
	r.fn(r, types.Message{Kind: types.MessageStarting, Sender: types.TraceSender})

	for {
		select {
		case <-t.notify:
			t.comb.Read()
		case m := <-r.inbox:
			if m.fn != nil {
				r.fn = m.fn
			}
			if m.msg.Kind == types.MessageStopping {
				r.finish()
				return
			}
			r.fn(r, m.msg)
			if m.msg.Kind.IsTick() {
				t.comb.Read()
			}
		}
	}
}

// finish drains the combiner, tells the callback the trace is stopping,
// destroys the combiner and marks the trace FINISHED.
func (r *Reporter) finish() {
	t := r.trace

	t.comb.ReadFinal()
	r.fn(r, types.Message{Kind: types.MessageStopping, Sender: types.TraceSender})

	if err := t.comb.Destroy(); err != nil {
		var te *types.TraceError
		if !errors.As(err, &te) {
			te = types.NewTraceError(types.ErrCodeInvariant, "destroy combiner", err)
		}
		t.record(te)
		t.logger.Error("combiner destroy failed", map[string]any{"error": err.Error()})
	}

	stats := t.comb.Stats()
	byKind := make(map[string]int64, len(stats.DeliveredByKind))
	for k, v := range stats.DeliveredByKind {
		byKind[string(k)] = v
	}
	t.collector.AbsorbCombinerStats(stats.Delivered, stats.TicksDropped, stats.MadeSafe, byKind)

	t.mu.Lock()
	t.setStateLocked(types.StateFinished)
	t.finishedAt = time.Now()
	failed := t.fatal != nil
	t.mu.Unlock()

	if failed {
		t.collector.IncTraceFailed()
	} else {
		t.collector.IncTraceFinished()
	}
	t.logger.Info("trace finished", map[string]any{
		"delivered":     stats.Delivered,
		"ticks_dropped": stats.TicksDropped,
		"failed":        failed,
	})
	close(t.finished)
}
