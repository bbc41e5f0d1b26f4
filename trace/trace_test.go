package trace_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pithecene-io/sluice/backend/memory"
	"github.com/pithecene-io/sluice/combiner"
	"github.com/pithecene-io/sluice/metrics"
	"github.com/pithecene-io/sluice/trace"
	"github.com/pithecene-io/sluice/types"
)

const waitTimeout = 5 * time.Second

func newTrace(t *testing.T, cfg trace.Config) *trace.Trace {
	t.Helper()
	tr, err := trace.Create(cfg)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	t.Cleanup(func() { _ = tr.Destroy() })
	return tr
}

func join(t *testing.T, tr *trace.Trace) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(t.Context(), waitTimeout)
	defer cancel()
	err := tr.Join(ctx)
	if ctx.Err() != nil {
		t.Fatalf("Join timed out in state %s", tr.State())
	}
	return err
}

func waitFor(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(waitTimeout):
		t.Fatalf("timed out waiting for %s", what)
	}
}

// publishPackets publishes every packet keyed by its order.
func publishPackets(w *trace.Worker, msg types.Message) {
	if msg.Kind != types.MessagePacket {
		return
	}
	_ = w.Publish(msg.Packet.Order, types.PacketValue{Packet: msg.Packet}, types.ResultKindPacket)
}

// orderChecker is reporter state asserting that results arrive with
// strictly increasing keys equal to their packet order.
type orderChecker struct {
	count      int
	violations int
	mismatched int
	last       uint64
	seenAny    bool
	lifecycle  []types.MessageKind

	at    int
	reach chan struct{}
}

func newOrderChecker(at int) *orderChecker {
	return &orderChecker{at: at, reach: make(chan struct{})}
}

func (c *orderChecker) report(_ *trace.Reporter, msg types.Message) {
	if msg.Kind != types.MessageResult {
		if msg.Kind.IsLifecycle() {
			c.lifecycle = append(c.lifecycle, msg.Kind)
		}
		return
	}
	r := msg.Result
	p := r.Packet()
	if p == nil {
		c.mismatched++
		return
	}
	if p.Order != r.Key {
		c.mismatched++
	}
	if idx, ok := memory.SyntheticIndex(p.Data); !ok || idx != r.Key {
		c.mismatched++
	}
	if c.seenAny && r.Key <= c.last {
		c.violations++
	}
	c.last, c.seenAny = r.Key, true
	c.count++
	if c.count == c.at {
		close(c.reach)
	}
}

func TestTrace_ParallelReporter_PauseAndRestart(t *testing.T) {
	const total = 100
	src := memory.NewSource(memory.Options{Count: total, Block: true})
	collector := metrics.NewCollector(combiner.OrderedName, memory.Scheme, "", "")
	tr := newTrace(t, trace.Config{
		Source:       src,
		Workers:      4,
		TickInterval: 2 * time.Millisecond,
		Collector:    collector,
	})

	half := newOrderChecker(total / 2)
	all := make(chan struct{})
	var once sync.Once
	reporter := func(r *trace.Reporter, msg types.Message) {
		half.report(r, msg)
		if half.count == total {
			once.Do(func() { close(all) })
		}
	}

	if err := tr.Start(t.Context(), publishPackets, reporter); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	waitFor(t, half.reach, "half of the packets")

	if err := tr.Pause(t.Context()); err != nil {
		t.Fatalf("Pause failed: %v", err)
	}
	if got := tr.State(); got != types.StatePaused {
		t.Fatalf("state after Pause = %s, want paused", got)
	}
	if err := tr.Start(t.Context(), nil, nil); err != nil {
		t.Fatalf("restart failed: %v", err)
	}

	waitFor(t, all, "every packet")
	if err := tr.Stop(t.Context()); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if err := join(t, tr); err != nil {
		t.Fatalf("Join returned %v", err)
	}

	if half.count != total {
		t.Errorf("reporter counted %d packets, want %d", half.count, total)
	}
	if half.violations != 0 {
		t.Errorf("%d ordering violations", half.violations)
	}
	if half.mismatched != 0 {
		t.Errorf("%d results whose key did not match the packet", half.mismatched)
	}
	if starts, pauses := src.Counts(); starts != 2 || pauses != 1 {
		t.Errorf("source starts=%d pauses=%d, want 2 and 1", starts, pauses)
	}

	want := []types.MessageKind{
		types.MessageStarting, types.MessagePausing, types.MessageResuming, types.MessageStopping,
	}
	if len(half.lifecycle) != len(want) {
		t.Fatalf("reporter lifecycle = %v, want %v", half.lifecycle, want)
	}
	for i := range want {
		if half.lifecycle[i] != want[i] {
			t.Errorf("lifecycle[%d] = %s, want %s", i, half.lifecycle[i], want[i])
		}
	}

	snap := collector.Snapshot()
	if snap.PacketsRead != total {
		t.Errorf("PacketsRead = %d, want %d", snap.PacketsRead, total)
	}
	if snap.Pauses != 1 || snap.Resumes != 1 || snap.Stops != 1 {
		t.Errorf("pauses=%d resumes=%d stops=%d", snap.Pauses, snap.Resumes, snap.Stops)
	}
	if snap.TracesFinished != 1 {
		t.Errorf("TracesFinished = %d, want 1", snap.TracesFinished)
	}
	if tr.LastTickTimestamp() == 0 {
		t.Error("expected an interval tick to be recorded")
	}
}

func TestTrace_NaturalFinish_Sorted(t *testing.T) {
	const total = 20
	tr := newTrace(t, trace.Config{URI: "mem:20", Workers: 3})
	if err := tr.SetCombiner(combiner.NewSortedCombiner(combiner.Options{})); err != nil {
		t.Fatalf("SetCombiner failed: %v", err)
	}

	var starting, stopping atomic.Int32
	worker := func(w *trace.Worker, msg types.Message) {
		switch msg.Kind {
		case types.MessageStarting:
			starting.Add(1)
		case types.MessageStopping:
			stopping.Add(1)
		}
		publishPackets(w, msg)
	}

	checker := newOrderChecker(total)
	if err := tr.Start(t.Context(), worker, checker.report); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := join(t, tr); err != nil {
		t.Fatalf("Join returned %v", err)
	}

	if got := tr.State(); got != types.StateFinished {
		t.Errorf("state = %s, want finished", got)
	}
	if checker.count != total || checker.violations != 0 || checker.mismatched != 0 {
		t.Errorf("count=%d violations=%d mismatched=%d", checker.count, checker.violations, checker.mismatched)
	}
	if starting.Load() != 3 || stopping.Load() != 3 {
		t.Errorf("worker STARTING=%d STOPPING=%d, want 3 each", starting.Load(), stopping.Load())
	}
	if n := len(checker.lifecycle); n != 2 || checker.lifecycle[0] != types.MessageStarting ||
		checker.lifecycle[n-1] != types.MessageStopping {
		t.Errorf("reporter lifecycle = %v", checker.lifecycle)
	}

	s := tr.Summary()
	if s.Meta.Combiner != combiner.SortedName {
		t.Errorf("summary combiner = %q", s.Meta.Combiner)
	}
	if s.Combiner.Delivered != total || s.Combiner.Pending != 0 {
		t.Errorf("combiner stats = %+v", s.Combiner)
	}
	if s.FinishedAt.IsZero() || s.Duration < 0 {
		t.Errorf("summary timing: %+v", s)
	}
	if tr.Err() != nil {
		t.Errorf("Err() = %v, want nil", tr.Err())
	}
}

func TestTrace_BadStateTransitions(t *testing.T) {
	tr := newTrace(t, trace.Config{
		Source:  memory.NewSource(memory.Options{Count: 5, Block: true}),
		Workers: 2,
	})

	if err := tr.Pause(t.Context()); types.ErrorCodeOf(err) != types.ErrCodeBadState {
		t.Errorf("Pause in NEW: got %v, want bad_state", err)
	}
	if err := tr.Stop(t.Context()); types.ErrorCodeOf(err) != types.ErrCodeBadState {
		t.Errorf("Stop in NEW: got %v, want bad_state", err)
	}
	if err := tr.Start(t.Context(), nil, nil); types.ErrorCodeOf(err) != types.ErrCodeUnsupported {
		t.Errorf("Start without worker: got %v, want unsupported", err)
	}

	if err := tr.Start(t.Context(), publishPackets, nil); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := tr.Start(t.Context(), publishPackets, nil); types.ErrorCodeOf(err) != types.ErrCodeBadState {
		t.Errorf("second Start: got %v, want bad_state", err)
	}
	if err := tr.SetCombiner(combiner.NewSortedCombiner(combiner.Options{})); types.ErrorCodeOf(err) != types.ErrCodeBadState {
		t.Errorf("SetCombiner while running: got %v, want bad_state", err)
	}
	if err := tr.Destroy(); types.ErrorCodeOf(err) != types.ErrCodeBadState {
		t.Errorf("Destroy while running: got %v, want bad_state", err)
	}

	if err := tr.Stop(t.Context()); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if err := join(t, tr); err != nil {
		t.Fatalf("Join returned %v", err)
	}
	if err := tr.Stop(t.Context()); err != nil {
		t.Errorf("Stop after finish: got %v, want nil", err)
	}
	if err := tr.Pause(t.Context()); types.ErrorCodeOf(err) != types.ErrCodeBadState {
		t.Errorf("Pause after finish: got %v, want bad_state", err)
	}
	if err := tr.Destroy(); err != nil {
		t.Errorf("Destroy after finish: %v", err)
	}
}

func TestTrace_MalformedFramesAreSkipped(t *testing.T) {
	src := memory.NewSource(memory.Options{Count: 10, Malformed: map[int]bool{3: true, 7: true}})
	tr := newTrace(t, trace.Config{Source: src, Workers: 2})

	var delivered atomic.Int32
	reporter := func(_ *trace.Reporter, msg types.Message) {
		if msg.Kind == types.MessageResult {
			delivered.Add(1)
		}
	}
	if err := tr.Start(t.Context(), publishPackets, reporter); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := join(t, tr); err != nil {
		t.Fatalf("Join returned %v", err)
	}

	if got := delivered.Load(); got != 8 {
		t.Errorf("delivered %d results, want 8", got)
	}
	errs := tr.Errors()
	if len(errs) != 2 {
		t.Fatalf("recorded %d errors, want 2: %v", len(errs), errs)
	}
	for _, e := range errs {
		if e.Code != types.ErrCodeBadFrame {
			t.Errorf("error code %s, want bad_frame", e.Code)
		}
	}
	if got := tr.Err(); got == nil || got.Code != types.ErrCodeBadFrame {
		t.Errorf("Err() = %v, want bad_frame", got)
	}
}

func TestTrace_BackendFailureEndsWorker(t *testing.T) {
	src := memory.NewSource(memory.Options{Count: 10, FailAt: 5})
	tr := newTrace(t, trace.Config{Source: src, Workers: 1})

	checker := newOrderChecker(5)
	if err := tr.Start(t.Context(), publishPackets, checker.report); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := join(t, tr); err != nil {
		t.Fatalf("Join returned %v, backend errors are not fatal", err)
	}

	if checker.count != 5 {
		t.Errorf("delivered %d results, want 5", checker.count)
	}
	if got := tr.Err(); got == nil || got.Code != types.ErrCodeBackendIO {
		t.Errorf("Err() = %v, want backend_io", got)
	}
}

func TestTrace_TickCount(t *testing.T) {
	tr := newTrace(t, trace.Config{URI: "mem:40", Workers: 2, TickCount: 5})

	var ticks atomic.Int32
	worker := func(w *trace.Worker, msg types.Message) {
		if msg.Kind == types.MessageTickCount {
			ticks.Add(1)
			if msg.Tick == 0 || msg.Tick%5 != 0 {
				t.Errorf("tick count %d is not a multiple of 5", msg.Tick)
			}
		}
		publishPackets(w, msg)
	}
	var tickResults atomic.Int32
	reporter := func(_ *trace.Reporter, msg types.Message) {
		if msg.Kind == types.MessageResult && msg.Result.IsTick() {
			tickResults.Add(1)
		}
	}

	if err := tr.Start(t.Context(), worker, reporter); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := join(t, tr); err != nil {
		t.Fatalf("Join returned %v", err)
	}

	if ticks.Load() == 0 {
		t.Error("expected count ticks on workers")
	}
	if tickResults.Load() != 0 {
		t.Errorf("reporter received %d tick results", tickResults.Load())
	}
	stats := tr.Summary().Combiner
	if stats.TicksPublished != int64(ticks.Load()) {
		t.Errorf("TicksPublished = %d, want %d", stats.TicksPublished, ticks.Load())
	}
	if stats.TicksDropped != stats.TicksPublished {
		t.Errorf("TicksDropped = %d, want %d", stats.TicksDropped, stats.TicksPublished)
	}
	if stats.Delivered != 40 {
		t.Errorf("Delivered = %d, want 40", stats.Delivered)
	}
	if tr.LastTickCount() == 0 {
		t.Error("LastTickCount not recorded")
	}
}

func TestTrace_IntervalTickReachesIdleWorkers(t *testing.T) {
	tr := newTrace(t, trace.Config{
		Source:       memory.NewSource(memory.Options{Count: 3, Block: true}),
		Workers:      2,
		TickInterval: time.Millisecond,
	})

	workerTick := make(chan struct{})
	reporterTick := make(chan struct{})
	var wOnce, rOnce sync.Once
	worker := func(w *trace.Worker, msg types.Message) {
		if msg.Kind == types.MessageTickInterval {
			if msg.Sender != types.TraceSender || msg.Tick == 0 {
				t.Errorf("bad tick message %+v", msg)
			}
			wOnce.Do(func() { close(workerTick) })
		}
		publishPackets(w, msg)
	}
	checker := newOrderChecker(3)
	reporter := func(r *trace.Reporter, msg types.Message) {
		if msg.Kind == types.MessageTickInterval {
			rOnce.Do(func() { close(reporterTick) })
		}
		checker.report(r, msg)
	}

	if err := tr.Start(t.Context(), worker, reporter); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	waitFor(t, workerTick, "worker tick")
	waitFor(t, reporterTick, "reporter tick")
	// Ticks act as floors, so every packet is released before Stop.
	waitFor(t, checker.reach, "all packets")

	if err := tr.Stop(t.Context()); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if err := join(t, tr); err != nil {
		t.Fatalf("Join returned %v", err)
	}
	if checker.violations != 0 {
		t.Errorf("%d ordering violations", checker.violations)
	}
}

func TestTrace_StopWhilePaused(t *testing.T) {
	tr := newTrace(t, trace.Config{
		Source:  memory.NewSource(memory.Options{Count: 30, Block: true}),
		Workers: 3,
	})
	checker := newOrderChecker(30)
	if err := tr.Start(t.Context(), publishPackets, checker.report); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := tr.Pause(t.Context()); err != nil {
		t.Fatalf("Pause failed: %v", err)
	}
	if err := tr.Stop(t.Context()); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if err := join(t, tr); err != nil {
		t.Fatalf("Join returned %v", err)
	}
	if checker.violations != 0 {
		t.Errorf("%d ordering violations", checker.violations)
	}
	if n := len(checker.lifecycle); n == 0 || checker.lifecycle[n-1] != types.MessageStopping {
		t.Errorf("reporter lifecycle = %v", checker.lifecycle)
	}
	if s := tr.Summary(); s.Combiner.Pending != 0 {
		t.Errorf("pending results after finish: %d", s.Combiner.Pending)
	}
}

func TestTrace_ResumeReplacesCallbacks(t *testing.T) {
	tr := newTrace(t, trace.Config{
		Source:  memory.NewSource(memory.Options{Count: 10, Block: true}),
		Workers: 2,
	})
	if err := tr.Start(t.Context(), publishPackets, nil); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := tr.Pause(t.Context()); err != nil {
		t.Fatalf("Pause failed: %v", err)
	}

	var resumed atomic.Int32
	worker := func(w *trace.Worker, msg types.Message) {
		if msg.Kind == types.MessageResuming {
			resumed.Add(1)
		}
		publishPackets(w, msg)
	}
	var reporterResumed atomic.Bool
	reporter := func(_ *trace.Reporter, msg types.Message) {
		if msg.Kind == types.MessageResuming {
			reporterResumed.Store(true)
		}
	}
	if err := tr.Start(t.Context(), worker, reporter); err != nil {
		t.Fatalf("resume failed: %v", err)
	}
	if err := tr.Stop(t.Context()); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if err := join(t, tr); err != nil {
		t.Fatalf("Join returned %v", err)
	}
	if resumed.Load() != 2 {
		t.Errorf("replacement worker saw %d RESUMING messages, want 2", resumed.Load())
	}
	if !reporterResumed.Load() {
		t.Error("replacement reporter did not see RESUMING")
	}
}

func TestWorker_PublishKindMismatch(t *testing.T) {
	tr := newTrace(t, trace.Config{URI: "mem:1", Workers: 1})

	errCh := make(chan error, 1)
	worker := func(w *trace.Worker, msg types.Message) {
		if msg.Kind != types.MessagePacket {
			return
		}
		errCh <- w.Publish(1, types.ScalarValue{N: 7}, types.ResultKindPacket)
	}
	if err := tr.Start(t.Context(), worker, nil); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := join(t, tr); err != nil {
		t.Fatalf("Join returned %v", err)
	}

	if err := <-errCh; types.ErrorCodeOf(err) != types.ErrCodeUnsupported {
		t.Errorf("Publish mismatch: got %v, want unsupported", err)
	}
	if got := tr.Err(); got == nil || got.Code != types.ErrCodeUnsupported {
		t.Errorf("Err() = %v, want unsupported", got)
	}
}

func TestWorker_ScalarResults(t *testing.T) {
	tr := newTrace(t, trace.Config{URI: "mem:12", Workers: 3})

	worker := func(w *trace.Worker, msg types.Message) {
		switch msg.Kind {
		case types.MessageStarting:
			w.Local = new(uint64)
		case types.MessagePacket:
			*w.Local.(*uint64) += uint64(msg.Packet.GetCaptureLength())
			_ = w.Publish(msg.Packet.Order, types.ScalarValue{N: msg.Packet.Order * 2}, types.ResultKindScalar)
		}
	}
	var keys []uint64
	reporter := func(_ *trace.Reporter, msg types.Message) {
		if msg.Kind != types.MessageResult {
			return
		}
		v, ok := msg.Result.Value.(types.ScalarValue)
		if !ok || v.N != msg.Result.Key*2 {
			t.Errorf("unexpected result %+v", msg.Result)
		}
		keys = append(keys, msg.Result.Key)
	}

	if err := tr.Start(t.Context(), worker, reporter); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := join(t, tr); err != nil {
		t.Fatalf("Join returned %v", err)
	}
	if len(keys) != 12 {
		t.Fatalf("got %d results, want 12", len(keys))
	}
	for i, k := range keys {
		if k != uint64(i) {
			t.Errorf("keys[%d] = %d", i, k)
		}
	}
}

// scalarKeys is a reporter collecting the keys of scalar results.
type scalarKeys struct {
	mu   sync.Mutex
	keys []uint64
}

func (c *scalarKeys) report(_ *trace.Reporter, msg types.Message) {
	if msg.Kind != types.MessageResult {
		return
	}
	c.mu.Lock()
	c.keys = append(c.keys, msg.Result.Key)
	c.mu.Unlock()
}

func (c *scalarKeys) snapshot() []uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]uint64(nil), c.keys...)
}

func TestTrace_SortedFourWorkersHundredResults(t *testing.T) {
	const workers, perWorker = 4, 25
	tr := newTrace(t, trace.Config{Source: memory.NewSource(memory.Options{}), Workers: workers})
	if err := tr.SetCombiner(combiner.NewSortedCombiner(combiner.Options{})); err != nil {
		t.Fatalf("SetCombiner failed: %v", err)
	}

	// Worker i publishes i, i+4, i+8, ... so the queues interleave.
	worker := func(w *trace.Worker, msg types.Message) {
		if msg.Kind != types.MessageStarting {
			return
		}
		for i := range perWorker {
			key := uint64(i*workers + w.ID())
			if err := w.Publish(key, types.ScalarValue{N: key}, types.ResultKindScalar); err != nil {
				t.Errorf("Publish(%d) failed: %v", key, err)
			}
		}
	}
	var got scalarKeys
	if err := tr.Start(t.Context(), worker, got.report); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := join(t, tr); err != nil {
		t.Fatalf("Join returned %v", err)
	}

	keys := got.snapshot()
	if len(keys) != workers*perWorker {
		t.Fatalf("got %d results, want %d", len(keys), workers*perWorker)
	}
	for i, k := range keys {
		if k != uint64(i) {
			t.Fatalf("keys[%d] = %d, want strictly increasing 0..%d", i, k, len(keys)-1)
		}
	}
}

func TestTrace_SortedResumeKeepsQueuedResults(t *testing.T) {
	tr := newTrace(t, trace.Config{
		Source:  memory.NewSource(memory.Options{Block: true}),
		Workers: 1,
	})
	if err := tr.SetCombiner(combiner.NewSortedCombiner(combiner.Options{})); err != nil {
		t.Fatalf("SetCombiner failed: %v", err)
	}

	published := make(chan struct{})
	resumed := make(chan struct{})
	worker := func(w *trace.Worker, msg types.Message) {
		var keys []uint64
		switch msg.Kind {
		case types.MessageStarting:
			keys = []uint64{5, 3, 8}
		case types.MessageResuming:
			keys = []uint64{12}
		default:
			return
		}
		for _, k := range keys {
			if err := w.Publish(k, types.ScalarValue{N: k}, types.ResultKindScalar); err != nil {
				t.Errorf("Publish(%d) failed: %v", k, err)
			}
		}
		if msg.Kind == types.MessageStarting {
			close(published)
		} else {
			close(resumed)
		}
	}
	var got scalarKeys
	if err := tr.Start(t.Context(), worker, got.report); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	waitFor(t, published, "the first three results")

	if err := tr.Pause(t.Context()); err != nil {
		t.Fatalf("Pause failed: %v", err)
	}
	if s := tr.State(); s != types.StatePaused {
		t.Fatalf("state after Pause = %s, want paused", s)
	}
	if keys := got.snapshot(); len(keys) != 0 {
		t.Errorf("sorted combiner delivered %v before the trace finished", keys)
	}
	if err := tr.Start(t.Context(), nil, nil); err != nil {
		t.Fatalf("resume failed: %v", err)
	}
	waitFor(t, resumed, "the result published on resume")

	if err := tr.Stop(t.Context()); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if err := join(t, tr); err != nil {
		t.Fatalf("Join returned %v", err)
	}

	want := []uint64{3, 5, 8, 12}
	keys := got.snapshot()
	if len(keys) != len(want) {
		t.Fatalf("keys = %v, want %v", keys, want)
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Errorf("keys = %v, want %v", keys, want)
			break
		}
	}
}

// leakyCombiner never drains, so Destroy finds results left behind.
type leakyCombiner struct {
	*combiner.SortedCombiner
}

func (leakyCombiner) ReadFinal() {}

func TestTrace_UndeliveredResultsAreFatal(t *testing.T) {
	collector := metrics.NewCollector("leaky", memory.Scheme, "", "")
	tr := newTrace(t, trace.Config{URI: "mem:4", Workers: 2, Collector: collector})
	if err := tr.SetCombiner(leakyCombiner{combiner.NewSortedCombiner(combiner.Options{})}); err != nil {
		t.Fatalf("SetCombiner failed: %v", err)
	}
	if err := tr.Start(t.Context(), publishPackets, nil); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	err := join(t, tr)
	if types.ErrorCodeOf(err) != types.ErrCodeInvariant {
		t.Fatalf("Join returned %v, want invariant", err)
	}
	if !types.IsFatalError(err) {
		t.Error("invariant error should be fatal")
	}
	if got := tr.Err(); got == nil || got.Code != types.ErrCodeInvariant {
		t.Errorf("Err() = %v, want invariant", got)
	}
	if collector.Snapshot().TracesFailed != 1 {
		t.Error("expected the trace to count as failed")
	}
}

func TestCreate_Errors(t *testing.T) {
	if _, err := trace.Create(trace.Config{}); types.ErrorCodeOf(err) != types.ErrCodeURI {
		t.Errorf("Create without source: got %v, want uri", err)
	}
	if _, err := trace.Create(trace.Config{URI: "nope:1"}); types.ErrorCodeOf(err) != types.ErrCodeURI {
		t.Errorf("Create with unknown scheme: got %v, want uri", err)
	}
	if _, err := trace.Create(trace.Config{URI: "mem:1", BufferSize: -1}); err != nil {
		t.Errorf("negative buffer size should default: %v", err)
	}
}
