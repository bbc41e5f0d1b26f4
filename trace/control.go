package trace

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pithecene-io/sluice/combiner"
	"github.com/pithecene-io/sluice/types"
)

// Start launches the trace, or resumes it after Pause.
//
// From NEW, worker is required; reporter may be nil to discard results.
// The combiner is initialised with one queue per worker, every worker
// and the reporter receive STARTING, and reading begins.
//
// From PAUSED, nil callbacks keep the previous ones. The source is
// restarted, every worker and the reporter receive RESUMING, and the
// combiner keeps whatever it had queued.
//
// ctx bounds start-up only; use Stop to end the trace.
func (t *Trace) Start(ctx context.Context, worker WorkerFunc, reporter ReporterFunc) error {
	t.ctlMu.Lock()
	defer t.ctlMu.Unlock()

	t.mu.Lock()
	state := t.state
	t.mu.Unlock()

	switch state {
	case types.StateNew:
		return t.launch(ctx, worker, reporter)
	case types.StatePaused:
		return t.resume(ctx, worker, reporter)
	default:
		t.mu.Lock()
		defer t.mu.Unlock()
		return t.badState("start")
	}
}

func (t *Trace) launch(ctx context.Context, worker WorkerFunc, reporter ReporterFunc) error {
	if worker == nil {
		return types.NewTraceError(types.ErrCodeUnsupported, "worker callback is required", nil)
	}

	t.mu.Lock()
	if t.comb == nil {
		c, err := combiner.New(combiner.DefaultName, combiner.Options{Logger: t.logger})
		if err != nil {
			t.mu.Unlock()
			return err
		}
		t.comb = c
		t.meta.Combiner = c.Name()
	}
	comb := t.comb
	t.mu.Unlock()

	rep := newReporter(t, reporter)
	if err := comb.Init(t.cfg.Workers, rep.output()); err != nil {
		te := types.NewTraceError(types.ErrCodeInitFailed, "combiner init", err)
		t.record(te)
		return te
	}
	if err := t.source.Start(ctx); err != nil {
		te := types.NewTraceError(types.ErrCodeInitFailed, "start source", err)
		t.record(te)
		return te
	}

	readCtx, readCancel := context.WithCancel(context.Background())
	workers := make([]*Worker, t.cfg.Workers)
	for i := range workers {
		workers[i] = newWorker(t, i, worker)
	}

	t.mu.Lock()
	t.reporter = rep
	t.workers = workers
	t.readCtx, t.readCancel = readCtx, readCancel
	t.workersDone = make(chan struct{})
	t.startedAt = time.Now()
	if t.cfg.TickInterval > 0 {
		t.tickerStop = make(chan struct{})
	}
	tickerStop := t.tickerStop
	t.setStateLocked(types.StateRunning)
	t.mu.Unlock()

	t.collector.IncTraceStarted()
	t.logger.Info("trace started", map[string]any{
		"workers":  t.cfg.Workers,
		"combiner": comb.Name(),
	})

	go rep.run()
	// The ticker starts before any worker can finish the trace, so
	// finalize always sees the stop channel it has to close.
	if tickerStop != nil {
		go t.runTicker(t.cfg.TickInterval, tickerStop)
	}

	var g errgroup.Group
	for _, w := range workers {
		g.Go(w.run)
	}
	go func() {
		if err := g.Wait(); err != nil {
			t.logger.Debug("worker ended on source failure", map[string]any{"error": err.Error()})
		}
		close(t.workersDone)
		t.maybeFinish()
	}()
	return nil
}

func (t *Trace) resume(ctx context.Context, worker WorkerFunc, reporter ReporterFunc) error {
	if err := t.source.Start(ctx); err != nil {
		te := types.NewTraceError(types.ErrCodeBackendIO, "restart source", err)
		t.record(te)
		return te
	}

	readCtx, readCancel := context.WithCancel(context.Background())
	t.mu.Lock()
	t.readCtx, t.readCancel = readCtx, readCancel
	t.setStateLocked(types.StateRunning)
	workers := t.workers
	rep := t.reporter
	t.mu.Unlock()

	for _, w := range workers {
		select {
		case w.ctrl <- control{kind: controlResume, fn: worker}:
		case <-w.done:
		}
	}
	rep.post(types.Message{Kind: types.MessageResuming}, reporter)

	t.collector.IncResume()
	t.logger.Info("trace resumed", nil)
	t.maybeFinish()
	return nil
}

// Pause suspends every worker and makes queued results independent of
// the read buffers. Blocks until each live worker has acknowledged or
// ctx is done. Workers that already exited count as acknowledged.
func (t *Trace) Pause(ctx context.Context) error {
	t.ctlMu.Lock()
	defer t.ctlMu.Unlock()

	t.mu.Lock()
	if t.state != types.StateRunning {
		defer t.mu.Unlock()
		return t.badState("pause")
	}
	t.setStateLocked(types.StatePausing)
	t.readCancel()
	workers := t.workers
	rep := t.reporter
	t.mu.Unlock()

	for _, w := range workers {
		select {
		case <-w.ack:
		default:
		}
		select {
		case w.ctrl <- control{kind: controlPause}:
		case <-w.done:
		case <-ctx.Done():
			return t.pauseAborted(ctx)
		}
	}

	for _, w := range workers {
		if err := t.awaitAck(ctx, w); err != nil {
			return err
		}
	}

	t.comb.Pause()
	if err := t.source.Pause(); err != nil {
		t.record(types.NewTraceError(types.ErrCodeBackendIO, "pause source", err))
	}
	t.pool.Reset()

	t.mu.Lock()
	t.setStateLocked(types.StatePaused)
	t.mu.Unlock()

	rep.post(types.Message{Kind: types.MessagePausing}, nil)
	t.collector.IncPause()
	t.logger.Info("trace paused", map[string]any{
		"pending": t.comb.Stats().Pending,
	})
	return nil
}

// awaitAck waits for w to acknowledge a pause, warning every PauseTimeout.
func (t *Trace) awaitAck(ctx context.Context, w *Worker) error {
	ticker := time.NewTicker(t.cfg.PauseTimeout)
	defer ticker.Stop()
	for {
		select {
		case <-w.ack:
			return nil
		case <-w.done:
			return nil
		case <-ticker.C:
			t.logger.Warn("worker slow to pause", map[string]any{"worker": w.id})
		case <-ctx.Done():
			return t.pauseAborted(ctx)
		}
	}
}

func (t *Trace) pauseAborted(ctx context.Context) error {
	te := types.NewTraceError(types.ErrCodeBadState, "pause did not complete; stop the trace", ctx.Err())
	t.record(te)
	return te
}

// Stop ends the trace. Every live worker receives STOPPING and exits;
// the reporter then drains the combiner, receives STOPPING and the trace
// becomes FINISHED. Stop returns once the workers have exited or ctx is
// done; use Join to wait for FINISHED. Stopping a stopped trace is a no-op.
func (t *Trace) Stop(ctx context.Context) error {
	t.ctlMu.Lock()
	defer t.ctlMu.Unlock()

	t.mu.Lock()
	switch t.state {
	case types.StateStopping, types.StateFinished:
		t.mu.Unlock()
		return nil
	case types.StateNew:
		defer t.mu.Unlock()
		return t.badState("stop")
	}
	t.setStateLocked(types.StateStopping)
	t.readCancel()
	workers := t.workers
	done := t.workersDone
	t.mu.Unlock()

	t.collector.IncStop()
	t.logger.Info("trace stopping", nil)

	for _, w := range workers {
		select {
		case w.ctrl <- control{kind: controlStop}:
		case <-w.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	t.finalize()
	return nil
}

// maybeFinish moves a running trace whose workers have all exited to
// STOPPING. A paused trace finishes on resume or Stop instead.
func (t *Trace) maybeFinish() {
	t.mu.Lock()
	select {
	case <-t.workersDone:
	default:
		t.mu.Unlock()
		return
	}
	switch t.state {
	case types.StateRunning:
		t.setStateLocked(types.StateStopping)
		t.readCancel()
	case types.StateStopping:
	default:
		t.mu.Unlock()
		return
	}
	t.mu.Unlock()
	t.finalize()
}

// finalize hands the final drain to the reporter. Runs once.
func (t *Trace) finalize() {
	t.finalizeOnce.Do(func() {
		t.mu.Lock()
		stop := t.tickerStop
		t.mu.Unlock()
		if stop != nil {
			close(stop)
		}
		t.reporter.post(types.Message{Kind: types.MessageStopping}, nil)
	})
}

// Join blocks until the trace is FINISHED and returns the first fatal
// error, if any. Returns ctx.Err() if ctx ends first.
func (t *Trace) Join(ctx context.Context) error {
	t.mu.Lock()
	if t.state == types.StateNew {
		defer t.mu.Unlock()
		return t.badState("join")
	}
	t.mu.Unlock()

	select {
	case <-t.finished:
	case <-ctx.Done():
		return ctx.Err()
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.fatal != nil {
		return t.fatal
	}
	return nil
}

// Done returns a channel closed when the trace is FINISHED.
func (t *Trace) Done() <-chan struct{} {
	return t.finished
}
