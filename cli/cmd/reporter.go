package cmd

import (
	"context"

	"github.com/pithecene-io/sluice/backend"
	"github.com/pithecene-io/sluice/lode"
	"github.com/pithecene-io/sluice/log"
	"github.com/pithecene-io/sluice/metrics"
	"github.com/pithecene-io/sluice/trace"
	"github.com/pithecene-io/sluice/types"
)

// forwardPackets is the run worker: every packet is published unchanged,
// keyed by its read order.
func forwardPackets(w *trace.Worker, msg types.Message) {
	if msg.Kind != types.MessagePacket {
		return
	}
	_ = w.Publish(msg.Packet.Order, types.PacketValue{Packet: msg.Packet}, types.ResultKindPacket)
}

// runReporter is the run reporter. It checks that keys are strictly
// increasing and match packet order, then fans each result out to the
// frame sink and the results dataset.
//
// All fields except the configuration are owned by the reporter
// goroutine; read them only after the trace has been joined.
type runReporter struct {
	ctx        context.Context
	logger     *log.Logger
	collector  *metrics.Collector
	frames     backend.Sink     // nil without --write
	results    *lode.ResultSink // nil without a results dataset
	pauseAfter uint64
	pauseCh    chan struct{}

	count      uint64
	violations int64
	prevKey    uint64
	writeErr   error
	storeErr   error
}

func newRunReporter(ctx context.Context, logger *log.Logger, collector *metrics.Collector) *runReporter {
	return &runReporter{
		ctx:       ctx,
		logger:    logger,
		collector: collector,
		pauseCh:   make(chan struct{}, 1),
	}
}

func (r *runReporter) handle(_ *trace.Reporter, msg types.Message) {
	if msg.Kind != types.MessageResult {
		r.logger.Debug("reporter message", map[string]any{"kind": string(msg.Kind)})
		return
	}
	res := msg.Result

	if r.count > 0 && res.Key <= r.prevKey {
		r.violation("key not increasing", res.Key)
	}
	p := res.Packet()
	if p != nil && p.Order != res.Key {
		r.violation("key does not match packet order", res.Key)
	}
	r.prevKey = res.Key
	r.count++

	if r.frames != nil && p != nil {
		if _, err := r.frames.WriteFrame(p); err != nil {
			if r.writeErr == nil {
				r.writeErr = err
				r.logger.Error("frame write failed", map[string]any{
					"key":   res.Key,
					"error": err.Error(),
				})
			}
		} else {
			r.collector.IncFramesWritten()
		}
	}
	if r.results != nil {
		if err := r.results.Add(r.ctx, *res); err != nil && r.storeErr == nil {
			r.storeErr = err
			r.logger.Error("result persistence failed", map[string]any{
				"key":   res.Key,
				"error": err.Error(),
			})
		}
	}

	if r.pauseAfter > 0 && r.count == r.pauseAfter {
		select {
		case r.pauseCh <- struct{}{}:
		default:
		}
	}
}

func (r *runReporter) violation(reason string, key uint64) {
	r.violations++
	if r.violations == 1 {
		r.logger.Error("ordering violation", map[string]any{
			"reason": reason,
			"key":    key,
			"prev":   r.prevKey,
		})
	}
}
