// Package combiner merges per-worker result queues into a single stream
// delivered to the reporter.
package combiner

import (
	"cmp"
	"errors"
	"fmt"
	"sync"

	"github.com/pithecene-io/sluice/log"
	"github.com/pithecene-io/sluice/queue"
	"github.com/pithecene-io/sluice/types"
)

// Output receives results leaving a combiner.
// Deliver is called on the goroutine running Read or ReadFinal,
// which is the reporter goroutine in a running trace. Ownership of the
// result passes to the output.
type Output interface {
	Deliver(r types.Result)
}

// OutputFunc adapts a function to Output.
type OutputFunc func(r types.Result)

// Deliver implements Output.
func (f OutputFunc) Deliver(r types.Result) { f(r) }

// Combiner is a pluggable strategy for merging worker results.
//
// Lifecycle: Init once, then any interleaving of Publish (from workers),
// Read and Pause, then ReadFinal exactly once, then Destroy.
// A combiner is never re-initialised across pause/resume.
//
// Guarantees shared by every implementation:
//   - Each published non-tick result is delivered at most once
//   - After ReadFinal every published non-tick result has been delivered
//   - Tick results are never delivered
//   - Pause leaves every queued result independent of worker memory
//   - Destroy fails if any result is still queued
type Combiner interface {
	// Name returns the registry name of the strategy.
	Name() string

	// Init allocates one queue per worker and binds the output.
	Init(threads int, out Output) error

	// Publish appends r to worker threadID's queue.
	// Safe to call concurrently for distinct thread IDs.
	Publish(threadID int, r types.Result) error

	// Read delivers whatever can be delivered now without violating
	// the strategy's ordering. May deliver nothing.
	Read()

	// Pause makes every queued result safe to hold while workers are suspended.
	Pause()

	// ReadFinal delivers every remaining non-tick result and empties all queues.
	ReadFinal()

	// Destroy releases the queues. Returns an invariant error wrapping
	// ErrQueuesNotEmpty if results remain; the results are kept.
	Destroy() error

	// Stats returns an atomic snapshot of combiner counters.
	Stats() Stats
}

// Options configures a combiner.
type Options struct {
	// Logger is an optional logger for combiner observability.
	Logger *log.Logger
}

var (
	// ErrQueuesNotEmpty is returned by Destroy when results are still queued.
	ErrQueuesNotEmpty = errors.New("combiner queues not empty")
	// ErrNotInitialized is returned when a combiner is used before Init.
	ErrNotInitialized = errors.New("combiner not initialized")
	// ErrAlreadyInitialized is returned by a second Init.
	ErrAlreadyInitialized = errors.New("combiner already initialized")
	// ErrDestroyed is returned when a destroyed combiner is used.
	ErrDestroyed = errors.New("combiner destroyed")
	// ErrInvalidThreads is returned by Init for a non-positive thread count.
	ErrInvalidThreads = errors.New("thread count must be >= 1")
	// ErrNilOutput is returned by Init without an output.
	ErrNilOutput = errors.New("combiner output is nil")
)

// Stats represents combiner observability metrics.
type Stats struct {
	// Published is the number of results accepted by Publish, ticks included.
	Published int64
	// TicksPublished is the number of tick results accepted.
	TicksPublished int64
	// Delivered is the number of results handed to the output.
	Delivered int64
	// DeliveredByKind maps result kinds to delivery counts.
	DeliveredByKind map[types.ResultKind]int64
	// TicksDropped is the number of ticks consumed without delivery.
	TicksDropped int64
	// MadeSafe is the number of results copied out of worker memory by Pause.
	MadeSafe int64
	// Pauses is the number of Pause calls.
	Pauses int64
	// FinalReads is the number of ReadFinal calls.
	FinalReads int64
	// Pending is the number of results queued at snapshot time.
	Pending int64
}

// statsRecorder is an internal helper for thread-safe stats management.
type statsRecorder struct {
	mu    sync.Mutex
	stats Stats
}

func newStatsRecorder() *statsRecorder {
	return &statsRecorder{
		stats: Stats{DeliveredByKind: make(map[types.ResultKind]int64)},
	}
}

func (r *statsRecorder) incPublished(tick bool) {
	r.mu.Lock()
	r.stats.Published++
	if tick {
		r.stats.TicksPublished++
	}
	r.mu.Unlock()
}

func (r *statsRecorder) incDelivered(kind types.ResultKind) {
	r.mu.Lock()
	r.stats.Delivered++
	r.stats.DeliveredByKind[kind]++
	r.mu.Unlock()
}

func (r *statsRecorder) incTicksDropped() {
	r.mu.Lock()
	r.stats.TicksDropped++
	r.mu.Unlock()
}

func (r *statsRecorder) incPause(madeSafe int) {
	r.mu.Lock()
	r.stats.Pauses++
	r.stats.MadeSafe += int64(madeSafe)
	r.mu.Unlock()
}

func (r *statsRecorder) incFinalReads() {
	r.mu.Lock()
	r.stats.FinalReads++
	r.mu.Unlock()
}

func (r *statsRecorder) snapshot(pending int) Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.stats
	s.Pending = int64(pending)
	s.DeliveredByKind = make(map[types.ResultKind]int64, len(r.stats.DeliveredByKind))
	for k, v := range r.stats.DeliveredByKind {
		s.DeliveredByKind[k] = v
	}
	return s
}

// compareKeys orders results by key only.
func compareKeys(a, b types.Result) int {
	return cmp.Compare(a.Key, b.Key)
}

// base holds the state shared by every strategy: the queue set, the
// output binding and the lifecycle flags.
type base struct {
	name   string
	logger *log.Logger
	stats  *statsRecorder

	mu        sync.RWMutex // guards lifecycle flags and set/out binding
	set       *queue.Set
	out       Output
	destroyed bool
}

func newBase(name string, opts Options) base {
	return base{name: name, logger: opts.Logger, stats: newStatsRecorder()}
}

// Name implements Combiner.
func (b *base) Name() string { return b.name }

// Init implements Combiner.
func (b *base) Init(threads int, out Output) error {
	if threads < 1 {
		return ErrInvalidThreads
	}
	if out == nil {
		return ErrNilOutput
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.destroyed {
		return ErrDestroyed
	}
	if b.set != nil {
		return ErrAlreadyInitialized
	}
	b.set = queue.NewSet(threads)
	b.out = out
	b.logger.Debug("combiner initialized", map[string]any{
		"combiner": b.name,
		"threads":  threads,
	})
	return nil
}

// Publish implements Combiner.
func (b *base) Publish(threadID int, r types.Result) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.destroyed {
		return ErrDestroyed
	}
	if b.set == nil {
		return ErrNotInitialized
	}
	b.set.At(threadID).PushBack(r)
	b.stats.incPublished(r.IsTick())
	return nil
}

// Pause implements Combiner.
func (b *base) Pause() {
	set := b.queues()
	if set == nil {
		return
	}
	made := 0
	for i := range set.Len() {
		made += set.At(i).Apply(func(r *types.Result) bool { return r.MakeSafe() })
	}
	b.stats.incPause(made)
	b.logger.Debug("combiner paused", map[string]any{
		"combiner":  b.name,
		"made_safe": made,
		"pending":   set.TotalSize(),
	})
}

// Destroy implements Combiner.
func (b *base) Destroy() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.destroyed {
		return nil
	}
	if b.set != nil && !b.set.EmptyAll() {
		pending := b.set.TotalSize()
		b.logger.Error("combiner destroyed with pending results", map[string]any{
			"combiner": b.name,
			"pending":  pending,
		})
		return types.NewTraceError(types.ErrCodeInvariant,
			fmt.Sprintf("%s combiner has %d undelivered results", b.name, pending), ErrQueuesNotEmpty)
	}
	b.destroyed = true
	b.set = nil
	b.out = nil
	return nil
}

// Stats implements Combiner.
func (b *base) Stats() Stats {
	pending := 0
	if set := b.queues(); set != nil {
		pending = set.TotalSize()
	}
	return b.stats.snapshot(pending)
}

func (b *base) queues() *queue.Set {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.set
}

func (b *base) output() Output {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.out
}

// emit hands r to the output, or counts it as a dropped tick.
func (b *base) emit(out Output, r types.Result) {
	if r.IsTick() {
		b.stats.incTicksDropped()
		return
	}
	b.stats.incDelivered(r.Kind())
	out.Deliver(r)
}
