package combiner

import (
	"sync"

	"github.com/pithecene-io/sluice/types"
)

// OrderedName is the registry name of the ordered combiner.
const OrderedName = "ordered"

// OrderedCombiner streams results in non-decreasing key order.
//
// Each worker publishes keys in non-decreasing order, so the last key
// popped from a queue is a floor for everything that queue will hold
// later. Read emits the smallest queued head only when every other
// queue either has something queued or has a floor at or above that key.
// Ties go to the lowest worker id, including ties with a result a lower
// worker may still publish: a result floor equal to the key holds back a
// higher worker until the lower one moves past it. A tick floor is
// strict because a worker never publishes at or below its own tick.
// Ticks are popped to advance floors and are never delivered.
type OrderedCombiner struct {
	base

	readMu   sync.Mutex // serializes Read and ReadFinal
	floors   []uint64
	hasFloor []bool
	strict   []bool // floor came from a tick
}

// NewOrderedCombiner creates an ordered combiner.
func NewOrderedCombiner(opts Options) *OrderedCombiner {
	return &OrderedCombiner{base: newBase(OrderedName, opts)}
}

// Init implements Combiner.
func (c *OrderedCombiner) Init(threads int, out Output) error {
	if err := c.base.Init(threads, out); err != nil {
		return err
	}
	c.readMu.Lock()
	c.floors = make([]uint64, threads)
	c.hasFloor = make([]bool, threads)
	c.strict = make([]bool, threads)
	c.readMu.Unlock()
	return nil
}

// Read implements Combiner.
func (c *OrderedCombiner) Read() {
	set, out := c.queues(), c.output()
	if set == nil {
		return
	}

	c.readMu.Lock()
	defer c.readMu.Unlock()

	for {
		idx, key, ok := c.minHead()
		if !ok {
			return
		}
		switch c.releasable(idx, key) {
		case releaseBlocked:
			return
		case releaseRescan:
			continue
		}
		r, _ := set.At(idx).PopFront()
		c.setFloor(idx, r)
		c.emit(out, r)
	}
}

// ReadFinal implements Combiner.
// Workers have stopped, so floors no longer matter: everything left is
// drained in key order.
func (c *OrderedCombiner) ReadFinal() {
	set, out := c.queues(), c.output()
	if set == nil {
		return
	}

	c.readMu.Lock()
	defer c.readMu.Unlock()

	delivered := 0
	for {
		idx, _, ok := c.minHead()
		if !ok {
			break
		}
		r, _ := set.At(idx).PopFront()
		c.setFloor(idx, r)
		if !r.IsTick() {
			delivered++
		}
		c.emit(out, r)
	}
	c.stats.incFinalReads()
	c.logger.Debug("combiner final read", map[string]any{
		"combiner":  c.name,
		"delivered": delivered,
	})
}

// setFloor records r as the last key popped from queue idx. Caller must
// hold readMu.
func (c *OrderedCombiner) setFloor(idx int, r types.Result) {
	c.floors[idx] = r.Key
	c.hasFloor[idx] = true
	c.strict[idx] = r.IsTick()
}

// minHead finds the queue with the smallest head key. Caller must hold readMu.
func (c *OrderedCombiner) minHead() (idx int, key uint64, ok bool) {
	set := c.queues()
	for i := range set.Len() {
		head, has := set.At(i).Head()
		if !has {
			continue
		}
		if !ok || head.Key < key {
			idx, key, ok = i, head.Key, true
		}
	}
	return idx, key, ok
}

type release int

const (
	releaseOK release = iota
	releaseBlocked
	releaseRescan // a smaller head appeared since minHead
)

// releasable reports whether key from queue idx can be emitted without
// a smaller key arriving later on another queue. Caller must hold readMu.
func (c *OrderedCombiner) releasable(idx int, key uint64) release {
	set := c.queues()
	head, _ := set.At(idx).Head()
	tick := head.IsTick()
	for j := range set.Len() {
		if j == idx {
			continue
		}
		if head, ok := set.At(j).Head(); ok {
			if head.Key < key || (head.Key == key && j < idx) {
				return releaseRescan
			}
			continue
		}
		if !c.hasFloor[j] || c.floors[j] < key {
			return releaseBlocked
		}
		// Worker j may publish key again and would win the tie.
		if c.floors[j] == key && j < idx && !c.strict[j] && !tick {
			return releaseBlocked
		}
	}
	return releaseOK
}

// Verify OrderedCombiner implements Combiner.
var _ Combiner = (*OrderedCombiner)(nil)
