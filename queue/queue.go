// Package queue implements the per-worker result queues a combiner merges.
package queue

import (
	"fmt"
	"slices"
	"sync"

	"github.com/pithecene-io/sluice/types"
)

// Queue is an ordered, growable sequence of results.
// A worker appends; the reporter pops and drains. Each queue carries its
// own lock so workers never contend with each other.
type Queue struct {
	mu    sync.Mutex
	items []types.Result
}

// New creates an empty queue.
func New() *Queue {
	return &Queue{}
}

// PushBack appends r.
func (q *Queue) PushBack(r types.Result) {
	q.mu.Lock()
	q.items = append(q.items, r)
	q.mu.Unlock()
}

// Append moves every element of other onto the end of q, preserving
// order, and leaves other empty.
func (q *Queue) Append(other *Queue) {
	if other == q {
		return
	}
	moved := other.Drain()
	q.mu.Lock()
	q.items = append(q.items, moved...)
	q.mu.Unlock()
}

// Sort orders the queue by cmp. Not stable.
func (q *Queue) Sort(cmp func(a, b types.Result) int) {
	q.mu.Lock()
	slices.SortFunc(q.items, cmp)
	q.mu.Unlock()
}

// SortStable orders the queue by cmp keeping equal elements in insertion order.
func (q *Queue) SortStable(cmp func(a, b types.Result) int) {
	q.mu.Lock()
	slices.SortStableFunc(q.items, cmp)
	q.mu.Unlock()
}

// Get returns the i'th element. Panics if i is out of range.
func (q *Queue) Get(i int) types.Result {
	q.mu.Lock()
	defer q.mu.Unlock()
	if i < 0 || i >= len(q.items) {
		panic(fmt.Sprintf("queue: index %d out of range [0,%d)", i, len(q.items)))
	}
	return q.items[i]
}

// Size returns the number of queued results.
func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Empty reports whether the queue holds no results.
func (q *Queue) Empty() bool {
	return q.Size() == 0
}

// Head returns the first result without removing it.
func (q *Queue) Head() (types.Result, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return types.Result{}, false
	}
	return q.items[0], true
}

// PopFront removes and returns the first result.
func (q *Queue) PopFront() (types.Result, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return types.Result{}, false
	}
	r := q.items[0]
	q.items[0] = types.Result{}
	q.items = q.items[1:]
	if len(q.items) == 0 {
		q.items = nil
	}
	return r, true
}

// Apply calls fn on every element in place. Returns how many calls
// reported a change.
func (q *Queue) Apply(fn func(r *types.Result) bool) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	changed := 0
	for i := range q.items {
		if fn(&q.items[i]) {
			changed++
		}
	}
	return changed
}

// Drain removes and returns every element.
func (q *Queue) Drain() []types.Result {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.items
	q.items = nil
	return out
}
