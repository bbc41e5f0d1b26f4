package queue

import "fmt"

// Set is a fixed-length group of queues, one per worker.
// It is allocated once and never resized.
type Set struct {
	queues []*Queue
}

// NewSet allocates n empty queues. n must be positive.
func NewSet(n int) *Set {
	if n < 1 {
		panic(fmt.Sprintf("queue: set size must be >= 1, got %d", n))
	}
	qs := make([]*Queue, n)
	for i := range qs {
		qs[i] = New()
	}
	return &Set{queues: qs}
}

// Len returns the number of queues.
func (s *Set) Len() int {
	return len(s.queues)
}

// At returns queue i. An out-of-range index means a worker id was
// fabricated outside the trace, so it panics rather than returning an error.
func (s *Set) At(i int) *Queue {
	if i < 0 || i >= len(s.queues) {
		panic(fmt.Sprintf("queue: worker queue %d out of range [0,%d)", i, len(s.queues)))
	}
	return s.queues[i]
}

// TotalSize sums the sizes of every queue.
func (s *Set) TotalSize() int {
	total := 0
	for _, q := range s.queues {
		total += q.Size()
	}
	return total
}

// EmptyAll reports whether every queue is empty.
func (s *Set) EmptyAll() bool {
	for _, q := range s.queues {
		if !q.Empty() {
			return false
		}
	}
	return true
}
