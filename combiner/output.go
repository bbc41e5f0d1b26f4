package combiner

import (
	"sync"

	"github.com/pithecene-io/sluice/types"
)

// StubOutput is a test output that records deliveries.
type StubOutput struct {
	mu        sync.Mutex
	delivered []types.Result
}

// NewStubOutput creates a new stub output for testing.
func NewStubOutput() *StubOutput {
	return &StubOutput{}
}

// Deliver records r.
func (s *StubOutput) Deliver(r types.Result) {
	s.mu.Lock()
	s.delivered = append(s.delivered, r)
	s.mu.Unlock()
}

// Results returns a copy of every delivered result, in delivery order.
func (s *StubOutput) Results() []types.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.Result, len(s.delivered))
	copy(out, s.delivered)
	return out
}

// Keys returns the delivered keys, in delivery order.
func (s *StubOutput) Keys() []uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]uint64, len(s.delivered))
	for i, r := range s.delivered {
		keys[i] = r.Key
	}
	return keys
}

// Len returns the number of deliveries.
func (s *StubOutput) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.delivered)
}
