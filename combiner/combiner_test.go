package combiner_test

import (
	"errors"
	"slices"
	"sync"
	"testing"

	"github.com/pithecene-io/sluice/combiner"
	"github.com/pithecene-io/sluice/packet"
	"github.com/pithecene-io/sluice/types"
)

// helper to create and initialise a combiner or fail test
func mustInit(t *testing.T, name string, threads int) (combiner.Combiner, *combiner.StubOutput) {
	t.Helper()
	c, err := combiner.New(name, combiner.Options{})
	if err != nil {
		t.Fatalf("New(%q) failed: %v", name, err)
	}
	out := combiner.NewStubOutput()
	if err := c.Init(threads, out); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	return c, out
}

func mustPublish(t *testing.T, c combiner.Combiner, tid int, r types.Result) {
	t.Helper()
	if err := c.Publish(tid, r); err != nil {
		t.Fatalf("Publish(%d, %d) failed: %v", tid, r.Key, err)
	}
}

func scalar(key uint64) types.Result {
	return types.Result{Key: key, Value: types.ScalarValue{N: key}}
}

func tickCount(key uint64) types.Result {
	return types.Result{Key: key, Value: types.TickCountValue{Count: key}}
}

func allNames() []string {
	return combiner.Names()
}

func TestNew_UnknownCombiner(t *testing.T) {
	_, err := combiner.New("shuffled", combiner.Options{})
	if types.ErrorCodeOf(err) != types.ErrCodeUnknownOption {
		t.Errorf("expected unknown_option error, got %v", err)
	}
}

func TestNew_DefaultIsOrdered(t *testing.T) {
	c, err := combiner.New("", combiner.Options{})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if c.Name() != combiner.OrderedName {
		t.Errorf("default combiner = %q, want %q", c.Name(), combiner.OrderedName)
	}
}

func TestInit_Validation(t *testing.T) {
	for _, name := range allNames() {
		t.Run(name, func(t *testing.T) {
			c, _ := combiner.New(name, combiner.Options{})
			if err := c.Init(0, combiner.NewStubOutput()); !errors.Is(err, combiner.ErrInvalidThreads) {
				t.Errorf("Init(0) = %v, want ErrInvalidThreads", err)
			}
			if err := c.Init(1, nil); !errors.Is(err, combiner.ErrNilOutput) {
				t.Errorf("Init(nil output) = %v, want ErrNilOutput", err)
			}
			if err := c.Publish(0, scalar(1)); !errors.Is(err, combiner.ErrNotInitialized) {
				t.Errorf("Publish before Init = %v, want ErrNotInitialized", err)
			}
			if err := c.Init(1, combiner.NewStubOutput()); err != nil {
				t.Fatalf("Init failed: %v", err)
			}
			if err := c.Init(1, combiner.NewStubOutput()); !errors.Is(err, combiner.ErrAlreadyInitialized) {
				t.Errorf("second Init = %v, want ErrAlreadyInitialized", err)
			}
		})
	}
}

func TestPublish_OutOfRangeThread_Panics(t *testing.T) {
	c, _ := mustInit(t, combiner.OrderedName, 2)
	defer func() {
		if recover() == nil {
			t.Error("expected panic for fabricated thread id")
		}
	}()
	_ = c.Publish(5, scalar(1))
}

func TestReadFinal_DeliversEverythingSortedWithoutTicks(t *testing.T) {
	for _, name := range allNames() {
		t.Run(name, func(t *testing.T) {
			c, out := mustInit(t, name, 3)

			// Interleaved keys across three workers, ticks mixed in.
			mustPublish(t, c, 0, scalar(0))
			mustPublish(t, c, 1, scalar(1))
			mustPublish(t, c, 2, scalar(2))
			mustPublish(t, c, 0, tickCount(2))
			mustPublish(t, c, 0, scalar(3))
			mustPublish(t, c, 2, scalar(5))
			mustPublish(t, c, 1, scalar(4))
			mustPublish(t, c, 1, tickCount(5))

			c.Read()
			c.ReadFinal()

			got := out.Keys()
			want := []uint64{0, 1, 2, 3, 4, 5}
			if !slices.Equal(got, want) {
				t.Errorf("delivered keys = %v, want %v", got, want)
			}
			for _, r := range out.Results() {
				if r.IsTick() {
					t.Errorf("tick delivered: %+v", r)
				}
			}

			stats := c.Stats()
			if stats.TicksDropped != 2 {
				t.Errorf("TicksDropped = %d, want 2", stats.TicksDropped)
			}
			if stats.Pending != 0 {
				t.Errorf("Pending = %d, want 0", stats.Pending)
			}
			if err := c.Destroy(); err != nil {
				t.Errorf("Destroy after ReadFinal failed: %v", err)
			}
			if err := c.Destroy(); err != nil {
				t.Errorf("second Destroy failed: %v", err)
			}
		})
	}
}

func TestDestroy_WithPendingResults_Fails(t *testing.T) {
	for _, name := range allNames() {
		t.Run(name, func(t *testing.T) {
			c, _ := mustInit(t, name, 2)
			mustPublish(t, c, 1, scalar(7))

			err := c.Destroy()
			if !errors.Is(err, combiner.ErrQueuesNotEmpty) {
				t.Fatalf("Destroy = %v, want ErrQueuesNotEmpty", err)
			}
			if types.ErrorCodeOf(err) != types.ErrCodeInvariant {
				t.Errorf("error code = %q, want invariant", types.ErrorCodeOf(err))
			}
			if c.Stats().Pending != 1 {
				t.Errorf("pending result was discarded")
			}
		})
	}
}

func TestPause_MakesQueuedPacketsSafe(t *testing.T) {
	for _, name := range allNames() {
		t.Run(name, func(t *testing.T) {
			pool, err := packet.NewPool(4)
			if err != nil {
				t.Fatalf("NewPool failed: %v", err)
			}
			c, out := mustInit(t, name, 2)

			// Worker 1 stays silent, so the ordered combiner must hold this result.
			p := pool.Lease()
			copy(p.Data, []byte{1, 2, 3, 4})
			mustPublish(t, c, 0, types.Result{Key: 3, Value: types.PacketValue{Packet: p}})

			c.Read()
			c.Pause()
			pool.Reset()

			// New generation reuses nothing; scribble over a fresh lease anyway.
			q := pool.Lease()
			copy(q.Data, []byte{9, 9, 9, 9})

			c.ReadFinal()
			results := out.Results()
			if len(results) != 1 {
				t.Fatalf("expected 1 result, got %d", len(results))
			}
			got := results[0].Packet()
			if got.Borrowed() {
				t.Error("queued packet still borrows pool memory after Pause")
			}
			if !slices.Equal(got.Data, []byte{1, 2, 3, 4}) {
				t.Errorf("packet data corrupted: %v", got.Data)
			}
			if c.Stats().MadeSafe != 1 {
				t.Errorf("MadeSafe = %d, want 1", c.Stats().MadeSafe)
			}
		})
	}
}

func TestPublish_Concurrent(t *testing.T) {
	const workers, perWorker = 4, 250
	for _, name := range allNames() {
		t.Run(name, func(t *testing.T) {
			c, out := mustInit(t, name, workers)

			var wg sync.WaitGroup
			for w := range workers {
				wg.Add(1)
				go func() {
					defer wg.Done()
					for i := range perWorker {
						_ = c.Publish(w, scalar(uint64(i*workers+w)))
						if w == 0 {
							c.Read()
						}
					}
				}()
			}
			wg.Wait()
			c.ReadFinal()

			keys := out.Keys()
			if len(keys) != workers*perWorker {
				t.Fatalf("delivered %d, want %d", len(keys), workers*perWorker)
			}
			if !slices.IsSorted(keys) {
				t.Error("delivered keys are not sorted")
			}
		})
	}
}
