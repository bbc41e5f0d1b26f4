package queue_test

import (
	"cmp"
	"testing"

	"github.com/pithecene-io/sluice/queue"
	"github.com/pithecene-io/sluice/types"
)

func scalar(key, n uint64) types.Result {
	return types.Result{Key: key, Value: types.ScalarValue{N: n}}
}

func byKey(a, b types.Result) int {
	return cmp.Compare(a.Key, b.Key)
}

func keys(q *queue.Queue) []uint64 {
	out := make([]uint64, 0, q.Size())
	for i := range q.Size() {
		out = append(out, q.Get(i).Key)
	}
	return out
}

func TestQueue_PushPop(t *testing.T) {
	q := queue.New()
	if !q.Empty() {
		t.Fatal("new queue should be empty")
	}
	q.PushBack(scalar(1, 0))
	q.PushBack(scalar(2, 0))

	head, ok := q.Head()
	if !ok || head.Key != 1 {
		t.Fatalf("Head() = %v, %v; want key 1", head, ok)
	}
	r, ok := q.PopFront()
	if !ok || r.Key != 1 {
		t.Fatalf("PopFront() = %v, %v; want key 1", r, ok)
	}
	if q.Size() != 1 {
		t.Errorf("Size() = %d, want 1", q.Size())
	}
	q.PopFront()
	if _, ok := q.PopFront(); ok {
		t.Error("PopFront on empty queue should report false")
	}
}

func TestQueue_Append_PreservesOrderAndEmptiesSource(t *testing.T) {
	a, b := queue.New(), queue.New()
	a.PushBack(scalar(5, 0))
	b.PushBack(scalar(3, 0))
	b.PushBack(scalar(4, 0))

	a.Append(b)

	if got := keys(a); len(got) != 3 || got[0] != 5 || got[1] != 3 || got[2] != 4 {
		t.Errorf("keys after Append = %v, want [5 3 4]", got)
	}
	if !b.Empty() {
		t.Error("source queue should be empty after Append")
	}
}

func TestQueue_Sort(t *testing.T) {
	q := queue.New()
	for _, k := range []uint64{9, 2, 7, 1} {
		q.PushBack(scalar(k, 0))
	}
	q.Sort(byKey)
	want := []uint64{1, 2, 7, 9}
	for i, k := range keys(q) {
		if k != want[i] {
			t.Fatalf("keys after Sort = %v, want %v", keys(q), want)
		}
	}
}

func TestQueue_SortStable_KeepsInsertionOrderOnTies(t *testing.T) {
	q := queue.New()
	q.PushBack(scalar(2, 100))
	q.PushBack(scalar(1, 0))
	q.PushBack(scalar(2, 200))
	q.SortStable(byKey)

	first := q.Get(1).Value.(types.ScalarValue)
	second := q.Get(2).Value.(types.ScalarValue)
	if first.N != 100 || second.N != 200 {
		t.Errorf("stable sort reordered ties: %d, %d", first.N, second.N)
	}
}

func TestQueue_Apply(t *testing.T) {
	q := queue.New()
	q.PushBack(scalar(1, 1))
	q.PushBack(scalar(2, 2))
	n := q.Apply(func(r *types.Result) bool {
		r.Key *= 10
		return r.Key > 10
	})
	if n != 1 {
		t.Errorf("Apply changed count = %d, want 1", n)
	}
	if got := keys(q); got[0] != 10 || got[1] != 20 {
		t.Errorf("keys after Apply = %v", got)
	}
}

func TestQueue_GetOutOfRange_Panics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic for out-of-range Get")
		}
	}()
	queue.New().Get(0)
}

func TestSet_AtOutOfRange_Panics(t *testing.T) {
	s := queue.NewSet(2)
	defer func() {
		if recover() == nil {
			t.Error("expected panic for out-of-range At")
		}
	}()
	s.At(2)
}

func TestSet_Sizes(t *testing.T) {
	s := queue.NewSet(3)
	if s.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", s.Len())
	}
	s.At(0).PushBack(scalar(1, 0))
	s.At(2).PushBack(scalar(2, 0))
	if s.TotalSize() != 2 {
		t.Errorf("TotalSize() = %d, want 2", s.TotalSize())
	}
	if s.EmptyAll() {
		t.Error("EmptyAll() should be false")
	}
	s.At(0).Drain()
	s.At(2).Drain()
	if !s.EmptyAll() {
		t.Error("EmptyAll() should be true after draining")
	}
}
