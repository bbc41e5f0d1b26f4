package packet_test

import (
	"errors"
	"testing"

	"github.com/pithecene-io/sluice/packet"
)

func mustNewPool(t *testing.T, size int) *packet.Pool {
	t.Helper()
	p, err := packet.NewPool(size)
	if err != nil {
		t.Fatalf("NewPool(%d) failed: %v", size, err)
	}
	return p
}

func TestNewPool_InvalidSize(t *testing.T) {
	if _, err := packet.NewPool(0); !errors.Is(err, packet.ErrInvalidBufferSize) {
		t.Errorf("expected ErrInvalidBufferSize, got %v", err)
	}
}

func TestPool_LeaseRelease_Recycles(t *testing.T) {
	pool := mustNewPool(t, 64)

	p := pool.Lease()
	if !p.Borrowed() {
		t.Fatal("leased packet should be borrowed")
	}
	if len(p.Data) != 64 {
		t.Errorf("expected 64-byte buffer, got %d", len(p.Data))
	}
	p.Release()
	p.Release() // second release is a no-op

	stats := pool.Stats()
	if stats.Leased != 1 || stats.Recycled != 1 || stats.Outstanding != 0 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}

func TestPacket_MakeSafe_DetachesFromPool(t *testing.T) {
	pool := mustNewPool(t, 8)

	p := pool.Lease()
	p.Data = p.Data[:3]
	copy(p.Data, []byte{1, 2, 3})

	if !p.MakeSafe() {
		t.Fatal("MakeSafe should copy a borrowed packet")
	}
	if p.Borrowed() {
		t.Error("packet should own its data after MakeSafe")
	}
	if p.MakeSafe() {
		t.Error("second MakeSafe should be a no-op")
	}

	// The pool buffer is free again; overwrite it and make sure the
	// safe copy is unaffected.
	q := pool.Lease()
	copy(q.Data, []byte{9, 9, 9})
	if p.Data[0] != 1 || p.Data[2] != 3 {
		t.Errorf("safe copy was overwritten: %v", p.Data)
	}
	if pool.Stats().Detached != 1 {
		t.Errorf("expected 1 detached buffer, got %d", pool.Stats().Detached)
	}
}

func TestPool_Reset_DoesNotRecycleOldGeneration(t *testing.T) {
	pool := mustNewPool(t, 4)

	old := pool.Lease()
	copy(old.Data, []byte{7, 7, 7, 7})
	pool.Reset()
	old.Release()

	stats := pool.Stats()
	if stats.Generation != 1 {
		t.Errorf("expected generation 1, got %d", stats.Generation)
	}
	if stats.Recycled != 0 {
		t.Errorf("old-generation buffer must not be recycled, got %d", stats.Recycled)
	}
	if stats.Abandoned != 1 {
		t.Errorf("expected 1 abandoned buffer, got %d", stats.Abandoned)
	}
}

func TestPacket_Lengths(t *testing.T) {
	p := &packet.Packet{Data: []byte{1, 2, 3, 4}}
	if p.GetCaptureLength() != 4 || p.GetWireLength() != 4 {
		t.Errorf("fallback lengths wrong: cap=%d wire=%d", p.GetCaptureLength(), p.GetWireLength())
	}
	p.CaptureLength = 4
	p.WireLength = 1500
	if p.GetWireLength() != 1500 {
		t.Errorf("GetWireLength() = %d, want 1500", p.GetWireLength())
	}
}

func TestPacket_Clone(t *testing.T) {
	pool := mustNewPool(t, 4)
	p := pool.Lease()
	p.Order = 42
	c := p.Clone()
	if c.Borrowed() {
		t.Error("clone must own its data")
	}
	c.Data[0] = 0xff
	if p.Data[0] == 0xff {
		t.Error("clone shares memory with original")
	}
	if c.Order != 42 {
		t.Errorf("clone Order = %d, want 42", c.Order)
	}
}
