package adapter

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fastBackoff(t *testing.T) {
	t.Helper()
	prev := BackoffBase
	BackoffBase = time.Millisecond
	t.Cleanup(func() { BackoffBase = prev })
}

func TestRetry_SucceedsAfterFailures(t *testing.T) {
	fastBackoff(t)
	calls := 0
	err := Retry(t.Context(), "test", 3, func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	}, nil)
	if err != nil {
		t.Fatalf("Retry returned %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestRetry_Exhausts(t *testing.T) {
	fastBackoff(t)
	boom := errors.New("boom")
	calls := 0
	err := Retry(t.Context(), "test", 2, func(context.Context) error {
		calls++
		return boom
	}, nil)
	if !errors.Is(err, boom) {
		t.Fatalf("Retry returned %v, want wrapped boom", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestRetry_PermanentStopsEarly(t *testing.T) {
	fastBackoff(t)
	calls := 0
	perm := errors.New("bad request")
	err := Retry(t.Context(), "test", 5, func(context.Context) error {
		calls++
		return perm
	}, func(err error) bool { return errors.Is(err, perm) })
	if !errors.Is(err, perm) || calls != 1 {
		t.Errorf("err=%v calls=%d, want perm after 1 call", err, calls)
	}
}

func TestRetry_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	err := Retry(ctx, "test", 3, func(context.Context) error {
		t.Fatal("op should not run")
		return nil
	}, nil)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Retry returned %v, want context.Canceled", err)
	}
}
