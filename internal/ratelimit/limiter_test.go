package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestLimiterFirstWaitImmediate(t *testing.T) {
	l := New(100 * time.Millisecond)
	ctx := context.Background()

	start := time.Now()
	if err := l.Wait(ctx); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 20*time.Millisecond {
		t.Errorf("expected near-instant first wait, got %v", elapsed)
	}
}

func TestLimiterEnforcesSpacing(t *testing.T) {
	l := New(50 * time.Millisecond)
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 3; i++ {
		if err := l.Wait(ctx); err != nil {
			t.Fatalf("wait %d: unexpected error: %v", i, err)
		}
	}
	// Three permits at 50ms spacing: at least 100ms total.
	if elapsed := time.Since(start); elapsed < 90*time.Millisecond {
		t.Errorf("expected at least ~100ms for 3 permits, got %v", elapsed)
	}
}

func TestLimiterZeroIntervalNeverBlocks(t *testing.T) {
	l := New(0)
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 100; i++ {
		if err := l.Wait(ctx); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if elapsed := time.Since(start); elapsed > 20*time.Millisecond {
		t.Errorf("expected unthrottled waits, got %v", elapsed)
	}
}

func TestLimiterNewRate(t *testing.T) {
	l := NewRate(10)
	if got := l.Interval(); got != 100*time.Millisecond {
		t.Errorf("expected 100ms interval for 10/s, got %v", got)
	}

	l = NewRate(0)
	if got := l.Interval(); got != 0 {
		t.Errorf("expected zero interval for non-positive rate, got %v", got)
	}
}

func TestLimiterWaitCancellation(t *testing.T) {
	l := New(time.Second)
	ctx, cancel := context.WithCancel(context.Background())

	// First permit is immediate, second blocks for a second.
	if err := l.Wait(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- l.Wait(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != context.Canceled {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("Wait did not return after cancellation")
	}
}

func TestLimiterSetInterval(t *testing.T) {
	l := New(time.Hour)
	l.SetInterval(10 * time.Millisecond)

	if got := l.Interval(); got != 10*time.Millisecond {
		t.Errorf("expected 10ms, got %v", got)
	}

	// The schedule must reset, not stall for the old interval.
	ctx := context.Background()
	start := time.Now()
	if err := l.Wait(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := l.Wait(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 200*time.Millisecond {
		t.Errorf("expected waits under the new interval, got %v", elapsed)
	}
}
