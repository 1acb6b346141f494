package ratelimit_test

import (
	"context"
	"testing"
	"time"

	"hashstore/pkg/ratelimit"
)

func TestWaitConsumesBudgetImmediatelyWithinBurst(t *testing.T) {
	l := ratelimit.New(1000)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	start := time.Now()
	if err := l.Wait(ctx, 100); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 200*time.Millisecond {
		t.Fatalf("Wait took %v for a request well within burst", elapsed)
	}
}

func TestWaitRespectsCancellation(t *testing.T) {
	l := ratelimit.New(1) // 1 byte/sec, tiny burst
	// Drain the burst first so the next Wait would otherwise block.
	_ = l.Wait(context.Background(), 1)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := l.Wait(ctx, 1000); err == nil {
		t.Fatal("Wait succeeded, want a context-deadline error")
	}
}

func TestBorrowNeverBlocksAndTracksDebt(t *testing.T) {
	l := ratelimit.New(1) // 1 byte/sec, burst of 1
	l.Borrow(1)           // within burst, no debt
	if l.Debt() != 0 {
		t.Fatalf("Debt after in-budget borrow = %d, want 0", l.Debt())
	}

	before := time.Now()
	l.Borrow(1_000_000) // far exceeds burst
	if elapsed := time.Since(before); elapsed > 50*time.Millisecond {
		t.Fatalf("Borrow blocked for %v, want non-blocking", elapsed)
	}
	if l.Debt() == 0 {
		t.Fatal("Debt after over-budget borrow = 0, want non-zero")
	}
}
