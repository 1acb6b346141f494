// Package ratelimit implements the two token-bucket limiters the hash
// store shares between its writeback and prefetch activities: both refill
// at the same rate, but flush blocks to enforce the budget while prefetch
// only borrows against it, letting the balance run negative.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter wraps a golang.org/x/time/rate.Limiter to expose two access
// modes: Wait (blocking, used by flush) and Borrow (non-blocking, used
// by page-in, permitted to go into debt).
type Limiter struct {
	rl *rate.Limiter

	mu   sync.Mutex
	debt int64 // total bytes of Borrow calls made while short of tokens; never decreases
}

// New returns a Limiter refilling at bytesPerSec, with a burst equal to
// one second's worth of tokens.
func New(bytesPerSec int64) *Limiter {
	if bytesPerSec <= 0 {
		bytesPerSec = 1
	}
	return &Limiter{rl: rate.NewLimiter(rate.Limit(bytesPerSec), int(bytesPerSec))}
}

// Wait blocks until n bytes' worth of budget is available, or ctx is
// cancelled. Used by the writeback activity, which may sleep to enforce
// the flush rate.
func (l *Limiter) Wait(ctx context.Context, n int) error {
	return l.rl.WaitN(ctx, n)
}

// Borrow charges n bytes against the limiter without blocking. If n is
// within the burst size, the tokens are reserved even when that pushes
// the bucket into deficit, so future refills pay for them; if the bucket
// was short, the whole n is added to the debt counter. If n exceeds the
// burst size, nothing is reserved and n is only added to the debt
// counter. Used by ensureLoaded's page-in accounting.
func (l *Limiter) Borrow(n int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	r := l.rl.ReserveN(time.Now(), n)
	if !r.OK() {
		// Reservation exceeds the burst size outright; just count it as
		// debt so the caller never blocks.
		l.debt += int64(n)
		return
	}
	// ReserveN may report a future delay; borrow mode ignores it (that's
	// the point) but records it so callers can inspect outstanding debt.
	if d := r.Delay(); d > 0 {
		l.debt += int64(n)
	}
}

// Debt returns the cumulative byte count of Borrow calls made while the
// limiter was short of tokens. It is not reduced as tokens refill. This is
// diagnostic only; nothing blocks on it.
func (l *Limiter) Debt() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.debt
}
