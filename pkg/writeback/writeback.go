// Package writeback implements the long-lived task that drains the hash
// store's dirty-extents set and persists each one to the backing file
// under a rate limit.
//
// Grounded on dinodb's pkg/pager.Pager.FlushAllPages ("walk pages, if
// dirty WriteAt then clear the flag") and pkg/recovery's
// RecoveryManager.flushLog append-under-mutex shape, generalized from an
// unconditional walk-everything flush to a "wait for dirty, snapshot,
// drain" loop.
package writeback

import (
	"context"
	"log"

	"golang.org/x/sync/errgroup"

	"hashstore/pkg/ratelimit"
)

// Store is the subset of *hashstore.Store the writeback activity needs.
// Declared locally (rather than importing hashstore's concrete type) so
// hashstore need not depend back on this package.
type Store interface {
	SnapshotDirtyExtents() []int64
	WaitForDirty(stop <-chan struct{})
	WakeWaiters()
	CopyExtent(idx int64, dst []byte)
	WriteExtentToFile(idx int64, buf []byte) error
	AlignedExtentBuffer() []byte
	MarkDirty(idx int64)
}

// Counters is the subset of *stats.Counters writeback increments.
type Counters interface {
	AddExtentOut(n int64)
}

// Activity runs the writeback loop as a supervised goroutine.
type Activity struct {
	store    Store
	counters Counters
	limiter  *ratelimit.Limiter
	stop     chan struct{}
	g        *errgroup.Group
}

// New constructs a writeback Activity. Call Start to begin draining.
func New(store Store, counters Counters, limiter *ratelimit.Limiter) *Activity {
	return &Activity{store: store, counters: counters, limiter: limiter, stop: make(chan struct{})}
}

// Start launches the writeback loop in a supervised goroutine. ctx
// cancellation stops rate-limited waits promptly; closing the Activity
// via Stop additionally unblocks the "wait for dirty work" condition.
func (a *Activity) Start(ctx context.Context) {
	g, ctx := errgroup.WithContext(ctx)
	a.g = g
	g.Go(func() error {
		a.run(ctx)
		return nil
	})
}

// Stop signals the loop to exit and waits for it to do so, then performs
// one final drain so no dirty extent is lost. Store.Close is expected to
// have already flushed anything left after Stop returns, in case a
// mutation raced the shutdown signal.
func (a *Activity) Stop() error {
	close(a.stop)
	a.store.WakeWaiters()
	if a.g == nil {
		return nil
	}
	return a.g.Wait()
}

func (a *Activity) run(ctx context.Context) {
	for {
		select {
		case <-a.stop:
			a.drainOnce(ctx)
			return
		default:
		}

		a.store.WaitForDirty(a.stop)

		select {
		case <-a.stop:
			a.drainOnce(ctx)
			return
		default:
		}

		a.drainOnce(ctx)
	}
}

// drainOnce runs one drain cycle: snapshot and clear the dirty set, then
// for each extent in iteration order, copy its current contents to a
// private buffer, write that buffer to the backing file, and charge the
// flush rate limiter (blocking).
func (a *Activity) drainOnce(ctx context.Context) {
	dirty := a.store.SnapshotDirtyExtents()
	if len(dirty) == 0 {
		return
	}
	buf := a.store.AlignedExtentBuffer()
	for i, idx := range dirty {
		a.store.CopyExtent(idx, buf)
		if err := a.store.WriteExtentToFile(idx, buf); err != nil {
			// Per-extent I/O failure is isolated: log, put idx back on
			// the dirty set so the next drain cycle retries it, and
			// move on to the rest of this cycle's extents.
			a.store.MarkDirty(idx)
			log.Printf("writeback: extent %d: %v", idx, err)
			continue
		}
		a.counters.AddExtentOut(1)
		if err := a.limiter.Wait(ctx, len(buf)); err != nil {
			// ctx was cancelled (or the limiter refused the wait): put
			// the extents not yet written back on the dirty set so a
			// later drain or Store.Close still flushes them.
			for _, rest := range dirty[i+1:] {
				a.store.MarkDirty(rest)
			}
			return
		}
	}
}
