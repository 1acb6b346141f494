// Package prefetch implements the startup fault-in/verify pass and the
// periodic occupancy-statistics rescan.
//
// Grounded on dinodb's pkg/hash/verify.go IsHash, which walks every
// bucket and reports whether the hash-to-bucket invariant holds;
// generalized here to also *repair* violating cells instead of only
// reporting a boolean, and to accumulate per-bucket occupancy for the
// histogram along the way.
package prefetch

import (
	"context"
	"log"
	"time"

	"golang.org/x/sync/errgroup"

	"hashstore/pkg/stats"
)

// Store is the subset of *hashstore.Store the prefetch activity needs.
type Store interface {
	NumExtents() int64
	BucketsPerExtent() int64
	CellsPerBucket() int64
	EnsureLoaded(extentIdx int64) error
	VerifyBucket(bucketIdx int64) (occupied int64, violated bool, magicAddrBugs, dupBugs int64)
	VerifyAndRepairBucket(bucketIdx int64) (occupied int64, repaired bool, magicAddrBugs, dupBugs int64)
	MarkDirty(extentIdx int64)
}

// MemoryPinner pins/unpins the store's backing memory region. On
// platforms without a real mlock (or when the caller doesn't want one),
// pass a no-op implementation.
type MemoryPinner interface {
	Pin() error
	Unpin() error
}

// Activity runs the startup verification pass and the periodic
// occupancy rescan as a supervised goroutine.
type Activity struct {
	store    Store
	counters *stats.Counters
	sink     *stats.Sink
	pinner   MemoryPinner
	interval time.Duration

	g    *errgroup.Group
	stop chan struct{}
}

// New constructs a prefetch Activity.
func New(store Store, counters *stats.Counters, sink *stats.Sink, pinner MemoryPinner, interval time.Duration) *Activity {
	return &Activity{
		store:    store,
		counters: counters,
		sink:     sink,
		pinner:   pinner,
		interval: interval,
		stop:     make(chan struct{}),
	}
}

// Run performs the startup pass synchronously, then launches the
// periodic rescan as a supervised goroutine that keeps running until ctx
// is cancelled or Stop is called.
func (a *Activity) Run(ctx context.Context) error {
	if err := a.pinner.Pin(); err != nil {
		log.Printf("prefetch: mlock failed, continuing without pinning: %v", err)
	}
	if _, err := a.scanAndVerify(true); err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	a.g = g
	g.Go(func() error {
		ticker := time.NewTicker(a.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-a.stop:
				return nil
			case <-ticker.C:
				if _, err := a.scanAndVerify(false); err != nil {
					log.Printf("prefetch: periodic rescan: %v", err)
				}
			}
		}
	})
	return nil
}

// Stop signals the periodic rescan to exit and waits for it.
func (a *Activity) Stop() error {
	close(a.stop)
	if a.g == nil {
		return nil
	}
	return a.g.Wait()
}

// scanAndVerify walks every extent in order, ensures it is loaded, and
// verifies every cell, accumulating per-bucket occupancy for the
// histogram. repair controls whether violating cells are actually
// zeroed: the startup pass repairs (and re-dirties any extent it
// changes) while the periodic rescan runs read-only, purely to refresh
// statistics and log violations, and never mutates or re-dirties a
// bucket. The periodic rescan checks every cell, including cells written
// since startup by normal PushFront/PushRandom/Erase traffic, but only
// counts what it finds.
func (a *Activity) scanAndVerify(repair bool) ([]int64, error) {
	numExtents := a.store.NumExtents()
	bucketsPerExtent := a.store.BucketsPerExtent()
	occupancy := make([]int64, 0, numExtents*bucketsPerExtent)

	for e := int64(0); e < numExtents; e++ {
		if err := a.store.EnsureLoaded(e); err != nil {
			log.Printf("prefetch: extent %d: %v", e, err)
			continue
		}
		extentDirty := false
		for b := int64(0); b < bucketsPerExtent; b++ {
			bucketIdx := e*bucketsPerExtent + b
			var occupied int64
			var violated bool
			var magicAddrBugs, dupBugs int64
			if repair {
				occupied, violated, magicAddrBugs, dupBugs = a.store.VerifyAndRepairBucket(bucketIdx)
			} else {
				occupied, violated, magicAddrBugs, dupBugs = a.store.VerifyBucket(bucketIdx)
			}
			occupancy = append(occupancy, occupied)
			if violated {
				a.counters.BugMagicAddr.Add(magicAddrBugs)
				a.counters.BugDupCell.Add(dupBugs)
				if repair {
					extentDirty = true
				}
			}
		}
		if extentDirty {
			a.store.MarkDirty(e)
		}
	}

	if a.sink != nil {
		histogram := stats.Histogram(occupancy, a.store.CellsPerBucket(), 10)
		if err := a.sink.Write(histogram, a.counters.Snapshot()); err != nil {
			log.Printf("prefetch: writing stats blob: %v", err)
		}
	}
	return occupancy, nil
}

// NoopPinner is used on platforms or in tests where mlock is undesired.
type NoopPinner struct{}

func (NoopPinner) Pin() error   { return nil }
func (NoopPinner) Unpin() error { return nil }
