// Package hashstore implements the persistent, memory-resident,
// approximate hash index: a fixed-size region partitioned into extents,
// buckets, and cells, offering bounded-time Find/PushFront/PushRandom/Erase
// against a backing file, with LRU-like eviction inside each bucket and
// lazy, rate-limited page-in/writeback of extents.
//
// It generalizes dinodb's pkg/hash (extendible hashing over pager-backed
// buckets) from a resizable disk-backed hash table keyed by an
// application int64 key to a fixed-size, MRU-ordered associative cache
// keyed by an opaque 64-bit fingerprint.
package hashstore

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"hashstore/pkg/cellcodec"
	"hashstore/pkg/config"
	"hashstore/pkg/ratelimit"
	"hashstore/pkg/stats"
	"hashstore/pkg/storefile"
)

// Store is the fixed-size, memory-resident hash index. The zero value is
// not usable; construct one with New.
type Store struct {
	geometry
	cfg config.Config

	file *storefile.File
	buf  []byte // owned buffer, S bytes; aliased as cells/buckets/extents

	bucketMu sync.Mutex // guards all cell mutation and multi-cell reads
	extents  *extentState

	toxic    *toxicFilter
	Counters *stats.Counters
	rndPool  sync.Pool

	pageInLimiter *ratelimit.Limiter
}

// New constructs (or reopens) a store backed by a file named name under
// dir, sized to storeSize bytes, using digest to seed the toxic-hash
// filter. Geometry (bucket/extent/sum-block sizes) comes from cfg.
func New(dir, name string, storeSize int64, digest DigestFunc, cfg config.Config) (*Store, error) {
	g, err := newGeometry(storeSize, cfg.BucketSize, cfg.ExtentSize, cfg.SumBlockSize)
	if err != nil {
		return nil, err
	}
	f, err := storefile.Create(dir, name, storeSize, cfg.BucketSize, cfg.ExtentSize, cfg.SumBlockSize)
	if err != nil {
		return nil, err
	}
	s := &Store{
		geometry: g,
		cfg:      cfg,
		file:     f,
		buf:      make([]byte, storeSize),
		extents:  newExtentState(g.numExtents),
		toxic:    newToxicFilter(digest, cfg.SumBlockSize),
		Counters: stats.NewCounters(),
	}
	s.rndPool.New = func() any {
		return rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return s, nil
}

// Buffer returns the store's owned memory region, for callers (such as
// prefetch.UnixMlockPinner) that need to pin it in physical memory.
func (s *Store) Buffer() []byte { return s.buf }

// SetPageInLimiter installs the borrow-mode rate limiter charged for
// each extent faulted in from the backing file. Optional: if never
// called, page-in is unlimited, which is what unit tests and offline
// tools like hashinspect want.
func (s *Store) SetPageInLimiter(l *ratelimit.Limiter) { s.pageInLimiter = l }

// bucketBuf returns the view over the store's owned buffer for bucket idx.
func (s *Store) bucketBuf(idx int64) bucketView {
	off := s.bucketOffset(idx)
	return bucketView{buf: s.buf[off : off+s.bucketSize], cells: s.cellsPerBucket}
}

// extentBuf returns the store's owned buffer slice for extent idx.
func (s *Store) extentBuf(idx int64) []byte {
	off := s.extentOffset(idx)
	return s.buf[off : off+s.extentSize]
}

// takeRand borrows a task-local RNG from the pool. Callers must return it
// with putRand. Never share one *rand.Rand across goroutines: the source
// is not safe for concurrent use, and a shared one would serialize every
// eviction decision across the whole store.
func (s *Store) takeRand() *rand.Rand { return s.rndPool.Get().(*rand.Rand) }
func (s *Store) putRand(r *rand.Rand) { s.rndPool.Put(r) }

// ensureLoaded faults extent idx in from the backing file if it is still
// missing, coalescing concurrent callers onto a single fetch.
func (s *Store) ensureLoaded(idx int64) error {
	res, err := s.extents.ensureLoaded(idx, func() error {
		aligned, err := readExtentAligned(s.file, idx)
		if err != nil {
			return err
		}
		if s.pageInLimiter != nil {
			s.pageInLimiter.Borrow(len(aligned))
		}
		s.bucketMu.Lock()
		copy(s.extentBuf(idx), aligned)
		s.bucketMu.Unlock()
		return nil
	})
	if err != nil {
		return err
	}
	switch res {
	case loadedFresh:
		s.Counters.ExtentIn.Add(1)
	case loadedJoinedInFlight:
		s.Counters.ExtentInTwice.Add(1)
	}
	return nil
}

// Find looks up every cell whose fingerprint matches h, faulting in the
// owning extent first if needed. A toxic fingerprint short-circuits
// straight to a synthetic result without touching the backing file.
func (s *Store) Find(h cellcodec.Fingerprint) ([]cellcodec.Cell, error) {
	s.Counters.Lookup.Add(1)
	if s.toxic.isToxic(h) {
		s.Counters.Toxic.Add(1)
		return []cellcodec.Cell{toxicCell(h)}, nil
	}
	bucketIdx := s.bucketIndex(h)
	extentIdx := s.extentIndex(bucketIdx)
	if err := s.ensureLoaded(extentIdx); err != nil {
		return nil, err
	}
	s.bucketMu.Lock()
	defer s.bucketMu.Unlock()
	return s.bucketBuf(bucketIdx).find(h), nil
}

// Erase removes the first cell matching (h, addr), leaving a hole in its
// bucket rather than compacting the remaining cells.
func (s *Store) Erase(h cellcodec.Fingerprint, addr cellcodec.Address) error {
	bucketIdx := s.bucketIndex(h)
	extentIdx := s.extentIndex(bucketIdx)
	if err := s.ensureLoaded(extentIdx); err != nil {
		return err
	}
	s.bucketMu.Lock()
	found := s.bucketBuf(bucketIdx).erase(h, addr)
	s.bucketMu.Unlock()
	if found {
		s.Counters.Erase.Add(1)
		s.extents.setDirty(extentIdx)
	}
	return nil
}

// PushFront promotes (h, addr) to the most-recently-used position of its
// bucket, inserting it if absent and evicting the least-recently-used
// cell if the bucket is full.
func (s *Store) PushFront(h cellcodec.Fingerprint, addr cellcodec.Address) (bool, error) {
	bucketIdx := s.bucketIndex(h)
	extentIdx := s.extentIndex(bucketIdx)
	if err := s.ensureLoaded(extentIdx); err != nil {
		return false, err
	}
	s.bucketMu.Lock()
	found, evicted, changed := s.bucketBuf(bucketIdx).pushFront(h, addr)
	s.bucketMu.Unlock()

	s.Counters.Front.Add(1)
	if evicted {
		s.Counters.Evict.Add(1)
	}
	if changed {
		s.extents.setDirty(extentIdx)
	}
	return found, nil
}

// PushRandom inserts or bumps (h, addr) using a randomized position
// within its bucket rather than always promoting to the front, trading
// perfect recency ordering for cheaper average-case writes.
func (s *Store) PushRandom(h cellcodec.Fingerprint, addr cellcodec.Address) (bool, error) {
	bucketIdx := s.bucketIndex(h)
	extentIdx := s.extentIndex(bucketIdx)
	if err := s.ensureLoaded(extentIdx); err != nil {
		return false, err
	}
	rnd := s.takeRand()
	s.bucketMu.Lock()
	res := s.bucketBuf(bucketIdx).pushRandom(h, addr, rnd)
	s.bucketMu.Unlock()
	s.putRand(rnd)

	switch {
	case res.bump:
		s.Counters.Bump.Add(1)
	case res.already:
		s.Counters.Already.Add(1)
	}
	if res.changed {
		s.Counters.Insert.Add(1)
		s.extents.setDirty(extentIdx)
	}
	if res.evicted {
		s.Counters.Evict.Add(1)
	}
	return res.found, nil
}

// NumExtents returns m_extents.
func (s *Store) NumExtents() int64 { return s.numExtents }

// NumBuckets returns m_buckets.
func (s *Store) NumBuckets() int64 { return s.numBuckets }

// BucketsPerExtent returns B_extent / B_bucket.
func (s *Store) BucketsPerExtent() int64 { return s.bucketsPerExtent }

// CellsPerBucket returns C.
func (s *Store) CellsPerBucket() int64 { return s.cellsPerBucket }

// SnapshotDirtyExtents returns and clears the current dirty set. Used
// exclusively by the writeback activity.
func (s *Store) SnapshotDirtyExtents() []int64 { return s.extents.snapshotAndClearDirty() }

// WaitForDirty blocks until an extent is dirty or stop is closed.
func (s *Store) WaitForDirty(stop <-chan struct{}) { s.extents.waitForDirty(stop) }

// WakeWaiters unblocks anything parked in WaitForDirty.
func (s *Store) WakeWaiters() { s.extents.wake() }

// MarkDirty marks extentIdx dirty. Exposed for the prefetch/verification
// path, which re-dirties an extent it has just repaired.
func (s *Store) MarkDirty(extentIdx int64) { s.extents.setDirty(extentIdx) }

// EnsureLoaded exposes ensureLoaded to the prefetch activity, which walks
// every extent in order at startup.
func (s *Store) EnsureLoaded(extentIdx int64) error { return s.ensureLoaded(extentIdx) }

// CopyExtent copies extent idx's current in-memory contents into dst,
// under the bucket lock, so the writeback activity can write a private
// buffer instead of holding the lock across file I/O. dst must be
// extentSize bytes.
func (s *Store) CopyExtent(idx int64, dst []byte) {
	s.bucketMu.Lock()
	copy(dst, s.extentBuf(idx))
	s.bucketMu.Unlock()
}

// WriteExtentToFile writes buf to the backing file at extent idx's
// offset. Used by the writeback activity.
func (s *Store) WriteExtentToFile(idx int64, buf []byte) error {
	return s.file.WriteExtent(idx, buf)
}

// AlignedExtentBuffer returns a directio-aligned scratch buffer sized for
// one extent, for callers (writeback) that need a private copy target.
func (s *Store) AlignedExtentBuffer() []byte { return s.file.AlignedBuffer() }

// VerifyBucket walks bucket idx and reports invariant violations (a
// non-empty cell with a reserved address, or a duplicate non-empty cell
// within the bucket) without mutating it. Used for the read-only
// verification pass run during regular operation, which only logs
// findings via the bug counters and never diverges the in-memory bucket
// from what's on disk. Must be called with extent idx already loaded.
func (s *Store) VerifyBucket(bucketIdx int64) (occupied int64, violated bool, magicAddrBugs, dupBugs int64) {
	s.bucketMu.Lock()
	defer s.bucketMu.Unlock()
	return s.verifyBucketLocked(bucketIdx, false)
}

// VerifyAndRepairBucket walks bucket idx, zeroing any cell that violates
// the store's invariants (a non-empty cell with a reserved address, or a
// duplicate non-empty cell within the bucket), and returns the number of
// occupied cells after repair and whether any repair was made. Must be
// called with extent idx already loaded; the caller (prefetch) holds no
// lock across the call, VerifyAndRepairBucket takes bucketMu itself.
func (s *Store) VerifyAndRepairBucket(bucketIdx int64) (occupied int64, repaired bool, magicAddrBugs, dupBugs int64) {
	s.bucketMu.Lock()
	defer s.bucketMu.Unlock()
	return s.verifyBucketLocked(bucketIdx, true)
}

// verifyBucketLocked is the shared walk behind VerifyBucket and
// VerifyAndRepairBucket; repair controls whether violating cells are
// actually zeroed or only counted. occupied always reflects the number
// of valid, non-duplicate cells the bucket holds (i.e. what it would
// hold after a repair), regardless of repair.
func (s *Store) verifyBucketLocked(bucketIdx int64, repair bool) (occupied int64, violated bool, magicAddrBugs, dupBugs int64) {
	b := s.bucketBuf(bucketIdx)

	seen := make(map[cellcodec.Cell]int64, b.cells)
	for i := int64(0); i < b.cells; i++ {
		c := b.get(i)
		if c.IsEmpty() {
			continue
		}
		if !c.Addr.Valid() {
			if repair {
				b.set(i, cellcodec.Empty)
			}
			magicAddrBugs++
			violated = true
			continue
		}
		if first, dup := seen[c]; dup {
			// Duplicate cells are ambiguous: zero both rather than
			// guessing which one is the stale copy.
			if repair {
				b.set(i, cellcodec.Empty)
				b.set(first, cellcodec.Empty)
			}
			delete(seen, c)
			dupBugs++
			violated = true
			continue
		}
		seen[c] = i
	}
	occupied = int64(len(seen))
	return occupied, violated, magicAddrBugs, dupBugs
}

// Close performs a final synchronous flush of all remaining dirty
// extents, then releases the backing file.
func (s *Store) Close() error {
	dirty := s.SnapshotDirtyExtents()
	buf := s.AlignedExtentBuffer()
	var firstErr error
	for _, idx := range dirty {
		s.CopyExtent(idx, buf)
		if err := s.WriteExtentToFile(idx, buf); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("hashstore: final flush of extent %d: %w", idx, err)
		}
	}
	if err := s.file.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
