package hashstore

import (
	"sync"

	"github.com/bits-and-blooms/bitset"
	"golang.org/x/sync/singleflight"

	"hashstore/pkg/storefile"
)

// extentState tracks which extents are dirty (mutated since last flush)
// and missing (not yet read from the backing file since process start).
//
// dirty and missing are realized as bitsets (one bit per extent index)
// rather than dinodb's map-of-page-links pageTable, since a store sized
// for billions of candidate fingerprints implies millions of extents —
// a bitset is orders of magnitude cheaper per extent than a map entry.
type extentState struct {
	mu      sync.Mutex
	cond    *sync.Cond
	dirty   *bitset.BitSet
	missing *bitset.BitSet

	// fetchGroup collapses concurrent ensureLoaded calls for the same
	// extent into one fetch, giving every extent an exclusive per-extent
	// lock without a separate map of mutexes to manage.
	fetchGroup singleflight.Group
}

func newExtentState(numExtents int64) *extentState {
	es := &extentState{
		dirty:   bitset.New(uint(numExtents)),
		missing: bitset.New(uint(numExtents)).Complement(),
	}
	es.cond = sync.NewCond(&es.mu)
	return es
}

// setDirty marks idx dirty and wakes any writeback goroutine waiting for
// work.
func (es *extentState) setDirty(idx int64) {
	es.mu.Lock()
	es.dirty.Set(uint(idx))
	es.mu.Unlock()
	es.cond.Broadcast()
}

// isMissing reports whether idx has not yet been loaded from disk.
func (es *extentState) isMissing(idx int64) bool {
	es.mu.Lock()
	defer es.mu.Unlock()
	return es.missing.Test(uint(idx))
}

// clearMissing removes idx from the missing set.
func (es *extentState) clearMissing(idx int64) {
	es.mu.Lock()
	es.missing.Clear(uint(idx))
	es.mu.Unlock()
}

// snapshotAndClearDirty atomically takes the current dirty set and resets
// it to empty.
func (es *extentState) snapshotAndClearDirty() []int64 {
	es.mu.Lock()
	defer es.mu.Unlock()
	var out []int64
	for i, ok := es.dirty.NextSet(0); ok; i, ok = es.dirty.NextSet(i + 1) {
		out = append(out, int64(i))
	}
	es.dirty.ClearAll()
	return out
}

// waitForDirty blocks until the dirty set is non-empty, then returns
// (without consuming it — the caller still calls snapshotAndClearDirty).
// Returns immediately if stop is already closed.
func (es *extentState) waitForDirty(stop <-chan struct{}) {
	es.mu.Lock()
	defer es.mu.Unlock()
	for es.dirty.None() {
		select {
		case <-stop:
			return
		default:
		}
		es.cond.Wait()
	}
}

// wake unblocks any goroutine parked in waitForDirty, used on shutdown so
// the writeback loop notices a closed stop channel promptly.
func (es *extentState) wake() { es.cond.Broadcast() }

// ensureLoadedResult reports how a page-in resolved, for counter purposes.
type ensureLoadedResult int

const (
	alreadyLoaded ensureLoadedResult = iota
	loadedFresh
	loadedJoinedInFlight
)

// ensureLoaded pages idx in if needed: after it returns with a nil error,
// idx is not in the missing set and fetch (which copies the extent's
// on-disk contents into the store's owned buffer) has run exactly once
// for it.
func (es *extentState) ensureLoaded(idx int64, fetch func() error) (ensureLoadedResult, error) {
	if !es.isMissing(idx) {
		return alreadyLoaded, nil
	}
	// Only the caller whose own closure performs the fetch sets fetched;
	// singleflight's shared flag is true for that caller too whenever
	// another caller joined, so it cannot tell the two apart.
	fetched := false
	_, err, _ := es.fetchGroup.Do(keyFor(idx), func() (any, error) {
		if !es.isMissing(idx) {
			return nil, nil
		}
		if err := fetch(); err != nil {
			return nil, err
		}
		es.clearMissing(idx)
		fetched = true
		return nil, nil
	})
	if err != nil {
		return 0, err
	}
	if !fetched {
		return loadedJoinedInFlight, nil
	}
	return loadedFresh, nil
}

func keyFor(idx int64) string {
	// Renders idx as a plain decimal string into a stack buffer, without
	// going through fmt or strconv.
	var buf [20]byte
	n := len(buf)
	if idx == 0 {
		n--
		buf[n] = '0'
	}
	for idx > 0 {
		n--
		buf[n] = byte('0' + idx%10)
		idx /= 10
	}
	return string(buf[n:])
}

// readExtentAligned is a small helper shared by ensureLoaded callers to
// pull one extent from the backing file into an aligned scratch buffer
// before copying it into the store's owned buffer.
func readExtentAligned(f *storefile.File, idx int64) ([]byte, error) {
	buf := f.AlignedBuffer()
	if err := f.ReadExtent(idx, buf); err != nil {
		return nil, err
	}
	return buf, nil
}
