package hashstore

import (
	"math/rand"

	"hashstore/pkg/cellcodec"
)

// bucketView is a bounded slice of a store's owned buffer holding exactly
// C cells for one bucket, in MRU order (index 0 most recently used).
// Generalizes dinodb's pkg/hash/bucket.go HashBucket, which addressed
// cells through a *pager.Page; here the store's single owned buffer plays
// that role and bucketView is just the relevant sub-slice.
type bucketView struct {
	buf   []byte // len == cellsPerBucket * CellSize
	cells int64
}

func (b bucketView) get(i int64) cellcodec.Cell {
	off := i * CellSize
	return cellcodec.Decode(b.buf[off : off+CellSize])
}

func (b bucketView) set(i int64, c cellcodec.Cell) {
	off := i * CellSize
	c.Encode(b.buf[off : off+CellSize])
}

// find returns, in bucket order, every cell whose fingerprint equals h and
// whose address is valid. The toxic short-circuit and page-in are the
// caller's responsibility.
func (b bucketView) find(h cellcodec.Fingerprint) []cellcodec.Cell {
	var out []cellcodec.Cell
	for i := int64(0); i < b.cells; i++ {
		c := b.get(i)
		if c.Hash == h && c.Addr.Valid() {
			out = append(out, c)
		}
	}
	return out
}

// erase overwrites the first cell matching (h, addr) with the empty cell,
// leaving a hole. Returns whether a match was found.
func (b bucketView) erase(h cellcodec.Fingerprint, addr cellcodec.Address) bool {
	target := cellcodec.Cell{Hash: h, Addr: addr}
	for i := int64(0); i < b.cells; i++ {
		if b.get(i).Equal(target) {
			b.set(i, cellcodec.Empty)
			return true
		}
	}
	return false
}

// rotateRightInto shifts cells [0, source] toward higher indices by one,
// overwriting index `source`, then writes target at index 0.
func (b bucketView) rotateRightInto(source int64, target cellcodec.Cell) {
	for i := source; i > 0; i-- {
		b.set(i, b.get(i-1))
	}
	b.set(0, target)
}

// pushFront implements MRU promotion / insertion-at-front. Returns
// (found, evicted, changed) where found reports whether (h, addr)
// was already present, evicted reports whether a full bucket forced an
// eviction, and changed reports whether the bucket's contents were
// mutated (used by the caller to decide whether to mark the extent dirty).
func (b bucketView) pushFront(h cellcodec.Fingerprint, addr cellcodec.Address) (found, evicted, changed bool) {
	target := cellcodec.Cell{Hash: h, Addr: addr}

	source := int64(-1)
	for i := int64(0); i < b.cells; i++ {
		c := b.get(i)
		if c.Equal(target) {
			source = i
			found = true
			break
		}
	}
	if source == -1 {
		for i := int64(0); i < b.cells; i++ {
			if b.get(i).IsEmpty() {
				source = i
				break
			}
		}
	}
	if source == -1 {
		source = b.cells - 1
		evicted = true
	}

	if source == 0 {
		if !b.get(0).Equal(target) {
			b.set(0, target)
			changed = true
		}
		return found, evicted, changed
	}

	b.rotateRightInto(source, target)
	changed = true
	return found, evicted, changed
}

// pushRandomResult reports which case of pushRandom's five-case table fired.
type pushRandomResult struct {
	found   bool
	already bool // case 2: existing match at or before p, left unchanged
	bump    bool // case 1: existing match rotated forward
	evicted bool // case 5: full bucket, evicted the tail
	changed bool
}

// pushRandom implements a five-case randomized-insertion table using p
// sampled from rnd, a caller-owned generator that must never be shared
// across goroutines.
func (b bucketView) pushRandom(h cellcodec.Fingerprint, addr cellcodec.Address, rnd *rand.Rand) pushRandomResult {
	target := cellcodec.Cell{Hash: h, Addr: addr}
	p := int64(rnd.Intn(int(b.cells)))

	// Look for an existing match anywhere in the bucket.
	existing := int64(-1)
	for i := int64(0); i < b.cells; i++ {
		if b.get(i).Equal(target) {
			existing = i
			break
		}
	}

	if existing != -1 {
		if existing > p {
			// Case 1: rotate [p, existing] right by one, write target at p.
			for i := existing; i > p; i-- {
				b.set(i, b.get(i-1))
			}
			b.set(p, target)
			return pushRandomResult{found: true, bump: true, changed: true}
		}
		// Case 2: existing <= p, unchanged.
		return pushRandomResult{found: true, already: true}
	}

	// Case 3: scan upward from p for an empty cell.
	for i := p; i < b.cells; i++ {
		if b.get(i).IsEmpty() {
			b.set(i, target)
			return pushRandomResult{changed: true}
		}
	}
	// Case 4: scan downward from p-1 for an empty cell.
	for i := p - 1; i >= 0; i-- {
		if b.get(i).IsEmpty() {
			b.set(i, target)
			return pushRandomResult{changed: true}
		}
	}
	// Case 5: bucket is completely full; evict the tail, rotate [p, C-1] right.
	for i := b.cells - 1; i > p; i-- {
		b.set(i, b.get(i-1))
	}
	b.set(p, target)
	return pushRandomResult{evicted: true, changed: true}
}
