package hashstore

import (
	"math/rand"
	"testing"

	"hashstore/pkg/cellcodec"
)

// newTestBucket returns an empty bucketView of the given cell count,
// backed by its own buffer.
func newTestBucket(cells int64) bucketView {
	return bucketView{buf: make([]byte, cells*CellSize), cells: cells}
}

func cell(h, a uint64) cellcodec.Cell {
	return cellcodec.Cell{Hash: cellcodec.Fingerprint(h), Addr: cellcodec.Address(a)}
}

func fill(b bucketView, cells ...cellcodec.Cell) {
	for i, c := range cells {
		b.set(int64(i), c)
	}
}

func TestBucketPushFront(t *testing.T) {
	// Five scenarios exercising every branch of the MRU promotion table:
	// new insert into an empty slot, promotion of an existing hit to the
	// front, a no-op re-promotion of the cell already at the front, and
	// eviction of the tail once the bucket is full.
	tests := map[string]struct {
		before        []cellcodec.Cell
		push          cellcodec.Cell
		wantFound     bool
		wantEvicted   bool
		wantChanged   bool
		wantAfterHead cellcodec.Cell
	}{
		"insert into empty bucket": {
			before:        nil,
			push:          cell(1, 0x2000),
			wantFound:     false,
			wantChanged:   true,
			wantAfterHead: cell(1, 0x2000),
		},
		"insert into first empty slot": {
			before:        []cellcodec.Cell{cell(1, 0x2000)},
			push:          cell(2, 0x3000),
			wantFound:     false,
			wantChanged:   true,
			wantAfterHead: cell(2, 0x3000),
		},
		"promote existing hit to front": {
			before:        []cellcodec.Cell{cell(1, 0x2000), cell(2, 0x3000), cell(3, 0x4000)},
			push:          cell(3, 0x4000),
			wantFound:     true,
			wantChanged:   true,
			wantAfterHead: cell(3, 0x4000),
		},
		"re-push cell already at front is a no-op": {
			before:        []cellcodec.Cell{cell(1, 0x2000), cell(2, 0x3000)},
			push:          cell(1, 0x2000),
			wantFound:     true,
			wantChanged:   false,
			wantAfterHead: cell(1, 0x2000),
		},
		"full bucket evicts the tail": {
			before:        []cellcodec.Cell{cell(1, 0x2000), cell(2, 0x3000), cell(3, 0x4000), cell(4, 0x5000)},
			push:          cell(5, 0x6000),
			wantFound:     false,
			wantEvicted:   true,
			wantChanged:   true,
			wantAfterHead: cell(5, 0x6000),
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			b := newTestBucket(4)
			fill(b, tc.before...)

			found, evicted, changed := b.pushFront(tc.push.Hash, tc.push.Addr)
			if found != tc.wantFound {
				t.Errorf("found = %v, want %v", found, tc.wantFound)
			}
			if evicted != tc.wantEvicted {
				t.Errorf("evicted = %v, want %v", evicted, tc.wantEvicted)
			}
			if changed != tc.wantChanged {
				t.Errorf("changed = %v, want %v", changed, tc.wantChanged)
			}
			if got := b.get(0); !got.Equal(tc.wantAfterHead) {
				t.Errorf("head = %+v, want %+v", got, tc.wantAfterHead)
			}
		})
	}
}

// fixedSource is a trivial rand.Source that always returns the same
// Int63 value, used to pin the random draw p that pushRandom samples
// instead of leaving it to chance.
type fixedSource struct{ v int64 }

func (s fixedSource) Int63() int64 { return s.v }
func (fixedSource) Seed(int64)     {}

// rngReturning builds a *rand.Rand whose Intn(4) call (bucket size used by
// every test in this file) always returns p. Int31n's power-of-two fast
// path masks the top bits of Int63(), so left-shifting p into that range
// pins the draw deterministically instead of leaving it to chance.
func rngReturning(p int64) *rand.Rand {
	return rand.New(fixedSource{v: p << 32})
}

func TestBucketPushRandom(t *testing.T) {
	tests := map[string]struct {
		before      []cellcodec.Cell
		push        cellcodec.Cell
		p           int64 // forced draw from rnd.Intn
		wantFound   bool
		wantAlready bool
		wantBump    bool
		wantEvicted bool
		wantChanged bool
	}{
		"case 1: existing match after p is bumped forward": {
			before:      []cellcodec.Cell{cell(1, 0x2000), cell(2, 0x3000), cell(3, 0x4000)},
			push:        cell(3, 0x4000),
			p:           0,
			wantFound:   true,
			wantBump:    true,
			wantChanged: true,
		},
		"case 2: existing match at or before p is left alone": {
			before:      []cellcodec.Cell{cell(1, 0x2000), cell(2, 0x3000), cell(3, 0x4000)},
			push:        cell(1, 0x2000),
			p:           2,
			wantFound:   true,
			wantAlready: true,
		},
		"case 3: no match, empty cell at or after p": {
			before:      []cellcodec.Cell{cell(1, 0x2000)},
			push:        cell(9, 0x9000),
			p:           0,
			wantChanged: true,
		},
		"case 5: bucket full, evicts tail": {
			before:      []cellcodec.Cell{cell(1, 0x2000), cell(2, 0x3000), cell(3, 0x4000), cell(4, 0x5000)},
			push:        cell(9, 0x9000),
			p:           1,
			wantEvicted: true,
			wantChanged: true,
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			b := newTestBucket(4)
			fill(b, tc.before...)

			res := b.pushRandom(tc.push.Hash, tc.push.Addr, rngReturning(tc.p))
			if res.found != tc.wantFound {
				t.Errorf("found = %v, want %v", res.found, tc.wantFound)
			}
			if res.already != tc.wantAlready {
				t.Errorf("already = %v, want %v", res.already, tc.wantAlready)
			}
			if res.bump != tc.wantBump {
				t.Errorf("bump = %v, want %v", res.bump, tc.wantBump)
			}
			if res.evicted != tc.wantEvicted {
				t.Errorf("evicted = %v, want %v", res.evicted, tc.wantEvicted)
			}
			if res.changed != tc.wantChanged {
				t.Errorf("changed = %v, want %v", res.changed, tc.wantChanged)
			}
		})
	}
}

func TestBucketFindAndErase(t *testing.T) {
	b := newTestBucket(4)
	fill(b, cell(1, 0x2000), cell(2, 0x3000), cell(1, 0x4000))

	found := b.find(1)
	if len(found) != 2 {
		t.Fatalf("find(1) returned %d cells, want 2", len(found))
	}

	if !b.erase(1, 0x2000) {
		t.Fatal("erase of present cell reported not found")
	}
	if b.erase(1, 0x2000) {
		t.Fatal("erase of already-erased cell reported found")
	}
	if got := b.find(1); len(got) != 1 || got[0].Addr != 0x4000 {
		t.Fatalf("find(1) after erase = %+v, want single cell at 0x4000", got)
	}
}

func TestBucketFindSkipsInvalidAddress(t *testing.T) {
	b := newTestBucket(4)
	// An address below SentinelThreshold is not a valid hit even if the
	// fingerprint matches; the toxic path returns these separately.
	fill(b, cellcodec.Cell{Hash: 7, Addr: 1})

	if got := b.find(7); len(got) != 0 {
		t.Fatalf("find(7) = %+v, want no results for a sub-sentinel address", got)
	}
}
