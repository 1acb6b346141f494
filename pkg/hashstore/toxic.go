package hashstore

import "hashstore/pkg/cellcodec"

// toxicFilter holds the small precomputed set of fingerprints known to
// correspond to pathological content: one per single-byte repeated
// block, for each non-zero byte value.
type toxicFilter struct {
	set map[cellcodec.Fingerprint]struct{}
}

// newToxicFilter computes the fingerprint of a sumBlockSize-byte block
// filled with each byte value in [1, 255] using digest, and returns the
// resulting 255-entry set.
func newToxicFilter(digest DigestFunc, sumBlockSize int64) *toxicFilter {
	set := make(map[cellcodec.Fingerprint]struct{}, 255)
	block := make([]byte, sumBlockSize)
	for v := 1; v <= 255; v++ {
		for i := range block {
			block[i] = byte(v)
		}
		set[digest(block)] = struct{}{}
	}
	return &toxicFilter{set: set}
}

// isToxic reports whether h is a known-pathological fingerprint.
func (t *toxicFilter) isToxic(h cellcodec.Fingerprint) bool {
	_, ok := t.set[h]
	return ok
}

// toxicCell synthesizes the single cell find() returns for a toxic
// fingerprint: address 0x1000 with the toxic flag set.
func toxicCell(h cellcodec.Fingerprint) cellcodec.Cell {
	return cellcodec.Cell{Hash: h, Addr: cellcodec.ToxicAddr.WithFlag(cellcodec.FlagToxic)}
}
