package hashstore

import "hashstore/pkg/cellcodec"

// CellSize is the on-disk size of a single (fingerprint, address) cell.
const CellSize = cellcodec.Size

// geometry holds the derived counts computed once at construction and
// held fixed for the store's lifetime.
type geometry struct {
	storeSize    int64 // S
	bucketSize   int64 // B_bucket
	extentSize   int64 // B_extent
	sumBlockSize int64 // B_sum

	cellsPerBucket   int64 // C
	bucketsPerExtent int64 // B_extent / B_bucket

	numExtents int64 // m_extents
	numBuckets int64 // m_buckets
	numCells   int64 // m_cells
}

// newGeometry validates and derives a geometry from the caller-supplied
// sizes.
func newGeometry(storeSize, bucketSize, extentSize, sumBlockSize int64) (geometry, error) {
	switch {
	case storeSize <= 0:
		return geometry{}, errBadGeometry("store size must be positive")
	case bucketSize <= 0 || bucketSize&(bucketSize-1) != 0:
		return geometry{}, errBadGeometry("bucket size must be a positive power of two")
	case extentSize <= 0 || extentSize%bucketSize != 0:
		return geometry{}, errBadGeometry("extent size must be a positive multiple of bucket size")
	case storeSize%extentSize != 0:
		return geometry{}, errBadGeometry("store size must be a positive multiple of extent size")
	case bucketSize%CellSize != 0:
		return geometry{}, errBadGeometry("bucket size must be a multiple of the cell size")
	case sumBlockSize <= 0:
		return geometry{}, errBadGeometry("sum block size must be positive")
	}
	g := geometry{
		storeSize:        storeSize,
		bucketSize:       bucketSize,
		extentSize:       extentSize,
		sumBlockSize:     sumBlockSize,
		cellsPerBucket:   bucketSize / CellSize,
		bucketsPerExtent: extentSize / bucketSize,
	}
	g.numExtents = storeSize / extentSize
	g.numBuckets = storeSize / bucketSize
	g.numCells = g.numBuckets * g.cellsPerBucket
	return g, nil
}

// bucketIndex returns the stable bucket index for a fingerprint:
// fingerprint mod the bucket count.
func (g geometry) bucketIndex(h cellcodec.Fingerprint) int64 {
	return int64(uint64(h) % uint64(g.numBuckets))
}

// extentIndex returns the extent index containing the given bucket index.
func (g geometry) extentIndex(bucketIdx int64) int64 {
	return bucketIdx / g.bucketsPerExtent
}

// bucketOffset returns the byte offset of a bucket within the store buffer.
func (g geometry) bucketOffset(bucketIdx int64) int64 {
	return bucketIdx * g.bucketSize
}

// extentOffset returns the byte offset of an extent within the store buffer.
func (g geometry) extentOffset(extentIdx int64) int64 {
	return extentIdx * g.extentSize
}
