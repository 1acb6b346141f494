package hashstore

import (
	"github.com/cespare/xxhash"
	"github.com/spaolacci/murmur3"

	"hashstore/pkg/cellcodec"
)

// DigestFunc computes the opaque 64-bit fingerprint of a block of bytes.
// The store treats it as an external collaborator: it is used exactly
// once at construction, to seed the toxic-hash filter from 255 synthetic
// single-byte-repeated blocks.
type DigestFunc func([]byte) cellcodec.Fingerprint

// XxDigest is a DigestFunc backed by xxhash, generalizing dinodb's
// pkg/hash/hashers.go XxHasher (which mods by a table size) to a raw,
// unmodded 64-bit digest suitable for a Fingerprint.
func XxDigest(b []byte) cellcodec.Fingerprint {
	return cellcodec.Fingerprint(xxhash.Sum64(b))
}

// MurmurDigest is a DigestFunc backed by MurmurHash3, generalizing
// dinodb's pkg/hash/hashers.go MurmurHasher the same way XxDigest does.
func MurmurDigest(b []byte) cellcodec.Fingerprint {
	return cellcodec.Fingerprint(murmur3.Sum64(b))
}
