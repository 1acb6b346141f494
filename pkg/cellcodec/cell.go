// Package cellcodec defines the on-disk (fingerprint, address) pair used by
// the hash store, and the flag bits packed into an address.
//
// A Cell is exactly 16 bytes, little-endian on the wire, matching the
// layout dinodb's entry package uses for a (key, value) pair, generalized
// here from variable-length varints to a fixed-width pair since the store
// requires a bit-exact on-disk cell size. Fixing the wire order rather
// than leaving it host-native means a store built on one architecture
// decodes correctly on another; storefile's geometry sidecar separately
// records the host's endianness so a foreign-endian backing file is
// rejected outright rather than silently byte-swapped.
package cellcodec

import "encoding/binary"

// Fingerprint is an opaque 64-bit content digest. Zero means "empty slot".
type Fingerprint uint64

// Address identifies a location in the host filesystem, with flag bits
// packed into the low bits below the reserved sentinel range.
type Address uint64

// Size is the encoded size of a Cell in bytes.
const Size = 16

// SentinelThreshold is the boundary below which an Address is a reserved
// sentinel: 0 means empty, anything else below it is invalid or a
// synthetic toxic marker.
const SentinelThreshold Address = 0x1000

// ToxicAddr is the synthetic address returned for a toxic fingerprint hit.
const ToxicAddr Address = 0x1000

// Flag bits packed into an Address, below SentinelThreshold's own bit
// position is irrelevant since flags occupy the low bits of an otherwise
// aligned address; the store treats Address as opaque except for these.
const (
	FlagCompressed          Address = 1 << 0
	FlagHasCompressedOffset Address = 1 << 1
	FlagToxic               Address = 1 << 2
	FlagUnalignedEOF        Address = 1 << 3
)

// WithFlag returns addr with the given flag bit set.
func (a Address) WithFlag(flag Address) Address {
	return a | flag
}

// HasFlag reports whether addr has the given flag bit set.
func (a Address) HasFlag(flag Address) bool {
	return a&flag != 0
}

// Valid reports whether addr is at or above the reserved sentinel range.
func (a Address) Valid() bool {
	return a >= SentinelThreshold
}

// Cell is a (fingerprint, address) pair stored in a bucket.
type Cell struct {
	Hash Fingerprint
	Addr Address
}

// Empty is the zero cell, used to mark a hole in a bucket.
var Empty = Cell{}

// IsEmpty reports whether both fields of the cell are zero.
func (c Cell) IsEmpty() bool {
	return c.Hash == 0 && c.Addr == 0
}

// Equal reports field-wise equality.
func (c Cell) Equal(o Cell) bool {
	return c.Hash == o.Hash && c.Addr == o.Addr
}

// Encode writes the cell's 16-byte wire representation into buf, which
// must be at least Size bytes.
func (c Cell) Encode(buf []byte) {
	binary.LittleEndian.PutUint64(buf[0:8], uint64(c.Hash))
	binary.LittleEndian.PutUint64(buf[8:16], uint64(c.Addr))
}

// Decode reads a Cell from its 16-byte wire representation.
func Decode(buf []byte) Cell {
	return Cell{
		Hash: Fingerprint(binary.LittleEndian.Uint64(buf[0:8])),
		Addr: Address(binary.LittleEndian.Uint64(buf[8:16])),
	}
}
