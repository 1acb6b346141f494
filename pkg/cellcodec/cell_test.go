package cellcodec_test

import (
	"testing"

	"hashstore/pkg/cellcodec"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	c := cellcodec.Cell{Hash: 0x0102030405060708, Addr: 0x1122334455667788}
	buf := make([]byte, cellcodec.Size)
	c.Encode(buf)

	// Little-endian on the wire: the low byte of Hash is the first byte.
	if buf[0] != 0x08 {
		t.Fatalf("buf[0] = %#x, want 0x08 (little-endian low byte of Hash)", buf[0])
	}

	got := cellcodec.Decode(buf)
	if !got.Equal(c) {
		t.Fatalf("Decode(Encode(c)) = %+v, want %+v", got, c)
	}
}

func TestAddressFlags(t *testing.T) {
	a := cellcodec.Address(0x2000)
	if a.HasFlag(cellcodec.FlagCompressed) {
		t.Fatal("fresh address should not have FlagCompressed set")
	}
	a = a.WithFlag(cellcodec.FlagCompressed)
	if !a.HasFlag(cellcodec.FlagCompressed) {
		t.Fatal("WithFlag did not set FlagCompressed")
	}
	if !a.Valid() {
		t.Fatal("address above SentinelThreshold should be Valid")
	}
}

func TestAddressBelowSentinelIsInvalid(t *testing.T) {
	if cellcodec.Address(1).Valid() {
		t.Fatal("address below SentinelThreshold should not be Valid")
	}
	if !cellcodec.Address(cellcodec.SentinelThreshold).Valid() {
		t.Fatal("address at SentinelThreshold should be Valid")
	}
}

func TestIsEmpty(t *testing.T) {
	if !cellcodec.Empty.IsEmpty() {
		t.Fatal("Empty.IsEmpty() = false")
	}
	if (cellcodec.Cell{Hash: 1}).IsEmpty() {
		t.Fatal("a cell with a non-zero hash should not be empty")
	}
}
