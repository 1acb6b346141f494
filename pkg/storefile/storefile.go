// Package storefile implements the backing-file creation protocol and
// aligned extent I/O for the hash store, generalizing dinodb's
// pkg/pager (directio-backed, page-granularity ReadAt/WriteAt) from
// fixed 4 KiB pages to caller-sized extents.
package storefile

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"unsafe"

	"github.com/google/uuid"
	"github.com/natefinch/atomic"
	"github.com/ncw/directio"
)

// ErrBadSize is returned when a file's size is zero or not a multiple of
// the extent size.
var ErrBadSize = errors.New("storefile: size is zero or not a multiple of the extent size")

// ErrForeignArch is returned when a sidecar's endianness tag doesn't match
// this process, refusing to reuse a store built on a differing
// architecture.
var ErrForeignArch = errors.New("storefile: geometry sidecar was written on a foreign-endian host")

// geometry is the small JSON sidecar persisted next to the backing file,
// atomically, so it is never observed half-written.
type geometry struct {
	Size          int64  `json:"size"`
	BucketSize    int64  `json:"bucketSize"`
	ExtentSize    int64  `json:"extentSize"`
	SumBlockSize  int64  `json:"sumBlockSize"`
	LittleEndian  bool   `json:"littleEndian"`
	FormatVersion int    `json:"formatVersion"`
	CreatedBy     string `json:"createdBy"`
}

const formatVersion = 1

// hostIsLittleEndian reports the native byte order of the running process.
func hostIsLittleEndian() bool {
	var x uint16 = 1
	return *(*byte)(unsafe.Pointer(&x)) == 1
}

// File is an open backing file plus its validated geometry.
type File struct {
	f          *os.File
	path       string
	size       int64
	extentSize int64
}

// sidecarPath returns the path of path's geometry sidecar.
func sidecarPath(path, suffix string) string {
	return path + suffix
}

// Create opens the named file under dir, creating and sizing it if
// absent, following this creation protocol:
//
//  1. If the file exists, check that its size equals size and that its
//     sidecar (if present) matches the requested geometry, and reuse it.
//  2. Otherwise create a sibling named "<name>.tmp-<uuid>", extend it to
//     size bytes (sparse; unwritten pages read as zero, i.e. "empty"),
//     then atomically rename it over the target name.
//
// A geometry sidecar recording size/bucketSize/extentSize/endianness is
// written (atomically) alongside the file so a later Create can detect a
// mismatched or foreign-architecture file before touching its contents.
func Create(dir, name string, size, bucketSize, extentSize, sumBlockSize int64) (*File, error) {
	if extentSize <= 0 || size <= 0 || size%extentSize != 0 {
		return nil, ErrBadSize
	}
	if err := os.MkdirAll(dir, 0775); err != nil {
		return nil, err
	}
	path := filepath.Join(dir, name)

	if info, err := os.Stat(path); err == nil {
		if info.Size() != size {
			return nil, fmt.Errorf("%w: existing file is %d bytes, want %d", ErrBadSize, info.Size(), size)
		}
		if err := verifySidecar(path, size, bucketSize, extentSize, sumBlockSize); err != nil {
			return nil, err
		}
		f, err := directio.OpenFile(path, os.O_RDWR, 0666)
		if err != nil {
			return nil, err
		}
		return &File{f: f, path: path, size: size, extentSize: extentSize}, nil
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	tmpName := fmt.Sprintf("%s.tmp-%s", name, uuid.New().String())
	tmpPath := filepath.Join(dir, tmpName)
	tmp, err := directio.OpenFile(tmpPath, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0666)
	if err != nil {
		return nil, err
	}
	if err := tmp.Truncate(size); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return nil, err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return nil, err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return nil, err
	}
	if err := writeSidecar(path, size, bucketSize, extentSize, sumBlockSize); err != nil {
		return nil, err
	}

	f, err := directio.OpenFile(path, os.O_RDWR, 0666)
	if err != nil {
		return nil, err
	}
	return &File{f: f, path: path, size: size, extentSize: extentSize}, nil
}

func writeSidecar(path string, size, bucketSize, extentSize, sumBlockSize int64) error {
	g := geometry{
		Size:          size,
		BucketSize:    bucketSize,
		ExtentSize:    extentSize,
		SumBlockSize:  sumBlockSize,
		LittleEndian:  hostIsLittleEndian(),
		FormatVersion: formatVersion,
		CreatedBy:     "hashstore",
	}
	b, err := json.MarshalIndent(g, "", "  ")
	if err != nil {
		return err
	}
	return atomic.WriteFile(path+".meta", bytes.NewReader(b))
}

func verifySidecar(path string, size, bucketSize, extentSize, sumBlockSize int64) error {
	raw, err := os.ReadFile(path + ".meta")
	if os.IsNotExist(err) {
		// Pre-existing file with no sidecar (e.g. hand-created for tests):
		// nothing to cross-check, accept it.
		return nil
	}
	if err != nil {
		return err
	}
	var g geometry
	if err := json.Unmarshal(raw, &g); err != nil {
		return err
	}
	if g.LittleEndian != hostIsLittleEndian() {
		return ErrForeignArch
	}
	if g.Size != size || g.BucketSize != bucketSize || g.ExtentSize != extentSize || g.SumBlockSize != sumBlockSize {
		return fmt.Errorf("%w: sidecar geometry %+v does not match requested geometry", ErrBadSize, g)
	}
	return nil
}

// Size returns the backing file's total byte size.
func (f *File) Size() int64 { return f.size }

// ReadExtent reads the extentSize-byte extent at index idx into buf, which
// must be exactly extentSize bytes and directio-aligned.
func (f *File) ReadExtent(idx int64, buf []byte) error {
	off := idx * f.extentSize
	n, err := f.f.ReadAt(buf, off)
	if err != nil && n != len(buf) {
		return err
	}
	return nil
}

// WriteExtent writes buf (exactly extentSize bytes) to the extent at index idx.
func (f *File) WriteExtent(idx int64, buf []byte) error {
	off := idx * f.extentSize
	_, err := f.f.WriteAt(buf, off)
	return err
}

// AlignedBuffer returns a directio-aligned buffer of exactly extentSize bytes.
func (f *File) AlignedBuffer() []byte {
	return directio.AlignedBlock(int(f.extentSize))
}

// Close closes the underlying file descriptor.
func (f *File) Close() error {
	return f.f.Close()
}
