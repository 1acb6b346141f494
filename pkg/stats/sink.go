package stats

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/icza/backscanner"
)

// Sink appends periodic statistics blobs to a file under a home
// directory, and can tail the most recent ones back out. Grounded on
// dinodb's pkg/recovery.RecoveryManager, which appends log lines under a
// mutex and, on rollback, scans the same file backwards with
// backscanner; here the direction of travel (append, then tail
// backwards) is the same, but the payload is a stats blob instead of a
// write-ahead log record.
type Sink struct {
	mu   sync.Mutex
	path string
}

// NewSink opens (creating if absent) a stats file named fileName under
// homeDir.
func NewSink(homeDir, fileName string) (*Sink, error) {
	if err := os.MkdirAll(homeDir, 0775); err != nil {
		return nil, err
	}
	path := filepath.Join(homeDir, fileName)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0666)
	if err != nil {
		return nil, err
	}
	f.Close()
	return &Sink{path: path}, nil
}

// blobDelimiter separates successive blobs in the file; each blob may
// itself be multi-line (the ASCII histogram), so a plain newline can't
// serve as the record separator the way it does for the recovery log.
const blobDelimiter = "\n--- end ---\n"

// Write appends a histogram+counters blob to the stats file.
func (s *Sink) Write(histogram string, snap Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_WRONLY, 0666)
	if err != nil {
		return err
	}
	defer f.Close()
	blob := FormatBlob(histogram, snap)
	_, err = f.WriteString(blob + blobDelimiter)
	return err
}

// FormatBlob renders a human-readable histogram + counter snapshot.
func FormatBlob(histogram string, snap Snapshot) string {
	var b strings.Builder
	b.WriteString(histogram)
	fmt.Fprintf(&b, "lookup=%d toxic=%d insert=%d evict=%d bump=%d already=%d front=%d erase=%d "+
		"extent_in=%d extent_in_twice=%d extent_out=%d bug_magic_addr=%d bug_dup_cell=%d\n",
		snap.Lookup, snap.Toxic, snap.Insert, snap.Evict, snap.Bump, snap.Already, snap.Front, snap.Erase,
		snap.ExtentIn, snap.ExtentInTwice, snap.ExtentOut, snap.BugMagicAddr, snap.BugDupCell)
	return b.String()
}

// Recent returns up to n of the most recently written blobs, most recent
// first, by scanning the stats file backwards with backscanner instead
// of reading and reversing the whole file.
func (s *Sink) Recent(n int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := os.Open(s.path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return nil, err
	}

	scanner := backscanner.New(f, int(info.Size()))
	var (
		blobs     []string
		current   []string
		seenDelim bool
	)
	for len(blobs) < n {
		line, _, err := scanner.Line()
		if err != nil {
			break
		}
		if strings.TrimRight(line, "\r") == "--- end ---" {
			// Lines read before the first delimiter are only the empty
			// tail after the file's final newline, not a blob.
			if seenDelim && len(current) > 0 {
				reverseLines(current)
				blobs = append(blobs, strings.Join(current, "\n"))
			}
			current = current[:0]
			seenDelim = true
			continue
		}
		current = append(current, line)
	}
	// The oldest blob has no delimiter before it; it ends at the start of
	// the file.
	if len(blobs) < n && seenDelim && len(current) > 0 {
		reverseLines(current)
		blobs = append(blobs, strings.Join(current, "\n"))
	}
	return blobs, nil
}

func reverseLines(lines []string) {
	for i, j := 0, len(lines)-1; i < j; i, j = i+1, j-1 {
		lines[i], lines[j] = lines[j], lines[i]
	}
}

// Histogram renders an ASCII bar-chart of per-bucket occupancy counts,
// bucketed into levelCount buckets from 0 to cellsPerBucket.
func Histogram(occupancy []int64, cellsPerBucket int64, levelCount int) string {
	if levelCount <= 0 {
		levelCount = 10
	}
	counts := make([]int64, levelCount)
	step := float64(cellsPerBucket+1) / float64(levelCount)
	for _, occ := range occupancy {
		level := int(float64(occ) / step)
		if level >= levelCount {
			level = levelCount - 1
		}
		counts[level]++
	}
	var max int64
	for _, c := range counts {
		if c > max {
			max = c
		}
	}
	var b strings.Builder
	const width = 50
	for i, c := range counts {
		lo := int64(float64(i) * step)
		hi := int64(float64(i+1) * step)
		barLen := 0
		if max > 0 {
			barLen = int(float64(c) / float64(max) * width)
		}
		fmt.Fprintf(&b, "%4d-%4d cells |%s (%d)\n", lo, hi, strings.Repeat("#", barLen), c)
	}
	return b.String()
}

// CountLines is a small helper for tests that need to count lines in a
// freshly written stats file.
func CountLines(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	n := 0
	for sc.Scan() {
		n++
	}
	return n, sc.Err()
}
