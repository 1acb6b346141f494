// Package stats implements the hash store's monotonic counters and its
// periodic statistics sink: an append-only blob file, each blob followed
// by a "--- end ---" delimiter line, plus a tail reader for recent
// snapshots.
package stats

import "sync/atomic"

// Counters holds the store's external counter-sink surface: one
// monotonic event counter per field. Each field is independently
// atomic, mirroring dinodb's pager.Page.pinCount atomic.Int64 convention.
type Counters struct {
	Lookup        atomic.Int64 // hash_lookup
	Toxic         atomic.Int64 // hash_toxic
	Insert        atomic.Int64 // hash_insert
	Evict         atomic.Int64 // hash_evict
	Bump          atomic.Int64 // hash_bump
	Already       atomic.Int64 // hash_already
	Front         atomic.Int64 // hash_front
	Erase         atomic.Int64 // hash_erase
	ExtentIn      atomic.Int64 // hash_extent_in
	ExtentInTwice atomic.Int64 // hash_extent_in_twice
	ExtentOut     atomic.Int64 // hash_extent_out
	BugMagicAddr  atomic.Int64 // bug_hash_magic_addr
	BugDupCell    atomic.Int64 // bug_hash_duplicate_cell
}

// NewCounters returns a zeroed Counters.
func NewCounters() *Counters { return &Counters{} }

// AddExtentOut increments hash_extent_out by n. Satisfies the small
// Counters interface the writeback package declares so it doesn't need
// to import this package's concrete type.
func (c *Counters) AddExtentOut(n int64) { c.ExtentOut.Add(n) }

// Snapshot is a point-in-time copy of every counter, suitable for
// formatting or JSON-encoding into the stats sink.
type Snapshot struct {
	Lookup, Toxic, Insert, Evict, Bump, Already, Front, Erase           int64
	ExtentIn, ExtentInTwice, ExtentOut, BugMagicAddr, BugDupCell int64
}

// Snapshot reads every counter without pausing writers.
func (c *Counters) Snapshot() Snapshot {
	return Snapshot{
		Lookup:        c.Lookup.Load(),
		Toxic:         c.Toxic.Load(),
		Insert:        c.Insert.Load(),
		Evict:         c.Evict.Load(),
		Bump:          c.Bump.Load(),
		Already:       c.Already.Load(),
		Front:         c.Front.Load(),
		Erase:         c.Erase.Load(),
		ExtentIn:      c.ExtentIn.Load(),
		ExtentInTwice: c.ExtentInTwice.Load(),
		ExtentOut:     c.ExtentOut.Load(),
		BugMagicAddr:  c.BugMagicAddr.Load(),
		BugDupCell:    c.BugDupCell.Load(),
	}
}
