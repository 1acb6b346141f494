// Command hashinspect is an offline inspector for a hash store backing
// file: it opens the store, walks every bucket with the same read-only
// check the prefetch activity's periodic rescan uses (or, with --repair,
// the repairing check of its startup pass), and prints the occupancy
// histogram and counter snapshot without starting the writeback or
// prefetch activities.
//
// Grounded on cmd/dinodb_stress/main.go's flag-parse-then-run shape,
// generalized from dinodb_stress's stdlib "flag" to github.com/spf13/pflag
// the way calvinalkan-agent-task's cmd tools do, for GNU-style --long
// flags.
package main

import (
	"fmt"
	"os"

	flag "github.com/spf13/pflag"

	"hashstore/pkg/config"
	"hashstore/pkg/hashstore"
	"hashstore/pkg/stats"
)

func main() {
	var (
		dir     = flag.String("dir", "data", "directory holding the backing file and its sidecar")
		name    = flag.String("name", "hash_table", "backing file name")
		size    = flag.Int64("size", config.DefaultExtentSize*4, "expected store size in bytes (must match the existing file)")
		repair  = flag.Bool("repair", false, "zero cells that violate the store's invariants instead of only reporting them")
		verbose = flag.Bool("verbose", false, "print per-bucket occupancy as it is scanned")
	)
	flag.Parse()

	cfg := config.New()
	store, err := hashstore.New(*dir, *name, *size, hashstore.XxDigest, cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, "hashinspect:", err)
		os.Exit(1)
	}
	defer store.Close()

	occupancy, magicAddrBugs, dupBugs := inspect(store, *repair, *verbose)

	fmt.Println(stats.Histogram(occupancy, store.CellsPerBucket(), 10))
	fmt.Println(stats.FormatBlob("", store.Counters.Snapshot()))
	fmt.Printf("bug_hash_magic_addr(this pass)=%d bug_hash_duplicate_cell(this pass)=%d repair=%v\n",
		magicAddrBugs, dupBugs, *repair)
}

// inspect walks every extent and bucket in order, as the prefetch
// activity's passes do, and returns the per-bucket
// occupancy plus the bug counts found during this pass. Without
// --repair it only reports violations, leaving the in-memory buffer (and
// therefore the backing file, since nothing is marked dirty) untouched.
func inspect(store *hashstore.Store, repair, verbose bool) (occupancy []int64, magicAddrBugs, dupBugs int64) {
	numExtents := store.NumExtents()
	bucketsPerExtent := store.BucketsPerExtent()
	occupancy = make([]int64, 0, numExtents*bucketsPerExtent)

	for e := int64(0); e < numExtents; e++ {
		if err := store.EnsureLoaded(e); err != nil {
			fmt.Fprintf(os.Stderr, "hashinspect: extent %d: %v\n", e, err)
			continue
		}
		extentDirty := false
		for b := int64(0); b < bucketsPerExtent; b++ {
			bucketIdx := e*bucketsPerExtent + b
			var occupied int64
			var violated bool
			var magic, dup int64
			if repair {
				occupied, violated, magic, dup = store.VerifyAndRepairBucket(bucketIdx)
			} else {
				occupied, violated, magic, dup = store.VerifyBucket(bucketIdx)
			}
			occupancy = append(occupancy, occupied)
			magicAddrBugs += magic
			dupBugs += dup
			if verbose {
				fmt.Printf("bucket %d: occupied=%d violated=%v\n", bucketIdx, occupied, violated)
			}
			if repair && violated {
				extentDirty = true
			}
		}
		if extentDirty {
			store.MarkDirty(e)
		}
	}
	return occupancy, magicAddrBugs, dupBugs
}
