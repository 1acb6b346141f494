// Package index wires the store, writeback activity, and prefetch
// activity together into the single long-lived object a dedup scanner
// (out of scope for this package) would hold for the life of the
// process.
//
// Open starts both background activities against a freshly constructed
// or reopened Store, and Close performs the final synchronous flush
// before releasing the mapping.
package index

import (
	"context"
	"path/filepath"

	"hashstore/pkg/cellcodec"
	"hashstore/pkg/config"
	"hashstore/pkg/hashstore"
	"hashstore/pkg/prefetch"
	"hashstore/pkg/ratelimit"
	"hashstore/pkg/stats"
	"hashstore/pkg/writeback"
)

// Index is the persistent content-addressed hash index: a Store plus its
// two supervising activities.
type Index struct {
	Store    *hashstore.Store
	Counters *stats.Counters

	writeback *writeback.Activity
	prefetch  *prefetch.Activity
	cancel    context.CancelFunc
}

// Open constructs (or reopens) a store of storeSize bytes named name
// under homeDir, and starts the writeback and prefetch activities.
func Open(ctx context.Context, homeDir, name string, storeSize int64, digest hashstore.DigestFunc, cfg config.Config) (*Index, error) {
	store, err := hashstore.New(homeDir, name, storeSize, digest, cfg)
	if err != nil {
		return nil, err
	}

	sink, err := stats.NewSink(homeDir, cfg.StatsFileName)
	if err != nil {
		return nil, err
	}

	// Two token-bucket limiters share the same refill rate: flush blocks
	// on it to enforce the write budget, page-in only borrows against it
	// and is never made to wait.
	flushLimiter := ratelimit.New(cfg.FlushRateBytesPerSec)
	pageInLimiter := ratelimit.New(cfg.FlushRateBytesPerSec)
	store.SetPageInLimiter(pageInLimiter)

	wb := writeback.New(store, store.Counters, flushLimiter)

	pinner := prefetch.UnixMlockPinner{Region: store.Buffer()}
	pf := prefetch.New(store, store.Counters, sink, pinner, cfg.AnalyzeInterval)

	runCtx, cancel := context.WithCancel(ctx)
	idx := &Index{Store: store, Counters: store.Counters, writeback: wb, prefetch: pf, cancel: cancel}

	wb.Start(runCtx)
	if err := pf.Run(runCtx); err != nil {
		cancel()
		store.Close()
		return nil, err
	}
	return idx, nil
}

// Find, PushFront, PushRandom, and Erase forward to the underlying Store;
// they exist so callers depend on Index alone.
func (i *Index) Find(h cellcodec.Fingerprint) ([]cellcodec.Cell, error) { return i.Store.Find(h) }

func (i *Index) PushFront(h cellcodec.Fingerprint, addr cellcodec.Address) (bool, error) {
	return i.Store.PushFront(h, addr)
}

func (i *Index) PushRandom(h cellcodec.Fingerprint, addr cellcodec.Address) (bool, error) {
	return i.Store.PushRandom(h, addr)
}

func (i *Index) Erase(h cellcodec.Fingerprint, addr cellcodec.Address) error {
	return i.Store.Erase(h, addr)
}

// Close stops both background activities and performs the final
// synchronous flush of all remaining dirty extents.
func (i *Index) Close() error {
	i.cancel()
	_ = i.prefetch.Stop()
	_ = i.writeback.Stop()
	return i.Store.Close()
}

// DefaultName is the conventional backing-file name, the same value
// cmd/hashinspect's --name flag defaults to.
const DefaultName = "hash_table"

// SidecarPath returns the geometry sidecar path for a store named name
// under dir, for tools that want to inspect it without opening the store.
func SidecarPath(dir, name string) string {
	return filepath.Join(dir, name+config.DefaultGeometrySidecarSuffix)
}
