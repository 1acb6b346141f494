package writeback_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"hashstore/pkg/ratelimit"
	"hashstore/pkg/writeback"
)

// fakeStore is an in-memory writeback.Store used to test drain behavior
// without a real backing file.
type fakeStore struct {
	mu      sync.Mutex
	dirty   []int64
	written []int64
	failOn  int64 // extent index that WriteExtentToFile fails for once
	dirtyCh chan struct{}
}

func newFakeStore(dirty ...int64) *fakeStore {
	return &fakeStore{dirty: dirty, dirtyCh: make(chan struct{}, 1)}
}

func (f *fakeStore) SnapshotDirtyExtents() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.dirty
	f.dirty = nil
	return out
}

func (f *fakeStore) WaitForDirty(stop <-chan struct{}) {
	select {
	case <-f.dirtyCh:
	case <-stop:
	}
}

func (f *fakeStore) WakeWaiters() {
	select {
	case f.dirtyCh <- struct{}{}:
	default:
	}
}

func (f *fakeStore) CopyExtent(idx int64, dst []byte) {}

func (f *fakeStore) WriteExtentToFile(idx int64, buf []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if idx == f.failOn {
		f.failOn = -1
		return errors.New("simulated write failure")
	}
	f.written = append(f.written, idx)
	return nil
}

func (f *fakeStore) AlignedExtentBuffer() []byte { return make([]byte, 64) }

func (f *fakeStore) MarkDirty(idx int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dirty = append(f.dirty, idx)
}

type fakeCounters struct {
	mu        sync.Mutex
	extentOut int64
}

func (c *fakeCounters) AddExtentOut(n int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.extentOut += n
}

func TestActivityDrainsDirtyExtentsOnStop(t *testing.T) {
	store := newFakeStore(3, 1, 2)
	counters := &fakeCounters{}
	limiter := ratelimit.New(1 << 30) // effectively unlimited for this test

	a := writeback.New(store, counters, limiter)
	a.Start(context.Background())

	if err := a.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	store.mu.Lock()
	written := append([]int64(nil), store.written...)
	store.mu.Unlock()
	if len(written) != 3 {
		t.Fatalf("written = %v, want 3 extents flushed", written)
	}
	if counters.extentOut != 3 {
		t.Fatalf("extentOut = %d, want 3", counters.extentOut)
	}
}

func TestActivitySkipsFailedExtentButContinues(t *testing.T) {
	store := newFakeStore(1, 2, 3)
	store.failOn = 2
	counters := &fakeCounters{}
	limiter := ratelimit.New(1 << 30)

	a := writeback.New(store, counters, limiter)
	a.Start(context.Background())
	if err := a.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	store.mu.Lock()
	written := append([]int64(nil), store.written...)
	dirty := append([]int64(nil), store.dirty...)
	store.mu.Unlock()
	if len(written) != 2 {
		t.Fatalf("written = %v, want the two non-failing extents", written)
	}
	if counters.extentOut != 2 {
		t.Fatalf("extentOut = %d, want 2", counters.extentOut)
	}
	if len(dirty) != 1 || dirty[0] != 2 {
		t.Fatalf("dirty after failed write = %v, want [2] re-queued for retry", dirty)
	}
}

func TestActivityWakesUpOnNewDirtyWork(t *testing.T) {
	store := newFakeStore() // nothing dirty yet
	counters := &fakeCounters{}
	limiter := ratelimit.New(1 << 30)

	a := writeback.New(store, counters, limiter)
	a.Start(context.Background())

	store.mu.Lock()
	store.dirty = []int64{5}
	store.mu.Unlock()
	store.WakeWaiters()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		store.mu.Lock()
		n := len(store.written)
		store.mu.Unlock()
		if n == 1 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	if err := a.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.written) != 1 || store.written[0] != 5 {
		t.Fatalf("written = %v, want [5]", store.written)
	}
}
