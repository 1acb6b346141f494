//go:build !unix

package prefetch

// UnixMlockPinner degrades to a no-op outside unix (see pinner_unix.go),
// mirroring the fallocate_other.go / fadvise_other.go fallback pattern
// used elsewhere in the retrieved example pack.
type UnixMlockPinner struct {
	Region []byte
}

func (UnixMlockPinner) Pin() error   { return nil }
func (UnixMlockPinner) Unpin() error { return nil }
