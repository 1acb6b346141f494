//go:build unix

package prefetch

import "golang.org/x/sys/unix"

// UnixMlockPinner pins the given byte slice in physical memory using
// mlock/munlock. Grounded in golang.org/x/sys/unix, which
// calvinalkan-agent-task and tamirms-streamhash both already depend on,
// following the same OS-specific-file-per-platform split those repos use
// for fallocate/fadvise (fallocate_linux.go, fallocate_darwin.go, ...).
type UnixMlockPinner struct {
	Region []byte
}

func (p UnixMlockPinner) Pin() error {
	if len(p.Region) == 0 {
		return nil
	}
	return unix.Mlock(p.Region)
}

func (p UnixMlockPinner) Unpin() error {
	if len(p.Region) == 0 {
		return nil
	}
	return unix.Munlock(p.Region)
}
