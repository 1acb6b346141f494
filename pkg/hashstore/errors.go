package hashstore

import "fmt"

// ErrBadGeometry is returned by New when the caller-supplied sizes violate
// the store's geometry invariants (positive multiples of the
// extent/bucket sizes, bucket size a power of two, etc).
type ErrBadGeometry struct{ Reason string }

func (e *ErrBadGeometry) Error() string { return fmt.Sprintf("hashstore: bad geometry: %s", e.Reason) }

func errBadGeometry(reason string) error { return &ErrBadGeometry{Reason: reason} }
