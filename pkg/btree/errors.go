// ABOUTME: Error taxonomy for the B+-tree package

package btree

import "errors"

var (
	// ErrKeyTooLarge is returned when a key exceeds MaxKeySize.
	ErrKeyTooLarge = errors.New("btree: key exceeds maximum size")

	// ErrCorruption is returned when a node's on-disk layout fails an
	// internal consistency check.
	ErrCorruption = errors.New("btree: node failed consistency check")
)

// IOError wraps a lower-level page I/O failure so callers of the
// B+-tree need not depend on pkg/page's error types directly.
type IOError struct {
	Op  string
	Err error
}

func (e *IOError) Error() string { return "btree: " + e.Op + ": " + e.Err.Error() }
func (e *IOError) Unwrap() error { return e.Err }
