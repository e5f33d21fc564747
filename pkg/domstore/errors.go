// ABOUTME: Sentinel errors for the record store, wrapped into the shared
// ABOUTME: ErrorKind taxonomy at the pkg/engine facade boundary

package domstore

import "errors"

var (
	// ErrNotFound is returned when an address does not resolve to a
	// live record.
	ErrNotFound = errors.New("domstore: record not found")

	// ErrFallbackNotFound is returned by FindByFallback when the
	// ancestor walk reaches the document root without hitting an
	// indexed ancestor, or the forward scan runs off the end of the
	// chain before reaching the target gid. Distinct from ErrNotFound:
	// this means the fallback path itself failed, not that an ordinary
	// key lookup missed.
	ErrFallbackNotFound = errors.New("domstore: ancestor walk exhausted without a match")

	// ErrTooLong is returned by Update when the new value is longer
	// than the record it would replace.
	ErrTooLong = errors.New("domstore: value too long")

	// ErrShrunk is returned by Update when the new value is shorter
	// than the record it would replace, rather than silently padding
	// or relocating it.
	ErrShrunk = errors.New("domstore: value shorter than existing record")

	// ErrValueTooLarge is returned when a record would not fit the u16
	// length field.
	ErrValueTooLarge = errors.New("domstore: value exceeds maximum record length")
)

// IOError marks an error as originating from the underlying page file
// rather than from record-store logic, mirroring pkg/btree's IOError so
// pkg/engine can classify genuine disk failures as IoError instead of
// falling back to its generic BTreeError bucket.
type IOError struct {
	Op  string
	Err error
}

func (e *IOError) Error() string { return "domstore: " + e.Op + ": " + e.Err.Error() }
func (e *IOError) Unwrap() error { return e.Err }
