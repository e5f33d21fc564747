// ABOUTME: Centralized error taxonomy the engine wraps every lower-layer
// ABOUTME: failure into, so callers switch on a closed Kind set

package engine

import (
	"errors"
	"fmt"

	"github.com/nainya/domstore/pkg/btree"
	"github.com/nainya/domstore/pkg/domstore"
	"github.com/nainya/domstore/pkg/lock"
)

// Kind is the closed set of error categories the engine reports.
type Kind int

const (
	// IoError means underlying file I/O failed.
	IoError Kind = iota
	// BTreeError means a structural tree invariant was violated, or a
	// key could not be resolved even via fallback.
	BTreeError
	// LockTimeoutKind means lock acquisition exceeded its budget.
	LockTimeoutKind
	// ReadOnly means a write was attempted on a read-only engine.
	ReadOnly
	// InvalidArgument means e.g. update was called with a longer value.
	InvalidArgument
	// Corruption means a header checksum or chain link was inconsistent.
	Corruption
)

func (k Kind) String() string {
	switch k {
	case IoError:
		return "IoError"
	case BTreeError:
		return "BTreeError"
	case LockTimeoutKind:
		return "LockTimeout"
	case ReadOnly:
		return "ReadOnly"
	case InvalidArgument:
		return "InvalidArgument"
	case Corruption:
		return "Corruption"
	default:
		return "Unknown"
	}
}

// Error is the engine's single error type: a Kind plus the wrapped cause.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("engine: %s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("engine: %s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// ErrKeyNotFound is a sentinel, not an error proper. Read-path callers that
// get this back should treat it as an empty result, not a failure.
var ErrKeyNotFound = errors.New("engine: key not found")

// wrap classifies err from a lower layer into the closed Kind taxonomy.
func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, domstore.ErrFallbackNotFound):
		return &Error{Kind: BTreeError, Op: op, Err: err}
	case errors.Is(err, domstore.ErrNotFound):
		return ErrKeyNotFound
	case errors.Is(err, domstore.ErrTooLong), errors.Is(err, domstore.ErrShrunk),
		errors.Is(err, domstore.ErrValueTooLarge), errors.Is(err, btree.ErrKeyTooLarge):
		return &Error{Kind: InvalidArgument, Op: op, Err: err}
	case errors.Is(err, btree.ErrCorruption):
		return &Error{Kind: Corruption, Op: op, Err: err}
	case errors.Is(err, lock.ErrLockTimeout):
		return &Error{Kind: LockTimeoutKind, Op: op, Err: err}
	case isIOError(err):
		return &Error{Kind: IoError, Op: op, Err: err}
	default:
		return &Error{Kind: BTreeError, Op: op, Err: err}
	}
}

func isIOError(err error) bool {
	var btreeIOErr *btree.IOError
	if errors.As(err, &btreeIOErr) {
		return true
	}
	var storeIOErr *domstore.IOError
	return errors.As(err, &storeIOErr)
}
