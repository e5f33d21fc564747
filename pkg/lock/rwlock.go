// ABOUTME: Owner-aware, timeout-bounded shared/exclusive lock for the engine
// ABOUTME: One whole-file lock with timeouts, rather than a per-page latch

// Package lock implements the single, owner-aware reader/writer lock
// that guards every mutating and reading operation on a DOM file.
// Unlike a plain sync.RWMutex, acquisition is bounded by a timeout and
// re-entrant for the same owner: a session already holding the lock in
// a compatible mode may acquire it again without blocking on itself.
package lock

import (
	"sync"
	"time"
)

// Mode selects shared (reader) or exclusive (writer) acquisition.
type Mode int

const (
	Shared Mode = iota
	Exclusive
)

// Owner is an opaque handle identifying an active session: a small
// integer handle issued at session start, rather than object identity.
type Owner uint64

// state is the per-lock state machine: Idle -> Acquiring -> Held(mode)
// -> Released. There is no persistent "Acquiring" state
// object here; it exists only as the interval a goroutine spends
// blocked inside Acquire.
type state int

const (
	stateIdle state = iota
	stateSharedHeld
	stateExclusiveHeld
)

// Lock is a single whole-file reader/writer lock with owner tracking.
type Lock struct {
	mu    sync.Mutex
	cond  *sync.Cond
	state state

	exclusiveOwner Owner
	sharedOwners   map[Owner]int // re-entrant shared acquisition counts
	exclusiveDepth int           // re-entrant exclusive acquisition count

	defaultTimeout time.Duration
}

// New creates a lock with the given default acquisition timeout.
func New(defaultTimeout time.Duration) *Lock {
	l := &Lock{
		sharedOwners:   make(map[Owner]int),
		defaultTimeout: defaultTimeout,
	}
	l.cond = sync.NewCond(&l.mu)
	return l
}

// Acquire blocks until owner can hold the lock in mode, or until the
// default timeout elapses, in which case it returns ErrLockTimeout.
// Re-entrant: an owner already holding the lock in a compatible mode
// does not block on itself.
func (l *Lock) Acquire(owner Owner, mode Mode) error {
	return l.AcquireTimeout(owner, mode, l.defaultTimeout)
}

// AcquireTimeout is Acquire with an explicit timeout, for callers that
// need a different budget than the lock's default.
func (l *Lock) AcquireTimeout(owner Owner, mode Mode, timeout time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	deadline := time.Now().Add(timeout)
	for !l.compatible(owner, mode) {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return ErrLockTimeout
		}
		if !l.waitUntil(deadline) {
			return ErrLockTimeout
		}
	}

	switch mode {
	case Shared:
		l.sharedOwners[owner]++
		l.state = stateSharedHeld
	case Exclusive:
		l.exclusiveOwner = owner
		l.exclusiveDepth++
		l.state = stateExclusiveHeld
	}
	return nil
}

// compatible reports whether owner can be granted mode given current
// holders, without blocking. Must be called with l.mu held.
func (l *Lock) compatible(owner Owner, mode Mode) bool {
	switch l.state {
	case stateIdle:
		return true
	case stateSharedHeld:
		return mode == Shared
	case stateExclusiveHeld:
		return l.exclusiveOwner == owner
	default:
		return false
	}
}

// waitUntil waits on the condition variable until signaled or deadline
// passes, returning false on timeout. sync.Cond has no timed wait, so
// this spins a helper goroutine that wakes the condition on expiry.
func (l *Lock) waitUntil(deadline time.Time) bool {
	timer := time.AfterFunc(time.Until(deadline), l.cond.Broadcast)
	defer timer.Stop()
	l.cond.Wait()
	return time.Now().Before(deadline)
}

// Enter marks owner as active without changing lock state. A no-op
// hook for callers that track session entry separately from
// acquisition; sessions that only ever call Acquire/Release do not
// need it.
func (l *Lock) Enter(owner Owner) {}

// Release drops one acquisition held by owner in mode. Panics if owner
// does not hold a matching acquisition, since that indicates a bug in
// the caller's lock discipline rather than a runtime condition to
// recover from.
func (l *Lock) Release(owner Owner, mode Mode) {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch mode {
	case Shared:
		count, ok := l.sharedOwners[owner]
		if !ok || count == 0 {
			panic("lock: release of shared lock not held by owner")
		}
		if count == 1 {
			delete(l.sharedOwners, owner)
		} else {
			l.sharedOwners[owner] = count - 1
		}
		if len(l.sharedOwners) == 0 {
			l.state = stateIdle
		}
	case Exclusive:
		if l.exclusiveDepth == 0 || l.exclusiveOwner != owner {
			panic("lock: release of exclusive lock not held by owner")
		}
		l.exclusiveDepth--
		if l.exclusiveDepth == 0 {
			l.exclusiveOwner = 0
			l.state = stateIdle
		}
	}
	l.cond.Broadcast()
}

// HeldBy reports whether owner currently holds the lock in any mode,
// for diagnostics and tests.
func (l *Lock) HeldBy(owner Owner) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == stateExclusiveHeld {
		return l.exclusiveOwner == owner
	}
	if l.state == stateSharedHeld {
		return l.sharedOwners[owner] > 0
	}
	return false
}
