package lock

import "errors"

// ErrLockTimeout is returned when Acquire could not obtain a compatible
// lock within its timeout budget.
var ErrLockTimeout = errors.New("lock: acquisition exceeded timeout budget")
