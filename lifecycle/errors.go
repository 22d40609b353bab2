package lifecycle

import "errors"

// ErrInvalidTransition is returned when an operation's source state does
// not match the task's current state. Nothing is written.
var ErrInvalidTransition = errors.New("lifecycle: invalid transition")

// ErrAlreadyClaimed is returned when a claim (or review start) loses the
// race for a task another worker already holds.
var ErrAlreadyClaimed = errors.New("lifecycle: task already claimed")

// ErrStaleUpdate is returned when a progress report would decrease the
// stored time spent. The stored value is kept.
var ErrStaleUpdate = errors.New("lifecycle: stale progress update")

// ErrNotExpired is returned when an expire call finds the task still
// within its time limits; the sweeper treats it as a harmless skip.
var ErrNotExpired = errors.New("lifecycle: task not expired")

// ErrStorageUnavailable wraps infrastructure failures from the task store.
// Callers may retry; guard errors above are never wrapped in it.
var ErrStorageUnavailable = errors.New("lifecycle: storage unavailable")
