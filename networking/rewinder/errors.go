package rewinder

import "errors"

var (
	// ErrPrecondition is returned when a call violates a stated precondition
	// (e.g. AdvanceToNextUpdate called with anything but current+1).
	ErrPrecondition = errors.New("rewinder: precondition violated")
	// ErrStaleUpdate is returned when an update index refers to a slot no
	// longer stored (trimmed, or never existed below firstStored).
	ErrStaleUpdate = errors.New("rewinder: stale update index")
	// ErrFutureUpdate is returned when an update index is beyond current for
	// an operation that requires an already-simulated slot.
	ErrFutureUpdate = errors.New("rewinder: future update index")
	// ErrWouldTrimConfirmed is returned by TrimOldUpdates when the requested
	// boundary would discard a record still needed for a pending
	// reconciliation (I3).
	ErrWouldTrimConfirmed = errors.New("rewinder: would trim a still-needed confirmed update")
)
