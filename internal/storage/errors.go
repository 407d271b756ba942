package storage

import "errors"

// Storage errors shared by every implementation.
var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateKey is returned when an insert collides with an existing
	// key. For event-locator keyed rows the write engine converts this to a
	// noop result; it is the at-most-once mechanism, not a failure.
	ErrDuplicateKey = errors.New("duplicate key")

	// ErrInvalidInput is returned when input validation fails. Never retried.
	ErrInvalidInput = errors.New("invalid input")

	// ErrOrderViolation is returned when a write would regress a monotonic
	// value (cursor position, leaderboard version). Signals an upstream bug.
	ErrOrderViolation = errors.New("order violation")

	// ErrConflict is returned when a write contradicts already-stored state,
	// such as an illegal report status transition.
	ErrConflict = errors.New("conflict")

	// ErrUnsupported is returned for unknown actions or resources.
	ErrUnsupported = errors.New("unsupported")
)
