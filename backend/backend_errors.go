package backend

import "errors"

var (
	// ErrNotFound indicates the requested row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict indicates a unique-constraint violation, e.g. a duplicate
	// username.
	ErrConflict = errors.New("conflict")

	// ErrNotAuthenticated indicates the operation requires a signed-in user
	// and none is held.
	ErrNotAuthenticated = errors.New("not authenticated")

	// ErrBackendUnavailable indicates a transport-level failure reaching the
	// backend.
	ErrBackendUnavailable = errors.New("backend unavailable")
)
