package store

import "errors"

// Engine error kinds. Every operation returns success or exactly one of
// these (or a *format.Error / ledger.ErrDuplicateVersion passed through
// from the owning package). Callers classify with errors.Is.
var (
	// ErrNotFound means the project, config, or requested version does
	// not exist. Terminal for the request.
	ErrNotFound = errors.New("store: not found")

	// ErrAlreadyExists means Create targeted a config that already has
	// history. The caller must use Update.
	ErrAlreadyExists = errors.New("store: config already exists")

	// ErrConflict means the backend serialized a concurrent write ahead
	// of ours. The caller retries with freshly read content; the engine
	// never retries on its own.
	ErrConflict = errors.New("store: write conflict")

	// ErrBackendTimeout means the backend did not answer in time and the
	// engine confirmed no partial version was committed.
	ErrBackendTimeout = errors.New("store: backend timeout")

	// ErrInvalidName means a project or config name cannot form a valid
	// backend path.
	ErrInvalidName = errors.New("store: invalid name")
)
