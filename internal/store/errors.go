package store

import "errors"

var (
	// ErrNotFound means the addressed record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrWriteConflict means a guarded update lost a race with another
	// writer. Callers retry once with fresh state, then report and skip.
	ErrWriteConflict = errors.New("write conflict")
	// ErrSizeLimit means a record's serialized match list exceeds the
	// per-item ceiling. Handled by truncation, never surfaced as failure.
	ErrSizeLimit = errors.New("item size limit exceeded")
	// ErrUnavailable means the store itself is unreachable. Propagated to
	// the caller; never silently treated as an empty result.
	ErrUnavailable = errors.New("record store unavailable")
)
