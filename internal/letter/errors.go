package letter

import "errors"

var (
	// ErrNotFound covers malformed tokens, unassigned tokens and missing
	// letters alike. Callers must not be able to tell them apart.
	ErrNotFound = errors.New("letter not found")

	// ErrUnauthorized is returned when a write path is invoked by someone
	// other than the owning sender.
	ErrUnauthorized = errors.New("not the owner of this letter")

	ErrInvalidInput        = errors.New("invalid letter")
	ErrUpstreamUnavailable = errors.New("letter storage unavailable")

	// ErrConflict is returned when an update's If-Match does not match the
	// stored ETag.
	ErrConflict = errors.New("letter was modified")
)
