package store

import (
	"errors"
)

var (
	// ErrNotFound is returned when a requested letter, token or challenge does not exist.
	ErrNotFound = errors.New("resource not found")

	// ErrPreconditionFailed is returned when an ETag mismatch occurs.
	ErrPreconditionFailed = errors.New("precondition failed")
)
