// Package attempt counts unlock attempts per letter so a challenge cannot be
// brute-forced.
package attempt

import (
	"context"
	"errors"
)

// ErrTooManyAttempts is returned by Reserve while a letter's window is exhausted.
var ErrTooManyAttempts = errors.New("too many unlock attempts")

// Limiter defines the interface for unlock attempt accounting.
type Limiter interface {
	// Reserve counts one attempt in the letter's current window, opening a
	// window if none is live, and returns the attempts counted so far. Once
	// the window holds the maximum it returns ErrTooManyAttempts and counts
	// nothing. The check and the count are a single atomic step.
	Reserve(ctx context.Context, letterID string) (int, error)

	// Reset clears the window, typically after a correct answer.
	Reset(ctx context.Context, letterID string) error
}
