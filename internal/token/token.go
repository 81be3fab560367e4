// Package token mints and recognises letter access tokens.
package token

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Size is the number of random bytes in a token; its hex form is Length
// characters long.
const (
	Size   = 32
	Length = Size * 2
)

// ErrCollision is returned by persistence when a freshly minted token is
// already assigned to another letter. Callers mint a new token and retry.
var ErrCollision = errors.New("access token collision")

var pattern = regexp.MustCompile(`^[a-f0-9]{64}$`)

// Generate returns a new token from crypto/rand. It has no side effects;
// persisting and checking uniqueness is the caller's job.
func Generate() (string, error) {
	b := make([]byte, Size)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// Valid reports whether s has the shape of an access token. Anything else,
// including legacy letter ids, is never looked up.
func Valid(s string) bool {
	return pattern.MatchString(s)
}

// Short returns a log-safe prefix of a token.
func Short(s string) string {
	if len(s) <= 8 {
		return s
	}
	return s[:8] + "…"
}

// ShareURL is the receiver-facing link for a token.
func ShareURL(frontendURL, tok string) string {
	return strings.TrimRight(frontendURL, "/") + "/letter/" + tok
}
