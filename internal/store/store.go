// Package store defines persistence for letters, their access tokens and
// their challenges.
package store

import (
	"context"
	"time"

	"github.com/jun/sealedletter/core/challenge"
	"github.com/jun/sealedletter/internal/model"
)

// NewChallenge is a challenge written together with its letter.
type NewChallenge struct {
	Question challenge.Question
	Secret   challenge.Secret
}

// LetterStore persists letters and the token index that points at them.
type LetterStore interface {
	// CreateLetter stores a letter, its token index entry and its optional
	// challenge in one write. It returns token.ErrCollision if the letter's
	// AccessToken is already assigned, without overwriting anything.
	CreateLetter(ctx context.Context, letter *model.Letter, ch *NewChallenge) error

	// GetLetter retrieves a letter by its internal id.
	GetLetter(ctx context.Context, letterID string) (*model.Letter, error)

	// LetterIDForToken resolves an access token through the token index.
	LetterIDForToken(ctx context.Context, token string) (string, error)

	// ListLetters lists a sender's letters, newest first.
	ListLetters(ctx context.Context, senderID string) ([]model.Letter, error)

	// UpdateLetter rewrites the sender-editable fields of a letter and its
	// challenge in one write. A non-nil ch replaces the challenge; a letter
	// whose SecurityType is not gated loses it. The sender, token, creation
	// and view times stay as stored. If ifMatch is non-empty it must equal
	// the stored ETag, otherwise ErrPreconditionFailed is returned and
	// nothing is written.
	UpdateLetter(ctx context.Context, letter *model.Letter, ifMatch string, ch *NewChallenge) error

	// MarkViewed records the first time a letter was opened. It reports
	// whether this call was the first.
	MarkViewed(ctx context.Context, letterID string, at time.Time) (bool, error)
}

// ChallengeStore reads challenges. The two reads are deliberately separate
// implementations: ChallengeQuestion never loads the sealed answer, and only
// the validator may call ChallengeForValidation.
type ChallengeStore interface {
	// ChallengeQuestion returns the receiver-safe question.
	ChallengeQuestion(ctx context.Context, letterID string) (*challenge.Question, error)

	// ChallengeForValidation returns the unsealed answer.
	ChallengeForValidation(ctx context.Context, letterID string) (*challenge.Secret, error)
}

// Store is everything the letter service needs.
type Store interface {
	LetterStore
	ChallengeStore
}
