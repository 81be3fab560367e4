package challenge

import (
	"errors"
	"strings"
)

// ErrSecretSerialization is returned by Secret.MarshalJSON.
var ErrSecretSerialization = errors.New("challenge secret must not be serialized")

// Secret is the correct answer of a challenge. Its fields are unexported and
// it refuses JSON encoding, so it cannot end up in a response by accident.
type Secret struct {
	kind         Kind
	questionType QuestionType
	answer       string
}

// NewQuizSecret builds the secret for a quiz challenge.
func NewQuizSecret(qt QuestionType, answer string) Secret {
	return Secret{kind: KindQuiz, questionType: qt, answer: answer}
}

// NewDateSecret builds the secret for a date challenge. day should already be
// in DateLayout but any layout accepted by NormalizeDate works.
func NewDateSecret(day string) Secret {
	return Secret{kind: KindDate, answer: day}
}

// Kind reports the challenge kind the secret belongs to.
func (s Secret) Kind() Kind { return s.kind }

// QuestionType reports the quiz flavour; empty for date secrets.
func (s Secret) QuestionType() QuestionType { return s.questionType }

// Reveal returns the raw answer. Only persistence calls it, to seal the value.
func (s Secret) Reveal() string { return s.answer }

// IsZero reports whether s holds no challenge.
func (s Secret) IsZero() bool { return s.kind == "" }

func (s Secret) MarshalJSON() ([]byte, error) {
	return nil, ErrSecretSerialization
}

func (s Secret) String() string { return "challenge.Secret{redacted}" }

// Check reports whether submitted unlocks a challenge guarded by s.
//
// multipleChoice and trueFalse compare exactly, identification compares
// case-insensitively after trimming, and dates compare by calendar day.
func Check(s Secret, submitted string) bool {
	switch s.kind {
	case KindQuiz:
		if s.questionType == Identification {
			return strings.EqualFold(strings.TrimSpace(submitted), strings.TrimSpace(s.answer))
		}
		return submitted == s.answer
	case KindDate:
		return SameDay(s.answer, submitted)
	}
	return false
}
