// Package challenge defines the knowledge challenges that gate a letter and
// the pure comparison used to decide whether a submitted answer unlocks it.
//
// The package is shared by the server validator and the browser (through the
// wasm bridge), so it has no I/O and no dependencies outside the standard
// library.
package challenge

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// Kind is the security type of a letter.
type Kind string

const (
	KindNone Kind = "none"
	KindQuiz Kind = "quiz"
	KindDate Kind = "date"
)

// QuestionType is the flavour of a quiz challenge.
type QuestionType string

const (
	MultipleChoice QuestionType = "multipleChoice"
	TrueFalse      QuestionType = "trueFalse"
	Identification QuestionType = "identification"
)

// ErrInvalidConfig is returned when a sender-supplied challenge is malformed.
var ErrInvalidConfig = errors.New("invalid challenge config")

// Config is the challenge as written by the sender. It carries the correct
// answer and must only ever travel from the sender to the server.
type Config struct {
	QuestionType  QuestionType `json:"questionType,omitempty"`
	Question      string       `json:"question"`
	Options       []string     `json:"options,omitempty"`
	CorrectAnswer string       `json:"correctAnswer,omitempty"`
	CorrectDate   string       `json:"correctDate,omitempty"`
}

// Question is the redacted, receiver-safe view of a challenge.
type Question struct {
	Kind         Kind         `json:"type"`
	QuestionType QuestionType `json:"questionType,omitempty"`
	Question     string       `json:"question"`
	Options      []string     `json:"options,omitempty"`
}

// Split validates cfg for the given kind and separates it into the public
// question and the secret answer. Answers are canonicalised here so that the
// comparison at unlock time stays a plain equality.
func (cfg Config) Split(kind Kind) (Question, Secret, error) {
	q := Question{Kind: kind, Question: strings.TrimSpace(cfg.Question)}
	if q.Question == "" {
		return Question{}, Secret{}, fmt.Errorf("%w: question is required", ErrInvalidConfig)
	}

	switch kind {
	case KindQuiz:
		q.QuestionType = cfg.QuestionType
		switch cfg.QuestionType {
		case MultipleChoice:
			opts := make([]string, 0, len(cfg.Options))
			for _, o := range cfg.Options {
				if o = strings.TrimSpace(o); o != "" {
					opts = append(opts, o)
				}
			}
			if len(opts) < 2 {
				return Question{}, Secret{}, fmt.Errorf("%w: multiple choice needs at least two options", ErrInvalidConfig)
			}
			answer := strings.TrimSpace(cfg.CorrectAnswer)
			if !slices.Contains(opts, answer) {
				return Question{}, Secret{}, fmt.Errorf("%w: correct answer must be one of the options", ErrInvalidConfig)
			}
			q.Options = opts
			return q, NewQuizSecret(MultipleChoice, answer), nil
		case TrueFalse:
			answer := strings.ToLower(strings.TrimSpace(cfg.CorrectAnswer))
			if answer != "true" && answer != "false" {
				return Question{}, Secret{}, fmt.Errorf("%w: true/false answer must be \"true\" or \"false\"", ErrInvalidConfig)
			}
			q.Options = []string{"true", "false"}
			return q, NewQuizSecret(TrueFalse, answer), nil
		case Identification:
			answer := strings.TrimSpace(cfg.CorrectAnswer)
			if answer == "" {
				return Question{}, Secret{}, fmt.Errorf("%w: correct answer is required", ErrInvalidConfig)
			}
			return q, NewQuizSecret(Identification, answer), nil
		default:
			return Question{}, Secret{}, fmt.Errorf("%w: unknown question type %q", ErrInvalidConfig, cfg.QuestionType)
		}
	case KindDate:
		day, err := NormalizeDate(cfg.CorrectDate)
		if err != nil {
			return Question{}, Secret{}, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
		return q, NewDateSecret(day.Format(DateLayout)), nil
	default:
		return Question{}, Secret{}, fmt.Errorf("%w: security type %q has no challenge", ErrInvalidConfig, kind)
	}
}

// ParseKind maps the wire value of securityType to a Kind. An empty value is
// treated as none.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case "", KindNone:
		return KindNone, nil
	case KindQuiz, KindDate:
		return Kind(s), nil
	}
	return "", fmt.Errorf("%w: unknown security type %q", ErrInvalidConfig, s)
}
