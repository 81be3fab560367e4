// Package unlock implements the receiver-side unlock session: the state
// machine that keeps a letter gated until its challenge has been answered.
package unlock

import (
	"context"
	"errors"
	"sync"

	"github.com/jun/sealedletter/core/challenge"
)

// State is a step of the unlock session.
type State int

const (
	// Gated means a challenge exists and has not been passed.
	Gated State = iota
	// Validating means an answer is being checked.
	Validating
	// Unlocked is terminal: the letter may be rendered.
	Unlocked
)

func (s State) String() string {
	switch s {
	case Gated:
		return "gated"
	case Validating:
		return "validating"
	case Unlocked:
		return "unlocked"
	}
	return "unknown"
}

// User-facing messages surfaced after a failed attempt.
const (
	MsgIncorrect   = "Incorrect answer, try again"
	MsgTooMany     = "Too many attempts, please wait a little and try again"
	MsgUnavailable = "We couldn't check your answer, please try again"
)

var (
	// ErrInvalidTransition is returned when an event does not apply to the
	// current state.
	ErrInvalidTransition = errors.New("invalid unlock transition")
	// ErrTooManyAttempts is reported by a Verifier when the server refuses
	// further attempts for now.
	ErrTooManyAttempts = errors.New("too many attempts")
)

// Session tracks whether the current viewing has passed the challenge.
// Abandoning a session has no server-side effect and sessions never expire.
type Session struct {
	mu       sync.Mutex
	state    State
	question *challenge.Question
	mode     Mode
	message  string
}

// New starts a session. A nil question means the letter has no challenge and
// the session is immediately Unlocked.
func New(question *challenge.Question, mode Mode) *Session {
	s := &Session{question: question, mode: mode, state: Gated}
	if question == nil || question.Kind == challenge.KindNone {
		s.state = Unlocked
	}
	return s
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Question returns the challenge shown while gated, or nil.
func (s *Session) Question() *challenge.Question {
	return s.question
}

// Message returns the message from the last failed attempt, if any.
func (s *Session) Message() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.message
}

// Begin moves Gated to Validating.
func (s *Session) Begin() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Gated {
		return ErrInvalidTransition
	}
	s.state = Validating
	s.message = ""
	return nil
}

// Complete applies a verifier outcome to a Validating session.
func (s *Session) Complete(correct bool, verr error) (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Validating {
		return s.state, ErrInvalidTransition
	}
	switch {
	case verr != nil && errors.Is(verr, ErrTooManyAttempts):
		s.state, s.message = Gated, MsgTooMany
	case verr != nil:
		s.state, s.message = Gated, MsgUnavailable
	case correct:
		s.state, s.message = Unlocked, ""
	default:
		s.state, s.message = Gated, MsgIncorrect
	}
	return s.state, nil
}

// Submit checks answer through the session's mode and returns the new state.
func (s *Session) Submit(ctx context.Context, answer string) (State, error) {
	if err := s.Begin(); err != nil {
		return s.State(), err
	}
	if s.mode == nil {
		return s.Complete(false, errors.New("unlock session has no verifier"))
	}
	ok, err := s.mode.check(ctx, answer)
	return s.Complete(ok, err)
}
