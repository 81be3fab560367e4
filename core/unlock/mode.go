package unlock

import (
	"context"
	"errors"

	"github.com/jun/sealedletter/core/challenge"
)

// Mode decides how a session checks answers. Only Remote and Preview
// implement it: a letter with server identifiers is always checked by the
// server, and local comparison exists only for a sender previewing a draft.
type Mode interface {
	check(ctx context.Context, answer string) (bool, error)
}

// Verifier asks the server whether an answer is correct.
type Verifier interface {
	Verify(ctx context.Context, answer string) (bool, error)
}

// Remote checks answers with the server validator.
type Remote struct {
	verifier Verifier
}

// NewRemote returns the mode used whenever a token or letter id is known.
func NewRemote(v Verifier) Remote {
	return Remote{verifier: v}
}

func (r Remote) check(ctx context.Context, answer string) (bool, error) {
	if r.verifier == nil {
		return false, errors.New("remote unlock mode has no verifier")
	}
	return r.verifier.Verify(ctx, answer)
}

// Preview compares answers locally against an unpublished challenge. It holds
// no server identifiers and cannot be built from a resolved letter.
type Preview struct {
	secret challenge.Secret
}

// NewPreview splits a draft challenge into the question to show and a local
// checking mode.
func NewPreview(kind challenge.Kind, cfg challenge.Config) (Preview, challenge.Question, error) {
	q, secret, err := cfg.Split(kind)
	if err != nil {
		return Preview{}, challenge.Question{}, err
	}
	return Preview{secret: secret}, q, nil
}

func (p Preview) check(_ context.Context, answer string) (bool, error) {
	return challenge.Check(p.secret, answer), nil
}
