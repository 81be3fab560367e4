// Package letter implements letter creation, token-based access and the
// server-side challenge check.
package letter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jun/sealedletter/core/challenge"
	"github.com/jun/sealedletter/core/markdown"
	lettersync "github.com/jun/sealedletter/core/sync"
	"github.com/jun/sealedletter/internal/attempt"
	"github.com/jun/sealedletter/internal/logging"
	"github.com/jun/sealedletter/internal/model"
	"github.com/jun/sealedletter/internal/store"
	"github.com/jun/sealedletter/internal/token"
)

// MaxTokenAttempts bounds the retries on token collision.
const MaxTokenAttempts = 3

// Notifier receives fire-and-forget events. Implementations must not block.
type Notifier interface {
	ShareLink(ctx context.Context, l *model.Letter, tok string)
	Viewed(ctx context.Context, l *model.Letter)
}

// Service is the letter use-case layer.
type Service struct {
	store       store.Store
	limiter     attempt.Limiter
	notifier    Notifier
	renderer    *markdown.Renderer
	logger      logging.Logger
	frontendURL string

	now      func() time.Time
	newToken func() (string, error)
}

func NewService(st store.Store, limiter attempt.Limiter, notifier Notifier, renderer *markdown.Renderer, logger logging.Logger, frontendURL string) *Service {
	return &Service{
		store:       st,
		limiter:     limiter,
		notifier:    notifier,
		renderer:    renderer,
		logger:      logger,
		frontendURL: frontendURL,
		now:         time.Now,
		newToken:    token.Generate,
	}
}

// Create stores a new letter for senderID, mints its access token and
// queues the share-link email.
func (s *Service) Create(ctx context.Context, senderID string, in Input) (*Created, error) {
	if senderID == "" {
		return nil, ErrUnauthorized
	}

	title, err := checkTitle(in.Title)
	if err != nil {
		return nil, err
	}
	email, err := checkEmail(in.RecipientEmail)
	if err != nil {
		return nil, err
	}
	sections, err := checkSections(in.Sections)
	if err != nil {
		return nil, err
	}
	kind, q, sec, err := splitChallenge(in.SecurityType, in.SecurityConfig)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	l := &model.Letter{
		ID:             uuid.New().String(),
		SenderID:       senderID,
		Title:          title,
		RecipientName:  in.RecipientName,
		RecipientEmail: email,
		Sections:       sections,
		Style:          in.Style,
		SecurityType:   kind,
		ETag:           uuid.New().String(),
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	var ch *store.NewChallenge
	if q != nil {
		ch = &store.NewChallenge{Question: *q, Secret: sec}
	}

	for i := 1; ; i++ {
		tok, err := s.newToken()
		if err != nil {
			return nil, fmt.Errorf("mint access token: %w", err)
		}
		l.AccessToken = tok

		err = s.store.CreateLetter(ctx, l, ch)
		if err == nil {
			break
		}
		if errors.Is(err, token.ErrCollision) && i < MaxTokenAttempts {
			s.logger.Warn(ctx, "access token collision, retrying", "attempt", i)
			continue
		}
		s.logger.Error(ctx, "failed to create letter", "sender_id", senderID, "error", err)
		return nil, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}

	s.logger.Info(ctx, "letter created",
		"letter_id", l.ID,
		"sender_id", senderID,
		"security_type", string(kind),
		"token", token.Short(l.AccessToken),
	)
	s.notifier.ShareLink(ctx, l, l.AccessToken)

	return &Created{
		Letter:      l,
		AccessToken: l.AccessToken,
		ShareURL:    token.ShareURL(s.frontendURL, l.AccessToken),
	}, nil
}

// owned loads a letter and checks it belongs to senderID.
func (s *Service) owned(ctx context.Context, senderID, letterID string) (*model.Letter, error) {
	if senderID == "" {
		return nil, ErrUnauthorized
	}
	l, err := s.store.GetLetter(ctx, letterID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}
	if l.SenderID != senderID {
		return nil, ErrNotFound
	}
	return l, nil
}

// Get returns one of the sender's letters with its challenge question.
func (s *Service) Get(ctx context.Context, senderID, letterID string) (*OwnerView, error) {
	l, err := s.owned(ctx, senderID, letterID)
	if err != nil {
		return nil, err
	}

	view := &OwnerView{Letter: l}
	if l.HasChallenge() {
		q, err := s.store.ChallengeQuestion(ctx, l.ID)
		switch {
		case err == nil:
			view.Challenge = q
		case errors.Is(err, store.ErrNotFound):
		default:
			return nil, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
		}
	}
	return view, nil
}

// List returns the sender's letters, newest first.
func (s *Service) List(ctx context.Context, senderID string) ([]model.Letter, error) {
	if senderID == "" {
		return nil, ErrUnauthorized
	}
	letters, err := s.store.ListLetters(ctx, senderID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}
	return letters, nil
}

// Update applies p to the sender's letter. A non-empty ifMatch must equal
// the current ETag.
func (s *Service) Update(ctx context.Context, senderID, letterID string, p Patch, ifMatch string) (*model.Letter, error) {
	if senderID == "" {
		return nil, ErrUnauthorized
	}
	l, err := s.store.GetLetter(ctx, letterID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}
	if l.SenderID != senderID {
		return nil, ErrUnauthorized
	}

	updated := *l
	if p.Title != nil {
		if updated.Title, err = checkTitle(*p.Title); err != nil {
			return nil, err
		}
	}
	if p.RecipientName != nil {
		updated.RecipientName = *p.RecipientName
	}
	if p.RecipientEmail != nil {
		if updated.RecipientEmail, err = checkEmail(*p.RecipientEmail); err != nil {
			return nil, err
		}
	}
	if p.Sections != nil {
		if updated.Sections, err = checkSections(p.Sections); err != nil {
			return nil, err
		}
	}
	if p.Style != nil {
		updated.Style = *p.Style
	}

	var ch *store.NewChallenge
	if changesChallenge(l, p) {
		securityType := string(l.SecurityType)
		if p.SecurityType != nil {
			securityType = *p.SecurityType
		}
		kind, q, sec, err := splitChallenge(securityType, p.SecurityConfig)
		if err != nil {
			return nil, err
		}
		updated.SecurityType = kind
		if q != nil {
			ch = &store.NewChallenge{Question: *q, Secret: sec}
		}
	}

	if !lettersync.IfMatch(ifMatch, l.ETag) {
		return nil, ErrConflict
	}
	updated.ETag = uuid.New().String()
	updated.UpdatedAt = s.now().UTC()

	// The letter and its challenge are written together or not at all.
	if err := s.store.UpdateLetter(ctx, &updated, l.ETag, ch); err != nil {
		if errors.Is(err, store.ErrPreconditionFailed) {
			return nil, ErrConflict
		}
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotFound
		}
		s.logger.Error(ctx, "failed to update letter", "letter_id", l.ID, "error", err)
		return nil, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}

	s.logger.Info(ctx, "letter updated", "letter_id", l.ID, "security_type", string(updated.SecurityType))
	return &updated, nil
}

// changesChallenge reports whether p touches the security settings. Repeating
// the current securityType without a config leaves the challenge alone.
func changesChallenge(l *model.Letter, p Patch) bool {
	if p.SecurityConfig != nil {
		return true
	}
	if p.SecurityType == nil {
		return false
	}
	kind, err := challenge.ParseKind(*p.SecurityType)
	return err != nil || kind != l.SecurityType && !(kind == challenge.KindNone && !l.HasChallenge())
}

// Resolve maps a bearer token to the receiver-safe projection. Every
// failure, including storage outages, is reported as ErrNotFound.
func (s *Service) Resolve(ctx context.Context, tok string) (*Projection, error) {
	if !token.Valid(tok) {
		return nil, ErrNotFound
	}

	l, err := s.byToken(ctx, tok)
	if err != nil {
		return nil, err
	}

	p := &Projection{
		Title:             l.Title,
		RecipientName:     l.RecipientName,
		Style:             l.Style,
		CreatedAt:         l.CreatedAt,
		SecurityType:      l.SecurityType,
		RequiresChallenge: l.HasChallenge(),
	}
	if p.SecurityType == "" {
		p.SecurityType = challenge.KindNone
	}

	if l.HasChallenge() {
		q, err := s.store.ChallengeQuestion(ctx, l.ID)
		switch {
		case err == nil:
			p.Challenge = q
		case errors.Is(err, store.ErrNotFound):
			s.logger.Error(ctx, "gated letter has no challenge", "letter_id", l.ID)
		default:
			s.logger.Warn(ctx, "challenge question unavailable", "token", token.Short(tok), "error", err)
			return nil, ErrNotFound
		}
	}

	p.Sections = make([]RenderedSection, 0, len(l.Sections))
	for _, sec := range l.Sections {
		html, err := s.renderer.RenderString(sec.Body)
		if err != nil {
			s.logger.Warn(ctx, "failed to render section", "letter_id", l.ID, "error", err)
		}
		p.Sections = append(p.Sections, RenderedSection{Heading: sec.Heading, Body: sec.Body, HTML: html})
	}

	s.notifier.Viewed(ctx, l)
	return p, nil
}

func (s *Service) byToken(ctx context.Context, tok string) (*model.Letter, error) {
	id, err := s.store.LetterIDForToken(ctx, tok)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			s.logger.Warn(ctx, "token lookup failed", "token", token.Short(tok), "error", err)
		}
		return nil, ErrNotFound
	}
	l, err := s.store.GetLetter(ctx, id)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			s.logger.Warn(ctx, "letter lookup failed", "token", token.Short(tok), "error", err)
		}
		return nil, ErrNotFound
	}
	// The index could in principle outlive a letter rewrite.
	if l.AccessToken != tok {
		return nil, ErrNotFound
	}
	return l, nil
}

// Validate checks answer against the challenge of senderID's letterID.
//
// A missing letter, a sender mismatch, a letter without challenge and a
// wrong answer all return (false, nil). Errors are only
// attempt.ErrTooManyAttempts and ErrUpstreamUnavailable.
func (s *Service) Validate(ctx context.Context, senderID, letterID, answer string) (bool, error) {
	l, err := s.store.GetLetter(ctx, letterID)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		s.logger.Warn(ctx, "letter lookup failed during validation", "letter_id", letterID, "error", err)
		return false, ErrUpstreamUnavailable
	}
	if l.SenderID != senderID {
		return false, nil
	}
	return s.check(ctx, l, answer)
}

// ValidateByToken is Validate addressed by access token.
func (s *Service) ValidateByToken(ctx context.Context, tok, answer string) (bool, error) {
	if !token.Valid(tok) {
		return false, nil
	}
	id, err := s.store.LetterIDForToken(ctx, tok)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		s.logger.Warn(ctx, "token lookup failed during validation", "token", token.Short(tok), "error", err)
		return false, ErrUpstreamUnavailable
	}
	l, err := s.store.GetLetter(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		s.logger.Warn(ctx, "letter lookup failed during validation", "token", token.Short(tok), "error", err)
		return false, ErrUpstreamUnavailable
	}
	if l.AccessToken != tok {
		return false, nil
	}
	return s.check(ctx, l, answer)
}

func (s *Service) check(ctx context.Context, l *model.Letter, answer string) (bool, error) {
	if !l.HasChallenge() {
		return false, nil
	}

	// The attempt is counted before the answer is looked at, so parallel
	// guesses cannot outrun the limit.
	attempts, err := s.limiter.Reserve(ctx, l.ID)
	if err != nil {
		if errors.Is(err, attempt.ErrTooManyAttempts) {
			s.logger.Info(ctx, "unlock attempts exhausted", "letter_id", l.ID)
			return false, err
		}
		s.logger.Warn(ctx, "attempt limiter unavailable", "letter_id", l.ID, "error", err)
		return false, ErrUpstreamUnavailable
	}

	sec, err := s.store.ChallengeForValidation(ctx, l.ID)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		s.logger.Warn(ctx, "challenge unavailable during validation", "letter_id", l.ID, "error", err)
		return false, ErrUpstreamUnavailable
	}

	if challenge.Check(*sec, answer) {
		if err := s.limiter.Reset(ctx, l.ID); err != nil {
			s.logger.Warn(ctx, "failed to reset unlock attempts", "letter_id", l.ID, "error", err)
		}
		s.logger.Info(ctx, "letter unlocked", "letter_id", l.ID)
		return true, nil
	}

	s.logger.Debug(ctx, "incorrect answer", "letter_id", l.ID, "attempts", attempts)
	return false, nil
}
