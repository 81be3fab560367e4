package letter

import (
	"fmt"
	"net/mail"
	"strings"
	"unicode/utf8"

	"github.com/jun/sealedletter/core/challenge"
	"github.com/jun/sealedletter/internal/model"
)

const (
	MaxTitleLength = 200
	MaxSections    = 20
	MaxSectionBody = 64 << 10
)

// Input is a letter as submitted by the composer.
type Input struct {
	Title          string            `json:"title"`
	RecipientName  string            `json:"recipientName,omitempty"`
	RecipientEmail string            `json:"recipientEmail,omitempty"`
	Sections       []model.Section   `json:"sections"`
	Style          model.Style       `json:"style"`
	SecurityType   string            `json:"securityType,omitempty"`
	SecurityConfig *challenge.Config `json:"securityConfig,omitempty"`
}

// Patch is a partial update. Nil fields are left unchanged.
type Patch struct {
	Title          *string           `json:"title,omitempty"`
	RecipientName  *string           `json:"recipientName,omitempty"`
	RecipientEmail *string           `json:"recipientEmail,omitempty"`
	Sections       []model.Section   `json:"sections,omitempty"`
	Style          *model.Style      `json:"style,omitempty"`
	SecurityType   *string           `json:"securityType,omitempty"`
	SecurityConfig *challenge.Config `json:"securityConfig,omitempty"`
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

func checkTitle(title string) (string, error) {
	title = strings.TrimSpace(title)
	if utf8.RuneCountInString(title) > MaxTitleLength {
		return "", invalid("title longer than %d characters", MaxTitleLength)
	}
	return title, nil
}

func checkEmail(email string) (string, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return "", nil
	}
	addr, err := mail.ParseAddress(email)
	if err != nil {
		return "", invalid("recipient email %q is not an address", email)
	}
	return addr.Address, nil
}

func checkSections(sections []model.Section) ([]model.Section, error) {
	if len(sections) == 0 {
		return nil, invalid("at least one section is required")
	}
	if len(sections) > MaxSections {
		return nil, invalid("more than %d sections", MaxSections)
	}
	out := make([]model.Section, len(sections))
	for i, s := range sections {
		if len(s.Body) > MaxSectionBody {
			return nil, invalid("section %d is larger than %d bytes", i+1, MaxSectionBody)
		}
		out[i] = model.Section{Heading: strings.TrimSpace(s.Heading), Body: s.Body}
	}
	return out, nil
}

// splitChallenge validates the security settings. It returns a nil question
// for KindNone.
func splitChallenge(securityType string, cfg *challenge.Config) (challenge.Kind, *challenge.Question, challenge.Secret, error) {
	kind, err := challenge.ParseKind(securityType)
	if err != nil {
		return "", nil, challenge.Secret{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if kind == challenge.KindNone {
		return kind, nil, challenge.Secret{}, nil
	}
	if cfg == nil {
		return "", nil, challenge.Secret{}, invalid("securityConfig is required for %s letters", kind)
	}
	q, sec, err := cfg.Split(kind)
	if err != nil {
		return "", nil, challenge.Secret{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return kind, &q, sec, nil
}
