package letter

import (
	"time"

	"github.com/jun/sealedletter/core/challenge"
	"github.com/jun/sealedletter/internal/model"
)

// RenderedSection is a section with its Markdown body rendered to HTML.
type RenderedSection struct {
	Heading string `json:"heading,omitempty"`
	Body    string `json:"body"`
	HTML    string `json:"html"`
}

// Projection is what a receiver holding the token gets. It has no internal
// identifiers and, by construction, no challenge answer: Question has no
// answer field and the type is built only from ChallengeQuestion.
type Projection struct {
	Title             string              `json:"title"`
	RecipientName     string              `json:"recipientName,omitempty"`
	Sections          []RenderedSection   `json:"sections"`
	Style             model.Style         `json:"style"`
	CreatedAt         time.Time           `json:"createdAt"`
	SecurityType      challenge.Kind      `json:"securityType"`
	RequiresChallenge bool                `json:"requiresChallenge"`
	Challenge         *challenge.Question `json:"challenge,omitempty"`
}

// Created is returned once, to the sender, when a letter is created. It is
// the only place the access token leaves the server.
type Created struct {
	Letter      *model.Letter `json:"letter"`
	AccessToken string        `json:"accessToken"`
	ShareURL    string        `json:"shareUrl"`
}

// OwnerView is a letter as its sender sees it in the editor: the
// question is included, the answer and the token are not.
type OwnerView struct {
	*model.Letter
	Challenge *challenge.Question `json:"challenge,omitempty"`
}
