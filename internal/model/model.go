package model

import (
	"time"

	"github.com/jun/sealedletter/core/challenge"
)

// SenderAccount is the sender's profile and OAuth2 token stored in DynamoDB.
type SenderAccount struct {
	UserID                string    `json:"user_id" dynamodbav:"user_id"`
	Email                 string    `json:"email" dynamodbav:"email"`
	Name                  string    `json:"name" dynamodbav:"name"`
	EncryptedRefreshToken string    `json:"-" dynamodbav:"encrypted_refresh_token"`
	UpdatedAt             time.Time `json:"updated_at" dynamodbav:"updated_at"`
}

// AttemptWindow counts unlock attempts for one letter since its last
// correct answer.
type AttemptWindow struct {
	Key       string `json:"key" dynamodbav:"attempt_key"`
	Attempts  int    `json:"attempts" dynamodbav:"attempts"`
	ExpiresAt int64  `json:"expires_at" dynamodbav:"expires_at"` // TTL (Unix timestamp)
}

// Section is one block of letter content. Body is Markdown.
type Section struct {
	Heading string `json:"heading,omitempty" dynamodbav:"heading"`
	Body    string `json:"body" dynamodbav:"body"`
}

// Style holds the presentation choices made in the composer.
type Style struct {
	Theme     string `json:"theme,omitempty" dynamodbav:"theme"`
	Animation string `json:"animation,omitempty" dynamodbav:"animation"`
	Music     string `json:"music,omitempty" dynamodbav:"music"`
}

// Letter is a sender-owned letter. AccessToken is never serialized to JSON;
// the create response returns it explicitly, once.
type Letter struct {
	ID             string         `json:"id"`
	SenderID       string         `json:"senderId"`
	Title          string         `json:"title"`
	RecipientName  string         `json:"recipientName,omitempty"`
	RecipientEmail string         `json:"recipientEmail,omitempty"`
	Sections       []Section      `json:"sections"`
	Style          Style          `json:"style"`
	SecurityType   challenge.Kind `json:"securityType"`
	AccessToken    string         `json:"-"`
	ETag           string         `json:"etag"`
	CreatedAt      time.Time      `json:"createdAt"`
	UpdatedAt      time.Time      `json:"updatedAt"`
	ViewedAt       *time.Time     `json:"viewedAt,omitempty"`
}

// HasChallenge reports whether the letter is gated.
func (l *Letter) HasChallenge() bool {
	return l.SecurityType == challenge.KindQuiz || l.SecurityType == challenge.KindDate
}
