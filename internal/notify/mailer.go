// Package notify sends the share-link and "letter opened" emails.
package notify

import (
	"context"
	"encoding/base64"
	"fmt"
	"mime"
	"net/http"
	"strings"

	"github.com/jun/sealedletter/internal/logging"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
)

// Message is a plain-text email sent on behalf of a sender.
type Message struct {
	To      string
	Subject string
	Body    string
}

// Mailer delivers a message as senderID.
type Mailer interface {
	Send(ctx context.Context, senderID string, msg Message) error
}

// ClientSource returns an HTTP client authorized as a sender.
type ClientSource interface {
	GetClient(ctx context.Context, userID string) (*http.Client, error)
}

// GmailMailer sends through the Gmail API from the sender's own mailbox.
type GmailMailer struct {
	clients ClientSource
	opts    []option.ClientOption
}

// NewGmailMailer creates a GmailMailer. Extra options are appended to the
// sender's HTTP client option, e.g. option.WithEndpoint in tests.
func NewGmailMailer(clients ClientSource, opts ...option.ClientOption) *GmailMailer {
	return &GmailMailer{clients: clients, opts: opts}
}

func (m *GmailMailer) Send(ctx context.Context, senderID string, msg Message) error {
	client, err := m.clients.GetClient(ctx, senderID)
	if err != nil {
		return fmt.Errorf("failed to get sender client: %w", err)
	}

	opts := append([]option.ClientOption{option.WithHTTPClient(client)}, m.opts...)
	srv, err := gmail.NewService(ctx, opts...)
	if err != nil {
		return fmt.Errorf("failed to create gmail service: %w", err)
	}

	raw := base64.URLEncoding.EncodeToString(RFC822(msg))
	if _, err := srv.Users.Messages.Send("me", &gmail.Message{Raw: raw}).Context(ctx).Do(); err != nil {
		return fmt.Errorf("failed to send gmail message: %w", err)
	}
	return nil
}

// RFC822 renders msg as a minimal UTF-8 plain-text email. Gmail fills in From.
func RFC822(msg Message) []byte {
	var b strings.Builder
	b.WriteString("To: " + msg.To + "\r\n")
	b.WriteString("Subject: " + mime.QEncoding.Encode("utf-8", msg.Subject) + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=\"UTF-8\"\r\n")
	b.WriteString("\r\n")
	b.WriteString(msg.Body)
	return []byte(b.String())
}

// LogMailer only logs what would have been sent.
type LogMailer struct {
	logger logging.Logger
}

func NewLogMailer(logger logging.Logger) *LogMailer {
	return &LogMailer{logger: logger}
}

func (m *LogMailer) Send(ctx context.Context, senderID string, msg Message) error {
	m.logger.Info(ctx, "mail not delivered (log mailer)",
		"sender_id", senderID,
		"to", msg.To,
		"subject", msg.Subject,
	)
	return nil
}

// HybridMailer routes demo senders to a log mailer and everyone else to the
// real one. Demo accounts have no Google refresh token.
type HybridMailer struct {
	primary Mailer
	demo    Mailer
}

func NewHybridMailer(primary, demo Mailer) *HybridMailer {
	return &HybridMailer{primary: primary, demo: demo}
}

// DemoSenderPrefix marks sender IDs issued by demo login.
const DemoSenderPrefix = "demo-user-"

// IsDemoSender reports whether senderID was issued by demo login.
func IsDemoSender(senderID string) bool {
	return strings.HasPrefix(senderID, DemoSenderPrefix)
}

func (m *HybridMailer) Send(ctx context.Context, senderID string, msg Message) error {
	if IsDemoSender(senderID) {
		return m.demo.Send(ctx, senderID, msg)
	}
	return m.primary.Send(ctx, senderID, msg)
}
