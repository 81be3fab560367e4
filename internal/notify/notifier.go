package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jun/sealedletter/internal/logging"
	"github.com/jun/sealedletter/internal/model"
	"github.com/jun/sealedletter/internal/token"
)

const DefaultJobTimeout = 10 * time.Second

// Delivery selects which process sends the notification emails.
type Delivery string

const (
	// DeliverInline sends from background jobs of the process serving the
	// request.
	DeliverInline Delivery = "inline"
	// DeliverStream leaves sending to HandleStream, fed by the Letters table
	// stream. The serving process only records views.
	DeliverStream Delivery = "stream"
)

// ParseDelivery validates a delivery mode name.
func ParseDelivery(s string) (Delivery, error) {
	switch d := Delivery(s); d {
	case DeliverInline, DeliverStream:
		return d, nil
	}
	return "", fmt.Errorf("unknown notification delivery %q", s)
}

// AccountSource looks up a sender's profile.
type AccountSource interface {
	GetAccount(ctx context.Context, userID string) (*model.SenderAccount, error)
}

// ViewMarker records the first time a letter is opened.
type ViewMarker interface {
	MarkViewed(ctx context.Context, letterID string, at time.Time) (bool, error)
}

// Notifier runs email jobs in the background. Jobs are detached from the
// request context and never report errors to the caller.
type Notifier struct {
	mailer      Mailer
	accounts    AccountSource
	views       ViewMarker
	logger      logging.Logger
	frontendURL string
	timeout     time.Duration
	delivery    Delivery
	now         func() time.Time

	wg sync.WaitGroup
}

func NewNotifier(mailer Mailer, accounts AccountSource, views ViewMarker, logger logging.Logger, frontendURL string) *Notifier {
	return &Notifier{
		mailer:      mailer,
		accounts:    accounts,
		views:       views,
		logger:      logger,
		frontendURL: frontendURL,
		timeout:     DefaultJobTimeout,
		delivery:    DeliverInline,
		now:         time.Now,
	}
}

func (n *Notifier) run(ctx context.Context, name string, job func(context.Context) error) {
	ctx = context.WithoutCancel(ctx)
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		ctx, cancel := context.WithTimeout(ctx, n.timeout)
		defer cancel()
		if err := job(ctx); err != nil {
			n.logger.Warn(ctx, "notification failed", "job", name, "error", err)
		}
	}()
}

// SetDelivery switches where emails are sent from. Call it before the
// first event.
func (n *Notifier) SetDelivery(d Delivery) {
	n.delivery = d
}

// Wait blocks until all started jobs have finished. With inline delivery this
// includes the Gmail sends.
func (n *Notifier) Wait() {
	n.wg.Wait()
}

// ShareLink mails the share link to the letter's recipient, if one was given.
func (n *Notifier) ShareLink(ctx context.Context, l *model.Letter, tok string) {
	if l.RecipientEmail == "" || n.delivery == DeliverStream {
		return
	}
	letterID, senderID, recipient, title := l.ID, l.SenderID, l.RecipientName, l.Title
	to := l.RecipientEmail

	n.run(ctx, "share_link", func(ctx context.Context) error {
		return n.sendShareLink(ctx, letterID, senderID, recipient, title, to, tok)
	})
}

// Viewed records the first open of a letter and tells the sender about it.
// Later opens are ignored.
func (n *Notifier) Viewed(ctx context.Context, l *model.Letter) {
	if l.ViewedAt != nil {
		return
	}
	letterID, senderID, title, recipient := l.ID, l.SenderID, l.Title, l.RecipientName

	n.run(ctx, "viewed", func(ctx context.Context) error {
		first, err := n.views.MarkViewed(ctx, letterID, n.now().UTC())
		if err != nil {
			return fmt.Errorf("mark viewed: %w", err)
		}
		if !first || n.delivery == DeliverStream {
			return nil
		}
		return n.sendViewed(ctx, senderID, recipient, title)
	})
}

func (n *Notifier) sendShareLink(ctx context.Context, letterID, senderID, recipient, title, to, tok string) error {
	from := "Someone"
	if a, err := n.accounts.GetAccount(ctx, senderID); err == nil && a.Name != "" {
		from = a.Name
	}
	greeting := "Hi"
	if recipient != "" {
		greeting = "Hi " + recipient
	}

	msg := Message{
		To:      to,
		Subject: fmt.Sprintf("%s sent you a letter", from),
		Body: fmt.Sprintf("%s,\r\n\r\n%s wrote you a letter: %q.\r\n\r\nOpen it here:\r\n%s\r\n",
			greeting, from, title, token.ShareURL(n.frontendURL, tok)),
	}
	if err := n.mailer.Send(ctx, senderID, msg); err != nil {
		return err
	}
	n.logger.Info(ctx, "share link sent", "letter_id", letterID, "token", token.Short(tok))
	return nil
}

func (n *Notifier) sendViewed(ctx context.Context, senderID, recipient, title string) error {
	account, err := n.accounts.GetAccount(ctx, senderID)
	if err != nil {
		return fmt.Errorf("get sender account: %w", err)
	}
	if account.Email == "" {
		return nil
	}

	who := "Your recipient"
	if recipient != "" {
		who = recipient
	}
	msg := Message{
		To:      account.Email,
		Subject: fmt.Sprintf("%s opened your letter", who),
		Body:    fmt.Sprintf("%s just opened %q.\r\n", who, title),
	}
	return n.mailer.Send(ctx, senderID, msg)
}
