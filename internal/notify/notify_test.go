package notify

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/jun/sealedletter/internal/logging"
	"github.com/jun/sealedletter/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

type sentMail struct {
	senderID string
	msg      Message
}

type fakeMailer struct {
	mu   sync.Mutex
	sent []sentMail
	err  error
}

func (f *fakeMailer) Send(_ context.Context, senderID string, msg Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentMail{senderID, msg})
	return f.err
}

type fakeAccounts map[string]model.SenderAccount

func (f fakeAccounts) GetAccount(_ context.Context, userID string) (*model.SenderAccount, error) {
	a, ok := f[userID]
	if !ok {
		return nil, errors.New("not found")
	}
	return &a, nil
}

type fakeViews struct {
	mu     sync.Mutex
	viewed map[string]bool
}

func (f *fakeViews) MarkViewed(_ context.Context, letterID string, _ time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.viewed[letterID] {
		return false, nil
	}
	f.viewed[letterID] = true
	return true, nil
}

var accounts = fakeAccounts{"sender-1": {UserID: "sender-1", Email: "sam@example.com", Name: "Sam"}}

const tok = "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"

func TestNotifier_ShareLink(t *testing.T) {
	mailer := &fakeMailer{}
	n := NewNotifier(mailer, accounts, &fakeViews{viewed: map[string]bool{}}, logging.Discard(), "https://letters.example.com")

	ctx, cancel := context.WithCancel(context.Background())
	n.ShareLink(ctx, &model.Letter{ID: "l1", SenderID: "sender-1", Title: "Happy birthday", RecipientName: "Alex", RecipientEmail: "alex@example.com"}, tok)
	cancel() // the job must survive the request ending
	n.Wait()

	require.Len(t, mailer.sent, 1)
	got := mailer.sent[0]
	assert.Equal(t, "sender-1", got.senderID)
	assert.Equal(t, "alex@example.com", got.msg.To)
	assert.Equal(t, "Sam sent you a letter", got.msg.Subject)
	assert.Contains(t, got.msg.Body, "Hi Alex")
	assert.Contains(t, got.msg.Body, "https://letters.example.com/letter/"+tok)
}

func TestNotifier_ShareLinkWithoutRecipientEmail(t *testing.T) {
	mailer := &fakeMailer{}
	n := NewNotifier(mailer, accounts, &fakeViews{viewed: map[string]bool{}}, logging.Discard(), "")

	n.ShareLink(context.Background(), &model.Letter{ID: "l1", SenderID: "sender-1"}, tok)
	n.Wait()
	assert.Empty(t, mailer.sent)
}

func TestNotifier_ViewedOnlyOnce(t *testing.T) {
	mailer := &fakeMailer{}
	views := &fakeViews{viewed: map[string]bool{}}
	n := NewNotifier(mailer, accounts, views, logging.Discard(), "")
	l := &model.Letter{ID: "l1", SenderID: "sender-1", Title: "Hello", RecipientName: "Alex"}

	n.Viewed(context.Background(), l)
	n.Wait()
	n.Viewed(context.Background(), l)
	n.Wait()

	require.Len(t, mailer.sent, 1)
	assert.Equal(t, "sam@example.com", mailer.sent[0].msg.To)
	assert.Equal(t, "Alex opened your letter", mailer.sent[0].msg.Subject)

	now := time.Now()
	n.Viewed(context.Background(), &model.Letter{ID: "l2", SenderID: "sender-1", ViewedAt: &now})
	n.Wait()
	assert.False(t, views.viewed["l2"])
}

func TestNotifier_FailuresAreSwallowed(t *testing.T) {
	mailer := &fakeMailer{err: errors.New("smtp down")}
	n := NewNotifier(mailer, accounts, &fakeViews{viewed: map[string]bool{}}, logging.Discard(), "")

	n.ShareLink(context.Background(), &model.Letter{ID: "l1", SenderID: "unknown", RecipientEmail: "a@example.com"}, tok)
	n.Wait()

	require.Len(t, mailer.sent, 1)
	assert.Equal(t, "Someone sent you a letter", mailer.sent[0].msg.Subject)
}

func TestHybridMailer(t *testing.T) {
	primary, demo := &fakeMailer{}, &fakeMailer{}
	m := NewHybridMailer(primary, demo)
	ctx := context.Background()

	require.NoError(t, m.Send(ctx, "demo-user-42", Message{To: "x@example.com"}))
	require.NoError(t, m.Send(ctx, "1234567890", Message{To: "y@example.com"}))

	assert.Len(t, demo.sent, 1)
	assert.Len(t, primary.sent, 1)
	assert.Equal(t, "y@example.com", primary.sent[0].msg.To)
}

func TestRFC822(t *testing.T) {
	raw := string(RFC822(Message{To: "alex@example.com", Subject: "Für dich", Body: "Hallo"}))
	assert.True(t, strings.HasPrefix(raw, "To: alex@example.com\r\n"))
	assert.Contains(t, raw, "Subject: =?utf-8?q?")
	assert.True(t, strings.HasSuffix(raw, "\r\n\r\nHallo"))
}

type staticClients struct{ client *http.Client }

func (s staticClients) GetClient(context.Context, string) (*http.Client, error) {
	return s.client, nil
}

func TestGmailMailer_Send(t *testing.T) {
	var gotPath, gotRaw string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		var body struct {
			Raw string `json:"raw"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		gotRaw = body.Raw
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"msg-1"}`))
	}))
	defer srv.Close()

	m := NewGmailMailer(staticClients{srv.Client()}, option.WithEndpoint(srv.URL+"/"))
	err := m.Send(context.Background(), "sender-1", Message{To: "alex@example.com", Subject: "Hi", Body: "Open me"})
	require.NoError(t, err)

	assert.Equal(t, "/gmail/v1/users/me/messages/send", gotPath)
	decoded, err := base64.URLEncoding.DecodeString(gotRaw)
	require.NoError(t, err)
	assert.Contains(t, string(decoded), "To: alex@example.com")
	assert.Contains(t, string(decoded), "Open me")
}

func letterImage(attrs map[string]string) map[string]events.DynamoDBAttributeValue {
	img := make(map[string]events.DynamoDBAttributeValue, len(attrs))
	for k, v := range attrs {
		img[k] = events.NewStringAttribute(v)
	}
	return img
}

func TestNotifier_StreamDeliveryOnlyMarksViews(t *testing.T) {
	mailer := &fakeMailer{}
	views := &fakeViews{viewed: map[string]bool{}}
	n := NewNotifier(mailer, accounts, views, logging.Discard(), "")
	n.SetDelivery(DeliverStream)

	l := &model.Letter{ID: "l1", SenderID: "sender-1", Title: "Hello", RecipientEmail: "alex@example.com"}
	n.ShareLink(context.Background(), l, tok)
	n.Viewed(context.Background(), l)
	n.Wait()

	assert.Empty(t, mailer.sent)
	assert.True(t, views.viewed["l1"])
}

func TestNotifier_HandleStream(t *testing.T) {
	mailer := &fakeMailer{}
	n := NewNotifier(mailer, accounts, &fakeViews{viewed: map[string]bool{}}, logging.Discard(), "https://letters.example.com")

	base := map[string]string{
		"letter_id":       "l1",
		"sender_id":       "sender-1",
		"title":           "Hello",
		"recipient_name":  "Alex",
		"recipient_email": "alex@example.com",
		"access_token":    tok,
	}
	viewed := map[string]string{"viewed_at": "2026-10-14T09:00:00Z"}
	for k, v := range base {
		viewed[k] = v
	}
	noEmail := map[string]string{"letter_id": "l2", "sender_id": "sender-1"}

	ev := events.DynamoDBEvent{Records: []events.DynamoDBEventRecord{
		{EventName: "INSERT", Change: events.DynamoDBStreamRecord{NewImage: letterImage(base)}},
		{EventName: "INSERT", Change: events.DynamoDBStreamRecord{NewImage: letterImage(noEmail)}},
		// A sender edit of an unopened letter.
		{EventName: "MODIFY", Change: events.DynamoDBStreamRecord{OldImage: letterImage(base), NewImage: letterImage(base)}},
		{EventName: "MODIFY", Change: events.DynamoDBStreamRecord{OldImage: letterImage(base), NewImage: letterImage(viewed)}},
		// A sender edit after the first open.
		{EventName: "MODIFY", Change: events.DynamoDBStreamRecord{OldImage: letterImage(viewed), NewImage: letterImage(viewed)}},
		{EventName: "REMOVE", Change: events.DynamoDBStreamRecord{OldImage: letterImage(viewed)}},
	}}

	require.NoError(t, n.HandleStream(context.Background(), ev))
	require.Len(t, mailer.sent, 2)
	assert.Equal(t, "alex@example.com", mailer.sent[0].msg.To)
	assert.Contains(t, mailer.sent[0].msg.Body, "https://letters.example.com/letter/"+tok)
	assert.Equal(t, "sam@example.com", mailer.sent[1].msg.To)
	assert.Equal(t, "Alex opened your letter", mailer.sent[1].msg.Subject)
}

func TestNotifier_HandleStreamSkipsFailures(t *testing.T) {
	mailer := &fakeMailer{err: errors.New("gmail down")}
	n := NewNotifier(mailer, accounts, &fakeViews{viewed: map[string]bool{}}, logging.Discard(), "")

	rec := events.DynamoDBEventRecord{EventName: "INSERT", Change: events.DynamoDBStreamRecord{
		NewImage: letterImage(map[string]string{"letter_id": "l1", "sender_id": "sender-1", "recipient_email": "a@example.com", "access_token": tok}),
	}}
	err := n.HandleStream(context.Background(), events.DynamoDBEvent{Records: []events.DynamoDBEventRecord{rec, rec}})
	require.NoError(t, err)
	assert.Len(t, mailer.sent, 2)
}

func TestParseDelivery(t *testing.T) {
	d, err := ParseDelivery("stream")
	require.NoError(t, err)
	assert.Equal(t, DeliverStream, d)

	_, err = ParseDelivery("carrier-pigeon")
	assert.Error(t, err)
}
