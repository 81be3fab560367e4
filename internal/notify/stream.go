package notify

import (
	"context"

	"github.com/aws/aws-lambda-go/events"
)

// HandleStream sends the emails for a batch of Letters table stream records:
// the share link for a new letter and the sender's notice when viewed_at is
// first set. The stream must carry NEW_AND_OLD_IMAGES.
//
// Failed sends are logged and skipped, so a bad address never replays the
// batch and nobody is mailed twice.
func (n *Notifier) HandleStream(ctx context.Context, ev events.DynamoDBEvent) error {
	for _, rec := range ev.Records {
		img := rec.Change.NewImage
		letterID := stringAttr(img, "letter_id")

		var (
			job string
			err error
		)
		switch events.DynamoDBOperationType(rec.EventName) {
		case events.DynamoDBOperationTypeInsert:
			to := stringAttr(img, "recipient_email")
			if to == "" {
				continue
			}
			job = "share_link"
			err = n.withTimeout(ctx, func(ctx context.Context) error {
				return n.sendShareLink(ctx, letterID, stringAttr(img, "sender_id"),
					stringAttr(img, "recipient_name"), stringAttr(img, "title"), to, stringAttr(img, "access_token"))
			})
		case events.DynamoDBOperationTypeModify:
			if stringAttr(rec.Change.OldImage, "viewed_at") != "" || stringAttr(img, "viewed_at") == "" {
				continue
			}
			job = "viewed"
			err = n.withTimeout(ctx, func(ctx context.Context) error {
				return n.sendViewed(ctx, stringAttr(img, "sender_id"), stringAttr(img, "recipient_name"), stringAttr(img, "title"))
			})
		default:
			continue
		}

		if err != nil {
			n.logger.Warn(ctx, "notification failed", "job", job, "letter_id", letterID, "error", err)
		}
	}
	return nil
}

func (n *Notifier) withTimeout(ctx context.Context, job func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()
	return job(ctx)
}

func stringAttr(img map[string]events.DynamoDBAttributeValue, name string) string {
	v, ok := img[name]
	if !ok || v.DataType() != events.DataTypeString {
		return ""
	}
	return v.String()
}
