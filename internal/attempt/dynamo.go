package attempt

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/jun/sealedletter/internal/model"
)

const (
	DefaultMaxFailures = 10
	DefaultWindow      = 15 * time.Minute
)

// API is the subset of *dynamodb.Client used by DynamoLimiter.
type API interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// DynamoLimiter keeps one fixed window per letter in DynamoDB. Windows carry
// expires_at so the table's TTL removes them.
type DynamoLimiter struct {
	client      API
	tableName   string
	maxFailures int
	window      time.Duration
	now         func() time.Time
}

// NewDynamoLimiter creates a DynamoLimiter. maxFailures <= 0 disables limiting.
func NewDynamoLimiter(client API, tableName string, maxFailures int, window time.Duration) *DynamoLimiter {
	if window <= 0 {
		window = DefaultWindow
	}
	return &DynamoLimiter{
		client:      client,
		tableName:   tableName,
		maxFailures: maxFailures,
		window:      window,
		now:         time.Now,
	}
}

func (l *DynamoLimiter) key(letterID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"attempt_key": &types.AttributeValueMemberS{Value: "letter#" + letterID},
	}
}

var (
	errNoWindow   = errors.New("no live attempt window")
	errWindowLive = errors.New("attempt window already open")
)

func (l *DynamoLimiter) Reserve(ctx context.Context, letterID string) (int, error) {
	if l.maxFailures <= 0 {
		return 0, nil
	}
	now := l.now().Unix()

	// A window opened or reset between the two steps makes the condition
	// fail; the second round sees the new state.
	for range 2 {
		n, err := l.count(ctx, letterID, now)
		if !errors.Is(err, errNoWindow) {
			return n, err
		}
		n, err = l.open(ctx, letterID, now)
		if !errors.Is(err, errWindowLive) {
			return n, err
		}
	}
	return 0, fmt.Errorf("attempt window for letter %s is contended", letterID)
}

// count adds one attempt to the live window if it has room.
func (l *DynamoLimiter) count(ctx context.Context, letterID string, now int64) (int, error) {
	out, err := l.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(l.tableName),
		Key:                 l.key(letterID),
		UpdateExpression:    aws.String("ADD attempts :one"),
		ConditionExpression: aws.String("attribute_exists(attempt_key) AND expires_at > :now AND attempts < :max"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":one": &types.AttributeValueMemberN{Value: "1"},
			":now": &types.AttributeValueMemberN{Value: strconv.FormatInt(now, 10)},
			":max": &types.AttributeValueMemberN{Value: strconv.Itoa(l.maxFailures)},
		},
		ReturnValues:                        types.ReturnValueAllNew,
		ReturnValuesOnConditionCheckFailure: types.ReturnValuesOnConditionCheckFailureAllOld,
	})
	if err == nil {
		var w model.AttemptWindow
		if err := attributevalue.UnmarshalMap(out.Attributes, &w); err != nil {
			return 0, fmt.Errorf("failed to unmarshal attempt window: %w", err)
		}
		return w.Attempts, nil
	}

	var ccf *types.ConditionalCheckFailedException
	if !errors.As(err, &ccf) {
		return 0, fmt.Errorf("failed to count unlock attempt: %w", err)
	}
	if len(ccf.Item) == 0 {
		return 0, errNoWindow
	}

	var w model.AttemptWindow
	if err := attributevalue.UnmarshalMap(ccf.Item, &w); err != nil {
		return 0, fmt.Errorf("failed to unmarshal attempt window: %w", err)
	}
	// TTL deletion is lazy, so expired windows may still be returned.
	if w.ExpiresAt <= now {
		return 0, errNoWindow
	}
	return w.Attempts, ErrTooManyAttempts
}

// open starts a window holding this attempt, unless another request has
// just opened one.
func (l *DynamoLimiter) open(ctx context.Context, letterID string, now int64) (int, error) {
	item, err := attributevalue.MarshalMap(model.AttemptWindow{
		Key:       "letter#" + letterID,
		Attempts:  1,
		ExpiresAt: now + int64(l.window.Seconds()),
	})
	if err != nil {
		return 0, fmt.Errorf("failed to marshal attempt window: %w", err)
	}

	_, err = l.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(l.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(attempt_key) OR expires_at <= :now"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":now": &types.AttributeValueMemberN{Value: strconv.FormatInt(now, 10)},
		},
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return 0, errWindowLive
		}
		return 0, fmt.Errorf("failed to open attempt window: %w", err)
	}
	return 1, nil
}

func (l *DynamoLimiter) Reset(ctx context.Context, letterID string) error {
	if l.maxFailures <= 0 {
		return nil
	}
	_, err := l.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(l.tableName),
		Key:       l.key(letterID),
	})
	if err != nil {
		return fmt.Errorf("failed to reset attempt window: %w", err)
	}
	return nil
}
