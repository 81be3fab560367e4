package dynamo

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/jun/sealedletter/core/challenge"
	lettersync "github.com/jun/sealedletter/core/sync"
	"github.com/jun/sealedletter/internal/crypto"
	"github.com/jun/sealedletter/internal/model"
	"github.com/jun/sealedletter/internal/store"
	"github.com/jun/sealedletter/internal/token"
)

// API is the subset of *dynamodb.Client used by Store.
type API interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	TransactWriteItems(ctx context.Context, params *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

// Tables names the DynamoDB tables and indexes used by Store.
type Tables struct {
	Letters     string
	Tokens      string
	Challenges  string
	SenderIndex string // GSI on Letters keyed by sender_id
}

// DefaultTables are used when no names are configured.
var DefaultTables = Tables{
	Letters:     "Letters",
	Tokens:      "LetterTokens",
	Challenges:  "LetterChallenges",
	SenderIndex: "sender_id-created_at-index",
}

// Store implements store.Store.
// If client is nil, it uses in-memory maps (for tests and demo mode).
// If client is set, it uses DynamoDB.
type Store struct {
	client    API
	tables    Tables
	encryptor crypto.Encryptor

	// Fallback for tests
	letters    map[string]letterItem
	tokens     map[string]string
	challenges map[string]challengeItem
	mu         sync.RWMutex
}

var _ store.Store = (*Store)(nil)

type letterItem struct {
	LetterID       string          `dynamodbav:"letter_id"`
	SenderID       string          `dynamodbav:"sender_id"`
	Title          string          `dynamodbav:"title"`
	RecipientName  string          `dynamodbav:"recipient_name"`
	RecipientEmail string          `dynamodbav:"recipient_email"`
	Sections       []model.Section `dynamodbav:"sections"`
	Style          model.Style     `dynamodbav:"style"`
	SecurityType   string          `dynamodbav:"security_type"`
	AccessToken    string          `dynamodbav:"access_token"`
	ETag           string          `dynamodbav:"etag"`
	CreatedAt      time.Time       `dynamodbav:"created_at"`
	UpdatedAt      time.Time       `dynamodbav:"updated_at"`
	ViewedAt       *time.Time      `dynamodbav:"viewed_at,omitempty"`
}

type tokenItem struct {
	Token     string    `dynamodbav:"token"`
	LetterID  string    `dynamodbav:"letter_id"`
	CreatedAt time.Time `dynamodbav:"created_at"`
}

type challengeItem struct {
	LetterID     string   `dynamodbav:"letter_id"`
	Kind         string   `dynamodbav:"kind"`
	QuestionType string   `dynamodbav:"question_type"`
	Question     string   `dynamodbav:"question"`
	Options      []string `dynamodbav:"options"`
	SealedAnswer string   `dynamodbav:"sealed_answer"`
}

// NewStore creates a Store. Zero-valued table names fall back to DefaultTables.
func NewStore(client API, tables Tables, encryptor crypto.Encryptor) *Store {
	if tables.Letters == "" {
		tables.Letters = DefaultTables.Letters
	}
	if tables.Tokens == "" {
		tables.Tokens = DefaultTables.Tokens
	}
	if tables.Challenges == "" {
		tables.Challenges = DefaultTables.Challenges
	}
	if tables.SenderIndex == "" {
		tables.SenderIndex = DefaultTables.SenderIndex
	}
	return &Store{
		client:     client,
		tables:     tables,
		encryptor:  encryptor,
		letters:    make(map[string]letterItem),
		tokens:     make(map[string]string),
		challenges: make(map[string]challengeItem),
	}
}

func toItem(l *model.Letter) letterItem {
	return letterItem{
		LetterID:       l.ID,
		SenderID:       l.SenderID,
		Title:          l.Title,
		RecipientName:  l.RecipientName,
		RecipientEmail: l.RecipientEmail,
		Sections:       l.Sections,
		Style:          l.Style,
		SecurityType:   string(l.SecurityType),
		AccessToken:    l.AccessToken,
		ETag:           l.ETag,
		CreatedAt:      l.CreatedAt,
		UpdatedAt:      l.UpdatedAt,
		ViewedAt:       l.ViewedAt,
	}
}

func (it letterItem) toLetter() *model.Letter {
	return &model.Letter{
		ID:             it.LetterID,
		SenderID:       it.SenderID,
		Title:          it.Title,
		RecipientName:  it.RecipientName,
		RecipientEmail: it.RecipientEmail,
		Sections:       it.Sections,
		Style:          it.Style,
		SecurityType:   challenge.Kind(it.SecurityType),
		AccessToken:    it.AccessToken,
		ETag:           it.ETag,
		CreatedAt:      it.CreatedAt,
		UpdatedAt:      it.UpdatedAt,
		ViewedAt:       it.ViewedAt,
	}
}

// sealChallenge encrypts the answer so the plaintext never reaches the table.
func (s *Store) sealChallenge(ctx context.Context, letterID string, q challenge.Question, sec challenge.Secret) (challengeItem, error) {
	sealed, err := s.encryptor.Encrypt(ctx, sec.Reveal(), crypto.LetterScope(letterID))
	if err != nil {
		return challengeItem{}, fmt.Errorf("failed to seal challenge answer: %w", err)
	}
	return challengeItem{
		LetterID:     letterID,
		Kind:         string(q.Kind),
		QuestionType: string(q.QuestionType),
		Question:     q.Question,
		Options:      q.Options,
		SealedAnswer: sealed,
	}, nil
}

func (s *Store) CreateLetter(ctx context.Context, l *model.Letter, ch *store.NewChallenge) error {
	if !token.Valid(l.AccessToken) {
		return fmt.Errorf("refusing to store letter %s with malformed access token", l.ID)
	}

	var chItem *challengeItem
	if ch != nil {
		it, err := s.sealChallenge(ctx, l.ID, ch.Question, ch.Secret)
		if err != nil {
			return err
		}
		chItem = &it
	}

	if s.client == nil {
		return s.createLetterMap(l, chItem)
	}

	letterAV, err := attributevalue.MarshalMap(toItem(l))
	if err != nil {
		return fmt.Errorf("failed to marshal letter: %w", err)
	}
	tokenAV, err := attributevalue.MarshalMap(tokenItem{Token: l.AccessToken, LetterID: l.ID, CreatedAt: l.CreatedAt})
	if err != nil {
		return fmt.Errorf("failed to marshal token: %w", err)
	}

	// The token put comes first so a cancellation reason at index 0 means collision.
	items := []types.TransactWriteItem{
		{Put: &types.Put{
			TableName:                aws.String(s.tables.Tokens),
			Item:                     tokenAV,
			ConditionExpression:      aws.String("attribute_not_exists(#tok)"),
			ExpressionAttributeNames: map[string]string{"#tok": "token"},
		}},
		{Put: &types.Put{
			TableName:           aws.String(s.tables.Letters),
			Item:                letterAV,
			ConditionExpression: aws.String("attribute_not_exists(letter_id)"),
		}},
	}
	if chItem != nil {
		chAV, err := attributevalue.MarshalMap(chItem)
		if err != nil {
			return fmt.Errorf("failed to marshal challenge: %w", err)
		}
		items = append(items, types.TransactWriteItem{Put: &types.Put{
			TableName: aws.String(s.tables.Challenges),
			Item:      chAV,
		}})
	}

	_, err = s.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: items})
	if err != nil {
		var tce *types.TransactionCanceledException
		if errors.As(err, &tce) && len(tce.CancellationReasons) > 0 &&
			aws.ToString(tce.CancellationReasons[0].Code) == "ConditionalCheckFailed" {
			return token.ErrCollision
		}
		return fmt.Errorf("failed to create letter: %w", err)
	}
	return nil
}

func (s *Store) createLetterMap(l *model.Letter, ch *challengeItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, taken := s.tokens[l.AccessToken]; taken {
		return token.ErrCollision
	}
	if _, exists := s.letters[l.ID]; exists {
		return fmt.Errorf("letter %s already exists", l.ID)
	}
	s.letters[l.ID] = toItem(l)
	s.tokens[l.AccessToken] = l.ID
	if ch != nil {
		s.challenges[l.ID] = *ch
	}
	return nil
}

func (s *Store) GetLetter(ctx context.Context, letterID string) (*model.Letter, error) {
	if s.client == nil {
		s.mu.RLock()
		defer s.mu.RUnlock()
		it, ok := s.letters[letterID]
		if !ok {
			return nil, store.ErrNotFound
		}
		return it.toLetter(), nil
	}

	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tables.Letters),
		Key: map[string]types.AttributeValue{
			"letter_id": &types.AttributeValueMemberS{Value: letterID},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get letter from DynamoDB: %w", err)
	}
	if out.Item == nil {
		return nil, store.ErrNotFound
	}

	var it letterItem
	if err := attributevalue.UnmarshalMap(out.Item, &it); err != nil {
		return nil, fmt.Errorf("failed to unmarshal letter: %w", err)
	}
	return it.toLetter(), nil
}

func (s *Store) LetterIDForToken(ctx context.Context, tok string) (string, error) {
	if s.client == nil {
		s.mu.RLock()
		defer s.mu.RUnlock()
		id, ok := s.tokens[tok]
		if !ok {
			return "", store.ErrNotFound
		}
		return id, nil
	}

	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tables.Tokens),
		Key: map[string]types.AttributeValue{
			"token": &types.AttributeValueMemberS{Value: tok},
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to look up token: %w", err)
	}
	if out.Item == nil {
		return "", store.ErrNotFound
	}

	var it tokenItem
	if err := attributevalue.UnmarshalMap(out.Item, &it); err != nil {
		return "", fmt.Errorf("failed to unmarshal token: %w", err)
	}
	return it.LetterID, nil
}

func (s *Store) ListLetters(ctx context.Context, senderID string) ([]model.Letter, error) {
	var items []letterItem

	if s.client == nil {
		s.mu.RLock()
		for _, it := range s.letters {
			if it.SenderID == senderID {
				items = append(items, it)
			}
		}
		s.mu.RUnlock()
	} else {
		var startKey map[string]types.AttributeValue
		for {
			out, err := s.client.Query(ctx, &dynamodb.QueryInput{
				TableName:              aws.String(s.tables.Letters),
				IndexName:              aws.String(s.tables.SenderIndex),
				KeyConditionExpression: aws.String("sender_id = :sid"),
				ExpressionAttributeValues: map[string]types.AttributeValue{
					":sid": &types.AttributeValueMemberS{Value: senderID},
				},
				ExclusiveStartKey: startKey,
			})
			if err != nil {
				return nil, fmt.Errorf("failed to query letters: %w", err)
			}
			var page []letterItem
			if err := attributevalue.UnmarshalListOfMaps(out.Items, &page); err != nil {
				return nil, fmt.Errorf("failed to unmarshal letters: %w", err)
			}
			items = append(items, page...)
			if len(out.LastEvaluatedKey) == 0 {
				break
			}
			startKey = out.LastEvaluatedKey
		}
	}

	sort.Slice(items, func(i, j int) bool { return items[i].CreatedAt.After(items[j].CreatedAt) })

	letters := make([]model.Letter, 0, len(items))
	for _, it := range items {
		letters = append(letters, *it.toLetter())
	}
	return letters, nil
}

func (s *Store) UpdateLetter(ctx context.Context, l *model.Letter, ifMatch string, ch *store.NewChallenge) error {
	var chItem *challengeItem
	if ch != nil {
		it, err := s.sealChallenge(ctx, l.ID, ch.Question, ch.Secret)
		if err != nil {
			return err
		}
		chItem = &it
	}

	if s.client == nil {
		return s.updateLetterMap(l, ifMatch, chItem)
	}

	update, err := s.letterUpdate(l, ifMatch)
	if err != nil {
		return err
	}
	items := []types.TransactWriteItem{{Update: update}}

	switch {
	case chItem != nil:
		chAV, err := attributevalue.MarshalMap(chItem)
		if err != nil {
			return fmt.Errorf("failed to marshal challenge: %w", err)
		}
		items = append(items, types.TransactWriteItem{Put: &types.Put{
			TableName: aws.String(s.tables.Challenges),
			Item:      chAV,
		}})
	case !l.HasChallenge():
		items = append(items, types.TransactWriteItem{Delete: &types.Delete{
			TableName: aws.String(s.tables.Challenges),
			Key: map[string]types.AttributeValue{
				"letter_id": &types.AttributeValueMemberS{Value: l.ID},
			},
		}})
	}

	_, err = s.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: items})
	if err != nil {
		var tce *types.TransactionCanceledException
		if errors.As(err, &tce) && len(tce.CancellationReasons) > 0 &&
			aws.ToString(tce.CancellationReasons[0].Code) == "ConditionalCheckFailed" {
			// The letter is gone or its ETag moved on.
			if _, gerr := s.GetLetter(ctx, l.ID); errors.Is(gerr, store.ErrNotFound) {
				return store.ErrNotFound
			}
			return store.ErrPreconditionFailed
		}
		return fmt.Errorf("failed to update letter: %w", err)
	}
	return nil
}

// letterUpdate sets only the sender-editable attributes so a concurrent
// MarkViewed is never overwritten.
func (s *Store) letterUpdate(l *model.Letter, ifMatch string) (*types.Update, error) {
	fields := []struct {
		name  string
		value any
	}{
		{"title", l.Title},
		{"recipient_name", l.RecipientName},
		{"recipient_email", l.RecipientEmail},
		{"sections", l.Sections},
		{"style", l.Style},
		{"security_type", string(l.SecurityType)},
		{"etag", l.ETag},
		{"updated_at", l.UpdatedAt},
	}

	names := map[string]string{"#id": "letter_id"}
	values := make(map[string]types.AttributeValue, len(fields)+1)
	set := make([]string, 0, len(fields))
	for i, f := range fields {
		av, err := attributevalue.Marshal(f.value)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal %s: %w", f.name, err)
		}
		n, v := fmt.Sprintf("#f%d", i), fmt.Sprintf(":f%d", i)
		names[n] = f.name
		values[v] = av
		set = append(set, n+" = "+v)
	}

	cond := "attribute_exists(#id)"
	if ifMatch != "" && ifMatch != "*" {
		names["#etag"] = "etag"
		values[":match"] = &types.AttributeValueMemberS{Value: ifMatch}
		cond += " AND #etag = :match"
	}

	return &types.Update{
		TableName: aws.String(s.tables.Letters),
		Key: map[string]types.AttributeValue{
			"letter_id": &types.AttributeValueMemberS{Value: l.ID},
		},
		UpdateExpression:          aws.String("SET " + strings.Join(set, ", ")),
		ConditionExpression:       aws.String(cond),
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
	}, nil
}

func (s *Store) updateLetterMap(l *model.Letter, ifMatch string, ch *challengeItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.letters[l.ID]
	if !ok {
		return store.ErrNotFound
	}
	if !lettersync.IfMatch(ifMatch, existing.ETag) {
		return store.ErrPreconditionFailed
	}

	it := toItem(l)
	it.SenderID = existing.SenderID
	it.AccessToken = existing.AccessToken
	it.CreatedAt = existing.CreatedAt
	it.ViewedAt = existing.ViewedAt
	s.letters[l.ID] = it

	switch {
	case ch != nil:
		s.challenges[l.ID] = *ch
	case !l.HasChallenge():
		delete(s.challenges, l.ID)
	}
	return nil
}

func (s *Store) MarkViewed(ctx context.Context, letterID string, at time.Time) (bool, error) {
	if s.client == nil {
		s.mu.Lock()
		defer s.mu.Unlock()
		it, ok := s.letters[letterID]
		if !ok {
			return false, store.ErrNotFound
		}
		if it.ViewedAt != nil {
			return false, nil
		}
		t := at
		it.ViewedAt = &t
		s.letters[letterID] = it
		return true, nil
	}

	viewed, err := attributevalue.Marshal(at)
	if err != nil {
		return false, fmt.Errorf("failed to marshal view time: %w", err)
	}

	_, err = s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(s.tables.Letters),
		Key: map[string]types.AttributeValue{
			"letter_id": &types.AttributeValueMemberS{Value: letterID},
		},
		UpdateExpression:    aws.String("SET viewed_at = :now"),
		ConditionExpression: aws.String("attribute_exists(letter_id) AND attribute_not_exists(viewed_at)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":now": viewed,
		},
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return false, nil
		}
		return false, fmt.Errorf("failed to mark letter viewed: %w", err)
	}
	return true, nil
}
