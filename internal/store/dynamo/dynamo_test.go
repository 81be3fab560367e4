package dynamo

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/jun/sealedletter/core/challenge"
	"github.com/jun/sealedletter/internal/crypto"
	"github.com/jun/sealedletter/internal/model"
	"github.com/jun/sealedletter/internal/store"
	"github.com/jun/sealedletter/internal/token"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingEncryptor records how often the answer is unsealed.
type countingEncryptor struct {
	crypto.MockEncryptor
	decrypts atomic.Int32
}

func (c *countingEncryptor) Decrypt(ctx context.Context, ciphertext string, scope crypto.Scope) (string, error) {
	c.decrypts.Add(1)
	return c.MockEncryptor.Decrypt(ctx, ciphertext, scope)
}

func newLetter(t *testing.T, id string) *model.Letter {
	t.Helper()
	tok, err := token.Generate()
	require.NoError(t, err)
	now := time.Now().UTC()
	return &model.Letter{
		ID:          id,
		SenderID:    "sender-1",
		Title:       "For you",
		Sections:    []model.Section{{Body: "Hello"}},
		AccessToken: tok,
		ETag:        "v1",
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func quizChallenge(t *testing.T) *store.NewChallenge {
	t.Helper()
	q, sec, err := challenge.Config{
		QuestionType:  challenge.Identification,
		Question:      "Our dog's name?",
		CorrectAnswer: "Buddy",
	}.Split(challenge.KindQuiz)
	require.NoError(t, err)
	return &store.NewChallenge{Question: q, Secret: sec}
}

func TestMapStore_CreateAndResolve(t *testing.T) {
	s := NewStore(nil, Tables{}, crypto.NewMockEncryptor())
	ctx := context.Background()
	l := newLetter(t, "l1")

	require.NoError(t, s.CreateLetter(ctx, l, nil))

	id, err := s.LetterIDForToken(ctx, l.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "l1", id)

	got, err := s.GetLetter(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, l.Title, got.Title)
	assert.Equal(t, l.AccessToken, got.AccessToken)

	_, err = s.LetterIDForToken(ctx, strings.Repeat("0", token.Length))
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = s.GetLetter(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestMapStore_TokenCollisionKeepsFirstLetter(t *testing.T) {
	s := NewStore(nil, Tables{}, crypto.NewMockEncryptor())
	ctx := context.Background()

	first := newLetter(t, "l1")
	require.NoError(t, s.CreateLetter(ctx, first, nil))

	second := newLetter(t, "l2")
	second.AccessToken = first.AccessToken
	err := s.CreateLetter(ctx, second, nil)
	assert.ErrorIs(t, err, token.ErrCollision)

	id, err := s.LetterIDForToken(ctx, first.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "l1", id)

	_, err = s.GetLetter(ctx, "l2")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestMapStore_RejectsMalformedToken(t *testing.T) {
	s := NewStore(nil, Tables{}, crypto.NewMockEncryptor())
	l := newLetter(t, "l1")
	l.AccessToken = "short"
	assert.Error(t, s.CreateLetter(context.Background(), l, nil))
}

func TestMapStore_ChallengeReadsAreSeparate(t *testing.T) {
	enc := &countingEncryptor{}
	s := NewStore(nil, Tables{}, enc)
	ctx := context.Background()
	l := newLetter(t, "l1")
	l.SecurityType = challenge.KindQuiz

	require.NoError(t, s.CreateLetter(ctx, l, quizChallenge(t)))

	q, err := s.ChallengeQuestion(ctx, "l1")
	require.NoError(t, err)
	assert.Equal(t, "Our dog's name?", q.Question)
	assert.Equal(t, int32(0), enc.decrypts.Load())

	stored := s.challenges["l1"]
	assert.NotEqual(t, "Buddy", stored.SealedAnswer)

	sec, err := s.ChallengeForValidation(ctx, "l1")
	require.NoError(t, err)
	assert.Equal(t, int32(1), enc.decrypts.Load())
	assert.True(t, challenge.Check(*sec, "buddy"))
	assert.False(t, challenge.Check(*sec, "Rex"))
}

func TestMapStore_UpdateLetter_ReplacesAndClearsChallenge(t *testing.T) {
	s := NewStore(nil, Tables{}, crypto.NewMockEncryptor())
	ctx := context.Background()
	l := newLetter(t, "l1")
	l.SecurityType = challenge.KindQuiz
	require.NoError(t, s.CreateLetter(ctx, l, quizChallenge(t)))

	q, sec, err := challenge.Config{Question: "When did we meet?", CorrectDate: "2023-06-15"}.Split(challenge.KindDate)
	require.NoError(t, err)
	l.SecurityType = challenge.KindDate
	l.ETag = "v2"
	require.NoError(t, s.UpdateLetter(ctx, l, "v1", &store.NewChallenge{Question: q, Secret: sec}))

	got, err := s.ChallengeForValidation(ctx, "l1")
	require.NoError(t, err)
	assert.True(t, challenge.Check(*got, "2023-06-15"))
	assert.False(t, challenge.Check(*got, "Buddy"))

	// Keeping the security type without a new challenge leaves it alone.
	l.Title = "Retitled"
	l.ETag = "v3"
	require.NoError(t, s.UpdateLetter(ctx, l, "v2", nil))
	_, err = s.ChallengeForValidation(ctx, "l1")
	require.NoError(t, err)

	l.SecurityType = challenge.KindNone
	l.ETag = "v4"
	require.NoError(t, s.UpdateLetter(ctx, l, "v3", nil))
	_, err = s.ChallengeForValidation(ctx, "l1")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestMapStore_StaleUpdateWritesNothing(t *testing.T) {
	s := NewStore(nil, Tables{}, crypto.NewMockEncryptor())
	ctx := context.Background()
	l := newLetter(t, "l1")
	l.SecurityType = challenge.KindQuiz
	require.NoError(t, s.CreateLetter(ctx, l, quizChallenge(t)))

	q, sec, err := challenge.Config{Question: "When did we meet?", CorrectDate: "2023-06-15"}.Split(challenge.KindDate)
	require.NoError(t, err)
	changed := *l
	changed.SecurityType = challenge.KindDate
	changed.ETag = "v2"
	err = s.UpdateLetter(ctx, &changed, "stale", &store.NewChallenge{Question: q, Secret: sec})
	assert.ErrorIs(t, err, store.ErrPreconditionFailed)

	got, err := s.GetLetter(ctx, "l1")
	require.NoError(t, err)
	assert.Equal(t, challenge.KindQuiz, got.SecurityType)
	assert.Equal(t, "v1", got.ETag)

	ch, err := s.ChallengeForValidation(ctx, "l1")
	require.NoError(t, err)
	assert.True(t, challenge.Check(*ch, "Buddy"))
}

func TestMapStore_UpdateKeepsViewedAt(t *testing.T) {
	s := NewStore(nil, Tables{}, crypto.NewMockEncryptor())
	ctx := context.Background()
	l := newLetter(t, "l1")
	require.NoError(t, s.CreateLetter(ctx, l, nil))

	// The sender's copy was read before the letter was opened.
	stale := *l
	first, err := s.MarkViewed(ctx, "l1", time.Now())
	require.NoError(t, err)
	require.True(t, first)

	stale.Title = "Changed"
	stale.ETag = "v2"
	require.NoError(t, s.UpdateLetter(ctx, &stale, "v1", nil))

	got, err := s.GetLetter(ctx, "l1")
	require.NoError(t, err)
	assert.Equal(t, "Changed", got.Title)
	assert.NotNil(t, got.ViewedAt)

	again, err := s.MarkViewed(ctx, "l1", time.Now())
	require.NoError(t, err)
	assert.False(t, again)
}

func TestMapStore_ListAndMarkViewed(t *testing.T) {
	s := NewStore(nil, Tables{}, crypto.NewMockEncryptor())
	ctx := context.Background()

	older := newLetter(t, "old")
	older.CreatedAt = older.CreatedAt.Add(-time.Hour)
	require.NoError(t, s.CreateLetter(ctx, older, nil))
	require.NoError(t, s.CreateLetter(ctx, newLetter(t, "new"), nil))
	other := newLetter(t, "other")
	other.SenderID = "sender-2"
	require.NoError(t, s.CreateLetter(ctx, other, nil))

	list, err := s.ListLetters(ctx, "sender-1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "new", list[0].ID)
	assert.Equal(t, "old", list[1].ID)

	first, err := s.MarkViewed(ctx, "new", time.Now())
	require.NoError(t, err)
	assert.True(t, first)
	again, err := s.MarkViewed(ctx, "new", time.Now())
	require.NoError(t, err)
	assert.False(t, again)

	_, err = s.MarkViewed(ctx, "missing", time.Now())
	assert.ErrorIs(t, err, store.ErrNotFound)
}

// fakeDynamo records requests and returns canned responses.
type fakeDynamo struct {
	API
	getInputs   []*dynamodb.GetItemInput
	getItem     map[string]types.AttributeValue
	transactErr error
	transact    *dynamodb.TransactWriteItemsInput
	updateErr   error
}

func (f *fakeDynamo) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.getInputs = append(f.getInputs, in)
	return &dynamodb.GetItemOutput{Item: f.getItem}, nil
}

func (f *fakeDynamo) TransactWriteItems(_ context.Context, in *dynamodb.TransactWriteItemsInput, _ ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error) {
	f.transact = in
	return &dynamodb.TransactWriteItemsOutput{}, f.transactErr
}

func (f *fakeDynamo) UpdateItem(_ context.Context, _ *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	return &dynamodb.UpdateItemOutput{}, f.updateErr
}

func TestDynamoStore_CreateIsOneTransaction(t *testing.T) {
	fake := &fakeDynamo{}
	s := NewStore(fake, Tables{}, crypto.NewMockEncryptor())
	l := newLetter(t, "l1")

	require.NoError(t, s.CreateLetter(context.Background(), l, quizChallenge(t)))
	require.NotNil(t, fake.transact)
	items := fake.transact.TransactItems
	require.Len(t, items, 3)
	assert.Equal(t, DefaultTables.Tokens, aws.ToString(items[0].Put.TableName))
	assert.Equal(t, "attribute_not_exists(#tok)", aws.ToString(items[0].Put.ConditionExpression))
	assert.Equal(t, DefaultTables.Letters, aws.ToString(items[1].Put.TableName))
	assert.Equal(t, DefaultTables.Challenges, aws.ToString(items[2].Put.TableName))

	var ch challengeItem
	require.NoError(t, attributevalue.UnmarshalMap(items[2].Put.Item, &ch))
	assert.Equal(t, "mock:Buddy", ch.SealedAnswer)
}

func TestDynamoStore_CancelledTokenPutIsCollision(t *testing.T) {
	fake := &fakeDynamo{transactErr: &types.TransactionCanceledException{
		CancellationReasons: []types.CancellationReason{
			{Code: aws.String("ConditionalCheckFailed")},
			{Code: aws.String("None")},
		},
	}}
	s := NewStore(fake, Tables{}, crypto.NewMockEncryptor())

	err := s.CreateLetter(context.Background(), newLetter(t, "l1"), nil)
	assert.ErrorIs(t, err, token.ErrCollision)

	fake.transactErr = errors.New("throttled")
	err = s.CreateLetter(context.Background(), newLetter(t, "l2"), nil)
	assert.Error(t, err)
	assert.NotErrorIs(t, err, token.ErrCollision)
}

func TestDynamoStore_QuestionReadProjectsAwayAnswer(t *testing.T) {
	item, err := attributevalue.MarshalMap(challengeItem{
		LetterID: "l1",
		Kind:     string(challenge.KindQuiz),
		Question: "Our dog's name?",
	})
	require.NoError(t, err)

	fake := &fakeDynamo{getItem: item}
	enc := &countingEncryptor{}
	s := NewStore(fake, Tables{}, enc)

	q, err := s.ChallengeQuestion(context.Background(), "l1")
	require.NoError(t, err)
	assert.Equal(t, "Our dog's name?", q.Question)
	assert.Equal(t, int32(0), enc.decrypts.Load())

	require.Len(t, fake.getInputs, 1)
	proj := aws.ToString(fake.getInputs[0].ProjectionExpression)
	assert.NotEmpty(t, proj)
	assert.NotContains(t, proj, "sealed_answer")
}

func TestDynamoStore_MarkViewedConditionFailed(t *testing.T) {
	fake := &fakeDynamo{updateErr: &types.ConditionalCheckFailedException{}}
	s := NewStore(fake, Tables{}, crypto.NewMockEncryptor())

	first, err := s.MarkViewed(context.Background(), "l1", time.Now())
	require.NoError(t, err)
	assert.False(t, first)
}

func TestDynamoStore_UpdateIsOneTransaction(t *testing.T) {
	fake := &fakeDynamo{}
	s := NewStore(fake, Tables{}, crypto.NewMockEncryptor())
	l := newLetter(t, "l1")
	l.SecurityType = challenge.KindQuiz

	require.NoError(t, s.UpdateLetter(context.Background(), l, "v0", quizChallenge(t)))
	require.NotNil(t, fake.transact)
	items := fake.transact.TransactItems
	require.Len(t, items, 2)

	up := items[0].Update
	require.NotNil(t, up)
	assert.Equal(t, DefaultTables.Letters, aws.ToString(up.TableName))
	assert.Contains(t, aws.ToString(up.ConditionExpression), "#etag = :match")
	assert.Equal(t, &types.AttributeValueMemberS{Value: "v0"}, up.ExpressionAttributeValues[":match"])
	for _, name := range up.ExpressionAttributeNames {
		assert.NotContains(t, []string{"viewed_at", "access_token", "created_at", "sender_id"}, name)
	}
	assert.Equal(t, DefaultTables.Challenges, aws.ToString(items[1].Put.TableName))

	// Dropping the challenge deletes it in the same transaction.
	l.SecurityType = challenge.KindNone
	require.NoError(t, s.UpdateLetter(context.Background(), l, "", nil))
	items = fake.transact.TransactItems
	require.Len(t, items, 2)
	assert.Equal(t, "attribute_exists(#id)", aws.ToString(items[0].Update.ConditionExpression))
	require.NotNil(t, items[1].Delete)
	assert.Equal(t, DefaultTables.Challenges, aws.ToString(items[1].Delete.TableName))
}

func TestDynamoStore_CancelledUpdate(t *testing.T) {
	cancelled := &types.TransactionCanceledException{
		CancellationReasons: []types.CancellationReason{
			{Code: aws.String("ConditionalCheckFailed")},
			{Code: aws.String("None")},
		},
	}
	existing, err := attributevalue.MarshalMap(toItem(newLetter(t, "l1")))
	require.NoError(t, err)

	fake := &fakeDynamo{transactErr: cancelled, getItem: existing}
	s := NewStore(fake, Tables{}, crypto.NewMockEncryptor())
	l := newLetter(t, "l1")
	l.SecurityType = challenge.KindQuiz

	err = s.UpdateLetter(context.Background(), l, "stale", quizChallenge(t))
	assert.ErrorIs(t, err, store.ErrPreconditionFailed)

	fake.getItem = nil
	err = s.UpdateLetter(context.Background(), l, "stale", quizChallenge(t))
	assert.ErrorIs(t, err, store.ErrNotFound)

	fake.transactErr = errors.New("throttled")
	err = s.UpdateLetter(context.Background(), l, "v1", nil)
	assert.Error(t, err)
	assert.NotErrorIs(t, err, store.ErrPreconditionFailed)
}
