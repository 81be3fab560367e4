package dynamo

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/jun/sealedletter/core/challenge"
	"github.com/jun/sealedletter/internal/crypto"
	"github.com/jun/sealedletter/internal/store"
)

// questionProjection lists every challenge attribute except sealed_answer.
const questionProjection = "letter_id, kind, question_type, question, #opts"

// ChallengeQuestion reads the challenge without its sealed answer. The
// DynamoDB path never requests the attribute and the map path never copies it.
func (s *Store) ChallengeQuestion(ctx context.Context, letterID string) (*challenge.Question, error) {
	var it challengeItem

	if s.client == nil {
		s.mu.RLock()
		full, ok := s.challenges[letterID]
		s.mu.RUnlock()
		if !ok {
			return nil, store.ErrNotFound
		}
		it = challengeItem{
			LetterID:     full.LetterID,
			Kind:         full.Kind,
			QuestionType: full.QuestionType,
			Question:     full.Question,
			Options:      append([]string(nil), full.Options...),
		}
	} else {
		out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
			TableName: aws.String(s.tables.Challenges),
			Key: map[string]types.AttributeValue{
				"letter_id": &types.AttributeValueMemberS{Value: letterID},
			},
			ProjectionExpression:     aws.String(questionProjection),
			ExpressionAttributeNames: map[string]string{"#opts": "options"},
		})
		if err != nil {
			return nil, fmt.Errorf("failed to get challenge question: %w", err)
		}
		if out.Item == nil {
			return nil, store.ErrNotFound
		}
		if err := attributevalue.UnmarshalMap(out.Item, &it); err != nil {
			return nil, fmt.Errorf("failed to unmarshal challenge question: %w", err)
		}
	}

	return &challenge.Question{
		Kind:         challenge.Kind(it.Kind),
		QuestionType: challenge.QuestionType(it.QuestionType),
		Question:     it.Question,
		Options:      it.Options,
	}, nil
}

// ChallengeForValidation reads the full challenge and unseals its answer.
func (s *Store) ChallengeForValidation(ctx context.Context, letterID string) (*challenge.Secret, error) {
	var it challengeItem

	if s.client == nil {
		s.mu.RLock()
		full, ok := s.challenges[letterID]
		s.mu.RUnlock()
		if !ok {
			return nil, store.ErrNotFound
		}
		it = full
	} else {
		out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
			TableName: aws.String(s.tables.Challenges),
			Key: map[string]types.AttributeValue{
				"letter_id": &types.AttributeValueMemberS{Value: letterID},
			},
			ConsistentRead: aws.Bool(true),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to get challenge: %w", err)
		}
		if out.Item == nil {
			return nil, store.ErrNotFound
		}
		if err := attributevalue.UnmarshalMap(out.Item, &it); err != nil {
			return nil, fmt.Errorf("failed to unmarshal challenge: %w", err)
		}
	}

	answer, err := s.encryptor.Decrypt(ctx, it.SealedAnswer, crypto.LetterScope(letterID))
	if err != nil {
		return nil, fmt.Errorf("failed to unseal challenge answer: %w", err)
	}

	var sec challenge.Secret
	switch challenge.Kind(it.Kind) {
	case challenge.KindQuiz:
		sec = challenge.NewQuizSecret(challenge.QuestionType(it.QuestionType), answer)
	case challenge.KindDate:
		sec = challenge.NewDateSecret(answer)
	default:
		return nil, fmt.Errorf("challenge for letter %s has unknown kind %q", letterID, it.Kind)
	}
	return &sec, nil
}
