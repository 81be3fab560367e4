package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/jun/sealedletter/internal/crypto"
	"github.com/jun/sealedletter/internal/model"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

var (
	ErrAccountNotFound = errors.New("sender account not found")
	ErrNoRefreshToken  = errors.New("sender has not granted offline access")
)

// Scopes requested at login. gmail.send lets share links go out from the
// sender's own mailbox.
var Scopes = []string{
	"openid",
	"https://www.googleapis.com/auth/userinfo.email",
	"https://www.googleapis.com/auth/userinfo.profile",
	"https://www.googleapis.com/auth/gmail.send",
}

// OAuthConfig builds the Google OAuth2 config used for sender login.
func OAuthConfig(clientID, clientSecret, redirectURL string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURL,
		Scopes:       Scopes,
		Endpoint:     google.Endpoint,
	}
}

// DynamoAPI is the subset of *dynamodb.Client used by AuthService.
type DynamoAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
}

// AuthService handles the sender OAuth2 flow and sender accounts.
type AuthService struct {
	oauthConfig  *oauth2.Config
	dynamoClient DynamoAPI
	tableName    string
	kmsService   crypto.Encryptor

	// In-memory fallback
	accounts map[string]model.SenderAccount
	mu       sync.RWMutex
}

// NewAuthService creates a new AuthService.
// The oauthConfig should be constructed by the caller (e.g., with OAuthConfig).
func NewAuthService(oauthConfig *oauth2.Config, dynamoClient DynamoAPI, tableName string, kmsService crypto.Encryptor) *AuthService {
	return &AuthService{
		oauthConfig:  oauthConfig,
		dynamoClient: dynamoClient,
		tableName:    tableName,
		kmsService:   kmsService,
		accounts:     make(map[string]model.SenderAccount),
	}
}

// Config returns the OAuth2 config.
func (s *AuthService) Config() *oauth2.Config {
	return s.oauthConfig
}

// GenerateAuthURL returns the URL to redirect the sender to for Google login.
func (s *AuthService) GenerateAuthURL(state string) string {
	return s.oauthConfig.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

// ExchangeCode exchanges the authorization code for an access token.
func (s *AuthService) ExchangeCode(ctx context.Context, code string) (*oauth2.Token, error) {
	return s.oauthConfig.Exchange(ctx, code)
}

// SaveAccount stores the sender's profile. A refresh token in tok is sealed
// and replaces the stored one; without one the stored token is kept, since
// Google only returns it on the first consent.
func (s *AuthService) SaveAccount(ctx context.Context, userID, email, name string, tok *oauth2.Token) error {
	account := model.SenderAccount{
		UserID:    userID,
		Email:     email,
		Name:      name,
		UpdatedAt: time.Now().UTC(),
	}

	if tok != nil && tok.RefreshToken != "" {
		encrypted, err := s.kmsService.Encrypt(ctx, tok.RefreshToken, crypto.SenderScope(userID))
		if err != nil {
			return fmt.Errorf("failed to encrypt refresh token: %w", err)
		}
		account.EncryptedRefreshToken = encrypted
	} else if existing, err := s.GetAccount(ctx, userID); err == nil {
		account.EncryptedRefreshToken = existing.EncryptedRefreshToken
	} else if !errors.Is(err, ErrAccountNotFound) {
		return err
	}

	if s.dynamoClient == nil {
		s.mu.Lock()
		s.accounts[userID] = account
		s.mu.Unlock()
		return nil
	}

	item, err := attributevalue.MarshalMap(account)
	if err != nil {
		return fmt.Errorf("failed to marshal sender account: %w", err)
	}

	_, err = s.dynamoClient.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("failed to save sender account to DynamoDB: %w", err)
	}

	return nil
}

// GetAccount retrieves a sender account.
func (s *AuthService) GetAccount(ctx context.Context, userID string) (*model.SenderAccount, error) {
	var account model.SenderAccount

	if s.dynamoClient == nil {
		s.mu.RLock()
		a, ok := s.accounts[userID]
		s.mu.RUnlock()
		if !ok {
			return nil, ErrAccountNotFound
		}
		account = a
	} else {
		out, err := s.dynamoClient.GetItem(ctx, &dynamodb.GetItemInput{
			TableName: aws.String(s.tableName),
			Key: map[string]types.AttributeValue{
				"user_id": &types.AttributeValueMemberS{Value: userID},
			},
		})
		if err != nil {
			return nil, fmt.Errorf("failed to get item from DynamoDB: %w", err)
		}
		if out.Item == nil {
			return nil, ErrAccountNotFound
		}

		if err := attributevalue.UnmarshalMap(out.Item, &account); err != nil {
			return nil, fmt.Errorf("failed to unmarshal sender account: %w", err)
		}
	}
	return &account, nil
}

// UpdateDisplayName changes the name shown to receivers.
func (s *AuthService) UpdateDisplayName(ctx context.Context, userID, name string) error {
	if s.dynamoClient == nil {
		s.mu.Lock()
		defer s.mu.Unlock()
		a, ok := s.accounts[userID]
		if !ok {
			return ErrAccountNotFound
		}
		a.Name = name
		a.UpdatedAt = time.Now().UTC()
		s.accounts[userID] = a
		return nil
	}

	_, err := s.dynamoClient.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"user_id": &types.AttributeValueMemberS{Value: userID},
		},
		UpdateExpression:    aws.String("SET #n = :name, updated_at = :now"),
		ConditionExpression: aws.String("attribute_exists(user_id)"),
		ExpressionAttributeNames: map[string]string{
			"#n": "name",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":name": &types.AttributeValueMemberS{Value: name},
			":now":  &types.AttributeValueMemberS{Value: time.Now().UTC().Format(time.RFC3339Nano)},
		},
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return ErrAccountNotFound
		}
		return fmt.Errorf("failed to update display name: %w", err)
	}

	return nil
}

// GetClient returns an http.Client authorized as the sender.
func (s *AuthService) GetClient(ctx context.Context, userID string) (*http.Client, error) {
	account, err := s.GetAccount(ctx, userID)
	if err != nil {
		return nil, err
	}
	if account.EncryptedRefreshToken == "" {
		return nil, ErrNoRefreshToken
	}

	refreshToken, err := s.kmsService.Decrypt(ctx, account.EncryptedRefreshToken, crypto.SenderScope(userID))
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt refresh token: %w", err)
	}

	token := &oauth2.Token{
		RefreshToken: refreshToken,
		Expiry:       time.Now().Add(-1 * time.Hour), // Force refresh
	}

	return oauth2.NewClient(ctx, s.oauthConfig.TokenSource(ctx, token)), nil
}
