// Package crypto seals values at rest: sender refresh tokens and challenge
// answers.
package crypto

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kms"
)

// Scope is the encryption context a value is sealed under. Decrypt only
// succeeds with the scope the value was encrypted with.
type Scope map[string]string

// LetterScope is the scope of a letter's challenge answer.
func LetterScope(letterID string) Scope {
	return Scope{"purpose": "challenge_answer", "letter_id": letterID}
}

// SenderScope is the scope of a sender's Google refresh token.
func SenderScope(userID string) Scope {
	return Scope{"purpose": "refresh_token", "sender_id": userID}
}

// Encryptor seals and unseals short secrets.
type Encryptor interface {
	Encrypt(ctx context.Context, plaintext string, scope Scope) (string, error)
	Decrypt(ctx context.Context, ciphertext string, scope Scope) (string, error)
}

// KMSClient is the subset of *kms.Client used by KMSService.
type KMSClient interface {
	Encrypt(ctx context.Context, params *kms.EncryptInput, optFns ...func(*kms.Options)) (*kms.EncryptOutput, error)
	Decrypt(ctx context.Context, params *kms.DecryptInput, optFns ...func(*kms.Options)) (*kms.DecryptOutput, error)
}

// KMSService implements Encryptor with a single KMS key. The scope is passed
// as the KMS encryption context.
type KMSService struct {
	client KMSClient
	keyID  string
}

// NewKMSService creates a KMSService.
// keyID can be a key ID, key ARN, or alias name (e.g., "alias/sealedletter-key").
func NewKMSService(client KMSClient, keyID string) *KMSService {
	return &KMSService{client: client, keyID: keyID}
}

// Encrypt returns the base64 KMS ciphertext of plaintext bound to scope.
func (s *KMSService) Encrypt(ctx context.Context, plaintext string, scope Scope) (string, error) {
	out, err := s.client.Encrypt(ctx, &kms.EncryptInput{
		KeyId:             aws.String(s.keyID),
		Plaintext:         []byte(plaintext),
		EncryptionContext: scope,
	})
	if err != nil {
		return "", fmt.Errorf("kms encrypt (%s): %w", scope["purpose"], err)
	}
	return base64.StdEncoding.EncodeToString(out.CiphertextBlob), nil
}

// Decrypt reverses Encrypt. A scope that differs from the one used to
// encrypt makes KMS reject the call.
func (s *KMSService) Decrypt(ctx context.Context, ciphertext string, scope Scope) (string, error) {
	blob, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("failed to decode ciphertext: %w", err)
	}

	out, err := s.client.Decrypt(ctx, &kms.DecryptInput{
		CiphertextBlob:    blob,
		KeyId:             aws.String(s.keyID),
		EncryptionContext: scope,
	})
	if err != nil {
		return "", fmt.Errorf("kms decrypt (%s): %w", scope["purpose"], err)
	}
	return string(out.Plaintext), nil
}
