package crypto

import (
	"context"
	"strings"
)

const mockPrefix = "mock:"

// MockEncryptor tags values instead of encrypting them, for local
// development and tests. It ignores the scope.
type MockEncryptor struct{}

func NewMockEncryptor() *MockEncryptor {
	return &MockEncryptor{}
}

func (*MockEncryptor) Encrypt(_ context.Context, plaintext string, _ Scope) (string, error) {
	return mockPrefix + plaintext, nil
}

func (*MockEncryptor) Decrypt(_ context.Context, ciphertext string, _ Scope) (string, error) {
	return strings.TrimPrefix(ciphertext, mockPrefix), nil
}
