package secret

import (
	"context"
	"fmt"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"
)

type fakeSSMClient struct {
	params map[string]string
	calls  int
}

func (f *fakeSSMClient) GetParameter(_ context.Context, input *ssm.GetParameterInput, _ ...func(*ssm.Options)) (*ssm.GetParameterOutput, error) {
	f.calls++
	val, ok := f.params[*input.Name]
	if !ok {
		return nil, fmt.Errorf("parameter not found: %s", *input.Name)
	}
	return &ssm.GetParameterOutput{
		Parameter: &ssmtypes.Parameter{
			Name:  input.Name,
			Value: aws.String(val),
		},
	}, nil
}

func envResolver(vars map[string]string) *EnvResolver {
	return &EnvResolver{lookup: func(k string) (string, bool) {
		v, ok := vars[k]
		return v, ok
	}}
}

func TestSSMResolver_GetSecret(t *testing.T) {
	client := &fakeSSMClient{params: map[string]string{JWTSecretParam: "super-secret-value"}}
	resolver := NewSSMResolver(client)

	val, err := resolver.GetSecret(context.Background(), JWTSecretParam)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if val != "super-secret-value" {
		t.Fatalf("expected %q, got %q", "super-secret-value", val)
	}

	if _, err := resolver.GetSecret(context.Background(), "/sealedletter/nonexistent"); err == nil {
		t.Fatal("expected error for missing parameter, got nil")
	}
}

func TestEnvResolver_GetSecret(t *testing.T) {
	resolver := envResolver(map[string]string{"JWT_SECRET": "env-secret-value", "EMPTY": ""})

	val, err := resolver.GetSecret(context.Background(), JWTSecretParam)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if val != "env-secret-value" {
		t.Fatalf("expected %q, got %q", "env-secret-value", val)
	}

	if _, err := resolver.GetSecret(context.Background(), "/sealedletter/empty"); err == nil {
		t.Fatal("expected error for empty env var, got nil")
	}
	if _, err := resolver.GetSecret(context.Background(), GoogleClientSecretParam); err == nil {
		t.Fatal("expected error for missing env var, got nil")
	}
}

func TestEnvVarFor(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{JWTSecretParam, "JWT_SECRET"},
		{GoogleClientSecretParam, "GOOGLE_CLIENT_SECRET"},
		{"plain-name", "PLAIN_NAME"},
	}

	for _, tc := range tests {
		if got := EnvVarFor(tc.input); got != tc.expected {
			t.Errorf("EnvVarFor(%q) = %q, want %q", tc.input, got, tc.expected)
		}
	}
}

func TestCachingResolver(t *testing.T) {
	client := &fakeSSMClient{params: map[string]string{JWTSecretParam: "v"}}
	r := NewCachingResolver(NewSSMResolver(client))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := r.GetSecret(ctx, JWTSecretParam); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if client.calls != 1 {
		t.Errorf("expected 1 SSM call, got %d", client.calls)
	}

	r.GetSecret(ctx, "/sealedletter/missing")
	r.GetSecret(ctx, "/sealedletter/missing")
	if client.calls != 3 {
		t.Errorf("failures must not be cached, got %d calls", client.calls)
	}
}

func TestChain(t *testing.T) {
	c := Chain{
		NewSSMResolver(&fakeSSMClient{params: map[string]string{}}),
		envResolver(map[string]string{"JWT_SECRET": "from-env"}),
	}

	val, err := c.GetSecret(context.Background(), JWTSecretParam)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if val != "from-env" {
		t.Errorf("expected fallback value, got %q", val)
	}

	if _, err := c.GetSecret(context.Background(), GoogleClientSecretParam); err == nil {
		t.Error("expected error when no resolver has the secret")
	}
}
