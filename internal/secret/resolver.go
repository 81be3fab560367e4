// Package secret resolves the service's secrets (JWT signing key, Google
// client secret) from SSM Parameter Store in AWS and from the environment
// locally.
package secret

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
)

// Default parameter names.
const (
	JWTSecretParam          = "/sealedletter/jwt-secret"
	GoogleClientSecretParam = "/sealedletter/google-client-secret"
	APIGatewaySecretParam   = "/sealedletter/api-gateway-secret"
)

// Resolver retrieves secret values by parameter name.
type Resolver interface {
	GetSecret(ctx context.Context, name string) (string, error)
}

// SSMClient is the subset of *ssm.Client used by SSMResolver.
type SSMClient interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// SSMResolver reads SecureString parameters.
type SSMResolver struct {
	client SSMClient
}

func NewSSMResolver(client SSMClient) *SSMResolver {
	return &SSMResolver{client: client}
}

func (r *SSMResolver) GetSecret(ctx context.Context, name string) (string, error) {
	out, err := r.client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(name),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return "", fmt.Errorf("ssm get parameter %q: %w", name, err)
	}
	if out.Parameter == nil || aws.ToString(out.Parameter.Value) == "" {
		return "", fmt.Errorf("ssm parameter %q has no value", name)
	}
	return aws.ToString(out.Parameter.Value), nil
}

// EnvResolver reads the environment variable named after the last path
// segment of the parameter: "/sealedletter/jwt-secret" reads JWT_SECRET.
type EnvResolver struct {
	lookup func(string) (string, bool)
}

func NewEnvResolver() *EnvResolver {
	return &EnvResolver{lookup: os.LookupEnv}
}

func (r *EnvResolver) GetSecret(_ context.Context, name string) (string, error) {
	envName := EnvVarFor(name)
	val, ok := r.lookup(envName)
	if !ok || val == "" {
		return "", fmt.Errorf("environment variable %q (from param %q) is not set", envName, name)
	}
	return val, nil
}

// EnvVarFor maps a parameter name to its environment variable.
func EnvVarFor(name string) string {
	last := name[strings.LastIndex(name, "/")+1:]
	return strings.ToUpper(strings.ReplaceAll(last, "-", "_"))
}

// CachingResolver memoizes successful lookups for the life of the process,
// so a warm Lambda does not call SSM per request. Failures are not cached.
type CachingResolver struct {
	next Resolver

	mu     sync.Mutex
	values map[string]string
}

func NewCachingResolver(next Resolver) *CachingResolver {
	return &CachingResolver{next: next, values: make(map[string]string)}
}

func (r *CachingResolver) GetSecret(ctx context.Context, name string) (string, error) {
	r.mu.Lock()
	v, ok := r.values[name]
	r.mu.Unlock()
	if ok {
		return v, nil
	}

	v, err := r.next.GetSecret(ctx, name)
	if err != nil {
		return "", err
	}

	r.mu.Lock()
	r.values[name] = v
	r.mu.Unlock()
	return v, nil
}

// Chain tries each resolver in order and returns the first value found.
type Chain []Resolver

func (c Chain) GetSecret(ctx context.Context, name string) (string, error) {
	var errs []string
	for _, r := range c {
		v, err := r.GetSecret(ctx, name)
		if err == nil {
			return v, nil
		}
		errs = append(errs, err.Error())
	}
	return "", fmt.Errorf("secret %q not resolved: %s", name, strings.Join(errs, "; "))
}
