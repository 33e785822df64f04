// Package secrets resolves signing keys and tokens from the environment or AWS Secrets
// Manager.
package secrets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

var (
	ErrInvalidConfig = errors.New("secrets: invalid config")
	ErrNotFound      = errors.New("secrets: not found")
)

const (
	DriverEnv = "env"
	DriverAWS = "aws"
)

type Provider interface {
	Get(ctx context.Context, key string) (string, error)
}

// Open returns the provider for driver. An empty driver selects env.
func Open(ctx context.Context, driver string) (Provider, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", DriverEnv:
		return NewEnv(), nil
	case DriverAWS:
		return NewAWS(ctx)
	default:
		return nil, fmt.Errorf("%w: unsupported driver %q", ErrInvalidConfig, driver)
	}
}

type awsClient interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

type AWSProvider struct {
	client awsClient
}

func NewAWS(ctx context.Context) (*AWSProvider, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: load aws config: %v", ErrInvalidConfig, err)
	}
	return NewAWSWithClient(secretsmanager.NewFromConfig(cfg))
}

func NewAWSWithClient(client awsClient) (*AWSProvider, error) {
	if client == nil {
		return nil, fmt.Errorf("%w: nil secretsmanager client", ErrInvalidConfig)
	}
	return &AWSProvider{client: client}, nil
}

func (p *AWSProvider) Get(ctx context.Context, key string) (string, error) {
	if p == nil || p.client == nil {
		return "", fmt.Errorf("%w: nil aws provider", ErrInvalidConfig)
	}
	id, field := splitField(key)
	if id == "" {
		return "", fmt.Errorf("%w: empty secret key", ErrInvalidConfig)
	}
	out, err := p.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: &id,
	})
	if err != nil {
		return "", fmt.Errorf("secrets: get secret %q: %w", id, err)
	}
	var v string
	switch {
	case out.SecretString != nil && strings.TrimSpace(*out.SecretString) != "":
		v = strings.TrimSpace(*out.SecretString)
	case len(out.SecretBinary) > 0:
		v = string(out.SecretBinary)
	default:
		return "", fmt.Errorf("%w: secret %q has no value", ErrNotFound, id)
	}
	if field == "" {
		return v, nil
	}
	return jsonField(id, v, field)
}

// splitField splits "secret-id#field". Secrets Manager ids never contain '#'.
func splitField(key string) (id, field string) {
	key = strings.TrimSpace(key)
	if i := strings.LastIndexByte(key, '#'); i >= 0 {
		return strings.TrimSpace(key[:i]), strings.TrimSpace(key[i+1:])
	}
	return key, ""
}

func jsonField(id, raw, field string) (string, error) {
	var obj map[string]any
	if err := json.Unmarshal([]byte(raw), &obj); err != nil {
		return "", fmt.Errorf("%w: secret %q is not a JSON object", ErrInvalidConfig, id)
	}
	v, ok := obj[field].(string)
	if !ok || strings.TrimSpace(v) == "" {
		return "", fmt.Errorf("%w: secret %q has no string field %q", ErrNotFound, id, field)
	}
	return strings.TrimSpace(v), nil
}

type EnvProvider struct{}

func NewEnv() *EnvProvider {
	return &EnvProvider{}
}

func (p *EnvProvider) Get(_ context.Context, key string) (string, error) {
	if p == nil {
		return "", fmt.Errorf("%w: nil env provider", ErrInvalidConfig)
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return "", fmt.Errorf("%w: empty env key", ErrInvalidConfig)
	}
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return "", fmt.Errorf("%w: env %s is empty", ErrNotFound, key)
	}
	return v, nil
}
