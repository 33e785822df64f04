package secrets

import (
	"context"
	"crypto/ecdsa"
	"fmt"

	"github.com/juno-intents/confidential-wrap/internal/eth"
)

// LoadPrivateKey fetches key from p and parses it as a hex secp256k1 private key.
// Errors never include the secret value.
func LoadPrivateKey(ctx context.Context, p Provider, key string) (*ecdsa.PrivateKey, error) {
	if p == nil {
		return nil, fmt.Errorf("%w: nil provider", ErrInvalidConfig)
	}
	raw, err := p.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	pk, err := eth.ParsePrivateKeyHex(raw)
	if err != nil {
		return nil, fmt.Errorf("secrets: %s: %w", key, err)
	}
	return pk, nil
}
