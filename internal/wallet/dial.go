package wallet

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/juno-intents/confidential-wrap/internal/eth"
)

const (
	BackendDirect = "direct"
	BackendLegacy = "legacy"
)

// DialConfig describes a locally held key connected to one EVM node.
type DialConfig struct {
	RPCURL  string
	ChainID uint64
	Key     *ecdsa.PrivateKey
	// Backend is BackendDirect (default) or BackendLegacy.
	Backend string

	GasLimitMultiplier float64
	MinTipCap          *big.Int

	ReceiptTimeout time.Duration
	PollInterval   time.Duration
}

// Dial connects to the node, checks its chain id and returns Actions for the configured
// backend. The returned func closes the node connection.
func Dial(ctx context.Context, cfg DialConfig) (Actions, func(), error) {
	if strings.TrimSpace(cfg.RPCURL) == "" || cfg.ChainID == 0 || cfg.Key == nil {
		return nil, nil, fmt.Errorf("%w: rpc url, chain id and key are required", ErrInvalidConfig)
	}
	backend := strings.ToLower(strings.TrimSpace(cfg.Backend))
	if backend == "" {
		backend = BackendDirect
	}
	if backend != BackendDirect && backend != BackendLegacy {
		return nil, nil, fmt.Errorf("%w: unknown backend %q", ErrInvalidConfig, cfg.Backend)
	}
	if cfg.GasLimitMultiplier <= 0 {
		cfg.GasLimitMultiplier = 1.2
	}
	if cfg.MinTipCap == nil {
		cfg.MinTipCap = big.NewInt(0)
	}

	ec, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, nil, fmt.Errorf("wallet: dial %s: %w", cfg.RPCURL, err)
	}
	got, err := ec.ChainID(ctx)
	if err != nil {
		ec.Close()
		return nil, nil, fmt.Errorf("wallet: read chain id: %w", err)
	}
	if !got.IsUint64() || got.Uint64() != cfg.ChainID {
		ec.Close()
		return nil, nil, fmt.Errorf("%w: node chain id %s, want %d", ErrInvalidConfig, got, cfg.ChainID)
	}

	signer := eth.NewLocalSigner(cfg.Key)
	sender, err := eth.NewTxSender(ec, signer, eth.SenderConfig{
		ChainID:            new(big.Int).SetUint64(cfg.ChainID),
		GasLimitMultiplier: cfg.GasLimitMultiplier,
		MinTipCap:          cfg.MinTipCap,
	})
	if err != nil {
		ec.Close()
		return nil, nil, err
	}

	in := Inputs{ReceiptTimeout: cfg.ReceiptTimeout, PollInterval: cfg.PollInterval}
	switch backend {
	case BackendDirect:
		lw, err := NewLocalWallet(sender, signer)
		if err != nil {
			ec.Close()
			return nil, nil, err
		}
		in.Wallet = lw
		in.RPCURL = cfg.RPCURL
	case BackendLegacy:
		in.Signer = sender
		in.Provider = ec
	}

	actions := Select(in)
	if nr, ok := actions.(notReady); ok {
		ec.Close()
		return nil, nil, nr.err()
	}
	return actions, ec.Close, nil
}
