package wallet

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/juno-intents/confidential-wrap/internal/eth"
)

// TxSigner signs and broadcasts for one address. *eth.TxSender implements it.
type TxSigner interface {
	Address() common.Address
	SendTransaction(ctx context.Context, req eth.TxRequest) (common.Hash, error)
}

// Provider is the read half of a go-ethereum client. *ethclient.Client implements it.
type Provider interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// Legacy pairs a signer with a separate provider.
type Legacy struct {
	signer   TxSigner
	provider Provider
	wait     waitConfig
}

func NewLegacy(signer TxSigner, provider Provider, receiptTimeout, pollInterval time.Duration) (*Legacy, error) {
	if signer == nil || provider == nil {
		return nil, fmt.Errorf("%w: legacy backend needs signer and provider", ErrInvalidConfig)
	}
	return &Legacy{signer: signer, provider: provider, wait: newWaitConfig(receiptTimeout, pollInterval)}, nil
}

func (l *Legacy) Address() common.Address { return l.signer.Address() }
func (l *Legacy) Ready() bool             { return true }

func (l *Legacy) SendTransaction(ctx context.Context, req eth.TxRequest) (common.Hash, error) {
	return l.signer.SendTransaction(ctx, req)
}

func (l *Legacy) Call(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	return l.provider.CallContract(ctx, ethereum.CallMsg{
		From: l.signer.Address(),
		To:   &to,
		Data: data,
	}, nil)
}

func (l *Legacy) WaitForReceipt(ctx context.Context, hash common.Hash) (eth.Receipt, error) {
	r, err := eth.WaitMined(ctx, l.provider, hash, l.wait.timeout, l.wait.poll)
	if err != nil {
		return eth.Receipt{}, err
	}
	return eth.ReceiptFromTypes(r), nil
}
