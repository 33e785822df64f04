package wallet

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/juno-intents/confidential-wrap/internal/eth"
)

// LocalWallet is a Wallet backed by a private key held in process.
type LocalWallet struct {
	sender *eth.TxSender
	signer eth.HashSigner
}

func NewLocalWallet(sender *eth.TxSender, signer eth.HashSigner) (*LocalWallet, error) {
	if sender == nil || signer == nil {
		return nil, fmt.Errorf("%w: local wallet needs sender and signer", ErrInvalidConfig)
	}
	if sender.Address() != signer.Address() {
		return nil, fmt.Errorf("%w: sender %s and signer %s differ", ErrInvalidConfig, sender.Address(), signer.Address())
	}
	return &LocalWallet{sender: sender, signer: signer}, nil
}

func (w *LocalWallet) Address() common.Address { return w.signer.Address() }

func (w *LocalWallet) SendTransaction(ctx context.Context, req eth.TxRequest) (common.Hash, error) {
	return w.sender.SendTransaction(ctx, req)
}

// SignTypedData returns the 65-byte EIP-712 signature over data.
func (w *LocalWallet) SignTypedData(_ context.Context, data apitypes.TypedData) ([]byte, error) {
	digest, _, err := apitypes.TypedDataAndHash(data)
	if err != nil {
		return nil, fmt.Errorf("wallet: hash typed data: %w", err)
	}
	return w.signer.SignHash(digest)
}
