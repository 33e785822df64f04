package wallet

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/juno-intents/confidential-wrap/internal/eth"
	"github.com/juno-intents/confidential-wrap/internal/evmrpc"
)

// Wallet is a directly connected account that signs and broadcasts on its own.
// SignTypedData serves the EIP-712 authorization layer; the sagas never call it.
type Wallet interface {
	Address() common.Address
	SendTransaction(ctx context.Context, req eth.TxRequest) (common.Hash, error)
	SignTypedData(ctx context.Context, data apitypes.TypedData) ([]byte, error)
}

// Direct sends through the wallet and reads chain state over JSON-RPC.
type Direct struct {
	wallet Wallet
	rpc    *evmrpc.Client
	wait   waitConfig
}

func NewDirect(w Wallet, rpcURL string, receiptTimeout, pollInterval time.Duration) (*Direct, error) {
	if w == nil {
		return nil, fmt.Errorf("%w: nil wallet", ErrInvalidConfig)
	}
	if strings.TrimSpace(rpcURL) == "" {
		return nil, fmt.Errorf("%w: missing rpc url", ErrInvalidConfig)
	}
	rpc, err := evmrpc.New(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("wallet: direct backend: %w", err)
	}
	return &Direct{wallet: w, rpc: rpc, wait: newWaitConfig(receiptTimeout, pollInterval)}, nil
}

func (d *Direct) Address() common.Address { return d.wallet.Address() }
func (d *Direct) Ready() bool             { return true }

func (d *Direct) SendTransaction(ctx context.Context, req eth.TxRequest) (common.Hash, error) {
	return d.wallet.SendTransaction(ctx, req)
}

func (d *Direct) Call(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	return d.rpc.Call(ctx, to, data)
}

func (d *Direct) WaitForReceipt(ctx context.Context, hash common.Hash) (eth.Receipt, error) {
	return d.rpc.WaitForReceipt(ctx, hash, d.wait.timeout, d.wait.poll)
}
