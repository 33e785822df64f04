// Package wallet unifies the two supported signing backends behind one capability
// object used by the conversion sagas.
package wallet

import (
	"context"
	"errors"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/juno-intents/confidential-wrap/internal/eth"
)

const (
	DefaultReceiptTimeout = 60 * time.Second
	DefaultPollInterval   = time.Second
)

var (
	ErrWalletNotReady = errors.New("wallet: not ready")
	ErrInvalidConfig  = errors.New("wallet: invalid config")
)

// Actions is everything a saga needs from a connected wallet.
type Actions interface {
	Address() common.Address
	Ready() bool
	SendTransaction(ctx context.Context, req eth.TxRequest) (common.Hash, error)
	Call(ctx context.Context, to common.Address, data []byte) ([]byte, error)
	WaitForReceipt(ctx context.Context, hash common.Hash) (eth.Receipt, error)
}

type waitConfig struct {
	timeout time.Duration
	poll    time.Duration
}

func newWaitConfig(timeout, poll time.Duration) waitConfig {
	if timeout <= 0 {
		timeout = DefaultReceiptTimeout
	}
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	return waitConfig{timeout: timeout, poll: poll}
}

// notReady is returned by Select when no backend can be built. Every method fails.
type notReady struct {
	reason error
}

func (n notReady) Address() common.Address { return common.Address{} }
func (n notReady) Ready() bool             { return false }

func (n notReady) SendTransaction(context.Context, eth.TxRequest) (common.Hash, error) {
	return common.Hash{}, n.err()
}

func (n notReady) Call(context.Context, common.Address, []byte) ([]byte, error) {
	return nil, n.err()
}

func (n notReady) WaitForReceipt(context.Context, common.Hash) (eth.Receipt, error) {
	return eth.Receipt{}, n.err()
}

func (n notReady) err() error {
	if n.reason == nil {
		return ErrWalletNotReady
	}
	return errors.Join(ErrWalletNotReady, n.reason)
}
