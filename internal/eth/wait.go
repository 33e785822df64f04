package eth

import (
	"context"
	"errors"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

type ReceiptBackend interface {
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// WaitMined polls backend for the receipt of hash every pollInterval.
//
// A non-positive timeout means "until ctx is done". When the timeout elapses first the
// error is a *ReceiptTimeoutError.
func WaitMined(ctx context.Context, backend ReceiptBackend, hash common.Hash, timeout, pollInterval time.Duration) (*types.Receipt, error) {
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	wctx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		wctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	for {
		receipt, err := backend.TransactionReceipt(wctx, hash)
		if err == nil && receipt != nil {
			return receipt, nil
		}
		if err != nil && !errors.Is(err, ethereum.NotFound) {
			if timedOut(ctx, wctx) {
				return nil, &ReceiptTimeoutError{Hash: hash, Timeout: timeout}
			}
			return nil, err
		}
		if err := SleepCtx(wctx, pollInterval); err != nil {
			if timedOut(ctx, wctx) {
				return nil, &ReceiptTimeoutError{Hash: hash, Timeout: timeout}
			}
			return nil, err
		}
	}
}

// timedOut reports whether wctx expired on its own deadline while the parent is still live.
func timedOut(parent, wctx context.Context) bool {
	return parent.Err() == nil && wctx.Err() != nil
}

func SleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
