// Package pending journals unshields whose burn is confirmed on chain so that
// finalization can be retried after a partial failure.
package pending

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrNotFound          = errors.New("pending: not found")
	ErrBurnMismatch      = errors.New("pending: burn mismatch")
	ErrInvalidTransition = errors.New("pending: invalid transition")
	ErrInvalidBurn       = errors.New("pending: invalid burn")
)

type State uint8

const (
	StateUnknown State = iota
	StateBurnt
	StateFinalized
)

func (s State) String() string {
	switch s {
	case StateBurnt:
		return "burnt"
	case StateFinalized:
		return "finalized"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

// Burn is an UnwrapRequested event observed for one of our unwrap transactions.
type Burn struct {
	BurntAmountHandle common.Hash
	ChainID           uint64
	Wrapper           common.Address
	Account           common.Address
	Recipient         common.Address
	UnwrapTxHash      common.Hash
}

func (b Burn) Validate() error {
	if (b.BurntAmountHandle == common.Hash{}) {
		return fmt.Errorf("%w: zero burnt amount handle", ErrInvalidBurn)
	}
	if (b.Wrapper == common.Address{}) {
		return fmt.Errorf("%w: zero wrapper", ErrInvalidBurn)
	}
	if (b.UnwrapTxHash == common.Hash{}) {
		return fmt.Errorf("%w: zero unwrap tx hash", ErrInvalidBurn)
	}
	return nil
}

type Record struct {
	Burn  Burn
	State State

	FinalizeTxHash common.Hash

	// Attempts counts failed finalization attempts; LastError is the most recent one.
	Attempts  int
	LastError string

	CreatedAt time.Time
	UpdatedAt time.Time
}

type Store interface {
	// RecordBurn is idempotent per handle. created is false when the burn was already
	// journaled with identical fields.
	RecordBurn(ctx context.Context, b Burn) (rec Record, created bool, err error)
	MarkFinalized(ctx context.Context, burntHandle common.Hash, finalizeTx common.Hash) error
	RecordFailure(ctx context.Context, burntHandle common.Hash, reason string) error

	Get(ctx context.Context, burntHandle common.Hash) (Record, error)
	ListByState(ctx context.Context, state State, limit int) ([]Record, error)
	// ListRetryable returns the oldest burnt records of one chain and account with
	// fewer than maxAttempts failed finalizations.
	ListRetryable(ctx context.Context, chainID uint64, account common.Address, maxAttempts int, limit int) ([]Record, error)
}
