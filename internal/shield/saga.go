// Package shield converts ERC20 tokens into their confidential ERC7984 wrapper:
// allowance check, conditional approve, wrap, confirm.
package shield

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/juno-intents/confidential-wrap/internal/abicodec"
	"github.com/juno-intents/confidential-wrap/internal/eth"
	"github.com/juno-intents/confidential-wrap/internal/saga"
	"github.com/juno-intents/confidential-wrap/internal/wallet"
)

type Phase string

const (
	PhaseIdle              Phase = "idle"
	PhaseCheckingAllowance Phase = "checking-allowance"
	PhaseApproving         Phase = "approving"
	PhaseWrapping          Phase = "wrapping"
	PhaseConfirming        Phase = "confirming"
	PhaseSuccess           Phase = "success"
	PhaseError             Phase = "error"
)

var transitions = map[Phase][]Phase{
	PhaseIdle:              {PhaseCheckingAllowance, PhaseError},
	PhaseCheckingAllowance: {PhaseApproving, PhaseWrapping, PhaseError},
	PhaseApproving:         {PhaseWrapping, PhaseError},
	PhaseWrapping:          {PhaseConfirming, PhaseError},
	PhaseConfirming:        {PhaseSuccess, PhaseError},
}

var (
	ErrInvalidRequest = errors.New("shield: invalid request")

	ErrApprovalReverted    = errors.New("shield: approval transaction reverted")
	ErrAllowanceNotUpdated = errors.New("shield: allowance not updated after approval")
	ErrWrapReverted        = errors.New("shield: wrap transaction reverted")
)

// messages holds the user-facing text for failures a caller is expected to display.
var messages = []struct {
	err  error
	text string
}{
	{ErrApprovalReverted, "Approval transaction reverted"},
	{ErrAllowanceNotUpdated, "Approval failed - allowance not updated"},
	{ErrWrapReverted, "Transaction reverted"},
}

// StepError reports the phase a shield failed in.
type StepError struct {
	Phase Phase
	Err   error
}

func (e *StepError) Error() string {
	msg := e.Message()
	if e.Err != nil && !isSentinel(e.Err) && msg != e.Err.Error() {
		msg += " (" + e.Err.Error() + ")"
	}
	return fmt.Sprintf("shield: %s: %s", e.Phase, msg)
}

// Message is the user-facing description of the failure.
func (e *StepError) Message() string {
	for _, m := range messages {
		if errors.Is(e.Err, m.err) {
			return m.text
		}
	}
	if e.Err == nil {
		return ""
	}
	return e.Err.Error()
}

func (e *StepError) Unwrap() error { return e.Err }

type Request struct {
	Token   common.Address
	Wrapper common.Address
	Amount  *big.Int
	// Recipient of the confidential tokens. Zero means the caller.
	Recipient common.Address
}

func (r Request) Validate() error {
	if (r.Token == common.Address{}) {
		return fmt.Errorf("%w: zero token address", ErrInvalidRequest)
	}
	if (r.Wrapper == common.Address{}) {
		return fmt.Errorf("%w: zero wrapper address", ErrInvalidRequest)
	}
	if r.Amount == nil || r.Amount.Sign() <= 0 {
		return fmt.Errorf("%w: amount must be > 0", ErrInvalidRequest)
	}
	return nil
}

// State is the observable progress of one invocation. Hashes stay zero until the
// corresponding transaction was submitted.
type State struct {
	Phase         Phase
	Allowance     *big.Int
	ApproveTxHash common.Hash
	WrapTxHash    common.Hash
	Err           error
}

type Option func(*Saga)

func WithLogger(log *slog.Logger) Option {
	return func(s *Saga) {
		if log != nil {
			s.log = log
		}
	}
}

// WithObserver registers fn to receive a snapshot after every phase change.
func WithObserver(fn func(State)) Option {
	return func(s *Saga) { s.observe = fn }
}

type Saga struct {
	actions wallet.Actions
	log     *slog.Logger
	observe func(State)
}

func New(actions wallet.Actions, opts ...Option) (*Saga, error) {
	if actions == nil {
		return nil, fmt.Errorf("%w: nil wallet actions", ErrInvalidRequest)
	}
	s := &Saga{
		actions: actions,
		log:     slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelInfo})),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

// Run executes one shield. The returned State is always populated; on failure its
// Phase is PhaseError and the returned error is a *StepError.
func (s *Saga) Run(ctx context.Context, req Request) (State, error) {
	r := &run{owner: s, m: saga.NewMachine(PhaseIdle, transitions), st: State{Phase: PhaseIdle}}
	r.m.OnTransition(func(_, to Phase) {
		r.st.Phase = to
		if s.observe != nil {
			s.observe(r.snapshot())
		}
	})

	if err := req.Validate(); err != nil {
		return r.fail(PhaseIdle, err)
	}
	if !s.actions.Ready() {
		return r.fail(PhaseIdle, wallet.ErrWalletNotReady)
	}

	owner := s.actions.Address()
	recipient := req.Recipient
	if (recipient == common.Address{}) {
		recipient = owner
	}
	log := s.log.With("token", req.Token, "wrapper", req.Wrapper, "owner", owner, "amount", req.Amount)

	if err := r.m.To(PhaseCheckingAllowance); err != nil {
		return r.fail(PhaseIdle, err)
	}
	allowance, err := s.readAllowance(ctx, req.Token, owner, req.Wrapper)
	if err != nil {
		return r.fail(PhaseCheckingAllowance, err)
	}
	r.st.Allowance = allowance

	if allowance.Cmp(req.Amount) < 0 {
		if err := r.m.To(PhaseApproving); err != nil {
			return r.fail(PhaseCheckingAllowance, err)
		}
		data, err := abicodec.Approve(req.Wrapper, req.Amount)
		if err != nil {
			return r.fail(PhaseApproving, err)
		}
		hash, err := s.actions.SendTransaction(ctx, eth.TxRequest{To: req.Token, Data: data})
		if err != nil {
			return r.fail(PhaseApproving, err)
		}
		r.st.ApproveTxHash = hash
		log.Info("submitted approve", "txHash", hash)

		rcpt, err := s.actions.WaitForReceipt(ctx, hash)
		if err != nil {
			return r.fail(PhaseApproving, err)
		}
		if !rcpt.Succeeded() {
			return r.fail(PhaseApproving, ErrApprovalReverted)
		}

		// Advisory re-read: approve and the read are not atomic.
		allowance, err = s.readAllowance(ctx, req.Token, owner, req.Wrapper)
		if err != nil {
			return r.fail(PhaseApproving, err)
		}
		r.st.Allowance = allowance
		if allowance.Cmp(req.Amount) < 0 {
			return r.fail(PhaseApproving, ErrAllowanceNotUpdated)
		}
	}

	from := r.m.Phase()
	if err := r.m.To(PhaseWrapping); err != nil {
		return r.fail(from, err)
	}
	data, err := abicodec.Wrap(recipient, req.Amount)
	if err != nil {
		return r.fail(PhaseWrapping, err)
	}
	hash, err := s.actions.SendTransaction(ctx, eth.TxRequest{To: req.Wrapper, Data: data})
	if err != nil {
		return r.fail(PhaseWrapping, err)
	}
	r.st.WrapTxHash = hash
	log.Info("submitted wrap", "txHash", hash, "recipient", recipient)

	if err := r.m.To(PhaseConfirming); err != nil {
		return r.fail(PhaseWrapping, err)
	}
	rcpt, err := s.actions.WaitForReceipt(ctx, hash)
	if err != nil {
		return r.fail(PhaseConfirming, err)
	}
	if !rcpt.Succeeded() {
		return r.fail(PhaseConfirming, ErrWrapReverted)
	}

	if err := r.m.To(PhaseSuccess); err != nil {
		return r.fail(PhaseConfirming, err)
	}
	log.Info("shield confirmed", "txHash", hash, "block", rcpt.BlockNumber)
	return r.snapshot(), nil
}

func (s *Saga) readAllowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error) {
	data, err := abicodec.Allowance(owner, spender)
	if err != nil {
		return nil, err
	}
	out, err := s.actions.Call(ctx, token, data)
	if err != nil {
		return nil, err
	}
	return abicodec.DecodeUint256(out)
}

type run struct {
	owner *Saga
	m     *saga.Machine[Phase]
	st    State
}

func (r *run) snapshot() State {
	st := r.st
	if st.Allowance != nil {
		st.Allowance = new(big.Int).Set(st.Allowance)
	}
	return st
}

func isSentinel(err error) bool {
	for _, m := range messages {
		if err == m.err {
			return true
		}
	}
	return false
}

func (r *run) fail(phase Phase, err error) (State, error) {
	stepErr := &StepError{Phase: phase, Err: err}
	r.st.Err = stepErr
	if moveErr := r.m.To(PhaseError); moveErr != nil {
		r.st.Phase = PhaseError
	}
	r.owner.log.Warn("shield failed", "phase", phase, "err", err)
	return r.snapshot(), stepErr
}
