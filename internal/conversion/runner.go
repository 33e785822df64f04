// Package conversion runs shield, unshield and finalize requests for one signing account
// under the in-flight guard, and retries unshields left burnt but unfinalized.
package conversion

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/juno-intents/confidential-wrap/internal/inflight"
	"github.com/juno-intents/confidential-wrap/internal/pending"
	"github.com/juno-intents/confidential-wrap/internal/shield"
	"github.com/juno-intents/confidential-wrap/internal/unshield"
)

const (
	DefaultMaxAttempts = 5
	DefaultResumeBatch = 20
)

var ErrInvalidConfig = errors.New("conversion: invalid config")

type Shielder interface {
	Run(ctx context.Context, req shield.Request) (shield.State, error)
}

type Unshielder interface {
	Run(ctx context.Context, req unshield.Request) (unshield.State, error)
	Resume(ctx context.Context, req unshield.ResumeRequest) (unshield.State, error)
}

type Config struct {
	ChainID uint64
	// Account is the signing address all conversions run for.
	Account common.Address

	// MaxAttempts bounds automatic finalize retries per burn.
	MaxAttempts int
	ResumeBatch int
}

type Runner struct {
	cfg      Config
	shield   Shielder
	unshield Unshielder
	guard    *inflight.Guard
	pending  pending.Store

	log   *slog.Logger
	newID func() string
}

// New builds a Runner. Either saga may be nil when the caller never submits that kind of
// request. store may be nil, in which case ResumePending is a no-op.
func New(cfg Config, sh Shielder, un Unshielder, guard *inflight.Guard, store pending.Store, log *slog.Logger) (*Runner, error) {
	if cfg.ChainID == 0 {
		return nil, fmt.Errorf("%w: chain id must be > 0", ErrInvalidConfig)
	}
	if (cfg.Account == common.Address{}) {
		return nil, fmt.Errorf("%w: zero account", ErrInvalidConfig)
	}
	if guard == nil {
		return nil, fmt.Errorf("%w: nil guard", ErrInvalidConfig)
	}
	if sh == nil && un == nil {
		return nil, fmt.Errorf("%w: no saga configured", ErrInvalidConfig)
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.ResumeBatch <= 0 {
		cfg.ResumeBatch = DefaultResumeBatch
	}
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	return &Runner{
		cfg:      cfg,
		shield:   sh,
		unshield: un,
		guard:    guard,
		pending:  store,
		log:      log,
		newID:    uuid.NewString,
	}, nil
}

// Handle runs req to completion and reports the outcome. Saga failures are reported in
// the Result; the returned error is only set for failures outside the saga, such as
// the lease store being unreachable.
func (r *Runner) Handle(ctx context.Context, req Request) (Result, error) {
	if req.ID == "" {
		req.ID = r.newID()
	}
	res := Result{
		Version: ResultVersion,
		ID:      req.ID,
		Kind:    req.Kind,
		Account: r.cfg.Account.Hex(),
	}
	log := r.log.With("id", req.ID, "kind", req.Kind, "wrapper", req.Wrapper)

	if !r.supports(req.Kind) {
		res.Status = StatusError
		res.Phase = "idle"
		res.Error = fmt.Sprintf("%s requests are not supported by this runner", req.Kind)
		return res, nil
	}

	key := inflight.Key(r.cfg.ChainID, req.Wrapper, r.cfg.Account)
	err := r.guard.Do(ctx, key, func(ctx context.Context) error {
		switch req.Kind {
		case KindShield:
			st, err := r.shield.Run(ctx, shield.Request{
				Token:     req.Token,
				Wrapper:   req.Wrapper,
				Amount:    req.Amount,
				Recipient: req.Recipient,
			})
			fillShield(&res, st, err)
		case KindUnshield:
			st, err := r.unshield.Run(ctx, unshield.Request{
				Wrapper:   req.Wrapper,
				Amount:    req.Amount,
				Recipient: req.Recipient,
			})
			fillUnshield(&res, st, err)
		case KindFinalize:
			rr := unshield.ResumeRequest{
				Wrapper:           req.Wrapper,
				BurntAmountHandle: req.BurntAmountHandle,
				UnwrapTxHash:      req.UnwrapTxHash,
			}
			if (rr.UnwrapTxHash == common.Hash{}) {
				rr.UnwrapTxHash = r.journaledUnwrapTx(ctx, req.BurntAmountHandle)
			}
			st, err := r.unshield.Resume(ctx, rr)
			fillUnshield(&res, st, err)
		}
		return nil
	})
	if errors.Is(err, inflight.ErrBusy) {
		log.Info("conversion busy", "err", err)
		res.Status = StatusBusy
		res.Error = err.Error()
		return res, nil
	}
	if err != nil {
		return res, err
	}
	log.Info("conversion handled", "status", res.Status, "phase", res.Phase)
	return res, nil
}

// ResumePending retries finalization of journaled burns for this runner's chain and
// account. It returns the number of burns finalized.
func (r *Runner) ResumePending(ctx context.Context) (int, error) {
	if r.pending == nil || r.unshield == nil {
		return 0, nil
	}
	recs, err := r.pending.ListRetryable(ctx, r.cfg.ChainID, r.cfg.Account, r.cfg.MaxAttempts, r.cfg.ResumeBatch)
	if err != nil {
		return 0, fmt.Errorf("conversion: list pending: %w", err)
	}

	finalized := 0
	for _, rec := range recs {
		if ctx.Err() != nil {
			return finalized, ctx.Err()
		}
		b := rec.Burn
		res, err := r.Handle(ctx, Request{
			ID:                "resume-" + b.BurntAmountHandle.Hex(),
			Kind:              KindFinalize,
			Wrapper:           b.Wrapper,
			BurntAmountHandle: b.BurntAmountHandle,
			UnwrapTxHash:      b.UnwrapTxHash,
		})
		if err != nil {
			return finalized, err
		}
		switch res.Status {
		case StatusSuccess:
			finalized++
		case StatusError:
			r.log.Warn("resume finalize failed", "burntAmountHandle", b.BurntAmountHandle, "attempts", rec.Attempts+1, "err", res.Error)
		}
	}
	return finalized, nil
}

func (r *Runner) supports(k Kind) bool {
	switch k {
	case KindShield:
		return r.shield != nil
	case KindUnshield, KindFinalize:
		return r.unshield != nil
	default:
		return false
	}
}

func (r *Runner) journaledUnwrapTx(ctx context.Context, handle common.Hash) common.Hash {
	if r.pending == nil {
		return common.Hash{}
	}
	rec, err := r.pending.Get(ctx, handle)
	if err != nil {
		return common.Hash{}
	}
	return rec.Burn.UnwrapTxHash
}

func fillShield(res *Result, st shield.State, err error) {
	res.Phase = string(st.Phase)
	res.ApproveTxHash = hashOrEmpty(st.ApproveTxHash)
	res.WrapTxHash = hashOrEmpty(st.WrapTxHash)
	setStatus(res, err)
}

func fillUnshield(res *Result, st unshield.State, err error) {
	res.Phase = string(st.Phase)
	res.UnwrapTxHash = hashOrEmpty(st.UnwrapTxHash)
	res.BurntAmountHandle = hashOrEmpty(st.BurntAmountHandle)
	res.FinalizeTxHash = hashOrEmpty(st.FinalizeTxHash)
	if st.ClearAmount != nil {
		res.ClearAmount = st.ClearAmount.String()
	}
	setStatus(res, err)
}

func setStatus(res *Result, err error) {
	if err != nil {
		res.Status = StatusError
		res.Error = err.Error()
		return
	}
	res.Status = StatusSuccess
}

func hashOrEmpty(h common.Hash) string {
	if (h == common.Hash{}) {
		return ""
	}
	return h.Hex()
}
