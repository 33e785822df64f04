// Package unshield converts confidential ERC7984 tokens back into the underlying ERC20:
// encrypt amount, burn via unwrap, read the burnt-amount handle, publicly decrypt it,
// finalize the release.
package unshield

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/juno-intents/confidential-wrap/internal/abicodec"
	"github.com/juno-intents/confidential-wrap/internal/blobstore"
	"github.com/juno-intents/confidential-wrap/internal/eth"
	"github.com/juno-intents/confidential-wrap/internal/fhegateway"
	"github.com/juno-intents/confidential-wrap/internal/pending"
	"github.com/juno-intents/confidential-wrap/internal/saga"
	"github.com/juno-intents/confidential-wrap/internal/wallet"
)

type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseEncrypting Phase = "encrypting"
	PhaseSigning    Phase = "signing"
	PhaseConfirming Phase = "confirming"
	PhaseDecrypting Phase = "decrypting"
	PhaseFinalizing Phase = "finalizing"
	PhaseSuccess    Phase = "success"
	PhaseError      Phase = "error"
)

var transitions = map[Phase][]Phase{
	PhaseIdle:       {PhaseEncrypting, PhaseError},
	PhaseEncrypting: {PhaseSigning, PhaseError},
	PhaseSigning:    {PhaseConfirming, PhaseError},
	PhaseConfirming: {PhaseDecrypting, PhaseError},
	PhaseDecrypting: {PhaseFinalizing, PhaseError},
	PhaseFinalizing: {PhaseSuccess, PhaseError},
}

var (
	ErrInvalidRequest = errors.New("unshield: invalid request")

	ErrEncryptionFailed       = errors.New("unshield: encryption failed")
	ErrUnwrapReverted         = errors.New("unshield: unwrap transaction reverted")
	ErrUnwrapEventNotFound    = errors.New("unshield: unwrap requested event not found")
	ErrUnwrapEventAmbiguous   = errors.New("unshield: unwrap requested event ambiguous")
	ErrUnwrapEventMalformed   = errors.New("unshield: unwrap requested event malformed")
	ErrDecryptedValueNotFound = errors.New("unshield: decrypted value not found")
	ErrDecryptedValueTooLarge = errors.New("unshield: decrypted value overflows uint64")
	ErrFinalizeReverted       = errors.New("unshield: finalize transaction reverted")
)

// messages holds the user-facing text for failures a caller is expected to display.
var messages = []struct {
	err  error
	text string
}{
	{ErrEncryptionFailed, "Encryption failed"},
	{ErrUnwrapReverted, "Unwrap transaction reverted"},
	{ErrUnwrapEventNotFound, "UnwrapRequested event not found"},
	{ErrUnwrapEventAmbiguous, "UnwrapRequested event ambiguous"},
	{ErrUnwrapEventMalformed, "UnwrapRequested event malformed"},
	{ErrDecryptedValueNotFound, "Decrypted value not found for burnt amount handle"},
	{ErrDecryptedValueTooLarge, "Decrypted value does not fit uint64"},
	{ErrFinalizeReverted, "Finalize transaction reverted"},
}

// Encryptor produces encrypted inputs bound to a contract and a user.
type Encryptor interface {
	Encrypt(ctx context.Context, values []*big.Int, contract, user common.Address) (fhegateway.EncryptedInput, error)
}

// Decryptor publicly decrypts handles that a contract marked as decryptable.
type Decryptor interface {
	PublicDecrypt(ctx context.Context, handles []common.Hash) (fhegateway.PublicDecryption, error)
}

// Journal persists confirmed burns so finalization can be retried later.
type Journal interface {
	RecordBurn(ctx context.Context, b pending.Burn) (pending.Record, bool, error)
	MarkFinalized(ctx context.Context, burntHandle common.Hash, finalizeTx common.Hash) error
	RecordFailure(ctx context.Context, burntHandle common.Hash, reason string) error
}

// StepError reports the phase an unshield failed in, together with whatever the
// caller needs to resume after a burn.
type StepError struct {
	Phase             Phase
	UnwrapTxHash      common.Hash
	BurntAmountHandle common.Hash
	Err               error
}

func (e *StepError) Error() string {
	msg := e.Message()
	if e.Err != nil && !isSentinel(e.Err) && msg != e.Err.Error() {
		msg += " (" + e.Err.Error() + ")"
	}
	if (e.BurntAmountHandle != common.Hash{}) {
		return fmt.Sprintf("unshield: %s: %s (burnt amount handle %s)", e.Phase, msg, e.BurntAmountHandle)
	}
	return fmt.Sprintf("unshield: %s: %s", e.Phase, msg)
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

func isSentinel(err error) bool {
	for _, m := range messages {
		if err == m.err {
			return true
		}
	}
	return false
}

func (e *StepError) Unwrap() error { return e.Err }

// Burnt reports whether tokens were burnt before the failure.
func (e *StepError) Burnt() bool { return e.BurntAmountHandle != common.Hash{} }

type Request struct {
	Wrapper common.Address
	Amount  *big.Int
	// Recipient of the released ERC20 tokens. Zero means the caller.
	Recipient common.Address
}

func (r Request) Validate() error {
	if (r.Wrapper == common.Address{}) {
		return fmt.Errorf("%w: zero wrapper address", ErrInvalidRequest)
	}
	if r.Amount == nil || r.Amount.Sign() <= 0 {
		return fmt.Errorf("%w: amount must be > 0", ErrInvalidRequest)
	}
	if !r.Amount.IsUint64() {
		return fmt.Errorf("%w: amount exceeds uint64", ErrInvalidRequest)
	}
	return nil
}

// ResumeRequest restarts an unshield whose burn is already confirmed.
type ResumeRequest struct {
	Wrapper           common.Address
	BurntAmountHandle common.Hash
	UnwrapTxHash      common.Hash
}

func (r ResumeRequest) Validate() error {
	if (r.Wrapper == common.Address{}) {
		return fmt.Errorf("%w: zero wrapper address", ErrInvalidRequest)
	}
	if (r.BurntAmountHandle == common.Hash{}) {
		return fmt.Errorf("%w: zero burnt amount handle", ErrInvalidRequest)
	}
	return nil
}

type State struct {
	Phase             Phase
	EncryptedHandle   common.Hash
	UnwrapTxHash      common.Hash
	BurntAmountHandle common.Hash
	ClearAmount       *big.Int
	FinalizeTxHash    common.Hash
	Err               error
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

func WithJournal(j Journal, chainID uint64) Option {
	return func(s *Saga) {
		s.journal = j
		s.chainID = chainID
	}
}

// WithBlobStore configures optional persistence of decryption proofs and results.
func WithBlobStore(store blobstore.Store) Option {
	return func(s *Saga) { s.blobs = store }
}

type Saga struct {
	actions   wallet.Actions
	encryptor Encryptor
	decryptor Decryptor

	journal Journal
	chainID uint64
	blobs   blobstore.Store

	log     *slog.Logger
	observe func(State)
}

func New(actions wallet.Actions, enc Encryptor, dec Decryptor, opts ...Option) (*Saga, error) {
	if actions == nil || enc == nil || dec == nil {
		return nil, fmt.Errorf("%w: nil dependency", ErrInvalidRequest)
	}
	s := &Saga{
		actions:   actions,
		encryptor: enc,
		decryptor: dec,
		log:       slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelInfo})),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

// Run executes a full unshield. On failure the returned error is a *StepError and the
// State carries every hash and handle produced so far.
func (s *Saga) Run(ctx context.Context, req Request) (State, error) {
	r := s.newRun(PhaseIdle)

	if err := req.Validate(); err != nil {
		return r.fail(PhaseIdle, err)
	}
	if !s.actions.Ready() {
		return r.fail(PhaseIdle, wallet.ErrWalletNotReady)
	}
	user := s.actions.Address()
	recipient := req.Recipient
	if (recipient == common.Address{}) {
		recipient = user
	}
	log := s.log.With("wrapper", req.Wrapper, "user", user, "amount", req.Amount)

	if err := r.to(PhaseEncrypting); err != nil {
		return r.fail(PhaseIdle, err)
	}
	enc, err := s.encryptor.Encrypt(ctx, []*big.Int{req.Amount}, req.Wrapper, user)
	if err != nil {
		return r.fail(PhaseEncrypting, fmt.Errorf("%w: %w", ErrEncryptionFailed, err))
	}
	if len(enc.Handles) == 0 {
		return r.fail(PhaseEncrypting, fmt.Errorf("%w: gateway returned no handle", ErrEncryptionFailed))
	}
	r.st.EncryptedHandle = enc.Handles[0]

	if err := r.to(PhaseSigning); err != nil {
		return r.fail(PhaseEncrypting, err)
	}
	data, err := abicodec.Unwrap(user, recipient, enc.Handles[0], enc.InputProof)
	if err != nil {
		return r.fail(PhaseSigning, err)
	}
	hash, err := s.actions.SendTransaction(ctx, eth.TxRequest{To: req.Wrapper, Data: data})
	if err != nil {
		return r.fail(PhaseSigning, err)
	}
	r.st.UnwrapTxHash = hash
	log.Info("submitted unwrap", "txHash", hash, "recipient", recipient)

	rcpt, err := s.actions.WaitForReceipt(ctx, hash)
	if err != nil {
		return r.fail(PhaseSigning, err)
	}
	if !rcpt.Succeeded() {
		return r.fail(PhaseSigning, ErrUnwrapReverted)
	}

	if err := r.to(PhaseConfirming); err != nil {
		return r.fail(PhaseSigning, err)
	}
	handle, err := FindUnwrapRequested(rcpt.Logs, req.Wrapper)
	if err != nil {
		return r.fail(PhaseConfirming, err)
	}
	r.st.BurntAmountHandle = handle
	log.Info("unwrap confirmed", "burntAmountHandle", handle, "block", rcpt.BlockNumber)

	s.recordBurn(ctx, pending.Burn{
		BurntAmountHandle: handle,
		ChainID:           s.chainID,
		Wrapper:           req.Wrapper,
		Account:           user,
		Recipient:         recipient,
		UnwrapTxHash:      hash,
	})

	return s.finalize(ctx, r, req.Wrapper, handle)
}

// Resume finalizes a burn recorded by an earlier, failed Run. It starts at decrypting.
func (s *Saga) Resume(ctx context.Context, req ResumeRequest) (State, error) {
	r := s.newRun(PhaseConfirming)
	r.st.UnwrapTxHash = req.UnwrapTxHash
	r.st.BurntAmountHandle = req.BurntAmountHandle

	if err := req.Validate(); err != nil {
		return r.fail(PhaseConfirming, err)
	}
	if !s.actions.Ready() {
		return r.fail(PhaseConfirming, wallet.ErrWalletNotReady)
	}
	return s.finalize(ctx, r, req.Wrapper, req.BurntAmountHandle)
}

func (s *Saga) finalize(ctx context.Context, r *run, wrapper common.Address, handle common.Hash) (State, error) {
	log := s.log.With("wrapper", wrapper, "burntAmountHandle", handle)

	if err := r.to(PhaseDecrypting); err != nil {
		return r.fail(PhaseConfirming, err)
	}
	dec, err := s.decryptor.PublicDecrypt(ctx, []common.Hash{handle})
	if err != nil {
		return r.fail(PhaseDecrypting, err)
	}
	amount, ok := dec.Value(handle)
	if !ok {
		return r.fail(PhaseDecrypting, ErrDecryptedValueNotFound)
	}
	if !amount.IsUint64() {
		return r.fail(PhaseDecrypting, fmt.Errorf("%w: %s", ErrDecryptedValueTooLarge, amount))
	}
	r.st.ClearAmount = new(big.Int).Set(amount)
	s.persistDecryptionProof(ctx, handle, dec.DecryptionProof)

	if err := r.to(PhaseFinalizing); err != nil {
		return r.fail(PhaseDecrypting, err)
	}
	data, err := abicodec.FinalizeUnwrap(handle, amount.Uint64(), dec.DecryptionProof)
	if err != nil {
		return r.fail(PhaseFinalizing, err)
	}
	hash, err := s.actions.SendTransaction(ctx, eth.TxRequest{To: wrapper, Data: data})
	if err != nil {
		return r.fail(PhaseFinalizing, err)
	}
	r.st.FinalizeTxHash = hash
	log.Info("submitted finalizeUnwrap", "txHash", hash, "clearAmount", amount)

	rcpt, err := s.actions.WaitForReceipt(ctx, hash)
	if err != nil {
		return r.fail(PhaseFinalizing, err)
	}
	if !rcpt.Succeeded() {
		return r.fail(PhaseFinalizing, ErrFinalizeReverted)
	}

	if err := r.to(PhaseSuccess); err != nil {
		return r.fail(PhaseFinalizing, err)
	}
	if s.journal != nil {
		if err := s.journal.MarkFinalized(ctx, handle, hash); err != nil {
			log.Warn("journal finalize failed", "err", err)
		}
	}
	s.persistResult(ctx, r.snapshot())
	log.Info("unshield finalized", "txHash", hash, "block", rcpt.BlockNumber)
	return r.snapshot(), nil
}

func (s *Saga) recordBurn(ctx context.Context, b pending.Burn) {
	if s.journal == nil {
		return
	}
	if _, _, err := s.journal.RecordBurn(ctx, b); err != nil {
		s.log.Warn("journal burn failed", "burntAmountHandle", b.BurntAmountHandle, "err", err)
	}
}

func (s *Saga) persistDecryptionProof(ctx context.Context, handle common.Hash, proof []byte) {
	if s.blobs == nil {
		return
	}
	if err := s.blobs.Put(ctx, blobstore.UnshieldKey(handle, blobstore.ArtifactDecryptionProof), proof, blobstore.PutOptions{
		ContentType: "application/octet-stream",
		Metadata: map[string]string{
			"artifact-type":       "unshield-decryption-proof",
			"burnt-amount-handle": handle.Hex(),
		},
	}); err != nil {
		s.log.Warn("persist decryption proof failed", "burntAmountHandle", handle, "err", err)
	}
}

type resultArtifact struct {
	BurntAmountHandle string `json:"burntAmountHandle"`
	UnwrapTxHash      string `json:"unwrapTxHash,omitempty"`
	FinalizeTxHash    string `json:"finalizeTxHash"`
	ClearAmount       string `json:"clearAmount"`
}

func (s *Saga) persistResult(ctx context.Context, st State) {
	if s.blobs == nil {
		return
	}
	a := resultArtifact{
		BurntAmountHandle: st.BurntAmountHandle.Hex(),
		FinalizeTxHash:    st.FinalizeTxHash.Hex(),
		ClearAmount:       st.ClearAmount.String(),
	}
	if (st.UnwrapTxHash != common.Hash{}) {
		a.UnwrapTxHash = st.UnwrapTxHash.Hex()
	}
	key := blobstore.UnshieldKey(st.BurntAmountHandle, blobstore.ArtifactUnshieldResult)
	if err := blobstore.PutJSON(ctx, s.blobs, key, a, map[string]string{"artifact-type": "unshield-result"}); err != nil {
		s.log.Warn("persist unshield result failed", "burntAmountHandle", st.BurntAmountHandle, "err", err)
	}
}

type run struct {
	owner *Saga
	m     *saga.Machine[Phase]
	st    State
}

func (s *Saga) newRun(start Phase) *run {
	r := &run{owner: s, m: saga.NewMachine(start, transitions), st: State{Phase: start}}
	r.m.OnTransition(func(_, to Phase) {
		r.st.Phase = to
		if s.observe != nil {
			s.observe(r.snapshot())
		}
	})
	return r
}

func (r *run) to(p Phase) error { return r.m.To(p) }

func (r *run) snapshot() State {
	st := r.st
	if st.ClearAmount != nil {
		st.ClearAmount = new(big.Int).Set(st.ClearAmount)
	}
	return st
}

func (r *run) fail(phase Phase, err error) (State, error) {
	stepErr := &StepError{
		Phase:             phase,
		UnwrapTxHash:      r.st.UnwrapTxHash,
		BurntAmountHandle: r.st.BurntAmountHandle,
		Err:               err,
	}
	r.st.Err = stepErr
	if moveErr := r.m.To(PhaseError); moveErr != nil {
		r.st.Phase = PhaseError
	}

	s := r.owner
	s.log.Warn("unshield failed", "phase", phase, "unwrapTxHash", r.st.UnwrapTxHash, "err", err)
	if s.journal != nil && stepErr.Burnt() {
		if jerr := s.journal.RecordFailure(context.Background(), stepErr.BurntAmountHandle, truncate(stepErr.Message(), 512)); jerr != nil {
			s.log.Warn("journal failure record failed", "burntAmountHandle", stepErr.BurntAmountHandle, "err", jerr)
		}
	}
	return r.snapshot(), stepErr
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n]
}
