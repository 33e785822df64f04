package eth

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

var ErrInvalidSenderConfig = errors.New("eth: invalid sender config")

// Backend is the subset of *ethclient.Client needed to price, sign and broadcast transactions.
type Backend interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
}

type SenderConfig struct {
	ChainID            *big.Int
	GasLimitMultiplier float64
	MinTipCap          *big.Int
}

// TxSender signs EIP-1559 transactions with a single Signer and broadcasts them.
// It returns as soon as the node accepted the transaction; it never waits for inclusion.
type TxSender struct {
	backend Backend
	signer  Signer
	nonces  *NonceManager
	cfg     SenderConfig
}

func NewTxSender(backend Backend, signer Signer, cfg SenderConfig) (*TxSender, error) {
	if backend == nil || signer == nil {
		return nil, ErrInvalidSenderConfig
	}
	if (signer.Address() == common.Address{}) {
		return nil, fmt.Errorf("%w: zero signer address", ErrInvalidSenderConfig)
	}
	if cfg.ChainID == nil || cfg.ChainID.Sign() <= 0 {
		return nil, fmt.Errorf("%w: chain id must be > 0", ErrInvalidSenderConfig)
	}
	if cfg.GasLimitMultiplier <= 0 {
		return nil, fmt.Errorf("%w: gas limit multiplier must be > 0", ErrInvalidSenderConfig)
	}
	if cfg.MinTipCap == nil || cfg.MinTipCap.Sign() < 0 {
		return nil, fmt.Errorf("%w: min tip cap must be >= 0", ErrInvalidSenderConfig)
	}
	return &TxSender{
		backend: backend,
		signer:  signer,
		nonces:  NewNonceManager(backend, signer.Address()),
		cfg:     cfg,
	}, nil
}

func (s *TxSender) Address() common.Address { return s.signer.Address() }

func (s *TxSender) SendTransaction(ctx context.Context, req TxRequest) (common.Hash, error) {
	from := s.signer.Address()

	value := req.Value
	if value == nil {
		value = big.NewInt(0)
	}
	if value.Sign() < 0 {
		return common.Hash{}, fmt.Errorf("%w: negative value", ErrInvalidSenderConfig)
	}

	gasLimit := req.GasLimit
	if gasLimit == 0 {
		est, err := s.backend.EstimateGas(ctx, ethereum.CallMsg{
			From:  from,
			To:    &req.To,
			Value: value,
			Data:  req.Data,
		})
		if err != nil {
			return common.Hash{}, fmt.Errorf("eth: estimate gas: %w", err)
		}
		gasLimit = applyGasMultiplier(est, s.cfg.GasLimitMultiplier)
	}

	suggestedTip, err := s.backend.SuggestGasTipCap(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("eth: suggest tip: %w", err)
	}
	header, err := s.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return common.Hash{}, fmt.Errorf("eth: latest header: %w", err)
	}
	if header.BaseFee == nil || header.BaseFee.Sign() < 0 {
		return common.Hash{}, fmt.Errorf("eth: missing baseFee in latest header")
	}
	tipCap, feeCap, err := Calc1559Fees(header.BaseFee, suggestedTip, s.cfg.MinTipCap)
	if err != nil {
		return common.Hash{}, err
	}

	nonce, err := s.nonces.Reserve(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("eth: pending nonce: %w", err)
	}

	to := req.To
	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   s.cfg.ChainID,
		Nonce:     nonce,
		GasTipCap: tipCap,
		GasFeeCap: feeCap,
		Gas:       gasLimit,
		To:        &to,
		Value:     value,
		Data:      req.Data,
	})
	signed, err := s.signer.SignTx(tx, s.cfg.ChainID)
	if err != nil {
		s.nonces.Return(nonce)
		return common.Hash{}, err
	}
	if err := s.backend.SendTransaction(ctx, signed); err != nil {
		s.nonces.Forget()
		return common.Hash{}, fmt.Errorf("eth: send transaction: %w", err)
	}
	return signed.Hash(), nil
}

func applyGasMultiplier(est uint64, mult float64) uint64 {
	if mult <= 1 {
		return est
	}
	out := uint64(math.Ceil(float64(est) * mult))
	if out < est {
		// overflow or float error; fall back to the estimate.
		return est
	}
	return out
}
