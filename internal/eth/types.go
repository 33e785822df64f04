package eth

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

const (
	ReceiptStatusFailed     uint64 = 0
	ReceiptStatusSuccessful uint64 = 1
)

var ErrReceiptTimeout = errors.New("eth: receipt timeout")

// TxRequest is a contract call to be signed and broadcast by a wallet backend.
type TxRequest struct {
	To       common.Address
	Data     []byte
	Value    *big.Int
	GasLimit uint64 // optional; 0 => estimate
}

// Log is an event log entry of a mined transaction.
type Log struct {
	Address common.Address
	Topics  []common.Hash
	Data    []byte
}

// Receipt is the backend-independent view of a mined transaction's outcome.
type Receipt struct {
	Status      uint64
	TxHash      common.Hash
	BlockNumber uint64
	Logs        []Log
}

func (r Receipt) Succeeded() bool { return r.Status == ReceiptStatusSuccessful }

// ReceiptFromTypes normalizes a go-ethereum receipt. Topics are copied into a fresh
// slice; address, data and hash are taken verbatim.
func ReceiptFromTypes(r *types.Receipt) Receipt {
	if r == nil {
		return Receipt{}
	}
	out := Receipt{
		Status: r.Status,
		TxHash: r.TxHash,
	}
	if r.BlockNumber != nil && r.BlockNumber.IsUint64() {
		out.BlockNumber = r.BlockNumber.Uint64()
	}
	if len(r.Logs) > 0 {
		out.Logs = make([]Log, 0, len(r.Logs))
	}
	for _, l := range r.Logs {
		if l == nil {
			continue
		}
		out.Logs = append(out.Logs, Log{
			Address: l.Address,
			Topics:  append([]common.Hash(nil), l.Topics...),
			Data:    l.Data,
		})
	}
	return out
}

// ReceiptTimeoutError is returned when no receipt shows up for Hash within Timeout.
type ReceiptTimeoutError struct {
	Hash    common.Hash
	Timeout time.Duration
}

func (e *ReceiptTimeoutError) Error() string {
	if e == nil {
		return "eth: nil receipt timeout error"
	}
	return fmt.Sprintf("eth: timed out waiting for receipt of %s after %dms", e.Hash.Hex(), e.Timeout.Milliseconds())
}

func (e *ReceiptTimeoutError) Unwrap() error { return ErrReceiptTimeout }
