package conversion

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

const (
	RequestVersion = "conversions.request.v1"
	ResultVersion  = "conversions.result.v1"
)

var ErrInvalidRequest = errors.New("conversion: invalid request")

type Kind string

const (
	KindShield   Kind = "shield"
	KindUnshield Kind = "unshield"
	// KindFinalize completes an unshield whose burn is already confirmed.
	KindFinalize Kind = "finalize"
)

type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
	StatusBusy    Status = "busy"
)

// Request is a parsed, validated conversion request.
type Request struct {
	ID        string
	Kind      Kind
	Token     common.Address
	Wrapper   common.Address
	Amount    *big.Int
	Recipient common.Address

	BurntAmountHandle common.Hash
	UnwrapTxHash      common.Hash
}

type requestV1 struct {
	Version           string `json:"version"`
	ID                string `json:"id,omitempty"`
	Kind              Kind   `json:"kind"`
	Token             string `json:"token,omitempty"`
	Wrapper           string `json:"wrapper"`
	Amount            string `json:"amount,omitempty"`
	Recipient         string `json:"recipient,omitempty"`
	BurntAmountHandle string `json:"burntAmountHandle,omitempty"`
	UnwrapTxHash      string `json:"unwrapTxHash,omitempty"`
}

// ParseRequest decodes and validates a conversions.request.v1 envelope. Amounts are
// decimal strings so that no JSON number precision is lost.
func ParseRequest(b []byte) (Request, error) {
	var in requestV1
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&in); err != nil {
		return Request{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if in.Version != RequestVersion {
		return Request{}, fmt.Errorf("%w: unsupported version %q", ErrInvalidRequest, in.Version)
	}

	var (
		out = Request{ID: strings.TrimSpace(in.ID), Kind: in.Kind}
		err error
	)
	if out.Wrapper, err = parseAddress("wrapper", in.Wrapper, true); err != nil {
		return Request{}, err
	}
	if out.Recipient, err = parseAddress("recipient", in.Recipient, false); err != nil {
		return Request{}, err
	}

	switch in.Kind {
	case KindShield:
		if out.Token, err = parseAddress("token", in.Token, true); err != nil {
			return Request{}, err
		}
		if out.Amount, err = parseAmount(in.Amount); err != nil {
			return Request{}, err
		}
	case KindUnshield:
		if out.Amount, err = parseAmount(in.Amount); err != nil {
			return Request{}, err
		}
	case KindFinalize:
		if out.BurntAmountHandle, err = parseHash("burntAmountHandle", in.BurntAmountHandle, true); err != nil {
			return Request{}, err
		}
		if out.UnwrapTxHash, err = parseHash("unwrapTxHash", in.UnwrapTxHash, false); err != nil {
			return Request{}, err
		}
	default:
		return Request{}, fmt.Errorf("%w: unknown kind %q", ErrInvalidRequest, in.Kind)
	}
	return out, nil
}

// EncodeRequest is the inverse of ParseRequest.
func EncodeRequest(r Request) ([]byte, error) {
	out := requestV1{
		Version: RequestVersion,
		ID:      r.ID,
		Kind:    r.Kind,
		Wrapper: r.Wrapper.Hex(),
	}
	if (r.Token != common.Address{}) {
		out.Token = r.Token.Hex()
	}
	if r.Amount != nil {
		out.Amount = r.Amount.String()
	}
	if (r.Recipient != common.Address{}) {
		out.Recipient = r.Recipient.Hex()
	}
	if (r.BurntAmountHandle != common.Hash{}) {
		out.BurntAmountHandle = r.BurntAmountHandle.Hex()
	}
	if (r.UnwrapTxHash != common.Hash{}) {
		out.UnwrapTxHash = r.UnwrapTxHash.Hex()
	}
	return json.Marshal(out)
}

// Result is the conversions.result.v1 envelope published for every handled request.
type Result struct {
	Version string `json:"version"`
	ID      string `json:"id"`
	Kind    Kind   `json:"kind"`
	Account string `json:"account"`
	Status  Status `json:"status"`
	Phase   string `json:"phase"`

	ApproveTxHash     string `json:"approveTxHash,omitempty"`
	WrapTxHash        string `json:"wrapTxHash,omitempty"`
	UnwrapTxHash      string `json:"unwrapTxHash,omitempty"`
	BurntAmountHandle string `json:"burntAmountHandle,omitempty"`
	ClearAmount       string `json:"clearAmount,omitempty"`
	FinalizeTxHash    string `json:"finalizeTxHash,omitempty"`

	Error string `json:"error,omitempty"`
}

func parseAddress(field, s string, required bool) (common.Address, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		if required {
			return common.Address{}, fmt.Errorf("%w: %s is required", ErrInvalidRequest, field)
		}
		return common.Address{}, nil
	}
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("%w: %s must be a hex address", ErrInvalidRequest, field)
	}
	a := common.HexToAddress(s)
	if required && (a == common.Address{}) {
		return common.Address{}, fmt.Errorf("%w: %s must be non-zero", ErrInvalidRequest, field)
	}
	return a, nil
}

func parseHash(field, s string, required bool) (common.Hash, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		if required {
			return common.Hash{}, fmt.Errorf("%w: %s is required", ErrInvalidRequest, field)
		}
		return common.Hash{}, nil
	}
	b, err := hexutil.Decode(s)
	if err != nil || len(b) != common.HashLength {
		return common.Hash{}, fmt.Errorf("%w: %s must be 0x-prefixed 32-byte hex", ErrInvalidRequest, field)
	}
	h := common.BytesToHash(b)
	if required && (h == common.Hash{}) {
		return common.Hash{}, fmt.Errorf("%w: %s must be non-zero", ErrInvalidRequest, field)
	}
	return h, nil
}

func parseAmount(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("%w: amount must be a decimal integer", ErrInvalidRequest)
	}
	if v.Sign() <= 0 {
		return nil, fmt.Errorf("%w: amount must be > 0", ErrInvalidRequest)
	}
	return v, nil
}
