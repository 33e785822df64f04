// Package abicodec encodes the fixed set of ERC20 / ERC7984 wrapper calls used by the
// conversion sagas and decodes their single-word results.
package abicodec

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

const wordSize = 32

var (
	ErrUnsupportedType  = errors.New("abicodec: unsupported type")
	ErrUnknownSignature = errors.New("abicodec: unknown signature")
	ErrInvalidArgument  = errors.New("abicodec: invalid argument")
	ErrShortData        = errors.New("abicodec: short data")
)

var maxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

// Encode returns selector(signature) followed by the ABI encoding of args.
func Encode(signature string, args ...any) ([]byte, error) {
	sel, ok := selectors[signature]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSignature, signature)
	}
	types, err := ParamTypes(signature)
	if err != nil {
		return nil, err
	}
	params, err := EncodeParams(types, args...)
	if err != nil {
		return nil, fmt.Errorf("abicodec: encode %s: %w", signature, err)
	}
	out := make([]byte, 0, 4+len(params))
	out = append(out, sel[:]...)
	return append(out, params...), nil
}

// ParamTypes parses the comma separated parameter list of a canonical signature.
func ParamTypes(signature string) ([]string, error) {
	open := strings.IndexByte(signature, '(')
	if open <= 0 || !strings.HasSuffix(signature, ")") {
		return nil, fmt.Errorf("%w: malformed signature %q", ErrInvalidArgument, signature)
	}
	inner := signature[open+1 : len(signature)-1]
	if inner == "" {
		return nil, nil
	}
	return strings.Split(inner, ","), nil
}

// EncodeParams encodes args as an ABI parameter block: one head word per parameter,
// followed by the tail of dynamic values in parameter order.
func EncodeParams(types []string, args ...any) ([]byte, error) {
	if len(types) != len(args) {
		return nil, fmt.Errorf("%w: got %d args for %d params", ErrInvalidArgument, len(args), len(types))
	}

	headLen := wordSize * len(types)
	head := make([]byte, 0, headLen)
	var tail []byte

	for i, typ := range types {
		switch typ {
		case "bytes":
			b, err := asBytes(args[i])
			if err != nil {
				return nil, fmt.Errorf("param %d (%s): %w", i, typ, err)
			}
			head = append(head, uintWord(uint64(headLen+len(tail)))...)
			tail = append(tail, uintWord(uint64(len(b)))...)
			tail = append(tail, b...)
			if rem := len(b) % wordSize; rem != 0 {
				tail = append(tail, make([]byte, wordSize-rem)...)
			}
		default:
			w, err := EncodeWord(typ, args[i])
			if err != nil {
				return nil, fmt.Errorf("param %d (%s): %w", i, typ, err)
			}
			head = append(head, w...)
		}
	}
	return append(head, tail...), nil
}

// EncodeWord encodes a single static value as one 32-byte word.
func EncodeWord(typ string, v any) ([]byte, error) {
	w := make([]byte, wordSize)
	switch typ {
	case "address":
		a, ok := v.(common.Address)
		if !ok {
			return nil, fmt.Errorf("%w: address wants common.Address, got %T", ErrInvalidArgument, v)
		}
		copy(w[wordSize-common.AddressLength:], a[:])
	case "uint256", "uint64":
		n, err := asBig(v)
		if err != nil {
			return nil, err
		}
		if typ == "uint64" && !n.IsUint64() {
			return nil, fmt.Errorf("%w: %s overflows uint64", ErrInvalidArgument, n)
		}
		if n.Cmp(maxUint256) > 0 {
			return nil, fmt.Errorf("%w: %s overflows uint256", ErrInvalidArgument, n)
		}
		n.FillBytes(w)
	case "bytes32":
		switch h := v.(type) {
		case common.Hash:
			copy(w, h[:])
		case [32]byte:
			copy(w, h[:])
		default:
			return nil, fmt.Errorf("%w: bytes32 wants common.Hash, got %T", ErrInvalidArgument, v)
		}
	case "bool":
		b, ok := v.(bool)
		if !ok {
			return nil, fmt.Errorf("%w: bool wants bool, got %T", ErrInvalidArgument, v)
		}
		if b {
			w[wordSize-1] = 1
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedType, typ)
	}
	return w, nil
}

// Decode extracts a single value of typ from the first word of data.
//
//	address -> common.Address, uint256 -> *big.Int, uint64 -> uint64,
//	bytes32 -> common.Hash, bool -> bool
func Decode(typ string, data []byte) (any, error) {
	switch typ {
	case "address", "uint256", "uint64", "bytes32", "bool":
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedType, typ)
	}
	if len(data) < wordSize {
		return nil, fmt.Errorf("%w: %s needs %d bytes, got %d", ErrShortData, typ, wordSize, len(data))
	}
	word := data[:wordSize]

	switch typ {
	case "address":
		return common.BytesToAddress(word[wordSize-common.AddressLength:]), nil
	case "uint256":
		return new(big.Int).SetBytes(word), nil
	case "uint64":
		n := new(big.Int).SetBytes(word)
		if !n.IsUint64() {
			return nil, fmt.Errorf("%w: value %s overflows uint64", ErrInvalidArgument, n)
		}
		return n.Uint64(), nil
	case "bytes32":
		return common.BytesToHash(word), nil
	default: // bool
		for _, b := range word {
			if b != 0 {
				return true, nil
			}
		}
		return false, nil
	}
}

// DecodeHex is Decode over a 0x-prefixed hex string as returned by eth_call.
func DecodeHex(typ, data string) (any, error) {
	b, err := hexutil.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	return Decode(typ, b)
}

func DecodeAddress(data []byte) (common.Address, error) {
	v, err := Decode("address", data)
	if err != nil {
		return common.Address{}, err
	}
	return v.(common.Address), nil
}

func DecodeUint256(data []byte) (*big.Int, error) {
	v, err := Decode("uint256", data)
	if err != nil {
		return nil, err
	}
	return v.(*big.Int), nil
}

func DecodeUint64(data []byte) (uint64, error) {
	v, err := Decode("uint64", data)
	if err != nil {
		return 0, err
	}
	return v.(uint64), nil
}

func DecodeBytes32(data []byte) (common.Hash, error) {
	v, err := Decode("bytes32", data)
	if err != nil {
		return common.Hash{}, err
	}
	return v.(common.Hash), nil
}

func DecodeBool(data []byte) (bool, error) {
	v, err := Decode("bool", data)
	if err != nil {
		return false, err
	}
	return v.(bool), nil
}

func uintWord(n uint64) []byte {
	w := make([]byte, wordSize)
	new(big.Int).SetUint64(n).FillBytes(w)
	return w
}

func asBig(v any) (*big.Int, error) {
	switch n := v.(type) {
	case *big.Int:
		if n == nil {
			return nil, fmt.Errorf("%w: nil *big.Int", ErrInvalidArgument)
		}
		if n.Sign() < 0 {
			return nil, fmt.Errorf("%w: negative integer %s", ErrInvalidArgument, n)
		}
		return new(big.Int).Set(n), nil
	case uint64:
		return new(big.Int).SetUint64(n), nil
	case uint32:
		return new(big.Int).SetUint64(uint64(n)), nil
	case int:
		if n < 0 {
			return nil, fmt.Errorf("%w: negative integer %d", ErrInvalidArgument, n)
		}
		return big.NewInt(int64(n)), nil
	case int64:
		if n < 0 {
			return nil, fmt.Errorf("%w: negative integer %d", ErrInvalidArgument, n)
		}
		return big.NewInt(n), nil
	default:
		return nil, fmt.Errorf("%w: integer wants *big.Int or uint64, got %T", ErrInvalidArgument, v)
	}
}

func asBytes(v any) ([]byte, error) {
	switch b := v.(type) {
	case []byte:
		return b, nil
	case hexutil.Bytes:
		return b, nil
	default:
		return nil, fmt.Errorf("%w: bytes wants []byte, got %T", ErrInvalidArgument, v)
	}
}
