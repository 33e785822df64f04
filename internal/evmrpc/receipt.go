package evmrpc

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/juno-intents/confidential-wrap/internal/eth"
)

type rpcLog struct {
	Address common.Address `json:"address"`
	Topics  []common.Hash  `json:"topics"`
	Data    hexutil.Bytes  `json:"data"`
}

type rpcReceipt struct {
	Status          json.RawMessage `json:"status"`
	TransactionHash common.Hash     `json:"transactionHash"`
	BlockNumber     json.RawMessage `json:"blockNumber"`
	Logs            []rpcLog        `json:"logs"`
}

func decodeReceipt(raw json.RawMessage) (eth.Receipt, error) {
	var rr rpcReceipt
	if err := json.Unmarshal(raw, &rr); err != nil {
		return eth.Receipt{}, fmt.Errorf("evmrpc: decode receipt: %w", err)
	}
	status, err := parseQuantity(rr.Status)
	if err != nil {
		return eth.Receipt{}, fmt.Errorf("evmrpc: receipt status: %w", err)
	}
	var block uint64
	if len(rr.BlockNumber) > 0 && string(rr.BlockNumber) != "null" {
		block, err = parseQuantity(rr.BlockNumber)
		if err != nil {
			return eth.Receipt{}, fmt.Errorf("evmrpc: receipt blockNumber: %w", err)
		}
	}

	out := eth.Receipt{
		Status:      status,
		TxHash:      rr.TransactionHash,
		BlockNumber: block,
	}
	if len(rr.Logs) > 0 {
		out.Logs = make([]eth.Log, 0, len(rr.Logs))
	}
	for _, l := range rr.Logs {
		out.Logs = append(out.Logs, eth.Log{
			Address: l.Address,
			Topics:  l.Topics,
			Data:    []byte(l.Data),
		})
	}
	return out, nil
}

// parseQuantity accepts a JSON number, a 0x-prefixed hex string or a decimal string.
func parseQuantity(raw json.RawMessage) (uint64, error) {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return 0, fmt.Errorf("missing quantity")
	}
	if s[0] == '"' {
		var str string
		if err := json.Unmarshal(raw, &str); err != nil {
			return 0, err
		}
		str = strings.TrimSpace(str)
		if strings.HasPrefix(str, "0x") || strings.HasPrefix(str, "0X") {
			v, err := strconv.ParseUint(str[2:], 16, 64)
			if err != nil {
				return 0, fmt.Errorf("invalid hex quantity %q", str)
			}
			return v, nil
		}
		v, err := strconv.ParseUint(str, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid quantity %q", str)
		}
		return v, nil
	}
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid quantity %s", s)
	}
	return v, nil
}
