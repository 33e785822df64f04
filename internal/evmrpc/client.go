package evmrpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/juno-intents/confidential-wrap/internal/eth"
)

var (
	ErrInvalidConfig    = errors.New("evmrpc: invalid config")
	ErrRPC              = errors.New("evmrpc: rpc error")
	ErrResponseTooLarge = errors.New("evmrpc: response too large")
)

// RPCError carries a JSON-RPC error object, or an HTTP failure with the status as Code.
type RPCError struct {
	Code    int
	Message string
	Data    json.RawMessage
}

func (e *RPCError) Error() string {
	if e == nil {
		return "evmrpc: nil rpc error"
	}
	if len(e.Data) > 0 && string(e.Data) != "null" {
		return fmt.Sprintf("evmrpc: rpc error code %d: %s (data: %s)", e.Code, e.Message, string(e.Data))
	}
	return fmt.Sprintf("evmrpc: rpc error code %d: %s", e.Code, e.Message)
}

func (e *RPCError) Unwrap() error { return ErrRPC }

type Option func(*Client) error

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) error {
		if hc == nil {
			return fmt.Errorf("%w: nil http client", ErrInvalidConfig)
		}
		c.hc = hc
		return nil
	}
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) error {
		if d <= 0 {
			return fmt.Errorf("%w: timeout must be > 0", ErrInvalidConfig)
		}
		hc := *c.hc
		hc.Timeout = d
		c.hc = &hc
		return nil
	}
}

func WithMaxResponseBytes(n int64) Option {
	return func(c *Client) error {
		if n <= 0 {
			return fmt.Errorf("%w: max response bytes must be > 0", ErrInvalidConfig)
		}
		c.maxRespBytes = n
		return nil
	}
}

// Client is a minimal EVM JSON-RPC client bound to one endpoint.
// Request ids are allocated per instance.
type Client struct {
	url          string
	hc           *http.Client
	maxRespBytes int64
	nextID       atomic.Uint64
}

func New(url string, opts ...Option) (*Client, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, fmt.Errorf("%w: missing url", ErrInvalidConfig)
	}
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		return nil, fmt.Errorf("%w: url must be http(s)", ErrInvalidConfig)
	}
	c := &Client{
		url:          url,
		hc:           &http.Client{Timeout: 30 * time.Second},
		maxRespBytes: 10 << 20, // 10 MiB
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (c *Client) URL() string { return c.url }

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *rpcError       `json:"error"`
}

type callArgs struct {
	To   common.Address `json:"to"`
	Data hexutil.Bytes  `json:"data"`
}

// Call executes eth_call against the latest block and returns the raw return data.
func (c *Client) Call(ctx context.Context, to common.Address, data []byte) (hexutil.Bytes, error) {
	var out hexutil.Bytes
	if err := c.call(ctx, "eth_call", []any{callArgs{To: to, Data: data}, "latest"}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// TransactionReceipt returns nil (and no error) while the transaction is not yet mined.
func (c *Client) TransactionReceipt(ctx context.Context, hash common.Hash) (*eth.Receipt, error) {
	var raw json.RawMessage
	if err := c.call(ctx, "eth_getTransactionReceipt", []any{hash}, &raw); err != nil {
		return nil, err
	}
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	r, err := decodeReceipt(raw)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// WaitForReceipt polls eth_getTransactionReceipt every pollInterval until the receipt is
// available or timeout elapses, in which case the error is an *eth.ReceiptTimeoutError.
func (c *Client) WaitForReceipt(ctx context.Context, hash common.Hash, timeout, pollInterval time.Duration) (eth.Receipt, error) {
	if timeout <= 0 || pollInterval <= 0 {
		return eth.Receipt{}, fmt.Errorf("%w: timeout and poll interval must be > 0", ErrInvalidConfig)
	}
	wctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	expired := func() bool { return ctx.Err() == nil && wctx.Err() != nil }

	for {
		r, err := c.TransactionReceipt(wctx, hash)
		if err != nil {
			if expired() {
				return eth.Receipt{}, &eth.ReceiptTimeoutError{Hash: hash, Timeout: timeout}
			}
			return eth.Receipt{}, err
		}
		if r != nil {
			return *r, nil
		}
		if err := eth.SleepCtx(wctx, pollInterval); err != nil {
			if expired() {
				return eth.Receipt{}, &eth.ReceiptTimeoutError{Hash: hash, Timeout: timeout}
			}
			return eth.Receipt{}, err
		}
	}
}

func (c *Client) call(ctx context.Context, method string, params []any, out any) error {
	reqBody, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      c.nextID.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return fmt.Errorf("evmrpc: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(reqBody))
	if err != nil {
		return fmt.Errorf("evmrpc: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("evmrpc: %s: http do: %w", method, err)
	}
	defer resp.Body.Close()

	body, err := readAllLimited(resp.Body, c.maxRespBytes)
	if err != nil {
		return err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := strings.TrimSpace(string(body))
		if msg == "" {
			msg = resp.Status
		}
		return &RPCError{Code: resp.StatusCode, Message: msg}
	}

	var rr rpcResponse
	if err := json.Unmarshal(body, &rr); err != nil {
		return fmt.Errorf("evmrpc: %s: unmarshal response: %w", method, err)
	}
	if rr.Error != nil {
		return &RPCError{
			Code:    rr.Error.Code,
			Message: rr.Error.Message,
			Data:    rr.Error.Data,
		}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(rr.Result, out); err != nil {
		return fmt.Errorf("evmrpc: %s: unmarshal result: %w", method, err)
	}
	return nil
}

func readAllLimited(r io.Reader, maxBytes int64) ([]byte, error) {
	b, err := io.ReadAll(io.LimitReader(r, maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("evmrpc: read response: %w", err)
	}
	if int64(len(b)) > maxBytes {
		return nil, ErrResponseTooLarge
	}
	return b, nil
}
