// Package fhegateway is an HTTP client for the relayer that encrypts inputs for and
// publicly decrypts handles of confidential token contracts.
package fhegateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

var (
	ErrInvalidClientConfig = errors.New("fhegateway: invalid client config")
	ErrInvalidRequest      = errors.New("fhegateway: invalid request")
	ErrInvalidResponse     = errors.New("fhegateway: invalid response")
)

// StatusError is a non-200 reply from the gateway.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("fhegateway: status %d: %s", e.StatusCode, e.Message)
}

type ClientOption func(*Client) error

func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) error {
		if hc == nil {
			return fmt.Errorf("%w: nil http client", ErrInvalidClientConfig)
		}
		c.hc = hc
		return nil
	}
}

func WithMaxResponseBytes(n int64) ClientOption {
	return func(c *Client) error {
		if n <= 0 {
			return fmt.Errorf("%w: max response bytes must be > 0", ErrInvalidClientConfig)
		}
		c.maxRespBytes = n
		return nil
	}
}

type Client struct {
	baseURL      *url.URL
	authToken    string
	hc           *http.Client
	maxRespBytes int64
}

func NewClient(baseURL string, authToken string, opts ...ClientOption) (*Client, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, fmt.Errorf("%w: missing base url", ErrInvalidClientConfig)
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("%w: parse base url: %v", ErrInvalidClientConfig, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidClientConfig, u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("%w: missing host", ErrInvalidClientConfig)
	}

	c := &Client{
		baseURL:      u,
		authToken:    authToken,
		hc:           &http.Client{Timeout: 2 * time.Minute},
		maxRespBytes: 4 << 20, // 4 MiB; input proofs grow with the number of values
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

// Encrypt encrypts values for use by user in calls to contract.
func (c *Client) Encrypt(ctx context.Context, values []*big.Int, contract, user common.Address) (EncryptedInput, error) {
	if len(values) == 0 {
		return EncryptedInput{}, fmt.Errorf("%w: no values", ErrInvalidRequest)
	}
	req := EncryptRequest{
		Values:          make([]string, 0, len(values)),
		ContractAddress: contract.Hex(),
		UserAddress:     user.Hex(),
	}
	for i, v := range values {
		if v == nil || v.Sign() < 0 {
			return EncryptedInput{}, fmt.Errorf("%w: value %d must be >= 0", ErrInvalidRequest, i)
		}
		req.Values = append(req.Values, v.String())
	}

	var resp EncryptResponse
	if err := c.post(ctx, "/v1/encrypt", req, &resp); err != nil {
		return EncryptedInput{}, err
	}
	if len(resp.Handles) != len(values) {
		return EncryptedInput{}, fmt.Errorf("%w: got %d handles for %d values", ErrInvalidResponse, len(resp.Handles), len(values))
	}

	out := EncryptedInput{Handles: make([]common.Hash, 0, len(resp.Handles))}
	for _, h := range resp.Handles {
		hash, err := parseHandle(h)
		if err != nil {
			return EncryptedInput{}, err
		}
		out.Handles = append(out.Handles, hash)
	}
	proof, err := hexutil.Decode(resp.InputProof)
	if err != nil {
		return EncryptedInput{}, fmt.Errorf("%w: inputProof: %v", ErrInvalidResponse, err)
	}
	out.InputProof = proof
	return out, nil
}

// PublicDecrypt returns the cleartexts of publicly decryptable handles together with the
// proof the contract verifies on finalization.
func (c *Client) PublicDecrypt(ctx context.Context, handles []common.Hash) (PublicDecryption, error) {
	if len(handles) == 0 {
		return PublicDecryption{}, fmt.Errorf("%w: no handles", ErrInvalidRequest)
	}
	req := PublicDecryptRequest{Handles: make([]string, 0, len(handles))}
	for _, h := range handles {
		req.Handles = append(req.Handles, h.Hex())
	}

	var resp PublicDecryptResponse
	if err := c.post(ctx, "/v1/public-decrypt", req, &resp); err != nil {
		return PublicDecryption{}, err
	}

	out := PublicDecryption{ClearValues: make(map[common.Hash]*big.Int, len(resp.ClearValues))}
	for k, v := range resp.ClearValues {
		h, err := parseHandle(k)
		if err != nil {
			return PublicDecryption{}, err
		}
		n, ok := parseClearValue(v)
		if !ok {
			return PublicDecryption{}, fmt.Errorf("%w: clear value for %s: %q", ErrInvalidResponse, k, v)
		}
		out.ClearValues[h] = n
	}
	proof, err := hexutil.Decode(resp.DecryptionProof)
	if err != nil {
		return PublicDecryption{}, fmt.Errorf("%w: decryptionProof: %v", ErrInvalidResponse, err)
	}
	out.DecryptionProof = proof
	return out, nil
}

func (c *Client) post(ctx context.Context, endpoint string, in any, out any) error {
	if c == nil || c.baseURL == nil || c.hc == nil {
		return fmt.Errorf("%w: nil client", ErrInvalidClientConfig)
	}

	u := *c.baseURL
	u.Path = joinPath(u.Path, endpoint)

	b, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("fhegateway: marshal request: %w", err)
	}

	r, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(b))
	if err != nil {
		return fmt.Errorf("fhegateway: build request: %w", err)
	}
	r.Header.Set("Content-Type", "application/json")
	r.Header.Set("Accept", "application/json")
	if c.authToken != "" {
		r.Header.Set("Authorization", "Bearer "+c.authToken)
	}

	resp, err := c.hc.Do(r)
	if err != nil {
		return fmt.Errorf("fhegateway: http do: %w", err)
	}
	defer resp.Body.Close()

	body, err := readAllLimited(resp.Body, c.maxRespBytes)
	if err != nil {
		return err
	}

	if resp.StatusCode != http.StatusOK {
		msg := strings.TrimSpace(string(body))
		if msg == "" {
			msg = resp.Status
		} else {
			var er struct {
				Error string `json:"error"`
			}
			if json.Unmarshal(body, &er) == nil && er.Error != "" {
				msg = er.Error
			}
		}
		return &StatusError{StatusCode: resp.StatusCode, Message: msg}
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("fhegateway: unmarshal response: %w", err)
	}
	return nil
}

// parseHandle accepts 0x-prefixed 32-byte hex in any letter case.
func parseHandle(s string) (common.Hash, error) {
	b, err := hexutil.Decode(strings.ToLower(strings.TrimSpace(s)))
	if err != nil || len(b) != common.HashLength {
		return common.Hash{}, fmt.Errorf("%w: handle %q", ErrInvalidResponse, s)
	}
	return common.BytesToHash(b), nil
}

func parseClearValue(s string) (*big.Int, bool) {
	s = strings.TrimSpace(s)
	base := 10
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		s, base = s[2:], 16
	}
	n, ok := new(big.Int).SetString(s, base)
	if !ok || n.Sign() < 0 {
		return nil, false
	}
	return n, true
}

func joinPath(basePath string, suffix string) string {
	if basePath == "" {
		basePath = "/"
	}
	return path.Join(basePath, suffix)
}

func readAllLimited(r io.Reader, maxBytes int64) ([]byte, error) {
	b, err := io.ReadAll(io.LimitReader(r, maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("fhegateway: read response: %w", err)
	}
	if int64(len(b)) > maxBytes {
		return nil, fmt.Errorf("fhegateway: response too large")
	}
	return b, nil
}
