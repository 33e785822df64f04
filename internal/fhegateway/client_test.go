package fhegateway

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func TestNewClient_Validates(t *testing.T) {
	t.Parallel()

	for _, u := range []string{"", "ftp://x", "http://", "::"} {
		if _, err := NewClient(u, ""); !errors.Is(err, ErrInvalidClientConfig) {
			t.Fatalf("NewClient(%q): got %v", u, err)
		}
	}
}

func TestClient_Encrypt(t *testing.T) {
	t.Parallel()

	wrapper := common.HexToAddress("0x00000000000000000000000000000000000000c0")
	user := common.HexToAddress("0x00000000000000000000000000000000000000c1")
	handle := "0x" + strings.Repeat("AB", 32)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method: got %s", r.Method)
		}
		if r.URL.Path != "/relayer/v1/encrypt" {
			t.Errorf("path: got %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Errorf("Authorization: got %q", got)
		}
		var req EncryptRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode req: %v", err)
		}
		if len(req.Values) != 1 || req.Values[0] != "100" {
			t.Errorf("values: %v", req.Values)
		}
		if req.ContractAddress != wrapper.Hex() || req.UserAddress != user.Hex() {
			t.Errorf("addresses: %+v", req)
		}
		_ = json.NewEncoder(w).Encode(EncryptResponse{Handles: []string{handle}, InputProof: "0x0102"})
	}))
	t.Cleanup(srv.Close)

	c, err := NewClient(srv.URL+"/relayer", "secret", WithHTTPClient(srv.Client()))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	out, err := c.Encrypt(context.Background(), []*big.Int{big.NewInt(100)}, wrapper, user)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if len(out.Handles) != 1 || out.Handles[0] != common.HexToHash(handle) {
		t.Fatalf("handles: %v", out.Handles)
	}
	if len(out.InputProof) != 2 || out.InputProof[1] != 0x02 {
		t.Fatalf("proof: %x", out.InputProof)
	}
}

func TestClient_Encrypt_RequiresOneHandlePerValue(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(EncryptResponse{Handles: nil, InputProof: "0x"})
	}))
	t.Cleanup(srv.Close)

	c, err := NewClient(srv.URL, "", WithHTTPClient(srv.Client()))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	_, err = c.Encrypt(context.Background(), []*big.Int{big.NewInt(1)}, common.Address{}, common.Address{})
	if !errors.Is(err, ErrInvalidResponse) {
		t.Fatalf("expected ErrInvalidResponse, got %v", err)
	}

	if _, err := c.Encrypt(context.Background(), []*big.Int{big.NewInt(-1)}, common.Address{}, common.Address{}); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("negative value: got %v", err)
	}
}

func TestClient_PublicDecrypt_KeysAreCaseInsensitive(t *testing.T) {
	t.Parallel()

	lower := "0x" + strings.Repeat("aa", 32)
	upper := "0x" + strings.Repeat("AA", 32)
	other := "0x" + strings.Repeat("0b", 32)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/public-decrypt" {
			t.Errorf("path: got %s", r.URL.Path)
		}
		var req PublicDecryptRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if len(req.Handles) != 2 || req.Handles[0] != lower {
			t.Errorf("handles: %v", req.Handles)
		}
		_ = json.NewEncoder(w).Encode(PublicDecryptResponse{
			ClearValues:     map[string]string{upper: "42", other: "0x10"},
			DecryptionProof: "0x" + strings.Repeat("ff", 4),
		})
	}))
	t.Cleanup(srv.Close)

	c, err := NewClient(srv.URL, "", WithHTTPClient(srv.Client()))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	out, err := c.PublicDecrypt(context.Background(), []common.Hash{common.HexToHash(lower), common.HexToHash(other)})
	if err != nil {
		t.Fatalf("PublicDecrypt: %v", err)
	}
	v, ok := out.Value(common.HexToHash(lower))
	if !ok || v.Int64() != 42 {
		t.Fatalf("value: %v %v", v, ok)
	}
	if v, ok := out.Value(common.HexToHash(other)); !ok || v.Int64() != 16 {
		t.Fatalf("hex value: %v %v", v, ok)
	}
	if _, ok := out.Value(common.HexToHash("0x01")); ok {
		t.Fatalf("unexpected value for unknown handle")
	}
	if len(out.DecryptionProof) != 4 {
		t.Fatalf("proof: %x", out.DecryptionProof)
	}
}

func TestClient_StatusError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "decryption not ready"})
	}))
	t.Cleanup(srv.Close)

	c, err := NewClient(srv.URL, "", WithHTTPClient(srv.Client()))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	_, err = c.PublicDecrypt(context.Background(), []common.Hash{{1}})
	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("expected *StatusError, got %T: %v", err, err)
	}
	if se.StatusCode != http.StatusServiceUnavailable || se.Message != "decryption not ready" {
		t.Fatalf("status error: %+v", se)
	}
}
