package eth

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

const testKeyHex = "4f3edf983ac636a65a842ce7c78d9aa706d3b113b37c2b1b4c1c5f5d8f5e2d3a"

func mustTestSigner(t *testing.T) *LocalSigner {
	t.Helper()
	key, err := crypto.HexToECDSA(testKeyHex)
	if err != nil {
		t.Fatalf("HexToECDSA: %v", err)
	}
	return NewLocalSigner(key)
}

func TestLocalSigner_SignsDynamicFeeTx(t *testing.T) {
	chainID := big.NewInt(11155111)
	s := mustTestSigner(t)
	if (s.Address() == common.Address{}) {
		t.Fatalf("expected non-zero address")
	}

	to := common.HexToAddress("0x90f8bf6a479f320ead074411a4b0e7944ea8c9c1")
	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   chainID,
		Nonce:     7,
		GasTipCap: big.NewInt(1),
		GasFeeCap: big.NewInt(2),
		Gas:       21000,
		To:        &to,
		Value:     big.NewInt(0),
	})

	signed, err := s.SignTx(tx, chainID)
	if err != nil {
		t.Fatalf("SignTx: %v", err)
	}
	from, err := types.Sender(types.LatestSignerForChainID(chainID), signed)
	if err != nil {
		t.Fatalf("Sender: %v", err)
	}
	if from != s.Address() {
		t.Fatalf("from mismatch: got %s want %s", from, s.Address())
	}
}

func TestLocalSigner_SignHashRecoversAddress(t *testing.T) {
	s := mustTestSigner(t)
	digest := crypto.Keccak256([]byte("confidential-wrap"))

	sig, err := s.SignHash(digest)
	if err != nil {
		t.Fatalf("SignHash: %v", err)
	}
	if len(sig) != 65 {
		t.Fatalf("sig len: got %d want 65", len(sig))
	}
	if v := sig[64]; v != 27 && v != 28 {
		t.Fatalf("v: got %d want 27|28", v)
	}

	raw := append([]byte(nil), sig...)
	raw[64] -= 27
	pub, err := crypto.SigToPub(digest, raw)
	if err != nil {
		t.Fatalf("SigToPub: %v", err)
	}
	if got := crypto.PubkeyToAddress(*pub); got != s.Address() {
		t.Fatalf("recovered %s want %s", got, s.Address())
	}
}

func TestLocalSigner_RejectsShortDigest(t *testing.T) {
	s := mustTestSigner(t)
	if _, err := s.SignHash([]byte{1, 2, 3}); err != ErrInvalidSigner {
		t.Fatalf("expected ErrInvalidSigner, got %v", err)
	}
}
