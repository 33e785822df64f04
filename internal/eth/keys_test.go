package eth

import (
	"errors"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
)

func TestParsePrivateKeyHex_AcceptsPrefixedAndBare(t *testing.T) {
	const raw = "4f3edf983ac636a65a842ce7c78d9aa706d3b113b37c2b1b4c1c5f5d8f5e2d3a"

	a, err := ParsePrivateKeyHex("0x" + raw)
	if err != nil {
		t.Fatalf("ParsePrivateKeyHex prefixed: %v", err)
	}
	b, err := ParsePrivateKeyHex("  " + raw + "\n")
	if err != nil {
		t.Fatalf("ParsePrivateKeyHex bare: %v", err)
	}
	if crypto.PubkeyToAddress(a.PublicKey) != crypto.PubkeyToAddress(b.PublicKey) {
		t.Fatalf("address mismatch between prefixed and bare parse")
	}
}

func TestParsePrivateKeyHex_RejectsInvalidKeyWithoutLeakingIt(t *testing.T) {
	for _, in := range []string{"", "0x1234", strings.Repeat("zz", 32)} {
		_, err := ParsePrivateKeyHex(in)
		if !errors.Is(err, ErrInvalidPrivateKey) {
			t.Fatalf("%q: expected ErrInvalidPrivateKey, got %v", in, err)
		}
		if in != "" && strings.Contains(err.Error(), in) {
			t.Fatalf("error leaks input: %v", err)
		}
	}
}
