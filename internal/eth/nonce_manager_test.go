package eth

import (
	"context"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

type fakeNoncer struct {
	mu    sync.Mutex
	nonce uint64
	calls int
}

func (f *fakeNoncer) PendingNonceAt(_ context.Context, _ common.Address) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.nonce, nil
}

var testNonceAccount = common.HexToAddress("0x1234567890abcdef1234567890abcdef12345678")

func TestNonceManager_Reserve_ReadsBackendOnce(t *testing.T) {
	ctx := context.Background()
	backend := &fakeNoncer{nonce: 5}
	m := NewNonceManager(backend, testNonceAccount)

	for want := uint64(5); want < 8; want++ {
		n, err := m.Reserve(ctx)
		if err != nil {
			t.Fatalf("Reserve: %v", err)
		}
		if n != want {
			t.Fatalf("nonce: got %d want %d", n, want)
		}
	}
	if backend.calls != 1 {
		t.Fatalf("backend calls: got %d want 1", backend.calls)
	}
}

func TestNonceManager_Return_ReusesLatestReservation(t *testing.T) {
	ctx := context.Background()
	backend := &fakeNoncer{nonce: 10}
	m := NewNonceManager(backend, testNonceAccount)

	_, _ = m.Reserve(ctx) // 10
	n, _ := m.Reserve(ctx)
	m.Return(n)

	got, err := m.Reserve(ctx)
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if got != 11 {
		t.Fatalf("nonce after Return: got %d want 11", got)
	}
	if backend.calls != 1 {
		t.Fatalf("backend calls: got %d want 1", backend.calls)
	}
}

func TestNonceManager_Return_OlderNonceRereadsBackend(t *testing.T) {
	ctx := context.Background()
	backend := &fakeNoncer{nonce: 3}
	m := NewNonceManager(backend, testNonceAccount)

	approve, _ := m.Reserve(ctx) // 3
	_, _ = m.Reserve(ctx)        // 4
	m.Return(approve)

	backend.nonce = 4
	got, err := m.Reserve(ctx)
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if got != 4 {
		t.Fatalf("nonce after gap: got %d want 4", got)
	}
	if backend.calls != 2 {
		t.Fatalf("backend calls: got %d want 2", backend.calls)
	}
}

func TestNonceManager_Forget_RereadsBackend(t *testing.T) {
	ctx := context.Background()
	backend := &fakeNoncer{nonce: 3}
	m := NewNonceManager(backend, testNonceAccount)

	_, _ = m.Reserve(ctx) // 3
	_, _ = m.Reserve(ctx) // 4

	m.Forget()
	n, err := m.Reserve(ctx)
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if n != 3 {
		t.Fatalf("nonce after Forget: got %d want 3", n)
	}
	if backend.calls != 2 {
		t.Fatalf("backend calls: got %d want 2", backend.calls)
	}
}
