package pending

import (
	"context"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func testBurn(b byte) Burn {
	return Burn{
		BurntAmountHandle: common.BytesToHash([]byte{b}),
		ChainID:           11155111,
		Wrapper:           common.HexToAddress("0x00000000000000000000000000000000000000c0"),
		Account:           common.HexToAddress("0x00000000000000000000000000000000000000a1"),
		Recipient:         common.HexToAddress("0x00000000000000000000000000000000000000a1"),
		UnwrapTxHash:      common.BytesToHash([]byte{0x10, b}),
	}
}

func TestMemoryStore_RecordBurn_DedupesAndRejectsMismatch(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore()
	b := testBurn(1)

	rec, created, err := s.RecordBurn(context.Background(), b)
	if err != nil {
		t.Fatalf("RecordBurn #1: %v", err)
	}
	if !created || rec.State != StateBurnt {
		t.Fatalf("record: created=%v state=%v", created, rec.State)
	}

	_, created, err = s.RecordBurn(context.Background(), b)
	if err != nil {
		t.Fatalf("RecordBurn #2: %v", err)
	}
	if created {
		t.Fatalf("expected created=false")
	}

	b2 := b
	b2.Recipient = common.HexToAddress("0x01")
	if _, _, err := s.RecordBurn(context.Background(), b2); !errors.Is(err, ErrBurnMismatch) {
		t.Fatalf("expected ErrBurnMismatch, got %v", err)
	}

	if _, _, err := s.RecordBurn(context.Background(), Burn{}); !errors.Is(err, ErrInvalidBurn) {
		t.Fatalf("expected ErrInvalidBurn, got %v", err)
	}
}

func TestMemoryStore_StateMachine(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewMemoryStore()
	b1, b2 := testBurn(1), testBurn(2)
	for _, b := range []Burn{b1, b2} {
		if _, _, err := s.RecordBurn(ctx, b); err != nil {
			t.Fatalf("RecordBurn: %v", err)
		}
	}

	if err := s.RecordFailure(ctx, b1.BurntAmountHandle, "decryption not ready"); err != nil {
		t.Fatalf("RecordFailure: %v", err)
	}
	if err := s.RecordFailure(ctx, b1.BurntAmountHandle, "rpc timeout"); err != nil {
		t.Fatalf("RecordFailure: %v", err)
	}
	rec, err := s.Get(ctx, b1.BurntAmountHandle)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec.Attempts != 2 || rec.LastError != "rpc timeout" {
		t.Fatalf("failure bookkeeping: %+v", rec)
	}

	fin := common.HexToHash("0xf1")
	if err := s.MarkFinalized(ctx, b1.BurntAmountHandle, fin); err != nil {
		t.Fatalf("MarkFinalized: %v", err)
	}
	if err := s.MarkFinalized(ctx, b1.BurntAmountHandle, fin); err != nil {
		t.Fatalf("MarkFinalized should be idempotent: %v", err)
	}
	if err := s.MarkFinalized(ctx, b1.BurntAmountHandle, common.HexToHash("0xf2")); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	if err := s.RecordFailure(ctx, b1.BurntAmountHandle, "late"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	if err := s.MarkFinalized(ctx, common.HexToHash("0x99"), fin); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	burnt, err := s.ListByState(ctx, StateBurnt, 10)
	if err != nil {
		t.Fatalf("ListByState: %v", err)
	}
	if len(burnt) != 1 || burnt[0].Burn != b2 {
		t.Fatalf("burnt list: %+v", burnt)
	}
	done, _ := s.ListByState(ctx, StateFinalized, 10)
	if len(done) != 1 || done[0].FinalizeTxHash != fin {
		t.Fatalf("finalized list: %+v", done)
	}
	if none, _ := s.ListByState(ctx, StateBurnt, 0); none != nil {
		t.Fatalf("limit 0 should return nil")
	}
}

func TestMemoryStore_ListRetryable_FiltersBeforeLimit(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewMemoryStore()

	exhausted := testBurn(1)
	otherChain := testBurn(2)
	otherChain.ChainID = 1
	otherAccount := testBurn(3)
	otherAccount.Account = common.HexToAddress("0x00000000000000000000000000000000000000a9")
	done := testBurn(4)
	fresh := testBurn(5)
	for _, b := range []Burn{exhausted, otherChain, otherAccount, done, fresh} {
		if _, _, err := s.RecordBurn(ctx, b); err != nil {
			t.Fatalf("RecordBurn: %v", err)
		}
	}
	for i := 0; i < 3; i++ {
		if err := s.RecordFailure(ctx, exhausted.BurntAmountHandle, "boom"); err != nil {
			t.Fatalf("RecordFailure: %v", err)
		}
	}
	if err := s.MarkFinalized(ctx, done.BurntAmountHandle, common.HexToHash("0xf1")); err != nil {
		t.Fatalf("MarkFinalized: %v", err)
	}

	got, err := s.ListRetryable(ctx, fresh.ChainID, fresh.Account, 3, 1)
	if err != nil {
		t.Fatalf("ListRetryable: %v", err)
	}
	if len(got) != 1 || got[0].Burn != fresh {
		t.Fatalf("retryable: %+v", got)
	}

	got, _ = s.ListRetryable(ctx, fresh.ChainID, fresh.Account, 4, 10)
	if len(got) != 2 || got[0].Burn != exhausted || got[1].Burn != fresh {
		t.Fatalf("retryable with higher cap: %+v", got)
	}
	if none, _ := s.ListRetryable(ctx, fresh.ChainID, fresh.Account, 3, 0); none != nil {
		t.Fatalf("limit 0 should return nil")
	}
}
