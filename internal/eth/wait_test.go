package eth

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

type countingReceipts struct {
	calls   int
	readyAt int
	receipt *types.Receipt
	err     error
}

func (c *countingReceipts) TransactionReceipt(_ context.Context, _ common.Hash) (*types.Receipt, error) {
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	if c.calls >= c.readyAt {
		return c.receipt, nil
	}
	return nil, nil
}

func TestWaitMined_ReturnsReceiptAfterPolling(t *testing.T) {
	want := &types.Receipt{Status: types.ReceiptStatusSuccessful, BlockNumber: big.NewInt(5)}
	backend := &countingReceipts{readyAt: 3, receipt: want}

	got, err := WaitMined(context.Background(), backend, common.HexToHash("0x01"), time.Second, time.Millisecond)
	if err != nil {
		t.Fatalf("WaitMined: %v", err)
	}
	if got != want || backend.calls != 3 {
		t.Fatalf("got %+v after %d calls", got, backend.calls)
	}
}

func TestWaitMined_TimesOutWithTypedError(t *testing.T) {
	backend := &countingReceipts{readyAt: 1 << 30}
	h := common.HexToHash("0xbeef")

	_, err := WaitMined(context.Background(), backend, h, 50*time.Millisecond, 5*time.Millisecond)
	var te *ReceiptTimeoutError
	if !errors.As(err, &te) {
		t.Fatalf("expected ReceiptTimeoutError, got %v", err)
	}
	if !errors.Is(err, ErrReceiptTimeout) {
		t.Fatalf("expected errors.Is ErrReceiptTimeout")
	}
	if !strings.Contains(err.Error(), h.Hex()) || !strings.Contains(err.Error(), "50") {
		t.Fatalf("error should name hash and timeout: %v", err)
	}
}

func TestWaitMined_PropagatesBackendError(t *testing.T) {
	boom := errors.New("boom")
	_, err := WaitMined(context.Background(), &countingReceipts{err: boom}, common.Hash{}, time.Second, time.Millisecond)
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
}

func TestReceiptFromTypes_CopiesLogs(t *testing.T) {
	topics := []common.Hash{common.HexToHash("0x01"), common.HexToHash("0x02")}
	r := &types.Receipt{
		Status:      types.ReceiptStatusFailed,
		TxHash:      common.HexToHash("0xabc"),
		BlockNumber: big.NewInt(77),
		Logs: []*types.Log{
			{Address: common.HexToAddress("0x0a"), Topics: topics, Data: []byte{0xaa}},
			nil,
		},
	}

	got := ReceiptFromTypes(r)
	if got.Succeeded() || got.Status != ReceiptStatusFailed {
		t.Fatalf("status: got %d", got.Status)
	}
	if got.TxHash != r.TxHash || got.BlockNumber != 77 {
		t.Fatalf("hash/block: %+v", got)
	}
	if len(got.Logs) != 1 || len(got.Logs[0].Topics) != 2 {
		t.Fatalf("logs: %+v", got.Logs)
	}
	topics[0] = common.Hash{}
	if got.Logs[0].Topics[0] != common.HexToHash("0x01") {
		t.Fatalf("topics must be copied")
	}
}
