package unshield

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/juno-intents/confidential-wrap/internal/abicodec"
	"github.com/juno-intents/confidential-wrap/internal/eth"
)

func unwrapLog(wrapper common.Address, handle common.Hash) eth.Log {
	return eth.Log{
		Address: wrapper,
		Topics:  []common.Hash{abicodec.UnwrapRequestedTopic, common.BytesToHash(testUser.Bytes())},
		Data:    handle.Bytes(),
	}
}

func TestFindUnwrapRequested(t *testing.T) {
	t.Parallel()

	handle := common.HexToHash("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	other := common.HexToAddress("0x00000000000000000000000000000000000000dd")
	transfer := eth.Log{
		Address: testWrapper,
		Topics:  []common.Hash{common.HexToHash("0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef")},
		Data:    make([]byte, 32),
	}

	tests := []struct {
		name    string
		logs    []eth.Log
		want    common.Hash
		wantErr error
	}{
		{name: "single match among noise", logs: []eth.Log{transfer, unwrapLog(testWrapper, handle)}, want: handle},
		{name: "no logs", wantErr: ErrUnwrapEventNotFound},
		{name: "emitted by other contract", logs: []eth.Log{unwrapLog(other, handle)}, wantErr: ErrUnwrapEventNotFound},
		{name: "no topics", logs: []eth.Log{{Address: testWrapper, Data: handle.Bytes()}}, wantErr: ErrUnwrapEventNotFound},
		{name: "two matches", logs: []eth.Log{unwrapLog(testWrapper, handle), unwrapLog(testWrapper, handle)}, wantErr: ErrUnwrapEventAmbiguous},
		{name: "short data", logs: []eth.Log{{Address: testWrapper, Topics: []common.Hash{abicodec.UnwrapRequestedTopic}, Data: []byte{1}}}, wantErr: ErrUnwrapEventMalformed},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := FindUnwrapRequested(tc.logs, testWrapper)
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("err=%v want %v", err, tc.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("FindUnwrapRequested: %v", err)
			}
			if got != tc.want {
				t.Fatalf("handle=%s want %s", got, tc.want)
			}
		})
	}
}

func TestFindUnwrapRequested_AddressCaseInsensitive(t *testing.T) {
	t.Parallel()

	lower := common.HexToAddress("0xabcdefabcdefabcdefabcdefabcdefabcdefabcd")
	upper := common.HexToAddress("0xABCDEFABCDEFABCDEFABCDEFABCDEFABCDEFABCD")
	handle := common.HexToHash("0x01")

	got, err := FindUnwrapRequested([]eth.Log{unwrapLog(upper, handle)}, lower)
	if err != nil {
		t.Fatalf("FindUnwrapRequested: %v", err)
	}
	if got != handle {
		t.Fatalf("handle=%s want %s", got, handle)
	}
}
