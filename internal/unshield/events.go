package unshield

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/juno-intents/confidential-wrap/internal/abicodec"
	"github.com/juno-intents/confidential-wrap/internal/eth"
)

// FindUnwrapRequested returns the burnt-amount handle carried by the single
// UnwrapRequested log emitted by wrapper. Address comparison is on raw bytes, so the
// checksum case of either side does not matter.
func FindUnwrapRequested(logs []eth.Log, wrapper common.Address) (common.Hash, error) {
	var (
		found   common.Hash
		matches int
	)
	for _, l := range logs {
		if l.Address != wrapper || len(l.Topics) == 0 || l.Topics[0] != abicodec.UnwrapRequestedTopic {
			continue
		}
		matches++
		if matches > 1 {
			continue
		}
		if len(l.Data) != common.HashLength {
			return common.Hash{}, fmt.Errorf("%w: data is %d bytes", ErrUnwrapEventMalformed, len(l.Data))
		}
		found = common.BytesToHash(l.Data)
	}
	switch matches {
	case 0:
		return common.Hash{}, ErrUnwrapEventNotFound
	case 1:
		return found, nil
	default:
		return common.Hash{}, fmt.Errorf("%w: %d matching logs", ErrUnwrapEventAmbiguous, matches)
	}
}
