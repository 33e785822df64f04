package abicodec

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

func Approve(spender common.Address, amount *big.Int) ([]byte, error) {
	return Encode(SigApprove, spender, amount)
}

func Allowance(owner, spender common.Address) ([]byte, error) {
	return Encode(SigAllowance, owner, spender)
}

func Underlying() ([]byte, error) {
	return Encode(SigUnderlying)
}

func Wrap(to common.Address, amount *big.Int) ([]byte, error) {
	return Encode(SigWrap, to, amount)
}

// Unwrap burns the encrypted amount referenced by handle from `from` and requests
// release of the cleartext amount to `to` once it has been publicly decrypted.
func Unwrap(from, to common.Address, handle common.Hash, inputProof []byte) ([]byte, error) {
	return Encode(SigUnwrap, from, to, handle, inputProof)
}

// FinalizeUnwrap releases the underlying tokens for a burnt-amount handle given its
// decrypted value and the gateway's decryption proof.
func FinalizeUnwrap(burntAmount common.Hash, clearAmount uint64, decryptionProof []byte) ([]byte, error) {
	return Encode(SigFinalizeUnwrap, burntAmount, clearAmount, decryptionProof)
}

func ConfidentialTransfer(to common.Address, handle common.Hash, inputProof []byte) ([]byte, error) {
	return Encode(SigConfidentialTransfer, to, handle, inputProof)
}

func ConfidentialBalanceOf(account common.Address) ([]byte, error) {
	return Encode(SigConfidentialBalanceOf, account)
}
