package fhegateway

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

type EncryptRequest struct {
	// Values are decimal strings, one per plaintext to encrypt.
	Values          []string `json:"values"`
	ContractAddress string   `json:"contractAddress"`
	UserAddress     string   `json:"userAddress"`
}

type EncryptResponse struct {
	Handles    []string `json:"handles"`
	InputProof string   `json:"inputProof"`
}

type PublicDecryptRequest struct {
	Handles []string `json:"handles"`
}

type PublicDecryptResponse struct {
	// ClearValues maps 0x-prefixed handles to decimal or 0x-hex strings.
	ClearValues     map[string]string `json:"clearValues"`
	DecryptionProof string            `json:"decryptionProof"`
}

// EncryptedInput is an encrypted amount usable in exactly one contract call by one user.
type EncryptedInput struct {
	Handles    []common.Hash
	InputProof []byte
}

type PublicDecryption struct {
	ClearValues     map[common.Hash]*big.Int
	DecryptionProof []byte
}

// Value returns the cleartext for handle.
func (p PublicDecryption) Value(handle common.Hash) (*big.Int, bool) {
	v, ok := p.ClearValues[handle]
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}
