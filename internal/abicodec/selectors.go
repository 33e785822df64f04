package abicodec

import "github.com/ethereum/go-ethereum/common"

// Canonical signatures of every call this module knows how to encode.
const (
	SigApprove               = "approve(address,uint256)"
	SigAllowance             = "allowance(address,address)"
	SigUnderlying            = "underlying()"
	SigWrap                  = "wrap(address,uint256)"
	SigUnwrap                = "unwrap(address,address,bytes32,bytes)"
	SigFinalizeUnwrap        = "finalizeUnwrap(bytes32,uint64,bytes)"
	SigConfidentialTransfer  = "confidentialTransfer(address,bytes32,bytes)"
	SigConfidentialBalanceOf = "confidentialBalanceOf(address)"
)

// Selectors are pinned literals; they must match the deployed ERC20 and ERC7984 wrapper
// contracts byte for byte. Never derive them at runtime.
var selectors = map[string][4]byte{
	SigApprove:               {0x09, 0x5e, 0xa7, 0xb3},
	SigAllowance:             {0xdd, 0x62, 0xed, 0x3e},
	SigUnderlying:            {0x6f, 0x30, 0x7d, 0xc3},
	SigWrap:                  {0xbf, 0x37, 0x6c, 0x7a},
	SigUnwrap:                {0x5b, 0xf4, 0xef, 0x06},
	SigFinalizeUnwrap:        {0x5b, 0xb6, 0x7a, 0x05},
	SigConfidentialTransfer:  {0x2f, 0xb7, 0x4e, 0x62},
	SigConfidentialBalanceOf: {0x34, 0x4f, 0xf1, 0x01},
}

// UnwrapRequestedTopic is keccak256("UnwrapRequested(address,bytes32)").
var UnwrapRequestedTopic = common.HexToHash("0x77d02d353c5629272875d11f1b34ec4c65d7430b075575b78cd2502034c469ee")

// Selector returns the pinned selector for a known signature.
func Selector(signature string) ([4]byte, bool) {
	sel, ok := selectors[signature]
	return sel, ok
}

// Signatures lists the known signatures in no particular order.
func Signatures() []string {
	out := make([]string, 0, len(selectors))
	for sig := range selectors {
		out = append(out, sig)
	}
	return out
}
