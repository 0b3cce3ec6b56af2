package oracle

import (
	"bytes"
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
)

// isValidSignature(bytes32,bytes)
var isValidSignatureSelector = []byte{0x16, 0x26, 0xba, 0x7e}

// Erc1271Client asks contract wallets whether they accept a signature over a
// digest, per the ERC-1271 magic-value convention.
type Erc1271Client struct {
	chain ChainCaller
}

// NewErc1271Client creates an Erc1271Client.
func NewErc1271Client(chain ChainCaller) *Erc1271Client {
	return &Erc1271Client{chain: chain}
}

// IsValidSignature calls isValidSignature on the wallet and checks the
// returned magic value. Call reverts mean "not a contract wallet" and map to
// false rather than an error.
func (c *Erc1271Client) IsValidSignature(ctx context.Context, wallet common.Address, digest common.Hash, sig []byte) (bool, error) {
	callData := encodeIsValidSignature(digest, sig)
	out, err := c.chain.CallContract(ctx, ethereum.CallMsg{To: &wallet, Data: callData}, nil)
	if err != nil {
		return false, nil
	}
	if len(out) < 4 {
		return false, fmt.Errorf("oracle: isValidSignature on %s returned %d bytes", wallet.Hex(), len(out))
	}
	return bytes.Equal(out[:4], isValidSignatureSelector), nil
}

// encodeIsValidSignature abi-encodes (bytes32 digest, bytes signature): the
// static digest word, the offset to the dynamic bytes, then length-prefixed
// padded signature data.
func encodeIsValidSignature(digest common.Hash, sig []byte) []byte {
	padded := len(sig)
	if rem := padded % 32; rem != 0 {
		padded += 32 - rem
	}
	out := make([]byte, 0, 4+32+32+32+padded)
	out = append(out, isValidSignatureSelector...)
	out = append(out, digest.Bytes()...)
	out = append(out, common.LeftPadBytes([]byte{0x40}, 32)...)
	out = append(out, common.LeftPadBytes(big32(len(sig)), 32)...)
	out = append(out, sig...)
	out = append(out, make([]byte, padded-len(sig))...)
	return out
}

func big32(n int) []byte {
	return []byte{byte(n >> 24), byte(n >> 16), byte(n >> 8), byte(n)}
}
