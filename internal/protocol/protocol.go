// Package protocol implements the per-protocol identity and message hashing
// of exchange orders: structural asset-type hashes, the V2 order-key hash that
// every component joins on, the legacy V1 tuple hash, the EIP-712 V2 typed
// order hash, the OpenSea wire-format hash and the fixed-salt punk key.
package protocol

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/crypto/sha3"
)

// Bytes4 is a solidity bytes4 value, right-padded inside a 32-byte abi word.
type Bytes4 [4]byte

// Keccak256 hashes the concatenation of the given chunks.
func Keccak256(chunks ...[]byte) common.Hash {
	h := sha3.NewLegacyKeccak256()
	for _, c := range chunks {
		h.Write(c)
	}
	var out common.Hash
	h.Sum(out[:0])
	return out
}

func bytes4Of(s string) Bytes4 {
	var b Bytes4
	copy(b[:], Keccak256([]byte(s)).Bytes())
	return b
}

// Asset-class selectors, bytes4(keccak256(className)). These byte-match the
// exchange contracts and must never change.
var (
	ClassEth         = bytes4Of("ETH")
	ClassErc20       = bytes4Of("ERC20")
	ClassErc721      = bytes4Of("ERC721")
	ClassErc1155     = bytes4Of("ERC1155")
	ClassErc721Lazy  = bytes4Of("ERC721_LAZY")
	ClassErc1155Lazy = bytes4Of("ERC1155_LAZY")
	ClassCollection  = bytes4Of("COLLECTION")
	ClassCryptoPunks = bytes4Of("CRYPTO_PUNKS")
	ClassGenArt      = bytes4Of("GEN_ART")
)

// word returns the 32-byte abi encoding of a static value.
func addressWord(a common.Address) []byte {
	var w [32]byte
	copy(w[12:], a.Bytes())
	return w[:]
}

func bigWord(v *big.Int) []byte {
	var w [32]byte
	if v != nil {
		v.FillBytes(w[:])
	}
	return w[:]
}

func int64Word(v *int64) []byte {
	if v == nil {
		return bigWord(nil)
	}
	return bigWord(big.NewInt(*v))
}

func bytes4Word(b Bytes4) []byte {
	var w [32]byte
	copy(w[:4], b[:])
	return w[:]
}
