// Package crypto provides EIP-712 digest construction and signer recovery
// for order signature validation.
package crypto

import (
	"fmt"
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)
var eip712DomainTypeHash = ethcrypto.Keccak256(
	[]byte("EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)"),
)

// EIP712Domain identifies the exchange contract a typed order hash binds to.
type EIP712Domain struct {
	Name              string
	Version           string
	ChainID           *big.Int
	VerifyingContract common.Address
}

// Separator returns the cached-per-call EIP-712 domain separator hash.
func (d EIP712Domain) Separator() common.Hash {
	return common.BytesToHash(ethcrypto.Keccak256(
		concatBytes(
			eip712DomainTypeHash,
			ethcrypto.Keccak256([]byte(d.Name)),
			ethcrypto.Keccak256([]byte(d.Version)),
			bigIntTo32Bytes(d.ChainID),
			common.LeftPadBytes(d.VerifyingContract.Bytes(), 32),
		),
	))
}

// HashToSign computes the final EIP-712 digest:
//
//	keccak256("\x19\x01" || domainSeparator || structHash)
func (d EIP712Domain) HashToSign(structHash common.Hash) common.Hash {
	return common.BytesToHash(ethcrypto.Keccak256(
		concatBytes(
			[]byte{0x19, 0x01},
			d.Separator().Bytes(),
			structHash.Bytes(),
		),
	))
}

// RecoverSigner returns the address that produced a 65-byte r||s||v signature
// over the given digest. Both v in {0,1} and v in {27,28} are accepted.
func RecoverSigner(digest common.Hash, sig []byte) (common.Address, error) {
	if len(sig) != 65 {
		return common.Address{}, fmt.Errorf("crypto: signature length %d, want 65", len(sig))
	}
	normalized := make([]byte, 65)
	copy(normalized, sig)
	if normalized[64] >= 27 {
		normalized[64] -= 27
	}
	pub, err := ethcrypto.SigToPub(digest.Bytes(), normalized)
	if err != nil {
		return common.Address{}, fmt.Errorf("crypto: recover signer: %w", err)
	}
	return ethcrypto.PubkeyToAddress(*pub), nil
}

// RecoverPersonalSigner recovers the signer of a legacy personal-message
// signature ("\x19Ethereum Signed Message:\n" prefix over the raw message).
func RecoverPersonalSigner(message []byte, sig []byte) (common.Address, error) {
	prefixed := concatBytes(
		[]byte("\x19Ethereum Signed Message:\n"),
		[]byte(strconv.Itoa(len(message))),
		message,
	)
	return RecoverSigner(common.BytesToHash(ethcrypto.Keccak256(prefixed)), sig)
}

func concatBytes(chunks ...[]byte) []byte {
	total := 0
	for _, c := range chunks {
		total += len(c)
	}
	out := make([]byte, 0, total)
	for _, c := range chunks {
		out = append(out, c...)
	}
	return out
}

// bigIntTo32Bytes returns a 32-byte big-endian representation of n.
func bigIntTo32Bytes(n *big.Int) []byte {
	b := n.Bytes()
	if len(b) >= 32 {
		return b[:32]
	}
	padded := make([]byte, 32)
	copy(padded[32-len(b):], b)
	return padded
}
