package crypto

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

func TestRecoverSigner(t *testing.T) {
	key, err := ethcrypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	want := ethcrypto.PubkeyToAddress(key.PublicKey)

	domain := EIP712Domain{
		Name:              "Exchange",
		Version:           "2",
		ChainID:           big.NewInt(1),
		VerifyingContract: common.HexToAddress("0x9757f2d2b135150bbeb65308d4a91804107cd8d6"),
	}
	structHash := common.BytesToHash(ethcrypto.Keccak256([]byte("order")))
	digest := domain.HashToSign(structHash)

	sig, err := ethcrypto.Sign(digest.Bytes(), key)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	got, err := RecoverSigner(digest, sig)
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if got != want {
		t.Fatalf("recovered %s, want %s", got, want)
	}

	// The 27/28 recovery-id convention must also verify.
	shifted := make([]byte, len(sig))
	copy(shifted, sig)
	shifted[64] += 27
	got, err = RecoverSigner(digest, shifted)
	if err != nil {
		t.Fatalf("recover shifted v: %v", err)
	}
	if got != want {
		t.Fatalf("recovered %s with shifted v, want %s", got, want)
	}
}

func TestRecoverPersonalSigner(t *testing.T) {
	key, err := ethcrypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	want := ethcrypto.PubkeyToAddress(key.PublicKey)

	message := []byte("0xdeadbeef")
	prefixed := concatBytes(
		[]byte("\x19Ethereum Signed Message:\n"),
		[]byte("10"),
		message,
	)
	sig, err := ethcrypto.Sign(ethcrypto.Keccak256(prefixed), key)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	got, err := RecoverPersonalSigner(message, sig)
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if got != want {
		t.Fatalf("recovered %s, want %s", got, want)
	}
}

func TestDomainSeparatorDistinct(t *testing.T) {
	a := EIP712Domain{Name: "Exchange", Version: "2", ChainID: big.NewInt(1)}
	b := EIP712Domain{Name: "Exchange", Version: "2", ChainID: big.NewInt(137)}
	if a.Separator() == b.Separator() {
		t.Fatal("different chain ids must yield different separators")
	}
}
