package protocol

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/raremarket/orderwatch/internal/domain"
)

func addr(b byte) common.Address {
	var a common.Address
	a[19] = b
	return a
}

func TestTypeHashInjective(t *testing.T) {
	types := []domain.AssetType{
		domain.EthAssetType{},
		domain.Erc20AssetType{Token: addr(1)},
		domain.Erc20AssetType{Token: addr(2)},
		domain.Erc721AssetType{Token: addr(1), TokenID: big.NewInt(1)},
		domain.Erc721AssetType{Token: addr(1), TokenID: big.NewInt(2)},
		domain.Erc1155AssetType{Token: addr(1), TokenID: big.NewInt(1)},
		domain.CollectionAssetType{Token: addr(1)},
		domain.CryptoPunksAssetType{Market: addr(1), PunkID: big.NewInt(1)},
		domain.GenerativeArtAssetType{Token: addr(1)},
		domain.Erc721LazyAssetType{Token: addr(1), TokenID: big.NewInt(1), URI: "ipfs://a"},
		domain.Erc721LazyAssetType{Token: addr(1), TokenID: big.NewInt(1), URI: "ipfs://b"},
		domain.Erc1155LazyAssetType{Token: addr(1), TokenID: big.NewInt(1), Supply: big.NewInt(10)},
	}
	seen := map[common.Hash]int{}
	for i, typ := range types {
		h, err := TypeHash(typ)
		if err != nil {
			t.Fatalf("TypeHash(%d): %v", i, err)
		}
		if prev, dup := seen[h]; dup {
			t.Fatalf("types %d and %d collide on %s", prev, i, h)
		}
		seen[h] = i

		again, err := TypeHash(typ)
		if err != nil {
			t.Fatalf("TypeHash(%d) repeat: %v", i, err)
		}
		if again != h {
			t.Fatalf("TypeHash(%d) unstable: %s then %s", i, h, again)
		}
	}
}

func TestHashKeyDeterministic(t *testing.T) {
	maker := addr(7)
	make := domain.Erc721AssetType{Token: addr(1), TokenID: big.NewInt(3)}
	take := domain.EthAssetType{}

	first, err := HashKey(maker, make, take, big.NewInt(13), domain.OrderRaribleV2DataV1{})
	if err != nil {
		t.Fatalf("HashKey: %v", err)
	}
	second, err := HashKey(maker, make, take, big.NewInt(13), domain.OrderRaribleV2DataV1{})
	if err != nil {
		t.Fatalf("HashKey: %v", err)
	}
	if first != second {
		t.Fatalf("identity hash unstable: %s then %s", first, second)
	}

	other, err := HashKey(maker, make, take, big.NewInt(14), domain.OrderRaribleV2DataV1{})
	if err != nil {
		t.Fatalf("HashKey: %v", err)
	}
	if other == first {
		t.Fatal("different salts must map to different identities")
	}
}

func TestHashKeyMakeFillDistinct(t *testing.T) {
	maker := addr(7)
	make := domain.Erc1155AssetType{Token: addr(1), TokenID: big.NewInt(3)}
	take := domain.EthAssetType{}
	salt := big.NewInt(13)

	takeFill, err := HashKey(maker, make, take, salt, domain.OrderRaribleV2DataV1{})
	if err != nil {
		t.Fatalf("HashKey: %v", err)
	}
	makeFill, err := HashKey(maker, make, take, salt, domain.OrderRaribleV2DataV2{IsMakeFill: true})
	if err != nil {
		t.Fatalf("HashKey: %v", err)
	}
	if takeFill == makeFill {
		t.Fatal("fill basis must be part of the identity")
	}
}

func TestHashPerProtocolDistinct(t *testing.T) {
	maker := addr(7)
	make := domain.Asset{Type: domain.Erc721AssetType{Token: addr(1), TokenID: big.NewInt(3)}, Value: big.NewInt(1)}
	take := domain.Asset{Type: domain.EthAssetType{}, Value: big.NewInt(100)}
	salt := big.NewInt(13)

	v2, err := Hash(maker, make, nil, take, salt, nil, nil, domain.OrderRaribleV2DataV1{}, domain.OrderTypeRaribleV2)
	if err != nil {
		t.Fatalf("v2 hash: %v", err)
	}
	v1, err := Hash(maker, make, nil, take, salt, nil, nil, domain.OrderDataLegacy{Fee: 250}, domain.OrderTypeRaribleV1)
	if err != nil {
		t.Fatalf("v1 hash: %v", err)
	}
	openSea, err := Hash(maker, make, nil, take, salt, nil, nil, domain.OrderOpenSeaV1DataV1{
		Exchange:     addr(9),
		FeeRecipient: addr(8),
		Side:         domain.OpenSeaSideSell,
	}, domain.OrderTypeOpenSeaV1)
	if err != nil {
		t.Fatalf("opensea hash: %v", err)
	}
	if v2 == v1 || v2 == openSea || v1 == openSea {
		t.Fatalf("protocol hashes collide: v1=%s v2=%s opensea=%s", v1, v2, openSea)
	}
}

func TestLegacyHashRejectsExtendedAssets(t *testing.T) {
	maker := addr(7)
	lazy := domain.Asset{
		Type:  domain.Erc721LazyAssetType{Token: addr(1), TokenID: big.NewInt(3), URI: "ipfs://x"},
		Value: big.NewInt(1),
	}
	take := domain.Asset{Type: domain.EthAssetType{}, Value: big.NewInt(100)}

	_, err := Hash(maker, lazy, nil, take, big.NewInt(13), nil, nil, domain.OrderDataLegacy{}, domain.OrderTypeRaribleV1)
	var unsupported *domain.UnsupportedAssetError
	if !errors.As(err, &unsupported) {
		t.Fatalf("err = %v, want UnsupportedAssetError", err)
	}
	if unsupported.Class != domain.AssetClassErc721Lazy {
		t.Fatalf("error class = %s, want %s", unsupported.Class, domain.AssetClassErc721Lazy)
	}
}

func TestOpenSeaHashRequiresSingleNftSide(t *testing.T) {
	maker := addr(7)
	nft := domain.Asset{Type: domain.Erc721AssetType{Token: addr(1), TokenID: big.NewInt(1)}, Value: big.NewInt(1)}
	otherNft := domain.Asset{Type: domain.Erc721AssetType{Token: addr(2), TokenID: big.NewInt(2)}, Value: big.NewInt(1)}

	_, err := Hash(maker, nft, nil, otherNft, big.NewInt(1), nil, nil,
		domain.OrderOpenSeaV1DataV1{}, domain.OrderTypeOpenSeaV1)
	var unsupported *domain.UnsupportedAssetError
	if !errors.As(err, &unsupported) {
		t.Fatalf("err = %v, want UnsupportedAssetError", err)
	}
}

func TestPunkOrderKeyIgnoresSalt(t *testing.T) {
	v := domain.OrderVersion{
		Maker: addr(7),
		Make:  domain.Asset{Type: domain.CryptoPunksAssetType{Market: addr(1), PunkID: big.NewInt(7)}, Value: big.NewInt(1)},
		Take:  domain.Asset{Type: domain.EthAssetType{}, Value: big.NewInt(100)},
		Type:  domain.OrderTypeCryptoPunks,
		Salt:  big.NewInt(999),
		Data:  domain.OrderCryptoPunksData{},
	}
	withSalt, err := OrderKey(v)
	if err != nil {
		t.Fatalf("OrderKey: %v", err)
	}
	v.Salt = big.NewInt(1)
	withOtherSalt, err := OrderKey(v)
	if err != nil {
		t.Fatalf("OrderKey: %v", err)
	}
	if withSalt != withOtherSalt {
		t.Fatal("punk orders must share the constant salt identity")
	}
}

func TestCandidateKeysCollectionWiden(t *testing.T) {
	maker := addr(7)
	payment := domain.Erc20AssetType{Token: addr(1)}
	narrow := domain.Erc721AssetType{Token: addr(2), TokenID: big.NewInt(5)}
	salt := big.NewInt(3)
	data := domain.OrderRaribleV2DataV1{}

	keys, err := CandidateKeys(maker, payment, narrow, salt, data)
	if err != nil {
		t.Fatalf("CandidateKeys: %v", err)
	}
	if len(keys) != 2 {
		t.Fatalf("got %d candidate keys, want narrow + collection", len(keys))
	}

	narrowKey, err := HashKey(maker, payment, narrow, salt, data)
	if err != nil {
		t.Fatalf("HashKey: %v", err)
	}
	wideKey, err := HashKey(maker, payment, domain.CollectionAssetType{Token: addr(2)}, salt, data)
	if err != nil {
		t.Fatalf("HashKey: %v", err)
	}
	if keys[0] != narrowKey {
		t.Fatalf("keys[0] = %s, want the narrow key %s", keys[0], narrowKey)
	}
	if keys[1] != wideKey {
		t.Fatalf("keys[1] = %s, want the collection key %s", keys[1], wideKey)
	}
}

func TestCandidateKeysNoNftSide(t *testing.T) {
	keys, err := CandidateKeys(addr(7), domain.EthAssetType{}, domain.Erc20AssetType{Token: addr(1)},
		big.NewInt(3), domain.OrderRaribleV2DataV1{})
	if err != nil {
		t.Fatalf("CandidateKeys: %v", err)
	}
	if len(keys) != 1 {
		t.Fatalf("got %d candidate keys, want only the narrow key", len(keys))
	}
}

func TestOrderDataRoundTrip(t *testing.T) {
	in := domain.OrderRaribleV2DataV2{
		Payouts:    []domain.Part{{Account: addr(1), Value: big.NewInt(10000)}},
		OriginFees: []domain.Part{{Account: addr(2), Value: big.NewInt(250)}},
		IsMakeFill: true,
	}
	encoded, err := EncodeOrderData(in)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	version, err := DataVersion(in)
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	decoded, err := DecodeOrderData(version, encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	out, ok := decoded.(domain.OrderRaribleV2DataV2)
	if !ok {
		t.Fatalf("decoded %T, want OrderRaribleV2DataV2", decoded)
	}
	if !out.IsMakeFill || len(out.OriginFees) != 1 || out.OriginFees[0].Value.Cmp(big.NewInt(250)) != 0 {
		t.Fatalf("round trip changed data: %+v", out)
	}
}

func TestDataVersionUnsupported(t *testing.T) {
	_, err := DataVersion(domain.OrderDataLegacy{Fee: 1})
	var unsupported *domain.UnsupportedOrderDataError
	if !errors.As(err, &unsupported) {
		t.Fatalf("err = %v, want UnsupportedOrderDataError", err)
	}
}
