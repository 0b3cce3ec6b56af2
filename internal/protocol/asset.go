package protocol

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/raremarket/orderwatch/internal/domain"
)

// ClassOf maps an asset-type variant to its on-chain bytes4 selector.
func ClassOf(t domain.AssetType) Bytes4 {
	switch t.(type) {
	case domain.EthAssetType:
		return ClassEth
	case domain.Erc20AssetType:
		return ClassErc20
	case domain.Erc721AssetType:
		return ClassErc721
	case domain.Erc1155AssetType:
		return ClassErc1155
	case domain.Erc721LazyAssetType:
		return ClassErc721Lazy
	case domain.Erc1155LazyAssetType:
		return ClassErc1155Lazy
	case domain.CollectionAssetType:
		return ClassCollection
	case domain.CryptoPunksAssetType:
		return ClassCryptoPunks
	case domain.GenerativeArtAssetType:
		return ClassGenArt
	default:
		return Bytes4{}
	}
}

var (
	assetTypeTypeHash = Keccak256([]byte("AssetType(bytes4 assetClass,bytes data)"))
	assetStructHash   = Keccak256([]byte("Asset(AssetType assetType,uint256 value)"))
)

// TypeHash computes the EIP-712 structural hash of an asset type:
// keccak256(typeHash ++ assetClass ++ keccak256(classData)). The hash is
// injective over the variant's defining fields, so type equality can be
// checked by hash equality.
func TypeHash(t domain.AssetType) (common.Hash, error) {
	data, err := encodeTypeData(t)
	if err != nil {
		return common.Hash{}, err
	}
	return Keccak256(
		assetTypeTypeHash.Bytes(),
		bytes4Word(ClassOf(t)),
		Keccak256(data).Bytes(),
	), nil
}

// AssetHash computes the EIP-712 structural hash of an asset.
func AssetHash(a domain.Asset) (common.Hash, error) {
	th, err := TypeHash(a.Type)
	if err != nil {
		return common.Hash{}, err
	}
	return Keccak256(assetStructHash.Bytes(), th.Bytes(), bigWord(a.Value)), nil
}

// encodeTypeData produces the abi encoding of a variant's defining fields,
// matching what the exchange contracts hash for each asset class.
func encodeTypeData(t domain.AssetType) ([]byte, error) {
	switch v := t.(type) {
	case domain.EthAssetType:
		return nil, nil
	case domain.Erc20AssetType:
		return addressWord(v.Token), nil
	case domain.Erc721AssetType:
		return append(addressWord(v.Token), bigWord(v.TokenID)...), nil
	case domain.Erc1155AssetType:
		return append(addressWord(v.Token), bigWord(v.TokenID)...), nil
	case domain.CollectionAssetType:
		return addressWord(v.Token), nil
	case domain.GenerativeArtAssetType:
		return addressWord(v.Token), nil
	case domain.CryptoPunksAssetType:
		return append(addressWord(v.Market), bigWord(v.PunkID)...), nil
	case domain.Erc721LazyAssetType:
		return encodeMint721(v)
	case domain.Erc1155LazyAssetType:
		return encodeMint1155(v)
	default:
		return nil, &domain.UnsupportedAssetError{Class: t.Class(), Reason: "no structural encoding"}
	}
}

// --------------------------------------------------------------------------
// Lazy-mint descriptors carry dynamic fields (uri, creator/royalty lists,
// signatures) and need a full abi tuple encoding.
// --------------------------------------------------------------------------

type abiPart struct {
	Account common.Address
	Value   *big.Int
}

type abiMint721 struct {
	TokenId    *big.Int
	Uri        string
	Creators   []abiPart
	Royalties  []abiPart
	Signatures [][]byte
}

type abiMint1155 struct {
	TokenId    *big.Int
	Uri        string
	Supply     *big.Int
	Creators   []abiPart
	Royalties  []abiPart
	Signatures [][]byte
}

var partComponents = []abi.ArgumentMarshaling{
	{Name: "account", Type: "address"},
	{Name: "value", Type: "uint256"},
}

var (
	addressType = mustType("address", nil)

	mint721Type = mustType("tuple", []abi.ArgumentMarshaling{
		{Name: "tokenId", Type: "uint256"},
		{Name: "uri", Type: "string"},
		{Name: "creators", Type: "tuple[]", Components: partComponents},
		{Name: "royalties", Type: "tuple[]", Components: partComponents},
		{Name: "signatures", Type: "bytes[]"},
	})

	mint1155Type = mustType("tuple", []abi.ArgumentMarshaling{
		{Name: "tokenId", Type: "uint256"},
		{Name: "uri", Type: "string"},
		{Name: "supply", Type: "uint256"},
		{Name: "creators", Type: "tuple[]", Components: partComponents},
		{Name: "royalties", Type: "tuple[]", Components: partComponents},
		{Name: "signatures", Type: "bytes[]"},
	})

	mint721Args  = abi.Arguments{{Type: addressType}, {Type: mint721Type}}
	mint1155Args = abi.Arguments{{Type: addressType}, {Type: mint1155Type}}
)

func mustType(t string, components []abi.ArgumentMarshaling) abi.Type {
	typ, err := abi.NewType(t, "", components)
	if err != nil {
		panic(fmt.Sprintf("protocol: abi type %s: %v", t, err))
	}
	return typ
}

func encodeMint721(v domain.Erc721LazyAssetType) ([]byte, error) {
	data, err := mint721Args.Pack(v.Token, abiMint721{
		TokenId:    orZero(v.TokenID),
		Uri:        v.URI,
		Creators:   toABIParts(v.Creators),
		Royalties:  toABIParts(v.Royalties),
		Signatures: orEmptyBytes(v.Signatures),
	})
	if err != nil {
		return nil, fmt.Errorf("protocol: encode lazy 721 descriptor: %w", err)
	}
	return data, nil
}

func encodeMint1155(v domain.Erc1155LazyAssetType) ([]byte, error) {
	data, err := mint1155Args.Pack(v.Token, abiMint1155{
		TokenId:    orZero(v.TokenID),
		Uri:        v.URI,
		Supply:     orZero(v.Supply),
		Creators:   toABIParts(v.Creators),
		Royalties:  toABIParts(v.Royalties),
		Signatures: orEmptyBytes(v.Signatures),
	})
	if err != nil {
		return nil, fmt.Errorf("protocol: encode lazy 1155 descriptor: %w", err)
	}
	return data, nil
}

func toABIParts(parts []domain.Part) []abiPart {
	out := make([]abiPart, len(parts))
	for i, p := range parts {
		out[i] = abiPart{Account: p.Account, Value: orZero(p.Value)}
	}
	return out
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}

func orEmptyBytes(b [][]byte) [][]byte {
	if b == nil {
		return [][]byte{}
	}
	return b
}

// --------------------------------------------------------------------------
// Legacy (V1 contract) asset descriptors.
// --------------------------------------------------------------------------

// Legacy class codes of the non-extensible V1 contract scheme.
const (
	legacyClassEth     = 0
	legacyClassErc20   = 1
	legacyClassErc1155 = 2
	legacyClassErc721  = 3
)

type legacyAsset struct {
	Token   common.Address
	TokenID *big.Int
	Class   int64
}

// toLegacy converts an asset type to the simplified V1 descriptor. Variants
// the legacy contract cannot represent yield an UnsupportedAssetError.
func toLegacy(t domain.AssetType) (legacyAsset, error) {
	switch v := t.(type) {
	case domain.EthAssetType:
		return legacyAsset{Class: legacyClassEth}, nil
	case domain.Erc20AssetType:
		return legacyAsset{Token: v.Token, Class: legacyClassErc20}, nil
	case domain.Erc1155AssetType:
		return legacyAsset{Token: v.Token, TokenID: v.TokenID, Class: legacyClassErc1155}, nil
	case domain.Erc721AssetType:
		return legacyAsset{Token: v.Token, TokenID: v.TokenID, Class: legacyClassErc721}, nil
	default:
		return legacyAsset{}, &domain.UnsupportedAssetError{
			Class:  t.Class(),
			Reason: "not representable in the legacy descriptor scheme",
		}
	}
}
