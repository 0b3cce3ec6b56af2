package domain

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/goccy/go-json"
)

// AssetClass identifies one variant of the AssetType union. The string values
// match the on-chain bytes4 class identifiers (keccak256 of these strings).
type AssetClass string

const (
	AssetClassEth           AssetClass = "ETH"
	AssetClassErc20         AssetClass = "ERC20"
	AssetClassErc721        AssetClass = "ERC721"
	AssetClassErc1155       AssetClass = "ERC1155"
	AssetClassErc721Lazy    AssetClass = "ERC721_LAZY"
	AssetClassErc1155Lazy   AssetClass = "ERC1155_LAZY"
	AssetClassCollection    AssetClass = "COLLECTION"
	AssetClassCryptoPunks   AssetClass = "CRYPTO_PUNKS"
	AssetClassGenerativeArt AssetClass = "GEN_ART"
)

// AssetType is a closed union over every asset descriptor the exchange can
// trade. New variants must be added to every exhaustive switch in this module
// and in the protocol hasher; the unexported method keeps the set closed.
type AssetType interface {
	Class() AssetClass
	// NFT reports whether the variant describes a non-fungible asset.
	NFT() bool
	assetType()
}

// EthAssetType is the native coin.
type EthAssetType struct{}

// Erc20AssetType is a fungible token.
type Erc20AssetType struct {
	Token common.Address
}

// Erc721AssetType is a single minted ERC-721 token.
type Erc721AssetType struct {
	Token   common.Address
	TokenID *big.Int
}

// Erc1155AssetType is a quantity of a minted ERC-1155 token.
type Erc1155AssetType struct {
	Token   common.Address
	TokenID *big.Int
}

// Erc721LazyAssetType is an ERC-721 token that has not been minted yet; the
// descriptor carries everything needed to mint it at match time.
type Erc721LazyAssetType struct {
	Token      common.Address
	TokenID    *big.Int
	URI        string
	Creators   []Part
	Royalties  []Part
	Signatures [][]byte
}

// Erc1155LazyAssetType is a not-yet-minted ERC-1155 supply.
type Erc1155LazyAssetType struct {
	Token      common.Address
	TokenID    *big.Int
	URI        string
	Supply     *big.Int
	Creators   []Part
	Royalties  []Part
	Signatures [][]byte
}

// CollectionAssetType is a collection-wide offer: any token of the collection
// satisfies it.
type CollectionAssetType struct {
	Token common.Address
}

// CryptoPunksAssetType is a punk listed on the punk marketplace contract.
type CryptoPunksAssetType struct {
	Market common.Address
	PunkID *big.Int
}

// GenerativeArtAssetType is a placeholder descriptor for generative art
// collections; it is never transacted directly.
type GenerativeArtAssetType struct {
	Token common.Address
}

func (EthAssetType) Class() AssetClass           { return AssetClassEth }
func (Erc20AssetType) Class() AssetClass         { return AssetClassErc20 }
func (Erc721AssetType) Class() AssetClass        { return AssetClassErc721 }
func (Erc1155AssetType) Class() AssetClass       { return AssetClassErc1155 }
func (Erc721LazyAssetType) Class() AssetClass    { return AssetClassErc721Lazy }
func (Erc1155LazyAssetType) Class() AssetClass   { return AssetClassErc1155Lazy }
func (CollectionAssetType) Class() AssetClass    { return AssetClassCollection }
func (CryptoPunksAssetType) Class() AssetClass   { return AssetClassCryptoPunks }
func (GenerativeArtAssetType) Class() AssetClass { return AssetClassGenerativeArt }

func (EthAssetType) NFT() bool           { return false }
func (Erc20AssetType) NFT() bool         { return false }
func (Erc721AssetType) NFT() bool        { return true }
func (Erc1155AssetType) NFT() bool       { return true }
func (Erc721LazyAssetType) NFT() bool    { return true }
func (Erc1155LazyAssetType) NFT() bool   { return true }
func (CollectionAssetType) NFT() bool    { return true }
func (CryptoPunksAssetType) NFT() bool   { return true }
func (GenerativeArtAssetType) NFT() bool { return false }

func (EthAssetType) assetType()           {}
func (Erc20AssetType) assetType()         {}
func (Erc721AssetType) assetType()        {}
func (Erc1155AssetType) assetType()       {}
func (Erc721LazyAssetType) assetType()    {}
func (Erc1155LazyAssetType) assetType()   {}
func (CollectionAssetType) assetType()    {}
func (CryptoPunksAssetType) assetType()   {}
func (GenerativeArtAssetType) assetType() {}

// TokenOf returns the contract address behind an asset type. The native coin
// maps to the zero address.
func TokenOf(t AssetType) common.Address {
	switch v := t.(type) {
	case EthAssetType:
		return common.Address{}
	case Erc20AssetType:
		return v.Token
	case Erc721AssetType:
		return v.Token
	case Erc1155AssetType:
		return v.Token
	case Erc721LazyAssetType:
		return v.Token
	case Erc1155LazyAssetType:
		return v.Token
	case CollectionAssetType:
		return v.Token
	case CryptoPunksAssetType:
		return v.Market
	case GenerativeArtAssetType:
		return v.Token
	default:
		return common.Address{}
	}
}

// TokenIDOf returns the token id of NFT variants, or nil for fungibles and
// collection-wide descriptors.
func TokenIDOf(t AssetType) *big.Int {
	switch v := t.(type) {
	case Erc721AssetType:
		return v.TokenID
	case Erc1155AssetType:
		return v.TokenID
	case Erc721LazyAssetType:
		return v.TokenID
	case Erc1155LazyAssetType:
		return v.TokenID
	case CryptoPunksAssetType:
		return v.PunkID
	default:
		return nil
	}
}

// AssetTypeEqual reports structural equality of two asset types.
func AssetTypeEqual(a, b AssetType) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.Class() != b.Class() {
		return false
	}
	if TokenOf(a) != TokenOf(b) {
		return false
	}
	return bigEqual(TokenIDOf(a), TokenIDOf(b))
}

// Asset couples an asset type with an unsigned 256-bit quantity.
type Asset struct {
	Type  AssetType
	Value *big.Int
}

// Equal reports whether both the descriptor and the amount match.
func (a Asset) Equal(b Asset) bool {
	return AssetTypeEqual(a.Type, b.Type) && bigEqual(a.Value, b.Value)
}

func bigEqual(a, b *big.Int) bool {
	if a == nil || b == nil {
		return (a == nil) == (b == nil)
	}
	return a.Cmp(b) == 0
}

// --------------------------------------------------------------------------
// JSON envelope. Asset types are persisted inside jsonb columns and travel
// over the log feed, so the union is encoded with an explicit assetClass tag.
// --------------------------------------------------------------------------

type assetTypeJSON struct {
	AssetClass AssetClass `json:"assetClass"`
	Token      string     `json:"token,omitempty"`
	TokenID    string     `json:"tokenId,omitempty"`
	URI        string     `json:"uri,omitempty"`
	Supply     string     `json:"supply,omitempty"`
	Creators   []Part     `json:"creators,omitempty"`
	Royalties  []Part     `json:"royalties,omitempty"`
	Signatures [][]byte   `json:"signatures,omitempty"`
}

// MarshalAssetType encodes an asset type with its class tag. A nil type
// encodes as an empty envelope so half-populated match payloads survive
// persistence.
func MarshalAssetType(t AssetType) ([]byte, error) {
	if t == nil {
		return json.Marshal(assetTypeJSON{})
	}
	env := assetTypeJSON{AssetClass: t.Class()}
	if tok := TokenOf(t); tok != (common.Address{}) {
		env.Token = tok.Hex()
	}
	if id := TokenIDOf(t); id != nil {
		env.TokenID = id.String()
	}
	switch v := t.(type) {
	case Erc721LazyAssetType:
		env.URI = v.URI
		env.Creators = v.Creators
		env.Royalties = v.Royalties
		env.Signatures = v.Signatures
	case Erc1155LazyAssetType:
		env.URI = v.URI
		if v.Supply != nil {
			env.Supply = v.Supply.String()
		}
		env.Creators = v.Creators
		env.Royalties = v.Royalties
		env.Signatures = v.Signatures
	}
	return json.Marshal(env)
}

// UnmarshalAssetType decodes a class-tagged asset type envelope.
func UnmarshalAssetType(data []byte) (AssetType, error) {
	var env assetTypeJSON
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("domain: decode asset type: %w", err)
	}
	token := common.HexToAddress(env.Token)
	tokenID, err := parseOptBig(env.TokenID)
	if err != nil {
		return nil, fmt.Errorf("domain: decode asset type token id: %w", err)
	}
	switch env.AssetClass {
	case "":
		return nil, nil
	case AssetClassEth:
		return EthAssetType{}, nil
	case AssetClassErc20:
		return Erc20AssetType{Token: token}, nil
	case AssetClassErc721:
		return Erc721AssetType{Token: token, TokenID: tokenID}, nil
	case AssetClassErc1155:
		return Erc1155AssetType{Token: token, TokenID: tokenID}, nil
	case AssetClassErc721Lazy:
		return Erc721LazyAssetType{
			Token: token, TokenID: tokenID, URI: env.URI,
			Creators: env.Creators, Royalties: env.Royalties, Signatures: env.Signatures,
		}, nil
	case AssetClassErc1155Lazy:
		supply, err := parseOptBig(env.Supply)
		if err != nil {
			return nil, fmt.Errorf("domain: decode asset type supply: %w", err)
		}
		return Erc1155LazyAssetType{
			Token: token, TokenID: tokenID, URI: env.URI, Supply: supply,
			Creators: env.Creators, Royalties: env.Royalties, Signatures: env.Signatures,
		}, nil
	case AssetClassCollection:
		return CollectionAssetType{Token: token}, nil
	case AssetClassCryptoPunks:
		return CryptoPunksAssetType{Market: token, PunkID: tokenID}, nil
	case AssetClassGenerativeArt:
		return GenerativeArtAssetType{Token: token}, nil
	default:
		return nil, &UnsupportedAssetError{Class: env.AssetClass, Reason: "unknown asset class"}
	}
}

type assetJSON struct {
	AssetType json.RawMessage `json:"assetType"`
	Value     string          `json:"value"`
}

// MarshalJSON implements json.Marshaler for the class-tagged envelope.
func (a Asset) MarshalJSON() ([]byte, error) {
	raw, err := MarshalAssetType(a.Type)
	if err != nil {
		return nil, err
	}
	value := "0"
	if a.Value != nil {
		value = a.Value.String()
	}
	return json.Marshal(assetJSON{AssetType: raw, Value: value})
}

// UnmarshalJSON implements json.Unmarshaler.
func (a *Asset) UnmarshalJSON(data []byte) error {
	var env assetJSON
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("domain: decode asset: %w", err)
	}
	t, err := UnmarshalAssetType(env.AssetType)
	if err != nil {
		return err
	}
	value, err := parseOptBig(env.Value)
	if err != nil {
		return fmt.Errorf("domain: decode asset value: %w", err)
	}
	if value == nil {
		value = new(big.Int)
	}
	a.Type = t
	a.Value = value
	return nil
}

func parseOptBig(s string) (*big.Int, error) {
	if s == "" {
		return nil, nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid integer %q", s)
	}
	if v.Sign() < 0 {
		return nil, fmt.Errorf("negative integer %q", s)
	}
	return v, nil
}
