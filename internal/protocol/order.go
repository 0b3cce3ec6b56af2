package protocol

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/raremarket/orderwatch/internal/domain"
)

// CryptoPunksSalt is the well-known constant salt of punk-marketplace orders.
// Punk "orders" are synthesized from marketplace events, never signed, so the
// whole population shares one salt.
var CryptoPunksSalt = big.NewInt(0)

var orderTypeHash = Keccak256([]byte(
	"Order(address maker,Asset makeAsset,address taker,Asset takeAsset,uint256 salt,uint256 start,uint256 end,bytes4 dataType,bytes data)" +
		"Asset(AssetType assetType,uint256 value)" +
		"AssetType(bytes4 assetClass,bytes data)",
))

// HashKey computes the order identity hash, the primary key every store and
// every reduction joins on: keccak256(maker ++ typeHash(make) ++
// typeHash(take) ++ salt). For make-fill data the data commitment joins the
// pre-image, so switching the fill basis of otherwise identical terms yields
// a distinct identity.
func HashKey(
	maker common.Address,
	makeType, takeType domain.AssetType,
	salt *big.Int,
	data domain.OrderData,
) (common.Hash, error) {
	makeHash, err := TypeHash(makeType)
	if err != nil {
		return common.Hash{}, err
	}
	takeHash, err := TypeHash(takeType)
	if err != nil {
		return common.Hash{}, err
	}
	chunks := [][]byte{
		addressWord(maker),
		makeHash.Bytes(),
		takeHash.Bytes(),
		bigWord(salt),
	}
	if _, ok := data.(domain.OrderRaribleV2DataV2); ok {
		encoded, err := EncodeOrderData(data)
		if err != nil {
			return common.Hash{}, err
		}
		chunks = append(chunks, Keccak256(encoded).Bytes())
	}
	return Keccak256(chunks...), nil
}

// OrderKey computes the identity hash of a version's trading fields,
// substituting the constant punk salt for punk-marketplace orders.
func OrderKey(v domain.OrderVersion) (common.Hash, error) {
	salt := v.Salt
	if v.Type == domain.OrderTypeCryptoPunks {
		salt = CryptoPunksSalt
	}
	return HashKey(v.Maker, v.Make.Type, v.Take.Type, salt, v.Data)
}

// Hash computes the protocol message hash of an order's trading fields, the
// value a maker actually signs. Distinct from the identity key for every
// protocol but the punk marketplace.
func Hash(
	maker common.Address,
	make domain.Asset,
	taker *common.Address,
	take domain.Asset,
	salt *big.Int,
	start, end *int64,
	data domain.OrderData,
	orderType domain.OrderType,
) (common.Hash, error) {
	switch orderType {
	case domain.OrderTypeRaribleV2:
		return raribleV2Hash(maker, make, taker, take, salt, start, end, data)
	case domain.OrderTypeRaribleV1:
		return raribleV1Hash(maker, make, take, salt, data)
	case domain.OrderTypeOpenSeaV1:
		return openSeaV1Hash(maker, make, taker, take, salt, start, end, data)
	case domain.OrderTypeCryptoPunks:
		return HashKey(maker, make.Type, take.Type, CryptoPunksSalt, data)
	default:
		return common.Hash{}, &domain.UnsupportedOrderDataError{DataType: string(orderType)}
	}
}

// raribleV1Hash is the legacy tuple hash: eleven static words covering maker,
// salt, both simplified asset descriptors, both amounts and the single fee.
func raribleV1Hash(
	maker common.Address,
	make domain.Asset,
	take domain.Asset,
	salt *big.Int,
	data domain.OrderData,
) (common.Hash, error) {
	legacyMake, err := toLegacy(make.Type)
	if err != nil {
		return common.Hash{}, err
	}
	legacyTake, err := toLegacy(take.Type)
	if err != nil {
		return common.Hash{}, err
	}
	legacyData, ok := data.(domain.OrderDataLegacy)
	if !ok {
		return common.Hash{}, &domain.UnsupportedOrderDataError{DataType: string(data.Kind())}
	}
	return Keccak256(
		addressWord(maker),
		bigWord(salt),
		addressWord(legacyMake.Token),
		bigWord(legacyMake.TokenID),
		bigWord(big.NewInt(legacyMake.Class)),
		addressWord(legacyTake.Token),
		bigWord(legacyTake.TokenID),
		bigWord(big.NewInt(legacyTake.Class)),
		bigWord(make.Value),
		bigWord(take.Value),
		bigWord(big.NewInt(legacyData.Fee)),
	), nil
}

// raribleV2Hash is the EIP-712 typed order hash. Extending OrderData gets a
// new data-version tag, so old hashes can never collide with new layouts.
func raribleV2Hash(
	maker common.Address,
	make domain.Asset,
	taker *common.Address,
	take domain.Asset,
	salt *big.Int,
	start, end *int64,
	data domain.OrderData,
) (common.Hash, error) {
	makeHash, err := AssetHash(make)
	if err != nil {
		return common.Hash{}, err
	}
	takeHash, err := AssetHash(take)
	if err != nil {
		return common.Hash{}, err
	}
	version, err := DataVersion(data)
	if err != nil {
		return common.Hash{}, err
	}
	encodedData, err := EncodeOrderData(data)
	if err != nil {
		return common.Hash{}, err
	}
	takerAddr := common.Address{}
	if taker != nil {
		takerAddr = *taker
	}
	return Keccak256(
		orderTypeHash.Bytes(),
		addressWord(maker),
		makeHash.Bytes(),
		addressWord(takerAddr),
		takeHash.Bytes(),
		bigWord(salt),
		int64Word(start),
		int64Word(end),
		bytes4Word(version),
		Keccak256(encodedData).Bytes(),
	), nil
}

// openSeaV1Hash reproduces the foreign exchange's wire hash byte for byte:
// raw 20-byte addresses, 32-byte numeric words and single-byte enum tags,
// concatenated in the contract's field order.
func openSeaV1Hash(
	maker common.Address,
	make domain.Asset,
	taker *common.Address,
	take domain.Asset,
	salt *big.Int,
	start, end *int64,
	data domain.OrderData,
) (common.Hash, error) {
	openSeaData, ok := data.(domain.OrderOpenSeaV1DataV1)
	if !ok {
		return common.Hash{}, &domain.UnsupportedOrderDataError{DataType: string(data.Kind())}
	}

	var nftType, paymentType domain.AssetType
	var basePrice *big.Int
	switch {
	case make.Type.NFT() && !take.Type.NFT():
		nftType, paymentType, basePrice = make.Type, take.Type, take.Value
	case take.Type.NFT() && !make.Type.NFT():
		nftType, paymentType, basePrice = take.Type, make.Type, make.Value
	default:
		return common.Hash{}, &domain.UnsupportedAssetError{
			Class:  make.Type.Class(),
			Reason: "pairing has no single nft side",
		}
	}

	takerAddr := common.Address{}
	if taker != nil {
		takerAddr = *taker
	}
	return Keccak256(
		openSeaData.Exchange.Bytes(),
		maker.Bytes(),
		takerAddr.Bytes(),
		bigWord(openSeaData.MakerRelayerFee),
		bigWord(openSeaData.TakerRelayerFee),
		bigWord(openSeaData.MakerProtocolFee),
		bigWord(openSeaData.TakerProtocolFee),
		openSeaData.FeeRecipient.Bytes(),
		[]byte{byte(openSeaData.FeeMethod)},
		[]byte{byte(openSeaData.Side)},
		[]byte{byte(openSeaData.SaleKind)},
		domain.TokenOf(nftType).Bytes(),
		[]byte{byte(openSeaData.HowToCall)},
		openSeaData.CallData,
		openSeaData.ReplacementPattern,
		openSeaData.StaticTarget.Bytes(),
		openSeaData.StaticExtraData,
		domain.TokenOf(paymentType).Bytes(),
		bigWord(basePrice),
		bigWord(openSeaData.Extra),
		int64Word(start),
		int64Word(end),
		bigWord(salt),
	), nil
}

// CandidateKeys lists the identity hashes an observed on-chain match may be
// stored under. The narrow token-scoped key comes first; when an NFT side can
// widen to a collection-level descriptor the widened key follows, so the
// caller resolves collection offers by probing in order.
func CandidateKeys(
	maker common.Address,
	makeType, takeType domain.AssetType,
	salt *big.Int,
	data domain.OrderData,
) ([]common.Hash, error) {
	narrow, err := HashKey(maker, makeType, takeType, salt, data)
	if err != nil {
		return nil, err
	}
	keys := []common.Hash{narrow}

	if wide, ok := widenToCollection(takeType); ok {
		key, err := HashKey(maker, makeType, wide, salt, data)
		if err != nil {
			return nil, err
		}
		keys = appendKey(keys, key)
	}
	if wide, ok := widenToCollection(makeType); ok {
		key, err := HashKey(maker, wide, takeType, salt, data)
		if err != nil {
			return nil, err
		}
		keys = appendKey(keys, key)
	}
	return keys, nil
}

// widenToCollection strips the token id off a minted NFT descriptor. Lazy
// descriptors never widen: a collection offer cannot commit to mint data.
func widenToCollection(t domain.AssetType) (domain.AssetType, bool) {
	switch v := t.(type) {
	case domain.Erc721AssetType:
		return domain.CollectionAssetType{Token: v.Token}, true
	case domain.Erc1155AssetType:
		return domain.CollectionAssetType{Token: v.Token}, true
	default:
		return nil, false
	}
}

func appendKey(keys []common.Hash, key common.Hash) []common.Hash {
	for _, k := range keys {
		if k == key {
			return keys
		}
	}
	return append(keys, key)
}
