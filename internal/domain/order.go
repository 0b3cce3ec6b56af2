package domain

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/goccy/go-json"
	"github.com/shopspring/decimal"
)

// OrderType is the exchange protocol variant an order was created for.
type OrderType string

const (
	OrderTypeRaribleV1   OrderType = "RARIBLE_V1"
	OrderTypeRaribleV2   OrderType = "RARIBLE_V2"
	OrderTypeOpenSeaV1   OrderType = "OPEN_SEA_V1"
	OrderTypeCryptoPunks OrderType = "CRYPTO_PUNKS"
)

// Platform tags the marketplace an order originated from.
type Platform string

const (
	PlatformRarible     Platform = "RARIBLE"
	PlatformOpenSea     Platform = "OPEN_SEA"
	PlatformCryptoPunks Platform = "CRYPTO_PUNKS"
)

// FeeSide indicates which side of the trade the fee schedule applies to.
type FeeSide string

const (
	FeeSideNone FeeSide = "NONE"
	FeeSideMake FeeSide = "MAKE"
	FeeSideTake FeeSide = "TAKE"
)

// Part is a (recipient, basis-points) pair used for origin fees, payouts,
// creators and royalties.
type Part struct {
	Account common.Address
	Value   *big.Int
}

type partJSON struct {
	Account string `json:"account"`
	Value   string `json:"value"`
}

// MarshalJSON implements json.Marshaler.
func (p Part) MarshalJSON() ([]byte, error) {
	v := "0"
	if p.Value != nil {
		v = p.Value.String()
	}
	return json.Marshal(partJSON{Account: p.Account.Hex(), Value: v})
}

// UnmarshalJSON implements json.Unmarshaler.
func (p *Part) UnmarshalJSON(data []byte) error {
	var env partJSON
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("domain: decode part: %w", err)
	}
	value, err := parseOptBig(env.Value)
	if err != nil {
		return fmt.Errorf("domain: decode part value: %w", err)
	}
	p.Account = common.HexToAddress(env.Account)
	p.Value = value
	return nil
}

// --------------------------------------------------------------------------
// OrderData: the fee/payout schedule, one variant per protocol generation.
// --------------------------------------------------------------------------

// DataKind identifies one variant of the OrderData union.
type DataKind string

const (
	DataKindLegacy      DataKind = "LEGACY"
	DataKindRaribleV2V1 DataKind = "RARIBLE_V2_DATA_V1"
	DataKindRaribleV2V2 DataKind = "RARIBLE_V2_DATA_V2"
	DataKindOpenSeaV1   DataKind = "OPEN_SEA_V1_DATA_V1"
	DataKindCryptoPunks DataKind = "CRYPTO_PUNKS_DATA"
)

// OrderData is a closed union carrying the fee/payout schedule of an order.
// The variant must match the order's protocol type.
type OrderData interface {
	Kind() DataKind
	orderData()
}

// OrderDataLegacy carries the single fee field of the legacy exchange.
type OrderDataLegacy struct {
	Fee int64
}

// OrderRaribleV2DataV1 carries origin-fee and payout schedules.
type OrderRaribleV2DataV1 struct {
	Payouts    []Part
	OriginFees []Part
}

// OrderRaribleV2DataV2 extends V1 with the fill-basis flag: when IsMakeFill is
// set, fill is measured on the make side instead of the take side.
type OrderRaribleV2DataV2 struct {
	Payouts    []Part
	OriginFees []Part
	IsMakeFill bool
}

// OpenSeaFeeMethod, OpenSeaSide, OpenSeaSaleKind and OpenSeaHowToCall mirror
// the foreign exchange's wire enums; values are fixed by that protocol.
type (
	OpenSeaFeeMethod uint8
	OpenSeaSide      uint8
	OpenSeaSaleKind  uint8
	OpenSeaHowToCall uint8
)

const (
	OpenSeaFeeMethodProtocolFee  OpenSeaFeeMethod = 0
	OpenSeaFeeMethodSplitFee     OpenSeaFeeMethod = 1
	OpenSeaSideBuy               OpenSeaSide      = 0
	OpenSeaSideSell              OpenSeaSide      = 1
	OpenSeaSaleKindFixedPrice    OpenSeaSaleKind  = 0
	OpenSeaSaleKindDutchAuction  OpenSeaSaleKind  = 1
	OpenSeaHowToCallCall         OpenSeaHowToCall = 0
	OpenSeaHowToCallDelegateCall OpenSeaHowToCall = 1
)

// OrderOpenSeaV1DataV1 is the foreign-exchange passthrough variant. It keeps
// the third-party wire fields verbatim because its hash is verified by the
// external contract. No protocol fee applies on our side.
type OrderOpenSeaV1DataV1 struct {
	Exchange           common.Address
	MakerRelayerFee    *big.Int
	TakerRelayerFee    *big.Int
	MakerProtocolFee   *big.Int
	TakerProtocolFee   *big.Int
	FeeRecipient       common.Address
	FeeMethod          OpenSeaFeeMethod
	Side               OpenSeaSide
	SaleKind           OpenSeaSaleKind
	HowToCall          OpenSeaHowToCall
	CallData           []byte
	ReplacementPattern []byte
	StaticTarget       common.Address
	StaticExtraData    []byte
	Extra              *big.Int
	Target             common.Address
	Nonce              *int64
}

// OrderCryptoPunksData marks orders synthesized from punk marketplace events.
type OrderCryptoPunksData struct{}

func (OrderDataLegacy) Kind() DataKind      { return DataKindLegacy }
func (OrderRaribleV2DataV1) Kind() DataKind { return DataKindRaribleV2V1 }
func (OrderRaribleV2DataV2) Kind() DataKind { return DataKindRaribleV2V2 }
func (OrderOpenSeaV1DataV1) Kind() DataKind { return DataKindOpenSeaV1 }
func (OrderCryptoPunksData) Kind() DataKind { return DataKindCryptoPunks }

func (OrderDataLegacy) orderData()      {}
func (OrderRaribleV2DataV1) orderData() {}
func (OrderRaribleV2DataV2) orderData() {}
func (OrderOpenSeaV1DataV1) orderData() {}
func (OrderCryptoPunksData) orderData() {}

// IsMakeFillData reports whether the order measures fill on the make side.
func IsMakeFillData(d OrderData) bool {
	v2, ok := d.(OrderRaribleV2DataV2)
	return ok && v2.IsMakeFill
}

// OriginFeeTotal sums the origin-fee basis points of a data variant on top of
// the given protocol fee. The foreign passthrough variant carries no protocol
// fee on our side.
func OriginFeeTotal(d OrderData, protocolFeeBps *big.Int) *big.Int {
	switch v := d.(type) {
	case OrderDataLegacy:
		return big.NewInt(v.Fee)
	case OrderRaribleV2DataV1:
		return sumParts(v.OriginFees, protocolFeeBps)
	case OrderRaribleV2DataV2:
		return sumParts(v.OriginFees, protocolFeeBps)
	default:
		return new(big.Int)
	}
}

func sumParts(parts []Part, base *big.Int) *big.Int {
	total := new(big.Int)
	if base != nil {
		total.Set(base)
	}
	for _, p := range parts {
		if p.Value != nil {
			total.Add(total, p.Value)
		}
	}
	return total
}

// --------------------------------------------------------------------------
// Order snapshot and OrderVersion.
// --------------------------------------------------------------------------

// MaxPriceHistories bounds the per-order price history ring; older entries
// are evicted first.
const MaxPriceHistories = 20

// PriceHistoryRecord is one normalized price point, recorded whenever the
// make/take amounts of an order change.
type PriceHistoryRecord struct {
	Date      time.Time       `json:"date"`
	MakeValue decimal.Decimal `json:"makeValue"`
	TakeValue decimal.Decimal `json:"takeValue"`
}

// OrderUsdValue is the USD valuation of both sides of an order at an instant.
type OrderUsdValue struct {
	MakePriceUsd *decimal.Decimal
	TakePriceUsd *decimal.Decimal
	MakeUsd      *decimal.Decimal
	TakeUsd      *decimal.Decimal
}

// Order is the reduced snapshot of one logical order, keyed by its identity
// hash. It is never deleted: a dead order keeps cancelled=true / makeStock=0.
type Order struct {
	Hash  common.Hash
	Maker common.Address
	Taker *common.Address

	Make Asset
	Take Asset

	Type OrderType

	Fill      *big.Int
	Cancelled bool
	MakeStock *big.Int

	Salt  *big.Int
	Start *int64
	End   *int64

	Data      OrderData
	Signature []byte

	CreatedAt    time.Time
	LastUpdateAt time.Time

	// Pending holds exchange-history payloads observed in unconfirmed blocks.
	Pending []ExchangeHistory

	MakePriceUsd *decimal.Decimal
	TakePriceUsd *decimal.Decimal
	MakeUsd      *decimal.Decimal
	TakeUsd      *decimal.Decimal

	PriceHistory []PriceHistoryRecord

	Platform Platform

	// DBVersion is the optimistic-concurrency counter maintained by the
	// store; zero means the order has never been persisted.
	DBVersion int64
}

// OrderVersion is one immutable order intent: a signed off-chain submission or
// an order materialized from an on-chain order-creation event.
type OrderVersion struct {
	ID        string
	Hash      common.Hash
	Maker     common.Address
	Taker     *common.Address
	Make      Asset
	Take      Asset
	Type      OrderType
	Salt      *big.Int
	Start     *int64
	End       *int64
	Data      OrderData
	Signature []byte
	Platform  Platform
	CreatedAt time.Time

	// OnChain marks versions materialized from OnChainOrder log events; they
	// are persisted for query purposes but excluded from the reduction fold.
	OnChain bool

	MakePriceUsd *decimal.Decimal
	TakePriceUsd *decimal.Decimal
	MakeUsd      *decimal.Decimal
	TakeUsd      *decimal.Decimal
}

// GetFeeSide decides which side bears the fee for an asset pairing. The
// priority order (native coin, then fungible token, then ERC-1155), make side
// before take side, is fixed by the exchange contracts.
func GetFeeSide(make, take AssetType) FeeSide {
	switch {
	case make.Class() == AssetClassEth:
		return FeeSideMake
	case take.Class() == AssetClassEth:
		return FeeSideTake
	case make.Class() == AssetClassErc20:
		return FeeSideMake
	case take.Class() == AssetClassErc20:
		return FeeSideTake
	case make.Class() == AssetClassErc1155:
		return FeeSideMake
	case take.Class() == AssetClassErc1155:
		return FeeSideTake
	default:
		return FeeSideNone
	}
}

var bps10000 = big.NewInt(10000)

// CalculateMakeStock computes how much of the make side is actually tradable
// given the nominal amounts, cumulative fill, fee schedule, live balance and
// cancellation state. All divisions truncate; the balance is converted to
// make units through the take side (balance -> max take -> make) so rounding
// matches the settlement arithmetic.
func CalculateMakeStock(
	makeValue, takeValue, fill *big.Int,
	data OrderData,
	makeBalance *big.Int,
	protocolFeeBps *big.Int,
	feeSide FeeSide,
	cancelled bool,
) *big.Int {
	if cancelled {
		return new(big.Int)
	}
	if makeValue == nil || takeValue == nil || makeValue.Sign() == 0 || takeValue.Sign() == 0 {
		return new(big.Int)
	}
	if fill == nil {
		fill = new(big.Int)
	}
	if makeBalance == nil {
		makeBalance = new(big.Int)
	}

	remainingMake := remainingMakeValue(makeValue, takeValue, fill, data)
	if remainingMake.Sign() <= 0 {
		return new(big.Int)
	}

	fee := new(big.Int)
	if feeSide == FeeSideMake {
		fee = OriginFeeTotal(data, protocolFeeBps)
	}

	// The balance must cover principal plus fees: scale it down before the
	// two-step conversion into make units.
	adjusted := new(big.Int).Mul(makeBalance, bps10000)
	adjusted.Div(adjusted, new(big.Int).Add(fee, bps10000))

	maxTake := new(big.Int).Mul(adjusted, takeValue)
	maxTake.Div(maxTake, makeValue)
	rounded := new(big.Int).Mul(makeValue, maxTake)
	rounded.Div(rounded, takeValue)

	if remainingMake.Cmp(rounded) < 0 {
		return remainingMake
	}
	return rounded
}

// remainingMakeValue converts the unfilled part of an order into make units,
// honoring the fill basis of the data variant.
func remainingMakeValue(makeValue, takeValue, fill *big.Int, data OrderData) *big.Int {
	if IsMakeFillData(data) {
		remaining := new(big.Int).Sub(makeValue, fill)
		if remaining.Sign() < 0 {
			return new(big.Int)
		}
		return remaining
	}
	take := new(big.Int).Sub(takeValue, fill)
	if take.Sign() < 0 {
		return new(big.Int)
	}
	make := new(big.Int).Mul(take, makeValue)
	return make.Div(make, takeValue)
}

// WithMakeBalance returns a copy with makeStock recomputed against the given
// live balance and protocol fee.
func (o Order) WithMakeBalance(makeBalance, protocolFeeBps *big.Int) Order {
	o.MakeStock = CalculateMakeStock(
		o.Make.Value, o.Take.Value, o.Fill, o.Data,
		makeBalance, protocolFeeBps,
		GetFeeSide(o.Make.Type, o.Take.Type), o.Cancelled,
	)
	return o
}

// WithUsdValue returns a copy annotated with the given USD valuation. Fields
// left nil in the valuation keep their previous (possibly stale) values.
func (o Order) WithUsdValue(v OrderUsdValue) Order {
	if v.MakePriceUsd != nil {
		o.MakePriceUsd = v.MakePriceUsd
	}
	if v.TakePriceUsd != nil {
		o.TakePriceUsd = v.TakePriceUsd
	}
	if v.MakeUsd != nil {
		o.MakeUsd = v.MakeUsd
	}
	if v.TakeUsd != nil {
		o.TakeUsd = v.TakeUsd
	}
	return o
}

// IsBid reports whether the order offers payment for an NFT.
func (o Order) IsBid() bool {
	return o.Take.Type != nil && o.Take.Type.NFT()
}

// OpenSeaNonce extracts the maker nonce of foreign-exchange orders, or nil.
func (o Order) OpenSeaNonce() *int64 {
	if d, ok := o.Data.(OrderOpenSeaV1DataV1); ok {
		return d.Nonce
	}
	return nil
}
