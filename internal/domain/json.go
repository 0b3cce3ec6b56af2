package domain

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/goccy/go-json"
	"github.com/shopspring/decimal"
)

// This file holds the jsonb envelopes for the closed unions. Stores and the
// log feed share one wire shape, so a payload written by the consumer decodes
// identically when the reducer reads it back.

type orderDataJSON struct {
	DataType DataKind `json:"dataType"`

	Fee        int64  `json:"fee,omitempty"`
	Payouts    []Part `json:"payouts,omitempty"`
	OriginFees []Part `json:"originFees,omitempty"`
	IsMakeFill bool   `json:"isMakeFill,omitempty"`

	Exchange           string `json:"exchange,omitempty"`
	MakerRelayerFee    string `json:"makerRelayerFee,omitempty"`
	TakerRelayerFee    string `json:"takerRelayerFee,omitempty"`
	MakerProtocolFee   string `json:"makerProtocolFee,omitempty"`
	TakerProtocolFee   string `json:"takerProtocolFee,omitempty"`
	FeeRecipient       string `json:"feeRecipient,omitempty"`
	FeeMethod          uint8  `json:"feeMethod,omitempty"`
	Side               uint8  `json:"side,omitempty"`
	SaleKind           uint8  `json:"saleKind,omitempty"`
	HowToCall          uint8  `json:"howToCall,omitempty"`
	CallData           []byte `json:"callData,omitempty"`
	ReplacementPattern []byte `json:"replacementPattern,omitempty"`
	StaticTarget       string `json:"staticTarget,omitempty"`
	StaticExtraData    []byte `json:"staticExtraData,omitempty"`
	Extra              string `json:"extra,omitempty"`
	Target             string `json:"target,omitempty"`
	Nonce              *int64 `json:"nonce,omitempty"`
}

// MarshalOrderData encodes an order-data variant with its dataType tag.
func MarshalOrderData(d OrderData) ([]byte, error) {
	env := orderDataJSON{DataType: d.Kind()}
	switch v := d.(type) {
	case OrderDataLegacy:
		env.Fee = v.Fee
	case OrderRaribleV2DataV1:
		env.Payouts = v.Payouts
		env.OriginFees = v.OriginFees
	case OrderRaribleV2DataV2:
		env.Payouts = v.Payouts
		env.OriginFees = v.OriginFees
		env.IsMakeFill = v.IsMakeFill
	case OrderOpenSeaV1DataV1:
		env.Exchange = v.Exchange.Hex()
		env.MakerRelayerFee = bigString(v.MakerRelayerFee)
		env.TakerRelayerFee = bigString(v.TakerRelayerFee)
		env.MakerProtocolFee = bigString(v.MakerProtocolFee)
		env.TakerProtocolFee = bigString(v.TakerProtocolFee)
		env.FeeRecipient = v.FeeRecipient.Hex()
		env.FeeMethod = uint8(v.FeeMethod)
		env.Side = uint8(v.Side)
		env.SaleKind = uint8(v.SaleKind)
		env.HowToCall = uint8(v.HowToCall)
		env.CallData = v.CallData
		env.ReplacementPattern = v.ReplacementPattern
		env.StaticTarget = v.StaticTarget.Hex()
		env.StaticExtraData = v.StaticExtraData
		env.Extra = bigString(v.Extra)
		env.Target = v.Target.Hex()
		env.Nonce = v.Nonce
	case OrderCryptoPunksData:
	}
	return json.Marshal(env)
}

// UnmarshalOrderData decodes a dataType-tagged order-data envelope. Unknown
// tags yield an UnsupportedOrderDataError.
func UnmarshalOrderData(data []byte) (OrderData, error) {
	var env orderDataJSON
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("domain: decode order data: %w", err)
	}
	switch env.DataType {
	case DataKindLegacy:
		return OrderDataLegacy{Fee: env.Fee}, nil
	case DataKindRaribleV2V1:
		return OrderRaribleV2DataV1{Payouts: env.Payouts, OriginFees: env.OriginFees}, nil
	case DataKindRaribleV2V2:
		return OrderRaribleV2DataV2{
			Payouts: env.Payouts, OriginFees: env.OriginFees, IsMakeFill: env.IsMakeFill,
		}, nil
	case DataKindOpenSeaV1:
		makerRelayer, err := parseOptBig(env.MakerRelayerFee)
		if err != nil {
			return nil, fmt.Errorf("domain: decode order data: %w", err)
		}
		takerRelayer, err := parseOptBig(env.TakerRelayerFee)
		if err != nil {
			return nil, fmt.Errorf("domain: decode order data: %w", err)
		}
		makerProtocol, err := parseOptBig(env.MakerProtocolFee)
		if err != nil {
			return nil, fmt.Errorf("domain: decode order data: %w", err)
		}
		takerProtocol, err := parseOptBig(env.TakerProtocolFee)
		if err != nil {
			return nil, fmt.Errorf("domain: decode order data: %w", err)
		}
		extra, err := parseOptBig(env.Extra)
		if err != nil {
			return nil, fmt.Errorf("domain: decode order data: %w", err)
		}
		return OrderOpenSeaV1DataV1{
			Exchange:           common.HexToAddress(env.Exchange),
			MakerRelayerFee:    makerRelayer,
			TakerRelayerFee:    takerRelayer,
			MakerProtocolFee:   makerProtocol,
			TakerProtocolFee:   takerProtocol,
			FeeRecipient:       common.HexToAddress(env.FeeRecipient),
			FeeMethod:          OpenSeaFeeMethod(env.FeeMethod),
			Side:               OpenSeaSide(env.Side),
			SaleKind:           OpenSeaSaleKind(env.SaleKind),
			HowToCall:          OpenSeaHowToCall(env.HowToCall),
			CallData:           env.CallData,
			ReplacementPattern: env.ReplacementPattern,
			StaticTarget:       common.HexToAddress(env.StaticTarget),
			StaticExtraData:    env.StaticExtraData,
			Extra:              extra,
			Target:             common.HexToAddress(env.Target),
			Nonce:              env.Nonce,
		}, nil
	case DataKindCryptoPunks:
		return OrderCryptoPunksData{}, nil
	default:
		return nil, &UnsupportedOrderDataError{DataType: string(env.DataType)}
	}
}

func bigString(v *big.Int) string {
	if v == nil {
		return ""
	}
	return v.String()
}

// --------------------------------------------------------------------------
// OrderVersion envelope (embedded in OnChainOrder payloads and feed frames).
// --------------------------------------------------------------------------

type orderVersionJSON struct {
	ID           string           `json:"id"`
	Hash         string           `json:"hash"`
	Maker        string           `json:"maker"`
	Taker        *string          `json:"taker,omitempty"`
	Make         Asset            `json:"make"`
	Take         Asset            `json:"take"`
	Type         OrderType        `json:"type"`
	Salt         string           `json:"salt"`
	Start        *int64           `json:"start,omitempty"`
	End          *int64           `json:"end,omitempty"`
	Data         json.RawMessage  `json:"data"`
	Signature    []byte           `json:"signature,omitempty"`
	Platform     Platform         `json:"platform"`
	CreatedAt    time.Time        `json:"createdAt"`
	OnChain      bool             `json:"onChain,omitempty"`
	MakePriceUsd *decimal.Decimal `json:"makePriceUsd,omitempty"`
	TakePriceUsd *decimal.Decimal `json:"takePriceUsd,omitempty"`
	MakeUsd      *decimal.Decimal `json:"makeUsd,omitempty"`
	TakeUsd      *decimal.Decimal `json:"takeUsd,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (v OrderVersion) MarshalJSON() ([]byte, error) {
	rawData, err := MarshalOrderData(v.Data)
	if err != nil {
		return nil, err
	}
	env := orderVersionJSON{
		ID:           v.ID,
		Hash:         v.Hash.Hex(),
		Maker:        v.Maker.Hex(),
		Make:         v.Make,
		Take:         v.Take,
		Type:         v.Type,
		Salt:         bigString(v.Salt),
		Start:        v.Start,
		End:          v.End,
		Data:         rawData,
		Signature:    v.Signature,
		Platform:     v.Platform,
		CreatedAt:    v.CreatedAt,
		OnChain:      v.OnChain,
		MakePriceUsd: v.MakePriceUsd,
		TakePriceUsd: v.TakePriceUsd,
		MakeUsd:      v.MakeUsd,
		TakeUsd:      v.TakeUsd,
	}
	if v.Taker != nil {
		taker := v.Taker.Hex()
		env.Taker = &taker
	}
	return json.Marshal(env)
}

// UnmarshalJSON implements json.Unmarshaler.
func (v *OrderVersion) UnmarshalJSON(data []byte) error {
	var env orderVersionJSON
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("domain: decode order version: %w", err)
	}
	orderData, err := UnmarshalOrderData(env.Data)
	if err != nil {
		return err
	}
	salt, err := parseOptBig(env.Salt)
	if err != nil {
		return fmt.Errorf("domain: decode order version salt: %w", err)
	}
	*v = OrderVersion{
		ID:           env.ID,
		Hash:         common.HexToHash(env.Hash),
		Maker:        common.HexToAddress(env.Maker),
		Make:         env.Make,
		Take:         env.Take,
		Type:         env.Type,
		Salt:         salt,
		Start:        env.Start,
		End:          env.End,
		Data:         orderData,
		Signature:    env.Signature,
		Platform:     env.Platform,
		CreatedAt:    env.CreatedAt,
		OnChain:      env.OnChain,
		MakePriceUsd: env.MakePriceUsd,
		TakePriceUsd: env.TakePriceUsd,
		MakeUsd:      env.MakeUsd,
		TakeUsd:      env.TakeUsd,
	}
	if env.Taker != nil {
		taker := common.HexToAddress(*env.Taker)
		v.Taker = &taker
	}
	return nil
}

// --------------------------------------------------------------------------
// ExchangeHistory envelope.
// --------------------------------------------------------------------------

type exchangeHistoryJSON struct {
	Kind string `json:"kind"`

	Hash        string    `json:"hash,omitempty"`
	CounterHash string    `json:"counterHash,omitempty"`
	Side        MatchSide `json:"side,omitempty"`
	Fill        string    `json:"fill,omitempty"`
	Maker       string    `json:"maker,omitempty"`
	Taker       string    `json:"taker,omitempty"`
	Make        *Asset    `json:"make,omitempty"`
	Take        *Asset    `json:"take,omitempty"`
	Date        time.Time `json:"date"`

	Order *OrderVersion `json:"order,omitempty"`
}

const (
	historyKindMatch        = "MATCH"
	historyKindCancel       = "CANCEL"
	historyKindOnChainOrder = "ON_CHAIN_ORDER"
)

// MarshalExchangeHistory encodes a history payload with its kind tag.
func MarshalExchangeHistory(h ExchangeHistory) ([]byte, error) {
	switch v := h.(type) {
	case OrderSideMatch:
		return json.Marshal(exchangeHistoryJSON{
			Kind:        historyKindMatch,
			Hash:        v.Hash.Hex(),
			CounterHash: v.CounterHash.Hex(),
			Side:        v.Side,
			Fill:        bigString(v.Fill),
			Maker:       v.Maker.Hex(),
			Taker:       v.Taker.Hex(),
			Make:        &v.Make,
			Take:        &v.Take,
			Date:        v.Date,
		})
	case OrderCancel:
		return json.Marshal(exchangeHistoryJSON{
			Kind:  historyKindCancel,
			Hash:  v.Hash.Hex(),
			Maker: v.Maker.Hex(),
			Make:  &v.Make,
			Take:  &v.Take,
			Date:  v.Date,
		})
	case OnChainOrder:
		return json.Marshal(exchangeHistoryJSON{
			Kind:  historyKindOnChainOrder,
			Order: &v.Order,
			Date:  v.Date,
		})
	default:
		return nil, fmt.Errorf("domain: encode exchange history: unknown payload %T", h)
	}
}

// UnmarshalExchangeHistory decodes a kind-tagged history payload.
func UnmarshalExchangeHistory(data []byte) (ExchangeHistory, error) {
	var env exchangeHistoryJSON
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("domain: decode exchange history: %w", err)
	}
	switch env.Kind {
	case historyKindMatch:
		fill, err := parseOptBig(env.Fill)
		if err != nil {
			return nil, fmt.Errorf("domain: decode match fill: %w", err)
		}
		m := OrderSideMatch{
			Hash:        common.HexToHash(env.Hash),
			CounterHash: common.HexToHash(env.CounterHash),
			Side:        env.Side,
			Fill:        fill,
			Maker:       common.HexToAddress(env.Maker),
			Taker:       common.HexToAddress(env.Taker),
			Date:        env.Date,
		}
		if env.Make != nil {
			m.Make = *env.Make
		}
		if env.Take != nil {
			m.Take = *env.Take
		}
		return m, nil
	case historyKindCancel:
		c := OrderCancel{
			Hash:  common.HexToHash(env.Hash),
			Maker: common.HexToAddress(env.Maker),
			Date:  env.Date,
		}
		if env.Make != nil {
			c.Make = *env.Make
		}
		if env.Take != nil {
			c.Take = *env.Take
		}
		return c, nil
	case historyKindOnChainOrder:
		if env.Order == nil {
			return nil, fmt.Errorf("domain: decode on-chain order: missing order")
		}
		return OnChainOrder{Order: *env.Order, Date: env.Date}, nil
	default:
		return nil, fmt.Errorf("domain: decode exchange history: unknown kind %q", env.Kind)
	}
}

// --------------------------------------------------------------------------
// LogEvent envelope.
// --------------------------------------------------------------------------

type logEventJSON struct {
	ID            string          `json:"id"`
	Hash          string          `json:"hash"`
	Status        LogStatus       `json:"status"`
	BlockNumber   int64           `json:"blockNumber"`
	LogIndex      int             `json:"logIndex"`
	MinorLogIndex int             `json:"minorLogIndex"`
	Data          json.RawMessage `json:"data"`
	CreatedAt     time.Time       `json:"createdAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}

// MarshalJSON implements json.Marshaler.
func (e LogEvent) MarshalJSON() ([]byte, error) {
	data, err := MarshalExchangeHistory(e.Data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(logEventJSON{
		ID:            e.ID,
		Hash:          e.Hash.Hex(),
		Status:        e.Status,
		BlockNumber:   e.BlockNumber,
		LogIndex:      e.LogIndex,
		MinorLogIndex: e.MinorLogIndex,
		Data:          data,
		CreatedAt:     e.CreatedAt,
		UpdatedAt:     e.UpdatedAt,
	})
}

// UnmarshalJSON implements json.Unmarshaler.
func (e *LogEvent) UnmarshalJSON(data []byte) error {
	var env logEventJSON
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("domain: decode log event: %w", err)
	}
	payload, err := UnmarshalExchangeHistory(env.Data)
	if err != nil {
		return err
	}
	*e = LogEvent{
		ID:            env.ID,
		Hash:          common.HexToHash(env.Hash),
		Status:        env.Status,
		BlockNumber:   env.BlockNumber,
		LogIndex:      env.LogIndex,
		MinorLogIndex: env.MinorLogIndex,
		Data:          payload,
		CreatedAt:     env.CreatedAt,
		UpdatedAt:     env.UpdatedAt,
	}
	return nil
}
