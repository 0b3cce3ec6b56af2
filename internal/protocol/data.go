package protocol

import (
	"fmt"

	"github.com/ethereum/go-ethereum/accounts/abi"

	"github.com/raremarket/orderwatch/internal/domain"
)

// Data-version tags, bytes4(keccak256(tag)). The tag commits the layout of
// the encoded data blob inside the V2 typed order hash.
var (
	DataVersionV1 = bytes4Of("V1")
	DataVersionV2 = bytes4Of("V2")
)

type abiDataV1 struct {
	Payouts    []abiPart
	OriginFees []abiPart
}

type abiDataV2 struct {
	Payouts    []abiPart
	OriginFees []abiPart
	IsMakeFill bool
}

var (
	dataV1Type = mustType("tuple", []abi.ArgumentMarshaling{
		{Name: "payouts", Type: "tuple[]", Components: partComponents},
		{Name: "originFees", Type: "tuple[]", Components: partComponents},
	})
	dataV2Type = mustType("tuple", []abi.ArgumentMarshaling{
		{Name: "payouts", Type: "tuple[]", Components: partComponents},
		{Name: "originFees", Type: "tuple[]", Components: partComponents},
		{Name: "isMakeFill", Type: "bool"},
	})

	dataV1Args = abi.Arguments{{Type: dataV1Type}}
	dataV2Args = abi.Arguments{{Type: dataV2Type}}
)

// DataVersion returns the bytes4 layout tag of an order-data variant, or an
// UnsupportedOrderDataError for variants that have no typed encoding.
func DataVersion(d domain.OrderData) (Bytes4, error) {
	switch d.(type) {
	case domain.OrderRaribleV2DataV1:
		return DataVersionV1, nil
	case domain.OrderRaribleV2DataV2:
		return DataVersionV2, nil
	default:
		return Bytes4{}, &domain.UnsupportedOrderDataError{DataType: string(d.Kind())}
	}
}

// EncodeOrderData produces the abi blob the contracts pass alongside the
// data-version tag.
func EncodeOrderData(d domain.OrderData) ([]byte, error) {
	switch v := d.(type) {
	case domain.OrderRaribleV2DataV1:
		data, err := dataV1Args.Pack(abiDataV1{
			Payouts:    toABIParts(v.Payouts),
			OriginFees: toABIParts(v.OriginFees),
		})
		if err != nil {
			return nil, fmt.Errorf("protocol: encode data v1: %w", err)
		}
		return data, nil
	case domain.OrderRaribleV2DataV2:
		data, err := dataV2Args.Pack(abiDataV2{
			Payouts:    toABIParts(v.Payouts),
			OriginFees: toABIParts(v.OriginFees),
			IsMakeFill: v.IsMakeFill,
		})
		if err != nil {
			return nil, fmt.Errorf("protocol: encode data v2: %w", err)
		}
		return data, nil
	default:
		return nil, &domain.UnsupportedOrderDataError{DataType: string(d.Kind())}
	}
}

// DecodeOrderData parses a version-tagged abi blob back into an order-data
// variant. Used when materializing orders from on-chain upsert calls.
func DecodeOrderData(version Bytes4, data []byte) (domain.OrderData, error) {
	switch version {
	case DataVersionV1:
		values, err := dataV1Args.Unpack(data)
		if err != nil {
			return nil, fmt.Errorf("protocol: decode data v1: %w", err)
		}
		v := *abi.ConvertType(values[0], new(abiDataV1)).(*abiDataV1)
		return domain.OrderRaribleV2DataV1{
			Payouts:    fromABIParts(v.Payouts),
			OriginFees: fromABIParts(v.OriginFees),
		}, nil
	case DataVersionV2:
		values, err := dataV2Args.Unpack(data)
		if err != nil {
			return nil, fmt.Errorf("protocol: decode data v2: %w", err)
		}
		v := *abi.ConvertType(values[0], new(abiDataV2)).(*abiDataV2)
		return domain.OrderRaribleV2DataV2{
			Payouts:    fromABIParts(v.Payouts),
			OriginFees: fromABIParts(v.OriginFees),
			IsMakeFill: v.IsMakeFill,
		}, nil
	default:
		return nil, &domain.UnsupportedOrderDataError{DataType: fmt.Sprintf("0x%x", version[:])}
	}
}

func fromABIParts(parts []abiPart) []domain.Part {
	if len(parts) == 0 {
		return nil
	}
	out := make([]domain.Part, len(parts))
	for i, p := range parts {
		out[i] = domain.Part{Account: p.Account, Value: p.Value}
	}
	return out
}
