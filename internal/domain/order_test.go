package domain

import (
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

func decimalPtr(t *testing.T, s string) *decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	if err != nil {
		t.Fatalf("parse decimal %q: %v", s, err)
	}
	return &d
}

func addr(b byte) common.Address {
	var a common.Address
	a[19] = b
	return a
}

func testOrder() Order {
	return Order{
		Maker:        addr(1),
		Make:         Asset{Type: Erc20AssetType{Token: addr(2)}, Value: big.NewInt(10)},
		Take:         Asset{Type: Erc20AssetType{Token: addr(3)}, Value: big.NewInt(5)},
		Type:         OrderTypeRaribleV2,
		Fill:         new(big.Int),
		MakeStock:    big.NewInt(10),
		Salt:         big.NewInt(10),
		Data:         OrderRaribleV2DataV1{},
		CreatedAt:    time.Now(),
		LastUpdateAt: time.Now(),
		Platform:     PlatformRarible,
	}
}

func TestCalculateMakeStockBid(t *testing.T) {
	o := testOrder()
	o.Make = Asset{Type: Erc20AssetType{Token: addr(4)}, Value: big.NewInt(100)}
	o.Take = Asset{Type: Erc1155AssetType{Token: addr(5), TokenID: big.NewInt(10)}, Value: big.NewInt(2)}

	got := o.WithMakeBalance(big.NewInt(75), new(big.Int)).MakeStock
	if got.Cmp(big.NewInt(50)) != 0 {
		t.Fatalf("bid make stock = %s, want 50", got)
	}
}

func TestCalculateMakeStockSale(t *testing.T) {
	o := testOrder()
	o.Make = Asset{Type: Erc1155AssetType{Token: addr(4), TokenID: big.NewInt(10)}, Value: big.NewInt(10)}
	o.Take = Asset{Type: Erc20AssetType{Token: addr(5)}, Value: big.NewInt(100)}

	got := o.WithMakeBalance(big.NewInt(7), new(big.Int)).MakeStock
	if got.Cmp(big.NewInt(7)) != 0 {
		t.Fatalf("sale make stock = %s, want 7", got)
	}
}

func TestMakeStockZeroWhenCancelled(t *testing.T) {
	o := testOrder()
	o.Cancelled = true
	got := o.WithMakeBalance(big.NewInt(10), new(big.Int)).MakeStock
	if got.Sign() != 0 {
		t.Fatalf("cancelled make stock = %s, want 0", got)
	}
}

func TestMakeStockLowBalance(t *testing.T) {
	got := testOrder().WithMakeBalance(big.NewInt(5), new(big.Int)).MakeStock
	if got.Cmp(big.NewInt(4)) != 0 {
		t.Fatalf("make stock = %s, want 4", got)
	}
}

func TestMakeStockFullBalance(t *testing.T) {
	for _, balance := range []int64{20, 10} {
		got := testOrder().WithMakeBalance(big.NewInt(balance), new(big.Int)).MakeStock
		if got.Cmp(big.NewInt(10)) != 0 {
			t.Fatalf("balance %d: make stock = %s, want 10", balance, got)
		}
	}
}

func TestMakeStockPartialFill(t *testing.T) {
	o := testOrder()
	o.Fill = big.NewInt(3)
	got := o.WithMakeBalance(big.NewInt(10), new(big.Int)).MakeStock
	if got.Cmp(big.NewInt(4)) != 0 {
		t.Fatalf("partially filled make stock = %s, want 4", got)
	}
}

func TestMakeStockFullyFilled(t *testing.T) {
	o := testOrder()
	o.Fill = big.NewInt(5)
	got := o.WithMakeBalance(big.NewInt(10), new(big.Int)).MakeStock
	if got.Sign() != 0 {
		t.Fatalf("filled make stock = %s, want 0", got)
	}
}

func TestRemainingMakeTruncates(t *testing.T) {
	// make=100, take=3, fill=1: remaining take=2, remaining make=2*100/3=66.
	got := remainingMakeValue(big.NewInt(100), big.NewInt(3), big.NewInt(1), OrderRaribleV2DataV1{})
	if got.Cmp(big.NewInt(66)) != 0 {
		t.Fatalf("remaining make = %s, want 66 (truncating division)", got)
	}
}

func TestMakeStockOriginFees(t *testing.T) {
	o := testOrder()
	o.Make = Asset{Type: Erc20AssetType{Token: addr(4)}, Value: big.NewInt(100)}
	o.Take = Asset{Type: Erc1155AssetType{Token: addr(5), TokenID: big.NewInt(10)}, Value: big.NewInt(4)}
	o.Data = OrderRaribleV2DataV1{
		OriginFees: []Part{
			{Account: addr(6), Value: big.NewInt(1500)},
			{Account: addr(7), Value: big.NewInt(1500)},
		},
	}

	// 30% combined origin fee: usable balance 75*10000/13000 = 57 -> stock 50.
	got := o.WithMakeBalance(big.NewInt(75), new(big.Int)).MakeStock
	if got.Cmp(big.NewInt(50)) != 0 {
		t.Fatalf("make stock with origin fees = %s, want 50", got)
	}

	// Plus a 30% protocol fee on top: 75*10000/16000 = 46 -> stock 25.
	got = o.WithMakeBalance(big.NewInt(75), big.NewInt(3000)).MakeStock
	if got.Cmp(big.NewInt(25)) != 0 {
		t.Fatalf("make stock with origin+protocol fees = %s, want 25", got)
	}
}

func TestMakeStockLegacyFee(t *testing.T) {
	o := testOrder()
	o.Type = OrderTypeRaribleV1
	o.Make = Asset{Type: Erc20AssetType{Token: addr(4)}, Value: big.NewInt(100)}
	o.Take = Asset{Type: Erc1155AssetType{Token: addr(5), TokenID: big.NewInt(10)}, Value: big.NewInt(4)}
	o.Data = OrderDataLegacy{Fee: 3000}

	got := o.WithMakeBalance(big.NewInt(75), new(big.Int)).MakeStock
	if got.Cmp(big.NewInt(50)) != 0 {
		t.Fatalf("legacy make stock = %s, want 50", got)
	}
}

func TestMakeStockMakeFillBasis(t *testing.T) {
	o := testOrder()
	o.Make = Asset{Type: Erc1155AssetType{Token: addr(4), TokenID: big.NewInt(1)}, Value: big.NewInt(10)}
	o.Take = Asset{Type: Erc20AssetType{Token: addr(5)}, Value: big.NewInt(100)}
	o.Data = OrderRaribleV2DataV2{IsMakeFill: true}
	o.Fill = big.NewInt(4) // measured in make units

	got := o.WithMakeBalance(big.NewInt(10), new(big.Int)).MakeStock
	if got.Cmp(big.NewInt(6)) != 0 {
		t.Fatalf("make-fill basis stock = %s, want 6", got)
	}
}

func TestMakeStockMonotonicBound(t *testing.T) {
	// Stock can never exceed the unfilled make amount, whatever the balance.
	o := testOrder()
	o.Fill = big.NewInt(2)
	got := o.WithMakeBalance(big.NewInt(1_000_000), new(big.Int)).MakeStock
	if got.Cmp(big.NewInt(6)) != 0 {
		t.Fatalf("make stock = %s, want 6 (remaining make bound)", got)
	}
}

func TestGetFeeSide(t *testing.T) {
	eth := EthAssetType{}
	erc20 := Erc20AssetType{Token: addr(1)}
	erc721 := Erc721AssetType{Token: addr(2), TokenID: big.NewInt(1)}
	erc1155 := Erc1155AssetType{Token: addr(3), TokenID: big.NewInt(1)}

	cases := []struct {
		name string
		make AssetType
		take AssetType
		want FeeSide
	}{
		{"eth make wins", eth, erc20, FeeSideMake},
		{"eth take", erc721, eth, FeeSideTake},
		{"erc20 make", erc20, erc721, FeeSideMake},
		{"erc20 take", erc721, erc20, FeeSideTake},
		{"erc1155 make", erc1155, erc721, FeeSideMake},
		{"erc1155 take", erc721, erc1155, FeeSideTake},
		{"nft only", erc721, Erc721AssetType{Token: addr(4), TokenID: big.NewInt(2)}, FeeSideNone},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := GetFeeSide(tc.make, tc.take); got != tc.want {
				t.Fatalf("GetFeeSide = %s, want %s", got, tc.want)
			}
		})
	}
}

func TestWithUsdValueKeepsStaleFields(t *testing.T) {
	o := testOrder()
	prev := decimalPtr(t, "12.5")
	o.MakePriceUsd = prev

	o = o.WithUsdValue(OrderUsdValue{})
	if o.MakePriceUsd != prev {
		t.Fatal("empty valuation must keep the previous USD price")
	}
}
