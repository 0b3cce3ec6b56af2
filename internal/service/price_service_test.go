package service

import (
	"context"
	"log/slog"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/raremarket/orderwatch/internal/domain"
)

type fakeValuer struct {
	value domain.OrderUsdValue
	err   error
	calls int
}

func (v *fakeValuer) AssetsUsdValue(context.Context, domain.Asset, domain.Asset, time.Time) (domain.OrderUsdValue, error) {
	v.calls++
	return v.value, v.err
}

func decimalPtr(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func sellOrder(hash common.Hash, maker common.Address) domain.Order {
	return domain.Order{
		Hash:      hash,
		Maker:     maker,
		Make:      domain.Asset{Type: domain.Erc721AssetType{Token: addr(2), TokenID: big.NewInt(5)}, Value: big.NewInt(1)},
		Take:      domain.Asset{Type: domain.EthAssetType{}, Value: big.NewInt(1000)},
		Type:      domain.OrderTypeRaribleV2,
		Salt:      big.NewInt(1),
		Fill:      new(big.Int),
		MakeStock: big.NewInt(1),
		Data:      domain.OrderRaribleV2DataV1{},
		Platform:  domain.PlatformRarible,
	}
}

func TestRefreshOrderPriceUpdatesOrderAndVersions(t *testing.T) {
	ctx := context.Background()
	hash := common.HexToHash("0xa1")
	orders := newFakeOrderStore()
	if _, err := orders.Save(ctx, sellOrder(hash, addr(1))); err != nil {
		t.Fatalf("seed order: %v", err)
	}
	versions := &fakeVersionStore{}
	_ = versions.Insert(ctx, domain.OrderVersion{ID: "v-1", Hash: hash})

	valuer := &fakeValuer{value: domain.OrderUsdValue{
		TakeUsd:      decimalPtr("250"),
		TakePriceUsd: decimalPtr("250"),
	}}
	svc := NewPriceRefreshService(orders, versions, valuer, slog.New(slog.DiscardHandler))

	if err := svc.RefreshOrderPrice(ctx, hash, time.Now()); err != nil {
		t.Fatalf("RefreshOrderPrice: %v", err)
	}

	got, err := orders.GetByHash(ctx, hash)
	if err != nil {
		t.Fatalf("GetByHash: %v", err)
	}
	if got.TakeUsd == nil || !got.TakeUsd.Equal(decimal.RequireFromString("250")) {
		t.Fatalf("order TakeUsd = %v, want 250", got.TakeUsd)
	}
	if versions.versions[0].TakePriceUsd == nil {
		t.Fatal("version USD annotation not written")
	}
}

func TestRefreshOrderPriceIgnoresMissingOrder(t *testing.T) {
	svc := NewPriceRefreshService(newFakeOrderStore(), &fakeVersionStore{}, &fakeValuer{}, slog.New(slog.DiscardHandler))
	if err := svc.RefreshOrderPrice(context.Background(), common.HexToHash("0xdead"), time.Now()); err != nil {
		t.Fatalf("RefreshOrderPrice: %v", err)
	}
}

func TestRefreshOrderPriceSkipsWhenRateUnavailable(t *testing.T) {
	ctx := context.Background()
	hash := common.HexToHash("0xa2")
	orders := newFakeOrderStore()
	if _, err := orders.Save(ctx, sellOrder(hash, addr(1))); err != nil {
		t.Fatalf("seed order: %v", err)
	}
	valuer := &fakeValuer{err: domain.ErrUnavailable}
	svc := NewPriceRefreshService(orders, &fakeVersionStore{}, valuer, slog.New(slog.DiscardHandler))

	if err := svc.RefreshOrderPrice(ctx, hash, time.Now()); err != nil {
		t.Fatalf("an unavailable rate must not fail the refresh: %v", err)
	}
	got, _ := orders.GetByHash(ctx, hash)
	if got.TakeUsd != nil {
		t.Fatal("stale order must keep its previous annotation")
	}
}

func TestOnBalanceChangedReducesAffectedOrders(t *testing.T) {
	ctx := context.Background()
	maker := addr(7)
	orders := newFakeOrderStore()
	affected := sellOrder(common.HexToHash("0xb1"), maker)
	if _, err := orders.Save(ctx, affected); err != nil {
		t.Fatalf("seed order: %v", err)
	}
	other := sellOrder(common.HexToHash("0xb2"), addr(8))
	if _, err := orders.Save(ctx, other); err != nil {
		t.Fatalf("seed order: %v", err)
	}

	reducer := &fakeReducer{}
	svc := NewBalanceChangeService(orders, reducer, slog.New(slog.DiscardHandler))

	if err := svc.OnBalanceChanged(ctx, maker, addr(2), nil); err != nil {
		t.Fatalf("OnBalanceChanged: %v", err)
	}
	if len(reducer.reduced) != 1 || reducer.reduced[0] != affected.Hash {
		t.Fatalf("reduced %v, want exactly the maker's order", reducer.reduced)
	}
}
