package postgres

import (
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/raremarket/orderwatch/internal/domain"
)

func TestOrderToRowDenormalizesQueryColumns(t *testing.T) {
	nonce := int64(7)
	token := common.HexToAddress("0xAbCd000000000000000000000000000000000001")
	o := domain.Order{
		Hash:  common.HexToHash("0xff"),
		Maker: common.HexToAddress("0xBEEF000000000000000000000000000000000002"),
		Make:  domain.Asset{Type: domain.Erc721AssetType{Token: token, TokenID: big.NewInt(12)}, Value: big.NewInt(1)},
		Take:  domain.Asset{Type: domain.EthAssetType{}, Value: big.NewInt(100)},
		Type:  domain.OrderTypeOpenSeaV1,
		Data: domain.OrderOpenSeaV1DataV1{
			Exchange: token,
			Nonce:    &nonce,
		},
		Fill:         big.NewInt(0),
		MakeStock:    big.NewInt(1),
		Salt:         big.NewInt(42),
		Platform:     domain.PlatformOpenSea,
		CreatedAt:    time.Now(),
		LastUpdateAt: time.Now(),
	}

	row, err := orderToRow(o)
	if err != nil {
		t.Fatalf("orderToRow: %v", err)
	}
	if row.makeToken != "0xabcd000000000000000000000000000000000001" {
		t.Fatalf("make_token = %q, want lowercase hex of the make token", row.makeToken)
	}
	if row.makeTokenID == nil || *row.makeTokenID != "12" {
		t.Fatalf("make_token_id = %v, want 12", row.makeTokenID)
	}
	if row.nonce == nil || *row.nonce != 7 {
		t.Fatalf("nonce = %v, want the embedded maker nonce", row.nonce)
	}
	if row.salt == nil || *row.salt != "42" {
		t.Fatalf("salt = %v, want 42", row.salt)
	}
}

func TestHexKeysAreLowercase(t *testing.T) {
	h := common.HexToHash("0xABCDEF")
	if got := hexHash(h); got != h.Hex() {
		// common.Hash.Hex is already lowercase; the helper must not change it.
		t.Fatalf("hexHash = %q, want %q", got, h.Hex())
	}
	a := common.HexToAddress("0xAbCd000000000000000000000000000000000001")
	if got := hexAddress(a); got != "0xabcd000000000000000000000000000000000001" {
		t.Fatalf("hexAddress = %q, want lowercase", got)
	}
}

func TestHistoriesRoundTrip(t *testing.T) {
	match := domain.OrderSideMatch{
		Hash: common.HexToHash("0x01"),
		Side: domain.MatchSideLeft,
		Fill: big.NewInt(3),
		Date: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
	}
	data, err := marshalHistories([]domain.ExchangeHistory{match})
	if err != nil {
		t.Fatalf("marshalHistories: %v", err)
	}
	back, err := unmarshalHistories(data)
	if err != nil {
		t.Fatalf("unmarshalHistories: %v", err)
	}
	if len(back) != 1 {
		t.Fatalf("round trip produced %d records, want 1", len(back))
	}
	got, ok := back[0].(domain.OrderSideMatch)
	if !ok {
		t.Fatalf("round trip produced %T, want OrderSideMatch", back[0])
	}
	if got.Fill.Cmp(match.Fill) != 0 || got.Hash != match.Hash {
		t.Fatal("round trip lost match fields")
	}

	empty, err := unmarshalHistories([]byte(`[]`))
	if err != nil || empty != nil {
		t.Fatalf("empty list = %v err = %v, want nil", empty, err)
	}
}
