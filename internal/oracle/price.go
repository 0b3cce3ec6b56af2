package oracle

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/raremarket/orderwatch/internal/domain"
)

// decimals()
var decimalsSelector = []byte{0x31, 0x3c, 0xe5, 0x67}

const nativeDecimals = 18

// DecimalsNormalizer scales raw asset amounts by the token's decimals. The
// decimals of a contract never change, so answers are cached for the process
// lifetime.
type DecimalsNormalizer struct {
	chain ChainCaller

	mu    sync.RWMutex
	known map[common.Address]int32
}

var _ domain.PriceNormalizer = (*DecimalsNormalizer)(nil)

// NewDecimalsNormalizer creates a DecimalsNormalizer.
func NewDecimalsNormalizer(chain ChainCaller) *DecimalsNormalizer {
	return &DecimalsNormalizer{
		chain: chain,
		known: map[common.Address]int32{},
	}
}

// Normalize implements domain.PriceNormalizer. NFT amounts are unit counts
// and pass through unscaled.
func (n *DecimalsNormalizer) Normalize(ctx context.Context, a domain.Asset) (decimal.Decimal, error) {
	if a.Value == nil {
		return decimal.Zero, nil
	}
	raw := decimal.NewFromBigInt(a.Value, 0)
	switch v := a.Type.(type) {
	case domain.EthAssetType:
		return raw.Shift(-nativeDecimals), nil
	case domain.Erc20AssetType:
		dec, err := n.tokenDecimals(ctx, v.Token)
		if err != nil {
			return decimal.Zero, err
		}
		return raw.Shift(-dec), nil
	default:
		return raw, nil
	}
}

func (n *DecimalsNormalizer) tokenDecimals(ctx context.Context, token common.Address) (int32, error) {
	n.mu.RLock()
	dec, found := n.known[token]
	n.mu.RUnlock()
	if found {
		return dec, nil
	}

	out, err := n.chain.CallContract(ctx, ethereum.CallMsg{To: &token, Data: decimalsSelector}, nil)
	if err != nil {
		return 0, fmt.Errorf("oracle: decimals of %s: %w (%w)", token.Hex(), err, domain.ErrUnavailable)
	}
	if len(out) < 32 {
		return 0, fmt.Errorf("oracle: decimals of %s returned %d bytes: %w", token.Hex(), len(out), domain.ErrUnavailable)
	}
	dec = int32(new(big.Int).SetBytes(out[:32]).Int64())

	n.mu.Lock()
	n.known[token] = dec
	n.mu.Unlock()
	return dec, nil
}

// PriceUpdateService turns token rates into per-order USD valuations.
type PriceUpdateService struct {
	rates      domain.RateProvider
	normalizer domain.PriceNormalizer
}

var _ domain.UsdValuer = (*PriceUpdateService)(nil)

// NewPriceUpdateService creates a PriceUpdateService.
func NewPriceUpdateService(rates domain.RateProvider, normalizer domain.PriceNormalizer) *PriceUpdateService {
	return &PriceUpdateService{rates: rates, normalizer: normalizer}
}

// AssetsUsdValue implements domain.UsdValuer. The payment side of the pair is
// valued at the current rate; the per-unit price divides that value by the
// NFT side's amount. A pairing with no payment side has no USD value.
func (s *PriceUpdateService) AssetsUsdValue(ctx context.Context, make, take domain.Asset, at time.Time) (domain.OrderUsdValue, error) {
	switch {
	case !make.Type.NFT():
		makeUsd, makePrice, err := s.sideValue(ctx, make, take.Value, at)
		if err != nil {
			return domain.OrderUsdValue{}, err
		}
		return domain.OrderUsdValue{MakeUsd: makeUsd, MakePriceUsd: makePrice}, nil
	case !take.Type.NFT():
		takeUsd, takePrice, err := s.sideValue(ctx, take, make.Value, at)
		if err != nil {
			return domain.OrderUsdValue{}, err
		}
		return domain.OrderUsdValue{TakeUsd: takeUsd, TakePriceUsd: takePrice}, nil
	default:
		return domain.OrderUsdValue{}, fmt.Errorf("oracle: no payment side to value: %w", domain.ErrUnavailable)
	}
}

func (s *PriceUpdateService) sideValue(ctx context.Context, payment domain.Asset, nftAmount *big.Int, at time.Time) (*decimal.Decimal, *decimal.Decimal, error) {
	rate, err := s.rates.UsdRate(ctx, domain.TokenOf(payment.Type), at)
	if err != nil {
		return nil, nil, err
	}
	normalized, err := s.normalizer.Normalize(ctx, payment)
	if err != nil {
		return nil, nil, err
	}

	total := normalized.Mul(rate)
	price := total
	if nftAmount != nil && nftAmount.Sign() > 0 {
		price = total.Div(decimal.NewFromBigInt(nftAmount, 0))
	}
	return &total, &price, nil
}
