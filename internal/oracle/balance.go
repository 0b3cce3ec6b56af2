// Package oracle implements the external lookups reduction depends on: live
// asset balances, ERC-20 metadata, USD rates and contract-wallet signature
// checks.
package oracle

import (
	"fmt"
	"log/slog"
	"math"
	"math/big"
	"net/http"
	"net/url"
	"time"

	"context"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/goccy/go-json"

	"github.com/raremarket/orderwatch/internal/domain"
)

// ChainCaller is the subset of the ethereum RPC client the oracle needs.
type ChainCaller interface {
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// balanceOf(address)
var balanceOfSelector = []byte{0x70, 0xa0, 0x82, 0x31}

// AssetBalanceProvider answers how much of an asset an owner controls right
// now: native balance and ERC-20 balanceOf on chain, NFT ownership through
// the indexer API, synthetic answers for lazy and collection descriptors.
type AssetBalanceProvider struct {
	chain      ChainCaller
	httpClient *http.Client
	// ownershipBaseURL is the nft-indexer endpoint serving current
	// ownership records.
	ownershipBaseURL string
	limiter          domain.RateLimiter
	logger           *slog.Logger
}

var _ domain.BalanceProvider = (*AssetBalanceProvider)(nil)

// NewAssetBalanceProvider creates an AssetBalanceProvider. The limiter is
// optional; when set, indexer calls wait for a slot under the shared limit.
func NewAssetBalanceProvider(chain ChainCaller, httpClient *http.Client, ownershipBaseURL string, logger *slog.Logger) *AssetBalanceProvider {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &AssetBalanceProvider{
		chain:            chain,
		httpClient:       httpClient,
		ownershipBaseURL: ownershipBaseURL,
		logger:           logger.With(slog.String("component", "balance_oracle")),
	}
}

// WithLimiter throttles ownership lookups under the given shared limiter.
func (p *AssetBalanceProvider) WithLimiter(limiter domain.RateLimiter) *AssetBalanceProvider {
	p.limiter = limiter
	return p
}

// GetAssetStock implements domain.BalanceProvider.
func (p *AssetBalanceProvider) GetAssetStock(ctx context.Context, owner common.Address, t domain.AssetType) (*big.Int, error) {
	switch v := t.(type) {
	case domain.EthAssetType:
		balance, err := p.chain.BalanceAt(ctx, owner, nil)
		if err != nil {
			return nil, fmt.Errorf("oracle: native balance of %s: %w (%w)", owner.Hex(), err, domain.ErrUnavailable)
		}
		return balance, nil
	case domain.Erc20AssetType:
		return p.erc20Balance(ctx, v.Token, owner)
	case domain.Erc721AssetType:
		return p.ownershipValue(ctx, v.Token, v.TokenID, owner)
	case domain.Erc1155AssetType:
		return p.ownershipValue(ctx, v.Token, v.TokenID, owner)
	case domain.CryptoPunksAssetType:
		return p.ownershipValue(ctx, v.Market, v.PunkID, owner)
	case domain.Erc721LazyAssetType:
		// Not minted yet: the creator can always deliver exactly one.
		return big.NewInt(1), nil
	case domain.Erc1155LazyAssetType:
		if v.Supply == nil {
			return new(big.Int), nil
		}
		return new(big.Int).Set(v.Supply), nil
	case domain.CollectionAssetType, domain.GenerativeArtAssetType:
		// Collection-wide descriptors are not balance-bounded.
		return big.NewInt(math.MaxInt64), nil
	default:
		return nil, &domain.UnsupportedAssetError{Class: t.Class(), Reason: "no balance source"}
	}
}

func (p *AssetBalanceProvider) erc20Balance(ctx context.Context, token, owner common.Address) (*big.Int, error) {
	callData := make([]byte, 0, 36)
	callData = append(callData, balanceOfSelector...)
	callData = append(callData, common.LeftPadBytes(owner.Bytes(), 32)...)

	out, err := p.chain.CallContract(ctx, ethereum.CallMsg{To: &token, Data: callData}, nil)
	if err != nil {
		return nil, fmt.Errorf("oracle: balanceOf %s for %s: %w (%w)", token.Hex(), owner.Hex(), err, domain.ErrUnavailable)
	}
	if len(out) < 32 {
		return nil, fmt.Errorf("oracle: balanceOf %s returned %d bytes: %w", token.Hex(), len(out), domain.ErrUnavailable)
	}
	return new(big.Int).SetBytes(out[:32]), nil
}

type ownershipResponse struct {
	Value string `json:"value"`
}

// ownershipValue asks the nft indexer how many units of token:tokenId the
// owner holds. A 404 is a zero balance, not an error.
func (p *AssetBalanceProvider) ownershipValue(ctx context.Context, token common.Address, tokenID *big.Int, owner common.Address) (*big.Int, error) {
	if tokenID == nil {
		return nil, fmt.Errorf("oracle: ownership of %s for %s: missing token id: %w",
			token.Hex(), owner.Hex(), domain.ErrUnavailable)
	}
	id := fmt.Sprintf("%s:%s:%s", token.Hex(), tokenID.String(), owner.Hex())
	endpoint, err := url.JoinPath(p.ownershipBaseURL, "v0.1/ownerships", id)
	if err != nil {
		return nil, fmt.Errorf("oracle: ownership url for %s: %w", id, err)
	}

	if p.limiter != nil {
		if err := p.limiter.Wait(ctx, "ownership-api"); err != nil {
			return nil, fmt.Errorf("oracle: ownership throttle: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("oracle: ownership request for %s: %w", id, err)
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("oracle: ownership lookup for %s: %w (%w)", id, err, domain.ErrUnavailable)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return new(big.Int), nil
	default:
		return nil, fmt.Errorf("oracle: ownership lookup for %s: status %d: %w", id, resp.StatusCode, domain.ErrUnavailable)
	}

	var body ownershipResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("oracle: decode ownership for %s: %w", id, err)
	}
	value, ok := new(big.Int).SetString(body.Value, 10)
	if !ok {
		return nil, fmt.Errorf("oracle: ownership value %q for %s is not a number", body.Value, id)
	}
	return value, nil
}
