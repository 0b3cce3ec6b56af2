package redis

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/raremarket/orderwatch/internal/domain"
)

// RateCache implements domain.RateCache using Redis hashes. Each token's USD
// rate is stored at key "rate:{token}" with fields "usd" and "ts" (Unix
// nanosecond timestamp).
type RateCache struct {
	rdb *redis.Client
}

// NewRateCache creates a RateCache backed by the given Client.
func NewRateCache(c *Client) *RateCache {
	return &RateCache{rdb: c.Underlying()}
}

func rateKey(token common.Address) string {
	return "rate:" + strings.ToLower(token.Hex())
}

// SetRate stores the latest USD rate and observation time for a token.
func (rc *RateCache) SetRate(ctx context.Context, token common.Address, rate decimal.Decimal, ts time.Time) error {
	fields := map[string]interface{}{
		"usd": rate.String(),
		"ts":  strconv.FormatInt(ts.UnixNano(), 10),
	}
	if err := rc.rdb.HSet(ctx, rateKey(token), fields).Err(); err != nil {
		return fmt.Errorf("redis: set rate %s: %w", token, err)
	}
	return nil
}

// GetRate retrieves the cached USD rate and its observation time. It returns
// domain.ErrNotFound when the token has no cached rate.
func (rc *RateCache) GetRate(ctx context.Context, token common.Address) (decimal.Decimal, time.Time, error) {
	vals, err := rc.rdb.HGetAll(ctx, rateKey(token)).Result()
	if err != nil {
		return decimal.Zero, time.Time{}, fmt.Errorf("redis: get rate %s: %w", token, err)
	}
	if len(vals) == 0 {
		return decimal.Zero, time.Time{}, domain.ErrNotFound
	}

	usdStr, ok := vals["usd"]
	if !ok {
		return decimal.Zero, time.Time{}, domain.ErrNotFound
	}
	usd, err := decimal.NewFromString(usdStr)
	if err != nil {
		return decimal.Zero, time.Time{}, fmt.Errorf("redis: parse rate %s: %w", token, err)
	}

	tsStr, ok := vals["ts"]
	if !ok {
		return decimal.Zero, time.Time{}, domain.ErrNotFound
	}
	tsNano, err := strconv.ParseInt(tsStr, 10, 64)
	if err != nil {
		return decimal.Zero, time.Time{}, fmt.Errorf("redis: parse rate ts %s: %w", token, err)
	}

	return usd, time.Unix(0, tsNano), nil
}

// Compile-time interface check.
var _ domain.RateCache = (*RateCache)(nil)
