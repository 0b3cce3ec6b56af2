package oracle

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/ethereum/go-ethereum/common"
	"github.com/goccy/go-json"
	"github.com/shopspring/decimal"

	"github.com/raremarket/orderwatch/internal/domain"
)

// RateClient resolves USD rates of payment tokens against an external rate
// API, with a shared cache in front of the round-trips.
type RateClient struct {
	httpClient *http.Client
	baseURL    string
	cache      domain.RateCache
	// cacheTTL bounds how stale a cached rate may be before a fresh
	// round-trip is forced.
	cacheTTL time.Duration
	maxTries int
	limiter  domain.RateLimiter
	logger   *slog.Logger
}

var _ domain.RateProvider = (*RateClient)(nil)

// NewRateClient creates a RateClient. The cache is optional.
func NewRateClient(httpClient *http.Client, baseURL string, cache domain.RateCache, cacheTTL time.Duration, logger *slog.Logger) *RateClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	if cacheTTL <= 0 {
		cacheTTL = 5 * time.Minute
	}
	return &RateClient{
		httpClient: httpClient,
		baseURL:    baseURL,
		cache:      cache,
		cacheTTL:   cacheTTL,
		maxTries:   3,
		logger:     logger.With(slog.String("component", "rate_oracle")),
	}
}

// WithLimiter throttles rate lookups under the given shared limiter.
func (c *RateClient) WithLimiter(limiter domain.RateLimiter) *RateClient {
	c.limiter = limiter
	return c
}

type rateResponse struct {
	Usd decimal.Decimal `json:"usd"`
}

// UsdRate implements domain.RateProvider. The zero address stands for the
// native coin.
func (c *RateClient) UsdRate(ctx context.Context, token common.Address, at time.Time) (decimal.Decimal, error) {
	if c.cache != nil {
		rate, ts, err := c.cache.GetRate(ctx, token)
		if err == nil && at.Sub(ts) <= c.cacheTTL {
			return rate, nil
		}
	}

	rate, err := c.fetchRate(ctx, token)
	if err != nil {
		return decimal.Zero, err
	}

	if c.cache != nil {
		if err := c.cache.SetRate(ctx, token, rate, at); err != nil {
			c.logger.Warn("rate cache write failed",
				slog.String("token", token.Hex()),
				slog.String("error", err.Error()),
			)
		}
	}
	return rate, nil
}

// fetchRate retries transient failures with exponential backoff; a bounded
// number of tries keeps reduction latency predictable.
func (c *RateClient) fetchRate(ctx context.Context, token common.Address) (decimal.Decimal, error) {
	endpoint, err := url.JoinPath(c.baseURL, "v0.1/rates", token.Hex())
	if err != nil {
		return decimal.Zero, fmt.Errorf("oracle: rate url for %s: %w", token.Hex(), err)
	}

	backoffCfg := backoff.NewExponentialBackOff()
	backoffCfg.InitialInterval = 100 * time.Millisecond

	var lastErr error
	for try := 0; try < c.maxTries; try++ {
		if try > 0 {
			sleep := backoffCfg.NextBackOff()
			if sleep == backoff.Stop {
				break
			}
			select {
			case <-ctx.Done():
				return decimal.Zero, ctx.Err()
			case <-time.After(sleep):
			}
		}

		rate, retryable, err := c.fetchOnce(ctx, endpoint)
		if err == nil {
			return rate, nil
		}
		lastErr = err
		if !retryable {
			break
		}
	}
	return decimal.Zero, fmt.Errorf("oracle: rate for %s: %w (%w)", token.Hex(), lastErr, domain.ErrUnavailable)
}

func (c *RateClient) fetchOnce(ctx context.Context, endpoint string) (decimal.Decimal, bool, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx, "rate-api"); err != nil {
			return decimal.Zero, false, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return decimal.Zero, false, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return decimal.Zero, true, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusNotFound:
		return decimal.Zero, false, fmt.Errorf("no rate known")
	case resp.StatusCode >= 500:
		return decimal.Zero, true, fmt.Errorf("status %d", resp.StatusCode)
	default:
		return decimal.Zero, false, fmt.Errorf("status %d", resp.StatusCode)
	}

	var body rateResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return decimal.Zero, false, fmt.Errorf("decode rate: %w", err)
	}
	return body.Usd, false, nil
}
