package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// OrderPriceRefresher re-annotates the USD values of one order.
type OrderPriceRefresher interface {
	RefreshOrderPrice(ctx context.Context, hash common.Hash, at time.Time) error
}

// OrderHashSource pages distinct order hashes above a cursor in ascending
// order.
type OrderHashSource interface {
	HashesGreaterThan(ctx context.Context, from common.Hash, limit int) ([]common.Hash, error)
}

// PriceRefresher periodically walks every known order and refreshes its USD
// annotations. Exchange rates drift without any on-chain signal, and
// re-pricing is much cheaper than re-reducing, so this runs on its own loop
// instead of riding the sweep.
type PriceRefresher struct {
	prices   OrderPriceRefresher
	hashes   OrderHashSource
	interval time.Duration
	batch    int
	logger   *slog.Logger
}

// NewPriceRefresher creates a PriceRefresher.
func NewPriceRefresher(prices OrderPriceRefresher, hashes OrderHashSource, interval time.Duration, batch int, logger *slog.Logger) *PriceRefresher {
	if interval <= 0 {
		interval = time.Hour
	}
	if batch <= 0 {
		batch = 500
	}
	return &PriceRefresher{
		prices:   prices,
		hashes:   hashes,
		interval: interval,
		batch:    batch,
		logger:   logger.With(slog.String("component", "price_refresher")),
	}
}

// RunLoop refreshes once immediately and then on every tick until ctx is
// cancelled.
func (p *PriceRefresher) RunLoop(ctx context.Context) error {
	if err := p.refreshAll(ctx); err != nil {
		p.logger.Error("price refresh failed", slog.String("error", err.Error()))
	}

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := p.refreshAll(ctx); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				p.logger.Error("price refresh failed", slog.String("error", err.Error()))
			}
		}
	}
}

func (p *PriceRefresher) refreshAll(ctx context.Context) error {
	start := time.Now()
	at := start.UTC()
	var (
		cursor    common.Hash
		refreshed int
	)
	for {
		hashes, err := p.hashes.HashesGreaterThan(ctx, cursor, p.batch)
		if err != nil {
			return fmt.Errorf("page order hashes after %s: %w", cursor.Hex(), err)
		}
		if len(hashes) == 0 {
			break
		}
		for _, hash := range hashes {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if err := p.prices.RefreshOrderPrice(ctx, hash, at); err != nil {
				p.logger.Warn("order price refresh failed",
					slog.String("hash", hash.Hex()),
					slog.String("error", err.Error()),
				)
				continue
			}
			refreshed++
		}
		cursor = hashes[len(hashes)-1]
	}
	p.logger.Info("price refresh complete",
		slog.Int("orders_refreshed", refreshed),
		slog.Duration("took", time.Since(start)),
	)
	return nil
}
