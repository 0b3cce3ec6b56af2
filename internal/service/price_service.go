package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/raremarket/orderwatch/internal/domain"
)

// PriceRefreshService re-annotates USD values on orders and their versions
// without running a reduction. One USD drift does not change fill, stock or
// cancellation, so the full fold would be wasted work.
type PriceRefreshService struct {
	orders   domain.OrderStore
	versions domain.OrderVersionStore
	valuer   domain.UsdValuer
	logger   *slog.Logger
}

// NewPriceRefreshService creates a PriceRefreshService.
func NewPriceRefreshService(
	orders domain.OrderStore,
	versions domain.OrderVersionStore,
	valuer domain.UsdValuer,
	logger *slog.Logger,
) *PriceRefreshService {
	return &PriceRefreshService{
		orders:   orders,
		versions: versions,
		valuer:   valuer,
		logger:   logger.With(slog.String("component", "price_refresh")),
	}
}

// RefreshOrderPrice updates the USD annotation of one order and all of its
// versions as of the given instant. Version failures are logged and skipped;
// the order itself is only rewritten when a fresh valuation is available.
func (s *PriceRefreshService) RefreshOrderPrice(ctx context.Context, hash common.Hash, at time.Time) error {
	s.refreshVersions(ctx, hash, at)

	order, err := s.orders.GetByHash(ctx, hash)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("service: load order %s for price refresh: %w", hash.Hex(), err)
	}
	value, err := s.valuer.AssetsUsdValue(ctx, order.Make, order.Take, at)
	if err != nil {
		s.logger.Warn("order price refresh skipped",
			slog.String("hash", hash.Hex()),
			slog.String("error", err.Error()),
		)
		return nil
	}
	if _, err := s.orders.Save(ctx, order.WithUsdValue(value)); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			// A concurrent reduction rewrote the order with fresher state.
			return nil
		}
		return fmt.Errorf("service: save refreshed order %s: %w", hash.Hex(), err)
	}
	return nil
}

func (s *PriceRefreshService) refreshVersions(ctx context.Context, hash common.Hash, at time.Time) {
	versions, err := s.versions.FindByHash(ctx, hash)
	if err != nil {
		s.logger.Warn("version price refresh skipped",
			slog.String("hash", hash.Hex()),
			slog.String("error", err.Error()),
		)
		return
	}
	for _, version := range versions {
		value, err := s.valuer.AssetsUsdValue(ctx, version.Make, version.Take, at)
		if err != nil {
			continue
		}
		version.MakePriceUsd = value.MakePriceUsd
		version.TakePriceUsd = value.TakePriceUsd
		version.MakeUsd = value.MakeUsd
		version.TakeUsd = value.TakeUsd
		if err := s.versions.Update(ctx, version); err != nil {
			s.logger.Warn("version price update failed",
				slog.String("version_id", version.ID),
				slog.String("error", err.Error()),
			)
		}
	}
}
