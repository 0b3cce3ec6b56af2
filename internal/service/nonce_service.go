package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"

	"github.com/raremarket/orderwatch/internal/domain"
)

// OpenSeaNonceService reacts to a maker's on-chain nonce increment on the
// foreign exchange, which mass-cancels every order carrying the previous
// nonce. Invalidation is a fan-out trigger: each affected hash goes through
// the normal reduce path so all state transitions stay centralized.
type OpenSeaNonceService struct {
	orders  domain.OrderStore
	reducer OrderReducer
	// nonceOffset aligns the on-chain counter with the nonce recorded in
	// stored order data.
	nonceOffset int64
	logger      *slog.Logger
}

var _ domain.NonceListener = (*OpenSeaNonceService)(nil)

// NewOpenSeaNonceService creates an OpenSeaNonceService.
func NewOpenSeaNonceService(
	orders domain.OrderStore,
	reducer OrderReducer,
	nonceOffset int64,
	logger *slog.Logger,
) *OpenSeaNonceService {
	return &OpenSeaNonceService{
		orders:      orders,
		reducer:     reducer,
		nonceOffset: nonceOffset,
		logger:      logger.With(slog.String("component", "opensea_nonce")),
	}
}

// OnNewMakerNonce re-reduces every foreign-exchange order of the maker whose
// embedded nonce was just invalidated, i.e. exactly the value below the new
// effective nonce.
func (s *OpenSeaNonceService) OnNewMakerNonce(ctx context.Context, maker common.Address, newNonce int64) error {
	fixed := newNonce + s.nonceOffset
	if fixed <= 0 {
		return fmt.Errorf("service: maker %s nonce %d is not positive", maker.Hex(), fixed)
	}
	s.logger.Info("new maker nonce detected",
		slog.String("maker", maker.Hex()),
		slog.Int64("nonce", fixed),
	)

	hashes, err := s.orders.FindOpenSeaHashesByMakerAndNonce(ctx, maker, fixed-1, fixed)
	if err != nil {
		return fmt.Errorf("service: find orders for maker %s nonce %d: %w", maker.Hex(), fixed, err)
	}
	for _, hash := range hashes {
		if _, err := s.reducer.Update(ctx, hash); err != nil {
			if errors.Is(err, domain.ErrNotReducible) {
				continue
			}
			return fmt.Errorf("service: reduce nonce-invalidated order %s: %w", hash.Hex(), err)
		}
	}
	s.logger.Info("nonce invalidation fan-out complete",
		slog.String("maker", maker.Hex()),
		slog.Int("orders", len(hashes)),
	)
	return nil
}
