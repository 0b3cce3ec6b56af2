package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/raremarket/orderwatch/internal/domain"
)

// BalanceChangeService fans a maker balance change out to every live order
// whose make side the balance backs, so their stock reflects what the maker
// can still deliver.
type BalanceChangeService struct {
	orders  domain.OrderStore
	reducer OrderReducer
	logger  *slog.Logger
}

// NewBalanceChangeService creates a BalanceChangeService.
func NewBalanceChangeService(orders domain.OrderStore, reducer OrderReducer, logger *slog.Logger) *BalanceChangeService {
	return &BalanceChangeService{
		orders:  orders,
		reducer: reducer,
		logger:  logger.With(slog.String("component", "balance_change")),
	}
}

// OnBalanceChanged re-reduces every not-cancelled order of the owner backed
// by the given token contract. A nil tokenID covers fungible balances; NFT
// transfers pass the specific id.
func (s *BalanceChangeService) OnBalanceChanged(ctx context.Context, owner common.Address, token common.Address, tokenID *big.Int) error {
	hashes, err := s.orders.FindNotCancelledByMakerAndToken(ctx, owner, token, tokenID)
	if err != nil {
		return fmt.Errorf("service: find orders for balance change of %s: %w", owner.Hex(), err)
	}
	for _, hash := range hashes {
		if _, err := s.reducer.Update(ctx, hash); err != nil {
			if errors.Is(err, domain.ErrNotReducible) {
				continue
			}
			s.logger.Error("balance-change reduction failed",
				slog.String("hash", hash.Hex()),
				slog.String("error", err.Error()),
			)
		}
	}
	return nil
}
