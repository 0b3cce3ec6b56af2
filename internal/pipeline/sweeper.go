package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// OrderSweeper walks every known order hash and re-runs its reduction.
type OrderSweeper interface {
	UpdateAll(ctx context.Context, from common.Hash) (int, error)
}

// Sweeper periodically re-reduces the whole order set. The real-time feed
// handles the common case; the sweep catches orders whose events arrived
// while the feed was down, whose balances drifted without an on-chain signal,
// and orphaned events whose versions showed up late.
type Sweeper struct {
	reducer  OrderSweeper
	interval time.Duration
	logger   *slog.Logger
}

// NewSweeper creates a Sweeper.
func NewSweeper(reducer OrderSweeper, interval time.Duration, logger *slog.Logger) *Sweeper {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Sweeper{
		reducer:  reducer,
		interval: interval,
		logger:   logger.With(slog.String("component", "sweeper")),
	}
}

// RunLoop sweeps once immediately and then on every tick until ctx is
// cancelled.
func (s *Sweeper) RunLoop(ctx context.Context) error {
	if err := s.sweep(ctx); err != nil {
		s.logger.Error("sweep failed", slog.String("error", err.Error()))
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.sweep(ctx); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				s.logger.Error("sweep failed", slog.String("error", err.Error()))
			}
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) error {
	start := time.Now()
	reduced, err := s.reducer.UpdateAll(ctx, common.Hash{})
	if err != nil {
		return fmt.Errorf("sweep from start: %w", err)
	}
	s.logger.Info("sweep complete",
		slog.Int("orders_reduced", reduced),
		slog.Duration("took", time.Since(start)),
	)
	return nil
}
