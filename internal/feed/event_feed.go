// Package feed ingests the scanner's real-time exchange events and drives
// re-reduction of the affected orders.
package feed

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/raremarket/orderwatch/internal/domain"
	"github.com/raremarket/orderwatch/internal/platform/indexer"
)

// OrderReducer re-runs the reduction for one order hash.
type OrderReducer interface {
	Update(ctx context.Context, hash common.Hash) (domain.Order, error)
}

// BalanceObserver reacts to an owner's holdings of a token changing.
type BalanceObserver interface {
	OnBalanceChanged(ctx context.Context, owner common.Address, token common.Address, tokenID *big.Int) error
}

// OrderIntake accepts signed off-chain order updates.
type OrderIntake interface {
	SubmitOrder(ctx context.Context, version domain.OrderVersion) (domain.Order, error)
}

// ScannerFeed connects to the scanner WebSocket stream, persists every
// exchange log record and triggers the consumers that depend on it: the
// reducer for order events, the nonce listener for bulk invalidation and the
// balance observer for stock refreshes. It reconnects on disconnect.
type ScannerFeed struct {
	wsURL     string
	history   domain.ExchangeHistoryStore
	reducer   OrderReducer
	intake    OrderIntake
	nonces    domain.NonceListener
	balances  BalanceObserver
	logger    *slog.Logger
	closeOnce sync.Once
	done      chan struct{}
}

// NewScannerFeed creates a feed. The intake, nonce listener and balance
// observer are optional; nil disables the corresponding channel.
func NewScannerFeed(wsURL string, history domain.ExchangeHistoryStore, reducer OrderReducer, intake OrderIntake, nonces domain.NonceListener, balances BalanceObserver, logger *slog.Logger) *ScannerFeed {
	return &ScannerFeed{
		wsURL:    wsURL,
		history:  history,
		reducer:  reducer,
		intake:   intake,
		nonces:   nonces,
		balances: balances,
		logger:   logger.With(slog.String("component", "scanner_feed")),
		done:     make(chan struct{}),
	}
}

// Run connects, subscribes to the configured channels, and runs until ctx is
// cancelled. Reconnects with backoff on disconnect.
func (f *ScannerFeed) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.done:
			return nil
		default:
		}
		err := f.runConnection(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		f.logger.Warn("scanner ws disconnected, reconnecting", slog.String("error", err.Error()))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}
}

func (f *ScannerFeed) runConnection(ctx context.Context) error {
	client := indexer.NewWSClient(f.wsURL)
	defer client.Close()

	client.OnOrderEvent(func(event domain.LogEvent) {
		f.handleOrderEvent(context.Background(), event)
	})
	if f.intake != nil {
		client.OnOrderVersion(func(version domain.OrderVersion) {
			f.handleOrderVersion(context.Background(), version)
		})
	}
	if f.nonces != nil {
		client.OnNonceChange(func(maker common.Address, nonce int64) {
			if err := f.nonces.OnNewMakerNonce(context.Background(), maker, nonce); err != nil {
				f.logger.Error("nonce fan-out failed",
					slog.String("maker", maker.Hex()),
					slog.Int64("nonce", nonce),
					slog.String("error", err.Error()),
				)
			}
		})
	}
	if f.balances != nil {
		client.OnBalanceChange(func(owner, token common.Address) {
			if err := f.balances.OnBalanceChanged(context.Background(), owner, token, nil); err != nil {
				f.logger.Error("balance fan-out failed",
					slog.String("owner", owner.Hex()),
					slog.String("token", token.Hex()),
					slog.String("error", err.Error()),
				)
			}
		})
	}

	connCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	err := client.Connect(connCtx)
	cancel()
	if err != nil {
		return err
	}

	channels := []string{indexer.ChannelOrderEvents}
	if f.intake != nil {
		channels = append(channels, indexer.ChannelOrderUpdates)
	}
	if f.nonces != nil {
		channels = append(channels, indexer.ChannelNonces)
	}
	if f.balances != nil {
		channels = append(channels, indexer.ChannelBalances)
	}
	if err := client.Subscribe(ctx, channels); err != nil {
		return err
	}
	f.logger.Info("scanner ws subscribed", slog.Int("channels", len(channels)))

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-f.done:
		return nil
	}
}

// handleOrderEvent persists the log record first, so a crash between the two
// steps loses at most a reduction that the sweep job will redo.
func (f *ScannerFeed) handleOrderEvent(ctx context.Context, event domain.LogEvent) {
	if err := f.history.Upsert(ctx, event); err != nil {
		f.logger.Error("store log event failed",
			slog.String("id", event.ID),
			slog.String("hash", event.Hash.Hex()),
			slog.String("error", err.Error()),
		)
		return
	}

	if _, err := f.reducer.Update(ctx, event.Hash); err != nil {
		if errors.Is(err, domain.ErrNotReducible) {
			f.logger.Debug("event for unknown order",
				slog.String("hash", event.Hash.Hex()),
			)
			return
		}
		f.logger.Error("reduce after event failed",
			slog.String("hash", event.Hash.Hex()),
			slog.String("error", err.Error()),
		)
	}
}

// handleOrderVersion routes a signed off-chain order update through intake,
// which validates the signature before anything is persisted.
func (f *ScannerFeed) handleOrderVersion(ctx context.Context, version domain.OrderVersion) {
	if _, err := f.intake.SubmitOrder(ctx, version); err != nil {
		f.logger.Warn("order update rejected",
			slog.String("id", version.ID),
			slog.String("maker", version.Maker.Hex()),
			slog.String("error", err.Error()),
		)
	}
}

// Close stops the feed.
func (f *ScannerFeed) Close() {
	f.closeOnce.Do(func() { close(f.done) })
}
