package app

import (
	"context"
	"log/slog"
	"math/big"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/raremarket/orderwatch/internal/crypto"
	"github.com/raremarket/orderwatch/internal/domain"
	"github.com/raremarket/orderwatch/internal/feed"
	"github.com/raremarket/orderwatch/internal/oracle"
	"github.com/raremarket/orderwatch/internal/pipeline"
	"github.com/raremarket/orderwatch/internal/reduce"
	"github.com/raremarket/orderwatch/internal/service"
)

// IndexMode runs the real-time scanner feed: log events stream in over the
// websocket, get persisted and trigger targeted reductions.
func (a *App) IndexMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting index mode")

	reducer, valuer := a.buildReducer(deps)
	scanner := a.buildScannerFeed(deps, reducer, valuer)
	defer scanner.Close()

	orch := pipeline.NewOrchestrator(scanner, nil, nil, nil, "", a.logger)
	return a.runPipeline(ctx, deps, orch)
}

// SweepMode runs the periodic full re-reduction sweep plus the USD price
// refresh loop, for catching up after downtime or a reorg without a live
// feed.
func (a *App) SweepMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting sweep mode")

	reducer, valuer := a.buildReducer(deps)
	sweeper := pipeline.NewSweeper(reducer, a.cfg.Pipeline.SweepInterval.Duration, a.logger)
	prices := a.buildPriceRefresher(deps, valuer)

	orch := pipeline.NewOrchestrator(nil, sweeper, prices, nil, "", a.logger)
	return a.runPipeline(ctx, deps, orch)
}

// ArchiveMode runs only the cold-storage archiver on its cron schedule.
func (a *App) ArchiveMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting archive mode")

	archiver := pipeline.NewArchiver(deps.Archiver, a.cfg.Pipeline.ArchiveRetentionDays, a.logger)

	orch := pipeline.NewOrchestrator(nil, nil, nil, archiver, a.cfg.Pipeline.ArchiveCron, a.logger)
	return a.runPipeline(ctx, deps, orch)
}

// FullMode runs the complete deployment: live feed, periodic sweep, USD
// price refresh and cold-storage archival together.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	reducer, valuer := a.buildReducer(deps)
	scanner := a.buildScannerFeed(deps, reducer, valuer)
	defer scanner.Close()

	sweeper := pipeline.NewSweeper(reducer, a.cfg.Pipeline.SweepInterval.Duration, a.logger)
	prices := a.buildPriceRefresher(deps, valuer)
	archiver := pipeline.NewArchiver(deps.Archiver, a.cfg.Pipeline.ArchiveRetentionDays, a.logger)

	orch := pipeline.NewOrchestrator(scanner, sweeper, prices, archiver, a.cfg.Pipeline.ArchiveCron, a.logger)
	return a.runPipeline(ctx, deps, orch)
}

// runPipeline blocks on the orchestrator and alerts operators when it dies
// for any reason other than shutdown.
func (a *App) runPipeline(ctx context.Context, deps *Dependencies, orch *pipeline.Orchestrator) error {
	err := orch.Run(ctx)
	if err != nil && ctx.Err() == nil {
		notifyCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if nerr := deps.Notifier.Notify(notifyCtx, "pipeline_error", "pipeline stopped", err.Error()); nerr != nil {
			a.logger.Error("failed to send pipeline failure alert", slog.String("error", nerr.Error()))
		}
	}
	return err
}

// buildReducer assembles the oracles and the reduction engine from the wired
// dependencies. The valuer is returned alongside so the intake path can
// annotate submissions without a second oracle stack.
func (a *App) buildReducer(deps *Dependencies) (*reduce.Reducer, domain.UsdValuer) {
	httpClient := &http.Client{Timeout: 10 * time.Second}

	balances := oracle.NewAssetBalanceProvider(deps.Eth, httpClient, a.cfg.Oracle.OwnershipAPIURL, a.logger)
	rates := oracle.NewRateClient(httpClient, a.cfg.Oracle.RateAPIURL, deps.RateCache, a.cfg.Oracle.RateCacheTTL.Duration, a.logger)
	if a.cfg.Oracle.RateLimit && deps.RateLimiter != nil {
		balances = balances.WithLimiter(deps.RateLimiter)
		rates = rates.WithLimiter(deps.RateLimiter)
	}
	normalizer := oracle.NewDecimalsNormalizer(deps.Eth)
	valuer := oracle.NewPriceUpdateService(rates, normalizer)

	reducer := reduce.NewReducer(
		deps.OrderStore,
		deps.VersionStore,
		deps.HistoryStore,
		balances,
		valuer,
		normalizer,
		deps.LockManager,
		deps.SignalBus,
		reduce.Config{
			ProtocolFeeBps: a.cfg.Reduce.ProtocolFeeBps,
			OracleTimeout:  a.cfg.Reduce.OracleTimeout.Duration,
			SaveRetries:    a.cfg.Reduce.SaveRetries,
			LockTTL:        a.cfg.Reduce.LockTTL.Duration,
			SweepBatch:     a.cfg.Reduce.SweepBatch,
		},
		a.logger,
	)
	return reducer, valuer
}

// buildPriceRefresher assembles the periodic USD re-annotation job. It pages
// hashes out of the version store so orders keep current prices even when no
// event ever touches them again.
func (a *App) buildPriceRefresher(deps *Dependencies, valuer domain.UsdValuer) *pipeline.PriceRefresher {
	refresh := service.NewPriceRefreshService(deps.OrderStore, deps.VersionStore, valuer, a.logger)
	return pipeline.NewPriceRefresher(
		refresh,
		deps.VersionStore,
		a.cfg.Pipeline.PriceRefreshInterval.Duration,
		a.cfg.Reduce.SweepBatch,
		a.logger,
	)
}

// buildScannerFeed assembles the websocket feed together with the listeners
// that fan scanner signals out into reductions.
func (a *App) buildScannerFeed(deps *Dependencies, reducer *reduce.Reducer, valuer domain.UsdValuer) *feed.ScannerFeed {
	eip712 := crypto.EIP712Domain{
		Name:              a.cfg.Exchange.Name,
		Version:           a.cfg.Exchange.Version,
		ChainID:           big.NewInt(a.cfg.Chain.ChainID),
		VerifyingContract: common.HexToAddress(a.cfg.Exchange.VerifyingContract),
	}
	orderSvc := service.NewOrderService(
		deps.OrderStore,
		deps.VersionStore,
		reducer,
		valuer,
		eip712,
		oracle.NewErc1271Client(deps.Eth),
		a.logger,
	)
	nonceSvc := service.NewOpenSeaNonceService(
		deps.OrderStore,
		reducer,
		a.cfg.Exchange.OpenSeaNonceOffset,
		a.logger,
	)
	balanceSvc := service.NewBalanceChangeService(deps.OrderStore, reducer, a.logger)

	return feed.NewScannerFeed(
		a.cfg.Scanner.WsURL,
		deps.HistoryStore,
		reducer,
		orderSvc,
		nonceSvc,
		balanceSvc,
		a.logger,
	)
}
