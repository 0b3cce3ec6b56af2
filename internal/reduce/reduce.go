// Package reduce implements the event-fold engine: it replays the stored
// log-event and order-version history of one order hash into an authoritative
// snapshot, recomputes tradable stock against the live balance, annotates USD
// prices and persists the result under optimistic concurrency.
package reduce

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/goccy/go-json"
	"golang.org/x/sync/errgroup"

	"github.com/raremarket/orderwatch/internal/domain"
)

// ChannelOrderReduced is the signal-bus channel reduction results go out on.
const ChannelOrderReduced = "orderwatch.order.reduced"

// Config tunes one reducer instance.
type Config struct {
	// ProtocolFeeBps is the exchange commission charged on the fee side.
	ProtocolFeeBps int64
	// OracleTimeout bounds each balance and USD rate lookup.
	OracleTimeout time.Duration
	// SaveRetries bounds the optimistic-save loop.
	SaveRetries int
	// LockTTL is the lifetime of the per-hash reduction lock.
	LockTTL time.Duration
	// SweepBatch is the page size of hash cursoring during sweeps.
	SweepBatch int
}

func (c Config) withDefaults() Config {
	if c.OracleTimeout <= 0 {
		c.OracleTimeout = 5 * time.Second
	}
	if c.SaveRetries <= 0 {
		c.SaveRetries = 5
	}
	if c.LockTTL <= 0 {
		c.LockTTL = 30 * time.Second
	}
	if c.SweepBatch <= 0 {
		c.SweepBatch = 500
	}
	return c
}

// Reducer folds stored history into order snapshots.
type Reducer struct {
	orders     domain.OrderStore
	versions   domain.OrderVersionStore
	history    domain.ExchangeHistoryStore
	balances   domain.BalanceProvider
	valuer     domain.UsdValuer
	normalizer domain.PriceNormalizer
	locks      domain.LockManager
	bus        domain.SignalBus
	cfg        Config
	logger     *slog.Logger
}

// NewReducer creates a Reducer with all required dependencies. The valuer,
// normalizer, lock manager and signal bus may be nil; the reducer degrades to
// skipping the corresponding step.
func NewReducer(
	orders domain.OrderStore,
	versions domain.OrderVersionStore,
	history domain.ExchangeHistoryStore,
	balances domain.BalanceProvider,
	valuer domain.UsdValuer,
	normalizer domain.PriceNormalizer,
	locks domain.LockManager,
	bus domain.SignalBus,
	cfg Config,
	logger *slog.Logger,
) *Reducer {
	return &Reducer{
		orders:     orders,
		versions:   versions,
		history:    history,
		balances:   balances,
		valuer:     valuer,
		normalizer: normalizer,
		locks:      locks,
		bus:        bus,
		cfg:        cfg.withDefaults(),
		logger:     logger.With(slog.String("component", "reducer")),
	}
}

// Update re-reduces a single order hash: replays its whole stored history,
// recomputes stock and USD values, and persists the snapshot. Returns
// ErrNotReducible when the hash has log events but no order version.
func (r *Reducer) Update(ctx context.Context, hash common.Hash) (domain.Order, error) {
	unlock, err := r.acquireLock(ctx, hash)
	if err != nil {
		return domain.Order{}, err
	}
	defer unlock()

	order, err := r.reduceLocked(ctx, hash)
	if err != nil {
		return domain.Order{}, err
	}

	r.logger.Info("order reduced",
		slog.String("hash", order.Hash.Hex()),
		slog.String("make_stock", order.MakeStock.String()),
		slog.String("fill", order.Fill.String()),
		slog.Bool("cancelled", order.Cancelled),
	)
	r.publishReduced(ctx, order)
	return order, nil
}

// reduceLocked runs the reduce cycle, restarting from a fresh read when the
// optimistic save loses a race: the winning writer may have folded inputs this
// cycle never saw, so only a full re-fold converges on them.
func (r *Reducer) reduceLocked(ctx context.Context, hash common.Hash) (domain.Order, error) {
	for attempt := 0; attempt < r.cfg.SaveRetries; attempt++ {
		order, err := r.reduceOnce(ctx, hash)
		if err == nil {
			return order, nil
		}
		if !errors.Is(err, domain.ErrConflict) {
			return domain.Order{}, err
		}
		r.logger.Debug("optimistic save conflict, re-reducing",
			slog.String("hash", hash.Hex()),
			slog.Int("attempt", attempt+1),
		)
	}
	return domain.Order{}, fmt.Errorf("reduce: save order %s: retries exhausted: %w",
		hash.Hex(), domain.ErrConflict)
}

func (r *Reducer) reduceOnce(ctx context.Context, hash common.Hash) (domain.Order, error) {
	events, err := r.history.FindByHash(ctx, hash)
	if err != nil {
		return domain.Order{}, fmt.Errorf("reduce: load log events for %s: %w", hash.Hex(), err)
	}
	if err := r.materializeOnChainVersions(ctx, events); err != nil {
		return domain.Order{}, err
	}

	versions, err := r.versions.FindByHash(ctx, hash)
	if err != nil {
		return domain.Order{}, fmt.Errorf("reduce: load versions for %s: %w", hash.Hex(), err)
	}
	// On-chain versions are materialized for query purposes only; their
	// OnChainOrder events drive the fold, applying them twice would
	// double-count.
	offChain := versions[:0:0]
	for _, v := range versions {
		if !v.OnChain {
			offChain = append(offChain, v)
		}
	}

	stub, ok := r.fold(ctx, mergeUpdates(offChain, events))
	if !ok {
		r.logger.Info("order not reducible, only orphan log events",
			slog.String("hash", hash.Hex()),
		)
		return domain.Order{}, fmt.Errorf("reduce: %s: %w", hash.Hex(), domain.ErrNotReducible)
	}

	stub = r.enrich(ctx, stub)
	return r.save(ctx, stub)
}

// materializeOnChainVersions keeps the version store in sync with confirmed
// on-chain order creations: a confirmed event inserts its embedded version
// idempotently, any other status retracts it (reorg handling).
func (r *Reducer) materializeOnChainVersions(ctx context.Context, events []domain.LogEvent) error {
	for _, e := range events {
		onChain, ok := e.Data.(domain.OnChainOrder)
		if !ok {
			continue
		}
		version := onChain.Order
		version.OnChain = true
		if e.Status == domain.LogStatusConfirmed {
			exists, err := r.versions.ExistsByID(ctx, version.ID)
			if err != nil {
				return fmt.Errorf("reduce: check on-chain version %s: %w", version.ID, err)
			}
			if !exists {
				if err := r.versions.Insert(ctx, version); err != nil {
					return fmt.Errorf("reduce: materialize on-chain version %s: %w", version.ID, err)
				}
			}
		} else {
			if err := r.versions.DeleteByID(ctx, version.ID); err != nil && !errors.Is(err, domain.ErrNotFound) {
				return fmt.Errorf("reduce: retract on-chain version %s: %w", version.ID, err)
			}
		}
	}
	return nil
}

// enrich recomputes make stock against the live balance and annotates USD
// values, fetching both concurrently. Either lookup failing degrades (zero
// balance assumption, stale USD values) instead of failing the reduction.
func (r *Reducer) enrich(ctx context.Context, stub domain.Order) domain.Order {
	var (
		balance  = new(big.Int)
		usdValue domain.OrderUsdValue
		usdOK    bool
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		lookupCtx, cancel := context.WithTimeout(gctx, r.cfg.OracleTimeout)
		defer cancel()
		b, err := r.balances.GetAssetStock(lookupCtx, stub.Maker, stub.Make.Type)
		if err != nil {
			r.logger.Warn("balance lookup failed, assuming zero",
				slog.String("hash", stub.Hash.Hex()),
				slog.String("error", err.Error()),
			)
			return nil
		}
		balance = b
		return nil
	})
	g.Go(func() error {
		if r.valuer == nil {
			return nil
		}
		lookupCtx, cancel := context.WithTimeout(gctx, r.cfg.OracleTimeout)
		defer cancel()
		v, err := r.valuer.AssetsUsdValue(lookupCtx, stub.Make, stub.Take, time.Now().UTC())
		if err != nil {
			r.logger.Warn("usd valuation unavailable, keeping previous values",
				slog.String("hash", stub.Hash.Hex()),
				slog.String("error", err.Error()),
			)
			return nil
		}
		usdValue, usdOK = v, true
		return nil
	})
	_ = g.Wait()

	stub = stub.WithMakeBalance(balance, big.NewInt(r.cfg.ProtocolFeeBps))
	if usdOK {
		stub = stub.WithUsdValue(usdValue)
	}
	return stub
}

// save makes a single optimistic-concurrency attempt; ErrConflict surfaces
// to the caller, which restarts the whole reduce cycle.
func (r *Reducer) save(ctx context.Context, stub domain.Order) (domain.Order, error) {
	existing, err := r.orders.GetByHash(ctx, stub.Hash)
	switch {
	case err == nil:
		stub.DBVersion = existing.DBVersion
		stub = carryStaleUsd(stub, existing)
	case errors.Is(err, domain.ErrNotFound):
		stub.DBVersion = 0
	default:
		return domain.Order{}, fmt.Errorf("reduce: read order %s: %w", stub.Hash.Hex(), err)
	}

	saved, err := r.orders.Save(ctx, stub)
	if err != nil {
		return domain.Order{}, fmt.Errorf("reduce: save order %s: %w", stub.Hash.Hex(), err)
	}
	return saved, nil
}

// carryStaleUsd keeps the previously persisted USD annotation wherever the
// current reduction produced none: stale-but-present beats null.
func carryStaleUsd(stub, existing domain.Order) domain.Order {
	if stub.MakePriceUsd == nil {
		stub.MakePriceUsd = existing.MakePriceUsd
	}
	if stub.TakePriceUsd == nil {
		stub.TakePriceUsd = existing.TakePriceUsd
	}
	if stub.MakeUsd == nil {
		stub.MakeUsd = existing.MakeUsd
	}
	if stub.TakeUsd == nil {
		stub.TakeUsd = existing.TakeUsd
	}
	return stub
}

func (r *Reducer) acquireLock(ctx context.Context, hash common.Hash) (func(), error) {
	if r.locks == nil {
		return func() {}, nil
	}
	key := "reduce:" + hash.Hex()
	for {
		unlock, err := r.locks.Acquire(ctx, key, r.cfg.LockTTL)
		if err == nil {
			return unlock, nil
		}
		if !errors.Is(err, domain.ErrLockHeld) {
			return nil, fmt.Errorf("reduce: lock %s: %w", key, err)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
}

func (r *Reducer) publishReduced(ctx context.Context, order domain.Order) {
	if r.bus == nil {
		return
	}
	payload, err := json.Marshal(map[string]any{
		"hash":         order.Hash.Hex(),
		"makeStock":    order.MakeStock.String(),
		"fill":         order.Fill.String(),
		"cancelled":    order.Cancelled,
		"lastUpdateAt": order.LastUpdateAt,
	})
	if err != nil {
		return
	}
	if err := r.bus.Publish(ctx, ChannelOrderReduced, payload); err != nil {
		r.logger.Warn("publish reduced signal failed",
			slog.String("hash", order.Hash.Hex()),
			slog.String("error", err.Error()),
		)
	}
}

// UpdateAll sweeps every hash greater than the cursor through Update, paging
// both the version and the history store. Safe to run concurrently with live
// triggers: re-reducing a current order is a no-op write.
func (r *Reducer) UpdateAll(ctx context.Context, from common.Hash) (int, error) {
	reduced := 0
	cursor := from
	for {
		hashes, err := r.nextHashPage(ctx, cursor)
		if err != nil {
			return reduced, err
		}
		if len(hashes) == 0 {
			return reduced, nil
		}
		for _, hash := range hashes {
			if err := ctx.Err(); err != nil {
				return reduced, err
			}
			if _, err := r.Update(ctx, hash); err != nil {
				if errors.Is(err, domain.ErrNotReducible) {
					continue
				}
				r.logger.Error("sweep reduction failed",
					slog.String("hash", hash.Hex()),
					slog.String("error", err.Error()),
				)
				continue
			}
			reduced++
		}
		cursor = hashes[len(hashes)-1]
	}
}

func (r *Reducer) nextHashPage(ctx context.Context, cursor common.Hash) ([]common.Hash, error) {
	fromVersions, err := r.versions.HashesGreaterThan(ctx, cursor, r.cfg.SweepBatch)
	if err != nil {
		return nil, fmt.Errorf("reduce: sweep version hashes: %w", err)
	}
	fromHistory, err := r.history.HashesGreaterThan(ctx, cursor, r.cfg.SweepBatch)
	if err != nil {
		return nil, fmt.Errorf("reduce: sweep history hashes: %w", err)
	}

	seen := make(map[common.Hash]struct{}, len(fromVersions)+len(fromHistory))
	merged := make([]common.Hash, 0, len(fromVersions)+len(fromHistory))
	for _, h := range append(fromVersions, fromHistory...) {
		if _, dup := seen[h]; dup {
			continue
		}
		seen[h] = struct{}{}
		merged = append(merged, h)
	}
	sort.Slice(merged, func(i, j int) bool {
		return bytesCompare(merged[i], merged[j]) < 0
	})
	// Both pages are capped, so only hashes up to the smaller page bound are
	// guaranteed complete; the rest is picked up by the next iteration.
	if len(merged) > r.cfg.SweepBatch {
		merged = merged[:r.cfg.SweepBatch]
	}
	return merged, nil
}

func bytesCompare(a, b common.Hash) int {
	for i := range a {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}
