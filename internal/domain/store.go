package domain

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// OrderStore persists reduced order snapshots keyed by identity hash.
type OrderStore interface {
	// Save inserts the snapshot when DBVersion is zero, otherwise performs a
	// version-checked update. ErrConflict signals that the stored version
	// moved; the caller must re-read and re-reduce.
	Save(ctx context.Context, order Order) (Order, error)
	GetByHash(ctx context.Context, hash common.Hash) (Order, error)
	// FindOpenSeaHashesByMakerAndNonce returns hashes of foreign-exchange
	// orders of the maker whose embedded nonce lies in [fromIncl, toExcl).
	FindOpenSeaHashesByMakerAndNonce(ctx context.Context, maker common.Address, fromIncl, toExcl int64) ([]common.Hash, error)
	// FindNotCancelledByMakerAndToken returns hashes of live orders whose
	// make side references the given token contract (any token id when
	// tokenID is nil). Used for balance-change re-reduction fan-out.
	FindNotCancelledByMakerAndToken(ctx context.Context, maker common.Address, token common.Address, tokenID *big.Int) ([]common.Hash, error)
}

// OrderVersionStore persists immutable order intents, queryable by hash and
// cursorable by hash for sweeps.
type OrderVersionStore interface {
	// Insert is idempotent on the version id.
	Insert(ctx context.Context, version OrderVersion) error
	DeleteByID(ctx context.Context, id string) error
	// FindByHash returns all versions for a hash in ascending creation order.
	FindByHash(ctx context.Context, hash common.Hash) ([]OrderVersion, error)
	ExistsByID(ctx context.Context, id string) (bool, error)
	Update(ctx context.Context, version OrderVersion) error
	// HashesGreaterThan pages distinct hashes above the cursor in ascending
	// byte order.
	HashesGreaterThan(ctx context.Context, from common.Hash, limit int) ([]common.Hash, error)
}

// ExchangeHistoryStore persists decoded log events keyed by order hash.
type ExchangeHistoryStore interface {
	// Upsert is idempotent on the event id; replays update the status.
	Upsert(ctx context.Context, event LogEvent) error
	// FindByHash returns all events for a hash in block order.
	FindByHash(ctx context.Context, hash common.Hash) ([]LogEvent, error)
	HashesGreaterThan(ctx context.Context, from common.Hash, limit int) ([]common.Hash, error)
	// ListConfirmedBefore returns confirmed events older than the cutoff,
	// used by the cold-storage archiver.
	ListConfirmedBefore(ctx context.Context, before time.Time, limit int) ([]LogEvent, error)
}

// BalanceProvider answers how much of an asset an owner currently controls.
type BalanceProvider interface {
	// GetAssetStock returns ErrUnavailable (possibly wrapped) when the
	// underlying service cannot answer; callers degrade to a zero balance.
	GetAssetStock(ctx context.Context, owner common.Address, t AssetType) (*big.Int, error)
}

// RateProvider answers the USD rate of one unit of a payment asset.
type RateProvider interface {
	// UsdRate returns ErrUnavailable (possibly wrapped) when no rate is
	// known; callers skip the USD annotation.
	UsdRate(ctx context.Context, token common.Address, at time.Time) (decimal.Decimal, error)
}

// UsdValuer computes the USD valuation of both sides of an order, normalized
// for asset decimals.
type UsdValuer interface {
	// AssetsUsdValue returns ErrUnavailable (possibly wrapped) when no rate
	// is known for either side; callers keep the previous annotation.
	AssetsUsdValue(ctx context.Context, make, take Asset, at time.Time) (OrderUsdValue, error)
}

// PriceNormalizer converts a raw asset amount into its decimal-adjusted form.
type PriceNormalizer interface {
	Normalize(ctx context.Context, a Asset) (decimal.Decimal, error)
}

// LockManager provides per-key mutual exclusion across processes.
type LockManager interface {
	// Acquire returns an unlock function, or ErrLockHeld when another holder
	// owns the key.
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}

// RateLimiter throttles calls to shared external services across processes.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	Wait(ctx context.Context, key string) error
}

// SignalBus publishes notifications for downstream consumers.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

// RateCache caches USD rates between oracle round-trips.
type RateCache interface {
	GetRate(ctx context.Context, token common.Address) (decimal.Decimal, time.Time, error)
	SetRate(ctx context.Context, token common.Address, rate decimal.Decimal, ts time.Time) error
}

// NonceListener reacts to a maker's on-chain nonce increment.
type NonceListener interface {
	OnNewMakerNonce(ctx context.Context, maker common.Address, newNonce int64) error
}
