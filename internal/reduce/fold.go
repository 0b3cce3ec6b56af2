package reduce

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/raremarket/orderwatch/internal/domain"
)

// EmptyOrderHash is the synthetic identity of the fold baseline. A fold that
// ends on this hash never saw an order version and must not be persisted.
var EmptyOrderHash = common.Hash{}

// emptyOrder returns the fold baseline. Every reduction starts here, and a
// confirmed on-chain order resets back to it.
func emptyOrder() domain.Order {
	return domain.Order{
		Hash:      EmptyOrderHash,
		Make:      domain.Asset{Type: domain.EthAssetType{}, Value: new(big.Int)},
		Take:      domain.Asset{Type: domain.EthAssetType{}, Value: new(big.Int)},
		Type:      domain.OrderTypeRaribleV2,
		Fill:      new(big.Int),
		MakeStock: new(big.Int),
		Salt:      new(big.Int),
		Data:      domain.OrderRaribleV2DataV1{},
		Platform:  domain.PlatformRarible,
	}
}

// orderUpdate is one fold input: either an off-chain order version or a log
// event. The two streams are merged before folding.
type orderUpdate struct {
	version *domain.OrderVersion
	event   *domain.LogEvent
}

func (u orderUpdate) at() time.Time {
	if u.version != nil {
		return u.version.CreatedAt
	}
	return u.event.CreatedAt
}

// mergeUpdates interleaves versions (ascending creation time) and log events
// (ascending block order) on observation time. There is no global total order
// between wall-clock instants and block positions, so on equal instants the
// version goes first: it represents intent, the event settles a prior intent.
func mergeUpdates(versions []domain.OrderVersion, events []domain.LogEvent) []orderUpdate {
	updates := make([]orderUpdate, 0, len(versions)+len(events))
	i, j := 0, 0
	for i < len(versions) && j < len(events) {
		if !versions[i].CreatedAt.After(events[j].CreatedAt) {
			updates = append(updates, orderUpdate{version: &versions[i]})
			i++
		} else {
			updates = append(updates, orderUpdate{event: &events[j]})
			j++
		}
	}
	for ; i < len(versions); i++ {
		updates = append(updates, orderUpdate{version: &versions[i]})
	}
	for ; j < len(events); j++ {
		updates = append(updates, orderUpdate{event: &events[j]})
	}
	return updates
}

// fold replays the merged update stream into a snapshot. The second return
// is false when no order version was ever applied: orphan log events alone
// never create a tradable order.
func (r *Reducer) fold(ctx context.Context, updates []orderUpdate) (domain.Order, bool) {
	acc := emptyOrder()
	for _, u := range updates {
		switch {
		case u.version != nil:
			acc = r.applyVersion(ctx, acc, *u.version)
		case u.event != nil:
			acc = r.applyEvent(ctx, acc, *u.event)
		}
	}
	return acc, acc.Hash != EmptyOrderHash
}

// applyVersion replaces the trading fields with the version's values while
// keeping the accumulated fill, cancellation, stock and pending entries.
func (r *Reducer) applyVersion(ctx context.Context, acc domain.Order, v domain.OrderVersion) domain.Order {
	next := domain.Order{
		Hash:      v.Hash,
		Maker:     v.Maker,
		Taker:     v.Taker,
		Make:      v.Make,
		Take:      v.Take,
		Type:      v.Type,
		Salt:      v.Salt,
		Start:     v.Start,
		End:       v.End,
		Data:      v.Data,
		Signature: v.Signature,
		Platform:  v.Platform,

		MakePriceUsd: v.MakePriceUsd,
		TakePriceUsd: v.TakePriceUsd,
		MakeUsd:      v.MakeUsd,
		TakeUsd:      v.TakeUsd,

		Fill:      acc.Fill,
		Cancelled: acc.Cancelled,
		MakeStock: acc.MakeStock,
		Pending:   acc.Pending,

		CreatedAt:    acc.CreatedAt,
		LastUpdateAt: laterOf(acc.LastUpdateAt, v.CreatedAt),
		PriceHistory: r.priceHistory(ctx, acc, v),
	}
	if next.CreatedAt.IsZero() {
		next.CreatedAt = v.CreatedAt
	}
	return next
}

func (r *Reducer) applyEvent(ctx context.Context, acc domain.Order, e domain.LogEvent) domain.Order {
	switch e.Status {
	case domain.LogStatusPending:
		acc.Pending = append(acc.Pending, e.Data)
		return acc
	case domain.LogStatusConfirmed:
		switch payload := e.Data.(type) {
		case domain.OrderSideMatch:
			fill := new(big.Int).Set(acc.Fill)
			if payload.Fill != nil {
				fill.Add(fill, payload.Fill)
			}
			acc.Fill = fill
			acc.LastUpdateAt = laterOf(acc.LastUpdateAt, payload.Date)
			return acc
		case domain.OrderCancel:
			acc.Cancelled = true
			acc.LastUpdateAt = laterOf(acc.LastUpdateAt, payload.Date)
			return acc
		case domain.OnChainOrder:
			// Orders can be re-opened on chain: a confirmed creation event
			// starts a fresh epoch under the same hash, discarding the
			// accumulated fill and cancellation.
			return r.applyVersion(ctx, emptyOrder(), payload.Order)
		default:
			return acc
		}
	default:
		// Reverted, dropped and inactive events carry no finalized state.
		return acc
	}
}

// priceHistory prepends a record when the traded amounts changed versus the
// prior accumulator, capped at MaxPriceHistories newest-first entries.
func (r *Reducer) priceHistory(ctx context.Context, acc domain.Order, v domain.OrderVersion) []domain.PriceHistoryRecord {
	if acc.Make.Equal(v.Make) && acc.Take.Equal(v.Take) {
		return acc.PriceHistory
	}
	record := domain.PriceHistoryRecord{
		Date:      v.CreatedAt,
		MakeValue: r.normalize(ctx, v.Make),
		TakeValue: r.normalize(ctx, v.Take),
	}
	history := append([]domain.PriceHistoryRecord{record}, acc.PriceHistory...)
	if len(history) > domain.MaxPriceHistories {
		history = history[:domain.MaxPriceHistories]
	}
	return history
}

// normalize falls back to the raw integer amount when the decimals lookup is
// unavailable; a price record with unscaled values beats a missing record.
func (r *Reducer) normalize(ctx context.Context, a domain.Asset) decimal.Decimal {
	if r.normalizer != nil {
		if d, err := r.normalizer.Normalize(ctx, a); err == nil {
			return d
		}
	}
	if a.Value == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(a.Value, 0)
}

func laterOf(a, b time.Time) time.Time {
	if b.After(a) {
		return b
	}
	return a
}
