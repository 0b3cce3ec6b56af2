package reduce

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/raremarket/orderwatch/internal/domain"
)

func addr(b byte) common.Address {
	var a common.Address
	a[19] = b
	return a
}

func hashOf(b byte) common.Hash {
	var h common.Hash
	h[31] = b
	return h
}

// ---------------------------------------------------------------------------
// In-memory fakes.
// ---------------------------------------------------------------------------

type memOrderStore struct {
	mu     sync.Mutex
	orders map[common.Hash]domain.Order
	// failSaves makes the next N saves return ErrConflict.
	failSaves int
	saves     int
}

func newMemOrderStore() *memOrderStore {
	return &memOrderStore{orders: map[common.Hash]domain.Order{}}
}

func (s *memOrderStore) Save(_ context.Context, order domain.Order) (domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves++
	if s.failSaves > 0 {
		s.failSaves--
		return domain.Order{}, domain.ErrConflict
	}
	existing, found := s.orders[order.Hash]
	if found && existing.DBVersion != order.DBVersion {
		return domain.Order{}, domain.ErrConflict
	}
	if !found && order.DBVersion != 0 {
		return domain.Order{}, domain.ErrConflict
	}
	order.DBVersion++
	s.orders[order.Hash] = order
	return order, nil
}

func (s *memOrderStore) GetByHash(_ context.Context, hash common.Hash) (domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	order, found := s.orders[hash]
	if !found {
		return domain.Order{}, domain.ErrNotFound
	}
	return order, nil
}

func (s *memOrderStore) FindOpenSeaHashesByMakerAndNonce(context.Context, common.Address, int64, int64) ([]common.Hash, error) {
	return nil, nil
}

func (s *memOrderStore) FindNotCancelledByMakerAndToken(context.Context, common.Address, common.Address, *big.Int) ([]common.Hash, error) {
	return nil, nil
}

// racingOrderStore rejects the first save with ErrConflict after running a
// callback that simulates a concurrent writer landing first.
type racingOrderStore struct {
	*memOrderStore
	winner func()
	raced  bool
}

func (s *racingOrderStore) Save(ctx context.Context, order domain.Order) (domain.Order, error) {
	if !s.raced {
		s.raced = true
		s.winner()
		return domain.Order{}, domain.ErrConflict
	}
	return s.memOrderStore.Save(ctx, order)
}

type memVersionStore struct {
	mu       sync.Mutex
	versions []domain.OrderVersion
}

func (s *memVersionStore) Insert(_ context.Context, v domain.OrderVersion) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.versions {
		if existing.ID == v.ID {
			return nil
		}
	}
	s.versions = append(s.versions, v)
	return nil
}

func (s *memVersionStore) DeleteByID(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, v := range s.versions {
		if v.ID == id {
			s.versions = append(s.versions[:i], s.versions[i+1:]...)
			return nil
		}
	}
	return domain.ErrNotFound
}

func (s *memVersionStore) FindByHash(_ context.Context, hash common.Hash) ([]domain.OrderVersion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.OrderVersion
	for _, v := range s.versions {
		if v.Hash == hash {
			out = append(out, v)
		}
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].CreatedAt.Before(out[j-1].CreatedAt); j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out, nil
}

func (s *memVersionStore) ExistsByID(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, v := range s.versions {
		if v.ID == id {
			return true, nil
		}
	}
	return false, nil
}

func (s *memVersionStore) Update(_ context.Context, v domain.OrderVersion) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.versions {
		if existing.ID == v.ID {
			s.versions[i] = v
			return nil
		}
	}
	return domain.ErrNotFound
}

func (s *memVersionStore) HashesGreaterThan(_ context.Context, from common.Hash, limit int) ([]common.Hash, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := map[common.Hash]struct{}{}
	var out []common.Hash
	for _, v := range s.versions {
		if bytesCompare(v.Hash, from) <= 0 {
			continue
		}
		if _, dup := seen[v.Hash]; dup {
			continue
		}
		seen[v.Hash] = struct{}{}
		out = append(out, v.Hash)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

type memHistoryStore struct {
	mu     sync.Mutex
	events []domain.LogEvent
}

func (s *memHistoryStore) Upsert(_ context.Context, e domain.LogEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.events {
		if existing.ID == e.ID {
			s.events[i] = e
			return nil
		}
	}
	s.events = append(s.events, e)
	return nil
}

func (s *memHistoryStore) FindByHash(_ context.Context, hash common.Hash) ([]domain.LogEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.LogEvent
	for _, e := range s.events {
		if e.Hash == hash {
			out = append(out, e)
		}
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].Before(out[j-1]); j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out, nil
}

func (s *memHistoryStore) HashesGreaterThan(_ context.Context, from common.Hash, limit int) ([]common.Hash, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := map[common.Hash]struct{}{}
	var out []common.Hash
	for _, e := range s.events {
		if bytesCompare(e.Hash, from) <= 0 {
			continue
		}
		if _, dup := seen[e.Hash]; dup {
			continue
		}
		seen[e.Hash] = struct{}{}
		out = append(out, e.Hash)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *memHistoryStore) ListConfirmedBefore(context.Context, time.Time, int) ([]domain.LogEvent, error) {
	return nil, nil
}

type fakeBalance struct {
	balance *big.Int
	err     error
}

func (f fakeBalance) GetAssetStock(context.Context, common.Address, domain.AssetType) (*big.Int, error) {
	if f.err != nil {
		return nil, f.err
	}
	return new(big.Int).Set(f.balance), nil
}

type fakeValuer struct {
	value domain.OrderUsdValue
	err   error
}

func (f fakeValuer) AssetsUsdValue(context.Context, domain.Asset, domain.Asset, time.Time) (domain.OrderUsdValue, error) {
	if f.err != nil {
		return domain.OrderUsdValue{}, f.err
	}
	return f.value, nil
}

// ---------------------------------------------------------------------------
// Fixtures.
// ---------------------------------------------------------------------------

type fixture struct {
	orders   *memOrderStore
	versions *memVersionStore
	history  *memHistoryStore
	reducer  *Reducer
}

func newFixture(t *testing.T, balance *big.Int) *fixture {
	t.Helper()
	f := &fixture{
		orders:   newMemOrderStore(),
		versions: &memVersionStore{},
		history:  &memHistoryStore{},
	}
	f.reducer = NewReducer(
		f.orders, f.versions, f.history,
		fakeBalance{balance: balance},
		nil, nil, nil, nil,
		Config{ProtocolFeeBps: 0},
		slog.New(slog.DiscardHandler),
	)
	return f
}

var epoch = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

func saleVersion(id string, hash common.Hash, makeValue, takeValue int64, at time.Time) domain.OrderVersion {
	return domain.OrderVersion{
		ID:    id,
		Hash:  hash,
		Maker: addr(1),
		Make:  domain.Asset{Type: domain.Erc1155AssetType{Token: addr(2), TokenID: big.NewInt(1)}, Value: big.NewInt(makeValue)},
		Take:  domain.Asset{Type: domain.Erc20AssetType{Token: addr(3)}, Value: big.NewInt(takeValue)},
		Type:  domain.OrderTypeRaribleV2,
		Salt:  big.NewInt(7),
		Data:  domain.OrderRaribleV2DataV1{},

		Platform:  domain.PlatformRarible,
		CreatedAt: at,
	}
}

func matchEvent(id string, hash common.Hash, fill int64, status domain.LogStatus, block int64, at time.Time) domain.LogEvent {
	return domain.LogEvent{
		ID:          id,
		Hash:        hash,
		Status:      status,
		BlockNumber: block,
		Data: domain.OrderSideMatch{
			Hash:        hash,
			CounterHash: hashOf(0xcc),
			Side:        domain.MatchSideLeft,
			Fill:        big.NewInt(fill),
			Maker:       addr(1),
			Taker:       addr(9),
			Date:        at,
		},
		CreatedAt: at,
	}
}

func cancelEvent(id string, hash common.Hash, block int64, at time.Time) domain.LogEvent {
	return domain.LogEvent{
		ID:          id,
		Hash:        hash,
		Status:      domain.LogStatusConfirmed,
		BlockNumber: block,
		Data: domain.OrderCancel{
			Hash:  hash,
			Maker: addr(1),
			Date:  at,
		},
		CreatedAt: at,
	}
}

// ---------------------------------------------------------------------------
// Tests.
// ---------------------------------------------------------------------------

func TestUpdateFoldsVersionAndMatches(t *testing.T) {
	ctx := context.Background()
	hash := hashOf(1)
	f := newFixture(t, big.NewInt(1000))
	f.versions.Insert(ctx, saleVersion("v1", hash, 10, 100, epoch))
	f.history.Upsert(ctx, matchEvent("m1", hash, 40, domain.LogStatusConfirmed, 100, epoch.Add(time.Hour)))

	order, err := f.reducer.Update(ctx, hash)
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if order.Fill.Cmp(big.NewInt(40)) != 0 {
		t.Fatalf("fill = %s, want 40", order.Fill)
	}
	// remaining take 60 -> remaining make 6, balance covers it
	if order.MakeStock.Cmp(big.NewInt(6)) != 0 {
		t.Fatalf("make stock = %s, want 6", order.MakeStock)
	}
	if order.Cancelled {
		t.Fatal("order must not be cancelled")
	}
	if !order.LastUpdateAt.Equal(epoch.Add(time.Hour)) {
		t.Fatalf("lastUpdateAt = %s, want match date", order.LastUpdateAt)
	}
}

func TestUpdateIdempotent(t *testing.T) {
	ctx := context.Background()
	hash := hashOf(1)
	f := newFixture(t, big.NewInt(1000))
	f.versions.Insert(ctx, saleVersion("v1", hash, 10, 100, epoch))
	f.history.Upsert(ctx, matchEvent("m1", hash, 40, domain.LogStatusConfirmed, 100, epoch.Add(time.Hour)))

	first, err := f.reducer.Update(ctx, hash)
	if err != nil {
		t.Fatalf("first Update: %v", err)
	}
	second, err := f.reducer.Update(ctx, hash)
	if err != nil {
		t.Fatalf("second Update: %v", err)
	}
	if second.Fill.Cmp(first.Fill) != 0 || second.MakeStock.Cmp(first.MakeStock) != 0 ||
		second.Cancelled != first.Cancelled || !second.LastUpdateAt.Equal(first.LastUpdateAt) {
		t.Fatalf("re-reduction changed the snapshot: first=%+v second=%+v", first, second)
	}
	if second.DBVersion != first.DBVersion+1 {
		t.Fatalf("dbVersion = %d, want %d", second.DBVersion, first.DBVersion+1)
	}
}

func TestUpdatePendingEventsDoNotAffectState(t *testing.T) {
	ctx := context.Background()
	hash := hashOf(1)
	f := newFixture(t, big.NewInt(1000))
	f.versions.Insert(ctx, saleVersion("v1", hash, 10, 100, epoch))

	baseline, err := f.reducer.Update(ctx, hash)
	if err != nil {
		t.Fatalf("Update: %v", err)
	}

	f.history.Upsert(ctx, matchEvent("m1", hash, 40, domain.LogStatusPending, 100, epoch.Add(time.Hour)))
	withPending, err := f.reducer.Update(ctx, hash)
	if err != nil {
		t.Fatalf("Update with pending: %v", err)
	}
	if withPending.Fill.Cmp(baseline.Fill) != 0 {
		t.Fatalf("pending match changed fill: %s", withPending.Fill)
	}
	if withPending.MakeStock.Cmp(baseline.MakeStock) != 0 {
		t.Fatalf("pending match changed stock: %s", withPending.MakeStock)
	}
	if len(withPending.Pending) != 1 {
		t.Fatalf("pending list has %d entries, want 1", len(withPending.Pending))
	}
}

func TestUpdateCancelZeroesStock(t *testing.T) {
	ctx := context.Background()
	hash := hashOf(1)
	f := newFixture(t, big.NewInt(1000))
	f.versions.Insert(ctx, saleVersion("v1", hash, 10, 100, epoch))
	f.history.Upsert(ctx, cancelEvent("c1", hash, 100, epoch.Add(time.Hour)))

	order, err := f.reducer.Update(ctx, hash)
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if !order.Cancelled {
		t.Fatal("order must be cancelled")
	}
	if order.MakeStock.Sign() != 0 {
		t.Fatalf("make stock = %s, want 0", order.MakeStock)
	}
}

func TestUpdateReopening(t *testing.T) {
	ctx := context.Background()
	hash := hashOf(1)
	f := newFixture(t, big.NewInt(1000))
	f.versions.Insert(ctx, saleVersion("v1", hash, 10, 100, epoch))
	f.history.Upsert(ctx, cancelEvent("c1", hash, 100, epoch.Add(time.Hour)))

	cancelled, err := f.reducer.Update(ctx, hash)
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if !cancelled.Cancelled {
		t.Fatal("precondition: order cancelled")
	}

	// A confirmed on-chain creation re-opens the same hash as a new epoch.
	relist := saleVersion("v2", hash, 20, 200, epoch.Add(2*time.Hour))
	f.history.Upsert(ctx, domain.LogEvent{
		ID:          "oc1",
		Hash:        hash,
		Status:      domain.LogStatusConfirmed,
		BlockNumber: 200,
		Data:        domain.OnChainOrder{Order: relist, Date: relist.CreatedAt},
		CreatedAt:   relist.CreatedAt,
	})

	reopened, err := f.reducer.Update(ctx, hash)
	if err != nil {
		t.Fatalf("Update after relist: %v", err)
	}
	if reopened.Cancelled {
		t.Fatal("reopened order must not stay cancelled")
	}
	if reopened.Make.Value.Cmp(big.NewInt(20)) != 0 {
		t.Fatalf("make value = %s, want the relisted 20", reopened.Make.Value)
	}
	if reopened.MakeStock.Cmp(big.NewInt(20)) != 0 {
		t.Fatalf("make stock = %s, want 20", reopened.MakeStock)
	}

	// The materialized on-chain version must exist but never double-apply.
	exists, err := f.versions.ExistsByID(ctx, "v2")
	if err != nil || !exists {
		t.Fatalf("materialized version missing: exists=%v err=%v", exists, err)
	}
}

func TestUpdateOnChainResetOrderSensitivity(t *testing.T) {
	ctx := context.Background()
	hash := hashOf(1)

	// Same version, match and confirmed re-listing; only the stream order
	// differs. A re-listing wipes exactly the fill that settled before it.
	run := func(t *testing.T, matchBlock, resetBlock int64, matchAt, resetAt time.Time) domain.Order {
		t.Helper()
		f := newFixture(t, big.NewInt(1000))
		f.versions.Insert(ctx, saleVersion("v1", hash, 10, 100, epoch))
		f.history.Upsert(ctx, matchEvent("m1", hash, 40, domain.LogStatusConfirmed, matchBlock, matchAt))
		relist := saleVersion("v2", hash, 10, 100, resetAt)
		f.history.Upsert(ctx, domain.LogEvent{
			ID:          "oc1",
			Hash:        hash,
			Status:      domain.LogStatusConfirmed,
			BlockNumber: resetBlock,
			Data:        domain.OnChainOrder{Order: relist, Date: resetAt},
			CreatedAt:   resetAt,
		})
		order, err := f.reducer.Update(ctx, hash)
		if err != nil {
			t.Fatalf("Update: %v", err)
		}
		return order
	}

	resetAfter := run(t, 100, 200, epoch.Add(time.Hour), epoch.Add(2*time.Hour))
	if resetAfter.Fill.Sign() != 0 {
		t.Fatalf("fill after reset = %s, want 0 (match settled before the re-listing)", resetAfter.Fill)
	}

	resetBefore := run(t, 200, 100, epoch.Add(2*time.Hour), epoch.Add(time.Hour))
	if resetBefore.Fill.Cmp(big.NewInt(40)) != 0 {
		t.Fatalf("fill with match after reset = %s, want 40", resetBefore.Fill)
	}
}

func TestUpdateRevertedOnChainOrderRetractsVersion(t *testing.T) {
	ctx := context.Background()
	hash := hashOf(1)
	f := newFixture(t, big.NewInt(1000))

	created := saleVersion("v1", hash, 10, 100, epoch)
	event := domain.LogEvent{
		ID:          "oc1",
		Hash:        hash,
		Status:      domain.LogStatusConfirmed,
		BlockNumber: 100,
		Data:        domain.OnChainOrder{Order: created, Date: created.CreatedAt},
		CreatedAt:   created.CreatedAt,
	}
	f.history.Upsert(ctx, event)

	if _, err := f.reducer.Update(ctx, hash); err != nil {
		t.Fatalf("Update: %v", err)
	}
	exists, _ := f.versions.ExistsByID(ctx, "v1")
	if !exists {
		t.Fatal("confirmed on-chain order must materialize its version")
	}

	// Reorg: the creation event reverts; its version must be retracted and
	// the hash becomes non-reducible.
	event.Status = domain.LogStatusReverted
	f.history.Upsert(ctx, event)

	_, err := f.reducer.Update(ctx, hash)
	if !errors.Is(err, domain.ErrNotReducible) {
		t.Fatalf("err = %v, want ErrNotReducible", err)
	}
	exists, _ = f.versions.ExistsByID(ctx, "v1")
	if exists {
		t.Fatal("reverted on-chain order must retract its version")
	}
}

func TestUpdateOrphanEventsNotReducible(t *testing.T) {
	ctx := context.Background()
	hash := hashOf(1)
	f := newFixture(t, big.NewInt(1000))
	f.history.Upsert(ctx, matchEvent("m1", hash, 40, domain.LogStatusConfirmed, 100, epoch))

	_, err := f.reducer.Update(ctx, hash)
	if !errors.Is(err, domain.ErrNotReducible) {
		t.Fatalf("err = %v, want ErrNotReducible", err)
	}
	if len(f.orders.orders) != 0 {
		t.Fatal("orphan events must not persist a phantom order")
	}
}

func TestUpdateBalanceLookupFailureDegradesToZeroStock(t *testing.T) {
	ctx := context.Background()
	hash := hashOf(1)
	f := newFixture(t, nil)
	f.reducer.balances = fakeBalance{err: domain.ErrUnavailable}
	f.versions.Insert(ctx, saleVersion("v1", hash, 10, 100, epoch))

	order, err := f.reducer.Update(ctx, hash)
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if order.MakeStock.Sign() != 0 {
		t.Fatalf("make stock = %s, want 0 on balance failure", order.MakeStock)
	}
}

func TestUpdateKeepsStaleUsdOnValuerFailure(t *testing.T) {
	ctx := context.Background()
	hash := hashOf(1)
	f := newFixture(t, big.NewInt(1000))
	price := decimal.RequireFromString("3.25")
	f.reducer.valuer = fakeValuer{value: domain.OrderUsdValue{MakePriceUsd: &price}}
	f.versions.Insert(ctx, saleVersion("v1", hash, 10, 100, epoch))

	annotated, err := f.reducer.Update(ctx, hash)
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if annotated.MakePriceUsd == nil || !annotated.MakePriceUsd.Equal(price) {
		t.Fatalf("makePriceUsd = %v, want 3.25", annotated.MakePriceUsd)
	}

	f.reducer.valuer = fakeValuer{err: domain.ErrUnavailable}
	stale, err := f.reducer.Update(ctx, hash)
	if err != nil {
		t.Fatalf("Update with failing valuer: %v", err)
	}
	if stale.MakePriceUsd == nil || !stale.MakePriceUsd.Equal(price) {
		t.Fatalf("stale makePriceUsd = %v, want previous 3.25", stale.MakePriceUsd)
	}
}

func TestUpdateRetriesOptimisticConflict(t *testing.T) {
	ctx := context.Background()
	hash := hashOf(1)
	f := newFixture(t, big.NewInt(1000))
	f.versions.Insert(ctx, saleVersion("v1", hash, 10, 100, epoch))
	f.orders.failSaves = 2

	order, err := f.reducer.Update(ctx, hash)
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if order.DBVersion != 1 {
		t.Fatalf("dbVersion = %d, want 1", order.DBVersion)
	}
	if f.orders.saves != 3 {
		t.Fatalf("saves = %d, want 3 (two conflicts, one success)", f.orders.saves)
	}
}

func TestUpdateConflictRetriesExhausted(t *testing.T) {
	ctx := context.Background()
	hash := hashOf(1)
	f := newFixture(t, big.NewInt(1000))
	f.versions.Insert(ctx, saleVersion("v1", hash, 10, 100, epoch))
	f.orders.failSaves = 100

	_, err := f.reducer.Update(ctx, hash)
	if !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("err = %v, want ErrConflict", err)
	}
}

func TestUpdateConflictRefoldsConcurrentEvents(t *testing.T) {
	ctx := context.Background()
	hash := hashOf(1)
	backing := newMemOrderStore()
	versions := &memVersionStore{}
	history := &memHistoryStore{}
	versions.Insert(ctx, saleVersion("v1", hash, 10, 100, epoch))
	history.Upsert(ctx, matchEvent("m1", hash, 40, domain.LogStatusConfirmed, 100, epoch.Add(time.Minute)))

	// While the first save is in flight, a concurrent writer lands another
	// confirmed match and persists its own snapshot.
	orders := &racingOrderStore{memOrderStore: backing}
	orders.winner = func() {
		history.Upsert(ctx, matchEvent("m2", hash, 50, domain.LogStatusConfirmed, 101, epoch.Add(2*time.Minute)))
		if _, err := backing.Save(ctx, domain.Order{Hash: hash, Fill: big.NewInt(90)}); err != nil {
			t.Fatalf("winner save: %v", err)
		}
	}

	reducer := NewReducer(
		orders, versions, history,
		fakeBalance{balance: big.NewInt(1000)},
		nil, nil, nil, nil,
		Config{ProtocolFeeBps: 0},
		slog.New(slog.DiscardHandler),
	)

	order, err := reducer.Update(ctx, hash)
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if order.Fill.Cmp(big.NewInt(90)) != 0 {
		t.Fatalf("fill = %s, want 90 (both matches folded after conflict)", order.Fill)
	}
	persisted, err := backing.GetByHash(ctx, hash)
	if err != nil {
		t.Fatalf("GetByHash: %v", err)
	}
	if persisted.Fill.Cmp(big.NewInt(90)) != 0 {
		t.Fatalf("persisted fill = %s, want 90", persisted.Fill)
	}
	if persisted.DBVersion != 2 {
		t.Fatalf("dbVersion = %d, want 2 (winner wrote 1, retry wrote 2)", persisted.DBVersion)
	}
}

func TestUpdatePriceHistory(t *testing.T) {
	ctx := context.Background()
	hash := hashOf(1)
	f := newFixture(t, big.NewInt(1_000_000))

	for i := 0; i < domain.MaxPriceHistories+5; i++ {
		f.versions.Insert(ctx, saleVersion(
			fmt.Sprintf("v%d", i), hash, 10, int64(100+i), epoch.Add(time.Duration(i)*time.Minute),
		))
	}
	order, err := f.reducer.Update(ctx, hash)
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if len(order.PriceHistory) != domain.MaxPriceHistories {
		t.Fatalf("price history length = %d, want cap %d", len(order.PriceHistory), domain.MaxPriceHistories)
	}
	// Newest first.
	newest := order.PriceHistory[0]
	if !newest.TakeValue.Equal(decimal.NewFromInt(100 + int64(domain.MaxPriceHistories) + 4)) {
		t.Fatalf("newest take value = %s", newest.TakeValue)
	}
}

func TestUpdateAllSweep(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, big.NewInt(1000))
	for i := byte(1); i <= 5; i++ {
		f.versions.Insert(ctx, saleVersion(fmt.Sprintf("v%d", i), hashOf(i), 10, 100, epoch))
	}
	// An orphan event hash must be skipped, not fail the sweep.
	f.history.Upsert(ctx, matchEvent("m9", hashOf(9), 1, domain.LogStatusConfirmed, 1, epoch))

	reduced, err := f.reducer.UpdateAll(ctx, common.Hash{})
	if err != nil {
		t.Fatalf("UpdateAll: %v", err)
	}
	if reduced != 5 {
		t.Fatalf("reduced = %d, want 5", reduced)
	}
	if len(f.orders.orders) != 5 {
		t.Fatalf("persisted %d orders, want 5", len(f.orders.orders))
	}
}

func TestMergeUpdatesVersionsFirstOnTies(t *testing.T) {
	v := saleVersion("v1", hashOf(1), 10, 100, epoch)
	e := matchEvent("m1", hashOf(1), 5, domain.LogStatusConfirmed, 1, epoch)

	merged := mergeUpdates([]domain.OrderVersion{v}, []domain.LogEvent{e})
	if len(merged) != 2 {
		t.Fatalf("merged length = %d, want 2", len(merged))
	}
	if merged[0].version == nil {
		t.Fatal("version must come before a log event of the same instant")
	}
}
