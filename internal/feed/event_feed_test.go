package feed

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/raremarket/orderwatch/internal/domain"
)

type recordingHistory struct {
	events []domain.LogEvent
	err    error
}

func (r *recordingHistory) Upsert(_ context.Context, e domain.LogEvent) error {
	if r.err != nil {
		return r.err
	}
	r.events = append(r.events, e)
	return nil
}

func (r *recordingHistory) FindByHash(context.Context, common.Hash) ([]domain.LogEvent, error) {
	return nil, nil
}

func (r *recordingHistory) HashesGreaterThan(context.Context, common.Hash, int) ([]common.Hash, error) {
	return nil, nil
}

func (r *recordingHistory) ListConfirmedBefore(context.Context, time.Time, int) ([]domain.LogEvent, error) {
	return nil, nil
}

type recordingReducer struct {
	hashes []common.Hash
	err    error
}

func (r *recordingReducer) Update(_ context.Context, hash common.Hash) (domain.Order, error) {
	r.hashes = append(r.hashes, hash)
	return domain.Order{}, r.err
}

func matchEvent(hash common.Hash) domain.LogEvent {
	return domain.LogEvent{
		ID:          "ev-1",
		Hash:        hash,
		Status:      domain.LogStatusConfirmed,
		BlockNumber: 10,
		Data: domain.OrderSideMatch{
			Hash: hash,
			Side: domain.MatchSideLeft,
			Fill: big.NewInt(1),
			Date: time.Now(),
		},
		CreatedAt: time.Now(),
	}
}

func testFeed(history *recordingHistory, reducer *recordingReducer) *ScannerFeed {
	return NewScannerFeed("ws://scanner", history, reducer, nil, nil, nil, slog.New(slog.DiscardHandler))
}

func TestHandleOrderEventStoresThenReduces(t *testing.T) {
	history := &recordingHistory{}
	reducer := &recordingReducer{}
	f := testFeed(history, reducer)

	hash := common.HexToHash("0x01")
	f.handleOrderEvent(context.Background(), matchEvent(hash))

	if len(history.events) != 1 {
		t.Fatalf("stored %d events, want 1", len(history.events))
	}
	if len(reducer.hashes) != 1 || reducer.hashes[0] != hash {
		t.Fatalf("reduced %v, want [%s]", reducer.hashes, hash.Hex())
	}
}

func TestHandleOrderEventSkipsReduceWhenStoreFails(t *testing.T) {
	history := &recordingHistory{err: errors.New("db down")}
	reducer := &recordingReducer{}
	f := testFeed(history, reducer)

	f.handleOrderEvent(context.Background(), matchEvent(common.HexToHash("0x01")))

	if len(reducer.hashes) != 0 {
		t.Fatal("a failed store write must not trigger a reduction")
	}
}

func TestHandleOrderEventToleratesOrphans(t *testing.T) {
	history := &recordingHistory{}
	reducer := &recordingReducer{err: domain.ErrNotReducible}
	f := testFeed(history, reducer)

	// An event for an order with no versions yet is kept for later.
	f.handleOrderEvent(context.Background(), matchEvent(common.HexToHash("0x02")))

	if len(history.events) != 1 {
		t.Fatal("orphan events must still be persisted")
	}
}

type recordingIntake struct {
	versions []domain.OrderVersion
	err      error
}

func (r *recordingIntake) SubmitOrder(_ context.Context, v domain.OrderVersion) (domain.Order, error) {
	r.versions = append(r.versions, v)
	return domain.Order{}, r.err
}

func TestHandleOrderVersionRoutesToIntake(t *testing.T) {
	intake := &recordingIntake{}
	f := testFeed(&recordingHistory{}, &recordingReducer{})
	f.intake = intake

	f.handleOrderVersion(context.Background(), domain.OrderVersion{ID: "v-1"})
	// Rejections are logged, not retried.
	intake.err = errors.New("bad signature")
	f.handleOrderVersion(context.Background(), domain.OrderVersion{ID: "v-2"})

	if len(intake.versions) != 2 {
		t.Fatalf("intake saw %d versions, want 2", len(intake.versions))
	}
	if intake.versions[0].ID != "v-1" {
		t.Fatalf("first version = %q", intake.versions[0].ID)
	}
}
