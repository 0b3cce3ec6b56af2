package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// LogStatus is the delivery status of a decoded blockchain log record.
type LogStatus string

const (
	LogStatusPending   LogStatus = "PENDING"
	LogStatusConfirmed LogStatus = "CONFIRMED"
	LogStatusReverted  LogStatus = "REVERTED"
	LogStatusDropped   LogStatus = "DROPPED"
	LogStatusInactive  LogStatus = "INACTIVE"
)

// MatchSide tells which side of a two-sided match this record describes.
type MatchSide string

const (
	MatchSideLeft  MatchSide = "LEFT"
	MatchSideRight MatchSide = "RIGHT"
)

// ExchangeHistory is the closed union of exchange event payloads extracted
// from chain logs. Every fold over order history matches exhaustively on
// these variants.
type ExchangeHistory interface {
	// HistoryHash is the identity hash of the order this payload belongs to.
	HistoryHash() common.Hash
	// HistoryDate is the block (or observation) timestamp of the payload.
	HistoryDate() time.Time
	exchangeHistory()
}

// OrderSideMatch records one side of an executed match.
type OrderSideMatch struct {
	Hash        common.Hash
	CounterHash common.Hash
	Side        MatchSide
	Fill        *big.Int
	Maker       common.Address
	Taker       common.Address
	Make        Asset
	Take        Asset
	Date        time.Time
}

// OrderCancel records an on-chain cancellation.
type OrderCancel struct {
	Hash  common.Hash
	Maker common.Address
	Make  Asset
	Take  Asset
	Date  time.Time
}

// OnChainOrder records an order created (or re-created) directly on chain; it
// embeds the order version materialized from the call data.
type OnChainOrder struct {
	Order OrderVersion
	Date  time.Time
}

func (m OrderSideMatch) HistoryHash() common.Hash { return m.Hash }
func (c OrderCancel) HistoryHash() common.Hash    { return c.Hash }
func (o OnChainOrder) HistoryHash() common.Hash   { return o.Order.Hash }

func (m OrderSideMatch) HistoryDate() time.Time { return m.Date }
func (c OrderCancel) HistoryDate() time.Time    { return c.Date }
func (o OnChainOrder) HistoryDate() time.Time   { return o.Date }

func (OrderSideMatch) exchangeHistory() {}
func (OrderCancel) exchangeHistory()    {}
func (OnChainOrder) exchangeHistory()   {}

// LogEvent is one decoded blockchain log record keyed by order hash. Records
// are replayable and may arrive out of order or more than once; the block
// ordering triple gives them a stable total order within a hash.
type LogEvent struct {
	ID            string
	Hash          common.Hash
	Status        LogStatus
	BlockNumber   int64
	LogIndex      int
	MinorLogIndex int
	Data          ExchangeHistory
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Before orders log events by (blockNumber, logIndex, minorLogIndex).
// Unmined (pending) events carry blockNumber 0 and sort first.
func (e LogEvent) Before(other LogEvent) bool {
	if e.BlockNumber != other.BlockNumber {
		return e.BlockNumber < other.BlockNumber
	}
	if e.LogIndex != other.LogIndex {
		return e.LogIndex < other.LogIndex
	}
	return e.MinorLogIndex < other.MinorLogIndex
}
