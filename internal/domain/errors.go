package domain

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned by OrderStore.Save when the stored version
	// counter no longer matches the snapshot being written.
	ErrConflict = errors.New("concurrent modification")
	// ErrNotReducible marks a hash with log events but no order version;
	// log events alone never create a tradable order.
	ErrNotReducible = errors.New("order not reducible")
	ErrLockHeld     = errors.New("lock already held")
	// ErrUnavailable marks an external oracle that could not answer in time.
	ErrUnavailable = errors.New("value unavailable")
)

// UnsupportedAssetError reports an asset type a protocol variant cannot
// represent (for example a lazy-mint asset in a legacy hash).
type UnsupportedAssetError struct {
	Class  AssetClass
	Reason string
}

func (e *UnsupportedAssetError) Error() string {
	return fmt.Sprintf("unsupported asset type %s: %s", e.Class, e.Reason)
}

// UnsupportedOrderDataError reports an order-data encoding the decoder does
// not recognize.
type UnsupportedOrderDataError struct {
	DataType string
}

func (e *UnsupportedOrderDataError) Error() string {
	return fmt.Sprintf("unsupported order data type %q", e.DataType)
}

// OrderNotFoundError reports a direct mutation request against a hash that
// has no stored order.
type OrderNotFoundError struct {
	Hash common.Hash
}

func (e *OrderNotFoundError) Error() string {
	return fmt.Sprintf("order %s not found", e.Hash.Hex())
}

func (e *OrderNotFoundError) Unwrap() error { return ErrNotFound }
