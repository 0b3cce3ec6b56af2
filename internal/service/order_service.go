package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/raremarket/orderwatch/internal/crypto"
	"github.com/raremarket/orderwatch/internal/domain"
	"github.com/raremarket/orderwatch/internal/protocol"
)

// ErrIncorrectSignature is returned when an order submission carries no
// signature or the recovered signer is not the maker.
var ErrIncorrectSignature = errors.New("service: incorrect order signature")

// OrderReducer triggers re-reduction of one order hash.
type OrderReducer interface {
	Update(ctx context.Context, hash common.Hash) (domain.Order, error)
}

// Erc1271Verifier asks a contract wallet whether it considers a signature
// valid, for makers that are not externally owned accounts.
type Erc1271Verifier interface {
	IsValidSignature(ctx context.Context, wallet common.Address, digest common.Hash, sig []byte) (bool, error)
}

// OrderService validates and persists off-chain order submissions and routes
// every accepted version through the reduction engine.
type OrderService struct {
	orders   domain.OrderStore
	versions domain.OrderVersionStore
	reducer  OrderReducer
	valuer   domain.UsdValuer
	domain   crypto.EIP712Domain
	erc1271  Erc1271Verifier
	logger   *slog.Logger
}

// NewOrderService creates an OrderService. The valuer and ERC-1271 verifier
// are optional.
func NewOrderService(
	orders domain.OrderStore,
	versions domain.OrderVersionStore,
	reducer OrderReducer,
	valuer domain.UsdValuer,
	eip712 crypto.EIP712Domain,
	erc1271 Erc1271Verifier,
	logger *slog.Logger,
) *OrderService {
	return &OrderService{
		orders:   orders,
		versions: versions,
		reducer:  reducer,
		valuer:   valuer,
		domain:   eip712,
		erc1271:  erc1271,
		logger:   logger.With(slog.String("component", "order_service")),
	}
}

// SubmitOrder validates a user-signed order version, persists it and reduces
// its hash. The identity hash is always recomputed server-side; a client
// supplied hash is ignored.
func (s *OrderService) SubmitOrder(ctx context.Context, version domain.OrderVersion) (domain.Order, error) {
	hash, err := protocol.OrderKey(version)
	if err != nil {
		return domain.Order{}, fmt.Errorf("service: hash order submission: %w", err)
	}
	version.Hash = hash
	if version.ID == "" {
		version.ID = uuid.NewString()
	}
	if version.CreatedAt.IsZero() {
		version.CreatedAt = time.Now().UTC()
	}

	if err := s.validateSignature(ctx, version); err != nil {
		return domain.Order{}, err
	}
	s.annotateUsd(ctx, &version)

	if err := s.versions.Insert(ctx, version); err != nil {
		return domain.Order{}, fmt.Errorf("service: insert order version %s: %w", version.ID, err)
	}
	s.logger.Info("order version accepted",
		slog.String("hash", hash.Hex()),
		slog.String("version_id", version.ID),
		slog.String("platform", string(version.Platform)),
	)

	order, err := s.reducer.Update(ctx, hash)
	if err != nil {
		return domain.Order{}, fmt.Errorf("service: reduce submitted order %s: %w", hash.Hex(), err)
	}
	return order, nil
}

// validateSignature checks the maker's commitment per protocol. Foreign
// exchange and punk-marketplace orders are validated by their own contracts
// and carry no checkable signature here.
func (s *OrderService) validateSignature(ctx context.Context, v domain.OrderVersion) error {
	switch v.Type {
	case domain.OrderTypeRaribleV1:
		if len(v.Signature) == 0 {
			return ErrIncorrectSignature
		}
		message, err := protocol.Hash(v.Maker, v.Make, v.Taker, v.Take, v.Salt, v.Start, v.End, v.Data, v.Type)
		if err != nil {
			return fmt.Errorf("service: legacy message for %s: %w", v.Hash.Hex(), err)
		}
		signer, err := crypto.RecoverPersonalSigner([]byte(message.Hex()), v.Signature)
		if err != nil {
			return fmt.Errorf("service: recover legacy signer: %w", err)
		}
		if signer != v.Maker {
			return ErrIncorrectSignature
		}
		return nil
	case domain.OrderTypeRaribleV2:
		if len(v.Signature) == 0 {
			return ErrIncorrectSignature
		}
		structHash, err := protocol.Hash(v.Maker, v.Make, v.Taker, v.Take, v.Salt, v.Start, v.End, v.Data, v.Type)
		if err != nil {
			return fmt.Errorf("service: typed hash for %s: %w", v.Hash.Hex(), err)
		}
		digest := s.domain.HashToSign(structHash)
		signer, err := crypto.RecoverSigner(digest, v.Signature)
		if err == nil && signer == v.Maker {
			return nil
		}
		if s.erc1271 != nil {
			valid, walletErr := s.erc1271.IsValidSignature(ctx, v.Maker, digest, v.Signature)
			if walletErr != nil {
				return fmt.Errorf("service: erc1271 check for %s: %w", v.Hash.Hex(), walletErr)
			}
			if valid {
				return nil
			}
		}
		return ErrIncorrectSignature
	default:
		return nil
	}
}

func (s *OrderService) annotateUsd(ctx context.Context, v *domain.OrderVersion) {
	if s.valuer == nil {
		return
	}
	value, err := s.valuer.AssetsUsdValue(ctx, v.Make, v.Take, v.CreatedAt)
	if err != nil {
		s.logger.Warn("usd annotation skipped for submission",
			slog.String("hash", v.Hash.Hex()),
			slog.String("error", err.Error()),
		)
		return
	}
	v.MakePriceUsd = value.MakePriceUsd
	v.TakePriceUsd = value.TakePriceUsd
	v.MakeUsd = value.MakeUsd
	v.TakeUsd = value.TakeUsd
}

// GetOrder returns the reduced snapshot for a hash.
func (s *OrderService) GetOrder(ctx context.Context, hash common.Hash) (domain.Order, error) {
	order, err := s.orders.GetByHash(ctx, hash)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Order{}, &domain.OrderNotFoundError{Hash: hash}
		}
		return domain.Order{}, fmt.Errorf("service: get order %s: %w", hash.Hex(), err)
	}
	return order, nil
}

// ReconcileMatch resolves the stored order an observed on-chain trade settles
// against. The trade reports narrow token-scoped asset types; a collection
// offer is stored under the widened collection-level identity, so candidates
// are probed narrow-first.
func (s *OrderService) ReconcileMatch(
	ctx context.Context,
	maker common.Address,
	makeType, takeType domain.AssetType,
	salt *big.Int,
	data domain.OrderData,
) (domain.Order, error) {
	candidates, err := protocol.CandidateKeys(maker, makeType, takeType, salt, data)
	if err != nil {
		return domain.Order{}, fmt.Errorf("service: candidate keys: %w", err)
	}
	for _, hash := range candidates {
		order, err := s.orders.GetByHash(ctx, hash)
		if err == nil {
			return order, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return domain.Order{}, fmt.Errorf("service: probe candidate %s: %w", hash.Hex(), err)
		}
	}
	return domain.Order{}, &domain.OrderNotFoundError{Hash: candidates[0]}
}
