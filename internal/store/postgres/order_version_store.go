package postgres

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	json "github.com/goccy/go-json"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/raremarket/orderwatch/internal/domain"
)

// OrderVersionStore implements domain.OrderVersionStore using PostgreSQL.
// Versions are immutable intents, so the full record is stored as one JSONB
// document next to the columns the queries need.
type OrderVersionStore struct {
	pool *pgxpool.Pool
}

var _ domain.OrderVersionStore = (*OrderVersionStore)(nil)

// NewOrderVersionStore creates a new OrderVersionStore.
func NewOrderVersionStore(pool *pgxpool.Pool) *OrderVersionStore {
	return &OrderVersionStore{pool: pool}
}

// Insert stores a version, doing nothing when the id already exists.
func (s *OrderVersionStore) Insert(ctx context.Context, v domain.OrderVersion) error {
	doc, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("postgres: encode order version %s: %w", v.ID, err)
	}

	const query = `
		INSERT INTO order_versions (id, hash, on_chain, doc, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO NOTHING`

	_, err = s.pool.Exec(ctx, query, v.ID, hexHash(v.Hash), v.OnChain, doc, v.CreatedAt)
	if err != nil {
		return fmt.Errorf("postgres: insert order version %s: %w", v.ID, err)
	}
	return nil
}

// DeleteByID removes a version; a missing id reports ErrNotFound.
func (s *OrderVersionStore) DeleteByID(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM order_versions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("postgres: delete order version %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// FindByHash returns all versions for a hash in ascending creation order.
func (s *OrderVersionStore) FindByHash(ctx context.Context, hash common.Hash) ([]domain.OrderVersion, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT doc FROM order_versions WHERE hash = $1 ORDER BY created_at, id`,
		hexHash(hash),
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: find versions for %s: %w", hash, err)
	}
	defer rows.Close()

	var versions []domain.OrderVersion
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("postgres: scan order version: %w", err)
		}
		var v domain.OrderVersion
		if err := json.Unmarshal(doc, &v); err != nil {
			return nil, fmt.Errorf("postgres: decode order version: %w", err)
		}
		versions = append(versions, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate order versions: %w", err)
	}
	return versions, nil
}

// ExistsByID reports whether a version with the given id is stored.
func (s *OrderVersionStore) ExistsByID(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM order_versions WHERE id = $1)`, id,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("postgres: check order version %s: %w", id, err)
	}
	return exists, nil
}

// Update rewrites a stored version, used by price refresh jobs.
func (s *OrderVersionStore) Update(ctx context.Context, v domain.OrderVersion) error {
	doc, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("postgres: encode order version %s: %w", v.ID, err)
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE order_versions SET hash = $2, on_chain = $3, doc = $4, created_at = $5 WHERE id = $1`,
		v.ID, hexHash(v.Hash), v.OnChain, doc, v.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: update order version %s: %w", v.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// HashesGreaterThan pages distinct hashes above the cursor in ascending byte
// order. Lowercase hex keys make text order equal byte order.
func (s *OrderVersionStore) HashesGreaterThan(ctx context.Context, from common.Hash, limit int) ([]common.Hash, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT DISTINCT hash FROM order_versions WHERE hash > $1 ORDER BY hash LIMIT $2`,
		hexHash(from), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: page version hashes: %w", err)
	}
	return collectHashes(rows)
}
