package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/raremarket/orderwatch/internal/domain"
)

// ExchangeHistoryStore implements domain.ExchangeHistoryStore using
// PostgreSQL. Indexer replays upsert the same event id with a new status, so
// every write is a full overwrite keyed by id.
type ExchangeHistoryStore struct {
	pool *pgxpool.Pool
}

var _ domain.ExchangeHistoryStore = (*ExchangeHistoryStore)(nil)

// NewExchangeHistoryStore creates a new ExchangeHistoryStore.
func NewExchangeHistoryStore(pool *pgxpool.Pool) *ExchangeHistoryStore {
	return &ExchangeHistoryStore{pool: pool}
}

// Upsert stores a decoded log event, replacing any previous record with the
// same id.
func (s *ExchangeHistoryStore) Upsert(ctx context.Context, e domain.LogEvent) error {
	data, err := domain.MarshalExchangeHistory(e.Data)
	if err != nil {
		return fmt.Errorf("postgres: encode log event %s: %w", e.ID, err)
	}

	const query = `
		INSERT INTO exchange_history (
			id, hash, status, block_number, log_index, minor_log_index,
			data, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			block_number = EXCLUDED.block_number,
			log_index = EXCLUDED.log_index,
			minor_log_index = EXCLUDED.minor_log_index,
			data = EXCLUDED.data,
			updated_at = EXCLUDED.updated_at`

	updatedAt := e.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = e.CreatedAt
	}
	_, err = s.pool.Exec(ctx, query,
		e.ID, hexHash(e.Hash), string(e.Status),
		e.BlockNumber, e.LogIndex, e.MinorLogIndex,
		data, e.CreatedAt, updatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert log event %s: %w", e.ID, err)
	}
	return nil
}

const eventSelectCols = `id, hash, status, block_number, log_index,
	minor_log_index, data, created_at, updated_at`

// FindByHash returns all events for a hash in block order.
func (s *ExchangeHistoryStore) FindByHash(ctx context.Context, hash common.Hash) ([]domain.LogEvent, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+eventSelectCols+` FROM exchange_history
		WHERE hash = $1
		ORDER BY block_number, log_index, minor_log_index`,
		hexHash(hash),
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: find log events for %s: %w", hash, err)
	}
	return collectEvents(rows)
}

// HashesGreaterThan pages distinct hashes above the cursor in ascending byte
// order.
func (s *ExchangeHistoryStore) HashesGreaterThan(ctx context.Context, from common.Hash, limit int) ([]common.Hash, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT DISTINCT hash FROM exchange_history WHERE hash > $1 ORDER BY hash LIMIT $2`,
		hexHash(from), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: page event hashes: %w", err)
	}
	return collectHashes(rows)
}

// ListConfirmedBefore returns confirmed events older than the cutoff, oldest
// first, for the cold-storage archiver.
func (s *ExchangeHistoryStore) ListConfirmedBefore(ctx context.Context, before time.Time, limit int) ([]domain.LogEvent, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+eventSelectCols+` FROM exchange_history
		WHERE status = $1 AND created_at < $2
		ORDER BY created_at, id LIMIT $3`,
		string(domain.LogStatusConfirmed), before, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: list confirmed events: %w", err)
	}
	return collectEvents(rows)
}

func collectEvents(rows pgx.Rows) ([]domain.LogEvent, error) {
	defer rows.Close()
	var events []domain.LogEvent
	for rows.Next() {
		var (
			e            domain.LogEvent
			hash, status string
			data         []byte
		)
		err := rows.Scan(
			&e.ID, &hash, &status, &e.BlockNumber, &e.LogIndex,
			&e.MinorLogIndex, &data, &e.CreatedAt, &e.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan log event: %w", err)
		}
		e.Hash = common.HexToHash(hash)
		e.Status = domain.LogStatus(status)
		if e.Data, err = domain.UnmarshalExchangeHistory(data); err != nil {
			return nil, fmt.Errorf("postgres: decode log event %s: %w", e.ID, err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate log events: %w", err)
	}
	return events, nil
}
