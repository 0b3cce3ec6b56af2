package postgres

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	json "github.com/goccy/go-json"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/raremarket/orderwatch/internal/domain"
)

// OrderStore implements domain.OrderStore using PostgreSQL.
type OrderStore struct {
	pool *pgxpool.Pool
}

var _ domain.OrderStore = (*OrderStore)(nil)

// NewOrderStore creates a new OrderStore backed by the given connection pool.
func NewOrderStore(pool *pgxpool.Pool) *OrderStore {
	return &OrderStore{pool: pool}
}

// Save inserts the snapshot when DBVersion is zero, otherwise performs a
// version-checked update. Either way a lost race surfaces as ErrConflict.
func (s *OrderStore) Save(ctx context.Context, o domain.Order) (domain.Order, error) {
	row, err := orderToRow(o)
	if err != nil {
		return domain.Order{}, fmt.Errorf("postgres: encode order %s: %w", o.Hash, err)
	}

	if o.DBVersion == 0 {
		return s.insert(ctx, o, row)
	}
	return s.update(ctx, o, row)
}

func (s *OrderStore) insert(ctx context.Context, o domain.Order, row orderRow) (domain.Order, error) {
	const query = `
		INSERT INTO orders (
			hash, maker, taker, make, take, make_token, make_token_id,
			order_type, fill, cancelled, make_stock, salt, start_at, end_at,
			data, nonce, signature, created_at, last_update_at, pending,
			make_price_usd, take_price_usd, make_usd, take_usd,
			price_history, platform, db_version
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7,
			$8, $9::numeric, $10, $11::numeric, $12::numeric, $13, $14,
			$15, $16, $17, $18, $19, $20,
			$21, $22, $23, $24,
			$25, $26, 1
		)`

	_, err := s.pool.Exec(ctx, query,
		row.hash, row.maker, row.taker, row.make, row.take, row.makeToken, row.makeTokenID,
		row.orderType, row.fill, row.cancelled, row.makeStock, row.salt, row.startAt, row.endAt,
		row.data, row.nonce, row.signature, row.createdAt, row.lastUpdateAt, row.pending,
		row.makePriceUsd, row.takePriceUsd, row.makeUsd, row.takeUsd,
		row.priceHistory, row.platform,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return domain.Order{}, fmt.Errorf("postgres: order %s already exists: %w", o.Hash, domain.ErrConflict)
		}
		return domain.Order{}, fmt.Errorf("postgres: insert order %s: %w", o.Hash, err)
	}
	o.DBVersion = 1
	return o, nil
}

func (s *OrderStore) update(ctx context.Context, o domain.Order, row orderRow) (domain.Order, error) {
	const query = `
		UPDATE orders SET
			maker = $2, taker = $3, make = $4, take = $5,
			make_token = $6, make_token_id = $7,
			order_type = $8, fill = $9::numeric, cancelled = $10,
			make_stock = $11::numeric, salt = $12::numeric,
			start_at = $13, end_at = $14, data = $15, nonce = $16,
			signature = $17, created_at = $18, last_update_at = $19,
			pending = $20, make_price_usd = $21, take_price_usd = $22,
			make_usd = $23, take_usd = $24, price_history = $25,
			platform = $26, db_version = db_version + 1
		WHERE hash = $1 AND db_version = $27`

	tag, err := s.pool.Exec(ctx, query,
		row.hash, row.maker, row.taker, row.make, row.take,
		row.makeToken, row.makeTokenID,
		row.orderType, row.fill, row.cancelled,
		row.makeStock, row.salt,
		row.startAt, row.endAt, row.data, row.nonce,
		row.signature, row.createdAt, row.lastUpdateAt,
		row.pending, row.makePriceUsd, row.takePriceUsd,
		row.makeUsd, row.takeUsd, row.priceHistory,
		row.platform, o.DBVersion,
	)
	if err != nil {
		return domain.Order{}, fmt.Errorf("postgres: update order %s: %w", o.Hash, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.Order{}, fmt.Errorf("postgres: order %s version moved: %w", o.Hash, domain.ErrConflict)
	}
	o.DBVersion++
	return o, nil
}

const orderSelectCols = `hash, maker, taker, make, take,
	order_type, fill::text, cancelled, make_stock::text, salt::text,
	start_at, end_at, data, signature, created_at, last_update_at, pending,
	make_price_usd::text, take_price_usd::text, make_usd::text, take_usd::text,
	price_history, platform, db_version`

// GetByHash reads one reduced snapshot.
func (s *OrderStore) GetByHash(ctx context.Context, hash common.Hash) (domain.Order, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+orderSelectCols+` FROM orders WHERE hash = $1`,
		hexHash(hash),
	)
	o, err := scanOrder(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Order{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Order{}, fmt.Errorf("postgres: get order %s: %w", hash, err)
	}
	return o, nil
}

// FindOpenSeaHashesByMakerAndNonce returns hashes of foreign-exchange orders
// of the maker whose embedded nonce lies in [fromIncl, toExcl).
func (s *OrderStore) FindOpenSeaHashesByMakerAndNonce(ctx context.Context, maker common.Address, fromIncl, toExcl int64) ([]common.Hash, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT hash FROM orders
		WHERE platform = $1 AND maker = $2 AND nonce >= $3 AND nonce < $4
		ORDER BY hash`,
		string(domain.PlatformOpenSea), hexAddress(maker), fromIncl, toExcl,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: find orders by maker nonce: %w", err)
	}
	return collectHashes(rows)
}

// FindNotCancelledByMakerAndToken returns hashes of live orders whose make
// side references the given token contract.
func (s *OrderStore) FindNotCancelledByMakerAndToken(ctx context.Context, maker common.Address, token common.Address, tokenID *big.Int) ([]common.Hash, error) {
	query := `
		SELECT hash FROM orders
		WHERE maker = $1 AND make_token = $2 AND cancelled = FALSE`
	args := []any{hexAddress(maker), hexAddress(token)}
	if tokenID != nil {
		query += ` AND make_token_id = $3::numeric`
		args = append(args, tokenID.String())
	}
	query += ` ORDER BY hash`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: find orders by maker token: %w", err)
	}
	return collectHashes(rows)
}

// --------------------------------------------------------------------------
// Row mapping.
// --------------------------------------------------------------------------

type orderRow struct {
	hash         string
	maker        string
	taker        *string
	make         []byte
	take         []byte
	makeToken    string
	makeTokenID  *string
	orderType    string
	fill         string
	cancelled    bool
	makeStock    string
	salt         *string
	startAt      *int64
	endAt        *int64
	data         []byte
	nonce        *int64
	signature    []byte
	createdAt    time.Time
	lastUpdateAt time.Time
	pending      []byte
	makePriceUsd *decimal.Decimal
	takePriceUsd *decimal.Decimal
	makeUsd      *decimal.Decimal
	takeUsd      *decimal.Decimal
	priceHistory []byte
	platform     string
}

func orderToRow(o domain.Order) (orderRow, error) {
	makeJSON, err := json.Marshal(o.Make)
	if err != nil {
		return orderRow{}, err
	}
	takeJSON, err := json.Marshal(o.Take)
	if err != nil {
		return orderRow{}, err
	}
	dataJSON, err := domain.MarshalOrderData(o.Data)
	if err != nil {
		return orderRow{}, err
	}
	pendingJSON, err := marshalHistories(o.Pending)
	if err != nil {
		return orderRow{}, err
	}
	historyJSON, err := json.Marshal(o.PriceHistory)
	if err != nil {
		return orderRow{}, err
	}

	row := orderRow{
		hash:         hexHash(o.Hash),
		maker:        hexAddress(o.Maker),
		make:         makeJSON,
		take:         takeJSON,
		makeToken:    hexAddress(domain.TokenOf(o.Make.Type)),
		orderType:    string(o.Type),
		fill:         bigText(o.Fill),
		cancelled:    o.Cancelled,
		makeStock:    bigText(o.MakeStock),
		startAt:      o.Start,
		endAt:        o.End,
		data:         dataJSON,
		nonce:        o.OpenSeaNonce(),
		signature:    o.Signature,
		createdAt:    o.CreatedAt,
		lastUpdateAt: o.LastUpdateAt,
		pending:      pendingJSON,
		makePriceUsd: o.MakePriceUsd,
		takePriceUsd: o.TakePriceUsd,
		makeUsd:      o.MakeUsd,
		takeUsd:      o.TakeUsd,
		priceHistory: historyJSON,
		platform:     string(o.Platform),
	}
	if o.Taker != nil {
		taker := hexAddress(*o.Taker)
		row.taker = &taker
	}
	if id := domain.TokenIDOf(o.Make.Type); id != nil {
		s := id.String()
		row.makeTokenID = &s
	}
	if o.Salt != nil {
		s := o.Salt.String()
		row.salt = &s
	}
	return row, nil
}

func scanOrder(scanner interface{ Scan(dest ...any) error }) (domain.Order, error) {
	var (
		o                     domain.Order
		hash, maker           string
		taker                 *string
		makeJSON, takeJSON    []byte
		orderType, platform   string
		fill, makeStock       string
		salt                  *string
		dataJSON, pendingJSON []byte
		historyJSON           []byte
		usd                   [4]*string
	)

	err := scanner.Scan(
		&hash, &maker, &taker, &makeJSON, &takeJSON,
		&orderType, &fill, &o.Cancelled, &makeStock, &salt,
		&o.Start, &o.End, &dataJSON, &o.Signature,
		&o.CreatedAt, &o.LastUpdateAt, &pendingJSON,
		&usd[0], &usd[1], &usd[2], &usd[3],
		&historyJSON, &platform, &o.DBVersion,
	)
	if err != nil {
		return domain.Order{}, err
	}

	o.Hash = common.HexToHash(hash)
	o.Maker = common.HexToAddress(maker)
	if taker != nil {
		a := common.HexToAddress(*taker)
		o.Taker = &a
	}
	if err := json.Unmarshal(makeJSON, &o.Make); err != nil {
		return domain.Order{}, err
	}
	if err := json.Unmarshal(takeJSON, &o.Take); err != nil {
		return domain.Order{}, err
	}
	o.Type = domain.OrderType(orderType)
	o.Platform = domain.Platform(platform)
	if o.Fill, err = parseBigText(fill); err != nil {
		return domain.Order{}, err
	}
	if o.MakeStock, err = parseBigText(makeStock); err != nil {
		return domain.Order{}, err
	}
	if salt != nil {
		if o.Salt, err = parseBigText(*salt); err != nil {
			return domain.Order{}, err
		}
	}
	if o.Data, err = domain.UnmarshalOrderData(dataJSON); err != nil {
		return domain.Order{}, err
	}
	if o.Pending, err = unmarshalHistories(pendingJSON); err != nil {
		return domain.Order{}, err
	}
	if err := json.Unmarshal(historyJSON, &o.PriceHistory); err != nil {
		return domain.Order{}, err
	}
	if o.MakePriceUsd, err = parseDecimalText(usd[0]); err != nil {
		return domain.Order{}, err
	}
	if o.TakePriceUsd, err = parseDecimalText(usd[1]); err != nil {
		return domain.Order{}, err
	}
	if o.MakeUsd, err = parseDecimalText(usd[2]); err != nil {
		return domain.Order{}, err
	}
	if o.TakeUsd, err = parseDecimalText(usd[3]); err != nil {
		return domain.Order{}, err
	}
	return o, nil
}

func collectHashes(rows pgx.Rows) ([]common.Hash, error) {
	defer rows.Close()
	var hashes []common.Hash
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, fmt.Errorf("postgres: scan hash: %w", err)
		}
		hashes = append(hashes, common.HexToHash(h))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate hashes: %w", err)
	}
	return hashes, nil
}

// Hashes and addresses are stored as lowercase hex so that lexicographic text
// order matches byte order, which the sweep cursor relies on.
func hexHash(h common.Hash) string { return strings.ToLower(h.Hex()) }

func hexAddress(a common.Address) string { return strings.ToLower(a.Hex()) }

func bigText(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func parseBigText(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("postgres: malformed numeric %q", s)
	}
	return v, nil
}

func parseDecimalText(s *string) (*decimal.Decimal, error) {
	if s == nil {
		return nil, nil
	}
	d, err := decimal.NewFromString(*s)
	if err != nil {
		return nil, fmt.Errorf("postgres: malformed decimal %q: %w", *s, err)
	}
	return &d, nil
}

func marshalHistories(hs []domain.ExchangeHistory) ([]byte, error) {
	raw := make([]json.RawMessage, 0, len(hs))
	for _, h := range hs {
		b, err := domain.MarshalExchangeHistory(h)
		if err != nil {
			return nil, err
		}
		raw = append(raw, b)
	}
	return json.Marshal(raw)
}

func unmarshalHistories(data []byte) ([]domain.ExchangeHistory, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, nil
	}
	hs := make([]domain.ExchangeHistory, 0, len(raw))
	for _, r := range raw {
		h, err := domain.UnmarshalExchangeHistory(r)
		if err != nil {
			return nil, err
		}
		hs = append(hs, h)
	}
	return hs, nil
}
