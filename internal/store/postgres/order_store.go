package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quillfi/orderlock/internal/domain"
)

// OrderStore implements domain.OrderStore using PostgreSQL. Rows are keyed by
// the predicate root, which fully determines the order terms.
type OrderStore struct {
	pool *pgxpool.Pool
}

// NewOrderStore creates a new OrderStore backed by the given connection pool.
func NewOrderStore(pool *pgxpool.Pool) *OrderStore {
	return &OrderStore{pool: pool}
}

// Create inserts the bookkeeping row for a newly deployed order.
func (s *OrderStore) Create(ctx context.Context, rec domain.OrderRecord) error {
	const query = `
		INSERT INTO orders (
			root, side, quote_asset, base_asset,
			quote_decimals, base_decimals, maker,
			price, min_fill_amount, locked_amount, status
		) VALUES (
			$1, $2, $3, $4,
			$5, $6, $7,
			$8, $9, $10, $11
		)`

	_, err := s.pool.Exec(ctx, query,
		rec.Root.Hex(), rec.Side.String(),
		rec.QuoteAsset.Hex(), rec.BaseAsset.Hex(),
		rec.QuoteDecimals, rec.BaseDecimals,
		rec.Maker.Hex(),
		int64(rec.Price), int64(rec.MinFillAmount), int64(rec.LockedAmount),
		string(rec.Status),
	)
	if err != nil {
		return fmt.Errorf("postgres: create order %s: %w", rec.Root.Hex(), err)
	}
	return nil
}

// UpdateStatus changes the lifecycle status of an existing order.
func (s *OrderStore) UpdateStatus(ctx context.Context, root domain.Address, status domain.OrderStatus) error {
	const query = `UPDATE orders SET status = $1, updated_at = NOW() WHERE root = $2`

	tag, err := s.pool.Exec(ctx, query, string(status), root.Hex())
	if err != nil {
		return fmt.Errorf("postgres: update order status %s: %w", root.Hex(), err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// AddLockedAmount increments the running total transferred to the root. Used
// when a maker tops up an existing order; the same root aggregates funds.
func (s *OrderStore) AddLockedAmount(ctx context.Context, root domain.Address, amount uint64) error {
	const query = `UPDATE orders SET locked_amount = locked_amount + $1, updated_at = NOW() WHERE root = $2`

	tag, err := s.pool.Exec(ctx, query, int64(amount), root.Hex())
	if err != nil {
		return fmt.Errorf("postgres: add locked amount %s: %w", root.Hex(), err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

const orderSelectCols = `root, side, quote_asset, base_asset,
	quote_decimals, base_decimals, maker,
	price, min_fill_amount, locked_amount, status,
	created_at, updated_at`

func scanOrderFromRow(
	scanner interface{ Scan(dest ...any) error },
) (domain.OrderRecord, error) {
	var rec domain.OrderRecord
	var root, side, quoteAsset, baseAsset, maker, status string
	var price, minFill, locked int64

	err := scanner.Scan(
		&root, &side, &quoteAsset, &baseAsset,
		&rec.QuoteDecimals, &rec.BaseDecimals, &maker,
		&price, &minFill, &locked, &status,
		&rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return domain.OrderRecord{}, err
	}

	if rec.Root, err = domain.AddressFromHex(root); err != nil {
		return domain.OrderRecord{}, err
	}
	if rec.QuoteAsset, err = domain.AssetIDFromHex(quoteAsset); err != nil {
		return domain.OrderRecord{}, err
	}
	if rec.BaseAsset, err = domain.AssetIDFromHex(baseAsset); err != nil {
		return domain.OrderRecord{}, err
	}
	if rec.Maker, err = domain.AddressFromHex(maker); err != nil {
		return domain.OrderRecord{}, err
	}
	if side == domain.SideSell.String() {
		rec.Side = domain.SideSell
	}
	rec.Price = uint64(price)
	rec.MinFillAmount = uint64(minFill)
	rec.LockedAmount = uint64(locked)
	rec.Status = domain.OrderStatus(status)
	return rec, nil
}

// GetByRoot returns the order deployed at the given predicate root.
func (s *OrderStore) GetByRoot(ctx context.Context, root domain.Address) (domain.OrderRecord, error) {
	query := `SELECT ` + orderSelectCols + ` FROM orders WHERE root = $1`

	row := s.pool.QueryRow(ctx, query, root.Hex())
	rec, err := scanOrderFromRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.OrderRecord{}, domain.ErrNotFound
		}
		return domain.OrderRecord{}, fmt.Errorf("postgres: get order %s: %w", root.Hex(), err)
	}
	return rec, nil
}

// ListOpen returns the maker's orders that are still open or partially
// filled, newest first.
func (s *OrderStore) ListOpen(ctx context.Context, maker domain.Address) ([]domain.OrderRecord, error) {
	query := `SELECT ` + orderSelectCols + `
		FROM orders
		WHERE maker = $1 AND status IN ($2, $3)
		ORDER BY created_at DESC`

	rows, err := s.pool.Query(ctx, query, maker.Hex(),
		string(domain.OrderStatusOpen), string(domain.OrderStatusPartiallyFilled))
	if err != nil {
		return nil, fmt.Errorf("postgres: list open orders: %w", err)
	}
	defer rows.Close()

	var recs []domain.OrderRecord
	for rows.Next() {
		rec, err := scanOrderFromRow(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan order: %w", err)
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list open orders rows: %w", err)
	}
	return recs, nil
}
