package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ocean5tech/grydemo/internal/domain"
)

// StockLedger is the only writer of product stock quantities. Reserve
// and Restore serialize per product through a row lock, so concurrent
// reservations against the same product never read a stale count;
// different products proceed in parallel.
type StockLedger struct {
	db querier
}

func NewStockLedger(pool *pgxpool.Pool) *StockLedger {
	return &StockLedger{db: pool}
}

// Reserve decrements stock by quantity, failing with a typed
// insufficient-stock error when the locked row holds less than
// requested. Returns the remaining quantity after the decrement.
func (l *StockLedger) Reserve(ctx context.Context, productID string, quantity int32) (int32, error) {
	var available int32
	err := l.db.QueryRow(ctx,
		`SELECT stock_quantity FROM products WHERE id = $1 FOR UPDATE`,
		productID,
	).Scan(&available)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) || isInvalidUUID(err) {
			return 0, domain.ErrProductNotFound
		}
		return 0, fmt.Errorf("lock product %s: %w", productID, err)
	}

	if available < quantity {
		return available, &domain.InsufficientStockError{
			ProductID: productID,
			Available: available,
			Requested: quantity,
		}
	}

	var remaining int32
	err = l.db.QueryRow(ctx,
		`UPDATE products SET stock_quantity = stock_quantity - $2, updated_at = NOW()
		 WHERE id = $1 RETURNING stock_quantity`,
		productID, quantity,
	).Scan(&remaining)
	if err != nil {
		return 0, fmt.Errorf("reserve stock for %s: %w", productID, err)
	}
	return remaining, nil
}

// Restore increments stock by quantity unconditionally; no upper bound
// is enforced.
func (l *StockLedger) Restore(ctx context.Context, productID string, quantity int32) (int32, error) {
	var remaining int32
	err := l.db.QueryRow(ctx,
		`UPDATE products SET stock_quantity = stock_quantity + $2, updated_at = NOW()
		 WHERE id = $1 RETURNING stock_quantity`,
		productID, quantity,
	).Scan(&remaining)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) || isInvalidUUID(err) {
			return 0, domain.ErrProductNotFound
		}
		return 0, fmt.Errorf("restore stock for %s: %w", productID, err)
	}
	return remaining, nil
}
